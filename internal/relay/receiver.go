package relay

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

// Receiver listens on the relay port, filters broadcasts by the local domain
// and appends matching messages to the store. Packets are dispatched to a
// bounded worker pool; processing order across packets is not guaranteed.
type Receiver struct {
	store    *store.Store
	config   *conf.Config
	conn     net.PacketConn
	jobs     chan []byte
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex
}

// NewReceiver creates a new relay receiver backed by the given store.
func NewReceiver(st *store.Store, cfg *conf.Config) *Receiver {
	return &Receiver{
		store:    st,
		config:   cfg,
		shutdown: make(chan struct{}),
	}
}

// Start binds the relay port and processes packets until Shutdown. It blocks
// for the lifetime of the listener.
func (r *Receiver) Start() error {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", r.config.Relay.Port))
	if err != nil {
		return fmt.Errorf("failed to bind relay port: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.jobs = make(chan []byte, r.config.Relay.Workers)
	r.mu.Unlock()

	log.Printf("Relay receiver listening on port %d (domain %s)", r.config.Relay.Port, r.config.Domain)

	for i := 0; i < r.config.Relay.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.shutdown:
				close(r.jobs)
				r.wg.Wait()
				log.Println("Relay receiver stopped")
				return nil
			default:
				log.Printf("Relay read error: %v", err)
				continue
			}
		}

		log.Printf("Relay packet received from %s (%d bytes)", addr, n)

		packet := make([]byte, n)
		copy(packet, buf[:n])
		r.jobs <- packet
	}
}

// worker drains the packet queue. Each packet is handled independently.
func (r *Receiver) worker() {
	defer r.wg.Done()
	for packet := range r.jobs {
		r.HandlePacket(packet)
	}
}

// HandlePacket parses one relay packet and appends it to the local store.
// Malformed or mis-addressed packets are dropped after logging; a duplicate
// message key is an idempotent no-op.
func (r *Receiver) HandlePacket(data []byte) {
	delivery, err := ParsePacket(data, r.config.Domain)
	if err != nil {
		log.Printf("Ignoring relay packet: %v", err)
		return
	}

	if err := r.store.Append(delivery.MessageKey, delivery.Sender, delivery.Recipient, delivery.Headers, delivery.Body); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			log.Printf("Duplicate relay delivery dropped: %s", delivery.MessageKey)
		} else {
			log.Printf("Failed to store relayed message: %v", err)
		}
		return
	}

	log.Printf("Message from %s to %s saved via relay", delivery.Sender, delivery.Recipient)
}

// Shutdown stops the listener and waits for in-flight packets to finish.
func (r *Receiver) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	close(r.shutdown)
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
