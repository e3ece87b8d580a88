package smtp

import (
	"fmt"
	"log"
	"net"
	"sync"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

// Server accepts SMTP connections and runs one session per connection.
type Server struct {
	store    *store.Store
	config   *conf.Config
	relay    Broadcaster
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex
}

// NewServer creates a new SMTP server
func NewServer(st *store.Store, cfg *conf.Config, relay Broadcaster) *Server {
	return &Server{
		store:    st,
		config:   cfg,
		relay:    relay,
		shutdown: make(chan struct{}),
	}
}

// Start binds the configured address and accepts connections until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.SMTP.Address)
	if err != nil {
		return fmt.Errorf("failed to start SMTP listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("SMTP server listening on %s (domain %s)", s.config.SMTP.Address, s.config.Domain)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				log.Println("SMTP server stopped")
				return nil
			default:
				log.Printf("SMTP accept error: %v", err)
				continue
			}
		}

		log.Printf("New SMTP connection from: %s", conn.RemoteAddr())

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection handles a single SMTP connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	session := NewSession(conn, s.store, s.config, s.relay)
	if err := session.Handle(); err != nil {
		log.Printf("SMTP session error from %s: %v", conn.RemoteAddr(), err)
	}

	log.Printf("SMTP connection closed: %s", conn.RemoteAddr())
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.shutdown)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
