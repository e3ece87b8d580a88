package imap

import (
	"fmt"
	"log"
	"net"
	"sync"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

// Server accepts IMAP connections and runs one session per connection. All
// message reads go through the shared store; sessions share nothing else.
type Server struct {
	store    *store.Store
	config   *conf.Config
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex
}

// NewServer creates a new IMAP server
func NewServer(st *store.Store, cfg *conf.Config) *Server {
	return &Server{
		store:    st,
		config:   cfg,
		shutdown: make(chan struct{}),
	}
}

// Start binds the configured address and accepts connections until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.IMAP.Address)
	if err != nil {
		return fmt.Errorf("failed to start IMAP listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("IMAP server listening on %s", s.config.IMAP.Address)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				log.Println("IMAP server stopped")
				return nil
			default:
				log.Printf("IMAP accept error: %v", err)
				continue
			}
		}

		log.Printf("New IMAP connection from: %s", conn.RemoteAddr())

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

// handleConnection handles a single IMAP connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	session := NewSession(conn, s.store, s.config)
	if err := session.Handle(); err != nil {
		log.Printf("IMAP session error from %s: %v", conn.RemoteAddr(), err)
	}

	log.Printf("IMAP connection closed: %s", conn.RemoteAddr())
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
