package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"pigeon/internal/conf"
	"pigeon/internal/mail"
	"pigeon/internal/store"
)

// Broadcaster relays a completed transaction to foreign domains. The UDP
// relay sender implements it; tests substitute a recorder.
type Broadcaster interface {
	Broadcast(sender, recipient, raw string) error
}

// Session is a per-connection SMTP session. It starts in command mode and
// toggles into data mode between DATA and the lone "." terminator.
type Session struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	store     *store.Store
	config    *conf.Config
	relay     Broadcaster
	sender    string
	recipient string
	data      strings.Builder
	dataMode  bool
}

// NewSession creates a new SMTP session
func NewSession(conn net.Conn, st *store.Store, cfg *conf.Config, relay Broadcaster) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		store:  st,
		config: cfg,
		relay:  relay,
	}
}

// Handle runs the session until the client quits or the connection drops.
func (s *Session) Handle() error {
	if err := s.sendResponse(220, "%s SMTP ready", s.config.Domain); err != nil {
		return err
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if line == "" {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		log.Printf("C: %s", line)

		if s.dataMode {
			s.handleDataLine(line)
			continue
		}

		if quit := s.handleCommand(strings.TrimSpace(line)); quit {
			return nil
		}
	}
}

// handleCommand handles a single command-mode line. It reports whether the
// client asked to end the session.
func (s *Session) handleCommand(line string) bool {
	upper := strings.ToUpper(line)

	switch {
	case strings.HasPrefix(upper, "HELO"), strings.HasPrefix(upper, "EHLO"):
		s.sendResponse(250, "%s Hello", s.config.Domain)

	case strings.HasPrefix(upper, "MAIL FROM:"):
		addr := mail.ExtractAngleAddr(line)
		if addr == "" {
			s.sendResponse(501, "Syntax error in MAIL FROM")
			return false
		}
		s.sender = addr
		s.sendResponse(250, "OK")

	case strings.HasPrefix(upper, "RCPT TO:"):
		addr := mail.ExtractAngleAddr(line)
		if addr == "" {
			s.sendResponse(501, "Syntax error in RCPT TO")
			return false
		}
		s.recipient = addr
		s.sendResponse(250, "OK")

	case upper == "DATA":
		if s.sender == "" || s.recipient == "" {
			s.sendResponse(503, "Need MAIL FROM and RCPT TO before DATA")
			return false
		}
		s.dataMode = true
		s.data.Reset()
		s.sendResponse(354, "End data with <CR><LF>.<CR><LF>")

	case upper == "QUIT":
		s.sendResponse(221, "%s closing connection", s.config.Domain)
		return true

	default:
		s.sendResponse(502, "Command not implemented")
	}

	return false
}

// handleDataLine accumulates one data-mode line, applying dot transparency.
// A line of exactly "." terminates collection and triggers delivery.
func (s *Session) handleDataLine(line string) {
	if line == "." {
		s.dataMode = false
		s.deliver()
		s.sendResponse(250, "Message accepted for delivery")
		// Envelope state never leaks into the next transaction.
		s.sender = ""
		s.recipient = ""
		s.data.Reset()
		return
	}

	if strings.HasPrefix(line, ".") {
		line = line[1:]
	}
	s.data.WriteString(line)
	s.data.WriteString("\n")
}

// deliver routes the buffered message: the local domain goes straight to the
// store, anything else is broadcast over the relay. Delivery problems are
// logged and never surface to the client; the transaction stays accepted.
func (s *Session) deliver() {
	raw := s.data.String()
	domain := mail.Domain(s.recipient)

	if !strings.EqualFold(domain, s.config.Domain) {
		log.Printf("Forwarding message to external domain %s via relay", domain)
		if err := s.relay.Broadcast(s.sender, s.recipient, raw); err != nil {
			log.Printf("Relay broadcast failed: %v", err)
		}
		return
	}

	headers, body := mail.SplitHeadersBody(raw)
	key := mail.ExtractMessageID(headers)
	if key == "" {
		key = mail.SynthesizeMessageID(s.config.Domain)
		log.Printf("No Message-ID found, generated %s", key)
	}

	if err := s.store.Append(key, s.sender, s.recipient, headers, body); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			log.Printf("Duplicate message dropped: %s", key)
		} else {
			log.Printf("Failed to store message: %v", err)
		}
		return
	}

	log.Printf("Message from %s to %s saved to local store", s.sender, s.recipient)
}

// sendResponse sends a numeric-code reply line
func (s *Session) sendResponse(code int, format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)
	response := fmt.Sprintf("%d %s", code, message)

	log.Printf("S: %s", response)

	if _, err := s.writer.WriteString(response + "\r\n"); err != nil {
		return err
	}
	return s.writer.Flush()
}
