package imap

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

// Session is a per-connection IMAP session. It moves from not-authenticated
// through authenticated to selected; the selected state is the snapshot taken
// at SELECT time. There is a single mailbox, INBOX.
type Session struct {
	conn          net.Conn
	reader        *bufio.Reader
	store         *store.Store
	config        *conf.Config
	authenticated bool
	loggedInUser  string
	snapshot      []int64
}

// NewSession creates a new IMAP session
func NewSession(conn net.Conn, st *store.Store, cfg *conf.Config) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		store:  st,
		config: cfg,
	}
}

// Handle runs the session until the client logs out or the connection drops.
func (s *Session) Handle() error {
	s.send("* OK IMAP server ready")

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if line == "" {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		log.Printf("C: %s", line)

		parts := strings.Fields(line)
		if len(parts) < 2 {
			s.send("* BAD Invalid command format")
			continue
		}

		tag := parts[0]
		cmd := strings.ToUpper(parts[1])

		switch cmd {
		case "CAPABILITY":
			s.send("* CAPABILITY IMAP4rev1")
			s.send(tag + " OK CAPABILITY completed")

		case "LOGIN":
			s.handleLogin(tag, parts)

		case "LOGOUT":
			s.send("* BYE IMAP server logging out")
			s.send(tag + " OK LOGOUT completed")
			return nil

		default:
			if !s.authenticated {
				s.send(tag + " BAD Please login first")
				continue
			}

			switch cmd {
			case "LIST", "LSUB", "SUBSCRIBE":
				s.send(`* LIST (\HasNoChildren) "/" "INBOX"`)
				s.send(fmt.Sprintf("%s OK %s completed", tag, cmd))

			case "CREATE":
				// Only INBOX is ever selectable; CREATE succeeds as a no-op.
				s.send(tag + " OK CREATE completed")

			case "SELECT":
				s.handleSelect(tag, parts)

			case "NOOP":
				s.send(tag + " OK NOOP completed")

			case "FETCH", "UID":
				s.handleFetch(tag, line)

			case "APPEND":
				if err := s.handleAppend(tag, line); err != nil {
					return err
				}

			default:
				s.send(tag + " BAD Command not implemented")
			}
		}
	}
}

// handleLogin authenticates against the store. Credentials may be quoted.
func (s *Session) handleLogin(tag string, parts []string) {
	if len(parts) < 4 {
		s.send(tag + " BAD Invalid LOGIN command")
		return
	}

	username := strings.Trim(parts[2], `"`)
	password := strings.Trim(parts[3], `"`)

	ok, err := s.store.Authenticate(username, password)
	if err != nil {
		log.Printf("Authentication error for %s: %v", username, err)
		s.send(tag + " NO LOGIN failed")
		return
	}
	if !ok {
		s.send(tag + " NO LOGIN failed")
		return
	}

	s.authenticated = true
	s.loggedInUser = username
	s.send(tag + " OK LOGIN successful")
}

// handleSelect snapshots the mailbox. The snapshot is frozen until the next
// SELECT: messages arriving afterwards stay invisible to this session.
func (s *Session) handleSelect(tag string, parts []string) {
	if len(parts) < 3 || !strings.EqualFold(strings.Trim(parts[2], `"`), "INBOX") {
		s.send(tag + " NO No such mailbox")
		return
	}

	ids, err := s.store.IDsFor(s.loggedInUser)
	if err != nil {
		log.Printf("SELECT failed for %s: %v", s.loggedInUser, err)
		s.send(tag + " NO SELECT failed")
		return
	}

	s.snapshot = ids
	s.send(fmt.Sprintf("* %d EXISTS", len(ids)))
	s.send("* 0 RECENT")
	s.send(`* FLAGS (\Seen)`)
	s.send(tag + " OK [READ-WRITE] SELECT completed")
}

func (s *Session) send(response string) {
	log.Printf("S: %s", response)
	if _, err := s.conn.Write([]byte(response + "\r\n")); err != nil {
		log.Printf("Write error: %v", err)
	}
}
