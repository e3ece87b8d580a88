package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateKey is returned by Append when the message key is already
	// stored. Callers treat it as a delivered no-op, never as a session error.
	ErrDuplicateKey = errors.New("message key already exists")

	// ErrDuplicateAccount is returned by CreateAccount for an existing username.
	ErrDuplicateAccount = errors.New("account already exists")
)

// Store is the single source of truth shared by the SMTP, relay and IMAP
// engines. Every operation runs under one mutex, so store calls are totally
// ordered and a reader never observes a partially written message.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the store at the given SQLite path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	messageSchema := `
	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		message_key TEXT NOT NULL UNIQUE,
		sender      TEXT NOT NULL,
		recipient   TEXT NOT NULL,
		headers     TEXT,
		body        TEXT,
		received_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(messageSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	accountSchema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL
	);
	`
	if _, err := db.Exec(accountSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create accounts table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateAccount creates a new account. Accounts are created out-of-band;
// authentication never creates one implicitly.
func (s *Store) CreateAccount(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT INTO accounts (username, password) VALUES (?, ?)", username, password)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAccount
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Authenticate checks a username/password pair by plain equality. A missing
// account and a wrong password are indistinguishable to the caller.
func (s *Store) Authenticate(username, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored string
	err := s.db.QueryRow("SELECT password FROM accounts WHERE username = ?", username).Scan(&stored)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to authenticate: %w", err)
	}
	return stored == password, nil
}

// Append stores a message. The message key is unique across the store; a
// duplicate insert is reported via ErrDuplicateKey and dropped.
func (s *Store) Append(messageKey, sender, recipient, headers, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO messages (message_key, sender, recipient, headers, body) VALUES (?, ?, ?, ?, ?)",
		messageKey, sender, recipient, headers, body,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

// CountFor returns the number of messages addressed to a recipient.
func (s *Store) CountFor(recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE recipient = ?", recipient).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// IDsFor returns the ids of all messages addressed to a recipient, ascending
// by receive time. The id is used as a tiebreaker so the order stays total
// when timestamps collide.
func (s *Store) IDsFor(recipient string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id FROM messages WHERE recipient = ? ORDER BY received_at ASC, id ASC",
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

// Fetch returns the headers and body of a stored message. ok is false when
// the id is absent.
func (s *Store) Fetch(id int64) (headers, body string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h, b sql.NullString
	err = s.db.QueryRow("SELECT headers, body FROM messages WHERE id = ?", id).Scan(&h, &b)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("failed to fetch message: %w", err)
	}
	return h.String, b.String, true, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
