package imap

import (
	"errors"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"

	"pigeon/internal/mail"
	"pigeon/internal/store"
)

var literalSizeRE = regexp.MustCompile(`\{(\d+)\}`)

// handleAppend ingests a length-prefixed literal and stores it for the
// recipient named in its headers. A transport failure mid-literal is the only
// error that terminates the session; everything else is reported and the
// session continues.
func (s *Session) handleAppend(tag, raw string) error {
	m := literalSizeRE.FindStringSubmatch(raw)
	if m == nil {
		s.send(tag + " BAD APPEND command requires a literal size like {123}")
		return nil
	}

	size, err := strconv.Atoi(m[1])
	if err != nil {
		s.send(tag + " BAD Invalid literal size in APPEND command")
		return nil
	}

	s.send("+ Ready for literal data")

	// Short reads are normal; accumulate until exactly size bytes arrived.
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		s.send(tag + " BAD Client closed connection during literal transfer")
		return err
	}

	headers, body := mail.SplitHeadersBody(string(buf))

	recipient := recipientFromHeaders(headers)
	if recipient == "" {
		s.send(tag + " NO APPEND failed: could not determine recipient from headers")
		return nil
	}

	key := mail.ExtractMessageID(headers)
	if key == "" {
		domain := mail.Domain(s.loggedInUser)
		if domain == "" {
			domain = s.config.Domain
		}
		key = mail.SynthesizeMessageID(domain)
		log.Printf("No Message-ID found in APPEND, generated %s", key)
	}

	if err := s.store.Append(key, s.loggedInUser, recipient, headers, body); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			// Idempotent: the message is already there.
			log.Printf("Duplicate APPEND dropped: %s", key)
		} else {
			log.Printf("APPEND failed: %v", err)
			s.send(tag + " NO APPEND failed")
			return nil
		}
	}

	s.send(tag + " OK APPEND completed")
	return nil
}

// recipientFromHeaders pulls the recipient from the first To: header line.
// A bracketed address wins; otherwise the remainder of the line is used.
func recipientFromHeaders(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(strings.ToUpper(line), "TO:") {
			continue
		}
		if addr := mail.ExtractAngleAddr(line); addr != "" {
			return addr
		}
		return strings.TrimSpace(line[len("TO:"):])
	}
	return ""
}
