package imap

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"pigeon/internal/mail"
)

// handleFetch implements FETCH and UID FETCH. Numbers that resolve to nothing
// (bad token, out-of-range sequence, absent id) are skipped silently; the
// command as a whole still completes.
func (s *Session) handleFetch(tag, raw string) {
	fields := strings.Fields(raw)
	isUIDFetch := len(fields) > 1 && strings.EqualFold(fields[1], "UID")

	upper := strings.ToUpper(raw)
	fetchIdx := strings.Index(upper, "FETCH")
	if fetchIdx == -1 {
		s.send(tag + " BAD Malformed FETCH command")
		return
	}
	commandBody := strings.TrimSpace(raw[fetchIdx+len("FETCH"):])

	openParen := strings.Index(commandBody, "(")
	closeParen := strings.LastIndex(commandBody, ")")
	if openParen == -1 || closeParen == -1 || openParen > closeParen {
		s.send(tag + " BAD Malformed FETCH command: Missing parentheses")
		return
	}

	messageSet := strings.TrimSpace(commandBody[:openParen])
	attrs := strings.ToUpper(commandBody[openParen+1 : closeParen])

	for _, number := range s.resolveMessageSet(messageSet, isUIDFetch) {
		var id int64
		var seq int

		if isUIDFetch {
			id = number
			pos := s.snapshotIndex(id)
			if pos == -1 {
				continue
			}
			seq = pos + 1
		} else {
			seq = int(number)
			if seq <= 0 || seq > len(s.snapshot) {
				continue
			}
			id = s.snapshot[seq-1]
		}

		headers, body, ok, err := s.store.Fetch(id)
		if err != nil {
			log.Printf("FETCH failed for message %d: %v", id, err)
			continue
		}
		if !ok {
			continue
		}

		s.sendFetchResponse(seq, id, headers, body, attrs, isUIDFetch)
	}

	s.send(tag + " OK FETCH completed")
}

// sendFetchResponse assembles one untagged FETCH line for a resolved message.
// At most one literal part is included, chosen header-first.
func (s *Session) sendFetchResponse(seq int, id int64, headers, body, attrs string, isUIDFetch bool) {
	fullMessage := headers + mail.HeaderSeparator + body

	var items []string
	// UID is always reported for a UID fetch, and on request otherwise.
	if isUIDFetch || strings.Contains(attrs, "UID") {
		items = append(items, fmt.Sprintf("UID %d", id))
	}
	if strings.Contains(attrs, "FLAGS") {
		items = append(items, `FLAGS (\Seen)`)
	}
	if strings.Contains(attrs, "RFC822.SIZE") {
		items = append(items, fmt.Sprintf("RFC822.SIZE %d", len(fullMessage)))
	}

	var literalName, literal string
	switch {
	case strings.Contains(attrs, "HEADER.FIELDS"),
		strings.Contains(attrs, "BODY.PEEK[HEADER]"),
		strings.Contains(attrs, "BODY[HEADER]"):
		literalName, literal = "BODY[HEADER]", headers
	case strings.Contains(attrs, "BODY.PEEK[TEXT]"),
		strings.Contains(attrs, "BODY[TEXT]"):
		literalName, literal = "BODY[TEXT]", body
	case strings.Contains(attrs, "BODY[]"), hasToken(attrs, "RFC822"):
		literalName, literal = "BODY[]", fullMessage
	}

	response := fmt.Sprintf("* %d FETCH (%s", seq, strings.Join(items, " "))

	if literalName == "" {
		s.send(response + ")")
		return
	}

	if len(items) > 0 {
		response += " "
	}
	response += fmt.Sprintf("%s {%d}", literalName, len(literal))
	s.send(response)
	s.send(literal)
	s.send(")")
}

// resolveMessageSet expands a message-set specifier into numbers. In UID mode
// "*" means the highest UID in the snapshot; in sequence mode the highest
// sequence number. On an empty snapshot "*" resolves to nothing.
func (s *Session) resolveMessageSet(set string, isUIDFetch bool) []int64 {
	var max int64
	if len(s.snapshot) > 0 {
		if isUIDFetch {
			max = s.snapshot[len(s.snapshot)-1]
		} else {
			max = int64(len(s.snapshot))
		}
	}

	var numbers []int64
	for _, token := range strings.Split(set, ",") {
		token = strings.TrimSpace(token)

		if strings.Contains(token, ":") {
			bounds := strings.SplitN(token, ":", 2)
			start, ok1 := parseSetNumber(bounds[0], max)
			end, ok2 := parseSetNumber(bounds[1], max)
			if !ok1 || !ok2 {
				log.Printf("Could not parse message range: %s", token)
				continue
			}
			if start > end {
				start, end = end, start
			}
			for i := start; i <= end; i++ {
				numbers = append(numbers, i)
			}
			continue
		}

		n, ok := parseSetNumber(token, max)
		if !ok {
			log.Printf("Could not parse message number: %s", token)
			continue
		}
		if n > 0 {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

func parseSetNumber(token string, max int64) (int64, bool) {
	if token == "*" {
		return max, true
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Session) snapshotIndex(id int64) int {
	for i, v := range s.snapshot {
		if v == id {
			return i
		}
	}
	return -1
}

// hasToken checks for an exact whitespace-separated token, so RFC822 does not
// match RFC822.SIZE.
func hasToken(attrs, token string) bool {
	for _, f := range strings.Fields(attrs) {
		if f == token {
			return true
		}
	}
	return false
}
