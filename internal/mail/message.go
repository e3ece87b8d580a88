// Package mail holds the text-format helpers shared by the SMTP, relay and
// IMAP engines: header/body splitting, address extraction and message key
// handling.
package mail

import (
	"strings"

	"github.com/google/uuid"
)

// HeaderSeparator separates headers from body in an assembled full message,
// as returned by FETCH BODY[] and counted by RFC822.SIZE.
const HeaderSeparator = "\r\n\r\n"

// SplitHeadersBody splits a raw message at the first blank-line boundary.
// Both CRLF and bare LF conventions are accepted; whichever blank line comes
// first wins. With no blank line the whole input is headers and the body is
// empty.
func SplitHeadersBody(raw string) (headers, body string) {
	crlf := strings.Index(raw, "\r\n\r\n")
	lf := strings.Index(raw, "\n\n")

	switch {
	case crlf != -1 && (lf == -1 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf != -1:
		return raw[:lf], raw[lf+2:]
	default:
		return raw, ""
	}
}

// ExtractAngleAddr returns the address between the first '<' and '>' on a
// line, or "" if the brackets are missing or malformed.
func ExtractAngleAddr(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(line[start+1 : end])
}

// ExtractMessageID returns the value of the first Message-ID header line
// (matched case-insensitively) with any angle brackets stripped, or "" if the
// headers carry none.
func ExtractMessageID(headers string) string {
	for _, line := range strings.Split(headers, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(strings.ToUpper(line), "MESSAGE-ID:") {
			if addr := ExtractAngleAddr(line); addr != "" {
				return addr
			}
			return strings.TrimSpace(line[len("MESSAGE-ID:"):])
		}
	}
	return ""
}

// SynthesizeMessageID generates a globally unique message key scoped to a
// domain, for messages that arrive without a Message-ID header.
func SynthesizeMessageID(domain string) string {
	return uuid.NewString() + "@" + domain
}

// Domain returns the domain part of an address, or "" when the address has
// none.
func Domain(addr string) string {
	idx := strings.Index(addr, "@")
	if idx == -1 {
		return ""
	}
	return addr[idx+1:]
}
