package relay

import (
	"errors"
	"fmt"
	"strings"

	"pigeon/internal/mail"
)

// MaxPacketSize is the largest datagram the relay sends or receives.
const MaxPacketSize = 1500

// Delivery is the result of parsing an inbound relay packet: a message ready
// to be appended to the local store.
type Delivery struct {
	MessageKey string
	Sender     string
	Recipient  string
	Headers    string
	Body       string
}

// BuildPacket frames an outbound relay packet as a textual SMTP transaction:
// envelope lines, a DATA marker, then the raw message content.
func BuildPacket(sender, recipient, raw string) []byte {
	var b strings.Builder
	b.WriteString("MAIL FROM:<" + sender + ">\n")
	b.WriteString("RCPT TO:<" + recipient + ">\n")
	b.WriteString("DATA\n")
	b.WriteString(raw)
	return []byte(b.String())
}

// ParsePacket decodes an inbound relay packet. Every node on the segment
// receives every broadcast; packets whose recipient is missing or not in
// localDomain are rejected here and the caller discards them. The returned
// error names the discard reason for logging.
func ParsePacket(data []byte, localDomain string) (*Delivery, error) {
	msg := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(msg, "\n")

	recipient := extractEnvelopeField(lines, "RCPT TO:")
	if recipient == "" {
		return nil, errors.New("no recipient in packet")
	}
	if !strings.HasSuffix(strings.ToLower(recipient), "@"+strings.ToLower(localDomain)) {
		return nil, fmt.Errorf("recipient %s not for local domain %s", recipient, localDomain)
	}

	sender := extractEnvelopeField(lines, "MAIL FROM:")
	if sender == "" {
		return nil, errors.New("no sender in packet")
	}

	// Content is everything after a line that is exactly DATA, up to a line
	// that is exactly "." or the end of the packet.
	var content strings.Builder
	inData := false
	for _, line := range lines {
		if inData {
			if line == "." {
				break
			}
			content.WriteString(line)
			content.WriteString("\n")
		} else if strings.ToUpper(line) == "DATA" {
			inData = true
		}
	}

	headers, body := mail.SplitHeadersBody(content.String())
	headers = strings.TrimSpace(headers)
	body = strings.TrimSpace(body)
	if headers == "" && body == "" {
		return nil, errors.New("no parsable content in packet")
	}

	key := mail.ExtractMessageID(headers)
	if key == "" {
		key = mail.SynthesizeMessageID(localDomain)
	}

	return &Delivery{
		MessageKey: key,
		Sender:     sender,
		Recipient:  recipient,
		Headers:    headers,
		Body:       body,
	}, nil
}

// extractEnvelopeField finds the first line whose case-insensitive prefix
// matches field and pulls the angle-bracketed address from it.
func extractEnvelopeField(lines []string, field string) string {
	for _, line := range lines {
		if strings.HasPrefix(strings.ToUpper(line), field) {
			return mail.ExtractAngleAddr(line)
		}
	}
	return ""
}
