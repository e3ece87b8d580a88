package relay

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestNewSenderInvalidAddress(t *testing.T) {
	if _, err := NewSender("not an ip", 345); err == nil {
		t.Error("Expected error for invalid broadcast address")
	}
}

func TestBroadcastDelivers(t *testing.T) {
	// A loopback listener stands in for the broadcast segment.
	listener, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open listener: %v", err)
	}
	defer func() { _ = listener.Close() }()

	port := listener.LocalAddr().(*net.UDPAddr).Port

	sender, err := NewSender("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer func() { _ = sender.Close() }()

	if err := sender.Broadcast("a@npc.com", "b@remote.org", "Subject: hi\n\nhello\n"); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	_ = listener.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, MaxPacketSize)
	n, _, err := listener.ReadFrom(buf)
	if err != nil {
		t.Fatalf("Failed to receive packet: %v", err)
	}

	packet := string(buf[:n])
	if !strings.Contains(packet, "MAIL FROM:<a@npc.com>") {
		t.Errorf("Missing sender envelope in packet: %q", packet)
	}
	if !strings.Contains(packet, "RCPT TO:<b@remote.org>") {
		t.Errorf("Missing recipient envelope in packet: %q", packet)
	}
	if !strings.Contains(packet, "hello") {
		t.Errorf("Missing content in packet: %q", packet)
	}
}

func TestBroadcastOversized(t *testing.T) {
	sender, err := NewSender("127.0.0.1", 345)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}
	defer func() { _ = sender.Close() }()

	big := strings.Repeat("x", MaxPacketSize+1)
	if err := sender.Broadcast("a@npc.com", "b@remote.org", big); err == nil {
		t.Error("Expected error for oversized message")
	}
}
