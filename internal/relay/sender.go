package relay

import (
	"fmt"
	"log"
	"net"
)

// Sender broadcasts outbound relay packets. Delivery is fire-and-forget:
// there is no acknowledgement, retry or confirmation.
type Sender struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

// NewSender opens a UDP socket aimed at the broadcast address and relay port.
func NewSender(broadcast string, port int) (*Sender, error) {
	ip := net.ParseIP(broadcast)
	if ip == nil {
		return nil, fmt.Errorf("invalid broadcast address: %s", broadcast)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay socket: %w", err)
	}

	return &Sender{
		conn: conn,
		addr: &net.UDPAddr{IP: ip, Port: port},
	}, nil
}

// Broadcast frames and sends one relay packet for a message bound to a
// foreign domain.
func (s *Sender) Broadcast(sender, recipient, raw string) error {
	packet := BuildPacket(sender, recipient, raw)
	if len(packet) > MaxPacketSize {
		return fmt.Errorf("message too large for relay packet: %d bytes", len(packet))
	}

	if _, err := s.conn.WriteToUDP(packet, s.addr); err != nil {
		return fmt.Errorf("failed to send relay packet: %w", err)
	}

	log.Printf("Relay packet for %s sent to %s", recipient, s.addr)
	return nil
}

// Close closes the relay socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
