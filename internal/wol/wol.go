// Package wol sends Wake-on-LAN magic packets.
package wol

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"
)

// PacketSize is the length of a magic packet without SecureOn password.
const PacketSize = 6 + 16*6

// MagicPacket returns six 0xFF bytes followed by sixteen copies of mac.
func MagicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("mac address %s is not 6 bytes", mac)
	}
	var buf bytes.Buffer
	buf.Grow(PacketSize)
	buf.Write(bytes.Repeat([]byte{0xff}, 6))
	for i := 0; i < 16; i++ {
		buf.Write(mac)
	}
	return buf.Bytes(), nil
}

// Sender transmits magic packets to a UDP address, normally the limited
// broadcast address on port 9.
type Sender struct {
	Address string
	Timeout time.Duration
}

// NewSender returns a Sender for addr.
func NewSender(addr string) *Sender {
	return &Sender{Address: addr, Timeout: 2 * time.Second}
}

// SendWake broadcasts one magic packet for mac.
func (s *Sender) SendWake(mac net.HardwareAddr) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	d := net.Dialer{Control: broadcastControl}
	conn, err := d.DialContext(ctx, "udp4", s.Address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.Address, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.Timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("writing magic packet to %s: %w", s.Address, err)
	}
	return nil
}
