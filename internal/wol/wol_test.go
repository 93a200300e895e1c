package wol

import (
	"bytes"
	"net"
	"testing"
	"time"
)

var testMAC = net.HardwareAddr{0x01, 0x23, 0x45, 0x67, 0x89, 0xab}

func TestMagicPacket(t *testing.T) {
	packet, err := MagicPacket(testMAC)
	if err != nil {
		t.Fatalf("MagicPacket: %v", err)
	}
	if len(packet) != PacketSize {
		t.Fatalf("length: got %d, want %d", len(packet), PacketSize)
	}
	if !bytes.Equal(packet[:6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("header: got %x", packet[:6])
	}
	for i := 0; i < 16; i++ {
		chunk := packet[6+i*6 : 12+i*6]
		if !bytes.Equal(chunk, testMAC) {
			t.Fatalf("repetition %d: got %x, want %x", i, chunk, []byte(testMAC))
		}
	}
}

func TestMagicPacket_BadMAC(t *testing.T) {
	if _, err := MagicPacket(net.HardwareAddr{1, 2, 3}); err == nil {
		t.Error("expected error for short mac")
	}
}

func TestSendWake_Loopback(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	s := NewSender(conn.LocalAddr().String())
	if err := s.SendWake(testMAC); err != nil {
		t.Fatalf("SendWake: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := MagicPacket(testMAC)
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("received %x, want %x", buf[:n], want)
	}
}
