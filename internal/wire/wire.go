// Package wire defines the overlay's topic payloads and their msgpack codec.
//
// Payloads are msgpack maps keyed by field name, so a newer peer may add
// fields without breaking older decoders.
package wire

import (
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"dynwol/internal/transport"
)

// Topics carried by the overlay.
const (
	TopicHostInfo       = "host-info"
	TopicHostOccupation = "host-occupation"
)

var ErrInvalidPayload = errors.New("invalid payload")

// HostInfoMessage announces a peer's identity and proves it knows the shared token.
type HostInfoMessage struct {
	TokenHash  string `msgpack:"token_hash"`
	MACAddress []byte `msgpack:"mac_address"`
	Name       string `msgpack:"name"`
}

// MAC returns the announced mac address.
func (m HostInfoMessage) MAC() net.HardwareAddr {
	return net.HardwareAddr(m.MACAddress)
}

// Validate checks the decoded message has the expected shape.
func (m HostInfoMessage) Validate() error {
	if m.TokenHash == "" {
		return fmt.Errorf("%w: missing token_hash", ErrInvalidPayload)
	}
	if len(m.MACAddress) != 6 {
		return fmt.Errorf("%w: mac_address has %d bytes", ErrInvalidPayload, len(m.MACAddress))
	}
	return nil
}

// HostOccupationMessage reports a peer's CPU utilization.
type HostOccupationMessage struct {
	CPUPercentage float32 `msgpack:"cpu_percentage"`
}

// Validate checks the percentage is a number in [0, 100].
func (m HostOccupationMessage) Validate() error {
	p := float64(m.CPUPercentage)
	if math.IsNaN(p) || p < 0 || p > 100 {
		return fmt.Errorf("%w: cpu_percentage %v out of range", ErrInvalidPayload, m.CPUPercentage)
	}
	return nil
}

// Payload is implemented by every topic message.
type Payload interface {
	Validate() error
}

// Encode marshals a payload for publishing.
func Encode(p Payload) ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	return data, nil
}

// Extracted is a decoded message together with the peer that sent it.
type Extracted[T Payload] struct {
	PeerID  transport.PeerID
	Message T
}

// Extract decodes ev as a T if it was published on topic. A topic mismatch
// returns false silently; a payload that fails to decode or validate is
// logged and also returns false.
func Extract[T Payload](ev transport.Event, topic string, log zerolog.Logger) (Extracted[T], bool) {
	var out Extracted[T]
	if ev.Topic != topic {
		return out, false
	}

	var msg T
	if err := msgpack.Unmarshal(ev.Data, &msg); err != nil {
		log.Warn().Err(err).Str("peer", ev.From.Short()).Str("topic", topic).Msg("Could not decode message")
		return out, false
	}
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("peer", ev.From.Short()).Str("topic", topic).Msg("Discarding malformed message")
		return out, false
	}

	out.PeerID = ev.From
	out.Message = msg
	return out, true
}
