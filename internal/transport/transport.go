// Package transport carries topic-tagged messages between overlay peers.
//
// A Transport delivers every published message to all subscribed peers and
// reports which peer sent each inbound message. Peers are identified by their
// ed25519 public key; envelopes are signed so the sender identity handed to
// the rest of the node cannot be forged by another LAN host.
package transport

import (
	"crypto/ed25519"
	"encoding/hex"
)

// PeerID identifies an overlay peer: the lowercase hex of its ed25519 public key.
type PeerID string

// PeerIDFromKey derives the PeerID of a public key.
func PeerIDFromKey(pub ed25519.PublicKey) PeerID {
	return PeerID(hex.EncodeToString(pub))
}

// Short returns an abbreviated form for logs and tables.
func (p PeerID) Short() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[:12])
}

// Event is an inbound message on a subscribed topic.
type Event struct {
	From  PeerID
	Topic string
	Data  []byte
}

// DiscoveryKind says whether a peer appeared or went silent.
type DiscoveryKind int

const (
	Discovered DiscoveryKind = iota + 1
	Expired
)

func (k DiscoveryKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// DiscoveryEvent reports a change in the set of peers the transport hears from.
type DiscoveryEvent struct {
	Kind DiscoveryKind
	Peer PeerID
}

// Subscriber registers interest in a topic.
type Subscriber interface {
	Subscribe(topic string) error
}

// Publisher sends a payload to every peer subscribed to topic.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// Transport is the overlay's pub/sub capability. Within a node only the
// outbound publisher calls Publish.
type Transport interface {
	Subscriber
	Publisher
	Events() <-chan Event
	Discovery() <-chan DiscoveryEvent
	LocalPeerID() PeerID
	Close() error
}
