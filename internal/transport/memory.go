package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
)

// MemoryHub connects in-process transports. Every publish is delivered
// synchronously to all other joined endpoints subscribed to the topic.
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[PeerID]*Memory
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[PeerID]*Memory)}
}

// Join creates an endpoint with a fresh random identity.
func (h *MemoryHub) Join() (*Memory, error) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return h.JoinAs(PeerIDFromKey(pub)), nil
}

// JoinAs creates an endpoint with a chosen identity and announces it to the
// existing endpoints.
func (h *MemoryHub) JoinAs(id PeerID) *Memory {
	m := &Memory{
		hub:       h,
		self:      id,
		topics:    make(map[string]bool),
		events:    make(chan Event, eventBuffer),
		discovery: make(chan DiscoveryEvent, eventBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, other := range h.endpoints {
		other.announce(DiscoveryEvent{Kind: Discovered, Peer: id})
		m.announce(DiscoveryEvent{Kind: Discovered, Peer: other.self})
	}
	h.endpoints[id] = m
	return m
}

func (h *MemoryHub) leave(id PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.endpoints, id)
	for _, other := range h.endpoints {
		other.announce(DiscoveryEvent{Kind: Expired, Peer: id})
	}
}

func (h *MemoryHub) deliver(from PeerID, topic string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ep := range h.endpoints {
		if id == from || !ep.subscribed(topic) {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case ep.events <- Event{From: from, Topic: topic, Data: cp}:
		default:
		}
	}
}

// Memory is one endpoint on a MemoryHub.
type Memory struct {
	hub  *MemoryHub
	self PeerID

	mu     sync.RWMutex
	topics map[string]bool

	events    chan Event
	discovery chan DiscoveryEvent
	closeOnce sync.Once
}

func (m *Memory) LocalPeerID() PeerID              { return m.self }
func (m *Memory) Events() <-chan Event             { return m.events }
func (m *Memory) Discovery() <-chan DiscoveryEvent { return m.discovery }

func (m *Memory) Subscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics[topic] = true
	return nil
}

func (m *Memory) subscribed(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topics[topic]
}

func (m *Memory) Publish(topic string, data []byte) error {
	m.hub.deliver(m.self, topic, data)
	return nil
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { m.hub.leave(m.self) })
	return nil
}

func (m *Memory) announce(ev DiscoveryEvent) {
	select {
	case m.discovery <- ev:
	default:
	}
}
