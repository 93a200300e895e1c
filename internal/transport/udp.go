package transport

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	maxPacketSize = 4096
	eventBuffer   = 256
)

// UDPConfig configures a multicast transport.
type UDPConfig struct {
	Interface        string // empty selects the system default
	MulticastGroup   string
	Port             int
	MaxPacketsPerMin int
	PeerExpiry       time.Duration
}

// UDP is a Transport over IPv4 multicast on the local segment.
type UDP struct {
	conn  *net.UDPConn
	group *net.UDPAddr
	key   ed25519.PrivateKey
	self  PeerID
	cfg   UDPConfig
	log   zerolog.Logger

	seq atomic.Uint64

	mu     sync.RWMutex
	topics map[string]bool

	events    chan Event
	discovery chan DiscoveryEvent
	peers     *presence
	limiter   *rateTracker // receive goroutine only
	done      chan struct{}
	closeOnce sync.Once
}

// ListenUDP joins the multicast group and starts the receive loop.
func ListenUDP(cfg UDPConfig, key ed25519.PrivateKey, log zerolog.Logger) (*UDP, error) {
	groupIP := net.ParseIP(cfg.MulticastGroup)
	if groupIP == nil || groupIP.To4() == nil || !groupIP.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group: %s", cfg.MulticastGroup)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("finding interface %s: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("listening on UDP port %d: %w", cfg.Port, err)
	}

	group := &net.UDPAddr{IP: groupIP, Port: cfg.Port}

	// ipv4.PacketConn is used for multicast control
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(iface, group); err != nil {
		conn.Close()
		return nil, fmt.Errorf("joining multicast group %s: %w", group, err)
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			log.Warn().Err(err).Msg("Failed to set multicast interface")
		}
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		log.Warn().Err(err).Msg("Failed to set multicast TTL")
	}
	// Loopback on so several nodes on one host hear each other; own
	// envelopes are filtered by sender key.
	if err := pc.SetMulticastLoopback(true); err != nil {
		log.Warn().Err(err).Msg("Failed to enable multicast loopback")
	}
	if err := conn.SetReadBuffer(maxPacketSize * 16); err != nil {
		log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	u := newUDP(cfg, key, log)
	u.conn = conn
	u.group = group

	log.Info().
		Str("interface", cfg.Interface).
		Str("multicast_group", group.String()).
		Str("peer_id", string(u.self)).
		Msg("Multicast transport started")

	go u.receive()
	go u.sweep()
	return u, nil
}

// newUDP builds the transport state around key, without any socket.
func newUDP(cfg UDPConfig, key ed25519.PrivateKey, log zerolog.Logger) *UDP {
	if cfg.MaxPacketsPerMin <= 0 {
		cfg.MaxPacketsPerMin = 240
	}
	if cfg.PeerExpiry <= 0 {
		cfg.PeerExpiry = 30 * time.Second
	}
	return &UDP{
		key:       key,
		self:      PeerIDFromKey(key.Public().(ed25519.PublicKey)),
		cfg:       cfg,
		log:       log,
		topics:    make(map[string]bool),
		events:    make(chan Event, eventBuffer),
		discovery: make(chan DiscoveryEvent, eventBuffer),
		peers:     newPresence(),
		limiter:   newRateTracker(cfg.MaxPacketsPerMin, time.Now()),
		done:      make(chan struct{}),
	}
}

// LocalPeerID returns this node's identity.
func (u *UDP) LocalPeerID() PeerID { return u.self }

// Events returns the inbound message stream.
func (u *UDP) Events() <-chan Event { return u.events }

// Discovery returns peer presence changes.
func (u *UDP) Discovery() <-chan DiscoveryEvent { return u.discovery }

// PeerCount returns the number of peers currently heard from.
func (u *UDP) PeerCount() int { return u.peers.count() }

// Subscribe starts delivering inbound messages on topic.
func (u *UDP) Subscribe(topic string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.topics[topic] = true
	return nil
}

func (u *UDP) subscribed(topic string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.topics[topic]
}

// Publish signs data and sends it to the multicast group.
func (u *UDP) Publish(topic string, data []byte) error {
	packet, err := seal(u.key, topic, u.seq.Add(1), data)
	if err != nil {
		return err
	}
	if len(packet) > maxPacketSize {
		return fmt.Errorf("packet of %d bytes exceeds %d", len(packet), maxPacketSize)
	}
	if _, err := u.conn.WriteToUDP(packet, u.group); err != nil {
		return fmt.Errorf("writing packet to %s: %w", u.group, err)
	}

	u.log.Debug().
		Str("topic", topic).
		Int("bytes", len(packet)).
		Msg("Message published")
	return nil
}

// Close leaves the group and stops the receive loop.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = u.conn.Close()
	})
	return err
}

func (u *UDP) receive() {
	buf := make([]byte, maxPacketSize)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		ev, ok := u.handlePacket(buf[:n], src, time.Now())
		if !ok {
			continue
		}
		select {
		case u.events <- ev:
		case <-u.done:
			return
		}
	}
}

// handlePacket runs one datagram through the rate limit, signature check,
// self filter, presence tracking and subscription filter. It reports the
// event to deliver, if any. The returned Data does not alias packet.
func (u *UDP) handlePacket(packet []byte, src *net.UDPAddr, now time.Time) (Event, bool) {
	srcIP := src.IP.String()
	if !u.limiter.allow(srcIP, now) {
		u.log.Warn().Str("src_ip", srcIP).Msg("Rate limit exceeded, dropping packet")
		return Event{}, false
	}

	env, err := open(packet)
	if err != nil {
		u.log.Warn().Err(err).Str("src_ip", srcIP).Msg("Discarding packet")
		return Event{}, false
	}

	from := PeerIDFromKey(env.From)
	if from == u.self {
		return Event{}, false
	}
	if u.peers.seen(from, now) {
		u.notify(DiscoveryEvent{Kind: Discovered, Peer: from})
	}
	if !u.subscribed(env.Topic) {
		return Event{}, false
	}
	return Event{From: from, Topic: env.Topic, Data: env.Data}, true
}

func (u *UDP) sweep() {
	ticker := time.NewTicker(u.cfg.PeerExpiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-u.done:
			return
		case now := <-ticker.C:
			for _, peer := range u.peers.expire(now.Add(-u.cfg.PeerExpiry)) {
				u.notify(DiscoveryEvent{Kind: Expired, Peer: peer})
			}
		}
	}
}

func (u *UDP) notify(ev DiscoveryEvent) {
	select {
	case u.discovery <- ev:
	default:
		u.log.Debug().Str("peer", string(ev.Peer)).Msg("Discovery event dropped")
	}
}
