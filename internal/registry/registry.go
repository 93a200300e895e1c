// Package registry keeps the set of authenticated overlay peers.
//
// A peer becomes registered when it sends a host-info message whose token
// hash verifies against the local shared token. Records are overwritten on
// every valid message and never removed.
package registry

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dynwol/internal/sysinfo"
	"dynwol/internal/token"
	"dynwol/internal/transport"
	"dynwol/internal/wire"
)

// Enqueuer accepts outbound messages.
type Enqueuer interface {
	Enqueue(topic string, payload []byte) bool
}

// PeerRecord is what the registry knows about an authenticated peer.
type PeerRecord struct {
	Name       string
	MACAddress net.HardwareAddr
}

// Registry is the authenticated peer cache.
type Registry struct {
	token     string
	telemetry sysinfo.Telemetry
	log       zerolog.Logger

	mu    sync.RWMutex
	peers map[transport.PeerID]PeerRecord
}

// New creates an empty registry that authenticates peers against sharedToken.
func New(sharedToken string, telemetry sysinfo.Telemetry, log zerolog.Logger) *Registry {
	return &Registry{
		token:     sharedToken,
		telemetry: telemetry,
		log:       log,
		peers:     make(map[transport.PeerID]PeerRecord),
	}
}

// Register subscribes to host-info and starts broadcasting this node's info
// every interval until ctx is done.
func (r *Registry) Register(ctx context.Context, sub transport.Subscriber, out Enqueuer, interval time.Duration) error {
	if err := sub.Subscribe(wire.TopicHostInfo); err != nil {
		return err
	}
	go r.broadcastLoop(ctx, out, interval)
	return nil
}

func (r *Registry) broadcastLoop(ctx context.Context, out Enqueuer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.broadcast(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.broadcast(out)
		}
	}
}

// broadcast enqueues one host-info message. Missing telemetry skips the tick.
func (r *Registry) broadcast(out Enqueuer) {
	mac, err := r.telemetry.MACAddress()
	if err != nil {
		r.log.Error().Err(err).Msg("Could not read mac address, skipping host info broadcast")
		return
	}
	name, err := r.telemetry.Hostname()
	if err != nil {
		r.log.Error().Err(err).Msg("Could not read hostname, skipping host info broadcast")
		return
	}

	hash, err := token.Hash(r.token)
	if err != nil {
		r.log.Error().Err(err).Msg("Could not hash token, skipping host info broadcast")
		return
	}

	data, err := wire.Encode(wire.HostInfoMessage{
		TokenHash:  hash,
		MACAddress: mac,
		Name:       name,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("Could not encode host info")
		return
	}

	if out.Enqueue(wire.TopicHostInfo, data) {
		r.log.Debug().Str("name", name).Str("mac", mac.String()).Msg("Host info queued")
	}
}

// HandleIncoming authenticates a host-info message and upserts the sender.
// Messages whose token hash does not verify are logged and discarded.
func (r *Registry) HandleIncoming(msg wire.Extracted[wire.HostInfoMessage]) {
	if err := token.Verify(msg.Message.TokenHash, r.token); err != nil {
		r.log.Warn().
			Err(err).
			Str("peer", msg.PeerID.Short()).
			Msg("Got invalid token in host info message, ignoring")
		return
	}

	record := PeerRecord{
		Name:       msg.Message.Name,
		MACAddress: msg.Message.MAC(),
	}

	r.mu.Lock()
	_, known := r.peers[msg.PeerID]
	r.peers[msg.PeerID] = record
	r.mu.Unlock()

	if !known {
		r.log.Info().
			Str("peer", msg.PeerID.Short()).
			Str("name", record.Name).
			Str("mac", record.MACAddress.String()).
			Msg("Peer registered")
	}
}

// IsRegistered reports whether peer has authenticated.
func (r *Registry) IsRegistered(peer transport.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[peer]
	return ok
}

// Snapshot returns a copy of the current peer records.
func (r *Registry) Snapshot() map[transport.PeerID]PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[transport.PeerID]PeerRecord, len(r.peers))
	for id, rec := range r.peers {
		out[id] = rec
	}
	return out
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
