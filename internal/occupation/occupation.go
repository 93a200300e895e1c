// Package occupation aggregates CPU utilization reported by registered peers.
package occupation

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"dynwol/internal/sysinfo"
	"dynwol/internal/transport"
	"dynwol/internal/wire"
)

// Enqueuer accepts outbound messages.
type Enqueuer interface {
	Enqueue(topic string, payload []byte) bool
}

// Membership answers whether a peer has authenticated.
type Membership interface {
	IsRegistered(peer transport.PeerID) bool
}

// Aggregator caches the latest occupation sample of every registered peer.
// Samples never expire.
type Aggregator struct {
	members   Membership
	telemetry sysinfo.Telemetry
	log       zerolog.Logger

	mu      sync.RWMutex
	samples map[transport.PeerID]float64
}

// New creates an aggregator that trusts samples only from peers known to members.
func New(members Membership, telemetry sysinfo.Telemetry, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		members:   members,
		telemetry: telemetry,
		log:       log,
		samples:   make(map[transport.PeerID]float64),
	}
}

// Register subscribes to host-occupation and starts broadcasting the local
// CPU utilization every interval until ctx is done.
func (a *Aggregator) Register(ctx context.Context, sub transport.Subscriber, out Enqueuer, interval time.Duration) error {
	if err := sub.Subscribe(wire.TopicHostOccupation); err != nil {
		return err
	}
	go a.broadcastLoop(ctx, out, interval)
	return nil
}

func (a *Aggregator) broadcastLoop(ctx context.Context, out Enqueuer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.broadcast(out)
		}
	}
}

func (a *Aggregator) broadcast(out Enqueuer) {
	cpu, err := a.telemetry.CPUPercentage()
	if err != nil {
		a.log.Error().Err(err).Msg("Could not read cpu utilization, skipping occupation broadcast")
		return
	}

	data, err := wire.Encode(wire.HostOccupationMessage{CPUPercentage: float32(cpu)})
	if err != nil {
		a.log.Error().Err(err).Msg("Could not encode occupation")
		return
	}
	if out.Enqueue(wire.TopicHostOccupation, data) {
		a.log.Debug().Float64("cpu_percentage", cpu).Msg("Occupation queued")
	}
}

// HandleIncoming stores a peer's sample if the peer is registered.
// Occupation is trusted only through the peer's prior host-info authentication.
func (a *Aggregator) HandleIncoming(msg wire.Extracted[wire.HostOccupationMessage]) {
	// Membership is checked before taking our own lock; the two locks are
	// never held together.
	if !a.members.IsRegistered(msg.PeerID) {
		a.log.Warn().
			Str("peer", msg.PeerID.Short()).
			Msg("Got occupation message from non registered peer, ignoring")
		return
	}

	a.mu.Lock()
	a.samples[msg.PeerID] = float64(msg.Message.CPUPercentage)
	a.mu.Unlock()
}

// ComputeAggregate returns the mean of local and every peer sample.
func (a *Aggregator) ComputeAggregate(local float64) float64 {
	a.mu.RLock()
	data := make(stats.Float64Data, 0, len(a.samples)+1)
	data = append(data, local)
	for _, s := range a.samples {
		data = append(data, s)
	}
	a.mu.RUnlock()

	mean, err := stats.Mean(data)
	if err != nil {
		// Unreachable: data always holds the local sample.
		return local
	}
	return mean
}

// Samples returns a copy of the current peer samples.
func (a *Aggregator) Samples() map[transport.PeerID]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[transport.PeerID]float64, len(a.samples))
	for id, s := range a.samples {
		out[id] = s
	}
	return out
}
