// Package decision runs the leaderless wake decision.
//
// Every node evaluates the same condition on its own view of the cluster.
// When the aggregate occupation exceeds the threshold, only the node whose
// peer id sorts lowest among the peers it knows acts. Views converge through
// gossip, so two nodes may occasionally both believe they hold the minimum
// and wake a host each; that is accepted rather than prevented.
package decision

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"dynwol/internal/registry"
	"dynwol/internal/sysinfo"
	"dynwol/internal/transport"
)

// Target is a configured machine the cluster may wake.
type Target struct {
	Name       string
	MACAddress net.HardwareAddr
}

// Occupation is the aggregator view the loop reads.
type Occupation interface {
	ComputeAggregate(local float64) float64
}

// Peers is the registry view the loop reads.
type Peers interface {
	Snapshot() map[transport.PeerID]registry.PeerRecord
}

// Waker sends the wake signal to a machine.
type Waker interface {
	SendWake(mac net.HardwareAddr) error
}

// Attempt describes one issued wake directive.
type Attempt struct {
	At        time.Time
	Target    Target
	Aggregate float64
	Err       error
}

// Journal records wake attempts. It may be nil.
type Journal interface {
	RecordWake(a Attempt) error
}

// Outcome is the result of one evaluation.
type Outcome int

const (
	BelowThreshold Outcome = iota
	TelemetryUnavailable
	StoodDown
	NoCandidates
	WakeFailed
	WakeSent
)

func (o Outcome) String() string {
	switch o {
	case BelowThreshold:
		return "below_threshold"
	case TelemetryUnavailable:
		return "telemetry_unavailable"
	case StoodDown:
		return "stood_down"
	case NoCandidates:
		return "no_candidates"
	case WakeFailed:
		return "wake_failed"
	case WakeSent:
		return "wake_sent"
	default:
		return "unknown"
	}
}

// Loop evaluates the wake condition on a fixed interval.
type Loop struct {
	Self      transport.PeerID
	Threshold float64
	Targets   []Target

	Occupation Occupation
	Peers      Peers
	Telemetry  sysinfo.Telemetry
	Waker      Waker
	Journal    Journal

	// Pick returns a uniform index in [0, n). Nil uses math/rand/v2.
	Pick func(n int) int
	// Now is the clock used for journal entries. Nil uses time.Now.
	Now func() time.Time

	Log zerolog.Logger
}

// Run evaluates once per interval until ctx is done.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evaluate()
		}
	}
}

// Evaluate runs one decision round.
func (l *Loop) Evaluate() Outcome {
	local, err := l.Telemetry.CPUPercentage()
	if err != nil {
		l.Log.Error().Err(err).Msg("Could not read cpu utilization, skipping decision")
		return TelemetryUnavailable
	}

	total := l.Occupation.ComputeAggregate(local)
	if total <= l.Threshold {
		l.Log.Debug().Float64("aggregate", total).Msg("Occupation within threshold")
		return BelowThreshold
	}

	l.Log.Info().
		Float64("aggregate", total).
		Float64("threshold", l.Threshold).
		Msg("Occupation level is too high")

	peers := l.Peers.Snapshot()
	ids := make([]transport.PeerID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	if !ShouldAct(l.Self, ids) {
		l.Log.Debug().Msg("A peer with a lower id will act, standing down")
		return StoodDown
	}

	present := make([]net.HardwareAddr, 0, len(peers)+1)
	for _, rec := range peers {
		present = append(present, rec.MACAddress)
	}
	if mac, err := l.Telemetry.MACAddress(); err == nil {
		present = append(present, mac)
	}

	candidates := Candidates(l.Targets, present)
	if len(candidates) == 0 {
		l.Log.Warn().Msg("Could not find any host to send the wake action to")
		return NoCandidates
	}

	pick := l.Pick
	if pick == nil {
		pick = rand.Intn
	}
	target := candidates[pick(len(candidates))]

	err = l.Waker.SendWake(target.MACAddress)
	l.record(Attempt{At: l.now(), Target: target, Aggregate: total, Err: err})
	if err != nil {
		l.Log.Error().
			Err(err).
			Str("host", target.Name).
			Str("mac", target.MACAddress.String()).
			Msg("Could not send wake packet")
		return WakeFailed
	}

	l.Log.Info().
		Str("host", target.Name).
		Str("mac", target.MACAddress.String()).
		Msg("Wake packet sent")
	return WakeSent
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) record(a Attempt) {
	if l.Journal == nil {
		return
	}
	if err := l.Journal.RecordWake(a); err != nil {
		l.Log.Warn().Err(err).Msg("Could not journal wake attempt")
	}
}

// ShouldAct reports whether self holds the lowest id among known peers.
// With no known peers self always acts.
func ShouldAct(self transport.PeerID, known []transport.PeerID) bool {
	for _, id := range known {
		if id < self {
			return false
		}
	}
	return true
}

// Candidates returns the configured targets whose mac address is not present.
func Candidates(targets []Target, present []net.HardwareAddr) []Target {
	seen := make(map[string]bool, len(present))
	for _, mac := range present {
		seen[mac.String()] = true
	}

	var out []Target
	for _, t := range targets {
		if !seen[t.MACAddress.String()] {
			out = append(out, t)
		}
	}
	return out
}
