package decision

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dynwol/internal/registry"
	"dynwol/internal/transport"
)

var (
	macA    = net.HardwareAddr{0xaa, 0, 0, 0, 0, 0x0a}
	macB    = net.HardwareAddr{0xaa, 0, 0, 0, 0, 0x0b}
	macC    = net.HardwareAddr{0xaa, 0, 0, 0, 0, 0x0c}
	macSelf = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
)

type fixedOccupation float64

func (f fixedOccupation) ComputeAggregate(local float64) float64 { return float64(f) }

type fixedPeers map[transport.PeerID]registry.PeerRecord

func (f fixedPeers) Snapshot() map[transport.PeerID]registry.PeerRecord { return f }

type fakeTelemetry struct {
	cpu    float64
	cpuErr error
	mac    net.HardwareAddr
}

func (f fakeTelemetry) MACAddress() (net.HardwareAddr, error) {
	if f.mac == nil {
		return nil, errors.New("no mac")
	}
	return f.mac, nil
}
func (f fakeTelemetry) Hostname() (string, error)       { return "self", nil }
func (f fakeTelemetry) CPUPercentage() (float64, error) { return f.cpu, f.cpuErr }

type recordingWaker struct {
	sent []net.HardwareAddr
	err  error
}

func (r *recordingWaker) SendWake(mac net.HardwareAddr) error {
	r.sent = append(r.sent, mac)
	return r.err
}

type recordingJournal struct{ attempts []Attempt }

func (r *recordingJournal) RecordWake(a Attempt) error {
	r.attempts = append(r.attempts, a)
	return nil
}

func TestShouldAct(t *testing.T) {
	known := []transport.PeerID{"b", "a", "c"}

	if !ShouldAct("a", known) {
		t.Error("local id a is the minimum, expected to act")
	}
	if ShouldAct("z", known) {
		t.Error("local id z is not the minimum, expected to stand down")
	}
	if !ShouldAct("m", nil) {
		t.Error("with no known peers, expected to act")
	}
}

func TestCandidates(t *testing.T) {
	targets := []Target{{Name: "A", MACAddress: macA}, {Name: "B", MACAddress: macB}}

	got := Candidates(targets, []net.HardwareAddr{macA})
	if len(got) != 1 || got[0].Name != "B" {
		t.Fatalf("candidates: got %+v, want [B]", got)
	}

	if got := Candidates(targets, []net.HardwareAddr{macA, macB}); len(got) != 0 {
		t.Errorf("candidates: got %+v, want none", got)
	}
	if got := Candidates(targets, nil); len(got) != 2 {
		t.Errorf("candidates: got %+v, want both", got)
	}
}

func newLoop(total float64, peers fixedPeers, waker Waker) *Loop {
	return &Loop{
		Self:       "m",
		Threshold:  80,
		Targets:    []Target{{Name: "A", MACAddress: macA}, {Name: "B", MACAddress: macB}},
		Occupation: fixedOccupation(total),
		Peers:      peers,
		Telemetry:  fakeTelemetry{cpu: 90, mac: macSelf},
		Waker:      waker,
		Log:        zerolog.Nop(),
	}
}

func TestEvaluate_BelowThreshold(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(80, fixedPeers{}, w)

	if got := l.Evaluate(); got != BelowThreshold {
		t.Fatalf("outcome: got %s, want below_threshold", got)
	}
	if len(w.sent) != 0 {
		t.Errorf("expected no wake, got %v", w.sent)
	}
}

func TestEvaluate_StandsDown(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(95, fixedPeers{"a": {Name: "peer-a", MACAddress: macA}}, w)

	if got := l.Evaluate(); got != StoodDown {
		t.Fatalf("outcome: got %s, want stood_down", got)
	}
	if len(w.sent) != 0 {
		t.Errorf("expected no wake, got %v", w.sent)
	}
}

func TestEvaluate_WakesSoleCandidate(t *testing.T) {
	w := &recordingWaker{}
	j := &recordingJournal{}
	l := newLoop(95, fixedPeers{"x": {Name: "peer-x", MACAddress: macA}}, w)
	l.Journal = j
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Now = func() time.Time { return at }

	if got := l.Evaluate(); got != WakeSent {
		t.Fatalf("outcome: got %s, want wake_sent", got)
	}
	if len(w.sent) != 1 || w.sent[0].String() != macB.String() {
		t.Fatalf("expected wake for B, got %v", w.sent)
	}
	if len(j.attempts) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(j.attempts))
	}
	if a := j.attempts[0]; a.Target.Name != "B" || a.Aggregate != 95 || !a.At.Equal(at) || a.Err != nil {
		t.Errorf("journal entry: got %+v", a)
	}
}

func TestEvaluate_ExcludesLocalMAC(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(95, fixedPeers{}, w)
	l.Targets = []Target{{Name: "self", MACAddress: macSelf}, {Name: "C", MACAddress: macC}}

	if got := l.Evaluate(); got != WakeSent {
		t.Fatalf("outcome: got %s, want wake_sent", got)
	}
	if w.sent[0].String() != macC.String() {
		t.Errorf("expected wake for C, got %s", w.sent[0])
	}
}

func TestEvaluate_UsesPick(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(95, fixedPeers{}, w)
	var gotN int
	l.Pick = func(n int) int { gotN = n; return 1 }

	l.Evaluate()

	if gotN != 2 {
		t.Errorf("Pick called with n=%d, want 2", gotN)
	}
	if w.sent[0].String() != macB.String() {
		t.Errorf("expected second candidate B, got %s", w.sent[0])
	}
}

func TestEvaluate_NoCandidates(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(95, fixedPeers{
		"x": {MACAddress: macA},
		"y": {MACAddress: macB},
	}, w)

	if got := l.Evaluate(); got != NoCandidates {
		t.Fatalf("outcome: got %s, want no_candidates", got)
	}
	if len(w.sent) != 0 {
		t.Errorf("expected no wake, got %v", w.sent)
	}
}

func TestEvaluate_WakeFailureNotRetried(t *testing.T) {
	w := &recordingWaker{err: errors.New("network unreachable")}
	j := &recordingJournal{}
	l := newLoop(95, fixedPeers{}, w)
	l.Journal = j
	l.Pick = func(int) int { return 0 }

	if got := l.Evaluate(); got != WakeFailed {
		t.Fatalf("outcome: got %s, want wake_failed", got)
	}
	if len(w.sent) != 1 {
		t.Errorf("expected exactly one attempt, got %d", len(w.sent))
	}
	if len(j.attempts) != 1 || j.attempts[0].Err == nil {
		t.Errorf("expected failed attempt to be journalled, got %+v", j.attempts)
	}
}

func TestEvaluate_TelemetryUnavailable(t *testing.T) {
	w := &recordingWaker{}
	l := newLoop(95, fixedPeers{}, w)
	l.Telemetry = fakeTelemetry{cpuErr: errors.New("no cpu")}

	if got := l.Evaluate(); got != TelemetryUnavailable {
		t.Fatalf("outcome: got %s, want telemetry_unavailable", got)
	}
	if len(w.sent) != 0 {
		t.Errorf("expected no wake, got %v", w.sent)
	}
}
