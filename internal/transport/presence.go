package transport

import (
	"sync"
	"time"
)

// rateTracker tracks per-source packet counts for rate limiting.
type rateTracker struct {
	limit     int
	counts    map[string]int
	resetTime time.Time
}

func newRateTracker(limit int, now time.Time) *rateTracker {
	return &rateTracker{
		limit:     limit,
		counts:    make(map[string]int),
		resetTime: now.Add(time.Minute),
	}
}

// allow counts a packet from src and reports whether it is within the limit.
func (r *rateTracker) allow(src string, now time.Time) bool {
	if now.After(r.resetTime) {
		r.counts = make(map[string]int)
		r.resetTime = now.Add(time.Minute)
	}
	r.counts[src]++
	return r.counts[src] <= r.limit
}

// presence remembers when each peer was last heard from.
type presence struct {
	mu       sync.Mutex
	lastSeen map[PeerID]time.Time
}

func newPresence() *presence {
	return &presence{lastSeen: make(map[PeerID]time.Time)}
}

// seen records peer and reports whether it was previously unknown.
func (p *presence) seen(peer PeerID, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.lastSeen[peer]
	p.lastSeen[peer] = now
	return !known
}

// expire forgets peers silent since before cutoff and returns them.
func (p *presence) expire(cutoff time.Time) []PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var gone []PeerID
	for peer, at := range p.lastSeen {
		if at.Before(cutoff) {
			delete(p.lastSeen, peer)
			gone = append(gone, peer)
		}
	}
	return gone
}

func (p *presence) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen)
}
