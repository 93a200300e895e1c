// Package publisher funnels every outbound message through a single goroutine
// that owns the transport's publish side.
package publisher

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"dynwol/internal/transport"
)

// Message is one queued publish.
type Message struct {
	Topic   string
	Payload []byte
}

// Queue is a bounded outbound queue. When it is full new messages are
// dropped; broadcasts repeat every interval so a dropped one is superseded
// by the next tick.
type Queue struct {
	ch      chan Message
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewQueue creates a queue holding at most size pending messages.
func NewQueue(size int, log zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Message, size), log: log}
}

// Enqueue adds a message without blocking and reports whether it was accepted.
func (q *Queue) Enqueue(topic string, payload []byte) bool {
	select {
	case q.ch <- Message{Topic: topic, Payload: payload}:
		return true
	default:
		n := q.dropped.Add(1)
		q.log.Warn().
			Str("topic", topic).
			Uint64("dropped_total", n).
			Msg("Outbound queue full, dropping message")
		return false
	}
}

// Len returns the number of pending messages.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many messages were rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Run publishes queued messages sequentially until ctx is done. Failures are
// logged and the message is discarded. Pending messages are not drained on
// shutdown.
func (q *Queue) Run(ctx context.Context, pub transport.Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			if err := pub.Publish(msg.Topic, msg.Payload); err != nil {
				q.log.Error().Err(err).Str("topic", msg.Topic).Msg("Publish failed")
			}
		}
	}
}
