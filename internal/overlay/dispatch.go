package overlay

import (
	"context"

	"github.com/rs/zerolog"

	"dynwol/internal/transport"
	"dynwol/internal/wire"
)

// HostInfoHandler consumes decoded host-info messages.
type HostInfoHandler interface {
	HandleIncoming(msg wire.Extracted[wire.HostInfoMessage])
}

// OccupationHandler consumes host-occupation messages.
type OccupationHandler interface {
	HandleIncoming(msg wire.Extracted[wire.HostOccupationMessage])
}

// Dispatcher routes inbound events to the handler owning their topic.
type Dispatcher struct {
	HostInfo   HostInfoHandler
	Occupation OccupationHandler
	Log        zerolog.Logger
}

// Dispatch hands ev to its topic's handler and reports whether any handler
// claimed it. Events that fail to decode are dropped.
func (d *Dispatcher) Dispatch(ev transport.Event) bool {
	switch ev.Topic {
	case wire.TopicHostInfo:
		if msg, ok := wire.Extract[wire.HostInfoMessage](ev, wire.TopicHostInfo, d.Log); ok {
			d.HostInfo.HandleIncoming(msg)
		}
		return true
	case wire.TopicHostOccupation:
		if msg, ok := wire.Extract[wire.HostOccupationMessage](ev, wire.TopicHostOccupation, d.Log); ok {
			d.Occupation.HandleIncoming(msg)
		}
		return true
	default:
		d.Log.Debug().Str("topic", ev.Topic).Str("peer", ev.From.Short()).Msg("No handler for topic, dropping")
		return false
	}
}

// Run dispatches events until ctx is done or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan transport.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Dispatch(ev)
		}
	}
}
