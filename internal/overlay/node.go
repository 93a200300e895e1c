// Package overlay wires the registry, aggregator, decision loop and outbound
// publisher onto a transport and runs them for the life of the process.
package overlay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dynwol/internal/decision"
	"dynwol/internal/occupation"
	"dynwol/internal/publisher"
	"dynwol/internal/registry"
	"dynwol/internal/sysinfo"
	"dynwol/internal/transport"
	"dynwol/pkg/logger"
)

// Config holds the node's tunables.
type Config struct {
	SharedToken       string
	Threshold         float64
	Targets           []decision.Target
	BroadcastInterval time.Duration
	DecisionInterval  time.Duration
	QueueSize         int
}

// Node is a running overlay member.
type Node struct {
	Registry   *registry.Registry
	Occupation *occupation.Aggregator
	Decision   *decision.Loop
	Queue      *publisher.Queue
	Dispatcher *Dispatcher

	transport transport.Transport
	cfg       Config
	log       zerolog.Logger
}

// NewNode builds the node's components. Nothing runs until Start.
func NewNode(cfg Config, t transport.Transport, telemetry sysinfo.Telemetry, waker decision.Waker, journal decision.Journal, log zerolog.Logger) *Node {
	reg := registry.New(cfg.SharedToken, telemetry, logger.Component(log, "registry"))
	agg := occupation.New(reg, telemetry, logger.Component(log, "occupation"))

	n := &Node{
		Registry:   reg,
		Occupation: agg,
		Queue:      publisher.NewQueue(cfg.QueueSize, logger.Component(log, "publisher")),
		Dispatcher: &Dispatcher{
			HostInfo:   reg,
			Occupation: agg,
			Log:        logger.Component(log, "dispatch"),
		},
		Decision: &decision.Loop{
			Self:       t.LocalPeerID(),
			Threshold:  cfg.Threshold,
			Targets:    cfg.Targets,
			Occupation: agg,
			Peers:      reg,
			Telemetry:  telemetry,
			Waker:      waker,
			Log:        logger.Component(log, "decision"),
		},
		transport: t,
		cfg:       cfg,
		log:       log,
	}
	if journal != nil {
		n.Decision.Journal = journal
	}
	return n
}

// Start subscribes to the overlay topics and launches every loop. The loops
// stop when ctx is done; queued messages are not drained.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Registry.Register(ctx, n.transport, n.Queue, n.cfg.BroadcastInterval); err != nil {
		return fmt.Errorf("registering host info topic: %w", err)
	}
	if err := n.Occupation.Register(ctx, n.transport, n.Queue, n.cfg.BroadcastInterval); err != nil {
		return fmt.Errorf("registering occupation topic: %w", err)
	}

	go n.Queue.Run(ctx, n.transport)
	go n.Dispatcher.Run(ctx, n.transport.Events())
	go n.watchDiscovery(ctx)
	go n.Decision.Run(ctx, n.cfg.DecisionInterval)

	n.log.Info().
		Str("peer_id", string(n.transport.LocalPeerID())).
		Float64("threshold", n.cfg.Threshold).
		Int("targets", len(n.cfg.Targets)).
		Dur("broadcast_interval", n.cfg.BroadcastInterval).
		Dur("decision_interval", n.cfg.DecisionInterval).
		Msg("Overlay node started")
	return nil
}

// watchDiscovery logs transport presence changes. Registry membership is
// unaffected: records are never removed.
func (n *Node) watchDiscovery(ctx context.Context) {
	events := n.transport.Discovery()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.Discovered:
				n.log.Info().Str("peer", ev.Peer.Short()).Msg("Discovered a new peer")
			case transport.Expired:
				n.log.Info().Str("peer", ev.Peer.Short()).Msg("Peer has expired")
			}
		}
	}
}
