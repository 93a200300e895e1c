// Package rpc provides Unix socket IPC between a running node and the status CLI.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"dynwol/internal/registry"
	"dynwol/internal/store"
	"dynwol/internal/transport"
)

// PeerSource is the registry view.
type PeerSource interface {
	Snapshot() map[transport.PeerID]registry.PeerRecord
}

// OccupationSource is the aggregator view.
type OccupationSource interface {
	Samples() map[transport.PeerID]float64
	ComputeAggregate(local float64) float64
}

// JournalSource reads the wake journal.
type JournalSource interface {
	RecentWakes(limit int) ([]store.WakeRecord, error)
}

// Sources is everything the status view reads from. Journal, Reachable and
// Dropped may be nil.
type Sources struct {
	Self       transport.PeerID
	Threshold  float64
	Registry   PeerSource
	Occupation OccupationSource
	LocalCPU   func() (float64, error)
	Journal    JournalSource
	Reachable  func() int
	Dropped    func() uint64
}

// Service is the RPC service exposed by the node.
type Service struct {
	src Sources
	log zerolog.Logger
}

// PeerStatus is one registered peer in the status view.
type PeerStatus struct {
	ID         string
	Name       string
	MACAddress string
	CPU        float64
	HasSample  bool
}

// StatusArgs is the request for Status.
type StatusArgs struct {
	WakeLimit int
}

// StatusReply is the response for Status.
type StatusReply struct {
	Self      string
	Threshold float64
	LocalCPU  float64
	Aggregate float64
	Peers     []PeerStatus
	Wakes     []store.WakeRecord

	// Reachable counts peers the transport currently hears from,
	// authenticated or not.
	Reachable int
	Dropped   uint64
}

// Status returns the node's current view of the cluster.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	local, err := s.src.LocalCPU()
	if err != nil {
		return fmt.Errorf("reading local cpu: %w", err)
	}

	reply.Self = string(s.src.Self)
	reply.Threshold = s.src.Threshold
	reply.LocalCPU = local
	reply.Aggregate = s.src.Occupation.ComputeAggregate(local)
	if s.src.Reachable != nil {
		reply.Reachable = s.src.Reachable()
	}
	if s.src.Dropped != nil {
		reply.Dropped = s.src.Dropped()
	}

	// Registry and occupation locks are taken one after the other.
	peers := s.src.Registry.Snapshot()
	samples := s.src.Occupation.Samples()
	for id, rec := range peers {
		cpu, ok := samples[id]
		reply.Peers = append(reply.Peers, PeerStatus{
			ID:         string(id),
			Name:       rec.Name,
			MACAddress: rec.MACAddress.String(),
			CPU:        cpu,
			HasSample:  ok,
		})
	}
	sort.Slice(reply.Peers, func(i, j int) bool { return reply.Peers[i].ID < reply.Peers[j].ID })

	if s.src.Journal != nil && args.WakeLimit > 0 {
		wakes, err := s.src.Journal.RecentWakes(args.WakeLimit)
		if err != nil {
			return fmt.Errorf("reading wake journal: %w", err)
		}
		reply.Wakes = wakes
	}
	return nil
}

// StartServer starts the Unix socket RPC server.
func StartServer(socketPath string, src Sources, log zerolog.Logger) (net.Listener, error) {
	service := &Service{src: src, log: log}

	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	// Set socket permissions
	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return listener, nil
}

// Client is a client for the node's RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Status fetches the node's status including up to wakeLimit journal entries.
func (c *Client) Status(wakeLimit int) (*StatusReply, error) {
	args := &StatusArgs{WakeLimit: wakeLimit}
	reply := &StatusReply{}
	if err := c.client.Call("Service.Status", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}
