package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dynwol/internal/decision"
	"dynwol/internal/overlay"
	"dynwol/internal/rpc"
	"dynwol/internal/store"
	"dynwol/internal/sysinfo"
	"dynwol/internal/transport"
	"dynwol/internal/wol"
	"dynwol/pkg/config"
	"dynwol/pkg/logger"
)

// Run starts the overlay node and blocks until SIGINT or SIGTERM.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	targets, err := parseTargets(cfg.Hosts)
	if err != nil {
		return err
	}
	broadcastInterval, err := cfg.Node.ParseBroadcastInterval()
	if err != nil {
		return fmt.Errorf("parsing broadcast_interval: %w", err)
	}
	decisionInterval, err := cfg.Node.ParseDecisionInterval()
	if err != nil {
		return fmt.Errorf("parsing decision_interval: %w", err)
	}
	peerExpiry, err := cfg.Node.ParsePeerExpiry()
	if err != nil {
		return fmt.Errorf("parsing peer_expiry: %w", err)
	}
	retention, err := cfg.Node.ParseWakeRetention()
	if err != nil {
		return fmt.Errorf("parsing wake_retention: %w", err)
	}

	// Ensure database directory exists
	dbDir := filepath.Dir(cfg.Node.DBPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dbDir, err)
	}

	// Ensure RPC socket directory exists
	sockDir := filepath.Dir(cfg.Node.RPCSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}

	db, err := store.New(cfg.Node.DBPath, logger.Component(log, "store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	key, err := db.LoadOrCreateIdentity()
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}

	// Cancelled before db.Close runs.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go db.RunPrune(ctx, time.Hour, retention)

	t, err := transport.ListenUDP(transport.UDPConfig{
		Interface:        cfg.Node.Interface,
		MulticastGroup:   cfg.Node.MulticastGroup,
		Port:             cfg.Node.Port,
		MaxPacketsPerMin: cfg.Node.MaxPacketsPerMin,
		PeerExpiry:       peerExpiry,
	}, key, logger.Component(log, "transport"))
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer t.Close()

	telemetry := sysinfo.NewLocal(cfg.Node.Interface)
	go telemetry.Run(ctx, sysinfo.DefaultSampleWindow)

	n := overlay.NewNode(overlay.Config{
		SharedToken:       cfg.Node.SharedToken,
		Threshold:         cfg.Node.Threshold(),
		Targets:           targets,
		BroadcastInterval: broadcastInterval,
		DecisionInterval:  decisionInterval,
		QueueSize:         cfg.Node.QueueSize,
	}, t, telemetry, wol.NewSender(cfg.Node.WakeAddress), db, log)

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	// Start RPC server (for 'dyn-wol status' to query this node)
	listener, err := rpc.StartServer(cfg.Node.RPCSocket, rpc.Sources{
		Self:       t.LocalPeerID(),
		Threshold:  cfg.Node.Threshold(),
		Registry:   n.Registry,
		Occupation: n.Occupation,
		LocalCPU:   telemetry.CPUPercentage,
		Journal:    db,
		Reachable:  t.PeerCount,
		Dropped:    n.Queue.Dropped,
	}, logger.Component(log, "rpc"))
	if err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}
	defer listener.Close()

	log.Info().
		Str("db_path", cfg.Node.DBPath).
		Str("group", fmt.Sprintf("%s:%d", cfg.Node.MulticastGroup, cfg.Node.Port)).
		Msg("Starting dyn-wol node")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	cancel()
	os.Remove(cfg.Node.RPCSocket)
	return nil
}

func parseTargets(hosts []config.HostConfig) ([]decision.Target, error) {
	targets := make([]decision.Target, 0, len(hosts))
	for _, h := range hosts {
		mac, err := h.ParseMAC()
		if err != nil {
			return nil, err
		}
		targets = append(targets, decision.Target{Name: h.Name, MACAddress: mac})
	}
	return targets, nil
}
