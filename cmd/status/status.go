// Package status implements the dyn-wol status CLI.
package status

import (
	"fmt"
	"io"
	"os"
	"strings"

	"dynwol/internal/rpc"
	"dynwol/pkg/config"
)

const wakeLimit = 10

// Run queries the local node over its RPC socket and prints its view.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := rpc.NewClient(cfg.Status.RPCSocket)
	if err != nil {
		return fmt.Errorf("connecting to node: %w\nIs 'dyn-wol node' running?", err)
	}
	defer client.Close()

	reply, err := client.Status(wakeLimit)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	printStatus(os.Stdout, reply)
	return nil
}

func printStatus(w io.Writer, s *rpc.StatusReply) {
	state := "ok"
	if s.Aggregate > s.Threshold {
		state = "over threshold"
	}

	fmt.Fprintf(w, "\n  Node %s\n", shortID(s.Self))
	fmt.Fprintf(w, "  Local CPU  %6.1f%%\n", s.LocalCPU)
	fmt.Fprintf(w, "  Aggregate  %6.1f%%  (threshold %.1f%%, %s)\n", s.Aggregate, s.Threshold, state)

	if s.Dropped > 0 {
		fmt.Fprintf(w, "  Outbound   %d messages dropped (queue full)\n", s.Dropped)
	}

	fmt.Fprintf(w, "\n  Peers (%d registered, %d reachable)\n\n", len(s.Peers), s.Reachable)
	if len(s.Peers) == 0 {
		fmt.Fprintln(w, "  No authenticated peers yet.")
	} else {
		printPeerTable(w, s.Peers)
	}

	if len(s.Wakes) > 0 {
		fmt.Fprintf(w, "\n  Recent wakes\n\n")
		printWakeTable(w, s)
	}
	fmt.Fprintln(w)
}

func printPeerTable(w io.Writer, peers []rpc.PeerStatus) {
	fmt.Fprintf(w, "  %-12s %-20s %-18s %-8s\n", "Peer", "Hostname", "MAC Address", "CPU")
	fmt.Fprintf(w, "  %s %s %s %s\n",
		strings.Repeat("─", 12),
		strings.Repeat("─", 20),
		strings.Repeat("─", 18),
		strings.Repeat("─", 8))

	for _, p := range peers {
		cpu := "-"
		if p.HasSample {
			cpu = fmt.Sprintf("%.1f%%", p.CPU)
		}
		fmt.Fprintf(w, "  %-12s %-20s %-18s %-8s\n",
			shortID(p.ID),
			truncate(p.Name, 20),
			p.MACAddress,
			cpu,
		)
	}
}

func printWakeTable(w io.Writer, s *rpc.StatusReply) {
	fmt.Fprintf(w, "  %-20s %-20s %-18s %-9s %s\n", "Time", "Host", "MAC Address", "Load", "Result")
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		strings.Repeat("─", 20),
		strings.Repeat("─", 20),
		strings.Repeat("─", 18),
		strings.Repeat("─", 9),
		strings.Repeat("─", 6))

	for _, wk := range s.Wakes {
		result := "sent"
		if wk.Error != "" {
			result = "failed: " + wk.Error
		}
		fmt.Fprintf(w, "  %-20s %-20s %-18s %-9s %s\n",
			wk.At.Local().Format("2006-01-02 15:04:05"),
			truncate(wk.Name, 20),
			wk.MACAddress,
			fmt.Sprintf("%.1f%%", wk.Aggregate),
			result,
		)
	}
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}
