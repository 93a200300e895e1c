package node

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"dynwol/pkg/config"
)

const defaultConfigTemplate = `[node]
  interface            = ""
  multicast_group      = "239.255.77.77"
  port                 = 5680
  shared_token         = "CHANGE_ME"
  occupation_threshold = 80
  broadcast_interval   = "3s"
  decision_interval    = "3s"
  peer_expiry          = "30s"
  queue_size           = 64
  max_packets_per_min  = 240
  wake_address         = "255.255.255.255:9"
  db_path              = "/var/lib/dyn-wol/node.db"
  rpc_socket           = "/run/dyn-wol/node.sock"
  wake_retention       = "168h"
  log_level            = "info"

[status]
  rpc_socket = "/run/dyn-wol/node.sock"

# Machines the cluster may wake when it runs hot.
# [[hosts]]
#   name        = "render-01"
#   mac_address = "aa:bb:cc:dd:ee:01"
`

// EditConfig opens the configuration file in the system editor, creating it
// from defaultConfigTemplate first if needed. The result is checked once the
// editor exits.
func EditConfig(path string) error {
	if err := ensureConfig(path); err != nil {
		return err
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", editor, err)
	}

	if err := checkConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n'dyn-wol node' will refuse to start until this is fixed.\n", err)
	}
	return nil
}

func ensureConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		// The file carries the shared token.
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

func findEditor() (string, error) {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
}

func checkConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return cfg.Validate()
}
