// dyn-wol keeps a LAN group's compute headroom up by waking spare machines.
//
// Usage:
//
//	dyn-wol node   - join the overlay and run the wake decision loop
//	dyn-wol status - print the local node's view of the cluster
package main

import (
	"fmt"
	"os"

	"dynwol/cmd/node"
	"dynwol/cmd/status"
)

const (
	defaultSystemPath = "/etc/dyn-wol/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "node":
		err = node.Run(configPath)
	case "status":
		err = status.Run(configPath)
	case "edit":
		err = node.EditConfig(configPath)
	case "version":
		fmt.Printf("dyn-wol v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`dyn-wol v%s - leaderless Wake-on-LAN for a LAN peer group

Usage:
  dyn-wol <command> [--config <path>]

Commands:
  node     Join the overlay, share load and wake spare hosts when it runs hot
  status   Show peers, aggregate load and recent wakes of the local node
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Environment:
  DYN_WOL_SHARED_TOKEN, DYN_WOL_OCCUPATION_THRESHOLD, DYN_WOL_LOG_LEVEL
  override the matching config values.

Examples:
  dyn-wol node                          # Start the node with default config
  dyn-wol edit                          # Edit configuration
  dyn-wol status                        # Inspect the running node

`, version, defaultSystemPath)
}
