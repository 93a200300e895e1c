// Package config provides TOML configuration loading for dyn-wol.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// MinTokenLength is the shortest shared token a node accepts.
const MinTokenLength = 32

// DefaultOccupationThreshold applies when occupation_threshold is not set.
const DefaultOccupationThreshold = 80.0

// Environment variables that override values from the config file.
const (
	EnvSharedToken         = "DYN_WOL_SHARED_TOKEN"
	EnvOccupationThreshold = "DYN_WOL_OCCUPATION_THRESHOLD"
	EnvLogLevel            = "DYN_WOL_LOG_LEVEL"
)

var (
	ErrTokenMissing   = errors.New("shared_token must be set")
	ErrTokenTooShort  = fmt.Errorf("shared_token must have at least %d characters", MinTokenLength)
	ErrThresholdRange = errors.New("occupation_threshold must be between 0 and 100")
	ErrHostMAC        = errors.New("invalid host mac_address")
)

// Config is the top-level configuration structure.
type Config struct {
	Node   NodeConfig   `toml:"node"`
	Status StatusConfig `toml:"status"`
	Hosts  []HostConfig `toml:"hosts"`
}

// NodeConfig holds settings for the overlay node.
type NodeConfig struct {
	Interface           string   `toml:"interface"`
	MulticastGroup      string   `toml:"multicast_group"`
	Port                int      `toml:"port"`
	SharedToken         string   `toml:"shared_token"`
	OccupationThreshold *float64 `toml:"occupation_threshold"`
	BroadcastInterval   string   `toml:"broadcast_interval"`
	DecisionInterval    string   `toml:"decision_interval"`
	PeerExpiry          string   `toml:"peer_expiry"`
	QueueSize           int      `toml:"queue_size"`
	MaxPacketsPerMin    int      `toml:"max_packets_per_min"`
	WakeAddress         string   `toml:"wake_address"`
	DBPath              string   `toml:"db_path"`
	RPCSocket           string   `toml:"rpc_socket"`
	WakeRetention       string   `toml:"wake_retention"`
	LogLevel            string   `toml:"log_level"`
}

// StatusConfig holds settings for the status CLI.
type StatusConfig struct {
	RPCSocket string `toml:"rpc_socket"`
}

// HostConfig is a machine the cluster may wake.
type HostConfig struct {
	Name       string `toml:"name"`
	MACAddress string `toml:"mac_address"`
}

// ParseMAC parses the host's mac_address.
func (h HostConfig) ParseMAC() (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(h.MACAddress)
	if err != nil {
		return nil, fmt.Errorf("%w %q for host %q: %v", ErrHostMAC, h.MACAddress, h.Name, err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%w %q for host %q: not an EUI-48 address", ErrHostMAC, h.MACAddress, h.Name)
	}
	return mac, nil
}

// Threshold returns the configured occupation threshold. An explicit 0 is
// kept; only an absent value falls back to the default.
func (n *NodeConfig) Threshold() float64 {
	if n.OccupationThreshold == nil {
		return DefaultOccupationThreshold
	}
	return *n.OccupationThreshold
}

// ParseBroadcastInterval parses the self-broadcast interval.
func (n *NodeConfig) ParseBroadcastInterval() (time.Duration, error) {
	return parseDuration(n.BroadcastInterval, 3*time.Second)
}

// ParseDecisionInterval parses the decision loop tick interval.
func (n *NodeConfig) ParseDecisionInterval() (time.Duration, error) {
	return parseDuration(n.DecisionInterval, 3*time.Second)
}

// ParsePeerExpiry parses how long a silent peer stays in the transport's presence set.
func (n *NodeConfig) ParsePeerExpiry() (time.Duration, error) {
	return parseDuration(n.PeerExpiry, 30*time.Second)
}

// ParseWakeRetention parses how long wake journal entries are kept.
func (n *NodeConfig) ParseWakeRetention() (time.Duration, error) {
	return parseDuration(n.WakeRetention, 7*24*time.Hour)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Load reads and parses a TOML config file, applying environment overrides
// and defaults for unset values. It does not validate; call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// Validate reports configuration errors that must stop the node from starting.
func (cfg *Config) Validate() error {
	token := cfg.Node.SharedToken
	if token == "" || token == "CHANGE_ME" {
		return ErrTokenMissing
	}
	if len(token) < MinTokenLength {
		return ErrTokenTooShort
	}
	// NaN fails every comparison, so it must be rejected explicitly.
	if th := cfg.Node.Threshold(); math.IsNaN(th) || th < 0 || th > 100 {
		return fmt.Errorf("%w (got %v)", ErrThresholdRange, th)
	}
	for _, h := range cfg.Hosts {
		if _, err := h.ParseMAC(); err != nil {
			return err
		}
	}
	if net.ParseIP(cfg.Node.MulticastGroup) == nil {
		return fmt.Errorf("invalid multicast_group %q", cfg.Node.MulticastGroup)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvSharedToken); v != "" {
		cfg.Node.SharedToken = v
	}
	if v := os.Getenv(EnvOccupationThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvOccupationThreshold, err)
		}
		cfg.Node.OccupationThreshold = &f
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Node.LogLevel = v
	}
	return nil
}

func (cfg *Config) expandPaths() {
	cfg.Node.DBPath = ExpandPath(cfg.Node.DBPath)
	cfg.Node.RPCSocket = ExpandPath(cfg.Node.RPCSocket)
	cfg.Status.RPCSocket = ExpandPath(cfg.Status.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Node defaults
	if cfg.Node.MulticastGroup == "" {
		cfg.Node.MulticastGroup = "239.255.77.77"
	}
	if cfg.Node.Port == 0 {
		cfg.Node.Port = 5680
	}
	if cfg.Node.OccupationThreshold == nil {
		th := DefaultOccupationThreshold
		cfg.Node.OccupationThreshold = &th
	}
	if cfg.Node.BroadcastInterval == "" {
		cfg.Node.BroadcastInterval = "3s"
	}
	if cfg.Node.DecisionInterval == "" {
		cfg.Node.DecisionInterval = "3s"
	}
	if cfg.Node.PeerExpiry == "" {
		cfg.Node.PeerExpiry = "30s"
	}
	if cfg.Node.QueueSize <= 0 {
		cfg.Node.QueueSize = 64
	}
	if cfg.Node.MaxPacketsPerMin <= 0 {
		cfg.Node.MaxPacketsPerMin = 240
	}
	if cfg.Node.WakeAddress == "" {
		cfg.Node.WakeAddress = "255.255.255.255:9"
	}
	if cfg.Node.DBPath == "" {
		cfg.Node.DBPath = "/var/lib/dyn-wol/node.db"
	}
	if cfg.Node.RPCSocket == "" {
		cfg.Node.RPCSocket = "/run/dyn-wol/node.sock"
	}
	if cfg.Node.WakeRetention == "" {
		cfg.Node.WakeRetention = "168h"
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}

	// Status defaults
	if cfg.Status.RPCSocket == "" {
		cfg.Status.RPCSocket = cfg.Node.RPCSocket
	}
}
