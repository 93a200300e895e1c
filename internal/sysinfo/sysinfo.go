// Package sysinfo reads the local telemetry a node broadcasts: hostname,
// primary mac address and CPU utilization.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// DefaultSampleWindow is the span each CPU utilization sample covers.
const DefaultSampleWindow = time.Second

var (
	ErrNoMAC      = errors.New("no usable network interface with a mac address")
	ErrNoHostname = errors.New("hostname unavailable")
	ErrNoSample   = errors.New("no cpu sample taken yet")
)

// Telemetry is the node's view of its own machine.
type Telemetry interface {
	MACAddress() (net.HardwareAddr, error)
	Hostname() (string, error)
	CPUPercentage() (float64, error)
}

// Local reads telemetry from the running host.
type Local struct {
	// Interface pins the mac address to a named NIC; empty picks the
	// first up, non-loopback interface with a hardware address.
	Interface string

	// sample measures utilization over window. Only Run calls it, so
	// readers never shorten each other's measurement.
	sample func(ctx context.Context, window time.Duration) ([]float64, error)

	mu     sync.RWMutex
	cpu    float64
	cpuErr error
}

// NewLocal returns telemetry for the local machine. CPUPercentage reports
// ErrNoSample until Run has completed its first sample.
func NewLocal(iface string) *Local {
	return &Local{
		Interface: iface,
		sample: func(ctx context.Context, window time.Duration) ([]float64, error) {
			return cpu.PercentWithContext(ctx, window, false)
		},
		cpuErr: ErrNoSample,
	}
}

// Run samples CPU utilization back to back, each sample spanning window,
// until ctx is done.
func (l *Local) Run(ctx context.Context, window time.Duration) {
	for ctx.Err() == nil {
		if err := l.refresh(ctx, window); err == nil {
			continue
		}
		// A failing sampler may return at once; do not spin on it.
		select {
		case <-ctx.Done():
		case <-time.After(window):
		}
	}
}

// refresh takes one sample and publishes it, or publishes the error.
func (l *Local) refresh(ctx context.Context, window time.Duration) error {
	percents, err := l.sample(ctx, window)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var p float64
	switch {
	case err != nil:
		err = fmt.Errorf("reading cpu utilization: %w", err)
	case len(percents) == 0:
		err = errors.New("reading cpu utilization: no data")
	default:
		p = min(max(percents[0], 0), 100)
	}

	l.mu.Lock()
	l.cpu, l.cpuErr = p, err
	l.mu.Unlock()
	return err
}

// MACAddress returns the mac address of the configured or primary interface.
func (l *Local) MACAddress() (net.HardwareAddr, error) {
	if l.Interface != "" {
		iface, err := net.InterfaceByName(l.Interface)
		if err != nil {
			return nil, fmt.Errorf("finding interface %s: %w", l.Interface, err)
		}
		if len(iface.HardwareAddr) != 6 {
			return nil, fmt.Errorf("interface %s: %w", l.Interface, ErrNoMAC)
		}
		return iface.HardwareAddr, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}
	return primaryMAC(ifaces)
}

// primaryMAC returns the mac address of the first up, non-loopback interface.
func primaryMAC(ifaces []net.Interface) (net.HardwareAddr, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, ErrNoMAC
}

// Hostname returns the machine's hostname.
func (l *Local) Hostname() (string, error) {
	info, err := host.Info()
	if err == nil && strings.TrimSpace(info.Hostname) != "" {
		return info.Hostname, nil
	}
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoHostname, err)
	}
	if name == "" {
		return "", ErrNoHostname
	}
	return name, nil
}

// CPUPercentage returns the most recent utilization sample taken by Run.
// Reading it does not disturb the measurement.
func (l *Local) CPUPercentage() (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cpu, l.cpuErr
}
