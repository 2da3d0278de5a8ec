// Package platform provides the capability interface collectors read from,
// and the gopsutil-backed implementation selected at process start.
// Each read returns domain data or a coded error (unavailable, transient).
package platform

import (
	"context"
	"time"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Capability abstracts the OS/hardware layer. The core depends only on this
// interface, never on a concrete OS binding.
type Capability interface {
	// Name returns the backend identifier.
	Name() string

	// Supports declares upfront whether a domain can be read on this host.
	// When it returns false the reason explains why.
	Supports(d models.Domain) (bool, string)

	ReadCPU(ctx context.Context) (models.CPUState, error)
	ReadMemory(ctx context.Context) (models.MemoryState, error)
	ReadDisks(ctx context.Context) (models.DiskStates, error)
	ReadNetworkInterfaces(ctx context.Context) (models.NetworkStates, error)
	ReadBattery(ctx context.Context) (models.BatteryState, error)
	ReadGPU(ctx context.Context) (models.GPUStates, error)
	ListProcesses(ctx context.Context) (models.ProcessList, error)
	ListNetworkConnections(ctx context.Context) ([]models.Connection, error)
	ReadSystemInfo(ctx context.Context) (models.SystemInfo, error)

	// Close releases backend resources (e.g. the NVML handle).
	Close() error
}

// Options tune the host backend.
type Options struct {
	// RateWindow is the interval over which CPU usage and disk/network
	// throughput are measured inside a single read.
	RateWindow time.Duration

	// DisableSMART skips smartctl disk temperature reads even when smartctl is installed.
	DisableSMART bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{RateWindow: 250 * time.Millisecond}
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
