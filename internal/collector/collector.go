// Package collector defines the per-domain Collector interface, the
// implementations backed by a platform.Capability, and the Registry that
// captures snapshots across domains concurrently.
package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// Collector is the interface that all domain collectors must implement.
// Each collector gathers one metric domain.
type Collector interface {
	// Domain returns the domain this collector serves.
	Domain() models.Domain

	// Collect gathers the domain fragment. It is a pure query; the context
	// carries the per-domain timeout.
	Collect(ctx context.Context) (models.Fragment, error)

	// IsAvailable declares upfront whether the domain can be read on this
	// host. Unavailable collectors are never invoked; the reason is recorded
	// in the snapshot instead.
	IsAvailable() (bool, string)
}

// capabilityCollector holds the shared availability check.
type capabilityCollector struct {
	caps   platform.Capability
	domain models.Domain
}

func (c capabilityCollector) Domain() models.Domain { return c.domain }

func (c capabilityCollector) IsAvailable() (bool, string) {
	return c.caps.Supports(c.domain)
}

// Defaults returns one collector per domain for the given capability.
func Defaults(caps platform.Capability, topProcesses int) []Collector {
	return []Collector{
		NewCPUCollector(caps),
		NewMemoryCollector(caps),
		NewDiskCollector(caps),
		NewNetworkCollector(caps),
		NewGPUCollector(caps),
		NewBatteryCollector(caps),
		NewProcessCollector(caps, topProcesses),
	}
}
