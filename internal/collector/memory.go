package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// MemoryCollector collects RAM and swap usage.
type MemoryCollector struct {
	capabilityCollector
}

// NewMemoryCollector creates a new memory collector.
func NewMemoryCollector(caps platform.Capability) *MemoryCollector {
	return &MemoryCollector{capabilityCollector{caps: caps, domain: models.DomainMemory}}
}

func (c *MemoryCollector) Collect(ctx context.Context) (models.Fragment, error) {
	state, err := c.caps.ReadMemory(ctx)
	if err != nil {
		return nil, err
	}
	return state, nil
}
