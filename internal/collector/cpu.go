package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// CPUCollector collects overall and per-core utilization, frequency and temperature.
type CPUCollector struct {
	capabilityCollector
}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector(caps platform.Capability) *CPUCollector {
	return &CPUCollector{capabilityCollector{caps: caps, domain: models.DomainCPU}}
}

// Collect reads CPU state. Usage is measured over the backend's rate window.
func (c *CPUCollector) Collect(ctx context.Context) (models.Fragment, error) {
	state, err := c.caps.ReadCPU(ctx)
	if err != nil {
		return nil, err
	}
	return state, nil
}
