package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// GPUCollector collects graphics adapter utilization, memory and temperature.
type GPUCollector struct {
	capabilityCollector
}

// NewGPUCollector creates a new GPU collector.
func NewGPUCollector(caps platform.Capability) *GPUCollector {
	return &GPUCollector{capabilityCollector{caps: caps, domain: models.DomainGPU}}
}

func (c *GPUCollector) Collect(ctx context.Context) (models.Fragment, error) {
	gpus, err := c.caps.ReadGPU(ctx)
	if err != nil {
		return nil, err
	}
	return gpus, nil
}
