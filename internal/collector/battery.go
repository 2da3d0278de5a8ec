package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// BatteryCollector collects charge level and power source.
type BatteryCollector struct {
	capabilityCollector
}

// NewBatteryCollector creates a new battery collector.
func NewBatteryCollector(caps platform.Capability) *BatteryCollector {
	return &BatteryCollector{capabilityCollector{caps: caps, domain: models.DomainBattery}}
}

func (c *BatteryCollector) Collect(ctx context.Context) (models.Fragment, error) {
	state, err := c.caps.ReadBattery(ctx)
	if err != nil {
		return nil, err
	}
	return state, nil
}
