package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// DiskCollector collects per-partition usage and IO rates.
type DiskCollector struct {
	capabilityCollector
}

// NewDiskCollector creates a new disk collector.
func NewDiskCollector(caps platform.Capability) *DiskCollector {
	return &DiskCollector{capabilityCollector{caps: caps, domain: models.DomainDisk}}
}

// Collect returns partitions in backend enumeration order.
func (c *DiskCollector) Collect(ctx context.Context) (models.Fragment, error) {
	disks, err := c.caps.ReadDisks(ctx)
	if err != nil {
		return nil, err
	}
	if disks == nil {
		disks = models.DiskStates{}
	}
	return disks, nil
}
