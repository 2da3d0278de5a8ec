package collector

import (
	"context"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// NetworkCollector collects per-interface counters and throughput.
type NetworkCollector struct {
	capabilityCollector
}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector(caps platform.Capability) *NetworkCollector {
	return &NetworkCollector{capabilityCollector{caps: caps, domain: models.DomainNetwork}}
}

// Collect returns interfaces in backend enumeration order.
func (c *NetworkCollector) Collect(ctx context.Context) (models.Fragment, error) {
	ifaces, err := c.caps.ReadNetworkInterfaces(ctx)
	if err != nil {
		return nil, err
	}
	if ifaces == nil {
		ifaces = models.NetworkStates{}
	}
	return ifaces, nil
}
