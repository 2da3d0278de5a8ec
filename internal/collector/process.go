package collector

import (
	"context"
	"sort"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// ProcessCollector collects the N busiest processes by CPU usage.
type ProcessCollector struct {
	capabilityCollector
	topN int
}

// NewProcessCollector creates a process collector that keeps the N processes
// with the highest CPU usage. topN <= 0 keeps all of them.
func NewProcessCollector(caps platform.Capability, topN int) *ProcessCollector {
	return &ProcessCollector{
		capabilityCollector: capabilityCollector{caps: caps, domain: models.DomainProcesses},
		topN:                topN,
	}
}

// Collect picks the busiest entries, breaking CPU ties by enumeration order,
// and returns them in enumeration order.
func (c *ProcessCollector) Collect(ctx context.Context) (models.Fragment, error) {
	procs, err := c.caps.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	if c.topN <= 0 || len(procs) <= c.topN {
		return append(models.ProcessList(nil), procs...), nil
	}

	idx := make([]int, len(procs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return procs[idx[i]].CPU > procs[idx[j]].CPU
	})
	idx = idx[:c.topN]
	sort.Ints(idx)

	infos := make(models.ProcessList, 0, len(idx))
	for _, i := range idx {
		infos = append(infos, procs[i])
	}
	return infos, nil
}
