package platform

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// ReadMemory gathers RAM and swap usage. Swap failures are not fatal.
func (h *Host) ReadMemory(ctx context.Context) (models.MemoryState, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.MemoryState{}, classify("virtual memory", err)
	}

	state := models.MemoryState{
		Total:       v.Total,
		Used:        v.Used,
		Available:   v.Available,
		UsedPercent: models.ClampPercent(v.UsedPercent),
	}

	if s, err := mem.SwapMemoryWithContext(ctx); err == nil {
		state.SwapTotal = s.Total
		state.SwapUsed = s.Used
		state.SwapPercent = models.ClampPercent(s.UsedPercent)
	}

	return state, nil
}
