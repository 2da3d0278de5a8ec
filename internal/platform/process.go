package platform

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// normalizedStatuses maps raw gopsutil status strings to a consistent set of
// display values used across all platforms.
var normalizedStatuses = map[string]string{
	"running":               "running",
	"sleeping":              "sleeping",
	"idle":                  "idle",
	"stopped":               "stopped",
	"zombie":                "zombie",
	"wait":                  "sleeping",
	"lock":                  "sleeping",
	"sleep":                 "sleeping",
	"disk-sleep":            "sleeping",
	"tracing-stop":          "stopped",
	"dead":                  "zombie",
	"wake-kill":             "sleeping",
	"waking":                "running",
	"parked":                "idle",
	"idle-interrupt":        "idle",
	"suspended":             "stopped",
	"uninterruptible-sleep": "sleeping",
}

// normalizeStatus maps a raw status to a display value. Empty statuses
// (common on Windows) are inferred from CPU activity.
func normalizeStatus(raw string, cpuPct float64) string {
	if raw != "" {
		key := strings.ToLower(strings.TrimSpace(raw))
		if mapped, ok := normalizedStatuses[key]; ok {
			return mapped
		}
		return key
	}

	if cpuPct > 0 {
		return "running"
	}
	return "idle"
}

// ListProcesses returns every visible process in PID enumeration order.
// Processes that exit before their name is read are dropped. Entries that
// deny access keep whatever fields could be read.
func (h *Host) ListProcesses(ctx context.Context) (models.ProcessList, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, classify("process list", err)
	}

	infos := make(models.ProcessList, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, err := p.NameWithContext(ctx)
		if err != nil && processGone(err) {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		status, _ := p.StatusWithContext(ctx)
		ppid, _ := p.PpidWithContext(ctx)
		user, _ := p.UsernameWithContext(ctx)
		exe, _ := p.ExeWithContext(ctx)

		rawStatus := ""
		if len(status) > 0 {
			rawStatus = status[0]
		}
		if cpuPct < 0 {
			cpuPct = 0
		}

		infos = append(infos, models.ProcessInfo{
			PID:      p.Pid,
			PPID:     ppid,
			Name:     name,
			Username: user,
			Exe:      exe,
			CPU:      cpuPct,
			Memory:   models.ClampPercent(float64(memPct)),
			Status:   normalizeStatus(rawStatus, cpuPct),
		})
	}

	return infos, nil
}
