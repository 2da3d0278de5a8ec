package platform

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Sensor name substrings used to identify CPU temperature sensors across platforms.
// Linux:  coretemp_core_0_input, k10temp_tctl_input, acpitz_temp1_input, zenpower_tctl_input
// macOS:  TC0P (CPU proximity), TC0D (CPU die), TCXC (CPU core)
// Windows: CPU Package, CPU Core #0, etc.
var cpuSensorKeys = []string{
	"cpu", "core", "package",
	"tctl", "tdie", "k10temp", "coretemp",
	"tc0p", "tc0d", "tcxc",
	"acpitz", "zenpower",
}

// Readings outside (minValidTemp, maxValidTemp] are treated as sensor errors.
const (
	minValidTemp = 0.0
	maxValidTemp = 150.0
)

// ReadCPU measures per-core utilization over the rate window and derives the
// overall figure from it, so only one blocking sample is taken.
func (h *Host) ReadCPU(ctx context.Context) (models.CPUState, error) {
	perCore, err := cpu.PercentWithContext(ctx, h.opts.RateWindow, true)
	if err != nil {
		return models.CPUState{}, classify("cpu percent", err)
	}

	state := models.CPUState{
		PerCore: make([]float64, len(perCore)),
	}
	var sum float64
	for i, p := range perCore {
		state.PerCore[i] = models.ClampPercent(p)
		sum += state.PerCore[i]
	}
	if len(perCore) > 0 {
		state.UsagePercent = models.ClampPercent(sum / float64(len(perCore)))
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		state.Model = strings.TrimSpace(infos[0].ModelName)
		if infos[0].Mhz > 0 {
			state.FrequencyHz = uint64(infos[0].Mhz * 1e6)
		}
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		state.LogicalCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		state.PhysicalCores = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		state.Load = &models.LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}

	state.TemperatureC = h.cpuTemperature(ctx)
	return state, nil
}

// cpuTemperature returns the hottest matching CPU sensor, or nil.
func (h *Host) cpuTemperature(ctx context.Context) *float64 {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		h.logger.Debug("Temperature sensors not available", zap.Error(err))
		return nil
	}

	var hottest float64
	found := false
	for _, t := range temps {
		if !isValidTemperature(t.Temperature) {
			continue
		}
		if matchesSensor(strings.ToLower(t.SensorKey), cpuSensorKeys) {
			if !found || t.Temperature > hottest {
				hottest = t.Temperature
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return &hottest
}

// matchesSensor checks if the sensor name contains any of the given key substrings.
func matchesSensor(name string, keys []string) bool {
	for _, key := range keys {
		if strings.Contains(name, key) {
			return true
		}
	}
	return false
}

func isValidTemperature(temp float64) bool {
	return temp > minValidTemp && temp <= maxValidTemp
}
