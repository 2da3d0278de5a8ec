package platform

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Host implements Capability on top of gopsutil, NVML, sysfs, smartctl and
// the battery library.
type Host struct {
	opts   Options
	logger *zap.Logger

	gpus  []gpuReader
	smart *smartReader

	batteryOnce   sync.Once
	batteryOK     bool
	batteryReason string

	osNameOnce sync.Once
	osName     string
}

// New creates the host backend. GPU and SMART readers are probed once here so
// availability is known before the first capture.
func New(opts Options, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateWindow < 0 {
		opts.RateWindow = 0
	}

	h := &Host{
		opts:   opts,
		logger: logger,
	}

	for _, r := range gpuReaders(logger) {
		if r.available() {
			logger.Debug("GPU reader available", zap.String("reader", r.name()))
			h.gpus = append(h.gpus, r)
		}
	}

	if !opts.DisableSMART {
		h.smart = newSMARTReader(logger)
	}

	return h
}

// Name returns the backend identifier.
func (h *Host) Name() string { return "gopsutil/" + runtime.GOOS }

// Supports declares per-domain availability.
func (h *Host) Supports(d models.Domain) (bool, string) {
	switch d {
	case models.DomainCPU, models.DomainMemory, models.DomainDisk,
		models.DomainNetwork, models.DomainProcesses:
		return true, ""
	case models.DomainGPU:
		if len(h.gpus) == 0 {
			return false, "no GPU backend (NVML, DRM sysfs or nvidia-smi) found"
		}
		return true, ""
	case models.DomainBattery:
		h.batteryOnce.Do(func() {
			h.batteryOK, h.batteryReason = probeBattery()
		})
		return h.batteryOK, h.batteryReason
	}
	return false, "unknown domain"
}

// Close shuts down GPU readers.
func (h *Host) Close() error {
	var first error
	for _, r := range h.gpus {
		if err := r.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadSystemInfo gathers host identity. The OS name is cached since it does
// not change during runtime.
func (h *Host) ReadSystemInfo(ctx context.Context) (models.SystemInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return models.SystemInfo{}, classify("host info", err)
	}

	h.osNameOnce.Do(func() {
		h.osName = prettyOSName(info.Platform, info.PlatformVersion)
	})

	return models.SystemInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        h.osName,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		BootTime:        time.Unix(int64(info.BootTime), 0).UTC(),
		Uptime:          time.Duration(info.Uptime) * time.Second,
	}, nil
}

// prettyOSName prefers PRETTY_NAME from /etc/os-release on Linux and falls
// back to gopsutil's platform fields elsewhere.
func prettyOSName(platform, version string) string {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/etc/os-release"); err == nil {
			fields := parseKeyValueFile(string(data))
			if pretty, ok := fields["PRETTY_NAME"]; ok {
				return strings.Trim(pretty, "\"")
			}
			if name, ok := fields["NAME"]; ok {
				return strings.TrimSpace(strings.Trim(name, "\"") + " " + version)
			}
		}
	}
	return strings.TrimSpace(platform + " " + version)
}

// parseKeyValueFile parses a file with KEY=VALUE lines (like /etc/os-release).
func parseKeyValueFile(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			fields[parts[0]] = parts[1]
		}
	}
	return fields
}
