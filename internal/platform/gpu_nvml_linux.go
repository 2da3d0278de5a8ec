//go:build linux && cgo

package platform

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// nvmlReader reads NVIDIA adapters through the NVML library.
type nvmlReader struct {
	logger      *zap.Logger
	initialized bool
}

func newNVMLReader(logger *zap.Logger) gpuReader {
	return &nvmlReader{logger: logger}
}

func (r *nvmlReader) name() string { return "nvml" }

// available initializes NVML once; failure means no driver or library.
func (r *nvmlReader) available() bool {
	if r.initialized {
		return true
	}
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		r.logger.Debug("NVML not available", zap.String("reason", nvml.ErrorString(ret)))
		return false
	}
	r.initialized = true
	return true
}

func (r *nvmlReader) read(ctx context.Context) (models.GPUStates, error) {
	if !r.initialized {
		return nil, unavailable("NVML not initialized")
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}

	states := make(models.GPUStates, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvml device %d: %s", i, nvml.ErrorString(ret))
		}

		state := models.GPUState{Index: i, Vendor: "NVIDIA", Source: "nvml"}
		if name, ret := device.GetName(); ret == nvml.SUCCESS {
			state.Name = name
		}
		if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
			state.UtilizationPercent = models.ClampPercent(float64(util.Gpu))
		}
		if memInfo, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
			state.MemoryTotal = memInfo.Total
			state.MemoryUsed = memInfo.Used
		}
		if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			state.TemperatureC = gpuTemperature(float64(temp))
		}
		if clock, ret := device.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
			state.ClockHz = uint64(clock) * 1_000_000
		}

		states = append(states, state)
	}
	return states, nil
}

func (r *nvmlReader) close() error {
	if !r.initialized {
		return nil
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	r.initialized = false
	return nil
}
