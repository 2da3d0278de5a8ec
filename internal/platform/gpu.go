package platform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// gpuReader is one way of enumerating graphics adapters.
type gpuReader interface {
	name() string
	available() bool
	read(ctx context.Context) (models.GPUStates, error)
	close() error
}

// gpuReaders lists readers in preference order: NVML, DRM sysfs, nvidia-smi.
func gpuReaders(logger *zap.Logger) []gpuReader {
	return []gpuReader{
		newNVMLReader(logger),
		newSysfsReader(defaultDRMRoot, logger),
		newSMIReader(logger),
	}
}

// ReadGPU returns the adapters reported by the first reader that finds any.
func (h *Host) ReadGPU(ctx context.Context) (models.GPUStates, error) {
	if len(h.gpus) == 0 {
		return nil, unavailable("no GPU backend available")
	}

	var lastErr error
	for _, r := range h.gpus {
		states, err := r.read(ctx)
		if err != nil {
			h.logger.Debug("GPU reader failed", zap.String("reader", r.name()), zap.Error(err))
			lastErr = err
			continue
		}
		if len(states) > 0 {
			return states, nil
		}
	}
	if lastErr != nil {
		return nil, classify("gpu read", lastErr)
	}
	return nil, unavailable(fmt.Sprintf("no GPU devices reported by %d backend(s)", len(h.gpus)))
}

func gpuTemperature(v float64) *float64 {
	if !isValidTemperature(v) {
		return nil
	}
	return &v
}
