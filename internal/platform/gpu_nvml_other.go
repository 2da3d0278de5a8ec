//go:build !linux || !cgo

package platform

import (
	"context"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// nvmlReader is a placeholder where NVML bindings are not built; nvidia-smi
// covers NVIDIA adapters on these systems.
type nvmlReader struct{}

func newNVMLReader(*zap.Logger) gpuReader { return nvmlReader{} }

func (nvmlReader) name() string    { return "nvml" }
func (nvmlReader) available() bool { return false }
func (nvmlReader) close() error    { return nil }

func (nvmlReader) read(context.Context) (models.GPUStates, error) {
	return nil, unavailable("NVML is only built on linux")
}
