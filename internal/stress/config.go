package stress

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

const (
	// DefaultMemoryFraction of total RAM used as the memory working set.
	DefaultMemoryFraction = 0.6

	// MaxMemoryFraction caps the working set regardless of configuration.
	MaxMemoryFraction = 0.7

	// MinWorkingSet is the smallest working set a memory run allocates.
	MinWorkingSet uint64 = 128 << 20

	minIntensity = 0.1
)

// Config describes one stress run.
type Config struct {
	Kind           models.StressKind `validate:"oneof=cpu memory"`
	Workers        int               `validate:"gt=0"`
	Duration       time.Duration     `validate:"gt=0"`
	SampleInterval time.Duration     `validate:"gt=0"`

	// Intensity is the CPU duty cycle. Zero means full load; other values are
	// clamped to [0.1, 1].
	Intensity float64 `validate:"gte=0,lte=1"`

	// MemoryBytes is the total working set across memory workers. Zero derives
	// it from MemoryFraction and total RAM.
	MemoryBytes    uint64
	MemoryFraction float64 `validate:"gte=0,lte=1"`

	// Pin locks each CPU worker to its own core where the OS allows it.
	Pin bool

	// Domains sampled during the run; empty samples CPU and memory.
	Domains []models.Domain
}

var configValidator = validator.New()

func (c Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s must satisfy %s %s (got %v)",
					strings.ToLower(e.Field()), e.Tag(), e.Param(), e.Value()))
			}
			return errFactory.WithMessage(errFatalConfig, strings.Join(msgs, "; "))
		}
		return errFactory.Wrap(errFatalConfig, err)
	}
	return nil
}

func (c Config) domains() []models.Domain {
	if len(c.Domains) == 0 {
		return []models.Domain{models.DomainCPU, models.DomainMemory}
	}
	return c.Domains
}

func (c Config) intensity() float64 {
	switch {
	case c.Intensity <= 0 || c.Intensity > 1:
		return 1
	case c.Intensity < minIntensity:
		return minIntensity
	}
	return c.Intensity
}

// WorkingSet returns the total bytes a memory run allocates on a host with
// total bytes of RAM.
func WorkingSet(total uint64, requested uint64, fraction float64) uint64 {
	limit := uint64(float64(total) * MaxMemoryFraction)

	size := requested
	if size == 0 {
		if fraction <= 0 {
			fraction = DefaultMemoryFraction
		}
		size = uint64(float64(total) * fraction)
	}
	if size > limit {
		size = limit
	}
	if size < MinWorkingSet {
		size = MinWorkingSet
	}
	return size
}
