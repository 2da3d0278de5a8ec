package stress

import (
	"context"
	"math"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

const (
	// dutySlot is the period over which a CPU worker's duty cycle is applied.
	dutySlot = 100 * time.Millisecond

	// memoryChunk is the allocation step of a memory worker; the stop signal
	// is checked between chunks.
	memoryChunk = 16 << 20

	retouchInterval = 100 * time.Millisecond
)

var pageSize = os.Getpagesize()

func defaultWorker(logger *zap.Logger) WorkerFactory {
	return func(cfg Config, index int, size uint64) Worker {
		if cfg.Kind == models.StressMemory {
			return &memoryWorker{bytes: size}
		}
		return &cpuWorker{
			intensity: cfg.intensity(),
			core:      index,
			pin:       cfg.Pin,
			logger:    logger,
		}
	}
}

// cpuWorker keeps one core busy for intensity of every dutySlot.
type cpuWorker struct {
	intensity float64
	core      int
	pin       bool
	logger    *zap.Logger
}

func (w *cpuWorker) Run(ctx context.Context) error {
	if w.pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinToCore(w.core); err != nil {
			w.logger.Debug("CPU pinning unavailable", zap.Int("core", w.core), zap.Error(err))
		}
	}

	busy := time.Duration(float64(dutySlot) * w.intensity)
	idle := dutySlot - busy

	x := 1.0
	for {
		slot := time.Now()
		for time.Since(slot) < busy {
			if ctx.Err() != nil {
				return nil
			}
			for i := 0; i < 2000; i++ {
				x = math.Sqrt(x*x+float64(i)) + 1
			}
		}
		runtime.KeepAlive(x)

		if idle <= 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		t := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// memoryWorker allocates and touches a working set of bytes, keeps it
// resident until stopped and releases it on return.
type memoryWorker struct {
	bytes uint64
	held  [][]byte
}

func (w *memoryWorker) Run(ctx context.Context) error {
	defer w.release()

	var allocated uint64
	for allocated < w.bytes {
		if ctx.Err() != nil {
			return nil
		}
		n := uint64(memoryChunk)
		if remaining := w.bytes - allocated; remaining < n {
			n = remaining
		}
		buf := make([]byte, n)
		touch(buf, 1)
		w.held = append(w.held, buf)
		allocated += n
	}

	ticker := time.NewTicker(retouchInterval)
	defer ticker.Stop()

	var pass byte = 1
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pass++
			for _, buf := range w.held {
				if ctx.Err() != nil {
					return nil
				}
				touch(buf, pass)
			}
		}
	}
}

func (w *memoryWorker) release() {
	w.held = nil
}

// touch writes one byte per page so the pages are actually committed.
func touch(buf []byte, v byte) {
	for i := 0; i < len(buf); i += pageSize {
		buf[i] = v
	}
}
