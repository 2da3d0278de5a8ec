// Package stress runs bounded CPU and memory load while sampling snapshots,
// producing a sealed StressRun that records how the host responded.
package stress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

// DefaultGracePeriod bounds how long workers may take to honor a stop.
const DefaultGracePeriod = 2 * time.Second

var errFactory = errors.New()

const errFatalConfig = errors.ErrFatalConfig

// Sampler takes the snapshots recorded during a run.
type Sampler interface {
	Capture(ctx context.Context, domains []models.Domain) models.MetricSnapshot
}

// Worker generates load until its context is cancelled.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFactory builds worker index of a run. size is the per-worker share
// of the memory working set and is zero for CPU runs.
type WorkerFactory func(cfg Config, index int, size uint64) Worker

// Option configures a Harness.
type Option func(*Harness)

// WithWorkerFactory replaces the built-in CPU and memory workers.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(h *Harness) { h.newWorker = f }
}

// WithTotalMemory overrides how total RAM is discovered for memory runs.
func WithTotalMemory(f func() (uint64, error)) Option {
	return func(h *Harness) { h.totalMemory = f }
}

// Harness starts and supervises stress runs.
type Harness struct {
	sampler     Sampler
	grace       time.Duration
	logger      *zap.Logger
	newWorker   WorkerFactory
	totalMemory func() (uint64, error)
	seq         atomic.Uint64
}

// NewHarness creates a Harness sampling through sampler.
func NewHarness(sampler Sampler, grace time.Duration, logger *zap.Logger, opts ...Option) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	h := &Harness{
		sampler:     sampler,
		grace:       grace,
		logger:      logger,
		newWorker:   defaultWorker(logger),
		totalMemory: hostMemory,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func hostMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// Start validates cfg and launches the run. Invalid configuration returns a
// fatal_config error and nothing is spawned. Cancelling ctx cancels the run.
func (h *Harness) Start(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var perWorker uint64
	if cfg.Kind == models.StressMemory {
		total, err := h.totalMemory()
		if err != nil {
			return nil, errFactory.Wrap(errFatalConfig, fmt.Errorf("reading total memory: %w", err))
		}
		perWorker = WorkingSet(total, cfg.MemoryBytes, cfg.MemoryFraction) / uint64(cfg.Workers)
	}

	workers := make([]Worker, cfg.Workers)
	for i := range workers {
		workers[i] = h.newWorker(cfg, i, perWorker)
	}

	handle := &Handle{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
		run: models.StressRun{
			ID:        fmt.Sprintf("stress-%d", h.seq.Add(1)),
			Kind:      cfg.Kind,
			Workers:   cfg.Workers,
			Duration:  cfg.Duration,
			StartedAt: time.Now().UTC(),
			Status:    models.StressRunning,
		},
	}

	logger := h.logger.With(zap.String("run", handle.run.ID))
	logger.Info("Stress run started",
		zap.String("kind", string(cfg.Kind)),
		zap.Int("workers", cfg.Workers),
		zap.Duration("duration", cfg.Duration),
		zap.Uint64("bytes_per_worker", perWorker))

	go h.supervise(ctx, cfg, handle, workers, logger)
	return handle, nil
}

func (h *Harness) supervise(parent context.Context, cfg Config, handle *Handle, workers []Worker, logger *zap.Logger) {
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	g, gctx := errgroup.WithContext(workCtx)
	for i, w := range workers {
		handle.active.Add(1)
		g.Go(func() error {
			defer handle.active.Add(-1)
			return runWorker(gctx, i, w)
		})
	}
	workersDone := make(chan error, 1)
	go func() { workersDone <- g.Wait() }()

	sampleCtx, stopSampling := context.WithCancel(context.Background())
	defer stopSampling()
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		h.sample(sampleCtx, cfg, handle)
	}()

	timer := time.NewTimer(cfg.Duration)
	defer timer.Stop()

	status, cause := models.StressRunning, ""
	finished := false
	for status == models.StressRunning {
		select {
		case <-timer.C:
			status = models.StressCompleted
		case <-handle.cancel:
			status, cause = models.StressCancelled, "cancelled by caller"
		case <-parent.Done():
			status, cause = models.StressCancelled, parent.Err().Error()
		case err := <-workersDone:
			finished = true
			workersDone = nil
			if err != nil {
				status, cause = models.StressFailed, err.Error()
				logger.Error("Stress worker failed", zap.Error(err))
			}
		}
	}

	stopWork()
	stopSampling()

	graceCtx, graceDone := context.WithTimeout(context.Background(), h.grace)
	defer graceDone()

	if !finished {
		select {
		case <-workersDone:
		case <-graceCtx.Done():
			status, cause = models.StressFailed, errFactory.New(errors.ErrForcedStop).Error()
			logger.Error("Stress workers ignored stop signal",
				zap.Int("active", handle.ActiveWorkers()),
				zap.Duration("grace", h.grace))
		}
	}

	select {
	case <-samplerDone:
	case <-graceCtx.Done():
		logger.Warn("Sampler did not stop within grace period")
	}

	run := handle.seal(status, cause)
	logger.Info("Stress run finished",
		zap.String("status", string(run.Status)),
		zap.String("cause", run.Cause),
		zap.Int("snapshots", len(run.Snapshots)))
}

// sample captures immediately and then every SampleInterval until ctx is
// done, so every run records at least one snapshot. It is the only writer of
// the run's snapshot list.
func (h *Harness) sample(ctx context.Context, cfg Config, handle *Handle) {
	ticker := time.NewTicker(cfg.SampleInterval)
	defer ticker.Stop()

	domains := cfg.domains()
	for n := 0; ; n++ {
		snap := h.sampler.Capture(ctx, domains)
		// A capture cut short by the stop is kept only when it is the first.
		if n > 0 && ctx.Err() != nil {
			return
		}
		if !handle.appendSnapshot(snap) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runWorker runs w, turning a panic or an unexpected error into a
// worker_failure. A worker returning because it was stopped is not a failure.
func runWorker(ctx context.Context, index int, w Worker) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errFactory.WithMessage(errors.ErrWorkerFailure, fmt.Sprintf("worker %d panicked: %v", index, p))
		}
	}()

	err = w.Run(ctx)
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	if errors.HasCode(err, errors.ErrWorkerFailure) {
		return err
	}
	return errFactory.WithMessage(errors.ErrWorkerFailure, fmt.Sprintf("worker %d: %v", index, err))
}

// Handle tracks one run. All methods are safe for concurrent use.
type Handle struct {
	mu     sync.RWMutex
	run    models.StressRun
	sealed bool

	active     atomic.Int32
	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}
}

// ID identifies the run.
func (h *Handle) ID() string {
	return h.run.ID
}

// Cancel asks the run to stop. It is idempotent and does not wait.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

// Done is closed once the run is sealed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is sealed and returns it.
func (h *Handle) Wait() models.StressRun {
	<-h.done
	return h.Progress()
}

// WaitContext is Wait bounded by ctx.
func (h *Handle) WaitContext(ctx context.Context) (models.StressRun, error) {
	select {
	case <-h.done:
		return h.Progress(), nil
	case <-ctx.Done():
		return models.StressRun{}, ctx.Err()
	}
}

// Progress returns a copy of the run as it stands.
func (h *Handle) Progress() models.StressRun {
	h.mu.RLock()
	defer h.mu.RUnlock()

	run := h.run
	run.Snapshots = append([]models.MetricSnapshot(nil), h.run.Snapshots...)
	return run
}

// ActiveWorkers returns the number of worker goroutines still running.
func (h *Handle) ActiveWorkers() int {
	return int(h.active.Load())
}

func (h *Handle) appendSnapshot(snap models.MetricSnapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sealed {
		return false
	}
	h.run.Snapshots = append(h.run.Snapshots, snap)
	return true
}

func (h *Handle) seal(status models.StressStatus, cause string) models.StressRun {
	h.mu.Lock()
	h.sealed = true
	h.run.Status = status
	h.run.Cause = cause
	h.run.EndedAt = time.Now().UTC()
	run := h.run
	h.mu.Unlock()

	close(h.done)
	return run
}
