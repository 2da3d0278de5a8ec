package stress

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

type countingSampler struct {
	calls atomic.Int32
}

func (s *countingSampler) Capture(_ context.Context, domains []models.Domain) models.MetricSnapshot {
	s.calls.Add(1)
	results := make([]models.CollectorResult, 0, len(domains))
	for _, d := range domains {
		results = append(results, models.Unavailable(d, "test"))
	}
	return models.MetricSnapshot{Timestamp: time.Now().UTC(), Results: results}
}

// funcWorker adapts a function to Worker.
type funcWorker func(ctx context.Context) error

func (f funcWorker) Run(ctx context.Context) error { return f(ctx) }

func idleWorker(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func factoryOf(fn func(index int) Worker, built *atomic.Int32) Option {
	return WithWorkerFactory(func(_ Config, index int, _ uint64) Worker {
		if built != nil {
			built.Add(1)
		}
		return fn(index)
	})
}

func cpuConfig(d time.Duration) Config {
	return Config{
		Kind:           models.StressCPU,
		Workers:        2,
		Duration:       d,
		SampleInterval: 20 * time.Millisecond,
		Intensity:      0.1,
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -3 }},
		{"zero duration", func(c *Config) { c.Duration = 0 }},
		{"zero sample interval", func(c *Config) { c.SampleInterval = 0 }},
		{"unknown kind", func(c *Config) { c.Kind = "disk" }},
		{"intensity above one", func(c *Config) { c.Intensity = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var built atomic.Int32
			sampler := &countingSampler{}
			h := NewHarness(sampler, time.Second, zap.NewNop(),
				factoryOf(func(int) Worker { return funcWorker(idleWorker) }, &built))

			cfg := cpuConfig(time.Second)
			tt.mutate(&cfg)

			handle, err := h.Start(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, handle)
			assert.True(t, errors.HasCode(err, errors.ErrFatalConfig))
			assert.Zero(t, built.Load(), "no worker may be built")
			assert.Zero(t, sampler.calls.Load(), "no sample may be taken")
		})
	}
}

func TestRunCompletes(t *testing.T) {
	sampler := &countingSampler{}
	h := NewHarness(sampler, time.Second, zap.NewNop())

	handle, err := h.Start(context.Background(), cpuConfig(150*time.Millisecond))
	require.NoError(t, err)

	run := handle.Wait()
	assert.Equal(t, models.StressCompleted, run.Status)
	assert.True(t, run.Sealed())
	assert.Equal(t, 2, run.Workers)
	assert.Equal(t, models.StressCPU, run.Kind)
	assert.GreaterOrEqual(t, len(run.Snapshots), 1)
	assert.Zero(t, handle.ActiveWorkers())
	assert.False(t, run.EndedAt.Before(run.StartedAt))
	assert.Equal(t, []models.Domain{models.DomainCPU, models.DomainMemory}, run.Snapshots[0].Domains())
}

func TestCancelMidRun(t *testing.T) {
	grace := 500 * time.Millisecond
	h := NewHarness(&countingSampler{}, grace, zap.NewNop(),
		factoryOf(func(int) Worker { return funcWorker(idleWorker) }, nil))

	handle, err := h.Start(context.Background(), cpuConfig(time.Hour))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, handle.ActiveWorkers())

	cancelled := time.Now()
	handle.Cancel()
	handle.Cancel()
	run := handle.Wait()

	assert.Less(t, time.Since(cancelled), grace+200*time.Millisecond)
	assert.Equal(t, models.StressCancelled, run.Status)
	assert.GreaterOrEqual(t, len(run.Snapshots), 1)
	assert.Zero(t, handle.ActiveWorkers())
}

func TestParentContextCancels(t *testing.T) {
	h := NewHarness(&countingSampler{}, time.Second, zap.NewNop(),
		factoryOf(func(int) Worker { return funcWorker(idleWorker) }, nil))

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := h.Start(ctx, cpuConfig(time.Hour))
	require.NoError(t, err)

	cancel()
	run := handle.Wait()
	assert.Equal(t, models.StressCancelled, run.Status)
	assert.Equal(t, context.Canceled.Error(), run.Cause)
}

func TestWorkerFailureCancelsSiblings(t *testing.T) {
	var stopped atomic.Int32
	h := NewHarness(&countingSampler{}, time.Second, zap.NewNop(),
		factoryOf(func(index int) Worker {
			if index == 0 {
				return funcWorker(func(context.Context) error {
					time.Sleep(30 * time.Millisecond)
					return fmt.Errorf("allocation refused")
				})
			}
			return funcWorker(func(ctx context.Context) error {
				<-ctx.Done()
				stopped.Add(1)
				return nil
			})
		}, nil))

	cfg := cpuConfig(time.Hour)
	cfg.Workers = 3
	handle, err := h.Start(context.Background(), cfg)
	require.NoError(t, err)

	run := handle.Wait()
	assert.Equal(t, models.StressFailed, run.Status)
	assert.Contains(t, run.Cause, "allocation refused")
	assert.Equal(t, int32(2), stopped.Load())
	assert.Zero(t, handle.ActiveWorkers())
}

func TestWorkerPanicFailsRun(t *testing.T) {
	h := NewHarness(&countingSampler{}, time.Second, zap.NewNop(),
		factoryOf(func(index int) Worker {
			if index == 1 {
				return funcWorker(func(context.Context) error { panic("boom") })
			}
			return funcWorker(idleWorker)
		}, nil))

	handle, err := h.Start(context.Background(), cpuConfig(time.Hour))
	require.NoError(t, err)

	run := handle.Wait()
	assert.Equal(t, models.StressFailed, run.Status)
	assert.Contains(t, run.Cause, "worker 1 panicked: boom")
}

func TestStubbornWorkerForcedStop(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	grace := 100 * time.Millisecond
	h := NewHarness(&countingSampler{}, grace, zap.NewNop(),
		factoryOf(func(int) Worker {
			return funcWorker(func(context.Context) error {
				<-release
				return nil
			})
		}, nil))

	cfg := cpuConfig(50 * time.Millisecond)
	cfg.Workers = 1
	handle, err := h.Start(context.Background(), cfg)
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not resolve after grace period")
	}

	run := handle.Wait()
	assert.Equal(t, models.StressFailed, run.Status)
	assert.Equal(t, "forced-stop", run.Cause)
	assert.Equal(t, 1, handle.ActiveWorkers())
}

func TestSealedRunIsImmutable(t *testing.T) {
	sampler := &countingSampler{}
	h := NewHarness(sampler, time.Second, zap.NewNop(),
		factoryOf(func(int) Worker { return funcWorker(idleWorker) }, nil))

	handle, err := h.Start(context.Background(), cpuConfig(60*time.Millisecond))
	require.NoError(t, err)

	first := handle.Wait()
	time.Sleep(60 * time.Millisecond)
	second := handle.Wait()
	assert.Equal(t, first, second)

	first.Snapshots = append(first.Snapshots, models.MetricSnapshot{})
	assert.Len(t, handle.Progress().Snapshots, len(second.Snapshots))
}

func TestProgressWhileRunning(t *testing.T) {
	h := NewHarness(&countingSampler{}, time.Second, zap.NewNop(),
		factoryOf(func(int) Worker { return funcWorker(idleWorker) }, nil))

	handle, err := h.Start(context.Background(), cpuConfig(time.Hour))
	require.NoError(t, err)
	defer handle.Wait()
	defer handle.Cancel()

	require.Eventually(t, func() bool {
		return len(handle.Progress().Snapshots) >= 2
	}, time.Second, 10*time.Millisecond)

	p := handle.Progress()
	assert.Equal(t, models.StressRunning, p.Status)
	assert.False(t, p.Sealed())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = handle.WaitContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryRunSizesWorkers(t *testing.T) {
	var sizes []uint64
	sizeCh := make(chan uint64, 4)
	h := NewHarness(&countingSampler{}, time.Second, zap.NewNop(),
		WithTotalMemory(func() (uint64, error) { return 8 << 30, nil }),
		WithWorkerFactory(func(_ Config, _ int, size uint64) Worker {
			sizeCh <- size
			return funcWorker(idleWorker)
		}))

	handle, err := h.Start(context.Background(), Config{
		Kind:           models.StressMemory,
		Workers:        4,
		Duration:       30 * time.Millisecond,
		SampleInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	handle.Wait()

	close(sizeCh)
	for s := range sizeCh {
		sizes = append(sizes, s)
	}
	total := float64(8 << 30)
	want := uint64(total*DefaultMemoryFraction) / 4
	assert.Equal(t, []uint64{want, want, want, want}, sizes)
}

func TestMemoryWorkerReleasesOnStop(t *testing.T) {
	w := &memoryWorker{bytes: 3 << 20}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("memory worker ignored stop")
	}
	assert.Nil(t, w.held)
}

func TestCPUWorkerStops(t *testing.T) {
	w := &cpuWorker{intensity: 0.5, logger: zap.NewNop()}
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, w.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWorkingSet(t *testing.T) {
	const gib = uint64(1 << 30)
	share := func(total uint64, f float64) uint64 { return uint64(float64(total) * f) }

	tests := []struct {
		name      string
		total     uint64
		requested uint64
		fraction  float64
		want      uint64
	}{
		{"default fraction", 10 * gib, 0, 0, share(10*gib, DefaultMemoryFraction)},
		{"custom fraction", 8 * gib, 0, 0.5, 4 * gib},
		{"capped at seventy percent", 10 * gib, 9 * gib, 0, share(10*gib, MaxMemoryFraction)},
		{"explicit request", 10 * gib, 2 * gib, 0, 2 * gib},
		{"minimum", 10 * gib, 1 << 20, 0, MinWorkingSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WorkingSet(tt.total, tt.requested, tt.fraction))
		})
	}
}

func TestIntensityClamp(t *testing.T) {
	assert.Equal(t, 1.0, Config{}.intensity())
	assert.Equal(t, 0.1, Config{Intensity: 0.01}.intensity())
	assert.Equal(t, 0.4, Config{Intensity: 0.4}.intensity())
}
