package collector

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform/platformtest"
)

func newTestRegistry(t *testing.T, fake *platformtest.Fake, timeout time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop(), timeout)
	for _, c := range Defaults(fake, 2) {
		r.Register(c)
	}
	return r
}

func TestCaptureOneResultPerDomain(t *testing.T) {
	fake := platformtest.New()
	r := newTestRegistry(t, fake, time.Second)

	tests := []struct {
		name    string
		request []models.Domain
		want    []models.Domain
	}{
		{"all when empty", nil, models.AllDomains()},
		{"subset", []models.Domain{models.DomainMemory, models.DomainCPU}, []models.Domain{models.DomainCPU, models.DomainMemory}},
		{"duplicates", []models.Domain{models.DomainDisk, models.DomainDisk, models.DomainCPU}, []models.Domain{models.DomainCPU, models.DomainDisk}},
		{"unknown domain", []models.Domain{"fan", models.DomainCPU}, []models.Domain{models.DomainCPU, "fan"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := r.Capture(context.Background(), tt.request)
			assert.Equal(t, tt.want, snap.Domains())
			assert.False(t, snap.Timestamp.IsZero())
		})
	}
}

func TestCaptureMarksUnavailableAndErrors(t *testing.T) {
	fake := platformtest.New()
	fake.Unsupported[models.DomainBattery] = "no battery present"
	fake.Errors = map[models.Domain]error{
		models.DomainDisk: errors.New().WithMessage(errors.ErrCollectFailed, "permission denied"),
	}
	r := newTestRegistry(t, fake, time.Second)

	snap := r.Capture(context.Background(), nil)

	gpu, ok := snap.Result(models.DomainGPU)
	require.True(t, ok)
	assert.Equal(t, models.StatusUnavailable, gpu.Status)
	assert.Equal(t, "no GPU backend found", gpu.Reason)
	assert.Zero(t, fake.Calls(models.DomainGPU), "unavailable collectors are not invoked")

	bat, _ := snap.Result(models.DomainBattery)
	assert.Equal(t, models.StatusUnavailable, bat.Status)

	disk, _ := snap.Result(models.DomainDisk)
	assert.Equal(t, models.StatusError, disk.Status)
	assert.Equal(t, string(errors.ErrCollectFailed), disk.Code)

	cpu, ok := snap.CPU()
	require.True(t, ok, "other domains still captured")
	assert.Equal(t, 12.5, cpu.UsagePercent)
}

func TestCaptureBackendUnavailableError(t *testing.T) {
	fake := platformtest.New()
	fake.Errors = map[models.Domain]error{
		models.DomainBattery: errors.New().WithMessage(errors.ErrUnavailable, "battery removed"),
	}
	r := newTestRegistry(t, fake, time.Second)

	res, _ := r.Capture(context.Background(), []models.Domain{models.DomainBattery}).Result(models.DomainBattery)
	assert.Equal(t, models.StatusUnavailable, res.Status)
	assert.Equal(t, "battery removed", res.Reason)
}

func TestCaptureTimeoutDoesNotBlockOthers(t *testing.T) {
	fake := platformtest.New()
	fake.Delay = map[models.Domain]time.Duration{models.DomainDisk: 5 * time.Second}
	r := newTestRegistry(t, fake, 100*time.Millisecond)

	start := time.Now()
	snap := r.Capture(context.Background(), []models.Domain{models.DomainCPU, models.DomainDisk})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)

	disk, _ := snap.Result(models.DomainDisk)
	assert.Equal(t, models.StatusError, disk.Status)
	assert.Equal(t, string(errors.ErrTimeout), disk.Code)
	assert.Equal(t, "collector exceeded 100ms timeout", disk.Reason)

	cpu, _ := snap.Result(models.DomainCPU)
	assert.Equal(t, models.StatusOK, cpu.Status)
}

// stubborn ignores its context entirely.
type stubborn struct{ release chan struct{} }

func (s stubborn) Domain() models.Domain       { return models.DomainMemory }
func (s stubborn) IsAvailable() (bool, string) { return true, "" }
func (s stubborn) Collect(context.Context) (models.Fragment, error) {
	<-s.release
	return models.MemoryState{Total: 1}, nil
}

func TestCaptureAbandonsCollectorIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	r := NewRegistry(zap.NewNop(), 50*time.Millisecond)
	r.Register(stubborn{release: release})

	snap := r.Capture(context.Background(), []models.Domain{models.DomainMemory})
	res, _ := snap.Result(models.DomainMemory)
	assert.Equal(t, string(errors.ErrTimeout), res.Code)
}

// flaky fails with a transient error on its first call only.
type flaky struct{ calls atomic.Int32 }

func (f *flaky) Domain() models.Domain       { return models.DomainMemory }
func (f *flaky) IsAvailable() (bool, string) { return true, "" }
func (f *flaky) Collect(context.Context) (models.Fragment, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New().New(errors.ErrTransient)
	}
	return models.MemoryState{Total: 10, Used: 5, UsedPercent: 50}, nil
}

func TestCaptureRetriesTransientOnce(t *testing.T) {
	c := &flaky{}
	r := NewRegistry(zap.NewNop(), time.Second)
	r.Register(c)

	snap := r.Capture(context.Background(), []models.Domain{models.DomainMemory})
	mem, ok := snap.Memory()
	require.True(t, ok)
	assert.Equal(t, uint64(10), mem.Total)
	assert.Equal(t, int32(2), c.calls.Load())
}

// scripted returns a fixed fragment or panics.
type scripted struct {
	domain models.Domain
	frag   models.Fragment
	panics bool
}

func (s scripted) Domain() models.Domain       { return s.domain }
func (s scripted) IsAvailable() (bool, string) { return true, "" }
func (s scripted) Collect(context.Context) (models.Fragment, error) {
	if s.panics {
		panic("sensor exploded")
	}
	return s.frag, nil
}

func TestCaptureRejectsGarbledFragments(t *testing.T) {
	tests := []struct {
		name string
		c    Collector
	}{
		{"nan percent", scripted{domain: models.DomainCPU, frag: models.CPUState{UsagePercent: math.NaN()}}},
		{"wrong domain", scripted{domain: models.DomainCPU, frag: models.MemoryState{Total: 1}}},
		{"nil fragment", scripted{domain: models.DomainCPU}},
		{"panic", scripted{domain: models.DomainCPU, panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(zap.NewNop(), time.Second)
			r.Register(tt.c)

			res, ok := r.Capture(context.Background(), []models.Domain{models.DomainCPU}).Result(models.DomainCPU)
			require.True(t, ok)
			assert.Equal(t, models.StatusError, res.Status)
			assert.Equal(t, string(errors.ErrInvariant), res.Code)
		})
	}
}

func TestCaptureCancelledParent(t *testing.T) {
	fake := platformtest.New()
	fake.Delay = map[models.Domain]time.Duration{models.DomainCPU: time.Second}
	r := newTestRegistry(t, fake, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, _ := r.Capture(ctx, []models.Domain{models.DomainCPU}).Result(models.DomainCPU)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, "capture cancelled", res.Reason)
}

func TestCaptureStableOrderAcrossCalls(t *testing.T) {
	fake := platformtest.New()
	r := newTestRegistry(t, fake, time.Second)

	first := r.Capture(context.Background(), nil)
	second := r.Capture(context.Background(), nil)

	d1, _ := first.Disks()
	d2, _ := second.Disks()
	assert.Equal(t, d1, d2)

	n1, _ := first.Network()
	n2, _ := second.Network()
	assert.Equal(t, []string{"lo", "eth0"}, []string{n1[0].Name, n1[1].Name})
	assert.Equal(t, n1, n2)
}

func TestProcessCollectorTopN(t *testing.T) {
	fake := platformtest.New()
	fake.Processes = models.ProcessList{
		{PID: 1, Name: "a", CPU: 1},
		{PID: 2, Name: "b", CPU: 9},
		{PID: 3, Name: "c", CPU: 1},
		{PID: 4, Name: "d", CPU: 5},
	}

	frag, err := NewProcessCollector(fake, 3).Collect(context.Background())
	require.NoError(t, err)

	procs := frag.(models.ProcessList)
	require.Len(t, procs, 3)
	assert.Equal(t, []int32{1, 2, 4}, []int32{procs[0].PID, procs[1].PID, procs[2].PID},
		"selection is by CPU, order is enumeration order")

	all, err := NewProcessCollector(fake, 0).Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, all.(models.ProcessList), 4)
}
