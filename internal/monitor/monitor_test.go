package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform/platformtest"
	"github.com/Guliveer/vitalis/probe/internal/stress"
)

type idleWorker struct{}

func (idleWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func newTestMonitor(t *testing.T, fake *platformtest.Fake) *Monitor {
	t.Helper()
	opts := DefaultOptions()
	opts.SampleInterval = 10 * time.Millisecond
	opts.GracePeriod = 200 * time.Millisecond
	opts.MaxDuration = time.Minute
	opts.OutputDir = t.TempDir()
	opts.StressOptions = []stress.Option{
		stress.WithWorkerFactory(func(stress.Config, int, uint64) stress.Worker { return idleWorker{} }),
		stress.WithTotalMemory(func() (uint64, error) { return 8 << 30, nil }),
	}
	m := New(fake, opts, nil)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewSessionRecordsHost(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())

	s := m.NewSession(context.Background())
	require.NotNil(t, s.System)
	assert.Equal(t, "testhost", s.System.Hostname)
	assert.Empty(t, s.SystemReason)
}

func TestNewSessionKeepsReasonOnFailure(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := m.NewSession(ctx)
	assert.Nil(t, s.System)
	assert.NotEmpty(t, s.SystemReason)
}

func TestCaptureSnapshotOneResultPerDomain(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())

	snap := m.CaptureSnapshot(context.Background(), nil)
	assert.Equal(t, models.AllDomains(), snap.Domains())

	gpu, ok := snap.Result(models.DomainGPU)
	require.True(t, ok)
	assert.Equal(t, models.StatusUnavailable, gpu.Status)

	snap = m.CaptureSnapshot(context.Background(), []models.Domain{models.DomainMemory, models.DomainCPU, models.DomainCPU})
	assert.Equal(t, []models.Domain{models.DomainCPU, models.DomainMemory}, snap.Domains())
}

func TestWatchCapturesRequestedTicks(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())

	var ticks []int
	n := m.Watch(context.Background(), 5*time.Millisecond, []models.Domain{models.DomainCPU}, 3,
		func(tick int, snap models.MetricSnapshot) {
			ticks = append(ticks, tick)
			assert.Len(t, snap.Results, 1)
		})
	assert.Equal(t, 3, n)
	assert.Len(t, ticks, 3)
}

func TestStartStressRejectsInvalidRequests(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())

	tests := []struct {
		name string
		req  StressRequest
	}{
		{"zero workers", StressRequest{Kind: models.StressCPU, Workers: 0, Duration: time.Second}},
		{"unknown kind", StressRequest{Kind: "disk", Workers: 1, Duration: time.Second}},
		{"over maximum", StressRequest{Kind: models.StressCPU, Workers: 1, Duration: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := m.StartStress(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrFatalConfig))
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, m.ActiveRuns())
}

func TestStressRunLifecycle(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())
	ctx := context.Background()

	id, err := m.StartStress(ctx, StressRequest{Kind: models.StressCPU, Workers: 2, Duration: 80 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, m.ActiveRuns())

	progress, err := m.StressProgress(id)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Workers)

	run, err := m.AwaitStress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StressCompleted, run.Status)
	assert.NotEmpty(t, run.Snapshots)
	assert.True(t, run.Sealed())

	_, err = m.AwaitStress(ctx, id)
	assert.True(t, errors.HasCode(err, errors.ErrRunNotFound))
	assert.Empty(t, m.ActiveRuns())
}

func TestCancelStress(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())
	ctx := context.Background()

	assert.True(t, errors.HasCode(m.CancelStress("stress-404"), errors.ErrRunNotFound))

	id, err := m.StartStress(ctx, StressRequest{Kind: models.StressMemory, Workers: 1, Duration: time.Minute})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, m.CancelStress(id))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	run, err := m.AwaitStress(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StressCancelled, run.Status)
	assert.GreaterOrEqual(t, len(run.Snapshots), 1)
}

func TestRunAuditAppendsFindings(t *testing.T) {
	fake := platformtest.New()
	fake.Processes = append(fake.Processes, models.ProcessInfo{PID: 666, Name: "xmrig", CPU: 95, Memory: 2, Status: "running"})
	fake.Connections = []models.Connection{
		{PID: 300, Protocol: "TCP", LocalIP: "0.0.0.0", LocalPort: 23, Status: "LISTEN"},
	}
	m := newTestMonitor(t, fake)

	s := m.NewSession(context.Background())
	s.AddSnapshot(m.CaptureSnapshot(context.Background(), nil))

	findings := m.RunAudit(context.Background(), s)
	require.Len(t, findings, 2)
	assert.Equal(t, "crypto-miner", findings[0].Evidence.Rule)
	assert.Equal(t, int32(666), findings[0].Evidence.PID)
	assert.Equal(t, "telnet-listener", findings[1].Evidence.Rule)
	assert.Equal(t, findings, s.Findings)
}

func TestRunAuditOrdersSpikesBeforeOverclock(t *testing.T) {
	fake := platformtest.New()
	fake.Processes = append(fake.Processes, models.ProcessInfo{PID: 77, Name: "MSIAfterburner.exe", Status: "running"})
	m := newTestMonitor(t, fake)

	s := m.NewSession(context.Background())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		rate := uint64(10 * 1024)
		if i == 19 {
			rate = 5 << 20
		}
		s.AddSnapshot(models.MetricSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Results: []models.CollectorResult{
				models.Ok(models.NetworkStates{{Name: "eth0", Up: true, RecvBytesPerSec: rate}}),
			},
		})
	}

	findings := m.RunAudit(context.Background(), s)
	require.Len(t, findings, 2)
	assert.Equal(t, models.CategoryNetwork, findings[0].Category)
	assert.Equal(t, "network-spike", findings[0].Evidence.Rule)
	assert.Equal(t, models.CategoryOverclock, findings[1].Category)
	assert.Equal(t, findings, s.Findings)
}

func TestRunAuditWithoutSnapshots(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())
	s := m.NewSession(context.Background())

	assert.Empty(t, m.RunAudit(context.Background(), s))
	assert.Empty(t, s.Findings)
}

func TestWriteReport(t *testing.T) {
	m := newTestMonitor(t, platformtest.New())
	s := m.NewSession(context.Background())
	s.AddSnapshot(m.CaptureSnapshot(context.Background(), nil))

	path, err := m.WriteReport(s, "")
	require.NoError(t, err)
	assert.Equal(t, m.opts.OutputDir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "report_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hostname")
	assert.Contains(t, string(data), "testhost")

	explicit := filepath.Join(t.TempDir(), "out.txt")
	got, err := m.WriteReport(s, explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)
}
