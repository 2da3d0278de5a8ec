// Package monitor is the command/query surface presentation layers call into.
// It wires a platform capability to the collector registry, the stress
// harness, the security auditor and the report builder. The monitor keeps no
// current session: callers own their Session and pass it in.
package monitor

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/audit"
	"github.com/Guliveer/vitalis/probe/internal/collector"
	"github.com/Guliveer/vitalis/probe/internal/config"
	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/platform"
	"github.com/Guliveer/vitalis/probe/internal/report"
	"github.com/Guliveer/vitalis/probe/internal/scheduler"
	"github.com/Guliveer/vitalis/probe/internal/stress"
)

var errFactory = errors.New()

// Options configure a Monitor.
type Options struct {
	CollectorTimeout time.Duration
	TopProcesses     int

	SampleInterval  time.Duration
	GracePeriod     time.Duration
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	CPUIntensity    float64
	MemoryFraction  float64
	PinWorkers      bool

	Rules      *audit.RuleSet
	Spike      audit.SpikeConfig
	Thresholds report.Thresholds
	OutputDir  string

	StressOptions []stress.Option
	ReportOptions []report.Option
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.DefaultConfig())
	return opts
}

// OptionsFromConfig translates the loaded configuration, reading the audit
// rule set from disk when one is configured.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	rules, err := audit.LoadRuleSet(cfg.Audit.RuleSet)
	if err != nil {
		return Options{}, err
	}
	return Options{
		CollectorTimeout: cfg.Capture.CollectorTimeout.Duration,
		TopProcesses:     cfg.Capture.TopProcesses,
		SampleInterval:   cfg.Stress.SampleInterval.Duration,
		GracePeriod:      cfg.Stress.GracePeriod.Duration,
		DefaultDuration:  cfg.Stress.DefaultDuration.Duration,
		MaxDuration:      cfg.Stress.MaxDuration.Duration,
		CPUIntensity:     cfg.Stress.CPUIntensity,
		MemoryFraction:   cfg.Stress.MemoryFraction,
		PinWorkers:       cfg.Stress.PinWorkers,
		Rules:            rules,
		Spike: audit.SpikeConfig{
			Window:         cfg.Audit.Spike.Window,
			Factor:         cfg.Audit.Spike.Factor,
			MinBytesPerSec: cfg.Audit.Spike.MinBytesPerSec,
		},
		Thresholds: report.Thresholds{
			CPU:    cfg.Report.Thresholds.CPU,
			Memory: cfg.Report.Thresholds.Memory,
			GPU:    cfg.Report.Thresholds.GPU,
			Disk:   cfg.Report.Thresholds.Disk,
		},
		OutputDir: cfg.Report.OutputDir,
	}, nil
}

// StressRequest asks for one stress run. Zero Duration uses the configured
// default; zero Intensity and MemoryFraction use the configured values.
type StressRequest struct {
	Kind           models.StressKind
	Workers        int
	Duration       time.Duration
	Intensity      float64
	MemoryBytes    uint64
	MemoryFraction float64
	Domains        []models.Domain
}

// Monitor serves captures, stress runs, audits and reports for one host.
type Monitor struct {
	caps     platform.Capability
	registry *collector.Registry
	harness  *stress.Harness
	auditor  *audit.Auditor
	builder  *report.Builder
	opts     Options
	logger   *zap.Logger

	mu   sync.Mutex
	runs map[string]*stress.Handle
}

// New creates a Monitor reading from caps.
func New(caps platform.Capability, opts Options, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := collector.NewRegistry(logger.Named("collector"), opts.CollectorTimeout)
	for _, c := range collector.Defaults(caps, opts.TopProcesses) {
		registry.Register(c)
	}

	m := &Monitor{
		caps:     caps,
		registry: registry,
		harness:  stress.NewHarness(registry, opts.GracePeriod, logger.Named("stress"), opts.StressOptions...),
		auditor:  audit.New(opts.Rules, logger.Named("audit")),
		builder:  report.NewBuilder(opts.Thresholds, opts.ReportOptions...),
		opts:     opts,
		logger:   logger,
		runs:     make(map[string]*stress.Handle),
	}

	logger.Info("Monitor ready",
		zap.String("backend", caps.Name()),
		zap.Int("domains", len(registry.Domains())))
	return m
}

// Domains returns the domains the monitor can capture.
func (m *Monitor) Domains() []models.Domain {
	return m.registry.Domains()
}

// NewSession starts a session stamped with the host identity. A failed
// identity read is recorded on the session rather than returned.
func (m *Monitor) NewSession(ctx context.Context) *models.Session {
	s := models.NewSession(time.Now())
	info, err := m.caps.ReadSystemInfo(ctx)
	if err != nil {
		m.logger.Warn("System information unavailable", zap.Error(err))
		s.SystemReason = err.Error()
		return s
	}
	s.System = &info
	return s
}

// CaptureSnapshot captures the given domains; empty means every domain.
func (m *Monitor) CaptureSnapshot(ctx context.Context, domains []models.Domain) models.MetricSnapshot {
	return m.registry.Capture(ctx, domains)
}

// Watch captures repeatedly on a drift-corrected schedule, handing every
// snapshot to fn, until ctx is done or maxTicks captures were taken.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, domains []models.Domain, maxTicks int, fn func(tick int, snap models.MetricSnapshot)) int {
	sched := scheduler.New(m.registry, interval, domains, m.logger.Named("scheduler"))
	sched.OnSnapshot(fn)
	return sched.Run(ctx, maxTicks)
}

// StartStress launches a run and returns its id. Cancelling ctx cancels the
// run. Invalid requests fail with fatal_config before anything starts.
func (m *Monitor) StartStress(ctx context.Context, req StressRequest) (string, error) {
	cfg := stress.Config{
		Kind:           req.Kind,
		Workers:        req.Workers,
		Duration:       req.Duration,
		SampleInterval: m.opts.SampleInterval,
		Intensity:      req.Intensity,
		MemoryBytes:    req.MemoryBytes,
		MemoryFraction: req.MemoryFraction,
		Pin:            m.opts.PinWorkers,
		Domains:        req.Domains,
	}
	if cfg.Duration == 0 {
		cfg.Duration = m.opts.DefaultDuration
	}
	if cfg.Intensity == 0 {
		cfg.Intensity = m.opts.CPUIntensity
	}
	if cfg.MemoryFraction == 0 {
		cfg.MemoryFraction = m.opts.MemoryFraction
	}
	if m.opts.MaxDuration > 0 && cfg.Duration > m.opts.MaxDuration {
		return "", errFactory.WithMessage(errors.ErrFatalConfig,
			"duration "+cfg.Duration.String()+" exceeds maximum "+m.opts.MaxDuration.String())
	}

	handle, err := m.harness.Start(ctx, cfg)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.runs[handle.ID()] = handle
	m.mu.Unlock()
	return handle.ID(), nil
}

func (m *Monitor) handle(id string) (*stress.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[id]
	if !ok {
		return nil, errFactory.WithData(errors.ErrRunNotFound, id)
	}
	return h, nil
}

// CancelStress asks a run to stop without waiting for it.
func (m *Monitor) CancelStress(id string) error {
	h, err := m.handle(id)
	if err != nil {
		return err
	}
	h.Cancel()
	return nil
}

// StressProgress returns the run as it stands, sealed or not.
func (m *Monitor) StressProgress(id string) (models.StressRun, error) {
	h, err := m.handle(id)
	if err != nil {
		return models.StressRun{}, err
	}
	return h.Progress(), nil
}

// AwaitStress blocks until the run is sealed or ctx is done. A sealed run
// is forgotten once awaited.
func (m *Monitor) AwaitStress(ctx context.Context, id string) (models.StressRun, error) {
	h, err := m.handle(id)
	if err != nil {
		return models.StressRun{}, err
	}
	run, err := h.WaitContext(ctx)
	if err != nil {
		return models.StressRun{}, err
	}

	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()

	m.logger.Info("Stress run finished",
		zap.String("run", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("cause", run.Cause),
		zap.Int("samples", len(run.Snapshots)))
	return run, nil
}

// ActiveRuns lists the ids of runs not yet awaited.
func (m *Monitor) ActiveRuns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunAudit evaluates the rule set against the session's latest snapshot and
// the host's current processes and connections, then scans the session's
// snapshots for network spikes. Findings are appended to the session and
// returned. A listing the host cannot provide is logged and audited as empty.
func (m *Monitor) RunAudit(ctx context.Context, s *models.Session) []models.AuditFinding {
	procs, err := m.caps.ListProcesses(ctx)
	if err != nil {
		m.logger.Warn("Process listing unavailable for audit", zap.Error(err))
	}
	conns, err := m.caps.ListNetworkConnections(ctx)
	if err != nil {
		m.logger.Warn("Connection listing unavailable for audit", zap.Error(err))
	}

	findings := m.auditor.AuditHistory(s.Snapshots, m.opts.Spike, procs, conns)
	s.AddFindings(findings...)

	m.logger.Info("Audit complete",
		zap.Int("processes", len(procs)),
		zap.Int("connections", len(conns)),
		zap.Int("findings", len(findings)))
	return findings
}

// GenerateReport renders the session as text.
func (m *Monitor) GenerateReport(s *models.Session) string {
	return m.builder.Generate(s)
}

// WriteReport renders the session and writes it to path. An empty path
// writes a timestamped file into the configured output directory. It returns
// the path written.
func (m *Monitor) WriteReport(s *models.Session, path string) (string, error) {
	if path == "" {
		path = filepath.Join(m.opts.OutputDir, report.FileName(time.Now()))
	}
	if err := report.WriteFile(path, m.GenerateReport(s)); err != nil {
		return "", err
	}
	m.logger.Info("Report written", zap.String("path", path))
	return path, nil
}

// Close cancels runs still in flight and releases the capability.
func (m *Monitor) Close() error {
	m.mu.Lock()
	for _, h := range m.runs {
		h.Cancel()
	}
	m.mu.Unlock()
	return m.caps.Close()
}
