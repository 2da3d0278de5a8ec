package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/config"
	"github.com/Guliveer/vitalis/probe/internal/mcpserver"
	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/monitor"
)

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func parseDomains(names []string, fallback []string) ([]models.Domain, error) {
	if len(names) == 0 {
		names = fallback
	}
	return models.ParseDomains(names)
}

// emit prints the report to stdout, or writes it when out is set.
func emit(env *environment, s *models.Session, out string) error {
	if out == "" {
		fmt.Print(env.monitor.GenerateReport(s))
		return nil
	}
	path, err := env.monitor.WriteReport(s, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	return nil
}

func runCapture(ctx context.Context, args []string) error {
	fs := newFlagSet("capture")
	g := addGlobalFlags(fs)
	domains := fs.StringSliceP("domains", "d", nil, "Domains to capture (cpu, memory, disk, network, gpu, battery, processes, all)")
	interval := fs.DurationP("interval", "i", 0, "Capture interval (default from config)")
	timeout := fs.Duration("timeout", 0, "Per-domain collector timeout (default from config)")
	count := fs.IntP("count", "n", 1, "Number of captures; 0 runs until interrupted")
	out := fs.String("out", "", "Write the report to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(g, config.CLIOverrides{Interval: *interval, CollectorTimeout: *timeout})
	if err != nil {
		return err
	}
	defer env.close()

	ds, err := parseDomains(*domains, env.cfg.Capture.Domains)
	if err != nil {
		return err
	}

	s := env.monitor.NewSession(ctx)
	n := env.monitor.Watch(ctx, env.cfg.Capture.Interval.Duration, ds, *count, func(tick int, snap models.MetricSnapshot) {
		s.AddSnapshot(snap)
		env.logger.Info("Snapshot captured", zap.Int("tick", tick), zap.Int("domains", len(snap.Results)))
	})
	env.logger.Debug("Capture finished", zap.Int("snapshots", n))

	return emit(env, s, *out)
}

// stressFlags are shared by the stress and report commands.
type stressFlags struct {
	kind      string
	workers   int
	duration  time.Duration
	intensity float64
	memory    uint64
}

func addStressFlags(fs *pflag.FlagSet, kind string) *stressFlags {
	f := &stressFlags{}
	fs.StringVarP(&f.kind, "kind", "k", kind, "Stress kind: cpu or memory")
	fs.IntVarP(&f.workers, "workers", "w", runtime.NumCPU(), "Number of load workers")
	fs.DurationVar(&f.duration, "duration", 0, "Run length (default from config)")
	fs.Float64Var(&f.intensity, "intensity", 0, "CPU duty cycle between 0.1 and 1 (default from config)")
	fs.Uint64Var(&f.memory, "memory-bytes", 0, "Total memory working set (default: configured fraction of RAM)")
	return f
}

func (f *stressFlags) request() monitor.StressRequest {
	return monitor.StressRequest{
		Kind:        models.StressKind(f.kind),
		Workers:     f.workers,
		Duration:    f.duration,
		Intensity:   f.intensity,
		MemoryBytes: f.memory,
	}
}

// stressSession captures a baseline, runs one stress test and records both.
func stressSession(ctx context.Context, env *environment, s *models.Session, req monitor.StressRequest) error {
	s.AddSnapshot(env.monitor.CaptureSnapshot(ctx, nil))

	id, err := env.monitor.StartStress(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stress run %s started (%s, %d workers), Ctrl+C to cancel\n", id, req.Kind, req.Workers)

	// Cancellation of ctx seals the run as cancelled; wait for that outcome
	// rather than abandoning it.
	run, err := env.monitor.AwaitStress(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	return s.AddStressRun(run)
}

func runStress(ctx context.Context, args []string) error {
	fs := newFlagSet("stress")
	g := addGlobalFlags(fs)
	sf := addStressFlags(fs, string(models.StressCPU))
	out := fs.String("out", "", "Write the report to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(g, config.CLIOverrides{})
	if err != nil {
		return err
	}
	defer env.close()

	s := env.monitor.NewSession(ctx)
	if err := stressSession(ctx, env, s, sf.request()); err != nil {
		return err
	}
	return emit(env, s, *out)
}

func runAudit(ctx context.Context, args []string) error {
	fs := newFlagSet("audit")
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(g, config.CLIOverrides{})
	if err != nil {
		return err
	}
	defer env.close()

	s := env.monitor.NewSession(ctx)
	s.AddSnapshot(env.monitor.CaptureSnapshot(ctx, []models.Domain{models.DomainNetwork, models.DomainProcesses}))

	findings := env.monitor.RunAudit(ctx, s)
	if len(findings) == 0 {
		fmt.Println("No findings.")
		return nil
	}
	for _, f := range findings {
		line := fmt.Sprintf("[%s] %-9s %s", f.Severity, f.Category, f.Description)
		if ev := f.Evidence.String(); ev != "" {
			line += " {" + ev + "}"
		}
		fmt.Println(line)
	}
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := newFlagSet("report")
	g := addGlobalFlags(fs)
	sf := addStressFlags(fs, "")
	samples := fs.IntP("samples", "n", 1, "Snapshots to capture before auditing")
	interval := fs.DurationP("interval", "i", 0, "Interval between snapshots (default from config)")
	out := fs.String("out", "", "Report file (default: timestamped file in the output directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *samples < 1 {
		*samples = 1
	}

	env, err := setup(g, config.CLIOverrides{Interval: *interval})
	if err != nil {
		return err
	}
	defer env.close()

	ds, err := parseDomains(nil, env.cfg.Capture.Domains)
	if err != nil {
		return err
	}

	s := env.monitor.NewSession(ctx)
	env.monitor.Watch(ctx, env.cfg.Capture.Interval.Duration, ds, *samples, func(_ int, snap models.MetricSnapshot) {
		s.AddSnapshot(snap)
	})

	if sf.kind != "" && ctx.Err() == nil {
		if err := stressSession(ctx, env, s, sf.request()); err != nil {
			return err
		}
	}

	env.monitor.RunAudit(ctx, s)

	path, err := env.monitor.WriteReport(s, *out)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := newFlagSet("serve")
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(g, config.CLIOverrides{})
	if err != nil {
		return err
	}
	defer env.close()

	srv := mcpserver.NewServer(ctx, mcpserver.Config{
		ServerName:    "vitalis-probe",
		ServerVersion: version,
	}, env.monitor, env.logger.Named("mcp"))
	return srv.Start(ctx)
}

func runInitConfig(_ context.Context, args []string) error {
	fs := newFlagSet("init-config")
	g := addGlobalFlags(fs)
	path := fs.String("path", "probe.yaml", "Destination file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(g, config.CLIOverrides{})
	if err != nil {
		return err
	}
	if err := config.WriteConfig(cfg, *path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Configuration written to %s\n", *path)
	return nil
}
