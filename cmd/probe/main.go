// Package main is the entry point for the Vitalis probe. It loads the layered
// configuration, selects the host backend and dispatches to a subcommand:
// capture, stress, audit, report, serve, init-config or version.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Guliveer/vitalis/probe/internal/config"
	"github.com/Guliveer/vitalis/probe/internal/monitor"
	"github.com/Guliveer/vitalis/probe/internal/platform"
)

// version is set at build time via -ldflags.
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"capture", "Capture snapshots on a schedule and print the report", runCapture},
	{"stress", "Run a CPU or memory stress test and print the report", runStress},
	{"audit", "Audit processes and connections and print the findings", runAudit},
	{"report", "Capture, optionally stress, audit and write a report file", runReport},
	{"serve", "Serve the probe as MCP tools over stdio", runServe},
	{"init-config", "Write the effective configuration to a YAML file", runInitConfig},
	{"version", "Print the version", nil},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: probe <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'probe <command> --help' for command flags.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "version" || name == "--version" {
		fmt.Printf("vitalis-probe %s\n", version)
		return
	}
	if name == "help" || name == "-h" || name == "--help" {
		usage()
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil || cmd.run == nil {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "Received %s, stopping\n", sig)
		cancel()
	}()

	if err := cmd.run(ctx, os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "probe %s: %v\n", name, err)
		os.Exit(1)
	}
}

// globalFlags are accepted by every command.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFile    string
	ruleSet    string
	outputDir  string
}

func addGlobalFlags(fs *pflag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVarP(&g.configPath, "config", "c", "", "Path to configuration file (default: search standard locations)")
	fs.StringVar(&g.envFile, "env-file", ".env", "Environment file read before configuration")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this file")
	fs.StringVar(&g.ruleSet, "rules", "", "Audit rule set YAML (default: built-in rules)")
	fs.StringVarP(&g.outputDir, "output-dir", "o", "", "Directory for report files")
	return g
}

// environment is everything a command needs once flags are parsed.
type environment struct {
	cfg     *config.Config
	logger  *zap.Logger
	monitor *monitor.Monitor
}

// loadConfig applies the .env file, the layered configuration and the flag
// overrides in cli, then validates the result.
func loadConfig(g *globalFlags, cli config.CLIOverrides) (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}

	cli.LogLevel = g.logLevel
	cli.RuleSet = g.ruleSet
	cli.OutputDir = g.outputDir

	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadLayered(cli, embeddedConfig, g.configPath)
	} else {
		cfg, err = config.LoadLayered(cli, embeddedConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logFile != "" {
		cfg.Logging.File = g.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and builds the monitor on the host backend.
func setup(g *globalFlags, cli config.CLIOverrides) (*environment, error) {
	cfg, err := loadConfig(g, cli)
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg)

	opts, err := monitor.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	caps := platform.New(platform.Options{
		RateWindow:   cfg.Capture.RateWindow.Duration,
		DisableSMART: !cfg.Capture.SMART,
	}, logger.Named("platform"))

	logger.Debug("Configuration loaded",
		zap.Duration("collector_timeout", cfg.Capture.CollectorTimeout.Duration),
		zap.Duration("stress_sample_interval", cfg.Stress.SampleInterval.Duration),
		zap.String("rule_set", cfg.Audit.RuleSet))

	return &environment{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor.New(caps, opts, logger),
	}, nil
}

func (e *environment) close() {
	if err := e.monitor.Close(); err != nil {
		e.logger.Warn("Failed to release platform backend", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// initLogger creates a zap logger based on the configuration.
// It writes human-readable output to stderr, keeping stdout for reports and
// the MCP transport, and optionally JSON to a log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		} else {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v\n", cfg.Logging.File, err)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
