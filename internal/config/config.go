// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > embedded > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all probe configuration.
type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Stress  StressConfig  `yaml:"stress"`
	Audit   AuditConfig   `yaml:"audit"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// CaptureConfig holds snapshot capture settings.
type CaptureConfig struct {
	Interval         Duration `yaml:"interval" validate:"gt=0"`
	CollectorTimeout Duration `yaml:"collector_timeout" validate:"gt=0"`
	RateWindow       Duration `yaml:"rate_window" validate:"gte=0"`
	Domains          []string `yaml:"domains"`
	TopProcesses     int      `yaml:"top_processes" validate:"gte=0"`
	SMART            bool     `yaml:"smart"`
}

// StressConfig holds stress harness settings.
type StressConfig struct {
	SampleInterval  Duration `yaml:"sample_interval" validate:"gt=0"`
	GracePeriod     Duration `yaml:"grace_period" validate:"gt=0"`
	DefaultDuration Duration `yaml:"default_duration" validate:"gt=0"`
	MaxDuration     Duration `yaml:"max_duration" validate:"gt=0"`
	CPUIntensity    float64  `yaml:"cpu_intensity" validate:"gte=0.1,lte=1"`
	MemoryFraction  float64  `yaml:"memory_fraction" validate:"gt=0,lte=0.7"`
	PinWorkers      bool     `yaml:"pin_workers"`
}

// AuditConfig holds security auditor settings.
type AuditConfig struct {
	// RuleSet is a path to a YAML rule set; empty uses the built-in rules.
	RuleSet string      `yaml:"rule_set"`
	Spike   SpikeConfig `yaml:"spike"`
}

// SpikeConfig tunes network spike detection over a session's snapshots.
type SpikeConfig struct {
	Window         int     `yaml:"window" validate:"gt=0"`
	Factor         float64 `yaml:"factor" validate:"gt=1"`
	MinBytesPerSec uint64  `yaml:"min_bytes_per_sec"`
}

// ReportConfig holds report builder settings.
type ReportConfig struct {
	OutputDir  string     `yaml:"output_dir"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// Thresholds mark values in the report that exceed a usage percentage.
type Thresholds struct {
	CPU    float64 `yaml:"cpu" validate:"gte=0,lte=100"`
	Memory float64 `yaml:"memory" validate:"gte=0,lte=100"`
	GPU    float64 `yaml:"gpu" validate:"gte=0,lte=100"`
	Disk   float64 `yaml:"disk" validate:"gte=0,lte=100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Interval:         Duration{5 * time.Second},
			CollectorTimeout: Duration{2 * time.Second},
			RateWindow:       Duration{250 * time.Millisecond},
			Domains:          []string{"all"},
			TopProcesses:     10,
			SMART:            true,
		},
		Stress: StressConfig{
			SampleInterval:  Duration{1 * time.Second},
			GracePeriod:     Duration{2 * time.Second},
			DefaultDuration: Duration{10 * time.Second},
			MaxDuration:     Duration{10 * time.Minute},
			CPUIntensity:    1.0,
			MemoryFraction:  0.6,
			PinWorkers:      true,
		},
		Audit: AuditConfig{
			Spike: SpikeConfig{
				Window:         60,
				Factor:         3.0,
				MinBytesPerSec: 50 * 1024,
			},
		},
		Report: ReportConfig{
			OutputDir: ".",
			Thresholds: Thresholds{
				CPU:    85,
				Memory: 90,
				GPU:    85,
				Disk:   90,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// CLIOverrides holds values from command-line flags.
// Zero values are treated as "not set" and skipped.
type CLIOverrides struct {
	LogLevel         string
	RuleSet          string
	OutputDir        string
	Interval         time.Duration
	CollectorTimeout time.Duration
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadDotEnv seeds the process environment from .env files. Missing files
// are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %s: %w", filePath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.RuleSet != "" {
		cfg.Audit.RuleSet = cli.RuleSet
	}
	if cli.OutputDir != "" {
		cfg.Report.OutputDir = cli.OutputDir
	}
	if cli.Interval > 0 {
		cfg.Capture.Interval = Duration{cli.Interval}
	}
	if cli.CollectorTimeout > 0 {
		cfg.Capture.CollectorTimeout = Duration{cli.CollectorTimeout}
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies PROBE_* environment variable overrides.
func applyEnvOverrides(cfg *Config) error {
	if level := os.Getenv("PROBE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if file := os.Getenv("PROBE_LOG_FILE"); file != "" {
		cfg.Logging.File = file
	}
	if rules := os.Getenv("PROBE_AUDIT_RULES"); rules != "" {
		cfg.Audit.RuleSet = rules
	}
	if dir := os.Getenv("PROBE_REPORT_DIR"); dir != "" {
		cfg.Report.OutputDir = dir
	}
	if domains := os.Getenv("PROBE_CAPTURE_DOMAINS"); domains != "" {
		cfg.Capture.Domains = strings.Split(domains, ",")
	}

	durations := map[string]*Duration{
		"PROBE_CAPTURE_INTERVAL":       &cfg.Capture.Interval,
		"PROBE_COLLECTOR_TIMEOUT":      &cfg.Capture.CollectorTimeout,
		"PROBE_STRESS_SAMPLE_INTERVAL": &cfg.Stress.SampleInterval,
		"PROBE_STRESS_GRACE_PERIOD":    &cfg.Stress.GracePeriod,
	}
	for key, target := range durations {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
		}
		target.Duration = d
	}

	if raw := os.Getenv("PROBE_TOP_PROCESSES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("PROBE_TOP_PROCESSES: %w", err)
		}
		cfg.Capture.TopProcesses = n
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (%s)", e.Namespace(), e.Tag(), e.Param()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Capture.RateWindow.Duration >= c.Capture.CollectorTimeout.Duration {
		return fmt.Errorf("capture.rate_window (%s) must be shorter than capture.collector_timeout (%s)",
			c.Capture.RateWindow.Duration, c.Capture.CollectorTimeout.Duration)
	}
	if c.Stress.DefaultDuration.Duration > c.Stress.MaxDuration.Duration {
		return fmt.Errorf("stress.default_duration (%s) exceeds stress.max_duration (%s)",
			c.Stress.DefaultDuration.Duration, c.Stress.MaxDuration.Duration)
	}
	return nil
}
