package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadLayered_CLIOverridesEverything(t *testing.T) {
	embedded := []byte("logging:\n  level: \"warn\"\ncapture:\n  interval: \"3s\"")
	t.Setenv("PROBE_LOG_LEVEL", "error")
	cli := CLIOverrides{LogLevel: "debug", Interval: 7 * time.Second}

	cfg, err := LoadLayered(cli, embedded, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want CLI override", cfg.Logging.Level)
	}
	if cfg.Capture.Interval.Duration != 7*time.Second {
		t.Errorf("Interval = %v, want CLI override", cfg.Capture.Interval.Duration)
	}
}

func TestLoadLayered_EnvOverridesEmbed(t *testing.T) {
	embedded := []byte("logging:\n  level: \"warn\"\nreport:\n  output_dir: \"/embedded\"")
	t.Setenv("PROBE_LOG_LEVEL", "error")

	cfg, err := LoadLayered(CLIOverrides{}, embedded, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Report.OutputDir != "/embedded" {
		t.Errorf("OutputDir = %q, want embedded value", cfg.Report.OutputDir)
	}
}

func TestLoadLayered_FileOverridesEmbed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  top_processes: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	embedded := []byte("capture:\n  top_processes: 20\n  collector_timeout: \"4s\"")

	cfg, err := LoadLayered(CLIOverrides{}, embedded, path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.TopProcesses != 3 {
		t.Errorf("TopProcesses = %d, want file value", cfg.Capture.TopProcesses)
	}
	if cfg.Capture.CollectorTimeout.Duration != 4*time.Second {
		t.Errorf("CollectorTimeout = %v, want embedded value", cfg.Capture.CollectorTimeout.Duration)
	}
}

func TestLoadLayered_DefaultsWhenEmpty(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{}, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.Interval.Duration.Seconds() != 5 {
		t.Errorf("Interval = %v, want 5s default", cfg.Capture.Interval.Duration)
	}
	if cfg.Report.Thresholds.CPU != 85 {
		t.Errorf("CPU threshold = %v, want 85", cfg.Report.Thresholds.CPU)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromBytes_InvalidDuration(t *testing.T) {
	if _, err := LoadFromBytes([]byte("capture:\n  interval: \"soon\"")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROBE_CAPTURE_DOMAINS", "cpu,memory")
	t.Setenv("PROBE_COLLECTOR_TIMEOUT", "750ms")
	t.Setenv("PROBE_TOP_PROCESSES", "4")

	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(cfg.Capture.Domains, ",") != "cpu,memory" {
		t.Errorf("Domains = %v", cfg.Capture.Domains)
	}
	if cfg.Capture.CollectorTimeout.Duration != 750*time.Millisecond {
		t.Errorf("CollectorTimeout = %v", cfg.Capture.CollectorTimeout.Duration)
	}
	if cfg.Capture.TopProcesses != 4 {
		t.Errorf("TopProcesses = %d", cfg.Capture.TopProcesses)
	}

	t.Setenv("PROBE_TOP_PROCESSES", "many")
	if _, err := LoadFromBytes(nil); err == nil {
		t.Error("expected error for non-numeric PROBE_TOP_PROCESSES")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("PROBE_REPORT_DIR=/from/dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROBE_REPORT_DIR", "")
	os.Unsetenv("PROBE_REPORT_DIR")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Report.OutputDir != "/from/dotenv" {
		t.Errorf("OutputDir = %q, want dotenv value", cfg.Report.OutputDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero interval", func(c *Config) { c.Capture.Interval = Duration{} }, "interval"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "level"},
		{"intensity too low", func(c *Config) { c.Stress.CPUIntensity = 0.01 }, "cpu_intensity"},
		{"memory fraction above cap", func(c *Config) { c.Stress.MemoryFraction = 0.9 }, "memory_fraction"},
		{"threshold over 100", func(c *Config) { c.Report.Thresholds.Disk = 120 }, "disk"},
		{"rate window too long", func(c *Config) { c.Capture.RateWindow = Duration{5 * time.Second} }, "rate_window"},
		{"default over max", func(c *Config) { c.Stress.DefaultDuration = Duration{time.Hour} }, "default_duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteConfig_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "probe.yaml")

	cfg := DefaultConfig()
	cfg.Report.OutputDir = "/var/reports"

	if err := WriteConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Report.OutputDir != "/var/reports" {
		t.Errorf("OutputDir = %q after round trip", loaded.Report.OutputDir)
	}
	if loaded.Stress.GracePeriod.Duration != 2*time.Second {
		t.Errorf("GracePeriod = %v after round trip", loaded.Stress.GracePeriod.Duration)
	}
}
