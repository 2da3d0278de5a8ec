package models

import (
	"fmt"
	"strings"
	"time"
)

// SystemInfo identifies the host a session was recorded on.
type SystemInfo struct {
	Hostname        string        `json:"hostname"`
	OS              string        `json:"os"`
	Platform        string        `json:"platform"`
	PlatformVersion string        `json:"platform_version"`
	KernelVersion   string        `json:"kernel_version"`
	Arch            string        `json:"arch"`
	BootTime        time.Time     `json:"boot_time"`
	Uptime          time.Duration `json:"uptime"`
}

// StressKind selects the load generated by stress workers.
type StressKind string

const (
	StressCPU    StressKind = "cpu"
	StressMemory StressKind = "memory"
)

// StressStatus is the lifecycle state of a StressRun.
type StressStatus string

const (
	StressRunning   StressStatus = "running"
	StressCompleted StressStatus = "completed"
	StressCancelled StressStatus = "cancelled"
	StressFailed    StressStatus = "failed"
)

// StressRun records one stress test. Once Status leaves StressRunning the
// run is sealed and never mutated again.
type StressRun struct {
	ID        string           `json:"id"`
	Kind      StressKind       `json:"kind"`
	Workers   int              `json:"workers"`
	Duration  time.Duration    `json:"duration"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Snapshots []MetricSnapshot `json:"snapshots"`
	Status    StressStatus     `json:"status"`
	Cause     string           `json:"cause,omitempty"`
}

// Sealed reports whether the run reached a terminal status.
func (r StressRun) Sealed() bool {
	return r.Status == StressCompleted || r.Status == StressCancelled || r.Status == StressFailed
}

// Severity of an audit finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity accepts info, warning (or warn) and critical (or crit).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "critical", "crit":
		return SeverityCritical, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Category groups audit findings. Findings are always ordered process,
// network, overclock.
type Category string

const (
	CategoryProcess   Category = "process"
	CategoryNetwork   Category = "network"
	CategoryOverclock Category = "overclock"
)

// Evidence points at what triggered a finding.
type Evidence struct {
	Rule    string `json:"rule,omitempty"`
	PID     int32  `json:"pid,omitempty"`
	Process string `json:"process,omitempty"`
	Port    uint32 `json:"port,omitempty"`
	Address string `json:"address,omitempty"`
}

// String renders the evidence fields that are set, in a fixed order.
func (e Evidence) String() string {
	var parts []string
	if e.Rule != "" {
		parts = append(parts, "rule="+e.Rule)
	}
	if e.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}
	if e.Process != "" {
		parts = append(parts, "process="+e.Process)
	}
	if e.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", e.Port))
	}
	if e.Address != "" {
		parts = append(parts, "address="+e.Address)
	}
	return strings.Join(parts, " ")
}

// AuditFinding is one security observation.
type AuditFinding struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Evidence    Evidence `json:"evidence"`
}

// Session is the full record of one monitoring engagement. It is owned by
// the caller; the core never retains it.
type Session struct {
	StartedAt    time.Time        `json:"started_at"`
	System       *SystemInfo      `json:"system,omitempty"`
	SystemReason string           `json:"system_reason,omitempty"`
	Snapshots    []MetricSnapshot `json:"snapshots"`
	StressRuns   []StressRun      `json:"stress_runs"`
	Findings     []AuditFinding   `json:"findings"`
}

// NewSession starts an empty session at start.
func NewSession(start time.Time) *Session {
	return &Session{StartedAt: start.UTC()}
}

// AddSnapshot appends a snapshot.
func (s *Session) AddSnapshot(snap MetricSnapshot) {
	s.Snapshots = append(s.Snapshots, snap)
}

// AddStressRun appends a sealed run. Unsealed runs are rejected.
func (s *Session) AddStressRun(run StressRun) error {
	if !run.Sealed() {
		return fmt.Errorf("stress run %s is not sealed", run.ID)
	}
	s.StressRuns = append(s.StressRuns, run)
	return nil
}

// AddFindings appends findings in order.
func (s *Session) AddFindings(findings ...AuditFinding) {
	s.Findings = append(s.Findings, findings...)
}

// LatestSnapshot returns the most recently added snapshot.
func (s *Session) LatestSnapshot() (MetricSnapshot, bool) {
	if len(s.Snapshots) == 0 {
		return MetricSnapshot{}, false
	}
	return s.Snapshots[len(s.Snapshots)-1], true
}
