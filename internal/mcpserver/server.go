// Package mcpserver exposes the monitor as MCP tools over stdio, so an
// assistant or any MCP client can drive captures, stress runs, audits and
// reports. The server owns one session for its lifetime.
package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
	"github.com/Guliveer/vitalis/probe/internal/monitor"
)

// Config holds configuration for the MCP server.
type Config struct {
	ServerName    string
	ServerVersion string
}

// Server wraps the MCP server with probe capabilities.
type Server struct {
	mcpServer *mcp.Server
	monitor   *monitor.Monitor
	logger    *zap.Logger

	// runCtx parents stress runs so they outlive the tool call that
	// started them.
	runCtx context.Context

	mu      sync.Mutex
	session *models.Session
}

// NewServer creates a new MCP server and opens its session.
func NewServer(ctx context.Context, cfg Config, mon *monitor.Monitor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	impl := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	s := &Server{
		mcpServer: mcp.NewServer(impl, nil),
		monitor:   mon,
		logger:    logger,
		runCtx:    ctx,
		session:   mon.NewSession(ctx),
	}
	s.registerTools()
	return s
}

// CaptureArgs defines the input for the capture_snapshot tool.
type CaptureArgs struct {
	Domains []string `json:"domains,omitempty" jsonschema:"domains to capture: cpu, memory, disk, network, gpu, battery, processes or all; empty captures all"`
}

// DomainStatus is one domain's outcome in a capture.
type DomainStatus struct {
	Domain string `json:"domain"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

// CaptureResult summarizes a capture.
type CaptureResult struct {
	Timestamp string         `json:"timestamp" jsonschema:"capture time, RFC3339 UTC"`
	Results   []DomainStatus `json:"results"`
	Snapshots int            `json:"snapshots" jsonschema:"snapshots recorded in the session so far"`
}

// StartStressArgs defines the input for the start_stress tool.
type StartStressArgs struct {
	Kind            string  `json:"kind" jsonschema:"cpu or memory"`
	Workers         int     `json:"workers" jsonschema:"number of load workers, at least 1"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" jsonschema:"run length; 0 uses the configured default"`
	Intensity       float64 `json:"intensity,omitempty" jsonschema:"CPU duty cycle between 0.1 and 1"`
}

// RunArgs names a stress run.
type RunArgs struct {
	RunID string `json:"run_id"`
}

// RunStatus describes a stress run.
type RunStatus struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Cause   string `json:"cause,omitempty"`
	Samples int    `json:"samples"`
}

// AuditArgs defines the input for the run_audit tool.
type AuditArgs struct{}

// Finding is one audit finding as text.
type Finding struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Evidence    string `json:"evidence,omitempty"`
}

// AuditResult lists the findings of one audit.
type AuditResult struct {
	Findings []Finding `json:"findings"`
}

// ReportArgs defines the input for the generate_report tool.
type ReportArgs struct {
	Path  string `json:"path,omitempty" jsonschema:"file to write; empty writes into the configured output directory"`
	Write bool   `json:"write,omitempty" jsonschema:"write the report to a file as well as returning it"`
}

// ReportResult carries the rendered report.
type ReportResult struct {
	Report string `json:"report"`
	Path   string `json:"path,omitempty"`
}

// registerTools registers all available MCP tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "capture_snapshot",
		Description: "Capture one snapshot of the requested hardware domains and record it in the session. Every requested domain is reported as ok, unavailable or error.",
	}, s.handleCapture)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "start_stress",
		Description: "Start a bounded CPU or memory stress run that samples the host while it runs. Returns the run id.",
	}, s.handleStartStress)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "stress_status",
		Description: "Report the status and sample count of a stress run.",
	}, s.handleStressStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cancel_stress",
		Description: "Ask a stress run to stop. The run is sealed as cancelled once its workers exit.",
	}, s.handleCancelStress)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "await_stress",
		Description: "Wait for a stress run to finish and record it in the session.",
	}, s.handleAwaitStress)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "run_audit",
		Description: "Audit running processes and network connections against the rule set and scan the session for network spikes.",
	}, s.handleRunAudit)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "generate_report",
		Description: "Render the session as a plain-text forensic report, optionally writing it to a file.",
	}, s.handleGenerateReport)
}

func (s *Server) handleCapture(ctx context.Context, _ *mcp.CallToolRequest, args CaptureArgs) (*mcp.CallToolResult, CaptureResult, error) {
	var domains []models.Domain
	if len(args.Domains) > 0 {
		var err error
		if domains, err = models.ParseDomains(args.Domains); err != nil {
			return nil, CaptureResult{}, err
		}
	}

	snap := s.monitor.CaptureSnapshot(ctx, domains)

	s.mu.Lock()
	s.session.AddSnapshot(snap)
	count := len(s.session.Snapshots)
	s.mu.Unlock()

	out := CaptureResult{Timestamp: snap.Timestamp.UTC().Format(time.RFC3339), Snapshots: count}
	for _, r := range snap.Results {
		out.Results = append(out.Results, DomainStatus{
			Domain: string(r.Domain),
			Status: string(r.Status),
			Reason: r.Reason,
			Code:   r.Code,
		})
	}
	return nil, out, nil
}

func (s *Server) handleStartStress(_ context.Context, _ *mcp.CallToolRequest, args StartStressArgs) (*mcp.CallToolResult, RunStatus, error) {
	req := monitor.StressRequest{
		Kind:      models.StressKind(args.Kind),
		Workers:   args.Workers,
		Duration:  time.Duration(args.DurationSeconds * float64(time.Second)),
		Intensity: args.Intensity,
	}
	id, err := s.monitor.StartStress(s.runCtx, req)
	if err != nil {
		return nil, RunStatus{}, err
	}
	s.logger.Info("Stress run started via MCP", zap.String("run", id))
	return nil, RunStatus{RunID: id, Status: string(models.StressRunning)}, nil
}

func (s *Server) handleStressStatus(_ context.Context, _ *mcp.CallToolRequest, args RunArgs) (*mcp.CallToolResult, RunStatus, error) {
	run, err := s.monitor.StressProgress(args.RunID)
	if err != nil {
		return nil, RunStatus{}, err
	}
	return nil, runStatus(run), nil
}

func (s *Server) handleCancelStress(_ context.Context, _ *mcp.CallToolRequest, args RunArgs) (*mcp.CallToolResult, RunStatus, error) {
	if err := s.monitor.CancelStress(args.RunID); err != nil {
		return nil, RunStatus{}, err
	}
	run, err := s.monitor.StressProgress(args.RunID)
	if err != nil {
		return nil, RunStatus{}, err
	}
	return nil, runStatus(run), nil
}

func (s *Server) handleAwaitStress(ctx context.Context, _ *mcp.CallToolRequest, args RunArgs) (*mcp.CallToolResult, RunStatus, error) {
	run, err := s.monitor.AwaitStress(ctx, args.RunID)
	if err != nil {
		return nil, RunStatus{}, err
	}

	s.mu.Lock()
	err = s.session.AddStressRun(run)
	s.mu.Unlock()
	if err != nil {
		return nil, RunStatus{}, err
	}
	return nil, runStatus(run), nil
}

func (s *Server) handleRunAudit(ctx context.Context, _ *mcp.CallToolRequest, _ AuditArgs) (*mcp.CallToolResult, AuditResult, error) {
	s.mu.Lock()
	findings := s.monitor.RunAudit(ctx, s.session)
	s.mu.Unlock()

	out := AuditResult{Findings: make([]Finding, 0, len(findings))}
	for _, f := range findings {
		out.Findings = append(out.Findings, Finding{
			Severity:    string(f.Severity),
			Category:    string(f.Category),
			Description: f.Description,
			Evidence:    f.Evidence.String(),
		})
	}
	return nil, out, nil
}

func (s *Server) handleGenerateReport(_ context.Context, _ *mcp.CallToolRequest, args ReportArgs) (*mcp.CallToolResult, ReportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := ReportResult{Report: s.monitor.GenerateReport(s.session)}
	if args.Write || args.Path != "" {
		path, err := s.monitor.WriteReport(s.session, args.Path)
		if err != nil {
			return nil, ReportResult{}, fmt.Errorf("failed to write report: %w", err)
		}
		out.Path = path
	}
	return nil, out, nil
}

func runStatus(run models.StressRun) RunStatus {
	return RunStatus{
		RunID:   run.ID,
		Status:  string(run.Status),
		Cause:   run.Cause,
		Samples: len(run.Snapshots),
	}
}

// Start serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
