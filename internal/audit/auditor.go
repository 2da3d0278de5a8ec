// Package audit evaluates a snapshot together with process and connection
// listings against a data-driven rule set. An audit is stateless: the same
// inputs and rule set always yield the same ordered findings.
package audit

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Auditor applies a RuleSet.
type Auditor struct {
	rules  *RuleSet
	logger *zap.Logger
}

// New creates an Auditor. A nil rule set uses the built-in rules.
func New(rules *RuleSet, logger *zap.Logger) *Auditor {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{rules: rules, logger: logger}
}

// Rules returns the rule set in use.
func (a *Auditor) Rules() *RuleSet {
	return a.rules
}

// findings accumulates results per category so the output order is always
// process, network, overclock regardless of which phase produced a finding.
type findings struct {
	process   []models.AuditFinding
	network   []models.AuditFinding
	overclock []models.AuditFinding
}

func (f *findings) all() []models.AuditFinding {
	out := make([]models.AuditFinding, 0, len(f.process)+len(f.network)+len(f.overclock))
	out = append(out, f.process...)
	out = append(out, f.network...)
	return append(out, f.overclock...)
}

// ruleFailure records a rule that could not evaluate an entry. It is
// reported as a process warning and the audit carries on.
func (f *findings) ruleFailure(rule string, ev models.Evidence, reason string) {
	ev.Rule = rule
	f.process = append(f.process, models.AuditFinding{
		Severity:    models.SeverityWarning,
		Category:    models.CategoryProcess,
		Description: "Rule evaluation failed: " + reason,
		Evidence:    ev,
	})
}

// guard runs fn and turns a panic into a rule failure finding.
func (f *findings) guard(rule string, ev models.Evidence, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			f.ruleFailure(rule, ev, fmt.Sprintf("%v", p))
		}
	}()
	fn()
}

// Audit runs process rules, then network rules, then overclock rules.
// Within a category, findings follow the order of the input listings.
func (a *Auditor) Audit(snapshot models.MetricSnapshot, processes models.ProcessList, connections []models.Connection) []models.AuditFinding {
	return a.audit(snapshot, processes, connections, nil)
}

// AuditHistory audits the last of snapshots like Audit and also scans the
// whole series for network spikes. Spike findings are network findings and
// follow the rule-based network findings.
func (a *Auditor) AuditHistory(snapshots []models.MetricSnapshot, spikes SpikeConfig, processes models.ProcessList, connections []models.Connection) []models.AuditFinding {
	var latest models.MetricSnapshot
	if len(snapshots) > 0 {
		latest = snapshots[len(snapshots)-1]
	}
	return a.audit(latest, processes, connections, func(f *findings) {
		f.guard("network-spike", models.Evidence{}, func() {
			f.network = append(f.network, DetectNetworkSpikes(snapshots, spikes)...)
		})
	})
}

func (a *Auditor) audit(snapshot models.MetricSnapshot, processes models.ProcessList, connections []models.Connection, extraNetwork func(*findings)) []models.AuditFinding {
	var f findings

	valid := a.processRules(&f, processes)
	a.networkRules(&f, snapshot, processes, connections)
	if extraNetwork != nil {
		extraNetwork(&f)
	}
	a.overclockRules(&f, valid)

	out := f.all()
	a.logger.Debug("Audit finished",
		zap.Int("processes", len(processes)),
		zap.Int("connections", len(connections)),
		zap.Int("findings", len(out)))
	return out
}

// processRules evaluates process rules and returns the well-formed entries.
func (a *Auditor) processRules(f *findings, processes models.ProcessList) models.ProcessList {
	valid := make(models.ProcessList, 0, len(processes))
	for _, p := range processes {
		ev := models.Evidence{PID: p.PID, Process: p.Name}
		if reason := malformedProcess(p); reason != "" {
			f.ruleFailure("process-entry", ev, reason)
			continue
		}
		valid = append(valid, p)

		for _, rule := range a.rules.Process {
			f.guard(rule.ID, ev, func() {
				if pattern, ok := rule.match(p); ok {
					f.process = append(f.process, patternFinding(models.CategoryProcess, rule, p, pattern))
				}
			})
		}
	}
	return valid
}

func (a *Auditor) overclockRules(f *findings, processes models.ProcessList) {
	for _, p := range processes {
		ev := models.Evidence{PID: p.PID, Process: p.Name}
		for _, rule := range a.rules.Overclock {
			f.guard(rule.ID, ev, func() {
				if pattern, ok := rule.match(p); ok {
					f.overclock = append(f.overclock, patternFinding(models.CategoryOverclock, rule, p, pattern))
				}
			})
		}
	}
}

func (a *Auditor) networkRules(f *findings, snapshot models.MetricSnapshot, processes models.ProcessList, connections []models.Connection) {
	names := make(map[int32]string, len(processes))
	for _, p := range processes {
		if _, seen := names[p.PID]; !seen {
			names[p.PID] = p.Name
		}
	}

	valid := make([]models.Connection, 0, len(connections))
	for _, c := range connections {
		ev := models.Evidence{PID: c.PID, Process: names[c.PID], Address: endpoint(c.LocalIP, c.LocalPort)}
		if reason := malformedConnection(c); reason != "" {
			f.ruleFailure("connection-entry", ev, reason)
			continue
		}
		valid = append(valid, c)

		for _, rule := range a.rules.Network.Ports {
			f.guard(rule.ID, ev, func() {
				if port, ok := rule.match(c); ok {
					f.network = append(f.network, portFinding(rule, c, port, names[c.PID]))
				}
			})
		}
	}

	if b := a.rules.Network.BusyProcess; b != nil {
		f.guard("busy-process", models.Evidence{}, func() {
			f.network = append(f.network, busyProcesses(b, snapshot, valid, names)...)
		})
	}
	if r := a.rules.Network.RemoteFlood; r != nil {
		f.guard("remote-flood", models.Evidence{}, func() {
			f.network = append(f.network, remoteFloods(r, valid)...)
		})
	}
}

func malformedProcess(p models.ProcessInfo) string {
	switch {
	case p.PID <= 0:
		return fmt.Sprintf("process entry has invalid pid %d", p.PID)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Sprintf("process %d has no name", p.PID)
	case math.IsNaN(p.CPU) || p.CPU < 0:
		return fmt.Sprintf("process %d has invalid cpu usage", p.PID)
	case math.IsNaN(p.Memory) || p.Memory < 0:
		return fmt.Sprintf("process %d has invalid memory usage", p.PID)
	}
	return ""
}

func malformedConnection(c models.Connection) string {
	switch {
	case c.LocalPort > 65535 || c.RemotePort > 65535:
		return fmt.Sprintf("connection %s has an out of range port", endpoint(c.LocalIP, c.LocalPort))
	case c.RemotePort != 0 && c.RemoteIP == "":
		return fmt.Sprintf("connection %s has a remote port without an address", endpoint(c.LocalIP, c.LocalPort))
	case c.PID < 0:
		return fmt.Sprintf("connection %s has invalid pid %d", endpoint(c.LocalIP, c.LocalPort), c.PID)
	}
	return ""
}

// match returns the first pattern matching the process name or the base
// name of its executable.
func (r PatternRule) match(p models.ProcessInfo) (string, bool) {
	candidates := []string{normalizeName(p.Name)}
	if p.Exe != "" {
		if base := normalizeName(filepath.Base(p.Exe)); base != candidates[0] {
			candidates = append(candidates, base)
		}
	}

	for _, pattern := range r.Patterns {
		for _, c := range candidates {
			if r.Exact && c == pattern {
				return pattern, true
			}
			if !r.Exact && strings.Contains(c, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}

// match returns the matched port.
func (r PortRule) match(c models.Connection) (uint32, bool) {
	status := strings.ToUpper(c.Status)
	switch {
	case r.Listening:
		if status != "LISTEN" {
			return 0, false
		}
		return c.LocalPort, inRanges(r.Ports, c.LocalPort)
	case r.Established:
		if c.RemoteIP == "" || status != "ESTABLISHED" {
			return 0, false
		}
	}

	if inRanges(r.Ports, c.LocalPort) {
		return c.LocalPort, true
	}
	if c.RemoteIP != "" && inRanges(r.Ports, c.RemotePort) {
		return c.RemotePort, true
	}
	return 0, false
}

func inRanges(ranges []PortRange, port uint32) bool {
	if port == 0 {
		return false
	}
	for _, r := range ranges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

func patternFinding(cat models.Category, rule PatternRule, p models.ProcessInfo, pattern string) models.AuditFinding {
	return models.AuditFinding{
		Severity:    rule.Severity,
		Category:    cat,
		Description: fmt.Sprintf("%s: %s matches %q", rule.Description, p.Name, pattern),
		Evidence: models.Evidence{
			Rule:    rule.ID,
			PID:     p.PID,
			Process: p.Name,
		},
	}
}

func portFinding(rule PortRule, c models.Connection, port uint32, process string) models.AuditFinding {
	desc := fmt.Sprintf("%s: %s %s", rule.Description, strings.ToLower(c.Protocol), endpoint(c.LocalIP, c.LocalPort))
	addr := endpoint(c.LocalIP, c.LocalPort)
	if c.RemoteIP != "" {
		desc += " <-> " + endpoint(c.RemoteIP, c.RemotePort)
		addr = endpoint(c.RemoteIP, c.RemotePort)
	}
	if c.Status != "" {
		desc += " (" + c.Status + ")"
	}
	return models.AuditFinding{
		Severity:    rule.Severity,
		Category:    models.CategoryNetwork,
		Description: desc,
		Evidence: models.Evidence{
			Rule:    rule.ID,
			PID:     c.PID,
			Process: process,
			Port:    port,
			Address: addr,
		},
	}
}

func busyProcesses(rule *BusyProcess, snapshot models.MetricSnapshot, conns []models.Connection, names map[int32]string) []models.AuditFinding {
	ifaces, ok := snapshot.Network()
	if !ok {
		return nil
	}
	throughput := ifaces.Throughput()
	if throughput < rule.MinBytesPerSec {
		return nil
	}

	var order []int32
	counts := make(map[int32]int)
	for _, c := range conns {
		if c.PID <= 0 {
			continue
		}
		if counts[c.PID] == 0 {
			order = append(order, c.PID)
		}
		counts[c.PID]++
	}

	var out []models.AuditFinding
	for _, pid := range order {
		if counts[pid] < rule.MinConnections {
			continue
		}
		out = append(out, models.AuditFinding{
			Severity: rule.Severity,
			Category: models.CategoryNetwork,
			Description: fmt.Sprintf("%s: %d connections at %d B/s total",
				rule.Description, counts[pid], throughput),
			Evidence: models.Evidence{Rule: "busy-process", PID: pid, Process: names[pid]},
		})
	}
	return out
}

func remoteFloods(rule *RemoteFlood, conns []models.Connection) []models.AuditFinding {
	var order []string
	counts := make(map[string]int)
	for _, c := range conns {
		if c.RemoteIP == "" {
			continue
		}
		if !inRanges(rule.Ports, c.LocalPort) && !inRanges(rule.Ports, c.RemotePort) {
			continue
		}
		if counts[c.RemoteIP] == 0 {
			order = append(order, c.RemoteIP)
		}
		counts[c.RemoteIP]++
	}

	var out []models.AuditFinding
	for _, ip := range order {
		if counts[ip] < rule.MinConnections {
			continue
		}
		out = append(out, models.AuditFinding{
			Severity:    rule.Severity,
			Category:    models.CategoryNetwork,
			Description: fmt.Sprintf("%s: %d connections from %s", rule.Description, counts[ip], ip),
			Evidence:    models.Evidence{Rule: "remote-flood", Address: ip},
		})
	}
	return out
}

func endpoint(ip string, port uint32) string {
	if ip == "" {
		ip = "*"
	}
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("[%s]:%d", ip, port)
	}
	return fmt.Sprintf("%s:%d", ip, port)
}
