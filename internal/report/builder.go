package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Title heads every report.
const Title = "VITALIS PROBE - FORENSIC SYSTEM REPORT"

// Thresholds mark usage percentages worth a reviewer's attention.
type Thresholds struct {
	CPU    float64
	Memory float64
	GPU    float64
	Disk   float64
}

// DefaultThresholds returns the stock markers.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 85, Memory: 90, GPU: 85, Disk: 90}
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the source of the footer timestamp.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// Builder converts sessions into documents. The footer timestamp is the only
// part of the output not derived from the session.
type Builder struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(th Thresholds, opts ...Option) *Builder {
	b := &Builder{thresholds: th, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Generate builds and renders the session.
func (b *Builder) Generate(s *models.Session) string {
	return Render(b.Build(s))
}

// Build lays the session out as System Info, Hardware Snapshots, Network,
// Stress Results, Security Findings and Footer.
func (b *Builder) Build(s *models.Session) Document {
	if s == nil {
		s = &models.Session{}
	}
	return Document{
		Title: Title,
		Sections: []Section{
			b.systemSection(s),
			b.hardwareSection(s),
			b.networkSection(s),
			b.stressSection(s),
			b.securitySection(s),
			b.footerSection(s),
		},
	}
}

func (b *Builder) systemSection(s *models.Session) Section {
	sec := Section{ID: SectionSystem, Title: "System Info"}
	g := Group{Title: "Host"}

	if s.System == nil {
		reason := s.SystemReason
		if reason == "" {
			reason = "system information not collected"
		}
		g.Items = append(g.Items, placeholderUnavailable(0, reason))
	} else {
		sys := s.System
		g.Items = append(g.Items,
			Item{Label: "Hostname", Value: orNA(sys.Hostname)},
			Item{Label: "Operating system", Value: orNA(sys.OS)},
			Item{Label: "Platform", Value: strings.TrimSpace(orNA(sys.Platform) + " " + sys.PlatformVersion)},
			Item{Label: "Kernel", Value: orNA(sys.KernelVersion)},
			Item{Label: "Architecture", Value: orNA(sys.Arch)},
			Item{Label: "Boot time", Value: timestamp(sys.BootTime)},
			Item{Label: "Uptime at capture", Value: duration(sys.Uptime)},
		)
	}
	g.Items = append(g.Items, Item{Label: "Session started", Value: timestamp(s.StartedAt)})

	sec.Groups = append(sec.Groups, g)
	return sec
}

func (b *Builder) hardwareSection(s *models.Session) Section {
	sec := Section{ID: SectionHardware, Title: "Hardware Snapshots"}
	if len(s.Snapshots) == 0 {
		sec.Groups = append(sec.Groups, Group{Items: []Item{{Label: "No snapshots captured."}}})
		return sec
	}

	for i, snap := range s.Snapshots {
		g := Group{Title: fmt.Sprintf("Snapshot %d of %d @ %s", i+1, len(s.Snapshots), timestamp(snap.Timestamp))}
		for _, res := range snap.Results {
			g.Items = append(g.Items, Item{Label: domainTitle(res.Domain)})
			if res.Status != models.StatusOK {
				g.Items = append(g.Items, placeholder(1, res))
				continue
			}
			g.Items = append(g.Items, b.fragmentItems(res.Fragment)...)
		}
		sec.Groups = append(sec.Groups, g)
	}
	return sec
}

func (b *Builder) fragmentItems(f models.Fragment) []Item {
	switch v := f.(type) {
	case models.CPUState:
		return b.cpuItems(v)
	case models.MemoryState:
		return b.memoryItems(v)
	case models.DiskStates:
		return b.diskItems(v)
	case models.GPUStates:
		return b.gpuItems(v)
	case models.BatteryState:
		return batteryItems(v)
	case models.ProcessList:
		return processItems(v)
	case models.NetworkStates:
		return networkSummary(v)
	}
	return []Item{{Label: fmt.Sprintf("unrecognized %s data", f.Domain()), Indent: 1}}
}

func (b *Builder) cpuItems(c models.CPUState) []Item {
	items := []Item{
		{Label: "Model", Value: orNA(c.Model), Indent: 1},
		{Label: "Usage", Value: percent(c.UsagePercent), Marker: marker(c.UsagePercent, b.thresholds.CPU), Indent: 1},
		{Label: "Cores", Value: fmt.Sprintf("%d physical / %d logical", c.PhysicalCores, c.LogicalCores), Indent: 1},
		{Label: "Frequency", Value: megahertz(c.FrequencyHz), Indent: 1},
		{Label: "Temperature", Value: celsius(c.TemperatureC), Indent: 1},
	}
	if c.Load != nil {
		items = append(items, Item{
			Label:  "Load average",
			Value:  fmt.Sprintf("%.2f %.2f %.2f", c.Load.Load1, c.Load.Load5, c.Load.Load15),
			Indent: 1,
		})
	}
	for i, p := range c.PerCore {
		items = append(items, Item{Label: fmt.Sprintf("Core %d", i), Value: percent(p), Indent: 2})
	}
	return items
}

func (b *Builder) memoryItems(m models.MemoryState) []Item {
	items := []Item{
		{Label: "Total", Value: humanBytes(m.Total), Indent: 1},
		{Label: "Used", Value: fmt.Sprintf("%s (%s)", humanBytes(m.Used), percent(m.UsedPercent)),
			Marker: marker(m.UsedPercent, b.thresholds.Memory), Indent: 1},
		{Label: "Available", Value: humanBytes(m.Available), Indent: 1},
	}
	if m.SwapTotal > 0 {
		items = append(items, Item{
			Label:  "Swap",
			Value:  fmt.Sprintf("%s of %s (%s)", humanBytes(m.SwapUsed), humanBytes(m.SwapTotal), percent(m.SwapPercent)),
			Indent: 1,
		})
	}
	return items
}

func (b *Builder) diskItems(disks models.DiskStates) []Item {
	if len(disks) == 0 {
		return []Item{{Label: "No local disks found.", Indent: 1}}
	}
	var items []Item
	for _, d := range disks {
		items = append(items,
			Item{Label: fmt.Sprintf("%s on %s (%s)", d.Device, d.Mount, orNA(d.FSType)), Indent: 1},
			Item{Label: "Total", Value: humanBytes(d.Total), Indent: 2},
			Item{Label: "Used", Value: fmt.Sprintf("%s (%s)", humanBytes(d.Used), percent(d.UsedPercent)),
				Marker: marker(d.UsedPercent, b.thresholds.Disk), Indent: 2},
			Item{Label: "Free", Value: humanBytes(d.Free), Indent: 2},
			Item{Label: "Read", Value: humanRate(d.ReadBytesPerSec), Indent: 2},
			Item{Label: "Write", Value: humanRate(d.WriteBytesPerSec), Indent: 2},
			Item{Label: "Temperature", Value: celsius(d.TemperatureC), Indent: 2},
		)
	}
	return items
}

func (b *Builder) gpuItems(gpus models.GPUStates) []Item {
	var items []Item
	for _, g := range gpus {
		items = append(items,
			Item{Label: fmt.Sprintf("GPU %d: %s", g.Index, orNA(g.Name)), Indent: 1},
			Item{Label: "Utilization", Value: percent(g.UtilizationPercent),
				Marker: marker(g.UtilizationPercent, b.thresholds.GPU), Indent: 2},
			Item{Label: "Memory", Value: fmt.Sprintf("%s / %s", humanBytes(g.MemoryUsed), humanBytes(g.MemoryTotal)), Indent: 2},
			Item{Label: "Temperature", Value: celsius(g.TemperatureC), Indent: 2},
			Item{Label: "Clock", Value: megahertz(g.ClockHz), Indent: 2},
			Item{Label: "Source", Value: orNA(g.Source), Indent: 2},
		)
	}
	return items
}

func batteryItems(bat models.BatteryState) []Item {
	left := "n/a"
	if bat.SecondsLeft != nil {
		left = duration(time.Duration(*bat.SecondsLeft) * time.Second)
	}
	health := "n/a"
	if bat.HealthPct != nil {
		health = percent(*bat.HealthPct)
	}
	return []Item{
		{Label: "Batteries", Value: fmt.Sprintf("%d", bat.Batteries), Indent: 1},
		{Label: "Charge", Value: percent(bat.Percent), Indent: 1},
		{Label: "State", Value: orNA(bat.State), Indent: 1},
		{Label: "Power plugged", Value: yesNo(bat.PowerPlugged), Indent: 1},
		{Label: "Time left", Value: left, Indent: 1},
		{Label: "Voltage", Value: fmt.Sprintf("%.2f V", bat.VoltageV), Indent: 1},
		{Label: "Charge rate", Value: fmt.Sprintf("%.2f W", bat.ChargeRateW), Indent: 1},
		{Label: "Health", Value: health, Indent: 1},
	}
}

func processItems(procs models.ProcessList) []Item {
	if len(procs) == 0 {
		return []Item{{Label: "No processes listed.", Indent: 1}}
	}
	items := make([]Item, 0, len(procs))
	for _, p := range procs {
		items = append(items, Item{
			Label:  fmt.Sprintf("PID %d", p.PID),
			Value:  fmt.Sprintf("%s cpu %s mem %s", p.Name, percent(p.CPU), percent(p.Memory)),
			Indent: 1,
		})
	}
	return items
}

// networkSummary is the per-snapshot network line. Interface detail lives in
// the Network section.
func networkSummary(ifaces models.NetworkStates) []Item {
	var send, recv uint64
	up := 0
	for _, n := range ifaces {
		send += n.SendBytesPerSec
		recv += n.RecvBytesPerSec
		if n.Up {
			up++
		}
	}
	return []Item{
		{Label: "Interfaces", Value: fmt.Sprintf("%d (%d up)", len(ifaces), up), Indent: 1},
		{Label: "Send rate", Value: humanRate(send), Indent: 1},
		{Label: "Receive rate", Value: humanRate(recv), Indent: 1},
	}
}

// networkSection renders interfaces from the latest snapshot that requested
// the network domain. Earlier network outcomes appear in their snapshot
// groups.
func (b *Builder) networkSection(s *models.Session) Section {
	sec := Section{ID: SectionNetwork, Title: "Network"}

	for i := len(s.Snapshots) - 1; i >= 0; i-- {
		res, ok := s.Snapshots[i].Result(models.DomainNetwork)
		if !ok {
			continue
		}
		g := Group{Title: "Interfaces @ " + timestamp(s.Snapshots[i].Timestamp)}
		if res.Status != models.StatusOK {
			g.Items = append(g.Items, placeholder(0, res))
			sec.Groups = append(sec.Groups, g)
			return sec
		}
		ifaces, _ := res.Fragment.(models.NetworkStates)
		if len(ifaces) == 0 {
			g.Items = append(g.Items, Item{Label: "No interfaces found."})
		}
		for _, n := range ifaces {
			g.Items = append(g.Items,
				Item{Label: "Interface " + n.Name},
				Item{Label: "Up", Value: yesNo(n.Up), Indent: 1},
				Item{Label: "Hardware address", Value: orNA(n.HardwareAddr), Indent: 1},
				Item{Label: "Addresses", Value: orNA(strings.Join(n.Addresses, ", ")), Indent: 1},
				Item{Label: "Bytes sent", Value: humanBytes(n.BytesSent), Indent: 1},
				Item{Label: "Bytes received", Value: humanBytes(n.BytesRecv), Indent: 1},
				Item{Label: "Send rate", Value: humanRate(n.SendBytesPerSec), Indent: 1},
				Item{Label: "Receive rate", Value: humanRate(n.RecvBytesPerSec), Indent: 1},
				Item{Label: "Errors / drops", Value: fmt.Sprintf("%d / %d", n.Errors, n.Drops), Indent: 1},
			)
		}
		sec.Groups = append(sec.Groups, g)
		return sec
	}

	sec.Groups = append(sec.Groups, Group{Items: []Item{
		placeholderUnavailable(0, "network was not captured in this session"),
	}})
	return sec
}

func (b *Builder) stressSection(s *models.Session) Section {
	sec := Section{ID: SectionStress, Title: "Stress Results"}
	if len(s.StressRuns) == 0 {
		sec.Groups = append(sec.Groups, Group{Items: []Item{{Label: "No stress runs recorded."}}})
		return sec
	}

	for _, run := range s.StressRuns {
		g := Group{Title: fmt.Sprintf("Stress run %s - %s", run.ID, strings.ToUpper(string(run.Kind)))}
		status := strings.ToUpper(string(run.Status))
		if run.Cause != "" {
			status += " (" + run.Cause + ")"
		}
		g.Items = append(g.Items,
			Item{Label: "Status", Value: status},
			Item{Label: "Workers", Value: fmt.Sprintf("%d", run.Workers)},
			Item{Label: "Requested duration", Value: duration(run.Duration)},
			Item{Label: "Started", Value: timestamp(run.StartedAt)},
			Item{Label: "Ended", Value: timestamp(run.EndedAt)},
			Item{Label: "Elapsed", Value: duration(run.EndedAt.Sub(run.StartedAt))},
			Item{Label: "Samples", Value: fmt.Sprintf("%d", len(run.Snapshots))},
		)

		cpu, mem := loadCurve(run.Snapshots)
		g.Items = append(g.Items,
			Item{Label: "CPU usage min/avg/max", Value: cpu.String()},
			Item{Label: "Memory usage min/avg/max", Value: mem.String()},
		)

		if len(run.Snapshots) > 0 {
			g.Items = append(g.Items, Item{Label: "Load response"})
		}
		for i, snap := range run.Snapshots {
			offset := snap.Timestamp.Sub(run.StartedAt)
			g.Items = append(g.Items, Item{
				Label:  fmt.Sprintf("#%d t+%s", i+1, duration(offset)),
				Value:  fmt.Sprintf("cpu %s  mem %s", sampleValue(snap, models.DomainCPU), sampleValue(snap, models.DomainMemory)),
				Indent: 1,
			})
			for _, res := range snap.Results {
				if res.Status == models.StatusOK {
					continue
				}
				p := placeholder(2, res)
				p.Label = domainTitle(res.Domain) + " " + p.Label
				g.Items = append(g.Items, p)
			}
		}
		sec.Groups = append(sec.Groups, g)
	}
	return sec
}

type stats struct {
	n             int
	min, max, sum float64
}

func (s *stats) add(v float64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.sum += v
	s.n++
}

func (s stats) String() string {
	if s.n == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%s / %s / %s", percent(s.min), percent(s.sum/float64(s.n)), percent(s.max))
}

func loadCurve(snaps []models.MetricSnapshot) (cpu, mem stats) {
	for _, snap := range snaps {
		if c, ok := snap.CPU(); ok && !math.IsNaN(c.UsagePercent) {
			cpu.add(c.UsagePercent)
		}
		if m, ok := snap.Memory(); ok && !math.IsNaN(m.UsedPercent) {
			mem.add(m.UsedPercent)
		}
	}
	return cpu, mem
}

func sampleValue(snap models.MetricSnapshot, d models.Domain) string {
	res, ok := snap.Result(d)
	if !ok {
		return "-"
	}
	switch v := res.Fragment.(type) {
	case models.CPUState:
		return percent(v.UsagePercent)
	case models.MemoryState:
		return percent(v.UsedPercent)
	}
	return string(res.Status)
}

func (b *Builder) securitySection(s *models.Session) Section {
	sec := Section{ID: SectionSecurity, Title: "Security Findings"}
	if len(s.Findings) == 0 {
		sec.Groups = append(sec.Groups, Group{Items: []Item{{Label: "No findings."}}})
		return sec
	}

	summary := Group{Title: "Summary"}
	counts := map[models.Severity]int{}
	for _, f := range s.Findings {
		counts[f.Severity]++
	}
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityWarning, models.SeverityInfo} {
		summary.Items = append(summary.Items, Item{Label: capitalize(string(sev)), Value: fmt.Sprintf("%d", counts[sev])})
	}
	sec.Groups = append(sec.Groups, summary)

	for _, cat := range []models.Category{models.CategoryProcess, models.CategoryNetwork, models.CategoryOverclock} {
		g := Group{Title: capitalize(string(cat)) + " findings"}
		for _, f := range s.Findings {
			if f.Category != cat {
				continue
			}
			line := fmt.Sprintf("[%s] %s", strings.ToUpper(string(f.Severity)), f.Description)
			if ev := f.Evidence.String(); ev != "" {
				line += " {" + ev + "}"
			}
			g.Items = append(g.Items, Item{Value: line})
		}
		if len(g.Items) == 0 {
			g.Items = append(g.Items, Item{Label: "None."})
		}
		sec.Groups = append(sec.Groups, g)
	}
	return sec
}

func (b *Builder) footerSection(s *models.Session) Section {
	return Section{
		ID:    SectionFooter,
		Title: "FOOTER",
		Groups: []Group{{Items: []Item{
			{Label: "Snapshots", Value: fmt.Sprintf("%d", len(s.Snapshots))},
			{Label: "Stress runs", Value: fmt.Sprintf("%d", len(s.StressRuns))},
			{Label: "Findings", Value: fmt.Sprintf("%d", len(s.Findings))},
			{Label: "Generated at", Value: timestamp(b.now())},
		}}},
	}
}

func placeholder(indent int, res models.CollectorResult) Item {
	if res.Status == models.StatusUnavailable {
		return placeholderUnavailable(indent, res.Reason)
	}
	code := res.Code
	if code == "" {
		code = "unknown"
	}
	return Item{Label: fmt.Sprintf("%s %s: %s", PlaceholderError, code, orNA(res.Reason)), Indent: indent}
}

func placeholderUnavailable(indent int, reason string) Item {
	return Item{Label: PlaceholderUnavailable + " " + orNA(reason), Indent: indent}
}

func domainTitle(d models.Domain) string {
	switch d {
	case models.DomainCPU:
		return "CPU"
	case models.DomainGPU:
		return "GPU"
	case models.DomainMemory:
		return "Memory"
	case models.DomainDisk:
		return "Disks"
	case models.DomainBattery:
		return "Battery"
	case models.DomainNetwork:
		return "Network"
	case models.DomainProcesses:
		return "Top processes"
	}
	return string(d)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}
