package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

func networkSnapshot(ts time.Time, recv, sent uint64) models.MetricSnapshot {
	return models.MetricSnapshot{
		Timestamp: ts,
		Results: []models.CollectorResult{
			models.Ok(models.NetworkStates{{Name: "eth0", Up: true, RecvBytesPerSec: recv, SendBytesPerSec: sent}}),
		},
	}
}

func established(pid int32, local uint32, remoteIP string, remote uint32) models.Connection {
	return models.Connection{
		PID: pid, Family: "ipv4", Protocol: "TCP",
		LocalIP: "192.168.1.10", LocalPort: local,
		RemoteIP: remoteIP, RemotePort: remote,
		Status: "ESTABLISHED",
	}
}

func TestDefaultRuleSetLoads(t *testing.T) {
	rs := DefaultRuleSet()
	assert.Equal(t, SupportedVersion, rs.Version)
	assert.NotEmpty(t, rs.Process)
	assert.NotEmpty(t, rs.Overclock)
	require.NotNil(t, rs.Network.BusyProcess)
	require.NotNil(t, rs.Network.RemoteFlood)
	assert.Equal(t, 10, rs.Network.RemoteFlood.MinConnections)
	assert.Equal(t, uint64(2<<20), rs.Network.BusyProcess.MinBytesPerSec)

	var vnc PortRange
	for _, r := range rs.Network.Ports {
		if r.ID == "remote-access" {
			vnc = r.Ports[len(r.Ports)-1]
		}
	}
	assert.Equal(t, PortRange{Lo: 5900, Hi: 5905}, vnc)
}

func TestParseRuleSetRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"wrong version", "version: 2\n"},
		{"unknown field", "version: 1\nprocess:\n  - id: a\n    patterns: [x]\n    severity: info\n    colour: red\n"},
		{"duplicate id", "version: 1\nprocess:\n  - {id: a, patterns: [x], severity: info}\noverclock:\n  - {id: a, patterns: [y], severity: info}\n"},
		{"bad severity", "version: 1\nprocess:\n  - {id: a, patterns: [x], severity: urgent}\n"},
		{"no patterns", "version: 1\nprocess:\n  - {id: a, severity: info}\n"},
		{"port out of range", "version: 1\nnetwork:\n  ports:\n    - {id: p, ports: [\"70000\"], severity: info}\n"},
		{"reversed range", "version: 1\nnetwork:\n  ports:\n    - {id: p, ports: [\"10-5\"], severity: info}\n"},
		{"conflicting states", "version: 1\nnetwork:\n  ports:\n    - {id: p, ports: [\"22\"], listening: true, established: true, severity: info}\n"},
		{"flood without ports", "version: 1\nnetwork:\n  remote_flood: {min_connections: 3, severity: critical}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidRuleSet), "got %v", err)
		})
	}
}

func TestLoadRuleSet(t *testing.T) {
	rs, err := LoadRuleSet("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRuleSet(), rs)

	_, err = LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrInvalidRuleSet))

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nprocess:\n  - {id: miner, patterns: [XMRig], severity: CRIT, description: Miner}\n"), 0o600))
	rs, err = LoadRuleSet(path)
	require.NoError(t, err)
	require.Len(t, rs.Process, 1)
	assert.Equal(t, []string{"xmrig"}, rs.Process[0].Patterns)
	assert.Equal(t, models.SeverityCritical, rs.Process[0].Severity)
}

func TestAuditCategoryOrder(t *testing.T) {
	a := New(nil, zap.NewNop())

	processes := models.ProcessList{
		{PID: 1, Name: "systemd"},
		{PID: 77, Name: "MSIAfterburner.exe"},
		{PID: 42, Name: "xmrig"},
		{PID: 90, Name: "nc"},
		{PID: 91, Name: "ncurses-demo"},
	}
	connections := []models.Connection{
		{PID: 300, Protocol: "TCP", LocalIP: "0.0.0.0", LocalPort: 23, Status: "LISTEN"},
		established(400, 22, "10.0.0.9", 51000),
	}

	got := a.Audit(networkSnapshot(time.Unix(0, 0), 0, 0), processes, connections)

	var cats []models.Category
	var rules []string
	for _, f := range got {
		cats = append(cats, f.Category)
		rules = append(rules, f.Evidence.Rule)
	}
	assert.Equal(t, []models.Category{
		models.CategoryProcess, models.CategoryProcess,
		models.CategoryNetwork, models.CategoryNetwork,
		models.CategoryOverclock,
	}, cats)
	assert.Equal(t, []string{"crypto-miner", "reverse-shell", "telnet-listener", "remote-access", "overclock-tool"}, rules)

	assert.Equal(t, int32(42), got[0].Evidence.PID)
	assert.Equal(t, models.SeverityCritical, got[0].Severity)
	assert.Equal(t, uint32(22), got[3].Evidence.Port)
	assert.Equal(t, "10.0.0.9:51000", got[3].Evidence.Address)
	assert.Equal(t, "MSIAfterburner.exe", got[4].Evidence.Process)
}

func TestAuditIsDeterministic(t *testing.T) {
	a := New(nil, nil)
	snap := networkSnapshot(time.Unix(100, 0), 3<<20, 0)

	processes := models.ProcessList{{PID: 5, Name: "teamviewer"}, {PID: 6, Name: "curl"}, {PID: 7, Name: "throttlestop"}}
	var connections []models.Connection
	for i := 0; i < 12; i++ {
		connections = append(connections, established(6, uint32(40000+i), "203.0.113.7", 22))
	}

	first := a.Audit(snap, processes, connections)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, a.Audit(snap, processes, connections))
	}
}

func TestAuditMalformedEntriesBecomeFindings(t *testing.T) {
	a := New(nil, nil)

	processes := models.ProcessList{
		{PID: 0, Name: "ghost"},
		{PID: 42, Name: "xmrig"},
		{PID: 43, Name: "  "},
	}
	connections := []models.Connection{
		{PID: 9, LocalIP: "127.0.0.1", LocalPort: 8080, RemotePort: 443, Status: "ESTABLISHED"},
	}

	got := a.Audit(models.MetricSnapshot{}, processes, connections)
	require.Len(t, got, 4)

	assert.Equal(t, "process-entry", got[0].Evidence.Rule)
	assert.Equal(t, "crypto-miner", got[1].Evidence.Rule)
	assert.Equal(t, "process-entry", got[2].Evidence.Rule)
	assert.Equal(t, "connection-entry", got[3].Evidence.Rule)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, models.CategoryProcess, got[i].Category)
		assert.Equal(t, models.SeverityWarning, got[i].Severity)
	}
}

func TestGuardRecordsPanics(t *testing.T) {
	var f findings
	f.guard("broken", models.Evidence{PID: 3}, func() { panic("index out of range") })

	require.Len(t, f.process, 1)
	assert.Equal(t, "Rule evaluation failed: index out of range", f.process[0].Description)
	assert.Equal(t, "rule=broken pid=3", f.process[0].Evidence.String())
}

func TestBusyProcessHeuristic(t *testing.T) {
	a := New(nil, nil)
	processes := models.ProcessList{{PID: 6, Name: "uploader"}}

	var connections []models.Connection
	for i := 0; i < 5; i++ {
		connections = append(connections, established(6, uint32(50000+i), "198.51.100.1", 443))
	}

	quiet := a.Audit(networkSnapshot(time.Unix(0, 0), 1024, 1024), processes, connections)
	assert.Empty(t, quiet)

	busy := a.Audit(networkSnapshot(time.Unix(0, 0), 2<<20, 0), processes, connections)
	require.Len(t, busy, 1)
	assert.Equal(t, "busy-process", busy[0].Evidence.Rule)
	assert.Equal(t, "uploader", busy[0].Evidence.Process)
	assert.Equal(t, models.SeverityWarning, busy[0].Severity)
}

func TestRemoteFloodHeuristic(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`version: 1
network:
  remote_flood:
    min_connections: 10
    ports: ["22"]
    severity: critical
    description: Brute force
`))
	require.NoError(t, err)
	a := New(rs, nil)

	var connections []models.Connection
	for i := 0; i < 9; i++ {
		connections = append(connections, established(0, 22, "203.0.113.7", uint32(40000+i)))
		connections = append(connections, established(0, 22, "203.0.113.8", uint32(41000+i)))
	}
	assert.Empty(t, a.Audit(models.MetricSnapshot{}, nil, connections))

	connections = append(connections, established(0, 22, "203.0.113.8", 42000))
	got := a.Audit(models.MetricSnapshot{}, nil, connections)
	require.Len(t, got, 1)
	assert.Equal(t, "203.0.113.8", got[0].Evidence.Address)
	assert.Equal(t, models.SeverityCritical, got[0].Severity)
	assert.Equal(t, "Brute force: 10 connections from 203.0.113.8", got[0].Description)
}

func TestPatternRuleMatchesExecutable(t *testing.T) {
	rule := PatternRule{ID: "oc", Patterns: []string{"throttlestop"}}
	_, ok := rule.match(models.ProcessInfo{PID: 1, Name: "ts", Exe: `C:\Tools\ThrottleStop.exe`})
	assert.True(t, ok)

	exact := PatternRule{ID: "nc", Patterns: []string{"nc"}, Exact: true}
	_, ok = exact.match(models.ProcessInfo{PID: 1, Name: "nc.exe"})
	assert.True(t, ok)
	_, ok = exact.match(models.ProcessInfo{PID: 1, Name: "sync"})
	assert.False(t, ok)
}

func TestDetectNetworkSpikes(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var snaps []models.MetricSnapshot
	for i := 0; i < 15; i++ {
		snaps = append(snaps, networkSnapshot(base.Add(time.Duration(i)*time.Second), 10*1024, 0))
	}
	snaps = append(snaps, models.MetricSnapshot{Timestamp: base.Add(15 * time.Second)})
	snaps = append(snaps, networkSnapshot(base.Add(16*time.Second), 500*1024, 0))

	got := DetectNetworkSpikes(snaps, DefaultSpikeConfig())
	require.Len(t, got, 1)
	assert.Equal(t, models.CategoryNetwork, got[0].Category)
	assert.Contains(t, got[0].Description, "download spike at 2024-01-01T00:00:16Z: 500.0 KB/s")
}

func TestDetectNetworkSpikesNeedsHistoryAndVolume(t *testing.T) {
	base := time.Unix(0, 0)

	short := []models.MetricSnapshot{
		networkSnapshot(base, 1024, 0),
		networkSnapshot(base, 1024, 0),
		networkSnapshot(base, 900*1024, 0),
	}
	assert.Empty(t, DetectNetworkSpikes(short, DefaultSpikeConfig()))

	var small []models.MetricSnapshot
	for i := 0; i < 20; i++ {
		small = append(small, networkSnapshot(base, 0, 100))
	}
	small = append(small, networkSnapshot(base, 0, 40*1024))
	assert.Empty(t, DetectNetworkSpikes(small, DefaultSpikeConfig()), "spikes under 50 KB/s are noise")
}

func TestAuditHistoryKeepsSpikesInNetworkBlock(t *testing.T) {
	a := New(nil, zap.NewNop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var snaps []models.MetricSnapshot
	for i := 0; i < 19; i++ {
		snaps = append(snaps, networkSnapshot(base.Add(time.Duration(i)*time.Second), 10*1024, 0))
	}
	snaps = append(snaps, networkSnapshot(base.Add(19*time.Second), 5<<20, 0))

	processes := models.ProcessList{
		{PID: 77, Name: "MSIAfterburner.exe"},
		{PID: 42, Name: "xmrig"},
	}
	connections := []models.Connection{
		{PID: 300, Protocol: "TCP", LocalIP: "0.0.0.0", LocalPort: 23, Status: "LISTEN"},
	}

	got := a.AuditHistory(snaps, DefaultSpikeConfig(), processes, connections)

	var rules []string
	for _, f := range got {
		rules = append(rules, f.Evidence.Rule)
	}
	assert.Equal(t, []string{"crypto-miner", "telnet-listener", "network-spike", "overclock-tool"}, rules)
	assert.Equal(t, models.CategoryNetwork, got[2].Category)

	assert.Equal(t, a.Audit(snaps[0], processes, connections),
		a.AuditHistory(snaps[:1], DefaultSpikeConfig(), processes, connections),
		"without enough history the result matches a single-snapshot audit")
}
