package audit

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

// SupportedVersion is the only rule set schema version understood.
const SupportedVersion = 1

//go:embed rules.yaml
var defaultRules []byte

var errFactory = errors.New()

// RuleSet is the data that drives an audit. It is read-only once loaded.
type RuleSet struct {
	Version   int           `yaml:"version"`
	Process   []PatternRule `yaml:"process"`
	Network   NetworkRules  `yaml:"network"`
	Overclock []PatternRule `yaml:"overclock"`
}

// PatternRule matches process names.
type PatternRule struct {
	ID          string          `yaml:"id"`
	Patterns    []string        `yaml:"patterns"`
	Exact       bool            `yaml:"exact"`
	Severity    models.Severity `yaml:"severity"`
	Description string          `yaml:"description"`
}

// NetworkRules holds per-connection port rules and aggregate heuristics.
type NetworkRules struct {
	Ports       []PortRule   `yaml:"ports"`
	BusyProcess *BusyProcess `yaml:"busy_process"`
	RemoteFlood *RemoteFlood `yaml:"remote_flood"`
}

// PortRule matches connections by local or remote port.
type PortRule struct {
	ID    string      `yaml:"id"`
	Ports []PortRange `yaml:"ports"`
	// Established only matches connected sessions with a remote peer.
	Established bool `yaml:"established"`
	// Listening only matches sockets in LISTEN state on a local port.
	Listening   bool            `yaml:"listening"`
	Severity    models.Severity `yaml:"severity"`
	Description string          `yaml:"description"`
}

// BusyProcess flags processes holding many connections while the host's
// total network throughput is high.
type BusyProcess struct {
	MinConnections int             `yaml:"min_connections"`
	MinBytesPerSec uint64          `yaml:"min_bytes_per_sec"`
	Severity       models.Severity `yaml:"severity"`
	Description    string          `yaml:"description"`
}

// RemoteFlood flags remote addresses holding many connections to remote
// access ports.
type RemoteFlood struct {
	MinConnections int             `yaml:"min_connections"`
	Ports          []PortRange     `yaml:"ports"`
	Severity       models.Severity `yaml:"severity"`
	Description    string          `yaml:"description"`
}

// PortRange is an inclusive port range written as "22" or "5900-5905".
type PortRange struct {
	Lo, Hi uint32
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *PortRange) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a scalar", value.Line)
	}
	lo, hi, found := strings.Cut(value.Value, "-")
	if !found {
		hi = lo
	}
	l, err := parsePort(lo)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	h, err := parsePort(hi)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if l > h {
		return fmt.Errorf("line %d: empty port range %q", value.Line, value.Value)
	}
	r.Lo, r.Hi = l, h
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (r PortRange) MarshalYAML() (interface{}, error) {
	if r.Lo == r.Hi {
		return strconv.FormatUint(uint64(r.Lo), 10), nil
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi), nil
}

// Contains reports whether port lies in the range.
func (r PortRange) Contains(port uint32) bool {
	return port >= r.Lo && port <= r.Hi
}

func parsePort(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || n == 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint32(n), nil
}

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() *RuleSet {
	rs, err := ParseRuleSet(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in audit rules are invalid: %v", err))
	}
	return rs
}

// LoadRuleSet reads a rule set from path. An empty path returns the
// built-in rules.
func LoadRuleSet(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidRuleSet, fmt.Errorf("reading %s: %w", path, err))
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates a YAML rule set. Unknown fields are
// rejected so typos do not silently disable rules.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidRuleSet, err)
	}
	if err := rs.validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidRuleSet, err)
	}
	rs.normalize()
	return &rs, nil
}

func (rs *RuleSet) validate() error {
	if rs.Version != SupportedVersion {
		return fmt.Errorf("unsupported rule set version %d", rs.Version)
	}

	ids := make(map[string]bool)
	checkID := func(id string) error {
		if id == "" {
			return fmt.Errorf("rule without id")
		}
		if ids[id] {
			return fmt.Errorf("duplicate rule id %q", id)
		}
		ids[id] = true
		return nil
	}

	for _, group := range [][]PatternRule{rs.Process, rs.Overclock} {
		for _, r := range group {
			if err := checkID(r.ID); err != nil {
				return err
			}
			if len(r.Patterns) == 0 {
				return fmt.Errorf("rule %q has no patterns", r.ID)
			}
			for _, p := range r.Patterns {
				if strings.TrimSpace(p) == "" {
					return fmt.Errorf("rule %q has an empty pattern", r.ID)
				}
			}
			if err := checkSeverity(r.ID, r.Severity); err != nil {
				return err
			}
		}
	}

	for _, r := range rs.Network.Ports {
		if err := checkID(r.ID); err != nil {
			return err
		}
		if len(r.Ports) == 0 {
			return fmt.Errorf("rule %q has no ports", r.ID)
		}
		if r.Established && r.Listening {
			return fmt.Errorf("rule %q cannot require both established and listening", r.ID)
		}
		if err := checkSeverity(r.ID, r.Severity); err != nil {
			return err
		}
	}

	if b := rs.Network.BusyProcess; b != nil {
		if b.MinConnections <= 0 {
			return fmt.Errorf("busy_process.min_connections must be positive")
		}
		if err := checkSeverity("busy_process", b.Severity); err != nil {
			return err
		}
	}
	if f := rs.Network.RemoteFlood; f != nil {
		if f.MinConnections <= 0 {
			return fmt.Errorf("remote_flood.min_connections must be positive")
		}
		if len(f.Ports) == 0 {
			return fmt.Errorf("remote_flood has no ports")
		}
		if err := checkSeverity("remote_flood", f.Severity); err != nil {
			return err
		}
	}
	return nil
}

func checkSeverity(id string, s models.Severity) error {
	if _, err := models.ParseSeverity(string(s)); err != nil {
		return fmt.Errorf("rule %q: %w", id, err)
	}
	return nil
}

// normalize canonicalizes severities and lowercases patterns.
func (rs *RuleSet) normalize() {
	for _, group := range [][]PatternRule{rs.Process, rs.Overclock} {
		for i := range group {
			group[i].Severity, _ = models.ParseSeverity(string(group[i].Severity))
			for j, p := range group[i].Patterns {
				group[i].Patterns[j] = strings.ToLower(strings.TrimSpace(p))
			}
		}
	}
	for i := range rs.Network.Ports {
		rs.Network.Ports[i].Severity, _ = models.ParseSeverity(string(rs.Network.Ports[i].Severity))
	}
	if b := rs.Network.BusyProcess; b != nil {
		b.Severity, _ = models.ParseSeverity(string(b.Severity))
	}
	if f := rs.Network.RemoteFlood; f != nil {
		f.Severity, _ = models.ParseSeverity(string(f.Severity))
	}
}
