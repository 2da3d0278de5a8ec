package models

import (
	"fmt"
	"strings"
)

// Domain identifies one monitored hardware/software category.
type Domain string

const (
	DomainCPU       Domain = "cpu"
	DomainMemory    Domain = "memory"
	DomainDisk      Domain = "disk"
	DomainNetwork   Domain = "network"
	DomainGPU       Domain = "gpu"
	DomainBattery   Domain = "battery"
	DomainProcesses Domain = "processes"
)

// canonicalOrder is the order in which results appear in a snapshot and a report.
var canonicalOrder = []Domain{
	DomainCPU,
	DomainMemory,
	DomainDisk,
	DomainNetwork,
	DomainGPU,
	DomainBattery,
	DomainProcesses,
}

var domainAliases = map[string]Domain{
	"cpu":       DomainCPU,
	"memory":    DomainMemory,
	"mem":       DomainMemory,
	"ram":       DomainMemory,
	"disk":      DomainDisk,
	"disks":     DomainDisk,
	"network":   DomainNetwork,
	"net":       DomainNetwork,
	"gpu":       DomainGPU,
	"battery":   DomainBattery,
	"processes": DomainProcesses,
	"process":   DomainProcesses,
	"procs":     DomainProcesses,
}

// AllDomains returns every known domain in canonical order.
func AllDomains() []Domain {
	out := make([]Domain, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// Rank returns the canonical position of d, or len(AllDomains()) for unknown domains.
func (d Domain) Rank() int {
	for i, c := range canonicalOrder {
		if c == d {
			return i
		}
	}
	return len(canonicalOrder)
}

// Known reports whether d is one of the canonical domains.
func (d Domain) Known() bool {
	return d.Rank() < len(canonicalOrder)
}

// ParseDomain maps a user-supplied name (case-insensitive, with short aliases) to a Domain.
func ParseDomain(s string) (Domain, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := domainAliases[key]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

// ParseDomains parses a list of names. "all" expands to every domain.
// The result is deduplicated and in canonical order.
func ParseDomains(names []string) ([]Domain, error) {
	var out []Domain
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), "all") {
			return AllDomains(), nil
		}
		d, err := ParseDomain(n)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return NormalizeDomains(out), nil
}

// NormalizeDomains removes duplicates and sorts into canonical order.
// Unknown domains are kept, after the known ones, in first-seen order.
func NormalizeDomains(ds []Domain) []Domain {
	seen := make(map[Domain]bool, len(ds))
	var known, unknown []Domain
	for _, d := range ds {
		if seen[d] {
			continue
		}
		seen[d] = true
		if d.Known() {
			known = append(known, d)
		} else {
			unknown = append(unknown, d)
		}
	}

	out := make([]Domain, 0, len(known)+len(unknown))
	for _, c := range canonicalOrder {
		for _, d := range known {
			if d == c {
				out = append(out, d)
			}
		}
	}
	return append(out, unknown...)
}
