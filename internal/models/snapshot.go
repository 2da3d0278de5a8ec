package models

import "time"

// ResultStatus tags a CollectorResult.
type ResultStatus string

const (
	StatusOK          ResultStatus = "ok"
	StatusUnavailable ResultStatus = "unavailable"
	StatusError       ResultStatus = "error"
)

// CollectorResult is the outcome of one domain's collection:
// Ok(fragment), Unavailable(reason) or Error(code, reason).
type CollectorResult struct {
	Domain   Domain       `json:"domain"`
	Status   ResultStatus `json:"status"`
	Fragment Fragment     `json:"data,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Code     string       `json:"code,omitempty"`
}

// Ok wraps a successfully collected fragment.
func Ok(f Fragment) CollectorResult {
	return CollectorResult{Domain: f.Domain(), Status: StatusOK, Fragment: f}
}

// Unavailable marks a domain the host cannot provide.
func Unavailable(d Domain, reason string) CollectorResult {
	return CollectorResult{Domain: d, Status: StatusUnavailable, Reason: reason}
}

// Failed marks a domain whose collection errored.
func Failed(d Domain, code, reason string) CollectorResult {
	return CollectorResult{Domain: d, Status: StatusError, Code: code, Reason: reason}
}

// MetricSnapshot is one point-in-time capture across a set of domains.
// Results hold exactly one entry per requested domain in canonical order.
type MetricSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Results   []CollectorResult `json:"results"`
}

// Result returns the entry for d.
func (s MetricSnapshot) Result(d Domain) (CollectorResult, bool) {
	for _, r := range s.Results {
		if r.Domain == d {
			return r, true
		}
	}
	return CollectorResult{}, false
}

// Domains lists the domains present in the snapshot, in result order.
func (s MetricSnapshot) Domains() []Domain {
	out := make([]Domain, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.Domain)
	}
	return out
}

func (s MetricSnapshot) fragment(d Domain) Fragment {
	r, ok := s.Result(d)
	if !ok || r.Status != StatusOK {
		return nil
	}
	return r.Fragment
}

// CPU returns the CPU fragment when it was collected successfully.
func (s MetricSnapshot) CPU() (CPUState, bool) {
	v, ok := s.fragment(DomainCPU).(CPUState)
	return v, ok
}

// Memory returns the memory fragment when it was collected successfully.
func (s MetricSnapshot) Memory() (MemoryState, bool) {
	v, ok := s.fragment(DomainMemory).(MemoryState)
	return v, ok
}

// Disks returns the disk fragment when it was collected successfully.
func (s MetricSnapshot) Disks() (DiskStates, bool) {
	v, ok := s.fragment(DomainDisk).(DiskStates)
	return v, ok
}

// Network returns the network fragment when it was collected successfully.
func (s MetricSnapshot) Network() (NetworkStates, bool) {
	v, ok := s.fragment(DomainNetwork).(NetworkStates)
	return v, ok
}

// GPUs returns the GPU fragment when it was collected successfully.
func (s MetricSnapshot) GPUs() (GPUStates, bool) {
	v, ok := s.fragment(DomainGPU).(GPUStates)
	return v, ok
}

// Battery returns the battery fragment when it was collected successfully.
func (s MetricSnapshot) Battery() (BatteryState, bool) {
	v, ok := s.fragment(DomainBattery).(BatteryState)
	return v, ok
}

// Processes returns the process fragment when it was collected successfully.
func (s MetricSnapshot) Processes() (ProcessList, bool) {
	v, ok := s.fragment(DomainProcesses).(ProcessList)
	return v, ok
}
