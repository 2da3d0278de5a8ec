// Package models defines the data structures shared by collectors, the stress
// harness, the auditor and the report builder.
package models

import (
	"fmt"
	"math"
)

// Fragment is one domain's normalized contribution to a snapshot.
type Fragment interface {
	Domain() Domain

	// Validate rejects garbled values (NaN, infinities, out-of-range percentages).
	Validate() error
}

// CPUState holds processor utilization and identity.
type CPUState struct {
	Model         string       `json:"model,omitempty"`
	UsagePercent  float64      `json:"usage_percent"`
	PerCore       []float64    `json:"per_core,omitempty"`
	FrequencyHz   uint64       `json:"frequency_hz"`
	LogicalCores  int          `json:"logical_cores"`
	PhysicalCores int          `json:"physical_cores"`
	TemperatureC  *float64     `json:"temperature_c,omitempty"`
	Load          *LoadAverage `json:"load,omitempty"`
}

// LoadAverage is the 1/5/15 minute run-queue average. Absent on Windows.
type LoadAverage struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

func (CPUState) Domain() Domain { return DomainCPU }

func (c CPUState) Validate() error {
	if err := checkPercent("usage_percent", c.UsagePercent); err != nil {
		return err
	}
	for i, p := range c.PerCore {
		if err := checkPercent(fmt.Sprintf("per_core[%d]", i), p); err != nil {
			return err
		}
	}
	if c.LogicalCores < 0 || c.PhysicalCores < 0 {
		return fmt.Errorf("negative core count")
	}
	if err := checkTemperature("temperature_c", c.TemperatureC); err != nil {
		return err
	}
	if c.Load != nil {
		for _, v := range []float64{c.Load.Load1, c.Load.Load5, c.Load.Load15} {
			if err := checkNonNegative("load", v); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemoryState holds RAM and swap usage.
type MemoryState struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`
	SwapPercent float64 `json:"swap_percent"`
}

func (MemoryState) Domain() Domain { return DomainMemory }

func (m MemoryState) Validate() error {
	if m.Total == 0 {
		return fmt.Errorf("total memory is zero")
	}
	if m.Used > m.Total {
		return fmt.Errorf("used memory %d exceeds total %d", m.Used, m.Total)
	}
	if err := checkPercent("used_percent", m.UsedPercent); err != nil {
		return err
	}
	return checkPercent("swap_percent", m.SwapPercent)
}

// DiskState represents usage and throughput for a single partition.
type DiskState struct {
	Device           string   `json:"device"`
	Mount            string   `json:"mount"`
	FSType           string   `json:"fs,omitempty"`
	Total            uint64   `json:"total"`
	Used             uint64   `json:"used"`
	Free             uint64   `json:"free"`
	UsedPercent      float64  `json:"used_percent"`
	ReadBytesPerSec  uint64   `json:"read_bytes_per_sec"`
	WriteBytesPerSec uint64   `json:"write_bytes_per_sec"`
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
}

// DiskStates is the disk fragment, in OS enumeration order.
type DiskStates []DiskState

func (DiskStates) Domain() Domain { return DomainDisk }

func (d DiskStates) Validate() error {
	for _, s := range d {
		if s.Mount == "" {
			return fmt.Errorf("disk %q has no mount point", s.Device)
		}
		if err := checkPercent(s.Mount+" used_percent", s.UsedPercent); err != nil {
			return err
		}
		if err := checkTemperature(s.Mount+" temperature_c", s.TemperatureC); err != nil {
			return err
		}
	}
	return nil
}

// NetworkInterfaceState holds counters and rates for one interface.
type NetworkInterfaceState struct {
	Name            string   `json:"name"`
	Up              bool     `json:"up"`
	HardwareAddr    string   `json:"hardware_addr,omitempty"`
	Addresses       []string `json:"addresses,omitempty"`
	BytesSent       uint64   `json:"bytes_sent"`
	BytesRecv       uint64   `json:"bytes_recv"`
	PacketsSent     uint64   `json:"packets_sent"`
	PacketsRecv     uint64   `json:"packets_recv"`
	Errors          uint64   `json:"errors"`
	Drops           uint64   `json:"drops"`
	SendBytesPerSec uint64   `json:"send_bytes_per_sec"`
	RecvBytesPerSec uint64   `json:"recv_bytes_per_sec"`
}

// NetworkStates is the network fragment, in OS enumeration order.
type NetworkStates []NetworkInterfaceState

func (NetworkStates) Domain() Domain { return DomainNetwork }

func (n NetworkStates) Validate() error {
	for i, s := range n {
		if s.Name == "" {
			return fmt.Errorf("interface %d has no name", i)
		}
	}
	return nil
}

// Throughput returns the combined send+receive rate across all interfaces.
func (n NetworkStates) Throughput() uint64 {
	var total uint64
	for _, s := range n {
		total += s.SendBytesPerSec + s.RecvBytesPerSec
	}
	return total
}

// GPUState holds utilization and memory for one graphics adapter.
type GPUState struct {
	Index              int      `json:"index"`
	Name               string   `json:"name"`
	Vendor             string   `json:"vendor,omitempty"`
	UtilizationPercent float64  `json:"utilization_percent"`
	MemoryTotal        uint64   `json:"memory_total"`
	MemoryUsed         uint64   `json:"memory_used"`
	TemperatureC       *float64 `json:"temperature_c,omitempty"`
	ClockHz            uint64   `json:"clock_hz"`
	Source             string   `json:"source"`
}

// GPUStates is the GPU fragment, in device index order.
type GPUStates []GPUState

func (GPUStates) Domain() Domain { return DomainGPU }

func (g GPUStates) Validate() error {
	for _, s := range g {
		if err := checkPercent(fmt.Sprintf("gpu%d utilization_percent", s.Index), s.UtilizationPercent); err != nil {
			return err
		}
		if s.MemoryTotal > 0 && s.MemoryUsed > s.MemoryTotal {
			return fmt.Errorf("gpu%d memory used exceeds total", s.Index)
		}
		if err := checkTemperature(fmt.Sprintf("gpu%d temperature_c", s.Index), s.TemperatureC); err != nil {
			return err
		}
	}
	return nil
}

// BatteryState aggregates all batteries present on the host.
type BatteryState struct {
	Batteries    int      `json:"batteries"`
	Percent      float64  `json:"percent"`
	State        string   `json:"state"`
	PowerPlugged bool     `json:"power_plugged"`
	SecondsLeft  *uint64  `json:"seconds_left,omitempty"`
	VoltageV     float64  `json:"voltage_v"`
	ChargeRateW  float64  `json:"charge_rate_w"`
	HealthPct    *float64 `json:"health_percent,omitempty"`
}

func (BatteryState) Domain() Domain { return DomainBattery }

func (b BatteryState) Validate() error {
	if b.Batteries <= 0 {
		return fmt.Errorf("battery fragment without batteries")
	}
	if err := checkPercent("percent", b.Percent); err != nil {
		return err
	}
	if err := checkNonNegative("voltage_v", b.VoltageV); err != nil {
		return err
	}
	if err := checkNonNegative("charge_rate_w", b.ChargeRateW); err != nil {
		return err
	}
	if b.HealthPct != nil {
		return checkPercent("health_percent", *b.HealthPct)
	}
	return nil
}

// ProcessInfo represents a single process's resource usage.
type ProcessInfo struct {
	PID      int32   `json:"pid"`
	PPID     int32   `json:"ppid,omitempty"`
	Name     string  `json:"name"`
	Username string  `json:"username,omitempty"`
	Exe      string  `json:"exe,omitempty"`
	CPU      float64 `json:"cpu"`
	Memory   float64 `json:"memory"`
	Status   string  `json:"status"`
}

// ProcessList is the process fragment.
type ProcessList []ProcessInfo

func (ProcessList) Domain() Domain { return DomainProcesses }

func (p ProcessList) Validate() error {
	for _, proc := range p {
		if proc.PID < 0 {
			return fmt.Errorf("negative pid %d", proc.PID)
		}
		if err := checkNonNegative(fmt.Sprintf("pid %d cpu", proc.PID), proc.CPU); err != nil {
			return err
		}
		if err := checkPercent(fmt.Sprintf("pid %d memory", proc.PID), proc.Memory); err != nil {
			return err
		}
	}
	return nil
}

// Connection is one socket as seen by the auditor.
type Connection struct {
	PID        int32  `json:"pid"`
	Family     string `json:"family"`
	Protocol   string `json:"protocol"`
	LocalIP    string `json:"local_ip"`
	LocalPort  uint32 `json:"local_port"`
	RemoteIP   string `json:"remote_ip,omitempty"`
	RemotePort uint32 `json:"remote_port,omitempty"`
	Status     string `json:"status"`
}

// ClampPercent bounds p to [0,100]. NaN is passed through so Validate can reject it.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return p
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func checkPercent(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not a finite number", field)
	}
	if v < 0 || v > 100 {
		return fmt.Errorf("%s %.2f outside [0,100]", field, v)
	}
	return nil
}

func checkNonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s is not a finite number", field)
	}
	if v < 0 {
		return fmt.Errorf("%s is negative", field)
	}
	return nil
}

func checkTemperature(field string, v *float64) error {
	if v == nil {
		return nil
	}
	return checkNonNegative(field, *v)
}
