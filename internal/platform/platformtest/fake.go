// Package platformtest provides an in-memory platform.Capability for tests.
package platformtest

import (
	"context"
	"sync"
	"time"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Fake is a scriptable capability. Zero-valued maps mean "supported, no
// error, no delay". Fields may be changed between calls under Lock/Unlock.
type Fake struct {
	sync.Mutex

	CPU         models.CPUState
	Memory      models.MemoryState
	Disks       models.DiskStates
	Network     models.NetworkStates
	GPU         models.GPUStates
	Battery     models.BatteryState
	Processes   models.ProcessList
	Connections []models.Connection
	System      models.SystemInfo

	// Unsupported maps a domain to the reason it is not available.
	Unsupported map[models.Domain]string
	// Errors maps a domain to the error its read returns.
	Errors map[models.Domain]error
	// Delay maps a domain to how long its read blocks (honoring ctx).
	Delay map[models.Domain]time.Duration
	// ReadCPUFunc, when set, replaces the static CPU value.
	ReadCPUFunc func(ctx context.Context) (models.CPUState, error)

	calls map[models.Domain]int
}

// New returns a fake host with plausible values for every domain.
func New() *Fake {
	temp := 48.0
	return &Fake{
		CPU: models.CPUState{
			Model:         "Test CPU @ 3.00GHz",
			UsagePercent:  12.5,
			PerCore:       []float64{10, 15},
			FrequencyHz:   3_000_000_000,
			LogicalCores:  2,
			PhysicalCores: 1,
			TemperatureC:  &temp,
		},
		Memory: models.MemoryState{
			Total:       8 << 30,
			Used:        2 << 30,
			Available:   6 << 30,
			UsedPercent: 25,
		},
		Disks: models.DiskStates{
			{Device: "/dev/sda1", Mount: "/", FSType: "ext4", Total: 100 << 30, Used: 40 << 30, Free: 60 << 30, UsedPercent: 40},
			{Device: "/dev/sdb1", Mount: "/data", FSType: "xfs", Total: 500 << 30, Used: 50 << 30, Free: 450 << 30, UsedPercent: 10},
		},
		Network: models.NetworkStates{
			{Name: "lo", Up: true, Addresses: []string{"127.0.0.1/8"}},
			{Name: "eth0", Up: true, HardwareAddr: "00:11:22:33:44:55", Addresses: []string{"192.168.1.10/24"},
				BytesSent: 1 << 20, BytesRecv: 4 << 20, SendBytesPerSec: 1024, RecvBytesPerSec: 4096},
		},
		Battery: models.BatteryState{Batteries: 1, Percent: 80, State: "discharging", VoltageV: 12.1},
		Processes: models.ProcessList{
			{PID: 1, Name: "init", CPU: 0.1, Memory: 0.2, Status: "sleeping"},
			{PID: 200, Name: "sshd", CPU: 0.5, Memory: 0.4, Status: "sleeping"},
			{PID: 300, Name: "postgres", CPU: 7.5, Memory: 3.1, Status: "running"},
		},
		System: models.SystemInfo{
			Hostname:        "testhost",
			OS:              "linux",
			Platform:        "Ubuntu 22.04.3 LTS",
			PlatformVersion: "22.04",
			KernelVersion:   "6.5.0",
			Arch:            "x86_64",
			BootTime:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Uptime:          36 * time.Hour,
		},
		Unsupported: map[models.Domain]string{
			models.DomainGPU: "no GPU backend found",
		},
	}
}

// Calls returns how many reads a domain received.
func (f *Fake) Calls(d models.Domain) int {
	f.Lock()
	defer f.Unlock()
	return f.calls[d]
}

// enter records the call and applies the configured delay and error.
func (f *Fake) enter(ctx context.Context, d models.Domain) error {
	f.Lock()
	if f.calls == nil {
		f.calls = make(map[models.Domain]int)
	}
	f.calls[d]++
	delay := f.Delay[d]
	err := f.Errors[d]
	f.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (f *Fake) Name() string { return "fake" }
func (f *Fake) Close() error { return nil }

func (f *Fake) Supports(d models.Domain) (bool, string) {
	f.Lock()
	defer f.Unlock()
	if reason, ok := f.Unsupported[d]; ok {
		return false, reason
	}
	return true, ""
}

func (f *Fake) ReadCPU(ctx context.Context) (models.CPUState, error) {
	if err := f.enter(ctx, models.DomainCPU); err != nil {
		return models.CPUState{}, err
	}
	f.Lock()
	fn := f.ReadCPUFunc
	v := f.CPU
	f.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return v, nil
}

func (f *Fake) ReadMemory(ctx context.Context) (models.MemoryState, error) {
	if err := f.enter(ctx, models.DomainMemory); err != nil {
		return models.MemoryState{}, err
	}
	f.Lock()
	defer f.Unlock()
	return f.Memory, nil
}

func (f *Fake) ReadDisks(ctx context.Context) (models.DiskStates, error) {
	if err := f.enter(ctx, models.DomainDisk); err != nil {
		return nil, err
	}
	f.Lock()
	defer f.Unlock()
	return append(models.DiskStates(nil), f.Disks...), nil
}

func (f *Fake) ReadNetworkInterfaces(ctx context.Context) (models.NetworkStates, error) {
	if err := f.enter(ctx, models.DomainNetwork); err != nil {
		return nil, err
	}
	f.Lock()
	defer f.Unlock()
	return append(models.NetworkStates(nil), f.Network...), nil
}

func (f *Fake) ReadBattery(ctx context.Context) (models.BatteryState, error) {
	if err := f.enter(ctx, models.DomainBattery); err != nil {
		return models.BatteryState{}, err
	}
	f.Lock()
	defer f.Unlock()
	return f.Battery, nil
}

func (f *Fake) ReadGPU(ctx context.Context) (models.GPUStates, error) {
	if err := f.enter(ctx, models.DomainGPU); err != nil {
		return nil, err
	}
	f.Lock()
	defer f.Unlock()
	return append(models.GPUStates(nil), f.GPU...), nil
}

func (f *Fake) ListProcesses(ctx context.Context) (models.ProcessList, error) {
	if err := f.enter(ctx, models.DomainProcesses); err != nil {
		return nil, err
	}
	f.Lock()
	defer f.Unlock()
	return append(models.ProcessList(nil), f.Processes...), nil
}

func (f *Fake) ListNetworkConnections(ctx context.Context) ([]models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Lock()
	defer f.Unlock()
	return append([]models.Connection(nil), f.Connections...), nil
}

func (f *Fake) ReadSystemInfo(ctx context.Context) (models.SystemInfo, error) {
	if err := ctx.Err(); err != nil {
		return models.SystemInfo{}, err
	}
	f.Lock()
	defer f.Unlock()
	return f.System, nil
}
