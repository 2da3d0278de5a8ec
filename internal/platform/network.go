package platform

import (
	"context"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// ReadNetworkInterfaces returns per-interface counters and send/receive rates
// measured over the rate window, in OS interface order.
func (h *Host) ReadNetworkInterfaces(ctx context.Context) (models.NetworkStates, error) {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, classify("network interfaces", err)
	}

	before, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, classify("network counters", err)
	}
	start := time.Now()
	if err := sleepWithContext(ctx, h.opts.RateWindow); err != nil {
		return nil, err
	}
	after, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, classify("network counters", err)
	}
	elapsed := time.Since(start)

	prev := countersByName(before)
	curr := countersByName(after)

	states := make(models.NetworkStates, 0, len(ifaces))
	for _, iface := range ifaces {
		state := models.NetworkInterfaceState{
			Name:         iface.Name,
			HardwareAddr: iface.HardwareAddr,
			Up:           hasFlag(iface.Flags, "up"),
		}
		for _, a := range iface.Addrs {
			state.Addresses = append(state.Addresses, a.Addr)
		}

		if c, ok := curr[iface.Name]; ok {
			state.BytesSent = c.BytesSent
			state.BytesRecv = c.BytesRecv
			state.PacketsSent = c.PacketsSent
			state.PacketsRecv = c.PacketsRecv
			state.Errors = c.Errin + c.Errout
			state.Drops = c.Dropin + c.Dropout
			if p, ok := prev[iface.Name]; ok {
				state.SendBytesPerSec = ratePerSecond(p.BytesSent, c.BytesSent, elapsed)
				state.RecvBytesPerSec = ratePerSecond(p.BytesRecv, c.BytesRecv, elapsed)
			}
		}

		states = append(states, state)
	}

	return states, nil
}

// ListNetworkConnections returns inet sockets with their owning PID.
func (h *Host) ListNetworkConnections(ctx context.Context) ([]models.Connection, error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, classify("network connections", err)
	}

	out := make([]models.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, models.Connection{
			PID:        c.Pid,
			Family:     familyName(c.Family),
			Protocol:   protocolName(c.Type),
			LocalIP:    c.Laddr.IP,
			LocalPort:  c.Laddr.Port,
			RemoteIP:   c.Raddr.IP,
			RemotePort: c.Raddr.Port,
			Status:     c.Status,
		})
	}
	return out, nil
}

func countersByName(stats []net.IOCountersStat) map[string]net.IOCountersStat {
	out := make(map[string]net.IOCountersStat, len(stats))
	for _, s := range stats {
		out[s.Name] = s
	}
	return out
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func familyName(family uint32) string {
	switch family {
	case syscall.AF_INET:
		return "inet"
	case syscall.AF_INET6:
		return "inet6"
	}
	return "other"
}

func protocolName(sockType uint32) string {
	switch sockType {
	case syscall.SOCK_STREAM:
		return "tcp"
	case syscall.SOCK_DGRAM:
		return "udp"
	}
	return "other"
}
