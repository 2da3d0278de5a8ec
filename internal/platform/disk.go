package platform

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// pseudoFSTypes contains filesystem types that are not local storage devices.
var pseudoFSTypes = map[string]bool{
	// Virtual / system filesystems
	"devfs":         true,
	"autofs":        true,
	"nullfs":        true,
	"tmpfs":         true,
	"sysfs":         true,
	"proc":          true,
	"procfs":        true,
	"devtmpfs":      true,
	"cgroup":        true,
	"cgroup2":       true,
	"overlay":       true,
	"squashfs":      true,
	"fuse.snapfuse": true,
	"nsfs":          true,
	"pstore":        true,
	"debugfs":       true,
	"tracefs":       true,
	"securityfs":    true,
	"configfs":      true,
	"fusectl":       true,
	"mqueue":        true,
	"hugetlbfs":     true,
	"binfmt_misc":   true,
	"efivarfs":      true,
	"bpf":           true,
	"ramfs":         true,

	// Network / remote filesystems
	"nfs":           true,
	"nfs4":          true,
	"cifs":          true,
	"smbfs":         true,
	"fuse.sshfs":    true,
	"fuse.rclone":   true,
	"9p":            true,
	"afs":           true,
	"glusterfs":     true,
	"lustre":        true,
	"ceph":          true,
	"fuse.ceph":     true,
	"fuse.s3fs":     true,
	"fuse.gcsfuse":  true,
	"fuse.blobfuse": true,
	"davfs2":        true,
}

var systemMountPrefixes = []string{
	"/System/Volumes/",
	"/private/var/vm",
	"/snap/",
}

// isSystemMount returns true for OS-internal mount points.
func isSystemMount(mount string) bool {
	for _, prefix := range systemMountPrefixes {
		if strings.HasPrefix(mount, prefix) {
			return true
		}
	}
	return false
}

// ReadDisks returns usage and throughput for local partitions in the order
// the OS enumerates them. Inaccessible partitions are skipped.
func (h *Host) ReadDisks(ctx context.Context) (models.DiskStates, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, classify("disk partitions", err)
	}

	before, _ := disk.IOCountersWithContext(ctx)
	start := time.Now()
	if err := sleepWithContext(ctx, h.opts.RateWindow); err != nil {
		return nil, err
	}
	after, _ := disk.IOCountersWithContext(ctx)
	elapsed := time.Since(start)

	temps := make(map[string]*float64)
	states := make(models.DiskStates, 0, len(partitions))
	seen := make(map[string]bool)

	for _, p := range partitions {
		if pseudoFSTypes[p.Fstype] || isSystemMount(p.Mountpoint) || seen[p.Mountpoint] {
			continue
		}

		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		seen[p.Mountpoint] = true

		state := models.DiskState{
			Device:      p.Device,
			Mount:       p.Mountpoint,
			FSType:      p.Fstype,
			Total:       usage.Total,
			Used:        usage.Used,
			Free:        usage.Free,
			UsedPercent: models.ClampPercent(usage.UsedPercent),
		}

		key := filepath.Base(p.Device)
		if b, ok := before[key]; ok {
			if a, ok := after[key]; ok {
				state.ReadBytesPerSec = ratePerSecond(b.ReadBytes, a.ReadBytes, elapsed)
				state.WriteBytesPerSec = ratePerSecond(b.WriteBytes, a.WriteBytes, elapsed)
			}
		}

		if h.smart != nil {
			parent := parentDevice(p.Device)
			t, cached := temps[parent]
			if !cached {
				t = h.smart.temperature(ctx, parent)
				temps[parent] = t
			}
			state.TemperatureC = t
		}

		states = append(states, state)
	}

	h.logger.Debug("Disks read", zap.Int("count", len(states)))
	return states, nil
}

// ratePerSecond converts a counter delta into a per-second rate. Counter
// resets yield zero.
func ratePerSecond(before, after uint64, elapsed time.Duration) uint64 {
	if after < before || elapsed <= 0 {
		return 0
	}
	return uint64(float64(after-before) / elapsed.Seconds())
}

// parentDevice strips the partition suffix: /dev/sda2 -> /dev/sda,
// /dev/nvme0n1p3 -> /dev/nvme0n1, /dev/mmcblk0p1 -> /dev/mmcblk0.
func parentDevice(dev string) string {
	base := filepath.Base(dev)
	if strings.HasPrefix(base, "nvme") || strings.HasPrefix(base, "mmcblk") {
		if i := strings.LastIndex(base, "p"); i > 0 && i < len(base)-1 && isDigits(base[i+1:]) {
			return strings.TrimSuffix(dev, base[i:])
		}
		return dev
	}
	trimmed := strings.TrimRight(dev, "0123456789")
	if trimmed == "" || strings.HasSuffix(trimmed, "/") {
		return dev
	}
	return trimmed
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
