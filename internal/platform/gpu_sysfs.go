package platform

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

const defaultDRMRoot = "/sys/class/drm"

// PCI vendor ids found in <card>/device/vendor.
var pciVendors = map[string]string{
	"0x1002": "AMD",
	"0x10de": "NVIDIA",
	"0x8086": "INTEL",
}

// sysfsReader reads adapters exposed by the kernel DRM subsystem.
type sysfsReader struct {
	root   string
	logger *zap.Logger
}

func newSysfsReader(root string, logger *zap.Logger) *sysfsReader {
	return &sysfsReader{root: root, logger: logger}
}

func (r *sysfsReader) name() string { return "sysfs" }
func (r *sysfsReader) close() error { return nil }

func (r *sysfsReader) available() bool {
	return len(r.cards()) > 0
}

// cards lists card0, card1, ... skipping connector entries like card0-DP-1.
func (r *sysfsReader) cards() []string {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil
	}

	var cards []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "card") && !strings.Contains(name, "-") {
			cards = append(cards, name)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		return cardIndex(cards[i]) < cardIndex(cards[j])
	})
	return cards
}

func (r *sysfsReader) read(ctx context.Context) (models.GPUStates, error) {
	var states models.GPUStates
	for _, card := range r.cards() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base := filepath.Join(r.root, card, "device")
		vendorID := readTrimmed(filepath.Join(base, "vendor"))
		vendor, ok := pciVendors[vendorID]
		if !ok {
			vendor = vendorID
		}

		state := models.GPUState{
			Index:  cardIndex(card),
			Vendor: vendor,
			Name:   r.model(base, vendor),
			Source: "sysfs",
		}
		if v, ok := readFloat(filepath.Join(base, "gpu_busy_percent")); ok {
			state.UtilizationPercent = models.ClampPercent(v)
		}
		if v, ok := readFloat(filepath.Join(base, "mem_info_vram_total")); ok {
			state.MemoryTotal = uint64(v)
		}
		if v, ok := readFloat(filepath.Join(base, "mem_info_vram_used")); ok {
			state.MemoryUsed = uint64(v)
		}
		state.TemperatureC = r.temperature(base)

		states = append(states, state)
	}
	return states, nil
}

func (r *sysfsReader) model(base, vendor string) string {
	if name := readTrimmed(filepath.Join(base, "product_name")); name != "" {
		return name
	}
	if id := readTrimmed(filepath.Join(base, "device")); id != "" {
		return strings.TrimSpace(vendor + " " + id)
	}
	return "unknown"
}

// temperature reads the first hwmon temp1_input (millidegrees).
func (r *sysfsReader) temperature(base string) *float64 {
	hwmonRoot := filepath.Join(base, "hwmon")
	hwmons, err := os.ReadDir(hwmonRoot)
	if err != nil {
		return nil
	}
	for _, hw := range hwmons {
		if v, ok := readFloat(filepath.Join(hwmonRoot, hw.Name(), "temp1_input")); ok {
			return gpuTemperature(v / 1000)
		}
	}
	return nil
}

func cardIndex(card string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(card, "card"))
	if err != nil {
		return -1
	}
	return n
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readFloat(path string) (float64, bool) {
	s := readTrimmed(path)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
