package platform

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

const smiQuery = "index,name,utilization.gpu,memory.total,memory.used,temperature.gpu,clocks.gr"

// smiReader shells out to nvidia-smi, the fallback where NVML bindings are not built.
type smiReader struct {
	path   string
	logger *zap.Logger
}

func newSMIReader(logger *zap.Logger) *smiReader {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		path = ""
	}
	return &smiReader{path: path, logger: logger}
}

func (r *smiReader) name() string    { return "nvidia-smi" }
func (r *smiReader) available() bool { return r.path != "" }
func (r *smiReader) close() error    { return nil }

func (r *smiReader) read(ctx context.Context) (models.GPUStates, error) {
	out, err := exec.CommandContext(ctx, r.path,
		"--query-gpu="+smiQuery, "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseSMIOutput(string(out))
}

// parseSMIOutput parses nvidia-smi CSV rows in smiQuery column order.
// Memory is reported in MiB and clocks in MHz; "[N/A]" fields are left zero.
func parseSMIOutput(out string) (models.GPUStates, error) {
	var states models.GPUStates
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) != 7 {
			return nil, fmt.Errorf("unexpected nvidia-smi row %q", line)
		}
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}

		index, err := strconv.Atoi(cols[0])
		if err != nil {
			return nil, fmt.Errorf("bad gpu index %q", cols[0])
		}

		state := models.GPUState{
			Index:  index,
			Name:   cols[1],
			Vendor: "NVIDIA",
			Source: "nvidia-smi",
		}
		if v, ok := parseSMIFloat(cols[2]); ok {
			state.UtilizationPercent = models.ClampPercent(v)
		}
		if v, ok := parseSMIFloat(cols[3]); ok {
			state.MemoryTotal = uint64(v) * 1024 * 1024
		}
		if v, ok := parseSMIFloat(cols[4]); ok {
			state.MemoryUsed = uint64(v) * 1024 * 1024
		}
		if v, ok := parseSMIFloat(cols[5]); ok {
			state.TemperatureC = gpuTemperature(v)
		}
		if v, ok := parseSMIFloat(cols[6]); ok {
			state.ClockHz = uint64(v) * 1_000_000
		}
		states = append(states, state)
	}
	return states, scanner.Err()
}

func parseSMIFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
