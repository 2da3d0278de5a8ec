package platform

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// smartReader reads drive temperatures with smartctl when it is installed.
type smartReader struct {
	path   string
	logger *zap.Logger
}

func newSMARTReader(logger *zap.Logger) *smartReader {
	path, err := exec.LookPath("smartctl")
	if err != nil {
		logger.Debug("smartctl not found, disk temperatures unavailable")
		return nil
	}
	return &smartReader{path: path, logger: logger}
}

// temperature returns the drive temperature or nil when smartctl cannot
// read it (missing privileges, virtual device, unsupported drive).
func (r *smartReader) temperature(ctx context.Context, device string) *float64 {
	out, err := exec.CommandContext(ctx, r.path, "-A", device).Output()
	if err != nil && len(out) == 0 {
		r.logger.Debug("smartctl failed", zap.String("device", device), zap.Error(err))
		return nil
	}
	if t, ok := parseSMARTTemperature(string(out)); ok {
		return &t
	}
	return nil
}

// parseSMARTTemperature extracts a temperature from `smartctl -A` output.
// ATA drives report attribute 194/190 with the raw value in column 10;
// NVMe drives print "Temperature: 35 Celsius".
func parseSMARTTemperature(out string) (float64, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)

		if strings.Contains(line, "Temperature_Celsius") || strings.Contains(line, "Airflow_Temperature_Cel") {
			if len(fields) >= 10 {
				if v, err := strconv.ParseFloat(fields[9], 64); err == nil && isValidTemperature(v) {
					return v, true
				}
			}
			continue
		}

		if strings.HasPrefix(line, "Temperature:") && len(fields) >= 2 {
			if v, err := strconv.ParseFloat(fields[1], 64); err == nil && isValidTemperature(v) {
				return v, true
			}
		}
	}
	return 0, false
}
