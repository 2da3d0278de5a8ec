package audit

import (
	"fmt"
	"math"
	"time"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// SpikeConfig tunes DetectNetworkSpikes.
type SpikeConfig struct {
	// Window is the number of recent samples the baseline is computed over.
	Window int
	// Factor multiplies the baseline average.
	Factor float64
	// MinBytesPerSec ignores spikes below this rate.
	MinBytesPerSec uint64
}

// DefaultSpikeConfig returns the stock detector settings.
func DefaultSpikeConfig() SpikeConfig {
	return SpikeConfig{Window: 60, Factor: 3, MinBytesPerSec: 50 * 1024}
}

type spikeSeries struct {
	direction string
	values    []float64
}

func (s *spikeSeries) push(v float64, window int) {
	s.values = append(s.values, v)
	if len(s.values) > window {
		s.values = s.values[len(s.values)-window:]
	}
}

// DetectNetworkSpikes scans a session's snapshots in order and reports
// samples whose total receive or send rate jumps above both factor times
// the rolling average and the average plus three standard deviations.
// Detection starts once max(10, window/4) samples are available. Snapshots
// without network data are skipped.
func DetectNetworkSpikes(snapshots []models.MetricSnapshot, cfg SpikeConfig) []models.AuditFinding {
	def := DefaultSpikeConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Factor <= 0 {
		cfg.Factor = def.Factor
	}
	minHistory := cfg.Window / 4
	if minHistory < 10 {
		minHistory = 10
	}

	down := &spikeSeries{direction: "download"}
	up := &spikeSeries{direction: "upload"}

	var out []models.AuditFinding
	for _, snap := range snapshots {
		ifaces, ok := snap.Network()
		if !ok {
			continue
		}
		var recv, sent uint64
		for _, iface := range ifaces {
			recv += iface.RecvBytesPerSec
			sent += iface.SendBytesPerSec
		}

		for _, sample := range []struct {
			series *spikeSeries
			rate   uint64
		}{{down, recv}, {up, sent}} {
			sample.series.push(float64(sample.rate), cfg.Window)
			if len(sample.series.values) < minHistory {
				continue
			}
			avg, std := meanStd(sample.series.values)
			threshold := math.Max(avg*cfg.Factor, avg+3*std)
			current := float64(sample.rate)
			if current <= threshold || sample.rate <= cfg.MinBytesPerSec {
				continue
			}
			out = append(out, models.AuditFinding{
				Severity: models.SeverityWarning,
				Category: models.CategoryNetwork,
				Description: fmt.Sprintf("Network %s spike at %s: %.1f KB/s (average %.1f KB/s, threshold %.1f KB/s)",
					sample.series.direction, snap.Timestamp.UTC().Format(time.RFC3339),
					current/1024, avg/1024, threshold/1024),
				Evidence: models.Evidence{Rule: "network-spike"},
			})
		}
	}
	return out
}

func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return avg, math.Sqrt(variance / float64(len(values)))
}
