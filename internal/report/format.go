package report

import (
	"fmt"
	"time"
)

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// humanBytes formats n with binary prefixes and two decimals, e.g. 1.50 GB.
func humanBytes(n uint64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[unit])
}

func humanRate(n uint64) string {
	return humanBytes(n) + "/s"
}

func percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}

func celsius(t *float64) string {
	if t == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f C", *t)
}

func megahertz(hz uint64) string {
	if hz == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f MHz", float64(hz)/1e6)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}

// duration renders d rounded to the millisecond so the text does not depend
// on clock resolution.
func duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Millisecond).String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func marker(value, threshold float64) string {
	if threshold > 0 && value >= threshold {
		return fmt.Sprintf("[HIGH >= %.0f%%]", threshold)
	}
	return ""
}
