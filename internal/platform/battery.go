package platform

import (
	"context"

	"github.com/distatus/battery"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

// getBatteries is swapped in tests.
var getBatteries = battery.GetAll

// probeBattery decides battery availability once, at first use.
func probeBattery() (bool, string) {
	bats, err := getBatteries()
	if len(usableBatteries(bats)) == 0 {
		if err != nil {
			return false, "battery information unavailable: " + err.Error()
		}
		return false, "no battery present"
	}
	return true, ""
}

// ReadBattery aggregates all batteries into one state.
func (h *Host) ReadBattery(ctx context.Context) (models.BatteryState, error) {
	if err := ctx.Err(); err != nil {
		return models.BatteryState{}, err
	}

	bats, err := getBatteries()
	usable := usableBatteries(bats)
	if len(usable) == 0 {
		if err != nil {
			var fatal battery.ErrFatal
			if errors.As(err, &fatal) {
				return models.BatteryState{}, classify("battery", err)
			}
			return models.BatteryState{}, errFactory.Wrap(errors.ErrTransient, err)
		}
		return models.BatteryState{}, unavailable("no battery present")
	}

	return summarizeBatteries(usable), nil
}

func usableBatteries(bats []*battery.Battery) []*battery.Battery {
	out := make([]*battery.Battery, 0, len(bats))
	for _, b := range bats {
		if b != nil && b.Full > 0 {
			out = append(out, b)
		}
	}
	return out
}

// summarizeBatteries combines energy figures (mWh, mW) across batteries.
// Time remaining is only known while discharging at a measurable rate.
func summarizeBatteries(bats []*battery.Battery) models.BatteryState {
	var current, full, design, rate, voltage float64
	charging, discharging, allFull := false, false, true

	for _, b := range bats {
		current += b.Current
		full += b.Full
		design += b.Design
		if b.ChargeRate > 0 {
			rate += b.ChargeRate
		}
		voltage += b.Voltage

		switch b.State.Raw {
		case battery.Charging:
			charging = true
			allFull = false
		case battery.Discharging:
			discharging = true
			allFull = false
		case battery.Full:
		default:
			allFull = false
		}
	}

	state := models.BatteryState{
		Batteries:   len(bats),
		Percent:     models.ClampPercent(current / full * 100),
		VoltageV:    voltage / float64(len(bats)),
		ChargeRateW: rate / 1000,
	}

	switch {
	case discharging:
		state.State = "discharging"
	case charging:
		state.State = "charging"
		state.PowerPlugged = true
	case allFull:
		state.State = "full"
		state.PowerPlugged = true
	default:
		state.State = "unknown"
	}

	if discharging && rate > 0 {
		secs := uint64(current / rate * 3600)
		state.SecondsLeft = &secs
	}
	if design > 0 {
		health := models.ClampPercent(full / design * 100)
		state.HealthPct = &health
	}
	if state.VoltageV < 0 {
		state.VoltageV = 0
	}

	return state
}
