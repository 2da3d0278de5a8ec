// Package scheduler implements drift-corrected repeating capture. Tick k is
// due at start + k*interval, so a slow capture delays only its own tick and
// never shifts the ones after it. The scheduler does not keep snapshots; it
// hands each one to a callback.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/models"
)

// Capturer takes one snapshot of the given domains.
type Capturer interface {
	Capture(ctx context.Context, domains []models.Domain) models.MetricSnapshot
}

// Scheduler manages periodic snapshot capture.
type Scheduler struct {
	capturer Capturer
	interval time.Duration
	domains  []models.Domain
	logger   *zap.Logger

	onSnapshot func(tick int, snap models.MetricSnapshot)
	now        func() time.Time
}

// New creates a Scheduler capturing domains every interval.
func New(capturer Capturer, interval time.Duration, domains []models.Domain, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		capturer: capturer,
		interval: interval,
		domains:  domains,
		logger:   logger,
		now:      time.Now,
	}
}

// OnSnapshot sets the callback invoked after every capture. It runs on the
// scheduler goroutine, so a slow callback counts as a slow capture.
func (s *Scheduler) OnSnapshot(fn func(tick int, snap models.MetricSnapshot)) {
	s.onSnapshot = fn
}

// Run captures immediately and then on every due tick until ctx is done or
// maxTicks captures were taken (maxTicks <= 0 means unlimited). It returns
// the number of captures performed.
func (s *Scheduler) Run(ctx context.Context, maxTicks int) int {
	if s.interval <= 0 {
		s.logger.Warn("Non-positive capture interval, capturing once")
		maxTicks = 1
	}

	start := s.now()
	taken := 0
	tick := 0

	for {
		if ctx.Err() != nil {
			return taken
		}

		snap := s.capturer.Capture(ctx, s.domains)
		taken++
		if s.onSnapshot != nil {
			s.onSnapshot(tick, snap)
		}
		s.logger.Debug("Captured snapshot", zap.Int("tick", tick), zap.Time("timestamp", snap.Timestamp))

		if maxTicks > 0 && taken >= maxTicks {
			return taken
		}

		next, due := NextTick(start, s.now(), s.interval, tick)
		if skipped := next - tick - 1; skipped > 0 {
			s.logger.Warn("Capture overran interval, skipping ticks",
				zap.Int("skipped", skipped),
				zap.Duration("interval", s.interval))
		}
		tick = next

		timer := time.NewTimer(due.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return taken
		case <-timer.C:
		}
	}
}

// NextTick returns the first tick index after last whose due time
// (start + index*interval) is not yet in the past, together with that time.
func NextTick(start, now time.Time, interval time.Duration, last int) (int, time.Time) {
	next := last + 1
	if elapsed := now.Sub(start); elapsed > 0 {
		if behind := int(elapsed / interval); behind >= next {
			next = behind + 1
		}
	}
	return next, start.Add(time.Duration(next) * interval)
}
