package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/probe/internal/errors"
	"github.com/Guliveer/vitalis/probe/internal/models"
)

// DefaultTimeout bounds a single domain's collection.
const DefaultTimeout = 2 * time.Second

var errFactory = errors.New()

// Registry manages the registered collectors and captures snapshots by
// running them concurrently, one task per requested domain.
type Registry struct {
	collectors map[models.Domain]Collector
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewRegistry creates a new collector registry. A non-positive timeout falls
// back to DefaultTimeout.
func NewRegistry(logger *zap.Logger, timeout time.Duration) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		collectors: make(map[models.Domain]Collector),
		timeout:    timeout,
		logger:     logger,
		now:        time.Now,
	}
}

// Register adds a collector, replacing any previous one for the same domain.
// Unavailable collectors are kept so captures can report why.
func (r *Registry) Register(c Collector) {
	r.collectors[c.Domain()] = c
	if ok, reason := c.IsAvailable(); ok {
		r.logger.Info("Registered collector", zap.String("domain", string(c.Domain())))
	} else {
		r.logger.Info("Collector not available on this host",
			zap.String("domain", string(c.Domain())),
			zap.String("reason", reason))
	}
}

// Domains returns the registered domains in canonical order.
func (r *Registry) Domains() []models.Domain {
	out := make([]models.Domain, 0, len(r.collectors))
	for d := range r.collectors {
		out = append(out, d)
	}
	return models.NormalizeDomains(out)
}

// Collectors returns a copy of all registered collectors in canonical order.
func (r *Registry) Collectors() []Collector {
	domains := r.Domains()
	result := make([]Collector, 0, len(domains))
	for _, d := range domains {
		result = append(result, r.collectors[d])
	}
	return result
}

// Capture runs the collectors for the requested domains concurrently and
// returns a snapshot with exactly one result per distinct domain. An empty
// request captures every registered domain. Failures never abort the
// capture; they are recorded as Unavailable or Error results.
func (r *Registry) Capture(ctx context.Context, domains []models.Domain) models.MetricSnapshot {
	if len(domains) == 0 {
		domains = r.Domains()
	}
	domains = models.NormalizeDomains(domains)

	snapshot := models.MetricSnapshot{
		Timestamp: r.now().UTC(),
		Results:   make([]models.CollectorResult, len(domains)),
	}

	var wg sync.WaitGroup
	for i, d := range domains {
		wg.Add(1)
		go func(i int, d models.Domain) {
			defer wg.Done()
			snapshot.Results[i] = r.collectOne(ctx, d)
		}(i, d)
	}
	wg.Wait()

	return snapshot
}

// collectOne resolves a single domain, always returning a result.
func (r *Registry) collectOne(ctx context.Context, d models.Domain) models.CollectorResult {
	c, ok := r.collectors[d]
	if !ok {
		return models.Unavailable(d, "no collector registered")
	}
	if ok, reason := c.IsAvailable(); !ok {
		r.logger.Debug("Domain unavailable", zap.String("domain", string(d)), zap.String("reason", reason))
		return models.Unavailable(d, reason)
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	frag, err := runBounded(taskCtx, c)
	if err != nil && errors.HasCode(err, errors.ErrTransient) && taskCtx.Err() == nil {
		r.logger.Debug("Retrying transient failure", zap.String("domain", string(d)), zap.Error(err))
		frag, err = runBounded(taskCtx, c)
	}

	if err != nil {
		return r.failure(ctx, d, err)
	}

	if frag == nil {
		return models.Failed(d, string(errors.ErrInvariant), "collector returned no data")
	}
	if frag.Domain() != d {
		return models.Failed(d, string(errors.ErrInvariant),
			fmt.Sprintf("collector returned %s data", frag.Domain()))
	}
	if err := frag.Validate(); err != nil {
		r.logger.Warn("Rejected garbled fragment", zap.String("domain", string(d)), zap.Error(err))
		return models.Failed(d, string(errors.ErrInvariant), err.Error())
	}

	return models.Ok(frag)
}

func (r *Registry) failure(parent context.Context, d models.Domain, err error) models.CollectorResult {
	switch {
	case errors.HasCode(err, errors.ErrUnavailable):
		r.logger.Debug("Domain unavailable", zap.String("domain", string(d)), zap.Error(err))
		return models.Unavailable(d, err.Error())

	case parent.Err() != nil:
		return models.Failed(d, string(errors.ErrCollectFailed), "capture cancelled")

	case errors.HasCode(err, errors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("Collector timed out",
			zap.String("domain", string(d)),
			zap.Duration("timeout", r.timeout))
		return models.Failed(d, string(errors.ErrTimeout),
			fmt.Sprintf("collector exceeded %s timeout", r.timeout))
	}

	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCollectFailed
	}
	r.logger.Warn("Collection failed", zap.String("domain", string(d)), zap.Error(err))
	return models.Failed(d, string(code), err.Error())
}

type outcome struct {
	frag models.Fragment
	err  error
}

// runBounded calls Collect but stops waiting once ctx is done, so a
// collector that ignores its context cannot hold up the capture. A panic in
// the collector is converted into an invariant error.
func runBounded(ctx context.Context, c Collector) (models.Fragment, error) {
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: errFactory.WithData(errors.ErrInvariant, fmt.Sprintf("collector panic: %v", p))}
			}
		}()
		frag, err := c.Collect(ctx)
		ch <- outcome{frag: frag, err: err}
	}()

	select {
	case o := <-ch:
		return o.frag, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errFactory.Wrap(errors.ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}
