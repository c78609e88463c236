// Package source puts retries and a metadata cache in front of the
// estimator's backing store.
package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/maypok86/otter/v2"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/schedule"
	"github.com/smukkama/store-monitor/internal/uptime"
)

var _ uptime.Source = (*Resilient)(nil)

// Options configures a Resilient source
type Options struct {
	Attempts  int
	Delay     time.Duration
	MaxDelay  time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

type timezoneEntry struct {
	name  string
	found bool
}

// Resilient retries transient read failures and caches per-store timezone
// and business hours. Observation reads are never cached.
type Resilient struct {
	next    uptime.Source
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Registry

	timezones *otter.Cache[uuid.UUID, timezoneEntry]
	hours     *otter.Cache[uuid.UUID, []schedule.Rule]
}

// NewResilient wraps next. A zero CacheTTL disables caching.
func NewResilient(next uptime.Source, opts Options, logger *slog.Logger, m *metrics.Registry) *Resilient {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 5 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10_000
	}

	r := &Resilient{next: next, opts: opts, logger: logger, metrics: m}
	if opts.CacheTTL > 0 {
		r.timezones = otter.Must(&otter.Options[uuid.UUID, timezoneEntry]{
			MaximumSize:      opts.CacheSize,
			ExpiryCalculator: otter.ExpiryWriting[uuid.UUID, timezoneEntry](opts.CacheTTL),
		})
		r.hours = otter.Must(&otter.Options[uuid.UUID, []schedule.Rule]{
			MaximumSize:      opts.CacheSize,
			ExpiryCalculator: otter.ExpiryWriting[uuid.UUID, []schedule.Rule](opts.CacheTTL),
		})
	}
	return r
}

// Invalidate drops cached metadata for a store, e.g. after an import
func (r *Resilient) Invalidate(storeID uuid.UUID) {
	if r.timezones == nil {
		return
	}
	r.timezones.Invalidate(storeID)
	r.hours.Invalidate(storeID)
}

func (r *Resilient) StoreTimezone(ctx context.Context, storeID uuid.UUID) (string, bool, error) {
	if r.timezones != nil {
		if e, ok := r.timezones.GetIfPresent(storeID); ok {
			r.metrics.CacheLookup("timezone", true)
			return e.name, e.found, nil
		}
		r.metrics.CacheLookup("timezone", false)
	}

	var e timezoneEntry
	err := r.do(ctx, "store_timezone", func() error {
		var err error
		e.name, e.found, err = r.next.StoreTimezone(ctx, storeID)
		return err
	})
	if err != nil {
		return "", false, err
	}

	if r.timezones != nil {
		r.timezones.Set(storeID, e)
	}
	return e.name, e.found, nil
}

func (r *Resilient) BusinessHours(ctx context.Context, storeID uuid.UUID) ([]schedule.Rule, error) {
	if r.hours != nil {
		if rules, ok := r.hours.GetIfPresent(storeID); ok {
			r.metrics.CacheLookup("business_hours", true)
			return rules, nil
		}
		r.metrics.CacheLookup("business_hours", false)
	}

	var rules []schedule.Rule
	err := r.do(ctx, "business_hours", func() error {
		var err error
		rules, err = r.next.BusinessHours(ctx, storeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if r.hours != nil {
		r.hours.Set(storeID, rules)
	}
	return rules, nil
}

func (r *Resilient) Observations(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]uptime.Observation, error) {
	var obs []uptime.Observation
	err := r.do(ctx, "observations", func() error {
		var err error
		obs, err = r.next.Observations(ctx, storeID, from, to)
		return err
	})
	return obs, err
}

func (r *Resilient) BucketCounts(ctx context.Context, storeID uuid.UUID, from, to time.Time, width time.Duration) ([]uptime.BucketCount, error) {
	var counts []uptime.BucketCount
	err := r.do(ctx, "bucket_counts", func() error {
		var err error
		counts, err = r.next.BucketCounts(ctx, storeID, from, to, width)
		return err
	})
	return counts, err
}

func (r *Resilient) HistoricalStatuses(ctx context.Context, q uptime.HistoryQuery) ([]uptime.Status, error) {
	var statuses []uptime.Status
	err := r.do(ctx, "historical_statuses", func() error {
		var err error
		statuses, err = r.next.HistoricalStatuses(ctx, q)
		return err
	})
	return statuses, err
}

func (r *Resilient) do(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(r.opts.Attempts)),
		retry.Delay(r.opts.Delay),
		retry.MaxDelay(r.opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(Transient),
		retry.OnRetry(func(n uint, err error) {
			r.metrics.SourceRetry(op)
			r.logger.Debug("retrying backing store read", "op", op, "attempt", n+1, "error", err)
		}),
	)
}

// Transient reports whether a read failure is worth retrying. Cancellation,
// bad stored rows and Postgres data, integrity and syntax errors are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, schedule.ErrMalformedSchedule) || errors.Is(err, uptime.ErrUnknownStatus) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	return true
}
