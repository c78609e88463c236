// Package uptime estimates store uptime and downtime within business hours
// from sparse status polls.
package uptime

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata" // store zones must resolve even on hosts without zoneinfo

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/schedule"
)

// DefaultTimezone applies to stores without a timezone row
const DefaultTimezone = "America/Chicago"

// Window names a trailing estimation window
type Window string

const (
	LastHour Window = "last_hour"
	LastDay  Window = "last_day"
	LastWeek Window = "last_week"
	Custom   Window = "custom"
)

// Strategy records how a result was produced
type Strategy string

const (
	StrategyObserved   Strategy = "observed"
	StrategyHistorical Strategy = "historical"
	StrategyBucketed   Strategy = "bucketed"
)

// Span is a time range kept on results for traceability
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result is the estimate for one window
type Result struct {
	Window          Window   `json:"window"`
	Strategy        Strategy `json:"strategy"`
	UptimeMinutes   float64  `json:"uptime_minutes"`
	DowntimeMinutes float64  `json:"downtime_minutes"`
	PossibleMinutes float64  `json:"total_possible_minutes"`
	UptimePercent   float64  `json:"uptime_percent"`
	// Probability is set only when the historical fallback was used
	Probability *float64 `json:"historical_probability,omitempty"`
	Timezone    string   `json:"timezone"`
	SpanUTC     Span     `json:"query_period_utc"`
	SpanLocal   Span     `json:"query_period_local"`
}

func (r Result) UptimeHours() float64   { return r.UptimeMinutes / 60 }
func (r Result) DowntimeHours() float64 { return r.DowntimeMinutes / 60 }
func (r Result) PossibleHours() float64 { return r.PossibleMinutes / 60 }

// Report holds the three trailing windows for one store
type Report struct {
	StoreID       uuid.UUID `json:"store_id"`
	ReferenceTime time.Time `json:"reference_time"`
	LastHour      Result    `json:"last_hour"`
	LastDay       Result    `json:"last_day"`
	LastWeek      Result    `json:"last_week"`
}

// Options tunes the estimator
type Options struct {
	DefaultTimezone   string
	BucketWidth       time.Duration
	HistoryLimit      int
	HistoryHalfWindow time.Duration
	EmptyBucketPolicy EmptyBucketPolicy
}

// DefaultOptions returns the standard estimation settings
func DefaultOptions() Options {
	return Options{
		DefaultTimezone:   DefaultTimezone,
		BucketWidth:       DefaultBucketWidth,
		HistoryLimit:      DefaultHistoryLimit,
		HistoryHalfWindow: time.Hour,
		EmptyBucketPolicy: PolicyNeutral,
	}
}

// Estimator answers uptime questions for a single store per call. It keeps no
// per-call state and is safe for concurrent use.
type Estimator struct {
	src        Source
	opts       Options
	historical *HistoricalEstimator
}

// NewEstimator creates an estimator; zero option fields take their defaults
func NewEstimator(src Source, opts Options) *Estimator {
	def := DefaultOptions()
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = def.DefaultTimezone
	}
	if opts.BucketWidth <= 0 {
		opts.BucketWidth = def.BucketWidth
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.HistoryHalfWindow <= 0 {
		opts.HistoryHalfWindow = def.HistoryHalfWindow
	}
	if opts.EmptyBucketPolicy == "" {
		opts.EmptyBucketPolicy = def.EmptyBucketPolicy
	}
	return &Estimator{
		src:        src,
		opts:       opts,
		historical: NewHistoricalEstimator(src, opts.HistoryLimit),
	}
}

// store is the per-call view of a store's schedule
type store struct {
	id       uuid.UUID
	timezone string
	loc      *time.Location
	table    schedule.Table
}

func (e *Estimator) loadStore(ctx context.Context, id uuid.UUID) (store, error) {
	name, found, err := e.src.StoreTimezone(ctx, id)
	if err != nil {
		return store{}, unavailable("store timezone", err)
	}
	if !found || name == "" {
		name = e.opts.DefaultTimezone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return store{}, fmt.Errorf("%w: store %s: %q: %v", ErrUnresolvableTimezone, id, name, err)
	}

	rules, err := e.src.BusinessHours(ctx, id)
	if err != nil {
		return store{}, unavailable("business hours", err)
	}
	table, err := schedule.New(rules)
	if err != nil {
		return store{}, fmt.Errorf("store %s: %w", id, err)
	}

	return store{id: id, timezone: name, loc: loc, table: table}, nil
}

// ComputeUptimeReport estimates the last hour, day and week before ref
func (e *Estimator) ComputeUptimeReport(ctx context.Context, storeID uuid.UUID, ref time.Time) (Report, error) {
	st, err := e.loadStore(ctx, storeID)
	if err != nil {
		return Report{}, err
	}

	refLocal := ref.In(st.loc)
	report := Report{StoreID: storeID, ReferenceTime: ref.UTC()}

	report.LastHour, err = e.estimatePoint(ctx, st, refLocal.Add(-time.Hour), refLocal)
	if err != nil {
		return Report{}, fmt.Errorf("last hour: %w", err)
	}
	report.LastHour.Window = LastHour

	report.LastDay, err = e.estimateBucketed(ctx, st, refLocal.AddDate(0, 0, -1), refLocal)
	if err != nil {
		return Report{}, fmt.Errorf("last day: %w", err)
	}
	report.LastDay.Window = LastDay

	report.LastWeek, err = e.estimateBucketed(ctx, st, refLocal.AddDate(0, 0, -7), refLocal)
	if err != nil {
		return Report{}, fmt.Errorf("last week: %w", err)
	}
	report.LastWeek.Window = LastWeek

	return report, nil
}

// EstimateSpan runs the point strategy with historical fallback over an
// arbitrary short span
func (e *Estimator) EstimateSpan(ctx context.Context, storeID uuid.UUID, start, end time.Time) (Result, error) {
	st, err := e.loadStore(ctx, storeID)
	if err != nil {
		return Result{}, err
	}
	return e.estimatePoint(ctx, st, start.In(st.loc), end.In(st.loc))
}

// EstimateBucketed runs the bucketed strategy over an arbitrary span
func (e *Estimator) EstimateBucketed(ctx context.Context, storeID uuid.UUID, start, end time.Time) (Result, error) {
	st, err := e.loadStore(ctx, storeID)
	if err != nil {
		return Result{}, err
	}
	return e.estimateBucketed(ctx, st, start.In(st.loc), end.In(st.loc))
}

func (e *Estimator) newResult(st store, start, end time.Time) Result {
	return Result{
		Window:    Custom,
		Timezone:  st.timezone,
		SpanUTC:   Span{Start: start.UTC(), End: end.UTC()},
		SpanLocal: Span{Start: start, End: end},
	}
}

// estimatePoint classifies the polls inside the span and falls back to the
// historical estimate when none of them lands inside business hours
func (e *Estimator) estimatePoint(ctx context.Context, st store, start, end time.Time) (Result, error) {
	res := e.newResult(st, start, end)
	res.PossibleMinutes = PossibleMinutes(start, end, st.loc, st.table)

	obs, err := e.src.Observations(ctx, st.id, start.UTC(), end.UTC())
	if err != nil {
		return Result{}, unavailable("observations", err)
	}

	if frac, ok := TallyPoints(obs, st.loc, st.table).Fraction(); ok {
		res.Strategy = StrategyObserved
		res.UptimeMinutes = frac * res.PossibleMinutes
		res.DowntimeMinutes = res.PossibleMinutes - res.UptimeMinutes
		res.UptimePercent = percent(res.UptimeMinutes, res.PossibleMinutes)
		return res, nil
	}

	window := WindowAround(schedule.ClockOf(start), e.opts.HistoryHalfWindow)
	prob, err := e.historical.EstimateProbability(ctx, st.id, start, window)
	if err != nil {
		return Result{}, err
	}

	res.Strategy = StrategyHistorical
	res.Probability = &prob
	res.UptimeMinutes = prob * res.PossibleMinutes
	res.DowntimeMinutes = (1 - prob) * res.PossibleMinutes
	res.UptimePercent = percent(res.UptimeMinutes, res.PossibleMinutes)
	return res, nil
}

func (e *Estimator) estimateBucketed(ctx context.Context, st store, start, end time.Time) (Result, error) {
	res := e.newResult(st, start, end)

	counts, err := e.src.BucketCounts(ctx, st.id, start.UTC(), end.UTC(), e.opts.BucketWidth)
	if err != nil {
		return Result{}, unavailable("bucket counts", err)
	}

	agg := Bucketer{
		Width:    e.opts.BucketWidth,
		Location: st.loc,
		Table:    st.table,
		Policy:   e.opts.EmptyBucketPolicy,
	}.Aggregate(start.UTC(), end.UTC(), counts)

	res.Strategy = StrategyBucketed
	res.UptimeMinutes = agg.Uptime
	res.DowntimeMinutes = agg.Downtime
	res.PossibleMinutes = agg.Possible
	res.UptimePercent = agg.UptimePercent()
	return res, nil
}
