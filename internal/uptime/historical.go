package uptime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/schedule"
)

const (
	// DefaultHistoryLimit caps the matching rows considered per query
	DefaultHistoryLimit = 100

	// NeutralProbability is returned when no history matches
	NeutralProbability = 0.5
)

// TimeWindow is a local time-of-day range, bounds included
type TimeWindow struct {
	From schedule.Clock
	To   schedule.Clock
}

// WindowAround returns [c-half, c+half] wrapped onto the clock face
func WindowAround(c schedule.Clock, half time.Duration) TimeWindow {
	return TimeWindow{From: c.Add(-half), To: c.Add(half)}
}

// Straddles reports whether the window crosses local midnight
func (w TimeWindow) Straddles() bool {
	return !w.From.Before(w.To)
}

// Split breaks a midnight-straddling window into its evening and morning parts
func (w TimeWindow) Split() []TimeWindow {
	if !w.Straddles() {
		return []TimeWindow{w}
	}
	return []TimeWindow{
		{From: w.From, To: schedule.EndOfDay},
		{From: schedule.Clock{}, To: w.To},
	}
}

// ActiveFraction returns the share of active statuses, or the neutral
// probability when there are none
func ActiveFraction(statuses []Status) float64 {
	if len(statuses) == 0 {
		return NeutralProbability
	}
	active := 0
	for _, s := range statuses {
		if s == StatusActive {
			active++
		}
	}
	return float64(active) / float64(len(statuses))
}

// HistoricalEstimator estimates the probability that a store is active from
// past observations on the same weekday and time of day
type HistoricalEstimator struct {
	src   HistorySource
	limit int
}

// NewHistoricalEstimator creates an estimator reading at most limit rows per query
func NewHistoricalEstimator(src HistorySource, limit int) *HistoricalEstimator {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoricalEstimator{src: src, limit: limit}
}

// EstimateProbability looks at observations before ref (a local instant whose
// location is the store's zone) on ref's weekday inside window. A window that
// straddles midnight is queried in two parts whose results are averaged with
// equal weight, regardless of how long each part is.
func (h *HistoricalEstimator) EstimateProbability(ctx context.Context, storeID uuid.UUID, ref time.Time, window TimeWindow) (float64, error) {
	parts := window.Split()

	var sum float64
	for _, part := range parts {
		statuses, err := h.src.HistoricalStatuses(ctx, HistoryQuery{
			StoreID:  storeID,
			Timezone: ref.Location().String(),
			Weekday:  ref.Weekday(),
			From:     part.From,
			To:       part.To,
			Before:   ref.UTC(),
			Limit:    h.limit,
		})
		if err != nil {
			return 0, unavailable("historical statuses", err)
		}
		sum += ActiveFraction(statuses)
	}
	return sum / float64(len(parts)), nil
}
