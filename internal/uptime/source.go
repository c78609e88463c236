package uptime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/schedule"
)

// Status is the polled state of a store
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus validates a raw status string
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusInactive:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, s)
	}
}

// Observation is a single timestamped status poll
type Observation struct {
	Timestamp time.Time
	Status    Status
}

// BucketCount holds the observation counts of one aligned time bucket.
// Start is the aligned bucket start, not clipped to the query range.
type BucketCount struct {
	Start    time.Time
	Active   int
	Inactive int
}

// HistoryQuery selects past observations sharing a local weekday and
// time-of-day range
type HistoryQuery struct {
	StoreID  uuid.UUID
	Timezone string
	Weekday  time.Weekday
	From     schedule.Clock
	To       schedule.Clock
	Before   time.Time
	Limit    int
}

// HistorySource reads historically matching observations
type HistorySource interface {
	HistoricalStatuses(ctx context.Context, q HistoryQuery) ([]Status, error)
}

// Source is everything the estimator reads from the backing store
type Source interface {
	HistorySource

	// StoreTimezone returns the IANA name; found is false when no row exists
	StoreTimezone(ctx context.Context, storeID uuid.UUID) (name string, found bool, err error)
	BusinessHours(ctx context.Context, storeID uuid.UUID) ([]schedule.Rule, error)
	// Observations returns polls with from <= timestamp <= to, oldest first
	Observations(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]Observation, error)
	// BucketCounts returns only non-empty buckets with from <= timestamp < to
	BucketCounts(ctx context.Context, storeID uuid.UUID, from, to time.Time, width time.Duration) ([]BucketCount, error)
}

var (
	// ErrUnresolvableTimezone means the stored timezone name is not a known
	// IANA zone. The store cannot be estimated.
	ErrUnresolvableTimezone = errors.New("unresolvable timezone")

	// ErrBackingStoreUnavailable wraps any failure reading from the Source
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")

	ErrUnknownStatus = errors.New("unknown status")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackingStoreUnavailable, op, err)
}
