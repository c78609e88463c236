package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/schedule"
	"github.com/smukkama/store-monitor/internal/uptime"
	"github.com/smukkama/store-monitor/pkg/config"
)

// flakySource fails the first failures calls of every method
type flakySource struct {
	failures int
	err      error
	calls    map[string]int
}

func newFlaky(failures int, err error) *flakySource {
	return &flakySource{failures: failures, err: err, calls: make(map[string]int)}
}

func (f *flakySource) hit(op string) error {
	f.calls[op]++
	if f.calls[op] <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakySource) StoreTimezone(ctx context.Context, id uuid.UUID) (string, bool, error) {
	if err := f.hit("tz"); err != nil {
		return "", false, err
	}
	return "Asia/Tokyo", true, nil
}

func (f *flakySource) BusinessHours(ctx context.Context, id uuid.UUID) ([]schedule.Rule, error) {
	if err := f.hit("hours"); err != nil {
		return nil, err
	}
	return []schedule.Rule{{Day: 0, Open: schedule.Clock{Hour: 9}, Close: schedule.Clock{Hour: 17}}}, nil
}

func (f *flakySource) Observations(ctx context.Context, id uuid.UUID, from, to time.Time) ([]uptime.Observation, error) {
	if err := f.hit("obs"); err != nil {
		return nil, err
	}
	return []uptime.Observation{{Timestamp: from, Status: uptime.StatusActive}}, nil
}

func (f *flakySource) BucketCounts(ctx context.Context, id uuid.UUID, from, to time.Time, width time.Duration) ([]uptime.BucketCount, error) {
	if err := f.hit("buckets"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakySource) HistoricalStatuses(ctx context.Context, q uptime.HistoryQuery) ([]uptime.Status, error) {
	if err := f.hit("history"); err != nil {
		return nil, err
	}
	return []uptime.Status{uptime.StatusInactive}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions(attempts int) Options {
	return Options{Attempts: attempts, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond, CacheTTL: time.Minute}
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	flaky := newFlaky(2, errors.New("connection reset by peer"))
	m := metrics.NewRegistry()
	r := NewResilient(flaky, fastOptions(3), testLogger(), m)

	obs, err := r.Observations(context.Background(), uuid.New(), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Observations failed: %v", err)
	}
	if len(obs) != 1 {
		t.Errorf("got %d observations, want 1", len(obs))
	}
	if flaky.calls["obs"] != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls["obs"])
	}
}

func TestResilient_GivesUpAfterAttempts(t *testing.T) {
	boom := errors.New("connection refused")
	flaky := newFlaky(10, boom)
	r := NewResilient(flaky, fastOptions(2), testLogger(), nil)

	_, err := r.HistoricalStatuses(context.Background(), uptime.HistoryQuery{})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if flaky.calls["history"] != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls["history"])
	}
}

func TestResilient_DoesNotRetryPermanentErrors(t *testing.T) {
	syntax := &pq.Error{Code: "42601", Message: "syntax error"}
	flaky := newFlaky(10, syntax)
	r := NewResilient(flaky, fastOptions(5), testLogger(), nil)

	_, err := r.BucketCounts(context.Background(), uuid.New(), time.Now(), time.Now(), time.Hour)
	if err == nil {
		t.Fatal("expected error")
	}
	if flaky.calls["buckets"] != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls["buckets"])
	}
}

func TestResilient_CachesMetadata(t *testing.T) {
	flaky := newFlaky(0, nil)
	r := NewResilient(flaky, fastOptions(1), testLogger(), nil)
	id := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, found, err := r.StoreTimezone(ctx, id)
		if err != nil || !found || name != "Asia/Tokyo" {
			t.Fatalf("StoreTimezone = %q, %v, %v", name, found, err)
		}
		if _, err := r.BusinessHours(ctx, id); err != nil {
			t.Fatalf("BusinessHours failed: %v", err)
		}
	}
	if flaky.calls["tz"] != 1 || flaky.calls["hours"] != 1 {
		t.Errorf("calls = %v, want one read each", flaky.calls)
	}

	r.Invalidate(id)
	if _, _, err := r.StoreTimezone(ctx, id); err != nil {
		t.Fatalf("StoreTimezone failed: %v", err)
	}
	if flaky.calls["tz"] != 2 {
		t.Errorf("tz calls after invalidate = %d, want 2", flaky.calls["tz"])
	}
}

func TestResilient_NoCacheWhenTTLZero(t *testing.T) {
	flaky := newFlaky(0, nil)
	r := NewResilient(flaky, Options{Attempts: 1}, testLogger(), nil)

	for i := 0; i < 2; i++ {
		if _, _, err := r.StoreTimezone(context.Background(), uuid.Nil); err != nil {
			t.Fatal(err)
		}
	}
	if flaky.calls["tz"] != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls["tz"])
	}
}

func TestResilient_MalformedScheduleNotRetried(t *testing.T) {
	flaky := newFlaky(10, fmt.Errorf("%w: end: bad clock", schedule.ErrMalformedSchedule))
	r := NewResilient(flaky, fastOptions(3), testLogger(), nil)

	_, err := r.BusinessHours(context.Background(), uuid.New())
	if !errors.Is(err, schedule.ErrMalformedSchedule) {
		t.Errorf("err = %v, want ErrMalformedSchedule", err)
	}
	if flaky.calls["hours"] != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls["hours"])
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{&pq.Error{Code: "23505"}, false},
		{&pq.Error{Code: "57P01"}, true},
		{errors.New("EOF"), true},
		{fmt.Errorf("%w: start: bad clock", schedule.ErrMalformedSchedule), false},
		{fmt.Errorf("%w %q", uptime.ErrUnknownStatus, "open"), false},
	}
	for _, tt := range tests {
		if got := Transient(tt.err); got != tt.want {
			t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewEstimator(t *testing.T) {
	cfg := config.EstimationConfig{
		DefaultTimezone:   "UTC",
		BucketWidth:       time.Hour,
		HistoryLimit:      100,
		HistoryHalfWindow: time.Hour,
		EmptyBucketPolicy: "neutral",
		RetryAttempts:     2,
		RetryDelay:        time.Millisecond,
		CacheTTL:          time.Minute,
	}
	est, src, err := NewEstimator(newFlaky(0, nil), cfg, testLogger(), nil)
	if err != nil || est == nil || src == nil {
		t.Fatalf("NewEstimator = %v, %v, %v", est, src, err)
	}

	cfg.EmptyBucketPolicy = "guess"
	if _, _, err := NewEstimator(newFlaky(0, nil), cfg, testLogger(), nil); err == nil {
		t.Error("expected error for unknown policy")
	}
}
