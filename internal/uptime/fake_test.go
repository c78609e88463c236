package uptime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/schedule"
)

// memSource is an in-memory Source for tests
type memSource struct {
	mu        sync.Mutex
	timezones map[uuid.UUID]string
	hours     map[uuid.UUID][]schedule.Rule
	obs       map[uuid.UUID][]Observation
	err       error // returned by every read when set
	obsErr    error // returned by Observations only

	historyQueries []HistoryQuery
}

func newMemSource() *memSource {
	return &memSource{
		timezones: make(map[uuid.UUID]string),
		hours:     make(map[uuid.UUID][]schedule.Rule),
		obs:       make(map[uuid.UUID][]Observation),
	}
}

func (m *memSource) add(id uuid.UUID, ts time.Time, status Status) {
	m.obs[id] = append(m.obs[id], Observation{Timestamp: ts.UTC(), Status: status})
}

func (m *memSource) StoreTimezone(ctx context.Context, id uuid.UUID) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	name, ok := m.timezones[id]
	return name, ok, nil
}

func (m *memSource) BusinessHours(ctx context.Context, id uuid.UUID) ([]schedule.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.hours[id], nil
}

func (m *memSource) Observations(ctx context.Context, id uuid.UUID, from, to time.Time) ([]Observation, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.obsErr != nil {
		return nil, m.obsErr
	}
	var out []Observation
	for _, o := range m.obs[id] {
		if o.Timestamp.Before(from) || o.Timestamp.After(to) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memSource) BucketCounts(ctx context.Context, id uuid.UUID, from, to time.Time, width time.Duration) ([]BucketCount, error) {
	if m.err != nil {
		return nil, m.err
	}
	obs := append([]Observation(nil), m.obs[id]...)
	sort.Slice(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })
	return CountBuckets(obs, from, to, width), nil
}

func (m *memSource) HistoricalStatuses(ctx context.Context, q HistoryQuery) ([]Status, error) {
	m.mu.Lock()
	m.historyQueries = append(m.historyQueries, q)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, err
	}

	var matched []Observation
	for _, o := range m.obs[q.StoreID] {
		if !o.Timestamp.Before(q.Before) {
			continue
		}
		local := o.Timestamp.In(loc)
		if local.Weekday() != q.Weekday {
			continue
		}
		c := schedule.ClockOf(local)
		if c.Before(q.From) || q.To.Before(c) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Status, len(matched))
	for i, o := range matched {
		out[i] = o.Status
	}
	return out, nil
}
