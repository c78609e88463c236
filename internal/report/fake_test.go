package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/reportstate"
	"github.com/smukkama/store-monitor/internal/uptime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEstimator returns a fixed report per store or fails listed stores
type fakeEstimator struct {
	fail map[uuid.UUID]error
}

func (f *fakeEstimator) ComputeUptimeReport(ctx context.Context, id uuid.UUID, ref time.Time) (uptime.Report, error) {
	if err := f.fail[id]; err != nil {
		return uptime.Report{}, err
	}
	return uptime.Report{
		StoreID:       id,
		ReferenceTime: ref,
		LastHour:      uptime.Result{Window: uptime.LastHour, Strategy: uptime.StrategyObserved, UptimeMinutes: 45, DowntimeMinutes: 15, PossibleMinutes: 60},
		LastDay:       uptime.Result{Window: uptime.LastDay, Strategy: uptime.StrategyBucketed, UptimeMinutes: 600, DowntimeMinutes: 120, PossibleMinutes: 720},
		LastWeek:      uptime.Result{Window: uptime.LastWeek, Strategy: uptime.StrategyBucketed, UptimeMinutes: 3000, DowntimeMinutes: 90, PossibleMinutes: 3090},
	}, nil
}

type fakeLister struct {
	ids []uuid.UUID
	err error
}

func (f *fakeLister) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	return f.ids, f.err
}

// memRepo is an in-memory report table
type memRepo struct {
	mu        sync.Mutex
	reports   map[uuid.UUID]*database.Report
	createErr error
	updateErr error
}

func newMemRepo() *memRepo {
	return &memRepo{reports: make(map[uuid.UUID]*database.Report)}
}

func (m *memRepo) CreateReport(ctx context.Context, r *database.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memRepo) GetReport(ctx context.Context, id uuid.UUID) (*database.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) TransitionReport(ctx context.Context, id uuid.UUID, from []string, upd database.ReportUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	r, ok := m.reports[id]
	if !ok {
		return database.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if s == r.Status {
			allowed = true
		}
	}
	if !allowed {
		return database.ErrStaleTransition
	}
	r.Status = upd.Status
	if upd.ReferenceTime != nil {
		r.ReferenceTime = upd.ReferenceTime
	}
	if upd.FailureReason != nil {
		r.FailureReason = upd.FailureReason
	}
	if upd.OutputLocation != nil {
		r.OutputLocation = upd.OutputLocation
	}
	r.StoreCount = upd.StoreCount
	r.FailedStoreCount = upd.FailedStoreCount
	return nil
}

func (m *memRepo) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		return r.Status
	}
	return ""
}

// memCache records cached states and progress ticks
type memCache struct {
	mu     sync.Mutex
	states map[uuid.UUID]*reportstate.State
	done   map[uuid.UUID]int
}

func newMemCache() *memCache {
	return &memCache{states: make(map[uuid.UUID]*reportstate.State), done: make(map[uuid.UUID]int)}
}

func (c *memCache) Set(ctx context.Context, st *reportstate.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *st
	c.states[st.ReportID] = &cp
	return nil
}

func (c *memCache) Advance(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[id]++
	return nil
}

// memPublisher captures published messages
type memPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (p *memPublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, value)
	return nil
}

var errBoom = errors.New("boom")
