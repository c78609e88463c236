package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/uptime"
)

// Estimator computes one store's three-window report
type Estimator interface {
	ComputeUptimeReport(ctx context.Context, storeID uuid.UUID, ref time.Time) (uptime.Report, error)
}

// StoreLister enumerates the stores to report on
type StoreLister interface {
	ListStoreIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StoreFailure records a store that could not be estimated
type StoreFailure struct {
	StoreID uuid.UUID
	Err     error
}

// Batch is the outcome of estimating every store
type Batch struct {
	Rows     []Row
	Failures []StoreFailure
}

// storeJob is one store queued for estimation
type storeJob struct {
	storeID uuid.UUID
}

type storeResult struct {
	row Row
	err error
	id  uuid.UUID
}

// Builder fans stores out over a bounded worker pool
type Builder struct {
	estimator    Estimator
	stores       StoreLister
	workers      int
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Registry
}

// NewBuilder creates a builder with the given pool size and per-store deadline
func NewBuilder(est Estimator, stores StoreLister, workers int, storeTimeout time.Duration, logger *slog.Logger, m *metrics.Registry) *Builder {
	if workers <= 0 {
		workers = 10
	}
	return &Builder{
		estimator:    est,
		stores:       stores,
		workers:      workers,
		storeTimeout: storeTimeout,
		logger:       logger,
		metrics:      m,
	}
}

// Build estimates every store at ref. A failing store is recorded and the
// batch continues; only failing to list stores aborts the build. onStore, if
// set, is called after each store finishes.
func (b *Builder) Build(ctx context.Context, ref time.Time, onStore func()) (*Batch, error) {
	ids, err := b.stores.ListStoreIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	jobQueue := make(chan storeJob)
	results := make(chan storeResult, b.workers)

	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobQueue {
				results <- b.estimate(ctx, job, ref)
			}
		}()
	}

	go func() {
		defer close(jobQueue)
		for _, id := range ids {
			select {
			case jobQueue <- storeJob{storeID: id}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	batch := &Batch{Rows: make([]Row, 0, len(ids))}
	for res := range results {
		if res.err != nil {
			batch.Failures = append(batch.Failures, StoreFailure{StoreID: res.id, Err: res.err})
		} else {
			batch.Rows = append(batch.Rows, res.row)
		}
		if onStore != nil {
			onStore()
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("report build interrupted: %w", err)
	}

	sort.Slice(batch.Rows, func(i, j int) bool {
		return batch.Rows[i].StoreID.String() < batch.Rows[j].StoreID.String()
	})
	return batch, nil
}

func (b *Builder) estimate(ctx context.Context, job storeJob, ref time.Time) storeResult {
	start := time.Now()

	storeCtx := ctx
	if b.storeTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, b.storeTimeout)
		defer cancel()
	}

	rep, err := b.estimator.ComputeUptimeReport(storeCtx, job.storeID, ref)
	b.metrics.StoreEstimated(err == nil, time.Since(start))
	if err != nil {
		b.logger.Warn("store estimate failed", "store_id", job.storeID, "error", err)
		return storeResult{id: job.storeID, err: err}
	}

	for _, w := range []uptime.Result{rep.LastHour, rep.LastDay, rep.LastWeek} {
		b.metrics.WindowStrategy(string(w.Window), string(w.Strategy))
	}
	return storeResult{id: job.storeID, row: RowFromReport(rep)}
}
