package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/metrics"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/internal/reportstate"
)

// Repository persists report rows
type Repository interface {
	CreateReport(ctx context.Context, r *database.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*database.Report, error)
	TransitionReport(ctx context.Context, id uuid.UUID, from []string, upd database.ReportUpdate) error
}

// StateCache mirrors report state for fast polling
type StateCache interface {
	Set(ctx context.Context, state *reportstate.State) error
	Advance(ctx context.Context, id uuid.UUID) error
}

// Runner executes report requests: it drives the status machine, builds
// the file and announces the outcome
type Runner struct {
	repo      Repository
	cache     StateCache
	builder   *Builder
	writer    Writer
	outputDir string
	events    queue.Publisher
	logger    *slog.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewRunner creates a runner writing files into outputDir
func NewRunner(repo Repository, cache StateCache, builder *Builder, writer Writer, outputDir string, events queue.Publisher, logger *slog.Logger, m *metrics.Registry) *Runner {
	return &Runner{
		repo:      repo,
		cache:     cache,
		builder:   builder,
		writer:    writer,
		outputDir: outputDir,
		events:    events,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// FileName returns the report file name for id
func FileName(id uuid.UUID, ext string) string {
	return fmt.Sprintf("store_report_%s.%s", id, ext)
}

// HandleMessage adapts Run to the queue consume loop
func (r *Runner) HandleMessage(ctx context.Context, msg kafka.Message) error {
	req, err := protocol.DecodeReportRequest(msg.Value)
	if err != nil {
		return fmt.Errorf("failed to decode report request: %w", err)
	}
	return r.Run(ctx, req)
}

// Run executes one report request. Requests for reports that already
// finished are ignored.
func (r *Runner) Run(ctx context.Context, req *protocol.ReportRequest) error {
	started := r.now()
	log := r.logger.With("report_id", req.ReportID)

	ref, err := r.referenceTime(ctx, req, started)
	if err != nil {
		return err
	}

	err = r.repo.TransitionReport(ctx, req.ReportID, Predecessors(StatusRunning), database.ReportUpdate{
		Status:        string(StatusRunning),
		ReferenceTime: &ref,
	})
	switch {
	case errors.Is(err, database.ErrStaleTransition):
		log.Info("report already finished, skipping")
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("report %s does not exist", req.ReportID)
	case err != nil:
		return fmt.Errorf("%w: mark running: %v", queue.ErrRetry, err)
	}

	log.Info("report running", "reference_time", ref, "trigger", req.Trigger)
	r.cacheState(ctx, &reportstate.State{ReportID: req.ReportID, Status: string(StatusRunning), ReferenceTime: &ref})

	batch, err := r.builder.Build(ctx, ref, func() {
		if r.cache == nil {
			return
		}
		if err := r.cache.Advance(ctx, req.ReportID); err != nil {
			log.Debug("progress update failed", "error", err)
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; leave it running so redelivery resumes it
			return fmt.Errorf("%w: %v", queue.ErrRetry, err)
		}
		return r.fail(ctx, req.ReportID, ref, started, 0, 0, err)
	}

	storeCount := len(batch.Rows) + len(batch.Failures)
	failedCount := len(batch.Failures)

	name, err := r.writeFile(req.ReportID, ref, batch, storeCount)
	if err != nil {
		return r.fail(ctx, req.ReportID, ref, started, storeCount, failedCount, err)
	}

	err = r.repo.TransitionReport(ctx, req.ReportID, Predecessors(StatusCompleted), database.ReportUpdate{
		Status:           string(StatusCompleted),
		OutputLocation:   &name,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
	})
	if err != nil {
		return fmt.Errorf("%w: mark completed: %v", queue.ErrRetry, err)
	}

	r.cacheState(ctx, &reportstate.State{
		ReportID:         req.ReportID,
		Status:           string(StatusCompleted),
		ReferenceTime:    &ref,
		OutputLocation:   name,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
	})
	r.publish(ctx, &protocol.ReportEvent{
		Type:             protocol.ReportEventCompleted,
		ReportID:         req.ReportID,
		ReferenceTime:    ref,
		OutputLocation:   name,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
		FinishedAt:       r.now().UTC(),
	})
	r.metrics.ReportFinished(string(StatusCompleted), r.now().Sub(started))

	log.Info("report completed", "file", name, "stores", storeCount, "failed_stores", failedCount,
		"elapsed", r.now().Sub(started).Round(time.Millisecond))
	return nil
}

// referenceTime picks the instant the report describes. A report resumed
// after redelivery keeps the reference time stored by its first attempt.
func (r *Runner) referenceTime(ctx context.Context, req *protocol.ReportRequest, started time.Time) (time.Time, error) {
	if req.ReferenceTime != nil {
		return req.ReferenceTime.UTC(), nil
	}
	existing, err := r.repo.GetReport(ctx, req.ReportID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return time.Time{}, fmt.Errorf("report %s does not exist", req.ReportID)
	case err != nil:
		return time.Time{}, fmt.Errorf("%w: load report: %v", queue.ErrRetry, err)
	}
	if existing.Status == string(StatusRunning) && existing.ReferenceTime != nil {
		return existing.ReferenceTime.UTC(), nil
	}
	return started.UTC(), nil
}

func (r *Runner) fail(ctx context.Context, id uuid.UUID, ref, started time.Time, storeCount, failedCount int, cause error) error {
	reason := cause.Error()
	r.logger.Error("report failed", "report_id", id, "error", cause)

	err := r.repo.TransitionReport(ctx, id, Predecessors(StatusFailed), database.ReportUpdate{
		Status:           string(StatusFailed),
		FailureReason:    &reason,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
	})
	if err != nil {
		return fmt.Errorf("%w: mark failed: %v", queue.ErrRetry, err)
	}

	r.cacheState(ctx, &reportstate.State{
		ReportID:         id,
		Status:           string(StatusFailed),
		ReferenceTime:    &ref,
		FailureReason:    reason,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
	})
	r.publish(ctx, &protocol.ReportEvent{
		Type:             protocol.ReportEventFailed,
		ReportID:         id,
		ReferenceTime:    ref,
		FailureReason:    reason,
		StoreCount:       storeCount,
		FailedStoreCount: failedCount,
		FinishedAt:       r.now().UTC(),
	})
	r.metrics.ReportFinished(string(StatusFailed), r.now().Sub(started))
	return nil
}

// writeFile renders the batch into a temporary file and renames it into
// place so readers never see a partial report
func (r *Runner) writeFile(id uuid.UUID, ref time.Time, batch *Batch, storeCount int) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := FileName(id, r.writer.Ext())
	tmp, err := os.CreateTemp(r.outputDir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	meta := Meta{ReportID: id, ReferenceTime: ref, StoreCount: storeCount, FailedStoreCount: len(batch.Failures)}
	if err := r.writer.Write(tmp, meta, batch.Rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(r.outputDir, name)); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}
	return name, nil
}

func (r *Runner) cacheState(ctx context.Context, st *reportstate.State) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, st); err != nil {
		r.logger.Warn("failed to cache report state", "report_id", st.ReportID, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, ev *protocol.ReportEvent) {
	if r.events == nil {
		return
	}
	data, err := protocol.EncodeReportEvent(ev)
	if err != nil {
		r.logger.Error("failed to encode report event", "error", err)
		return
	}
	if err := r.events.Publish(ctx, ev.ReportID.String(), data); err != nil {
		r.logger.Error("failed to publish report event", "report_id", ev.ReportID, "error", err)
	}
}
