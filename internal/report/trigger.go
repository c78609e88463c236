package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/queue"
	"github.com/smukkama/store-monitor/internal/reportstate"
)

// Trigger creates pending reports and enqueues them for the runner
type Trigger struct {
	repo     Repository
	cache    StateCache
	requests queue.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewTrigger creates a trigger publishing to the request topic
func NewTrigger(repo Repository, cache StateCache, requests queue.Publisher, logger *slog.Logger) *Trigger {
	return &Trigger{repo: repo, cache: cache, requests: requests, logger: logger, now: time.Now}
}

// Request records a pending report and enqueues it. ref pins the reference
// instant; nil means "when the runner picks it up".
func (t *Trigger) Request(ctx context.Context, ref *time.Time, trigger string) (*database.Report, error) {
	rep := &database.Report{
		ID:            uuid.New(),
		Status:        string(StatusPending),
		ReferenceTime: ref,
	}
	if err := t.repo.CreateReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, &reportstate.State{ReportID: rep.ID, Status: rep.Status, ReferenceTime: ref}); err != nil {
			t.logger.Warn("failed to cache report state", "report_id", rep.ID, "error", err)
		}
	}

	data, err := protocol.EncodeReportRequest(&protocol.ReportRequest{
		ReportID:      rep.ID,
		ReferenceTime: ref,
		Trigger:       trigger,
		RequestedAt:   t.now().UTC(),
	})
	if err == nil {
		err = t.requests.Publish(ctx, rep.ID.String(), data)
	}
	if err != nil {
		reason := fmt.Sprintf("could not enqueue report: %v", err)
		if terr := t.repo.TransitionReport(ctx, rep.ID, Predecessors(StatusFailed), database.ReportUpdate{
			Status:        string(StatusFailed),
			FailureReason: &reason,
		}); terr != nil {
			t.logger.Error("failed to mark unqueued report failed", "report_id", rep.ID, "error", terr)
		}
		return nil, fmt.Errorf("failed to enqueue report %s: %w", rep.ID, err)
	}

	t.logger.Info("report requested", "report_id", rep.ID, "trigger", trigger)
	return rep, nil
}
