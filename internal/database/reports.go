package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrStaleTransition means the report was not in any of the expected states
var ErrStaleTransition = errors.New("report is not in an expected state")

// CreateReport inserts a new report row
func (db *DB) CreateReport(ctx context.Context, r *Report) error {
	query := `
		INSERT INTO reports (id, status, reference_time)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	return db.QueryRowContext(ctx, query, r.ID, r.Status, r.ReferenceTime).
		Scan(&r.CreatedAt, &r.UpdatedAt)
}

// GetReport retrieves a report by id
func (db *DB) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	query := `
		SELECT id, status, reference_time, failure_reason, output_location,
		       store_count, failed_store_count, created_at, updated_at, completed_at
		FROM reports
		WHERE id = $1
	`

	var r Report
	err := db.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.Status,
		&r.ReferenceTime,
		&r.FailureReason,
		&r.OutputLocation,
		&r.StoreCount,
		&r.FailedStoreCount,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CompletedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionReport moves a report to upd.Status only if its current status
// is one of from. Terminal states also stamp completed_at.
func (db *DB) TransitionReport(ctx context.Context, id uuid.UUID, from []string, upd ReportUpdate) error {
	query := `
		UPDATE reports
		SET status = $2,
		    reference_time = COALESCE($3, reference_time),
		    failure_reason = COALESCE($4, failure_reason),
		    output_location = COALESCE($5, output_location),
		    store_count = $6,
		    failed_store_count = $7,
		    updated_at = CURRENT_TIMESTAMP,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $1 AND status = ANY($8)
	`

	res, err := db.ExecContext(ctx, query,
		id, upd.Status, upd.ReferenceTime, upd.FailureReason, upd.OutputLocation,
		upd.StoreCount, upd.FailedStoreCount, pq.Array(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update report %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetReport(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, id, upd.Status)
	}
	return nil
}

// ListReports returns the most recent reports first
func (db *DB) ListReports(ctx context.Context, limit int) ([]*Report, error) {
	query := `
		SELECT id, status, reference_time, failure_reason, output_location,
		       store_count, failed_store_count, created_at, updated_at, completed_at
		FROM reports
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(
			&r.ID,
			&r.Status,
			&r.ReferenceTime,
			&r.FailureReason,
			&r.OutputLocation,
			&r.StoreCount,
			&r.FailedStoreCount,
			&r.CreatedAt,
			&r.UpdatedAt,
			&r.CompletedAt,
		); err != nil {
			return nil, err
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}
