package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/smukkama/store-monitor/internal/schedule"
	"github.com/smukkama/store-monitor/internal/uptime"
)

var _ uptime.Source = (*DB)(nil)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string, maxOpen, maxIdle int) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// ListStoreIDs returns every known store
func (db *DB) ListStoreIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM stores ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreTimezone returns the store's IANA timezone name, if one is recorded
func (db *DB) StoreTimezone(ctx context.Context, storeID uuid.UUID) (string, bool, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT timezone_str FROM store_timezones WHERE store_id = $1`, storeID,
	).Scan(&name)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// BusinessHours returns the store's configured weekday rules
func (db *DB) BusinessHours(ctx context.Context, storeID uuid.UUID) ([]schedule.Rule, error) {
	query := `
		SELECT day_of_week,
		       to_char(start_time_local, 'HH24:MI:SS'),
		       to_char(end_time_local, 'HH24:MI:SS')
		FROM store_business_hours
		WHERE store_id = $1
		ORDER BY day_of_week
	`

	rows, err := db.QueryContext(ctx, query, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []schedule.Rule
	for rows.Next() {
		var bh BusinessHour
		if err := rows.Scan(&bh.DayOfWeek, &bh.StartTime, &bh.EndTime); err != nil {
			return nil, err
		}
		rule, err := bh.Rule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Rule converts the row into a schedule rule
func (bh BusinessHour) Rule() (schedule.Rule, error) {
	open, err := schedule.ParseClock(bh.StartTime)
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("%w: start: %v", schedule.ErrMalformedSchedule, err)
	}
	closing, err := schedule.ParseClock(bh.EndTime)
	if err != nil {
		return schedule.Rule{}, fmt.Errorf("%w: end: %v", schedule.ErrMalformedSchedule, err)
	}
	return schedule.Rule{Day: bh.DayOfWeek, Open: open, Close: closing}, nil
}

// Observations returns the polls with from <= timestamp <= to, oldest first
func (db *DB) Observations(ctx context.Context, storeID uuid.UUID, from, to time.Time) ([]uptime.Observation, error) {
	query := `
		SELECT timestamp_utc, status
		FROM store_status
		WHERE store_id = $1 AND timestamp_utc BETWEEN $2 AND $3
		ORDER BY timestamp_utc
	`

	rows, err := db.QueryContext(ctx, query, storeID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []uptime.Observation
	for rows.Next() {
		var ts time.Time
		var status string
		if err := rows.Scan(&ts, &status); err != nil {
			return nil, err
		}
		st, err := uptime.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		obs = append(obs, uptime.Observation{Timestamp: ts.UTC(), Status: st})
	}
	return obs, rows.Err()
}

// BucketCounts groups polls with from <= timestamp < to into aligned buckets.
// The date_bin origin matches uptime.BucketOrigin.
func (db *DB) BucketCounts(ctx context.Context, storeID uuid.UUID, from, to time.Time, width time.Duration) ([]uptime.BucketCount, error) {
	query := `
		SELECT date_bin($4::interval, timestamp_utc, TIMESTAMPTZ '2000-01-03 00:00:00+00') AS bucket,
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'inactive')
		FROM store_status
		WHERE store_id = $1 AND timestamp_utc >= $2 AND timestamp_utc < $3
		GROUP BY bucket
		ORDER BY bucket
	`

	rows, err := db.QueryContext(ctx, query, storeID, from.UTC(), to.UTC(), intervalLiteral(width))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []uptime.BucketCount
	for rows.Next() {
		var c uptime.BucketCount
		if err := rows.Scan(&c.Start, &c.Active, &c.Inactive); err != nil {
			return nil, err
		}
		c.Start = c.Start.UTC()
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// HistoricalStatuses returns the most recent statuses before q.Before whose
// local weekday and time of day (in q.Timezone) match the query
func (db *DB) HistoricalStatuses(ctx context.Context, q uptime.HistoryQuery) ([]uptime.Status, error) {
	query := `
		SELECT status
		FROM store_status
		WHERE store_id = $1
		  AND timestamp_utc < $2
		  AND EXTRACT(DOW FROM timestamp_utc AT TIME ZONE $3) = $4
		  AND (timestamp_utc AT TIME ZONE $3)::time BETWEEN $5::time AND $6::time
		ORDER BY timestamp_utc DESC
		LIMIT $7
	`

	rows, err := db.QueryContext(ctx, query,
		q.StoreID, q.Before.UTC(), q.Timezone, int(q.Weekday),
		q.From.String(), q.To.String(), q.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []uptime.Status
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		st, err := uptime.ParseStatus(s)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// InsertObservations stores a batch of polls, creating unknown stores and
// skipping duplicates. It returns the number of new rows.
func (db *DB) InsertObservations(ctx context.Context, obs []StatusObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	storeIDs := make([]string, 0, len(obs))
	seen := make(map[uuid.UUID]bool)
	for _, o := range obs {
		if !seen[o.StoreID] {
			seen[o.StoreID] = true
			storeIDs = append(storeIDs, o.StoreID.String())
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stores (id) SELECT unnest($1::uuid[]) ON CONFLICT (id) DO NOTHING`,
		pq.Array(storeIDs),
	); err != nil {
		return 0, fmt.Errorf("failed to ensure stores: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO store_status (store_id, timestamp_utc, status, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (store_id, timestamp_utc) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, o := range obs {
		received := o.ReceivedAt
		if received.IsZero() {
			received = time.Now().UTC()
		}
		res, err := stmt.ExecContext(ctx, o.StoreID, o.TimestampUTC.UTC(), o.Status, received)
		if err != nil {
			return 0, fmt.Errorf("failed to insert observation: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit observations: %w", err)
	}
	return inserted, nil
}

// UpsertTimezone records the store's timezone, replacing any previous value
func (db *DB) UpsertTimezone(ctx context.Context, storeID uuid.UUID, timezone string) error {
	if err := db.EnsureStore(ctx, storeID); err != nil {
		return err
	}
	query := `
		INSERT INTO store_timezones (store_id, timezone_str)
		VALUES ($1, $2)
		ON CONFLICT (store_id) DO UPDATE
		SET timezone_str = EXCLUDED.timezone_str,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, storeID, timezone)
	return err
}

// UpsertBusinessHour records one weekday rule; the latest row for a day wins
func (db *DB) UpsertBusinessHour(ctx context.Context, bh BusinessHour) error {
	if err := db.EnsureStore(ctx, bh.StoreID); err != nil {
		return err
	}
	query := `
		INSERT INTO store_business_hours (store_id, day_of_week, start_time_local, end_time_local)
		VALUES ($1, $2, $3::time, $4::time)
		ON CONFLICT (store_id, day_of_week) DO UPDATE
		SET start_time_local = EXCLUDED.start_time_local,
		    end_time_local = EXCLUDED.end_time_local,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, bh.StoreID, bh.DayOfWeek, bh.StartTime, bh.EndTime)
	return err
}

// EnsureStore inserts the store if it is not known yet
func (db *DB) EnsureStore(ctx context.Context, storeID uuid.UUID) error {
	_, err := db.ExecContext(ctx, `INSERT INTO stores (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, storeID)
	return err
}

// intervalLiteral renders d as a Postgres interval
func intervalLiteral(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
