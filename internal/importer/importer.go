// Package importer loads the store dataset exports (status polls, business
// hours, timezones) into the database.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/smukkama/store-monitor/internal/database"
	"github.com/smukkama/store-monitor/internal/protocol"
	"github.com/smukkama/store-monitor/internal/schedule"
)

// Store is the write side the importer needs
type Store interface {
	InsertObservations(ctx context.Context, obs []database.StatusObservation) (int64, error)
	UpsertTimezone(ctx context.Context, storeID uuid.UUID, timezone string) error
	UpsertBusinessHour(ctx context.Context, bh database.BusinessHour) error
}

// Stats summarizes one file's import
type Stats struct {
	Rows     int
	Written  int64
	Rejected int
}

// Importer streams dataset files into a Store
type Importer struct {
	store     Store
	batchSize int
	logger    *slog.Logger
}

func New(store Store, batchSize int, logger *slog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Importer{store: store, batchSize: batchSize, logger: logger}
}

// table reads a CSV with a header row, addressing columns by name
type table struct {
	r      *csv.Reader
	cols   map[string]int
	source string
	line   int
}

func newTable(r io.Reader, source string, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", source, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", source, name)
		}
	}
	return &table{r: cr, cols: cols, source: source, line: 1}, nil
}

// next returns the next record, or io.EOF
func (t *table) next() ([]string, error) {
	rec, err := t.r.Read()
	t.line++
	return rec, err
}

func (t *table) get(rec []string, name string) string {
	i := t.cols[strings.ToLower(name)]
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Statuses imports store_status.csv (store_id, status, timestamp_utc).
// Duplicate polls are skipped by the database and not counted as written.
func (im *Importer) Statuses(ctx context.Context, r io.Reader) (Stats, error) {
	t, err := newTable(r, "store_status", "store_id", "status", "timestamp_utc")
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	batch := make([]database.StatusObservation, 0, im.batchSize)
	flush := func() error {
		n, err := im.store.InsertObservations(ctx, batch)
		if err != nil {
			return err
		}
		stats.Written += n
		batch = batch[:0]
		return nil
	}

	now := time.Now().UTC()
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%s line %d: %w", t.source, t.line, err)
		}
		stats.Rows++

		msg, err := protocol.StatusPayload{
			StoreID:      t.get(rec, "store_id"),
			Status:       t.get(rec, "status"),
			TimestampUTC: t.get(rec, "timestamp_utc"),
		}.Validate()
		if err != nil {
			stats.Rejected++
			im.logger.Debug("rejected status row", "line", t.line, "error", err)
			continue
		}

		batch = append(batch, database.StatusObservation{
			StoreID:      msg.StoreID,
			TimestampUTC: msg.TimestampUTC,
			Status:       msg.Status,
			ReceivedAt:   now,
		})
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return stats, fmt.Errorf("failed to write observations: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return stats, fmt.Errorf("failed to write observations: %w", err)
		}
	}

	im.logger.Info("imported status polls", "rows", stats.Rows, "written", stats.Written, "rejected", stats.Rejected)
	return stats, nil
}

// BusinessHours imports menu_hours.csv (store_id, dayOfWeek with 0=Monday,
// start_time_local, end_time_local)
func (im *Importer) BusinessHours(ctx context.Context, r io.Reader) (Stats, error) {
	t, err := newTable(r, "menu_hours", "store_id", "dayOfWeek", "start_time_local", "end_time_local")
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%s line %d: %w", t.source, t.line, err)
		}
		stats.Rows++

		bh, err := parseBusinessHour(t.get(rec, "store_id"), t.get(rec, "dayOfWeek"), t.get(rec, "start_time_local"), t.get(rec, "end_time_local"))
		if err != nil {
			stats.Rejected++
			im.logger.Debug("rejected business hour row", "line", t.line, "error", err)
			continue
		}
		if err := im.store.UpsertBusinessHour(ctx, bh); err != nil {
			return stats, fmt.Errorf("failed to write business hours for %s: %w", bh.StoreID, err)
		}
		stats.Written++
	}

	im.logger.Info("imported business hours", "rows", stats.Rows, "written", stats.Written, "rejected", stats.Rejected)
	return stats, nil
}

func parseBusinessHour(storeID, day, start, end string) (database.BusinessHour, error) {
	id, err := uuid.Parse(storeID)
	if err != nil {
		return database.BusinessHour{}, fmt.Errorf("store_id: %w", err)
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 0 || d > 6 {
		return database.BusinessHour{}, fmt.Errorf("dayOfWeek %q out of range", day)
	}
	open, err := schedule.ParseClock(start)
	if err != nil {
		return database.BusinessHour{}, err
	}
	closing, err := schedule.ParseClock(end)
	if err != nil {
		return database.BusinessHour{}, err
	}
	return database.BusinessHour{
		StoreID:   id,
		DayOfWeek: d,
		StartTime: open.String(),
		EndTime:   closing.String(),
	}, nil
}

// Timezones imports timezones.csv (store_id, timezone_str). Unknown zone
// names are rejected here so reports do not fail on them later.
func (im *Importer) Timezones(ctx context.Context, r io.Reader) (Stats, error) {
	t, err := newTable(r, "timezones", "store_id", "timezone_str")
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%s line %d: %w", t.source, t.line, err)
		}
		stats.Rows++

		id, err := uuid.Parse(t.get(rec, "store_id"))
		if err != nil {
			stats.Rejected++
			continue
		}
		name := t.get(rec, "timezone_str")
		if _, err := time.LoadLocation(name); err != nil || name == "" {
			stats.Rejected++
			im.logger.Warn("rejected unknown timezone", "store_id", id, "timezone", name)
			continue
		}
		if err := im.store.UpsertTimezone(ctx, id, name); err != nil {
			return stats, fmt.Errorf("failed to write timezone for %s: %w", id, err)
		}
		stats.Written++
	}

	im.logger.Info("imported timezones", "rows", stats.Rows, "written", stats.Written, "rejected", stats.Rejected)
	return stats, nil
}
