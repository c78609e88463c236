package report

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func sampleRows() []Row {
	return []Row{{
		StoreID:          uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		UptimeLastHour:   45,
		UptimeLastDay:    10,
		UptimeLastWeek:   50.123,
		DowntimeLastHour: 15,
		DowntimeLastDay:  2,
		DowntimeLastWeek: 1.5,
	}}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVWriter{}).Write(&buf, Meta{}, sampleRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if lines[0] != strings.Join(Header, ",") {
		t.Errorf("header = %q", lines[0])
	}
	want := "00000000-0000-0000-0000-000000000001,45.00,10.00,50.12,15.00,2.00,1.50"
	if lines[1] != want {
		t.Errorf("row = %q, want %q", lines[1], want)
	}
}

func TestCSVWriter_EmptyHasHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := (CSVWriter{}).Write(&buf, Meta{}, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != strings.Join(Header, ",") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestXLSXWriter(t *testing.T) {
	var buf bytes.Buffer
	meta := Meta{
		ReportID:         uuid.New(),
		ReferenceTime:    time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC),
		StoreCount:       2,
		FailedStoreCount: 1,
	}
	if err := (XLSXWriter{}).Write(&buf, meta, sampleRows()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetReport)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "store_id" {
		t.Fatalf("rows = %v", rows)
	}
	if rows[1][0] != "00000000-0000-0000-0000-000000000001" {
		t.Errorf("store cell = %q", rows[1][0])
	}

	failed, err := f.GetCellValue(sheetSummary, "B4")
	if err != nil || failed != "1" {
		t.Errorf("failed_store_count = %q, %v", failed, err)
	}
}

func TestNewWriter(t *testing.T) {
	for format, ext := range map[string]string{"": "csv", "csv": "csv", "xlsx": "xlsx"} {
		w, err := NewWriter(format)
		if err != nil || w.Ext() != ext {
			t.Errorf("NewWriter(%q) = %v, %v", format, w, err)
		}
	}
	if _, err := NewWriter("pdf"); err == nil {
		t.Error("expected error for pdf")
	}
}

func TestRowFromReport_Units(t *testing.T) {
	est := &fakeEstimator{}
	rep, _ := est.ComputeUptimeReport(context.Background(), uuid.New(), time.Now())
	row := RowFromReport(rep)
	if row.UptimeLastHour != 45 || row.DowntimeLastHour != 15 {
		t.Errorf("last hour = %v/%v minutes", row.UptimeLastHour, row.DowntimeLastHour)
	}
	if row.UptimeLastDay != 10 || row.DowntimeLastDay != 2 {
		t.Errorf("last day = %v/%v hours", row.UptimeLastDay, row.DowntimeLastDay)
	}
	if row.UptimeLastWeek != 50 || row.DowntimeLastWeek != 1.5 {
		t.Errorf("last week = %v/%v hours", row.UptimeLastWeek, row.DowntimeLastWeek)
	}
}
