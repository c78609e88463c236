package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/smukkama/store-monitor/internal/uptime"
)

// Header is the report's column layout
var Header = []string{
	"store_id",
	"uptime_last_hour(in minutes)",
	"uptime_last_day(in hours)",
	"uptime_last_week(in hours)",
	"downtime_last_hour(in minutes)",
	"downtime_last_day(in hours)",
	"downtime_last_week(in hours)",
}

// Row is one store's line in the report
type Row struct {
	StoreID          uuid.UUID
	UptimeLastHour   float64 // minutes
	UptimeLastDay    float64 // hours
	UptimeLastWeek   float64 // hours
	DowntimeLastHour float64 // minutes
	DowntimeLastDay  float64 // hours
	DowntimeLastWeek float64 // hours
}

// RowFromReport converts an estimate to report units
func RowFromReport(r uptime.Report) Row {
	return Row{
		StoreID:          r.StoreID,
		UptimeLastHour:   r.LastHour.UptimeMinutes,
		UptimeLastDay:    r.LastDay.UptimeHours(),
		UptimeLastWeek:   r.LastWeek.UptimeHours(),
		DowntimeLastHour: r.LastHour.DowntimeMinutes,
		DowntimeLastDay:  r.LastDay.DowntimeHours(),
		DowntimeLastWeek: r.LastWeek.DowntimeHours(),
	}
}

func (r Row) values() []float64 {
	return []float64{
		r.UptimeLastHour, r.UptimeLastDay, r.UptimeLastWeek,
		r.DowntimeLastHour, r.DowntimeLastDay, r.DowntimeLastWeek,
	}
}

// Meta describes the report a file belongs to
type Meta struct {
	ReportID         uuid.UUID
	ReferenceTime    time.Time
	StoreCount       int
	FailedStoreCount int
}

// Writer renders report rows into a file format
type Writer interface {
	Write(w io.Writer, meta Meta, rows []Row) error
	Ext() string
}

// NewWriter returns the writer for format ("csv" or "xlsx")
func NewWriter(format string) (Writer, error) {
	switch format {
	case "csv", "":
		return CSVWriter{}, nil
	case "xlsx":
		return XLSXWriter{}, nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// CSVWriter writes the seven-column CSV report
type CSVWriter struct{}

func (CSVWriter) Ext() string { return "csv" }

func (CSVWriter) Write(w io.Writer, _ Meta, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}

	record := make([]string, len(Header))
	for _, r := range rows {
		record[0] = r.StoreID.String()
		for i, v := range r.values() {
			record[i+1] = formatAmount(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// XLSXWriter writes the report as a workbook with a summary sheet
type XLSXWriter struct{}

func (XLSXWriter) Ext() string { return "xlsx" }

const (
	sheetReport  = "Report"
	sheetSummary = "Summary"
)

func (XLSXWriter) Write(w io.Writer, meta Meta, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetReport); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	amount, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return err
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetReport, "A1", &header); err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetReport, 1, 1, bold); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		line := []any{r.StoreID.String()}
		for _, v := range r.values() {
			line = append(line, round2(v))
		}
		if err := f.SetSheetRow(sheetReport, cell, &line); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(Header), len(rows)+1)
		if err := f.SetCellStyle(sheetReport, "B2", last, amount); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetReport, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetReport, "B", "G", 30); err != nil {
		return err
	}
	if err := f.SetPanes(sheetReport, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}
	summary := [][]any{
		{"report_id", meta.ReportID.String()},
		{"reference_time_utc", meta.ReferenceTime.UTC().Format(time.RFC3339)},
		{"store_count", meta.StoreCount},
		{"failed_store_count", meta.FailedStoreCount},
	}
	for i, line := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetSummary, cell, &line); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetSummary, "A", "B", 38); err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func round2(v float64) float64 {
	f, _ := strconv.ParseFloat(formatAmount(v), 64)
	return f
}
