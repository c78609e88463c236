package uptime

import (
	"math"
	"testing"
	"time"

	"github.com/smukkama/store-monitor/internal/schedule"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q) failed: %v", name, err)
	}
	return loc
}

func overnightTable() schedule.Table {
	var table schedule.Table
	for d := range table {
		table[d] = schedule.Rule{
			Day:   d,
			Open:  schedule.Clock{Hour: 22},
			Close: schedule.Clock{Hour: 6},
		}
	}
	return table
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeOverlap_EmptySpan(t *testing.T) {
	start := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

	for _, end := range []time.Time{start, start.Add(-time.Minute)} {
		got := ComputeOverlap(start, end, time.UTC, schedule.Default())
		if got.Within || got.Minutes != 0 {
			t.Errorf("ComputeOverlap(%v, %v) = %+v, want no overlap", start, end, got)
		}
	}
}

func TestComputeOverlap_AllDay(t *testing.T) {
	loc := mustLoad(t, "America/Chicago")
	table := schedule.Default()

	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"morning", time.Date(2024, 3, 12, 8, 0, 0, 0, loc), time.Date(2024, 3, 12, 9, 0, 0, 0, loc)},
		{"afternoon", time.Date(2024, 3, 12, 13, 15, 0, 0, loc), time.Date(2024, 3, 12, 17, 45, 0, 0, loc)},
		{"from midnight", time.Date(2024, 3, 12, 0, 0, 0, 0, loc), time.Date(2024, 3, 12, 3, 30, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeOverlap(tt.start.UTC(), tt.end.UTC(), loc, table)
			want := tt.end.Sub(tt.start).Minutes()
			if !got.Within || !approx(got.Minutes, want) {
				t.Errorf("overlap = %+v, want %.0f minutes", got, want)
			}
			if got.RoundedMinutes() != int(want) {
				t.Errorf("RoundedMinutes = %d, want %d", got.RoundedMinutes(), int(want))
			}
		})
	}
}

func TestComputeOverlap_Overnight(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	table := overnightTable()

	start := time.Date(2024, 3, 12, 23, 0, 0, 0, loc)
	end := time.Date(2024, 3, 13, 1, 0, 0, 0, loc)
	got := ComputeOverlap(start.UTC(), end.UTC(), loc, table)
	if !got.Within || !approx(got.Minutes, 120) {
		t.Errorf("23:00-01:00 overlap = %+v, want 120 minutes", got)
	}
	if !got.Start.Equal(start) || !got.End.Equal(end) {
		t.Errorf("clipped bounds = %v-%v, want %v-%v", got.Start, got.End, start, end)
	}
	if got.Start.Location() != time.UTC {
		t.Errorf("clipped bounds should be UTC, got %v", got.Start.Location())
	}

	morning := ComputeOverlap(
		time.Date(2024, 3, 12, 7, 0, 0, 0, loc),
		time.Date(2024, 3, 12, 8, 0, 0, 0, loc),
		loc, table,
	)
	if morning.Within || morning.Minutes != 0 {
		t.Errorf("07:00-08:00 overlap = %+v, want none", morning)
	}

	early := ComputeOverlap(
		time.Date(2024, 3, 12, 4, 0, 0, 0, loc),
		time.Date(2024, 3, 12, 7, 0, 0, 0, loc),
		loc, table,
	)
	if !approx(early.Minutes, 120) {
		t.Errorf("04:00-07:00 overlap = %v minutes, want 120", early.Minutes)
	}
}

func TestComputeOverlap_Idempotent(t *testing.T) {
	loc := mustLoad(t, "Asia/Kolkata")
	table := overnightTable()
	start := time.Date(2024, 3, 12, 20, 0, 0, 0, loc)
	end := time.Date(2024, 3, 13, 2, 0, 0, 0, loc)

	first := ComputeOverlap(start, end, loc, table)
	for i := 0; i < 3; i++ {
		if again := ComputeOverlap(start, end, loc, table); again != first {
			t.Fatalf("run %d = %+v, want %+v", i, again, first)
		}
	}
}

func TestPossibleMinutes_SplitsAtMidnight(t *testing.T) {
	loc := mustLoad(t, "America/New_York")

	start := time.Date(2024, 3, 12, 23, 0, 0, 0, loc)
	end := time.Date(2024, 3, 13, 1, 0, 0, 0, loc)
	if got := PossibleMinutes(start, end, loc, overnightTable()); !approx(got, 120) {
		t.Errorf("overnight possible = %v, want 120", got)
	}

	// Tuesday closed all evening, Wednesday opens at 00:30
	rules := []schedule.Rule{
		{Day: 1, Open: schedule.Clock{Hour: 9}, Close: schedule.Clock{Hour: 17}},
		{Day: 2, Open: schedule.Clock{Minute: 30}, Close: schedule.Clock{Hour: 17}},
	}
	table, err := schedule.New(rules)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := PossibleMinutes(start, end, loc, table); !approx(got, 30) {
		t.Errorf("split possible = %v, want 30", got)
	}
}

func TestPossibleMinutes_OvernightCloseAndReopen(t *testing.T) {
	rules := make([]schedule.Rule, 7)
	for d := range rules {
		rules[d] = schedule.Rule{Day: d, Open: schedule.Clock{Hour: 10}, Close: schedule.Clock{Hour: 9, Minute: 30}}
	}
	table, err := schedule.New(rules)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// open until 09:30, closed half an hour, open again from 10:00
	start := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC)
	if got := PossibleMinutes(start, end, time.UTC, table); !approx(got, 90) {
		t.Errorf("possible = %v, want 90", got)
	}
}

func TestPossibleMinutes_FullWeekAllDay(t *testing.T) {
	ref := time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC)
	got := PossibleMinutes(ref.AddDate(0, 0, -7), ref, time.UTC, schedule.Default())
	// 00:00-23:59 loses the final minute of each of the seven days
	if !approx(got, 7*1440-7) {
		t.Errorf("week possible = %v, want %d", got, 7*1440-7)
	}
}
