package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in   string
		want Clock
		ok   bool
	}{
		{"09:00", Clock{9, 0, 0}, true},
		{"22:30:15", Clock{22, 30, 15}, true},
		{"00:00:00.000000", Clock{}, true},
		{" 7:05 ", Clock{7, 5, 0}, true},
		{"24:00", Clock{}, false},
		{"12", Clock{}, false},
		{"ab:cd", Clock{}, false},
	}

	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.ok && err != nil {
			t.Errorf("ParseClock(%q) failed: %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.in)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestClockAddWraps(t *testing.T) {
	c := Clock{Hour: 23, Minute: 30}
	if got := c.Add(time.Hour); got != (Clock{Hour: 0, Minute: 30}) {
		t.Errorf("Expected 00:30:00, got %s", got)
	}
	if got := (Clock{Hour: 0, Minute: 15}).Add(-time.Hour); got != (Clock{Hour: 23, Minute: 15}) {
		t.Errorf("Expected 23:15:00, got %s", got)
	}
}

func TestRuleContains(t *testing.T) {
	day := Rule{Open: Clock{Hour: 9}, Close: Clock{Hour: 17}}
	if day.Overnight() {
		t.Fatal("09-17 should not be overnight")
	}
	if !day.Contains(Clock{Hour: 9}) || !day.Contains(Clock{Hour: 17}) {
		t.Error("Bounds should be included")
	}
	if day.Contains(Clock{Hour: 8, Minute: 59, Second: 59}) {
		t.Error("08:59:59 should be closed")
	}

	night := Rule{Open: Clock{Hour: 22}, Close: Clock{Hour: 6}}
	if !night.Overnight() {
		t.Fatal("22-06 should be overnight")
	}
	for _, c := range []Clock{{Hour: 23}, {Hour: 1}, {Hour: 6}, {Hour: 22}} {
		if !night.Contains(c) {
			t.Errorf("Expected %s to be open", c)
		}
	}
	if night.Contains(Clock{Hour: 7}) {
		t.Error("07:00 should be closed")
	}

	same := Rule{Open: Clock{Hour: 10}, Close: Clock{Hour: 10}}
	if !same.Overnight() {
		t.Error("Equal open and close should count as overnight")
	}
}

func TestNewFillsDefaults(t *testing.T) {
	table, err := New([]Rule{{Day: 2, Open: Clock{Hour: 10}, Close: Clock{Hour: 18}}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if table[2].Open != (Clock{Hour: 10}) {
		t.Errorf("Expected Wednesday to open at 10:00, got %s", table[2].Open)
	}
	if table[0] != AllDay(0) {
		t.Errorf("Expected Monday default, got %+v", table[0])
	}
}

func TestNewRejectsMalformedRows(t *testing.T) {
	if _, err := New([]Rule{{Day: 7}}); !errors.Is(err, ErrMalformedSchedule) {
		t.Errorf("Expected ErrMalformedSchedule for day 7, got %v", err)
	}
	if _, err := New([]Rule{{Day: 1}, {Day: 1}}); !errors.Is(err, ErrMalformedSchedule) {
		t.Errorf("Expected ErrMalformedSchedule for duplicate day, got %v", err)
	}
}

func TestTableOpenUsesMondayIndex(t *testing.T) {
	// Sunday closed in the morning only
	table, _ := New([]Rule{{Day: 6, Open: Clock{Hour: 12}, Close: Clock{Hour: 20}}})

	sunday := time.Date(2024, 10, 13, 10, 0, 0, 0, time.UTC)
	if sunday.Weekday() != time.Sunday {
		t.Fatalf("Fixture is not a Sunday: %s", sunday.Weekday())
	}
	if table.Open(sunday) {
		t.Error("Sunday 10:00 should be closed")
	}
	if !table.Open(sunday.Add(24 * time.Hour)) {
		t.Error("Monday 10:00 should be open with the default rule")
	}
	if DayIndex(time.Monday) != 0 || DayIndex(time.Sunday) != 6 {
		t.Error("DayIndex should be Monday-indexed")
	}
}
