package database

import (
	"errors"
	"testing"
	"time"

	"github.com/smukkama/store-monitor/internal/schedule"
)

func TestBusinessHour_Rule(t *testing.T) {
	bh := BusinessHour{DayOfWeek: 4, StartTime: "22:00:00", EndTime: "02:30:00"}
	rule, err := bh.Rule()
	if err != nil {
		t.Fatalf("Rule failed: %v", err)
	}
	if rule.Day != 4 || rule.Open.Hour != 22 || rule.Close.Minute != 30 {
		t.Errorf("rule = %+v", rule)
	}
	if !rule.Overnight() {
		t.Error("22:00-02:30 should be overnight")
	}
}

func TestBusinessHour_RuleMalformed(t *testing.T) {
	bh := BusinessHour{DayOfWeek: 1, StartTime: "9am", EndTime: "17:00:00"}
	if _, err := bh.Rule(); !errors.Is(err, schedule.ErrMalformedSchedule) {
		t.Errorf("err = %v, want ErrMalformedSchedule", err)
	}
}

func TestIntervalLiteral(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{2 * time.Hour, "7200 seconds"},
		{90 * time.Minute, "5400 seconds"},
	}
	for _, tt := range tests {
		if got := intervalLiteral(tt.in); got != tt.want {
			t.Errorf("intervalLiteral(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
