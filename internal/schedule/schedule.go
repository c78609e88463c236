// Package schedule models a store's recurring weekly business hours.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedSchedule is returned when business-hour rows cannot form a table
var ErrMalformedSchedule = errors.New("malformed business hours")

// Clock is a local time of day with second precision
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// EndOfDay is the last second of a local day
var EndOfDay = Clock{Hour: 23, Minute: 59, Second: 59}

// ParseClock parses "HH:MM" or "HH:MM:SS" (fractional seconds are dropped)
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("invalid time of day: %q", s)
	}

	if len(parts) == 3 {
		// "12:30:00.000000" from a CSV export
		parts[2], _, _ = strings.Cut(parts[2], ".")
	}

	var fields [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Clock{}, fmt.Errorf("invalid time of day: %q", s)
		}
		fields[i] = v
	}

	c := Clock{Hour: fields[0], Minute: fields[1], Second: fields[2]}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 || c.Second < 0 || c.Second > 59 {
		return Clock{}, fmt.Errorf("time of day out of range: %q", s)
	}
	return c, nil
}

// ClockOf returns the wall-clock time of day of t in its own location
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// Offset returns the duration since local midnight
func (c Clock) Offset() time.Duration {
	return time.Duration(c.Hour)*time.Hour + time.Duration(c.Minute)*time.Minute + time.Duration(c.Second)*time.Second
}

// Before reports whether c is strictly earlier in the day than o
func (c Clock) Before(o Clock) bool {
	return c.Offset() < o.Offset()
}

// On anchors c onto the calendar date of day, in day's location
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, c.Second, 0, day.Location())
}

// Add shifts c by d, wrapping around midnight
func (c Clock) Add(d time.Duration) Clock {
	off := (c.Offset() + d) % (24 * time.Hour)
	if off < 0 {
		off += 24 * time.Hour
	}
	secs := int(off / time.Second)
	return Clock{Hour: secs / 3600, Minute: secs % 3600 / 60, Second: secs % 60}
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Rule is one day's local open/close interval. Day is Monday-indexed (0=Monday).
type Rule struct {
	Day   int
	Open  Clock
	Close Clock
}

// Overnight reports whether the interval crosses local midnight
func (r Rule) Overnight() bool {
	return !r.Open.Before(r.Close)
}

// Contains reports whether the local time of day c is inside the rule,
// bounds included
func (r Rule) Contains(c Clock) bool {
	if r.Overnight() {
		return !c.Before(r.Open) || !r.Close.Before(c)
	}
	return !c.Before(r.Open) && !r.Close.Before(c)
}

// Table holds one rule per weekday, Monday first
type Table [7]Rule

// AllDay is the rule applied to weekdays without a configured row
func AllDay(day int) Rule {
	return Rule{Day: day, Open: Clock{}, Close: Clock{Hour: 23, Minute: 59}}
}

// Default returns a table that is open all day, every day
func Default() Table {
	var t Table
	for d := range t {
		t[d] = AllDay(d)
	}
	return t
}

// New builds a table from configured rules; days without a rule keep the
// all-day default
func New(rules []Rule) (Table, error) {
	t := Default()
	var seen [7]bool
	for _, r := range rules {
		if r.Day < 0 || r.Day > 6 {
			return Table{}, fmt.Errorf("%w: day_of_week %d out of range", ErrMalformedSchedule, r.Day)
		}
		if seen[r.Day] {
			return Table{}, fmt.Errorf("%w: duplicate rule for day_of_week %d", ErrMalformedSchedule, r.Day)
		}
		seen[r.Day] = true
		t[r.Day] = r
	}
	return t, nil
}

// DayIndex converts a Go weekday (Sunday=0) to the Monday-indexed day
func DayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// For returns the rule for the given weekday
func (t Table) For(wd time.Weekday) Rule {
	return t[DayIndex(wd)]
}

// Open reports whether the local instant falls within that day's business hours
func (t Table) Open(local time.Time) bool {
	return t.For(local.Weekday()).Contains(ClockOf(local))
}
