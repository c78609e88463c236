package uptime

import (
	"math"
	"time"

	"github.com/smukkama/store-monitor/internal/schedule"
)

// Overlap is the intersection of a UTC span with one day's business hours
type Overlap struct {
	Within  bool
	Start   time.Time // UTC
	End     time.Time // UTC
	Minutes float64
}

// RoundedMinutes returns the overlap rounded to the nearest whole minute
func (o Overlap) RoundedMinutes() int {
	return int(math.Round(o.Minutes))
}

// ComputeOverlap intersects [start, end] with the business hours of the local
// weekday on which the span starts. Only that single day's rule is consulted;
// use PossibleMinutes for spans that cross local midnight.
func ComputeOverlap(start, end time.Time, loc *time.Location, table schedule.Table) Overlap {
	if !start.Before(end) {
		return Overlap{}
	}

	startLocal := start.In(loc)
	endLocal := end.In(loc)

	rule := table.For(startLocal.Weekday())
	open := rule.Open.On(startLocal)
	closing := rule.Close.On(startLocal)

	if rule.Overnight() {
		// After midnight but before closing belongs to the shift that opened
		// the previous evening.
		if schedule.ClockOf(startLocal).Before(rule.Close) {
			open = open.AddDate(0, 0, -1)
		} else {
			closing = closing.AddDate(0, 0, 1)
		}
	}

	lo := startLocal
	if open.After(lo) {
		lo = open
	}
	hi := endLocal
	if closing.Before(hi) {
		hi = closing
	}

	if !lo.Before(hi) {
		return Overlap{}
	}

	return Overlap{
		Within:  true,
		Start:   lo.UTC(),
		End:     hi.UTC(),
		Minutes: hi.Sub(lo).Minutes(),
	}
}

// PossibleMinutes returns the business-hours minutes inside [start, end],
// splitting the span at local midnights so each piece is matched against its
// own weekday's rule. Overnight rules also split at their close clock, which
// separates the shift that opened the previous evening from the next one.
func PossibleMinutes(start, end time.Time, loc *time.Location, table schedule.Table) float64 {
	var total float64
	for cur := start; cur.Before(end); {
		l := cur.In(loc)
		next := time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, loc)
		if rule := table.For(l.Weekday()); rule.Overnight() && schedule.ClockOf(l).Before(rule.Close) {
			if closing := rule.Close.On(l); closing.Before(next) {
				next = closing
			}
		}
		if next.After(end) {
			next = end
		}
		total += ComputeOverlap(cur, next, loc, table).Minutes
		cur = next
	}
	return total
}
