package uptime

import (
	"fmt"
	"time"

	"github.com/smukkama/store-monitor/internal/schedule"
)

// BucketOrigin aligns bucket boundaries, matching the database's date_bin origin
var BucketOrigin = time.Date(2000, 1, 3, 0, 0, 0, 0, time.UTC)

// DefaultBucketWidth is the bucket size used for day and week windows
const DefaultBucketWidth = 2 * time.Hour

// BucketStart returns the aligned start of the bucket containing t
func BucketStart(t time.Time, width time.Duration) time.Time {
	offset := t.Sub(BucketOrigin)
	n := offset / width
	if offset < 0 && offset%width != 0 {
		n--
	}
	return BucketOrigin.Add(n * width).In(time.UTC)
}

// PointTally counts in-hours observations for the point strategy
type PointTally struct {
	Active   int
	Inactive int
}

// Total returns the number of counted observations
func (p PointTally) Total() int {
	return p.Active + p.Inactive
}

// Fraction returns the active share; ok is false when nothing was counted
func (p PointTally) Fraction() (frac float64, ok bool) {
	if p.Total() == 0 {
		return 0, false
	}
	return float64(p.Active) / float64(p.Total()), true
}

// TallyPoints classifies every observation whose local instant is within
// business hours
func TallyPoints(obs []Observation, loc *time.Location, table schedule.Table) PointTally {
	var tally PointTally
	for _, o := range obs {
		if !table.Open(o.Timestamp.In(loc)) {
			continue
		}
		switch o.Status {
		case StatusActive:
			tally.Active++
		case StatusInactive:
			tally.Inactive++
		}
	}
	return tally
}

// EmptyBucketPolicy decides what a bucket without any evidence contributes
type EmptyBucketPolicy string

const (
	// PolicyNeutral splits the bucket's business minutes 50/50
	PolicyNeutral EmptyBucketPolicy = "neutral"
	// PolicySkip attributes neither uptime nor downtime
	PolicySkip EmptyBucketPolicy = "skip"
)

// ParseEmptyBucketPolicy validates a configured policy name
func ParseEmptyBucketPolicy(s string) (EmptyBucketPolicy, error) {
	switch EmptyBucketPolicy(s) {
	case PolicyNeutral, PolicySkip:
		return EmptyBucketPolicy(s), nil
	case "":
		return PolicyNeutral, nil
	default:
		return "", fmt.Errorf("unknown empty bucket policy %q", s)
	}
}

// Bucket is one fixed-width slice of a bucketed window
type Bucket struct {
	Slot     time.Time // aligned start
	Start    time.Time // clipped to the window
	End      time.Time
	Active   int
	Inactive int
	Observed bool // counts came from the bucket's own observations
	Possible float64
	Uptime   float64
	Downtime float64
}

// Evidence reports whether the bucket has any (own or carried) counts
func (b Bucket) Evidence() bool {
	return b.Active+b.Inactive > 0
}

// BucketGrid partitions [from, to) into aligned buckets clipped to the range
func BucketGrid(from, to time.Time, width time.Duration) []Bucket {
	var grid []Bucket
	for slot := BucketStart(from, width); slot.Before(to); slot = slot.Add(width) {
		b := Bucket{Slot: slot, Start: slot, End: slot.Add(width)}
		if b.Start.Before(from) {
			b.Start = from
		}
		if b.End.After(to) {
			b.End = to
		}
		grid = append(grid, b)
	}
	return grid
}

// CountBuckets groups observations with from <= timestamp < to into aligned
// buckets, returning only non-empty ones in order
func CountBuckets(obs []Observation, from, to time.Time, width time.Duration) []BucketCount {
	var out []BucketCount
	index := make(map[int64]int)
	for _, o := range obs {
		if o.Timestamp.Before(from) || !o.Timestamp.Before(to) {
			continue
		}
		slot := BucketStart(o.Timestamp, width)
		i, ok := index[slot.UnixNano()]
		if !ok {
			i = len(out)
			index[slot.UnixNano()] = i
			out = append(out, BucketCount{Start: slot})
		}
		switch o.Status {
		case StatusActive:
			out[i].Active++
		case StatusInactive:
			out[i].Inactive++
		}
	}
	return out
}

// GapFill carries the last observed bucket's counts forward into empty
// buckets. Empty buckets before the first observed one stay at zero.
func GapFill(buckets []Bucket) {
	var last *Bucket
	for i := range buckets {
		b := &buckets[i]
		if b.Observed && b.Evidence() {
			last = b
			continue
		}
		if last != nil {
			b.Active = last.Active
			b.Inactive = last.Inactive
		}
	}
}

// Aggregate is the result of the bucketed strategy
type Aggregate struct {
	Buckets  []Bucket
	Uptime   float64
	Downtime float64
	Possible float64
}

// UptimePercent returns uptime over possible minutes, 0 when nothing was possible
func (a Aggregate) UptimePercent() float64 {
	return percent(a.Uptime, a.Possible)
}

// Bucketer runs the bucketed strategy for one store's schedule
type Bucketer struct {
	Width    time.Duration
	Location *time.Location
	Table    schedule.Table
	Policy   EmptyBucketPolicy
}

// Aggregate lays counts over the bucket grid of [from, to), gap-fills, and
// attributes each bucket's business-hours minutes
func (bk Bucketer) Aggregate(from, to time.Time, counts []BucketCount) Aggregate {
	width := bk.Width
	if width <= 0 {
		width = DefaultBucketWidth
	}

	grid := BucketGrid(from, to, width)
	index := make(map[int64]int, len(grid))
	for i, b := range grid {
		index[b.Slot.UnixNano()] = i
	}
	for _, c := range counts {
		i, ok := index[BucketStart(c.Start, width).UnixNano()]
		if !ok {
			continue
		}
		grid[i].Active += c.Active
		grid[i].Inactive += c.Inactive
		grid[i].Observed = grid[i].Evidence()
	}

	GapFill(grid)

	var agg Aggregate
	for i := range grid {
		b := &grid[i]
		b.Possible = PossibleMinutes(b.Start, b.End, bk.Location, bk.Table)
		if b.Possible == 0 {
			continue
		}

		switch {
		case b.Evidence():
			b.Uptime = b.Possible * float64(b.Active) / float64(b.Active+b.Inactive)
			b.Downtime = b.Possible - b.Uptime
		case bk.Policy == PolicySkip:
			// no evidence and nothing to carry forward
		default:
			b.Uptime = b.Possible / 2
			b.Downtime = b.Possible / 2
		}

		agg.Possible += b.Possible
		agg.Uptime += b.Uptime
		agg.Downtime += b.Downtime
	}
	agg.Buckets = grid
	return agg
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	p := part / whole * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
