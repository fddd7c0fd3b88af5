package models

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start" db:"start_at"`
	End   time.Time `json:"end" db:"end_at"`
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether the interval has positive length.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps reports whether two half-open intervals intersect. Adjacent
// intervals (a.End == b.Start) do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

func (i Interval) Contains(point time.Time) bool {
	return !point.Before(i.Start) && point.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) DurationMinutes() int {
	return int(i.Duration() / time.Minute)
}

// Overlap returns the intersection of two intervals. ok is false when the
// intervals do not overlap.
func (i Interval) Overlap(other Interval) (Interval, bool) {
	if !i.Overlaps(other) {
		return Interval{}, false
	}
	result := i
	if other.Start.After(result.Start) {
		result.Start = other.Start
	}
	if other.End.Before(result.End) {
		result.End = other.End
	}
	return result, true
}
