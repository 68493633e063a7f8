package availability

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrDayClosed is returned when the tenant has no business hours
	// configured for the requested weekday. The engine fails closed.
	ErrDayClosed = errors.New("availability: no business hours for day")
	// ErrDurationTooLong is returned when the requested duration cannot fit
	// inside the business day at all, so callers can phrase the reply
	// distinctly from an ordinary fully-booked day.
	ErrDurationTooLong = errors.New("availability: duration exceeds business hours")
)

// Interval is a half-open [Start, End) time range during which the resource
// is unavailable. Busy intervals have no identity beyond their bounds.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Slot is a candidate appointment window of fixed duration.
type Slot struct {
	// StartLocal is the wall-clock start in the tenant timezone.
	StartLocal time.Time `json:"start_local"`
	// Start and End are the absolute instants of the window.
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Label           string    `json:"label"`
}

// Window is the open interval of one business day, in minutes from midnight.
type Window struct {
	OpenMinute  int
	CloseMinute int
}

// SlotsForDay generates every offerable slot of the requested duration on the
// given civil date. The date's year, month and day are interpreted in loc.
//
// Busy intervals from any source (local appointments, external calendar) are
// subtracted from the business-hours interval in one sorted pass, then slot
// start candidates are placed at step boundaries inside each free interval.
// Conversion from wall time to instant goes through the location so daylight
// saving transitions resolve correctly. The result is ordered by start time
// and unbounded; presentation caps belong to the caller.
func SlotsForDay(date time.Time, loc *time.Location, window Window, duration, step time.Duration, busy []Interval) ([]Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	if step <= 0 {
		step = 30 * time.Minute
	}
	if window.CloseMinute <= window.OpenMinute {
		return nil, ErrDayClosed
	}

	year, month, day := date.In(loc).Date()
	open := civilTime(year, month, day, window.OpenMinute, loc)
	closing := civilTime(year, month, day, window.CloseMinute, loc)

	if closing.Sub(open) < duration {
		return nil, ErrDurationTooLong
	}

	free := subtractBusy(Interval{Start: open, End: closing}, mergeIntervals(busy))

	var slots []Slot
	for _, interval := range free {
		for start := alignUp(interval.Start, open, step); !start.Add(duration).After(interval.End); start = start.Add(step) {
			local := start.In(loc)
			slots = append(slots, Slot{
				StartLocal:      local,
				Start:           start,
				End:             start.Add(duration),
				DurationMinutes: int(duration / time.Minute),
				Label:           local.Format("Mon Jan 2 at 3:04 PM"),
			})
		}
	}

	return slots, nil
}

// Fits reports whether the window [start, start+duration) avoids every busy
// interval. It is the narrow recheck used at commit time.
func Fits(start time.Time, duration time.Duration, busy []Interval) bool {
	candidate := Interval{Start: start, End: start.Add(duration)}
	for _, interval := range busy {
		if candidate.Overlaps(interval) {
			return false
		}
	}
	return true
}

// civilTime converts a civil date plus minutes-from-midnight into an instant
// through the location, never via naive hour arithmetic.
func civilTime(year int, month time.Month, day, minute int, loc *time.Location) time.Time {
	return time.Date(year, month, day, minute/60, minute%60, 0, 0, loc)
}

// mergeIntervals sorts busy intervals by start and coalesces overlaps.
func mergeIntervals(busy []Interval) []Interval {
	if len(busy) == 0 {
		return nil
	}

	sorted := make([]Interval, 0, len(busy))
	for _, interval := range busy {
		if !interval.End.After(interval.Start) {
			continue
		}
		sorted = append(sorted, interval)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	for _, interval := range sorted {
		if len(merged) == 0 || interval.Start.After(merged[len(merged)-1].End) {
			merged = append(merged, interval)
			continue
		}
		if interval.End.After(merged[len(merged)-1].End) {
			merged[len(merged)-1].End = interval.End
		}
	}

	return merged
}

// subtractBusy removes merged busy intervals from the open interval in one
// pass, producing the ordered free-interval list.
func subtractBusy(open Interval, merged []Interval) []Interval {
	free := make([]Interval, 0, len(merged)+1)
	cursor := open.Start

	for _, interval := range merged {
		if !interval.Start.Before(open.End) {
			break
		}
		if !interval.End.After(cursor) {
			continue
		}
		if interval.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(interval.Start, open.End)})
		}
		if interval.End.After(cursor) {
			cursor = interval.End
		}
	}

	if cursor.Before(open.End) {
		free = append(free, Interval{Start: cursor, End: open.End})
	}

	return free
}

// alignUp rounds start up to the next step boundary measured from origin.
func alignUp(start, origin time.Time, step time.Duration) time.Time {
	if !start.After(origin) {
		return origin
	}
	offset := start.Sub(origin)
	if remainder := offset % step; remainder != 0 {
		offset += step - remainder
	}
	return origin.Add(offset)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
