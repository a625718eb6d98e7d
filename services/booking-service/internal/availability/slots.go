package availability

import (
	"sort"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// GridStride is the spacing of bookable start times in minutes, anchored at 00:00.
const GridStride = 30

// Interval is a half-open span [Start, End) within one day.
type Interval struct {
	Start model.Clock
	End   model.Clock
}

func (i Interval) overlaps(start, end model.Clock) bool {
	// Half-open intervals: [start,end) overlaps [i.Start,i.End) iff start < i.End && i.Start < end.
	return start < i.End && i.Start < end
}

// Union merges overlapping and adjacent intervals and returns them sorted.
func Union(intervals []Interval) []Interval {
	in := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.End > iv.Start {
			in = append(in, iv)
		}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start < in[j].Start })

	var out []Interval
	for _, iv := range in {
		if n := len(out); n > 0 && iv.Start <= out[n-1].End {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// OnGrid reports whether start falls on the booking grid.
func OnGrid(start model.Clock) bool {
	return start >= 0 && int(start)%GridStride == 0
}

// Fits reports whether [start, start+duration) lies inside one window and
// does not intersect any busy interval. Windows must already be merged.
func Fits(windows, busy []Interval, start model.Clock, duration int) bool {
	if duration <= 0 {
		return false
	}
	end := start.Add(duration)
	inside := false
	for _, w := range windows {
		if start >= w.Start && end <= w.End {
			inside = true
			break
		}
	}
	if !inside {
		return false
	}
	return !overlapsAny(start, end, busy)
}

// AvailableSlots returns grid start times t >= notBefore such that a booking of
// length duration fits inside windows without overlapping busy.
func AvailableSlots(windows []Interval, duration int, busy []Interval, notBefore model.Clock) []model.Clock {
	if duration <= 0 {
		return nil
	}
	windows = Union(windows)

	slots := []model.Clock{}
	for _, w := range windows {
		first := w.Start
		if rem := int(first) % GridStride; rem != 0 {
			first = first.Add(GridStride - rem)
		}
		for t := first; t.Add(duration) <= w.End; t = t.Add(GridStride) {
			if t < notBefore {
				continue
			}
			if !overlapsAny(t, t.Add(duration), busy) {
				slots = append(slots, t)
			}
		}
	}
	return slots
}

func overlapsAny(start, end model.Clock, busy []Interval) bool {
	for _, b := range busy {
		if b.overlaps(start, end) {
			return true
		}
	}
	return false
}

// BusyIntervals returns the slot-holding spans of appts, skipping excludeID.
func BusyIntervals(appts []model.Appointment, excludeID string) []Interval {
	busy := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a.ID == excludeID || !a.Status.Holding() {
			continue
		}
		busy = append(busy, Interval{Start: a.Start, End: a.End()})
	}
	return busy
}

func WorkingWindows(hours []model.WorkingHour) []Interval {
	windows := make([]Interval, 0, len(hours))
	for _, h := range hours {
		if !h.Available {
			continue
		}
		windows = append(windows, Interval{Start: h.Start, End: h.End})
	}
	return Union(windows)
}
