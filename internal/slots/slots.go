// Package slots proposes free meeting times from an owner's busy calendar.
package slots

import (
	"sort"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

const (
	DefaultDayStartHour  = 9
	DefaultDayEndHour    = 17
	DefaultMaxCandidates = 5
	DefaultDuration      = 60 * time.Minute
)

// Options configures Generate. Zero values fall back to the defaults above.
type Options struct {
	Duration      time.Duration
	Location      *time.Location
	DayStartHour  int
	DayEndHour    int
	MaxCandidates int
}

func (o Options) withDefaults() Options {
	if o.Duration <= 0 {
		o.Duration = DefaultDuration
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DayStartHour == 0 && o.DayEndHour == 0 {
		o.DayStartHour, o.DayEndHour = DefaultDayStartHour, DefaultDayEndHour
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = DefaultMaxCandidates
	}
	return o
}

// Generate scans weekdays between rangeStart and rangeEnd in chronological
// order and returns the earliest hour-aligned slots of opts.Duration that sit
// inside business hours and overlap no busy interval. It stops after
// opts.MaxCandidates slots.
func Generate(busy []task.TimeSlot, rangeStart, rangeEnd time.Time, opts Options) []task.TimeSlot {
	opts = opts.withDefaults()
	loc := opts.Location

	start := ceilHour(rangeStart.In(loc))
	end := rangeEnd.In(loc)
	if !start.Before(end) {
		return nil
	}

	sorted := make([]task.TimeSlot, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var out []task.TimeSlot
	for day := dateOf(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		if isWeekend(day) {
			continue
		}
		dayEnd := time.Date(day.Year(), day.Month(), day.Day(), opts.DayEndHour, 0, 0, 0, loc)
		for h := opts.DayStartHour; h < opts.DayEndHour; h++ {
			slot := task.TimeSlot{Start: time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, loc)}
			slot.End = slot.Start.Add(opts.Duration)
			if slot.Start.Before(start) {
				continue
			}
			if slot.End.After(dayEnd) {
				break
			}
			if slot.End.After(end) {
				return out
			}
			if conflicts(slot, sorted) {
				continue
			}
			out = append(out, slot)
			if len(out) >= opts.MaxCandidates {
				return out
			}
		}
	}
	return out
}

func conflicts(slot task.TimeSlot, busy []task.TimeSlot) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}

func ceilHour(t time.Time) time.Time {
	floor := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	if floor.Equal(t) {
		return floor
	}
	return floor.Add(time.Hour)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
