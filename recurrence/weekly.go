package recurrence

import (
	"time"

	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/timezone"
)

// expandWeekly is the fast path for weekly bitmask patterns: instead of
// driving the rule machinery over every candidate day, it steps calendar
// weeks from the anchor's week and visits only the set weekdays. The
// semantics are those of the equivalent BYDAY rule (WeeklyRecurrence
// .ByDayRule), candidate for candidate: COUNT is consumed at generation,
// before DST validation, and UNTIL cuts the series at the candidate instant.
func (e *Engine) expandWeekly(
	ev *storage.EventMaster,
	rec storage.WeeklyRecurrence,
	anchorWall time.Time,
	loc *time.Location,
	windowStart, windowEnd time.Time,
) ([]Occurrence, bool, error) {
	if rec.Days == 0 {
		return nil, false, nil
	}
	interval := rec.IntervalWeeks
	if interval < 1 {
		interval = 1
	}

	hh, mm, ss := anchorWall.Clock()
	ay, am, ad := anchorWall.Date()
	anchorDate := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	// Weeks start on Sunday; bit 0 of the mask is Sunday.
	weekStart := anchorDate.AddDate(0, 0, -int(anchorDate.Weekday()))

	until, hasUntil := rec.Until.Get()
	countLeft, hasCount := rec.Count.Get()
	bufferEnd := windowEnd.Add(e.config.ExpansionPad)

	var out []Occurrence
	generated := 0
	for ; ; weekStart = weekStart.AddDate(0, 0, 7*interval) {
		if time.Date(weekStart.Year(), weekStart.Month(), weekStart.Day(), 0, 0, 0, 0, loc).After(bufferEnd) {
			return out, false, nil
		}

		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if !rec.Days.Has(wd) {
				continue
			}
			day := weekStart.AddDate(0, 0, int(wd))
			wall := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, ss, 0, time.UTC)
			if wall.Before(anchorWall) {
				// Set weekdays earlier in the anchor's own week predate the
				// series start.
				continue
			}

			// The candidate instant the equivalent rule expansion would
			// produce, used for the UNTIL comparison.
			cand := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, ss, 0, loc)
			if hasUntil && cand.After(until) {
				return out, false, nil
			}
			if hasCount {
				if countLeft <= 0 {
					return out, false, nil
				}
				countLeft--
			}
			if generated >= e.config.budget() {
				return out, true, nil
			}
			generated++

			utc, exists := timezone.ResolveWall(wall, loc)
			if !exists {
				// Anchor time-of-day fell into a DST forward gap on this
				// date; the instance is skipped, not shifted.
				continue
			}
			if !inWindow(utc, windowStart, windowEnd) {
				continue
			}
			out = append(out, newOccurrence(ev, utc, ev.Duration, wall))
		}
	}
}
