// Package recurrence expands event definitions into concrete occurrences
// inside a UTC window. Two interchangeable strategies exist: general RRULE
// expansion via rrule-go, and an O(weeks) fast path for weekly bitmask
// patterns. RDATE/EXDATE entries and per-occurrence overrides are applied on
// top of the base expansion in a fixed order.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/timezone"
)

// Engine expands recurrence definitions and applies overrides.
type Engine struct {
	config EngineConfig
}

// NewEngine creates an engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// NewEngineWithConfig creates an engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{config: config}
}

// Expand produces the occurrences of one event inside [windowStart,
// windowEnd], both bounds inclusive, with the event's overrides applied.
// The resolution order is fixed: base generation, then RDATE additions, then
// EXDATE removals, then cancellations, then moves. Reordering changes results
// when an exclusion and a re-inclusion coincide at the same instant.
func (e *Engine) Expand(
	ev *storage.EventMaster,
	overrides []*storage.OccurrenceOverride,
	windowStart, windowEnd time.Time,
) (*Expansion, error) {
	loc, err := timezone.LoadZone(ev.TZID)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	anchorWall, err := timezone.ParseLocal(ev.StartLocal)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	base, truncated, err := e.expandBase(ev, anchorWall, loc, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	resolved := resolveOverrides(ev, loc, base, overrides, windowStart, windowEnd)

	return &Expansion{Occurrences: resolved, Truncated: truncated}, nil
}

// expandBase generates the occurrences of the event's own recurrence pattern,
// before RDATE/EXDATE and overrides.
func (e *Engine) expandBase(
	ev *storage.EventMaster,
	anchorWall time.Time,
	loc *time.Location,
	windowStart, windowEnd time.Time,
) ([]Occurrence, bool, error) {
	switch rec := ev.Recurrence.(type) {
	case nil, storage.NoRecurrence:
		return e.expandSingle(ev, anchorWall, loc, windowStart, windowEnd), false, nil
	case storage.RuleRecurrence:
		return e.expandRule(ev, rec, anchorWall, loc, windowStart, windowEnd)
	case storage.WeeklyRecurrence:
		return e.expandWeekly(ev, rec, anchorWall, loc, windowStart, windowEnd)
	default:
		return nil, false, fmt.Errorf("unknown recurrence kind %T", ev.Recurrence)
	}
}

// expandSingle handles non-recurring events: exactly one occurrence, the
// anchor itself, included iff its instant lies in the window.
func (e *Engine) expandSingle(
	ev *storage.EventMaster,
	anchorWall time.Time,
	loc *time.Location,
	windowStart, windowEnd time.Time,
) []Occurrence {
	utc, ok := timezone.ResolveWall(anchorWall, loc)
	if !ok {
		// The anchor wall clock fell into a DST gap; the event simply has
		// no occurrence.
		return nil
	}
	if !inWindow(utc, windowStart, windowEnd) {
		return nil
	}
	return []Occurrence{newOccurrence(ev, utc, ev.Duration, anchorWall)}
}

// expandRule is the general strategy: parse the rule anchored at the event's
// anchor, iterate candidates under the generation budget over a padded
// window, revalidate each candidate's wall clock in the event zone, and
// filter to the requested window.
func (e *Engine) expandRule(
	ev *storage.EventMaster,
	rec storage.RuleRecurrence,
	anchorWall time.Time,
	loc *time.Location,
	windowStart, windowEnd time.Time,
) ([]Occurrence, bool, error) {
	opt, err := rrule.StrToROption(rec.Rule)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse RRULE %q: %w", rec.Rule, err)
	}

	y, m, d := anchorWall.Date()
	hh, mm, ss := anchorWall.Clock()
	opt.Dtstart = time.Date(y, m, d, hh, mm, ss, 0, loc)

	if until, ok := rec.Until.Get(); ok {
		if opt.Until.IsZero() || until.Before(opt.Until) {
			opt.Until = until.In(loc)
		}
	}
	if count, ok := rec.Count.Get(); ok {
		if opt.Count == 0 || count < opt.Count {
			opt.Count = count
		}
	}

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build RRULE %q: %w", rec.Rule, err)
	}

	bufferEnd := windowEnd.Add(e.config.ExpansionPad)
	preserveClock := preservesTimeOfDay(opt.Freq)

	var out []Occurrence
	truncated := false
	generated := 0
	next := rule.Iterator()
	for {
		if generated >= e.config.budget() {
			truncated = true
			break
		}
		cand, ok := next()
		if !ok {
			break
		}
		if cand.After(bufferEnd) {
			break
		}
		generated++

		// Reinterpret the candidate as a wall-clock time in the event zone.
		// A wall clock inside a DST forward gap never happened: skip it.
		utc, exists := timezone.ResolveWall(cand, loc)
		if !exists {
			continue
		}
		// For daily and slower frequencies the time-of-day must match the
		// anchor exactly; a differing clock means the instance was distorted
		// by a DST transition and is dropped, not shifted.
		if preserveClock && !sameClock(cand, anchorWall) {
			continue
		}
		if !inWindow(utc, windowStart, windowEnd) {
			continue
		}
		out = append(out, newOccurrence(ev, utc, ev.Duration, cand))
	}

	return out, truncated, nil
}

// preservesTimeOfDay reports whether instances of the given frequency keep
// the anchor's time-of-day. Sub-daily frequencies legitimately vary the
// clock, so they are exempt from the DST distortion check.
func preservesTimeOfDay(freq rrule.Frequency) bool {
	switch freq {
	case rrule.YEARLY, rrule.MONTHLY, rrule.WEEKLY, rrule.DAILY:
		return true
	default:
		return false
	}
}

func sameClock(a, b time.Time) bool {
	ah, am, as := a.Clock()
	bh, bm, bs := b.Clock()
	return ah == bh && am == bm && as == bs
}

// inWindow reports whether t lies in [start, end], both bounds inclusive.
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func newOccurrence(ev *storage.EventMaster, start time.Time, duration time.Duration, wall time.Time) Occurrence {
	return Occurrence{
		EventID:       ev.ID,
		Start:         start,
		End:           start.Add(duration),
		OriginalLocal: timezone.FormatLocal(wall),
	}
}
