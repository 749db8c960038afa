package recurrence

import (
	"time"

	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/timezone"
)

// resolveOverrides layers RDATE/EXDATE entries and per-occurrence overrides
// on top of the base expansion for one event. The step order is fixed and
// load-bearing: RDATE additions happen before EXDATE removals so that an
// exclusion and a re-inclusion at the same instant cancel out to "excluded".
func resolveOverrides(
	ev *storage.EventMaster,
	loc *time.Location,
	base []Occurrence,
	overrides []*storage.OccurrenceOverride,
	windowStart, windowEnd time.Time,
) []Occurrence {
	occs := base

	// RDATE instants inside the query window contribute occurrences even
	// when the event's own rule never touches the window: an event anchored
	// in September can still place an RDATE occurrence in October.
	for _, rdate := range ev.RDates {
		if !inWindow(rdate, windowStart, windowEnd) {
			continue
		}
		occs = append(occs, Occurrence{
			EventID:       ev.ID,
			Start:         rdate,
			End:           rdate.Add(ev.Duration),
			OriginalLocal: timezone.FormatLocal(rdate.In(loc)),
		})
	}

	// EXDATE removes occurrences at exactly matching UTC instants,
	// RDATE-added ones included.
	if len(ev.ExDates) > 0 {
		occs = filterOccurrences(occs, func(o Occurrence) bool {
			for _, ex := range ev.ExDates {
				if o.Start.Equal(ex) {
					return false
				}
			}
			return true
		})
	}

	effective := effectiveOverrides(overrides)

	// Cancellations, matched on the occurrence's original local time.
	for _, ov := range effective {
		if !ov.Cancelled {
			continue
		}
		target := ov.OriginalLocal
		occs = filterOccurrences(occs, func(o Occurrence) bool {
			return o.OriginalLocal != target
		})
	}

	// Moves and resizes: drop the targeted occurrence, then emit the
	// replacement only when its new instant lies inside the window.
	for _, ov := range effective {
		newStart, hasNewStart := ov.NewStart.Get()
		if ov.Cancelled || !hasNewStart {
			continue
		}
		target := ov.OriginalLocal
		occs = filterOccurrences(occs, func(o Occurrence) bool {
			return o.OriginalLocal != target
		})
		if !inWindow(newStart, windowStart, windowEnd) {
			continue
		}
		duration := ov.NewDuration.OrElse(ev.Duration)
		occs = append(occs, Occurrence{
			EventID:       ev.ID,
			Start:         newStart,
			End:           newStart.Add(duration),
			OriginalLocal: timezone.FormatLocal(newStart.In(loc)),
			OverrideID:    ov.ID,
		})
	}

	return occs
}

// effectiveOverrides reduces the override list to at most one override per
// original local time: the most recently created wins, with id order breaking
// creation-time ties deterministically.
func effectiveOverrides(overrides []*storage.OccurrenceOverride) []*storage.OccurrenceOverride {
	byTarget := make(map[string]*storage.OccurrenceOverride, len(overrides))
	var order []string
	for _, ov := range overrides {
		cur, ok := byTarget[ov.OriginalLocal]
		if !ok {
			byTarget[ov.OriginalLocal] = ov
			order = append(order, ov.OriginalLocal)
			continue
		}
		if ov.Created.After(cur.Created) || (ov.Created.Equal(cur.Created) && ov.ID > cur.ID) {
			byTarget[ov.OriginalLocal] = ov
		}
	}

	out := make([]*storage.OccurrenceOverride, 0, len(byTarget))
	for _, target := range order {
		out = append(out, byTarget[target])
	}
	return out
}

func filterOccurrences(occs []Occurrence, keep func(Occurrence) bool) []Occurrence {
	out := occs[:0]
	for _, o := range occs {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}
