package recurrence

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timegrid/occurrence/storage"
)

func expandOctober(t *testing.T, ev *storage.EventMaster, overrides []*storage.OccurrenceOverride) []Occurrence {
	t.Helper()
	exp, err := NewEngine().Expand(ev,
		overrides,
		utcTime(t, "2025-10-01T00:00:00Z"),
		utcTime(t, "2025-10-31T23:59:59Z"),
	)
	require.NoError(t, err)
	return exp.Occurrences
}

// An RDATE instant inside the window is returned even when the event's own
// pattern never enters the window.
func TestRDateOutsidePattern(t *testing.T) {
	ev := testEvent("2025-09-01T09:00:00", storage.NoRecurrence{})
	ev.RDates = []time.Time{utcTime(t, "2025-10-15T16:00:00Z")}

	occs := expandOctober(t, ev, nil)
	require.Len(t, occs, 1)
	assert.True(t, occs[0].Start.Equal(utcTime(t, "2025-10-15T16:00:00Z")))
	assert.True(t, occs[0].End.Equal(utcTime(t, "2025-10-15T17:00:00Z")))
	assert.Equal(t, "2025-10-15T12:00:00", occs[0].OriginalLocal)
}

func TestRDateOutsideWindowIgnored(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.NoRecurrence{})
	ev.RDates = []time.Time{utcTime(t, "2025-12-24T16:00:00Z")}

	occs := expandOctober(t, ev, nil)
	require.Len(t, occs, 1) // only the anchor
	assert.True(t, occs[0].Start.Equal(utcTime(t, "2025-10-06T13:00:00Z")))
}

// A 5-day daily series with an EXDATE on the second day returns exactly four
// occurrences, with no entry on the excluded date and siblings untouched.
func TestExDateRemovesExactlyOne(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.RuleRecurrence{
		Rule: "FREQ=DAILY;COUNT=5",
	})
	ev.ExDates = []time.Time{utcTime(t, "2025-10-07T13:00:00Z")}

	occs := expandOctober(t, ev, nil)
	want := []time.Time{
		utcTime(t, "2025-10-06T13:00:00Z"),
		utcTime(t, "2025-10-08T13:00:00Z"),
		utcTime(t, "2025-10-09T13:00:00Z"),
		utcTime(t, "2025-10-10T13:00:00Z"),
	}
	assert.Equal(t, want, starts(occs))
}

// EXDATE beats RDATE at the same instant: the resolution order adds RDATEs
// first, then removes exclusions.
func TestExDateRemovesRDate(t *testing.T) {
	ev := testEvent("2025-09-01T09:00:00", storage.NoRecurrence{})
	ev.RDates = []time.Time{utcTime(t, "2025-10-15T16:00:00Z")}
	ev.ExDates = []time.Time{utcTime(t, "2025-10-15T16:00:00Z")}

	occs := expandOctober(t, ev, nil)
	assert.Empty(t, occs)
}

func TestCancelOverride(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.RuleRecurrence{
		Rule: "FREQ=DAILY;COUNT=5",
	})
	overrides := []*storage.OccurrenceOverride{{
		ID:            "ov1",
		EventID:       ev.ID,
		OriginalLocal: "2025-10-07T09:00:00",
		Cancelled:     true,
		Created:       time.Now(),
	}}

	occs := expandOctober(t, ev, overrides)
	want := []time.Time{
		utcTime(t, "2025-10-06T13:00:00Z"),
		utcTime(t, "2025-10-08T13:00:00Z"),
		utcTime(t, "2025-10-09T13:00:00Z"),
		utcTime(t, "2025-10-10T13:00:00Z"),
	}
	assert.Equal(t, want, starts(occs))
}

// Moving the Oct 7 09:00 occurrence to 14:00 with a 2-hour duration: the
// 09:00 entry disappears, one 14:00 entry appears with the new duration and
// the override id set.
func TestMoveOverrideInsideWindow(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.RuleRecurrence{
		Rule: "FREQ=DAILY;COUNT=5",
	})
	newStart := utcTime(t, "2025-10-07T18:00:00Z") // 14:00 EDT
	overrides := []*storage.OccurrenceOverride{{
		ID:            "ov1",
		EventID:       ev.ID,
		OriginalLocal: "2025-10-07T09:00:00",
		NewStart:      mo.Some(newStart),
		NewDuration:   mo.Some(2 * time.Hour),
		Created:       time.Now(),
	}}

	occs := expandOctober(t, ev, overrides)
	require.Len(t, occs, 5)

	var moved *Occurrence
	for i := range occs {
		assert.NotEqual(t, "2025-10-07T09:00:00", occs[i].OriginalLocal)
		if occs[i].OverrideID != "" {
			moved = &occs[i]
		}
	}
	require.NotNil(t, moved)
	assert.Equal(t, "ov1", moved.OverrideID)
	assert.True(t, moved.Start.Equal(newStart))
	assert.Equal(t, 2*time.Hour, moved.End.Sub(moved.Start))
	assert.Equal(t, "2025-10-07T14:00:00", moved.OriginalLocal)
}

// Moving an occurrence out of the window removes it with no replacement.
func TestMoveOverrideOutsideWindow(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.RuleRecurrence{
		Rule: "FREQ=DAILY;COUNT=5",
	})
	overrides := []*storage.OccurrenceOverride{{
		ID:            "ov1",
		EventID:       ev.ID,
		OriginalLocal: "2025-10-07T09:00:00",
		NewStart:      mo.Some(utcTime(t, "2025-11-07T18:00:00Z")),
		Created:       time.Now(),
	}}

	occs := expandOctober(t, ev, overrides)
	want := []time.Time{
		utcTime(t, "2025-10-06T13:00:00Z"),
		utcTime(t, "2025-10-08T13:00:00Z"),
		utcTime(t, "2025-10-09T13:00:00Z"),
		utcTime(t, "2025-10-10T13:00:00Z"),
	}
	assert.Equal(t, want, starts(occs))
}

// A move without NewDuration keeps the event's own duration.
func TestMoveOverrideKeepsEventDuration(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.NoRecurrence{})
	newStart := utcTime(t, "2025-10-06T20:00:00Z")
	overrides := []*storage.OccurrenceOverride{{
		ID:            "ov1",
		EventID:       ev.ID,
		OriginalLocal: "2025-10-06T09:00:00",
		NewStart:      mo.Some(newStart),
		Created:       time.Now(),
	}}

	occs := expandOctober(t, ev, overrides)
	require.Len(t, occs, 1)
	assert.Equal(t, ev.Duration, occs[0].End.Sub(occs[0].Start))
}

// A note-only override (neither cancelled nor moved) changes nothing.
func TestNoteOnlyOverrideIsNoOp(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.NoRecurrence{})
	overrides := []*storage.OccurrenceOverride{{
		ID:            "ov1",
		EventID:       ev.ID,
		OriginalLocal: "2025-10-06T09:00:00",
		Note:          "bring slides",
		Created:       time.Now(),
	}}

	occs := expandOctober(t, ev, overrides)
	require.Len(t, occs, 1)
	assert.Empty(t, occs[0].OverrideID)
}

// When several overrides target the same occurrence, the most recently
// created one wins.
func TestMostRecentOverrideWins(t *testing.T) {
	ev := testEvent("2025-10-06T09:00:00", storage.NoRecurrence{})
	base := time.Now()
	overrides := []*storage.OccurrenceOverride{
		{
			ID:            "ov1",
			EventID:       ev.ID,
			OriginalLocal: "2025-10-06T09:00:00",
			Cancelled:     true,
			Created:       base,
		},
		{
			ID:            "ov2",
			EventID:       ev.ID,
			OriginalLocal: "2025-10-06T09:00:00",
			NewStart:      mo.Some(utcTime(t, "2025-10-06T20:00:00Z")),
			Created:       base.Add(time.Minute),
		},
	}

	occs := expandOctober(t, ev, overrides)
	require.Len(t, occs, 1)
	assert.Equal(t, "ov2", occs[0].OverrideID)
	assert.True(t, occs[0].Start.Equal(utcTime(t, "2025-10-06T20:00:00Z")))

	// Same targets, reversed creation order: the cancellation wins instead.
	overrides[0].Created = base.Add(2 * time.Minute)
	occs = expandOctober(t, ev, overrides)
	assert.Empty(t, occs)
}
