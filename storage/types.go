package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
)

// EventMaster is an event definition, single or recurring. The wall-clock
// anchor StartLocal together with TZID defines the canonical anchor instant;
// all recurrence math happens in local time in TZID because calendar rules
// ("every Monday") are zone-relative.
type EventMaster struct {
	ID          string
	Title       string
	Description string
	// StartLocal is the anchor wall-clock time, "2006-01-02T15:04:05",
	// with no zone offset embedded.
	StartLocal string
	// TZID is an IANA zone name, e.g. "America/New_York".
	TZID       string
	Duration   time.Duration
	Recurrence Recurrence
	// RDates are explicit extra occurrence instants, in UTC.
	RDates []time.Time
	// ExDates are explicit excluded occurrence instants, in UTC.
	ExDates []time.Time
	Created time.Time
	Updated time.Time
}

// Clone returns a deep copy; stores hand out copies so callers can't mutate
// shared state.
func (e *EventMaster) Clone() *EventMaster {
	c := *e
	c.RDates = append([]time.Time(nil), e.RDates...)
	c.ExDates = append([]time.Time(nil), e.ExDates...)
	return &c
}

// Recurrence is a closed set of recurrence kinds. Consumers switch on the
// concrete type; adding a kind means revisiting every switch.
type Recurrence interface {
	isRecurrence()
}

// NoRecurrence means exactly one instance, the anchor itself.
type NoRecurrence struct{}

func (NoRecurrence) isRecurrence() {}

// RuleRecurrence delegates to general RRULE expansion. Rule is an RFC 5545
// recurrence rule without the "RRULE:" prefix, e.g. "FREQ=DAILY;INTERVAL=2".
// Until (UTC) and Count, when present, bound the series on top of whatever
// the rule string itself declares.
type RuleRecurrence struct {
	Rule  string
	Until mo.Option[time.Time]
	Count mo.Option[int]
}

func (RuleRecurrence) isRecurrence() {}

// WeeklyRecurrence is a fast path for simple weekly patterns, anchored at the
// event's own StartLocal/TZID. Weeks start on Sunday and step by
// IntervalWeeks. It must produce exactly the occurrences of the equivalent
// BYDAY rule (see ByDayRule), only faster.
type WeeklyRecurrence struct {
	IntervalWeeks int
	Days          Weekdays
	Until         mo.Option[time.Time]
	Count         mo.Option[int]
}

func (WeeklyRecurrence) isRecurrence() {}

// ByDayRule renders the RRULE string this weekly pattern is equivalent to,
// e.g. "FREQ=WEEKLY;INTERVAL=2;WKST=SU;BYDAY=MO,WE". Until/Count are
// intentionally not rendered; they are applied by the evaluator either way.
func (w WeeklyRecurrence) ByDayRule() string {
	interval := w.IntervalWeeks
	if interval < 1 {
		interval = 1
	}
	return fmt.Sprintf("FREQ=WEEKLY;INTERVAL=%d;WKST=SU;BYDAY=%s", interval, w.Days.byDayList())
}

// Weekdays is a 7-bit weekday set; bit i is weekday i with 0 = Sunday,
// matching time.Weekday numbering.
type Weekdays byte

// NewWeekdays builds a set from the given weekdays.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// Has reports whether the set contains d.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// Count returns the number of weekdays in the set.
func (w Weekdays) Count() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			n++
		}
	}
	return n
}

var byDayNames = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (w Weekdays) byDayList() string {
	var parts []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			parts = append(parts, byDayNames[d])
		}
	}
	return strings.Join(parts, ",")
}

// OccurrenceOverride modifies one generated occurrence of one event,
// identified by (EventID, OriginalLocal). Cancelled removes the occurrence;
// a present NewStart moves it; neither set is a note-only no-op.
type OccurrenceOverride struct {
	ID      string
	EventID string
	// OriginalLocal is the occurrence's local wall-clock time in the event's
	// zone, as produced by expansion.
	OriginalLocal string
	Cancelled     bool
	// NewStart, when present, replaces the occurrence's start instant (UTC).
	NewStart mo.Option[time.Time]
	// NewDuration, when present, replaces the event duration for this
	// occurrence.
	NewDuration mo.Option[time.Duration]
	Note        string
	Created     time.Time
}

// Clone returns a copy of the override.
func (o *OccurrenceOverride) Clone() *OccurrenceOverride {
	c := *o
	return &c
}

// EventSpec carries the caller-supplied fields for creating an event.
type EventSpec struct {
	Title       string
	Description string
	StartLocal  string
	TZID        string
	Duration    time.Duration
	Recurrence  Recurrence
	RDates      []time.Time
	ExDates     []time.Time
}

// EventPatch updates an event; absent fields are left untouched.
type EventPatch struct {
	Title       mo.Option[string]
	Description mo.Option[string]
	StartLocal  mo.Option[string]
	TZID        mo.Option[string]
	Duration    mo.Option[time.Duration]
	Recurrence  mo.Option[Recurrence]
	RDates      mo.Option[[]time.Time]
	ExDates     mo.Option[[]time.Time]
}

// OverrideSpec carries the caller-supplied fields for creating an override.
type OverrideSpec struct {
	EventID       string
	OriginalLocal string
	Cancelled     bool
	NewStart      mo.Option[time.Time]
	NewDuration   mo.Option[time.Duration]
	Note          string
}

// OverridePatch updates an override; absent fields are left untouched.
type OverridePatch struct {
	OriginalLocal mo.Option[string]
	Cancelled     mo.Option[bool]
	NewStart      mo.Option[mo.Option[time.Time]]
	NewDuration   mo.Option[mo.Option[time.Duration]]
	Note          mo.Option[string]
}
