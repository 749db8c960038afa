package recurrence

import (
	"time"
)

// Occurrence is one concrete instant produced by expanding an event inside a
// window. It is derived data, recomputed on every query; nothing about it is
// ever the system of record.
type Occurrence struct {
	EventID string
	// Start and End are UTC instants.
	Start time.Time
	End   time.Time
	// OriginalLocal is the occurrence's wall-clock time in the event's zone.
	// Overrides target occurrences by this value.
	OriginalLocal string
	// OverrideID is set when an override produced or modified this
	// occurrence.
	OverrideID string
	// FromCache marks occurrences served from the occurrence cache.
	FromCache bool
}

// Expansion is the result of expanding one event over one window.
type Expansion struct {
	Occurrences []Occurrence
	// Truncated is set when the generation budget was exhausted before the
	// rule ran out, meaning the result may be missing later occurrences.
	Truncated bool
}
