// Package timezone converts between local wall-clock timestamps tied to an
// IANA zone and UTC instants, resolving DST edge cases.
//
// Two edge cases exist around DST transitions:
//   - A forward jump makes some wall-clock times nonexistent (01:59:59 →
//     03:00:00 skips 02:xx). LocalToUTC reports these with ok=false; callers
//     skip the occurrence rather than treating it as an error.
//   - A fall-back makes some wall-clock times ambiguous (01:30 happens twice).
//     These always resolve to the earlier UTC instant, i.e. the
//     pre-transition offset. The policy is fixed, not per-call.
package timezone

import (
	"fmt"
	"time"
)

// LayoutLocal is the canonical local wall-clock layout, with no zone offset.
const LayoutLocal = "2006-01-02T15:04:05"

// layoutLocalShort is accepted on input for minute-precision timestamps.
const layoutLocalShort = "2006-01-02T15:04"

// ambiguityProbes are the DST shift sizes checked when resolving a duplicated
// wall clock. One hour covers nearly every zone; thirty minutes covers the
// handful of half-hour-shift zones (e.g. Australia/Lord_Howe).
var ambiguityProbes = []time.Duration{time.Hour, 30 * time.Minute}

// LoadZone resolves an IANA zone name.
func LoadZone(tzid string) (*time.Location, error) {
	if tzid == "" {
		return nil, fmt.Errorf("empty timezone name")
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tzid, err)
	}
	return loc, nil
}

// ParseLocal parses a local wall-clock timestamp without attaching a zone.
// Both second and minute precision are accepted.
func ParseLocal(localISO string) (time.Time, error) {
	if t, err := time.Parse(LayoutLocal, localISO); err == nil {
		return t, nil
	}
	t, err := time.Parse(layoutLocalShort, localISO)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid local timestamp %q: %w", localISO, err)
	}
	return t, nil
}

// FormatLocal renders a wall-clock time in the canonical layout. The zone
// attached to t is ignored; only the wall-clock fields matter.
func FormatLocal(t time.Time) string {
	return t.Format(LayoutLocal)
}

// LocalToUTC converts a local wall-clock timestamp in the given zone to a UTC
// instant. ok is false when the local time does not exist because a DST
// forward jump skipped it; that is expected behavior, not an error. Errors
// are reserved for malformed input and unknown zones.
func LocalToUTC(localISO, tzid string) (utc time.Time, ok bool, err error) {
	wall, err := ParseLocal(localISO)
	if err != nil {
		return time.Time{}, false, err
	}
	loc, err := LoadZone(tzid)
	if err != nil {
		return time.Time{}, false, err
	}
	utc, ok = ResolveWall(wall, loc)
	return utc, ok, nil
}

// ResolveWall maps wall-clock fields onto a zone, applying the gap and
// ambiguity policies. The zone attached to wall is ignored.
func ResolveWall(wall time.Time, loc *time.Location) (utc time.Time, ok bool) {
	y, m, d := wall.Date()
	hh, mm, ss := wall.Clock()

	t := time.Date(y, m, d, hh, mm, ss, 0, loc)
	if !sameWall(t, wall) {
		// time.Date normalized the fields away: this wall clock fell inside
		// a DST forward jump and never happened.
		return time.Time{}, false
	}

	// When a fall-back duplicated this wall clock, time.Date picks one of the
	// two instants without guarantee. Probing one shift earlier finds the
	// pre-transition instant if it shows the same wall clock.
	for _, probe := range ambiguityProbes {
		if earlier := t.Add(-probe); sameWall(earlier, wall) {
			t = earlier
			break
		}
	}

	return t.UTC(), true
}

// UTCToLocal renders an instant as the local wall-clock timestamp in the
// given zone. Deterministic for any instant, including across DST
// transitions: every instant has exactly one local representation.
func UTCToLocal(instant time.Time, tzid string) (string, error) {
	loc, err := LoadZone(tzid)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(LayoutLocal), nil
}

// sameWall reports whether t's wall-clock fields match want's.
func sameWall(t, want time.Time) bool {
	ty, tm, td := t.Date()
	wy, wm, wd := want.Date()
	if ty != wy || tm != wm || td != wd {
		return false
	}
	th, tmin, ts := t.Clock()
	wh, wmin, ws := want.Clock()
	return th == wh && tmin == wmin && ts == ws
}
