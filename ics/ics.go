// Package ics converts event definitions to and from iCalendar, so stored
// calendars can be exchanged with other calendar software.
package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/timezone"
)

const (
	prodID = "-//timegrid//occurrence//EN"

	// layoutUTC is the iCalendar UTC date-time form used for RDATE, EXDATE
	// and UNTIL values.
	layoutUTC = "20060102T150405Z"
	// layoutFloating is the TZID-qualified local date-time form used for
	// DTSTART.
	layoutFloating = "20060102T150405"
)

// Encode writes the given events as one VCALENDAR stream.
func Encode(w io.Writer, events []*storage.EventMaster) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, ev := range events {
		comp, err := eventComponent(ev)
		if err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		cal.Children = append(cal.Children, comp)
	}

	return ical.NewEncoder(w).Encode(cal)
}

// Decode reads VCALENDAR streams and returns the specs of the VEVENTs they
// contain. Components other than VEVENT are ignored.
func Decode(r io.Reader) ([]storage.EventSpec, error) {
	dec := ical.NewDecoder(r)
	var specs []storage.EventSpec
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		for _, child := range cal.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			spec, err := eventSpec(child)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func eventComponent(ev *storage.EventMaster) (*ical.Component, error) {
	wall, err := timezone.ParseLocal(ev.StartLocal)
	if err != nil {
		return nil, err
	}

	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, ev.ID)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, ev.Updated.UTC())
	if ev.Title != "" {
		comp.Props.SetText(ical.PropSummary, ev.Title)
	}
	if ev.Description != "" {
		comp.Props.SetText(ical.PropDescription, ev.Description)
	}

	dtstart := ical.NewProp(ical.PropDateTimeStart)
	dtstart.Params.Set(ical.ParamTimezoneID, ev.TZID)
	dtstart.Value = wall.Format(layoutFloating)
	comp.Props.Set(dtstart)

	duration := ical.NewProp(ical.PropDuration)
	duration.Value = formatDuration(ev.Duration)
	comp.Props.Set(duration)

	if rule, ok := ruleString(ev.Recurrence); ok {
		rrule := ical.NewProp(ical.PropRecurrenceRule)
		rrule.Value = rule
		comp.Props.Set(rrule)
	}
	if len(ev.RDates) > 0 {
		rdate := ical.NewProp(ical.PropRecurrenceDates)
		rdate.Value = formatDateList(ev.RDates)
		comp.Props.Set(rdate)
	}
	if len(ev.ExDates) > 0 {
		exdate := ical.NewProp(ical.PropExceptionDates)
		exdate.Value = formatDateList(ev.ExDates)
		comp.Props.Set(exdate)
	}

	return comp, nil
}

func eventSpec(comp *ical.Component) (storage.EventSpec, error) {
	spec := storage.EventSpec{TZID: "UTC"}

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		spec.Title = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		spec.Description = p.Value
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return spec, fmt.Errorf("VEVENT without DTSTART")
	}
	if tzid := dtstart.Params.Get(ical.ParamTimezoneID); tzid != "" {
		spec.TZID = tzid
	}
	wall, err := parseDateTime(dtstart.Value)
	if err != nil {
		return spec, fmt.Errorf("invalid DTSTART %q: %w", dtstart.Value, err)
	}
	spec.StartLocal = timezone.FormatLocal(wall)

	if p := comp.Props.Get(ical.PropDuration); p != nil {
		d, err := p.Duration()
		if err != nil {
			return spec, fmt.Errorf("invalid DURATION %q: %w", p.Value, err)
		}
		spec.Duration = d
	} else if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		end, err := parseDateTime(p.Value)
		if err != nil {
			return spec, fmt.Errorf("invalid DTEND %q: %w", p.Value, err)
		}
		spec.Duration = end.Sub(wall)
	}

	spec.Recurrence = storage.Recurrence(storage.NoRecurrence{})
	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil && p.Value != "" {
		spec.Recurrence = storage.RuleRecurrence{Rule: p.Value}
	}
	if p := comp.Props.Get(ical.PropRecurrenceDates); p != nil {
		spec.RDates = parseDateList(p.Value)
	}
	if p := comp.Props.Get(ical.PropExceptionDates); p != nil {
		spec.ExDates = parseDateList(p.Value)
	}

	return spec, nil
}

// ruleString renders the RRULE value for a recurrence, or ok=false for
// non-recurring events.
func ruleString(rec storage.Recurrence) (string, bool) {
	switch r := rec.(type) {
	case storage.RuleRecurrence:
		return appendBounds(r.Rule, r.Until, r.Count), true
	case storage.WeeklyRecurrence:
		return appendBounds(r.ByDayRule(), r.Until, r.Count), true
	default:
		return "", false
	}
}

func appendBounds(rule string, until mo.Option[time.Time], count mo.Option[int]) string {
	if u, ok := until.Get(); ok && !strings.Contains(rule, "UNTIL=") {
		rule += ";UNTIL=" + u.UTC().Format(layoutUTC)
	}
	if c, ok := count.Get(); ok && !strings.Contains(rule, "COUNT=") {
		rule += fmt.Sprintf(";COUNT=%d", c)
	}
	return rule
}

func formatDateList(dates []time.Time) string {
	parts := make([]string, len(dates))
	for i, d := range dates {
		parts[i] = d.UTC().Format(layoutUTC)
	}
	return strings.Join(parts, ",")
}

func parseDateList(value string) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := time.Parse(layoutUTC, part); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// parseDateTime accepts both the UTC and the floating/TZID-qualified
// iCalendar date-time forms, returning the wall-clock fields.
func parseDateTime(value string) (time.Time, error) {
	if t, err := time.Parse(layoutUTC, value); err == nil {
		return t, nil
	}
	return time.Parse(layoutFloating, value)
}

// formatDuration renders a time.Duration as an iCalendar duration value.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	s := "PT"
	if hours > 0 {
		s += fmt.Sprintf("%dH", hours)
	}
	if minutes > 0 {
		s += fmt.Sprintf("%dM", minutes)
	}
	if seconds > 0 || s == "PT" {
		s += fmt.Sprintf("%dS", seconds)
	}
	return s
}
