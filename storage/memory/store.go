// Package memory provides the in-memory Storage implementation. Durable
// persistence is an external concern; this store is the system of record for
// event definitions and overrides within one process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/timezone"
)

// Store implements storage.Storage using maps guarded by one RWMutex: writes
// serialize, reads run concurrently, and nothing ever observes a half-applied
// mutation.
type Store struct {
	mu        sync.RWMutex
	events    map[string]*storage.EventMaster
	overrides map[string]*storage.OccurrenceOverride
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:    make(map[string]*storage.EventMaster),
		overrides: make(map[string]*storage.OccurrenceOverride),
	}
}

func (s *Store) CreateEvent(_ context.Context, spec storage.EventSpec) (*storage.EventMaster, error) {
	if err := validateAnchor(spec.StartLocal, spec.TZID); err != nil {
		return nil, err
	}

	rec := spec.Recurrence
	if rec == nil {
		rec = storage.NoRecurrence{}
	}

	now := time.Now()
	ev := &storage.EventMaster{
		ID:          uuid.NewString(),
		Title:       spec.Title,
		Description: spec.Description,
		StartLocal:  spec.StartLocal,
		TZID:        spec.TZID,
		Duration:    spec.Duration,
		Recurrence:  rec,
		RDates:      append([]time.Time(nil), spec.RDates...),
		ExDates:     append([]time.Time(nil), spec.ExDates...),
		Created:     now,
		Updated:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev

	return ev.Clone(), nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*storage.EventMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}
	return ev.Clone(), nil
}

func (s *Store) ListEvents(_ context.Context) ([]*storage.EventMaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*storage.EventMaster, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev.Clone())
	}
	return events, nil
}

func (s *Store) UpdateEvent(_ context.Context, id string, patch storage.EventPatch) (*storage.EventMaster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}

	// Validate against the patched anchor before touching stored state so a
	// failed update leaves the event unchanged.
	startLocal := patch.StartLocal.OrElse(ev.StartLocal)
	tzid := patch.TZID.OrElse(ev.TZID)
	if err := validateAnchor(startLocal, tzid); err != nil {
		return nil, err
	}

	next := ev.Clone()
	next.StartLocal = startLocal
	next.TZID = tzid
	if v, ok := patch.Title.Get(); ok {
		next.Title = v
	}
	if v, ok := patch.Description.Get(); ok {
		next.Description = v
	}
	if v, ok := patch.Duration.Get(); ok {
		next.Duration = v
	}
	if v, ok := patch.Recurrence.Get(); ok {
		if v == nil {
			v = storage.NoRecurrence{}
		}
		next.Recurrence = v
	}
	if v, ok := patch.RDates.Get(); ok {
		next.RDates = append([]time.Time(nil), v...)
	}
	if v, ok := patch.ExDates.Get(); ok {
		next.ExDates = append([]time.Time(nil), v...)
	}
	next.Updated = time.Now()

	s.events[id] = next
	return next.Clone(), nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}
	delete(s.events, id)

	// Cascade: overrides reference occurrences of the event and are
	// meaningless without it.
	for ovID, ov := range s.overrides {
		if ov.EventID == id {
			delete(s.overrides, ovID)
		}
	}
	return nil
}

func (s *Store) CreateOverride(_ context.Context, spec storage.OverrideSpec) (*storage.OccurrenceOverride, error) {
	if _, err := timezone.ParseLocal(spec.OriginalLocal); err != nil {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid original local time",
			Err:     err,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[spec.EventID]; !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}

	ov := &storage.OccurrenceOverride{
		ID:            uuid.NewString(),
		EventID:       spec.EventID,
		OriginalLocal: spec.OriginalLocal,
		Cancelled:     spec.Cancelled,
		NewStart:      spec.NewStart,
		NewDuration:   spec.NewDuration,
		Note:          spec.Note,
		Created:       time.Now(),
	}
	s.overrides[ov.ID] = ov

	return ov.Clone(), nil
}

func (s *Store) GetOverride(_ context.Context, id string) (*storage.OccurrenceOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ov, ok := s.overrides[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "override not found",
		}
	}
	return ov.Clone(), nil
}

func (s *Store) ListOverrides(_ context.Context, eventID string) ([]*storage.OccurrenceOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.OccurrenceOverride
	for _, ov := range s.overrides {
		if ov.EventID == eventID {
			out = append(out, ov.Clone())
		}
	}
	return out, nil
}

func (s *Store) UpdateOverride(_ context.Context, id string, patch storage.OverridePatch) (*storage.OccurrenceOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ov, ok := s.overrides[id]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "override not found",
		}
	}

	if v, ok := patch.OriginalLocal.Get(); ok {
		if _, err := timezone.ParseLocal(v); err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: "invalid original local time",
				Err:     err,
			}
		}
	}

	next := ov.Clone()
	if v, ok := patch.OriginalLocal.Get(); ok {
		next.OriginalLocal = v
	}
	if v, ok := patch.Cancelled.Get(); ok {
		next.Cancelled = v
	}
	if v, ok := patch.NewStart.Get(); ok {
		next.NewStart = v
	}
	if v, ok := patch.NewDuration.Get(); ok {
		next.NewDuration = v
	}
	if v, ok := patch.Note.Get(); ok {
		next.Note = v
	}

	s.overrides[id] = next
	return next.Clone(), nil
}

func (s *Store) DeleteOverride(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[id]; !ok {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "override not found",
		}
	}
	delete(s.overrides, id)
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string]*storage.EventMaster)
	s.overrides = make(map[string]*storage.OccurrenceOverride)
	return nil
}

// validateAnchor checks the two fields that jointly define the anchor
// instant.
func validateAnchor(startLocal, tzid string) error {
	if _, err := timezone.ParseLocal(startLocal); err != nil {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid start local time",
			Err:     err,
		}
	}
	if _, err := timezone.LoadZone(tzid); err != nil {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid timezone",
			Err:     err,
		}
	}
	return nil
}
