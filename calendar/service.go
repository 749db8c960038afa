// Package calendar wires the event store, the recurrence engine and the
// occurrence cache into one service. Each Service instance owns its own
// state; construct one per test, request scope or application, there is no
// package-level singleton.
package calendar

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/timegrid/occurrence/ics"
	"github.com/timegrid/occurrence/recurrence"
	"github.com/timegrid/occurrence/storage"
)

// Config configures a Service.
type Config struct {
	Engine recurrence.EngineConfig
	// CacheEnabled toggles the per-event occurrence cache.
	CacheEnabled bool
	Cache        recurrence.CacheConfig
}

// DefaultConfig provides sensible defaults for production use.
var DefaultConfig = Config{
	Engine:       recurrence.DefaultEngineConfig,
	CacheEnabled: true,
	Cache:        recurrence.DefaultCacheConfig,
}

// Service exposes event/override CRUD and window queries. Mutations
// invalidate the mutated event's cached occurrences before returning, so a
// committed write is never followed by a stale read.
type Service struct {
	store  storage.Storage
	engine *recurrence.Engine
	cache  *recurrence.Cache
	logger *slog.Logger
}

// WindowResult is the outcome of one window query. Occurrences are sorted
// ascending by start instant. Truncated is set when the result hit the
// occurrence cap and the tail was dropped; a UI should warn rather than
// silently show an incomplete calendar.
type WindowResult struct {
	Occurrences []recurrence.Occurrence
	Truncated   bool
}

// New creates a Service on top of the given store. A nil logger falls back
// to slog.Default.
func New(store storage.Storage, logger *slog.Logger, config Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		engine: recurrence.NewEngineWithConfig(config.Engine),
		logger: logger,
	}
	if config.CacheEnabled {
		s.cache = recurrence.NewCache(config.Cache)
	}
	return s
}

// Close releases the cache's background resources.
func (s *Service) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// CreateEvent validates and stores a new event definition.
func (s *Service) CreateEvent(ctx context.Context, spec storage.EventSpec) (*storage.EventMaster, error) {
	ev, err := s.store.CreateEvent(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.logger.Info("event created", "event_id", ev.ID, "tzid", ev.TZID)
	return ev, nil
}

// GetEvent retrieves an event by id.
func (s *Service) GetEvent(ctx context.Context, id string) (*storage.EventMaster, error) {
	return s.store.GetEvent(ctx, id)
}

// ListEvents returns all stored events.
func (s *Service) ListEvents(ctx context.Context) ([]*storage.EventMaster, error) {
	return s.store.ListEvents(ctx)
}

// UpdateEvent patches an event and invalidates its cached occurrences.
func (s *Service) UpdateEvent(ctx context.Context, id string, patch storage.EventPatch) (*storage.EventMaster, error) {
	ev, err := s.store.UpdateEvent(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	s.logger.Info("event updated", "event_id", id)
	return ev, nil
}

// DeleteEvent removes an event, cascading to its overrides, and invalidates
// its cached occurrences.
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	if err := s.store.DeleteEvent(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	s.logger.Info("event deleted", "event_id", id)
	return nil
}

// CreateOverride stores a per-occurrence override and invalidates the owning
// event's cached occurrences.
func (s *Service) CreateOverride(ctx context.Context, spec storage.OverrideSpec) (*storage.OccurrenceOverride, error) {
	ov, err := s.store.CreateOverride(ctx, spec)
	if err != nil {
		return nil, err
	}
	s.invalidate(ov.EventID)
	s.logger.Info("override created", "override_id", ov.ID, "event_id", ov.EventID)
	return ov, nil
}

// GetOverride retrieves an override by id.
func (s *Service) GetOverride(ctx context.Context, id string) (*storage.OccurrenceOverride, error) {
	return s.store.GetOverride(ctx, id)
}

// UpdateOverride patches an override and invalidates the owning event's
// cached occurrences.
func (s *Service) UpdateOverride(ctx context.Context, id string, patch storage.OverridePatch) (*storage.OccurrenceOverride, error) {
	ov, err := s.store.UpdateOverride(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ov.EventID)
	s.logger.Info("override updated", "override_id", id, "event_id", ov.EventID)
	return ov, nil
}

// DeleteOverride removes an override and invalidates the owning event's
// cached occurrences.
func (s *Service) DeleteOverride(ctx context.Context, id string) error {
	ov, err := s.store.GetOverride(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOverride(ctx, id); err != nil {
		return err
	}
	s.invalidate(ov.EventID)
	s.logger.Info("override deleted", "override_id", id, "event_id", ov.EventID)
	return nil
}

// ClearAll resets the store and the cache. Primarily a testing/reset hook.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	return nil
}

// GetOccurrencesWindow expands every stored event over [windowStart,
// windowEnd] (inclusive bounds), merges, deduplicates, sorts ascending by
// start instant and truncates at the occurrence cap.
func (s *Service) GetOccurrencesWindow(ctx context.Context, windowStart, windowEnd time.Time) (*WindowResult, error) {
	if windowStart.After(windowEnd) {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "window start is after window end",
		}
	}

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}

	var merged []recurrence.Occurrence
	truncated := false
	for _, ev := range events {
		exp, err := s.expandEvent(ctx, ev, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		merged = append(merged, exp.Occurrences...)
		truncated = truncated || exp.Truncated
	}

	merged = dedupeOccurrences(merged)
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Start.Equal(merged[j].Start) {
			return merged[i].Start.Before(merged[j].Start)
		}
		if merged[i].EventID != merged[j].EventID {
			return merged[i].EventID < merged[j].EventID
		}
		return merged[i].OriginalLocal < merged[j].OriginalLocal
	})

	if len(merged) > recurrence.MaxOccurrencesPerQuery {
		merged = merged[:recurrence.MaxOccurrencesPerQuery]
		truncated = true
	}

	s.logger.Debug("window query",
		"window_start", windowStart, "window_end", windowEnd,
		"events", len(events), "occurrences", len(merged), "truncated", truncated)

	return &WindowResult{Occurrences: merged, Truncated: truncated}, nil
}

// expandEvent serves one event's expansion from the cache when possible.
func (s *Service) expandEvent(ctx context.Context, ev *storage.EventMaster, windowStart, windowEnd time.Time) (*recurrence.Expansion, error) {
	if s.cache != nil {
		if exp, ok := s.cache.Get(ev.ID, ev.Updated, windowStart, windowEnd); ok {
			return exp, nil
		}
	}

	overrides, err := s.store.ListOverrides(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	exp, err := s.engine.Expand(ev, overrides, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ev.ID, ev.Updated, windowStart, windowEnd, exp)
	}
	return exp, nil
}

// ExportICS writes all stored events as an iCalendar stream.
func (s *Service) ExportICS(ctx context.Context, w io.Writer) error {
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return err
	}
	return ics.Encode(w, events)
}

// ImportICS reads an iCalendar stream and creates one event per VEVENT,
// returning the created events.
func (s *Service) ImportICS(ctx context.Context, r io.Reader) ([]*storage.EventMaster, error) {
	specs, err := ics.Decode(r)
	if err != nil {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "invalid iCalendar input",
			Err:     err,
		}
	}
	events := make([]*storage.EventMaster, 0, len(specs))
	for _, spec := range specs {
		ev, err := s.store.CreateEvent(ctx, spec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	s.logger.Info("ics import", "events", len(events))
	return events, nil
}

func (s *Service) invalidate(eventID string) {
	if s.cache != nil {
		s.cache.InvalidateEvent(eventID)
	}
}

// dedupeOccurrences collapses candidates sharing (event id, start instant).
// Override-carrying candidates win over plain ones, then cache-sourced over
// freshly generated; beyond that generation is idempotent and either copy
// will do.
func dedupeOccurrences(occs []recurrence.Occurrence) []recurrence.Occurrence {
	type key struct {
		eventID string
		start   int64
	}
	seen := make(map[key]int, len(occs))
	out := occs[:0]
	for _, o := range occs {
		k := key{eventID: o.EventID, start: o.Start.UnixNano()}
		if idx, ok := seen[k]; ok {
			if prefer(o, out[idx]) {
				out[idx] = o
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, o)
	}
	return out
}

func prefer(a, b recurrence.Occurrence) bool {
	if (a.OverrideID != "") != (b.OverrideID != "") {
		return a.OverrideID != ""
	}
	if a.FromCache != b.FromCache {
		return a.FromCache
	}
	return false
}
