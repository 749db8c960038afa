package calendar

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timegrid/occurrence/recurrence"
	"github.com/timegrid/occurrence/storage"
	"github.com/timegrid/occurrence/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := New(memory.New(), discardLogger(), DefaultConfig)
	t.Cleanup(svc.Close)
	return svc
}

func utcTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func octoberWindow(t *testing.T) (time.Time, time.Time) {
	return utcTime(t, "2025-10-01T00:00:00Z"), utcTime(t, "2025-10-31T23:59:59Z")
}

func TestGetOccurrencesWindowValidatesBounds(t *testing.T) {
	svc := newTestService(t)
	start, end := octoberWindow(t)

	_, err := svc.GetOccurrencesWindow(context.Background(), end, start)
	require.Error(t, err)
	assert.True(t, storage.IsInvalidInput(err))
}

func TestWindowQueryMergesAndSorts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "late",
		StartLocal: "2025-10-06T15:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=3"},
	})
	require.NoError(t, err)
	_, err = svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "early",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=3"},
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)
	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 6)
	assert.False(t, res.Truncated)

	for i := 1; i < len(res.Occurrences); i++ {
		assert.False(t, res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start),
			"occurrences must be sorted ascending by start")
	}
}

func TestWindowQueryIsStableAcrossCacheHits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=5"},
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)
	first, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	second, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)

	require.Equal(t, len(first.Occurrences), len(second.Occurrences))
	for i := range first.Occurrences {
		assert.True(t, first.Occurrences[i].Start.Equal(second.Occurrences[i].Start))
	}
	// The repeat query was served from the cache.
	assert.True(t, second.Occurrences[0].FromCache)
}

// A committed mutation is visible to the very next read.
func TestMutationInvalidatesCache(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ev, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=5"},
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)
	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 5)

	_, err = svc.UpdateEvent(ctx, ev.ID, storage.EventPatch{
		Recurrence: mo.Some[storage.Recurrence](storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=2"}),
	})
	require.NoError(t, err)

	res, err = svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 2)
}

func TestOverrideLifecycleThroughService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ev, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=5"},
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)

	// Prime the cache, then move the Oct 7 occurrence to 14:00 with a
	// 2-hour duration.
	_, err = svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)

	newStart := utcTime(t, "2025-10-07T18:00:00Z")
	ov, err := svc.CreateOverride(ctx, storage.OverrideSpec{
		EventID:       ev.ID,
		OriginalLocal: "2025-10-07T09:00:00",
		NewStart:      mo.Some(newStart),
		NewDuration:   mo.Some(2 * time.Hour),
	})
	require.NoError(t, err)

	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 5)

	var moved *recurrence.Occurrence
	for i := range res.Occurrences {
		if res.Occurrences[i].OverrideID != "" {
			moved = &res.Occurrences[i]
		}
	}
	require.NotNil(t, moved)
	assert.Equal(t, ov.ID, moved.OverrideID)
	assert.True(t, moved.Start.Equal(newStart))
	assert.Equal(t, 2*time.Hour, moved.End.Sub(moved.Start))

	// Deleting the override restores the base occurrence.
	require.NoError(t, svc.DeleteOverride(ctx, ov.ID))
	res, err = svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	for _, occ := range res.Occurrences {
		assert.Empty(t, occ.OverrideID)
	}
}

func TestPerEventTruncationFlagPropagates(t *testing.T) {
	config := DefaultConfig
	config.Engine.GenerationBudget = 10
	svc := New(memory.New(), discardLogger(), config)
	t.Cleanup(svc.Close)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "forever",
		StartLocal: "2025-10-01T00:00:00",
		TZID:       "UTC",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY"},
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)
	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Occurrences, 10)
}

func TestClearAll(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ClearAll(ctx))

	start, end := octoberWindow(t)
	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestDeleteEventRemovesItsOccurrences(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ev, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	start, end := octoberWindow(t)
	_, err = svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEvent(ctx, ev.ID))

	res, err := svc.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestExportImportICS(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateEvent(ctx, storage.EventSpec{
		Title:      "standup",
		StartLocal: "2025-10-06T09:00:00",
		TZID:       "America/New_York",
		Duration:   time.Hour,
		Recurrence: storage.RuleRecurrence{Rule: "FREQ=DAILY;COUNT=5"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportICS(ctx, &buf))

	other := newTestService(t)
	imported, err := other.ImportICS(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, imported, 1)

	start, end := octoberWindow(t)
	res, err := other.GetOccurrencesWindow(ctx, start, end)
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 5)

	_, err = other.ImportICS(ctx, bytes.NewReader([]byte("not an ics stream")))
	require.Error(t, err)
	assert.True(t, storage.IsInvalidInput(err))
}
