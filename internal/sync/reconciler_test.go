package sync

import (
	"reflect"
	"testing"
	"time"

	"github.com/calsnap/calsnap/internal/model"
)

// ---------------------------------------------------------------------------
// Scenario: blank and padded titles
// ---------------------------------------------------------------------------

func TestNormalize_TitleCleanup(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		{ID: "a", Title: "  Standup  ", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "b", Title: "   ", Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)},
		{ID: "c", Title: "", Start: now.Add(5 * time.Hour), End: now.Add(6 * time.Hour)},
	}

	got := Normalize(raw, now)
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Title != "Standup" {
		t.Errorf("title = %q, want trimmed %q", got[0].Title, "Standup")
	}
	if got[1].Title != PlaceholderTitle {
		t.Errorf("blank title = %q, want %q", got[1].Title, PlaceholderTitle)
	}
	if got[2].Title != PlaceholderTitle {
		t.Errorf("empty title = %q, want %q", got[2].Title, PlaceholderTitle)
	}
}

// ---------------------------------------------------------------------------
// Scenario: events that ended more than a day ago are dropped
// ---------------------------------------------------------------------------

func TestNormalize_DropsStaleEvents(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		{ID: "old", Title: "Last week", Start: now.Add(-48 * time.Hour), End: now.Add(-25 * time.Hour)},
		{ID: "edge", Title: "A day ago", Start: now.Add(-26 * time.Hour), End: now.Add(-24 * time.Hour)},
		{ID: "new", Title: "Upcoming", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}

	got := Normalize(raw, now)
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2 (stale one dropped)", len(got))
	}
	for _, e := range got {
		if e.ID == "old" {
			t.Error("event ended over a day ago should be dropped")
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario: derived flags are recomputed, not trusted from the source
// ---------------------------------------------------------------------------

func TestNormalize_RecomputesDerivedFlags(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		// Source claims single-day, but it spans midnight.
		{ID: "a", Title: "Overnight", MultiDay: false,
			Start: now.Add(10 * time.Hour), End: now.Add(14 * time.Hour)},
		// Running right now; source claims it is not.
		{ID: "b", Title: "Current", Running: false,
			Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
	}

	got := Normalize(raw, now)
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if !got[1].MultiDay {
		t.Error("event spanning midnight should be multi-day")
	}
	if !got[0].Running {
		t.Error("event containing now should be running")
	}
}

// ---------------------------------------------------------------------------
// Scenario: duplicate IDs collapse to the most recently fetched instance
// ---------------------------------------------------------------------------

func TestNormalize_DeduplicatesKeepingLatest(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		{ID: "dup", Title: "First fetch", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "other", Title: "Other", Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour)},
		{ID: "dup", Title: "Second fetch", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}

	got := Normalize(raw, now)
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].ID != "dup" || got[0].Title != "Second fetch" {
		t.Errorf("deduplicated event = %+v, want the later instance", got[0])
	}
}

// ---------------------------------------------------------------------------
// Scenario: output is sorted by start time, ties broken by ID
// ---------------------------------------------------------------------------

func TestNormalize_SortsByStartThenID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		{ID: "c", Title: "Third", Start: now.Add(2 * time.Hour), End: now.Add(3 * time.Hour)},
		{ID: "b", Title: "Tie B", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "a", Title: "Tie A", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}

	got := Normalize(raw, now)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

// ---------------------------------------------------------------------------
// Scenario: same input, same output (deterministic)
// ---------------------------------------------------------------------------

func TestNormalize_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	raw := []model.Event{
		{ID: "b", Title: " Beta ", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "a", Title: "", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
		{ID: "b", Title: "Beta again", Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
	}

	first := Normalize(raw, now)
	second := Normalize(raw, now)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

// ---------------------------------------------------------------------------
// Scenario: empty input stays empty
// ---------------------------------------------------------------------------

func TestNormalize_EmptyInput(t *testing.T) {
	got := Normalize(nil, time.Now())
	if len(got) != 0 {
		t.Errorf("events = %d, want 0", len(got))
	}
}
