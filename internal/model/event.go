// Package model defines the canonical event representation shared by the
// sync engine, the remote-source adapters, and the snapshot store.
package model

import "time"

// Event is the normalised representation of a single calendar entry. IDs are
// opaque and source-unique; the same remote entry keeps the same ID across
// syncs, which is what snapshot deduplication relies on.
type Event struct {
	// ID is the source-assigned unique identifier (iCalendar UID or Google
	// Calendar event ID).
	ID string `json:"id"`

	// Title is the display title. The reconciler guarantees it is non-blank
	// in persisted snapshots.
	Title string `json:"title"`

	// Start and End are UTC-normalised instants. The event occupies the
	// half-open interval [Start, End).
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// AllDay marks events that span whole days rather than clock intervals.
	AllDay bool `json:"allDay"`

	// MultiDay is derived: true when Start and End fall on different
	// calendar days. Recomputed by the reconciler, never trusted from the
	// source.
	MultiDay bool `json:"multiDay"`

	// Running is derived: true when "now" at reconcile time fell inside
	// [Start, End).
	Running bool `json:"running"`

	// Location is the free-form event location, may be empty.
	Location string `json:"location"`
}

// SpansMultipleDays reports whether the event's start and end fall on
// different UTC calendar days.
func (e Event) SpansMultipleDays() bool {
	sy, sm, sd := e.Start.UTC().Date()
	ey, em, ed := e.End.UTC().Date()
	return sy != ey || sm != em || sd != ed
}

// RunningAt reports whether now falls inside the event's half-open
// [Start, End) interval.
func (e Event) RunningAt(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}

// Duration returns End − Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether two events' [Start, End) intervals intersect.
// Back-to-back events (a.End == b.Start) do not overlap.
func (e Event) Overlaps(other Event) bool {
	return e.Start.Before(other.End) && other.Start.Before(e.End)
}

// Conflict is a pair of events whose intervals overlap. Conflicts are
// diagnostics only: they are reported on the sync result and never persisted.
type Conflict struct {
	A Event
	B Event
}

// FindConflicts runs a pairwise overlap scan over events and returns every
// conflicting pair. Quadratic, which is fine for the bounded event counts a
// snapshot holds.
func FindConflicts(events []Event) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if events[i].Overlaps(events[j]) {
				conflicts = append(conflicts, Conflict{A: events[i], B: events[j]})
			}
		}
	}
	return conflicts
}
