package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/calsnap/calsnap/internal/model"
)

// PlaceholderTitle replaces blank titles during normalisation.
const PlaceholderTitle = "Untitled event"

// staleAfter is how long after its end an event is kept in the snapshot.
// Anything older is historical noise the snapshot would otherwise accumulate
// without bound.
const staleAfter = 24 * time.Hour

// Normalize turns a raw fetched event list into the set the snapshot
// persists:
//
//   - titles are trimmed, blank titles become [PlaceholderTitle]
//   - instants are UTC-normalised and the multi-day and running flags are
//     recomputed against now
//   - events that ended more than a day before now are dropped
//   - duplicate IDs collapse to the most recently fetched instance
//   - the result is sorted ascending by start time, ties broken by ID
//
// Normalize is pure: no I/O, and deterministic for a fixed input and now.
func Normalize(raw []model.Event, now time.Time) []model.Event {
	cutoff := now.Add(-staleAfter)

	byID := make(map[string]int, len(raw))
	out := make([]model.Event, 0, len(raw))

	for _, e := range raw {
		e.Title = strings.TrimSpace(e.Title)
		if e.Title == "" {
			e.Title = PlaceholderTitle
		}

		e.Start = e.Start.UTC()
		e.End = e.End.UTC()
		if e.End.Before(cutoff) {
			continue
		}

		e.MultiDay = e.SpansMultipleDays()
		e.Running = e.RunningAt(now)

		if idx, ok := byID[e.ID]; ok {
			// Later fetch position wins for duplicate IDs.
			out[idx] = e
			continue
		}
		byID[e.ID] = len(out)
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})

	return out
}
