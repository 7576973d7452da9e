package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// minTitleLen and maxTitleLen bound the accepted title length.
	minTitleLen = 2
	maxTitleLen = 200

	// maxTimedDuration is the longest a single-day timed event may last.
	maxTimedDuration = 24 * time.Hour
)

// ErrCorruptEvent marks an event whose data is structurally unusable
// (missing ID or unparseable instants). Corrupt events abort the batch;
// ordinary validation findings do not.
var ErrCorruptEvent = errors.New("corrupt event data")

// Validate checks a single event against the structural rules and returns
// human-readable violations. A non-nil error means the event is corrupt and
// must not be persisted; violations alone are warnings attached to the sync
// result.
func Validate(e Event) ([]string, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrCorruptEvent)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return nil, fmt.Errorf("%w: event %q has unparseable start or end", ErrCorruptEvent, e.ID)
	}

	var violations []string

	title := strings.TrimSpace(e.Title)
	switch {
	case title == "":
		violations = append(violations, fmt.Sprintf("event %s: blank title", e.ID))
	case len(title) < minTitleLen:
		violations = append(violations, fmt.Sprintf("event %s: title %q shorter than %d characters", e.ID, title, minTitleLen))
	case len(title) > maxTitleLen:
		violations = append(violations, fmt.Sprintf("event %s: title longer than %d characters", e.ID, maxTitleLen))
	}

	if e.AllDay {
		// All-day events span inclusive whole days, so start == end is a
		// legal single-day event. They must start at midnight.
		if e.End.Before(e.Start) {
			violations = append(violations, fmt.Sprintf("event %s: all-day end %s before start %s", e.ID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339)))
		}
		if h, m, s := e.Start.Hour(), e.Start.Minute(), e.Start.Second(); h != 0 || m != 0 || s != 0 {
			violations = append(violations, fmt.Sprintf("event %s: all-day event does not start at midnight", e.ID))
		}
	} else {
		if !e.Start.Before(e.End) {
			violations = append(violations, fmt.Sprintf("event %s: start %s is not before end %s", e.ID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339)))
		}
		if !e.SpansMultipleDays() && e.Duration() > maxTimedDuration {
			violations = append(violations, fmt.Sprintf("event %s: duration %s exceeds 24h", e.ID, e.Duration()))
		}
	}

	if e.MultiDay != e.SpansMultipleDays() {
		violations = append(violations, fmt.Sprintf("event %s: multi-day flag %t inconsistent with dates", e.ID, e.MultiDay))
	}

	return violations, nil
}

// ValidateAll validates every event and aggregates the violations. The first
// corrupt event aborts with its error.
func ValidateAll(events []Event) ([]string, error) {
	var all []string
	for _, e := range events {
		v, err := Validate(e)
		if err != nil {
			return nil, err
		}
		all = append(all, v...)
	}
	return all, nil
}
