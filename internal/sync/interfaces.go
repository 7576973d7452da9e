// Package sync implements the calendar pull-sync engine: the state machine
// that decides when a sync runs, how failures are retried, how fetched events
// are normalised and validated, and how scheduling and cancellation are
// controlled.
//
// The package contains three main components:
//
//   - [Engine] drives one sync attempt end-to-end and owns the published
//     [State].
//   - [Normalize] is the pure reconciliation step applied to fetched events.
//   - [Scheduler] runs the periodic trigger, honouring cadence and quiet
//     hours.
package sync

import (
	"context"

	"github.com/calsnap/calsnap/internal/config"
	"github.com/calsnap/calsnap/internal/history"
	"github.com/calsnap/calsnap/internal/model"
	"github.com/calsnap/calsnap/internal/snapshot"
)

// ConfigSource loads the sync configuration before each attempt.
// Implemented by [config.FileSource].
type ConfigSource interface {
	LoadConfig() (*config.SyncConfig, error)
}

// Authenticator checks the remote-auth precondition. Implemented by
// [google.Client]; ICS sources are always authenticated.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
}

// EventSource fetches raw events from the remote calendar. Implemented by
// [ics.Fetcher] and [google.Client]. The source enforces its own network
// timeout; the engine treats any fetch error as retryable.
type EventSource interface {
	FetchEvents(ctx context.Context, sourceID string, maxCount, lookaheadWeeks int) ([]model.Event, error)
}

// SnapshotStore persists the normalised event set. Writes are atomic.
// Implemented by [snapshot.Store].
type SnapshotStore interface {
	Write(doc *snapshot.Document) error
	Read() (*snapshot.Document, error)
	RestoreFromBackup() error
}

// HistoryStore records finished attempts and serves the derived statistics.
// Implemented by [history.Store].
type HistoryStore interface {
	RecordAttempt(ctx context.Context, a history.Attempt) error
	LoadStatistics(ctx context.Context) (history.Statistics, error)
}
