package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/calsnap/calsnap/internal/config"
	"github.com/calsnap/calsnap/internal/history"
	"github.com/calsnap/calsnap/internal/model"
	"github.com/calsnap/calsnap/internal/snapshot"
)

const (
	otelScope       = "calsnap/sync"
	spanAttempt     = "sync.attempt"
	metricAttempts  = "calsnap.sync.attempts"
	metricSuccesses = "calsnap.sync.successes"
	metricFailures  = "calsnap.sync.failures"
	metricEvents    = "calsnap.sync.events.fetched"
	metricWarnings  = "calsnap.sync.validation.warnings"
	metricConflicts = "calsnap.sync.conflicts"
)

// Options wires an Engine to its collaborators. Config, Auth, Source, and
// Snapshots are required; History may be nil (attempts are then not
// persisted). A nil Clock means real time.
type Options struct {
	Config    ConfigSource
	Auth      Authenticator
	Source    EventSource
	Snapshots SnapshotStore
	History   HistoryStore
	SourceID  string
	Clock     Clock
	Logger    *slog.Logger
}

// Engine is the sync state machine. It owns the published [State], enforces
// the at-most-one-concurrent-sync invariant, and drives each attempt through
// precondition checks, fetch, reconciliation, and persistence.
//
// Create one per process with [NewEngine]; there is no ambient singleton.
type Engine struct {
	config    ConfigSource
	auth      Authenticator
	source    EventSource
	snapshots SnapshotStore
	history   HistoryStore
	sourceID  string
	clock     Clock
	log       *slog.Logger

	// running is the mutual-exclusion flag, flipped with compare-and-swap so
	// two concurrent RunSync calls can never both proceed.
	running atomic.Bool

	// cancelled is the cooperative cancellation flag, re-armed at the start
	// of each public call and checked before every retry attempt and delay.
	cancelled atomic.Bool

	mu    stdsync.Mutex
	state State
	stats history.Statistics
	bcast *broadcaster

	tracer       trace.Tracer
	cntAttempts  metric.Int64Counter
	cntSuccesses metric.Int64Counter
	cntFailures  metric.Int64Counter
	cntEvents    metric.Int64Counter
	cntWarnings  metric.Int64Counter
	cntConflicts metric.Int64Counter
}

// NewEngine creates an Engine and hydrates its state from the persisted
// snapshot and attempt history, so freshness checks and statistics survive a
// restart. A corrupt snapshot triggers the store's backup-restore path.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	e := &Engine{
		config:    opts.Config,
		auth:      opts.Auth,
		source:    opts.Source,
		snapshots: opts.Snapshots,
		history:   opts.History,
		sourceID:  opts.SourceID,
		clock:     clock,
		log:       logger,
		bcast:     newBroadcaster(),

		tracer:       tracer,
		cntAttempts:  mustCounter(metricAttempts, "Number of sync attempts started"),
		cntSuccesses: mustCounter(metricSuccesses, "Number of successful sync attempts"),
		cntFailures:  mustCounter(metricFailures, "Number of failed sync attempts"),
		cntEvents:    mustCounter(metricEvents, "Number of events retrieved by successful syncs"),
		cntWarnings:  mustCounter(metricWarnings, "Number of event validation warnings"),
		cntConflicts: mustCounter(metricConflicts, "Number of overlapping event pairs detected"),
	}

	e.hydrate()
	return e
}

// hydrate restores LastSyncTime and statistics from the persisted stores.
func (e *Engine) hydrate() {
	doc, err := e.snapshots.Read()
	if errors.Is(err, snapshot.ErrCorrupt) {
		e.log.Warn("snapshot corrupt, restoring from backup", "error", err)
		if restoreErr := e.snapshots.RestoreFromBackup(); restoreErr != nil {
			e.log.Error("snapshot restore failed", "error", restoreErr)
		} else {
			doc, err = e.snapshots.Read()
		}
	}
	if err == nil && doc != nil && doc.LastSyncTime != nil {
		e.state.Status = StatusSuccess
		e.state.LastSyncTime = *doc.LastSyncTime
		e.state.LastEventCount = doc.EventCount
	}

	if e.history != nil {
		stats, err := e.history.LoadStatistics(context.Background())
		if err != nil {
			e.log.Warn("loading sync statistics", "error", err)
			return
		}
		e.stats = stats
	}
}

// State returns the current state snapshot. Never blocks on a running sync.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Statistics returns the cumulative sync counters.
func (e *Engine) Statistics() history.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// ObserveState subscribes to state transitions. Every transition is pushed in
// order; a subscriber that falls more than subscriberBuffer snapshots behind
// misses the intermediate ones. The cancel func releases the subscription.
func (e *Engine) ObserveState() (<-chan State, func()) {
	ch, cancel := e.bcast.subscribe()

	// Seed the stream so new observers render something immediately.
	e.mu.Lock()
	st := e.state
	e.mu.Unlock()
	select {
	case ch <- st:
	default:
	}

	return ch, cancel
}

// Cancel transitions an in-flight or scheduled sync to CANCELLED and stops
// any retry loop before its next attempt. Idempotent; a terminal state is
// left alone. An already-committed snapshot write is not rolled back.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status == StatusInProgress || e.state.Status == StatusScheduled {
		e.state.Status = StatusCancelled
		e.bcast.publish(e.state)
	}
}

// RunSync performs one sync attempt. With force unset, it short-circuits to
// an up-to-date success when the last successful sync is newer than the
// configured cadence. Returns [ErrAlreadyInProgress] if an attempt is
// already running.
func (e *Engine) RunSync(ctx context.Context, force bool) (Result, error) {
	e.cancelled.Store(false)
	return e.runAttempt(ctx, force, 1)
}

// RunSyncWithRetry performs sync attempts until one succeeds, a fatal error
// occurs, or the budget is exhausted, sleeping the backoff delay after each
// retryable failure. maxRetries <= 0 means the configured budget.
// Cancellation is re-checked before every attempt and interrupts the delay.
func (e *Engine) RunSyncWithRetry(ctx context.Context, maxRetries int) (Result, error) {
	e.cancelled.Store(false)

	base := 5 * time.Minute
	if cfg, err := e.config.LoadConfig(); err == nil {
		base = cfg.Retry.BaseDelay
		if maxRetries <= 0 {
			maxRetries = cfg.Retry.MaxRetries
		}
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var (
		res     Result
		lastErr error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if e.cancelled.Load() {
			return res, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res, lastErr = e.runAttempt(ctx, false, attempt)
		if lastErr == nil {
			return res, nil
		}
		if !ShouldRetry(lastErr, attempt, maxRetries) {
			return res, lastErr
		}

		delay := Delay(attempt, base)
		e.log.Warn("sync attempt failed, backing off",
			"attempt", attempt,
			"max_retries", maxRetries,
			"delay", delay,
			"error", lastErr,
		)
		if err := e.clock.Sleep(ctx, delay); err != nil {
			return res, err
		}
	}

	return res, fmt.Errorf("sync failed after %d attempts: %w", maxRetries, lastErr)
}

// runAttempt drives a single attempt end-to-end. attempt is 1-based and only
// affects the published RetryCount.
func (e *Engine) runAttempt(ctx context.Context, force bool, attempt int) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyInProgress
	}
	defer e.running.Store(false)

	start := e.clock.Now()
	attemptID := uuid.NewString()

	ctx, span := e.tracer.Start(ctx, spanAttempt, trace.WithAttributes(
		attribute.String("sync.attempt_id", attemptID),
		attribute.Int("sync.attempt", attempt),
		attribute.Bool("sync.force", force),
	))
	defer span.End()
	e.cntAttempts.Add(ctx, 1)

	e.transition(func(s *State) {
		s.Status = StatusInProgress
		s.RetryCount = attempt - 1
		s.LastError = ""
	})

	cfg, err := e.config.LoadConfig()
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return e.fail(ctx, span, start, attemptID, fmt.Errorf("%w: %v", ErrConfigurationMissing, err))
		}
		return e.fail(ctx, span, start, attemptID, fmt.Errorf("%w: loading: %v", ErrConfigurationMissing, err))
	}
	e.transition(func(s *State) { s.MaxRetries = cfg.Retry.MaxRetries })

	now := e.clock.Now()

	// Freshness short-circuit: a recent successful sync makes this attempt an
	// idempotent no-op unless forced.
	if !force {
		e.mu.Lock()
		last := e.state.LastSyncTime
		e.mu.Unlock()
		if !last.IsZero() && now.Sub(last) < cfg.Cadence() {
			e.log.Info("snapshot is fresh, skipping sync",
				"last_sync", last,
				"cadence", cfg.Cadence(),
			)
			e.transition(func(s *State) {
				if s.Status == StatusInProgress {
					s.Status = StatusSuccess
				}
			})
			span.SetAttributes(attribute.Bool("sync.up_to_date", true))
			return Result{Status: StatusSuccess, UpToDate: true}, nil
		}
	}

	if !e.auth.IsAuthenticated(ctx) {
		return e.fail(ctx, span, start, attemptID, ErrNotAuthenticated)
	}

	raw, err := e.source.FetchEvents(ctx, e.sourceID, cfg.MaxEvents, cfg.LookaheadWeeks)
	if err != nil {
		return e.fail(ctx, span, start, attemptID, &NetworkError{Err: err})
	}

	// Per-event validation findings are warnings on the result; only corrupt
	// data aborts the batch.
	warnings, err := model.ValidateAll(raw)
	if err != nil {
		return e.fail(ctx, span, start, attemptID, fmt.Errorf("validating fetched events: %w", err))
	}

	events := Normalize(raw, now)
	conflicts := model.FindConflicts(events)

	doc := &snapshot.Document{
		LastSyncTime: &now,
		Status:       StatusSuccess.String(),
		EventCount:   len(events),
		Events:       events,
	}
	if err := e.snapshots.Write(doc); err != nil {
		return e.fail(ctx, span, start, attemptID, &PersistenceError{Err: err})
	}

	duration := e.clock.Now().Sub(start)
	next := NextRun(now, cfg.Cadence(), cfg.QuietHours)

	e.transition(func(s *State) {
		// A Cancel that landed mid-flight wins the status; the committed
		// snapshot stays.
		if s.Status != StatusCancelled {
			s.Status = StatusSuccess
		}
		s.LastSyncTime = now
		s.NextSyncTime = next
		s.LastEventCount = len(events)
		s.LastError = ""
		s.LastDuration = duration

		e.stats.TotalAttempts++
		e.stats.Successes++
		e.stats.TotalEvents += len(events)
		e.stats.CurrentStreak++
		if e.stats.CurrentStreak > e.stats.LongestStreak {
			e.stats.LongestStreak = e.stats.CurrentStreak
		}
		e.stats.AvgDuration += (duration - e.stats.AvgDuration) / time.Duration(e.stats.TotalAttempts)
	})

	e.recordAttempt(ctx, history.Attempt{
		ID:         attemptID,
		StartedAt:  start,
		Duration:   duration,
		Status:     "success",
		EventCount: len(events),
	})

	e.cntSuccesses.Add(ctx, 1)
	e.cntEvents.Add(ctx, int64(len(events)))
	if len(warnings) > 0 {
		e.cntWarnings.Add(ctx, int64(len(warnings)))
	}
	if len(conflicts) > 0 {
		e.cntConflicts.Add(ctx, int64(len(conflicts)))
	}
	span.SetAttributes(
		attribute.Int("sync.events", len(events)),
		attribute.Int("sync.warnings", len(warnings)),
		attribute.Int("sync.conflicts", len(conflicts)),
	)

	e.log.Info("sync complete",
		"attempt_id", attemptID,
		"events", len(events),
		"warnings", len(warnings),
		"conflicts", len(conflicts),
		"duration", duration,
		"next_sync", next,
	)

	return Result{
		Status:     StatusSuccess,
		EventCount: len(events),
		Warnings:   warnings,
		Conflicts:  conflicts,
		Duration:   duration,
	}, nil
}

// fail finalises a failed attempt: ERROR transition, statistics, history row,
// telemetry. Returns an empty result and the error for the caller to
// classify.
func (e *Engine) fail(ctx context.Context, span trace.Span, start time.Time, attemptID string, err error) (Result, error) {
	duration := e.clock.Now().Sub(start)

	e.transition(func(s *State) {
		if s.Status != StatusCancelled {
			s.Status = StatusError
		}
		s.LastError = err.Error()
		s.LastDuration = duration
		if s.RetryCount < s.MaxRetries {
			s.RetryCount++
		}

		e.stats.TotalAttempts++
		e.stats.Failures++
		e.stats.CurrentStreak = 0
		e.stats.AvgDuration += (duration - e.stats.AvgDuration) / time.Duration(e.stats.TotalAttempts)
	})

	e.recordAttempt(ctx, history.Attempt{
		ID:        attemptID,
		StartedAt: start,
		Duration:  duration,
		Status:    "error",
		Error:     err.Error(),
	})

	e.cntFailures.Add(ctx, 1)
	span.RecordError(err)

	e.log.Error("sync attempt failed", "attempt_id", attemptID, "error", err)
	return Result{Status: StatusError, Duration: duration}, err
}

// transition applies fn to the state under the lock and publishes the new
// snapshot. Statistics mutated inside fn are atomic with the transition.
func (e *Engine) transition(fn func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.state)
	e.bcast.publish(e.state)
}

// markScheduled records the next trigger time set by the scheduler. Only a
// state with no attempt in flight may move to SCHEDULED; re-arming an
// already scheduled state updates the trigger time.
func (e *Engine) markScheduled(next time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status == StatusSuccess || e.state.Status == StatusNeverSynced || e.state.Status == StatusScheduled {
		e.state.Status = StatusScheduled
		e.state.NextSyncTime = next
		e.bcast.publish(e.state)
	}
}

func (e *Engine) recordAttempt(ctx context.Context, a history.Attempt) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordAttempt(ctx, a); err != nil {
		e.log.Warn("recording sync attempt", "attempt_id", a.ID, "error", err)
	}
}
