package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/calsnap/calsnap/internal/config"
	"github.com/calsnap/calsnap/internal/history"
	"github.com/calsnap/calsnap/internal/model"
	"github.com/calsnap/calsnap/internal/snapshot"
)

// --- Mock Config Source ------------------------------------------------------

type mockConfig struct {
	mu  stdsync.Mutex
	cfg *config.SyncConfig
	err error
}

func newMockConfig() *mockConfig {
	return &mockConfig{
		cfg: &config.SyncConfig{
			Enabled:        true,
			CadenceHours:   4,
			LookaheadWeeks: 4,
			MaxEvents:      500,
			Retry: config.RetryConfig{
				Enabled:    true,
				MaxRetries: 3,
				BaseDelay:  5 * time.Minute,
			},
		},
	}
}

func (m *mockConfig) LoadConfig() (*config.SyncConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cp := *m.cfg
	return &cp, nil
}

func (m *mockConfig) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// --- Mock Authenticator ------------------------------------------------------

type mockAuth struct {
	authenticated bool
}

func (m *mockAuth) IsAuthenticated(context.Context) bool { return m.authenticated }

// --- Mock Event Source -------------------------------------------------------

type mockSource struct {
	mu     stdsync.Mutex
	events []model.Event
	err    error

	// failures is the number of calls that return err before the source
	// starts succeeding. Negative means fail forever.
	failures int
	calls    int

	// block, when non-nil, is received from before FetchEvents returns.
	block chan struct{}
}

func newMockSource(events ...model.Event) *mockSource {
	return &mockSource{events: events}
}

func (m *mockSource) FetchEvents(_ context.Context, _ string, maxCount, _ int) ([]model.Event, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil && (m.failures < 0 || call <= m.failures) {
		return nil, m.err
	}
	events := make([]model.Event, len(m.events))
	copy(events, m.events)
	if maxCount > 0 && len(events) > maxCount {
		events = events[:maxCount]
	}
	return events, nil
}

func (m *mockSource) failWith(err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failures = times
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock Snapshot Store -----------------------------------------------------

type mockSnapshots struct {
	mu       stdsync.Mutex
	doc      *snapshot.Document
	backup   *snapshot.Document
	corrupt  bool
	writeErr error
	writes   int
}

func newMockSnapshots() *mockSnapshots {
	return &mockSnapshots{}
}

func (m *mockSnapshots) Write(doc *snapshot.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.backup = m.doc
	cp := *doc
	m.doc = &cp
	m.writes++
	return nil
}

func (m *mockSnapshots) Read() (*snapshot.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.corrupt {
		return nil, snapshot.ErrCorrupt
	}
	if m.doc == nil {
		return nil, snapshot.ErrNotFound
	}
	cp := *m.doc
	return &cp, nil
}

func (m *mockSnapshots) RestoreFromBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return errors.New("no backup available")
	}
	m.doc = m.backup
	m.corrupt = false
	return nil
}

func (m *mockSnapshots) current() *snapshot.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc
}

func (m *mockSnapshots) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// --- Mock History Store ------------------------------------------------------

type mockHistory struct {
	mu       stdsync.Mutex
	attempts []history.Attempt
	stats    history.Statistics
}

func newMockHistory() *mockHistory {
	return &mockHistory{}
}

func (m *mockHistory) RecordAttempt(_ context.Context, a history.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *mockHistory) LoadStatistics(context.Context) (history.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats, nil
}

func (m *mockHistory) recorded() []history.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]history.Attempt, len(m.attempts))
	copy(cp, m.attempts)
	return cp
}

// --- Fake Clock --------------------------------------------------------------

// fakeClock advances instantly through Sleep calls and records the total
// slept duration, so backoff tests finish in microseconds.
type fakeClock struct {
	mu      stdsync.Mutex
	now     time.Time
	slept   time.Duration
	sleeps  []time.Duration
	onSleep func()
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps = append(c.sleeps, d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeClock) totalSlept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

func (c *fakeClock) sleepLog() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]time.Duration, len(c.sleeps))
	copy(cp, c.sleeps)
	return cp
}
