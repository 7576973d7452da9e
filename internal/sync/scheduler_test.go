package sync

import (
	"testing"
	"time"

	"github.com/calsnap/calsnap/internal/config"
)

// ---------------------------------------------------------------------------
// NextRun: cadence plus quiet-hours deferral
// ---------------------------------------------------------------------------

func TestNextRun_NoQuietHours(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got := NextRun(now, 4*time.Hour, nil)
	want := now.Add(4 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRun_OutsideQuietWindow(t *testing.T) {
	// 19:00 + 4h = 23:00, outside a 06:00-22:00 window.
	now := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	quiet := &config.QuietHours{StartHour: 6, EndHour: 22}

	got := NextRun(now, 4*time.Hour, quiet)
	want := now.Add(4 * time.Hour) // 23:00, untouched
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRun_DeferredToWindowEnd(t *testing.T) {
	// 08:00 + 4h = 12:00, inside a 09:00–17:00 window: pushed to 17:00.
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	quiet := &config.QuietHours{StartHour: 9, EndHour: 17}

	got := NextRun(now, 4*time.Hour, quiet)
	want := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRun_WrappingWindowPastMidnight(t *testing.T) {
	// 22:00 + 1h = 23:00, inside a 22:00–06:00 wrapping window: the window
	// ends at 06:00 the next day.
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	quiet := &config.QuietHours{StartHour: 22, EndHour: 6}

	got := NextRun(now, time.Hour, quiet)
	want := time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRun_WrappingWindowEarlyMorning(t *testing.T) {
	// 01:00 + 2h = 03:00, inside the same wrapping window, still before its
	// end on this calendar day.
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	quiet := &config.QuietHours{StartHour: 22, EndHour: 6}

	got := NextRun(now, 2*time.Hour, quiet)
	want := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRun_NonWrappingWindowIgnoresNightHours(t *testing.T) {
	// 21:00 + 2h = 23:00, a 06:00–22:00 window does not cover 23:00.
	now := time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)
	quiet := &config.QuietHours{StartHour: 6, EndHour: 22}

	got := NextRun(now, 2*time.Hour, quiet)
	want := now.Add(2 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("NextRun = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Scheduler: arming and cancelling the periodic trigger
// ---------------------------------------------------------------------------

func TestScheduler_ScheduleMarksEngineScheduled(t *testing.T) {
	deps := newTestDeps()
	e := deps.engine()
	s := NewScheduler(e, testLogger)

	s.Schedule(4*time.Hour, nil)

	st := e.State()
	if st.Status != StatusScheduled {
		t.Errorf("status = %v, want %v", st.Status, StatusScheduled)
	}
	if st.NextSyncTime.IsZero() {
		t.Error("NextSyncTime should be set after scheduling")
	}
}

func TestScheduler_ScheduleIsIdempotent(t *testing.T) {
	deps := newTestDeps()
	e := deps.engine()
	s := NewScheduler(e, testLogger)

	s.Schedule(4*time.Hour, nil)
	first := e.State().NextSyncTime
	s.Schedule(8*time.Hour, nil)

	// The second call replaces the trigger rather than stacking a duplicate.
	entries := s.cron.Entries()
	if len(entries) != 1 {
		t.Errorf("cron entries = %d, want 1", len(entries))
	}
	if !e.State().NextSyncTime.After(first) {
		t.Errorf("NextSyncTime = %v, want later than the 4h trigger %v", e.State().NextSyncTime, first)
	}
}

func TestScheduler_CancelScheduledIsIdempotent(t *testing.T) {
	deps := newTestDeps()
	e := deps.engine()
	s := NewScheduler(e, testLogger)

	s.Schedule(4*time.Hour, nil)
	s.CancelScheduled()
	s.CancelScheduled() // second call is a no-op

	if entries := s.cron.Entries(); len(entries) != 0 {
		t.Errorf("cron entries = %d, want 0 after cancel", len(entries))
	}
}

func TestCadenceSchedule_Next(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cs := cadenceSchedule{cadence: 4 * time.Hour, quiet: &config.QuietHours{StartHour: 15, EndHour: 18}}

	got := cs.Next(now)
	want := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC) // 16:00 deferred to 18:00
	if !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}
