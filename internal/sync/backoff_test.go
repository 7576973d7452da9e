package sync

import (
	"errors"
	"testing"
	"time"
)

func TestDelay_DoublesPerAttempt(t *testing.T) {
	base := 5 * time.Minute

	want := []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 40 * time.Minute}
	for i, w := range want {
		if got := Delay(i+1, base); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}

	// Each delay is exactly twice the previous one.
	for attempt := 1; attempt < 10; attempt++ {
		if got, next := Delay(attempt, base), Delay(attempt+1, base); next != 2*got {
			t.Errorf("Delay(%d) = %v, want twice Delay(%d) = %v", attempt+1, next, attempt, got)
		}
	}
}

func TestDelay_ClampsAttemptRange(t *testing.T) {
	base := time.Second

	if got := Delay(0, base); got != base {
		t.Errorf("Delay(0) = %v, want the base delay", got)
	}
	if got := Delay(-3, base); got != base {
		t.Errorf("Delay(-3) = %v, want the base delay", got)
	}
	if got := Delay(100, base); got != Delay(32, base) {
		t.Errorf("Delay(100) = %v, want the clamped Delay(32) = %v", got, Delay(32, base))
	}
	if Delay(100, base) <= 0 {
		t.Error("clamped delay must not overflow to a non-positive duration")
	}
}

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configuration missing", ErrConfigurationMissing, false},
		{"not authenticated", ErrNotAuthenticated, false},
		{"already in progress", ErrAlreadyInProgress, false},
		{"cancelled", ErrCancelled, false},
		{"network", &NetworkError{Err: errors.New("connection refused")}, true},
		{"persistence", &PersistenceError{Err: errors.New("disk full")}, true},
		{"generic", errors.New("something else"), true},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%s) = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestShouldRetry_RespectsBudget(t *testing.T) {
	err := &NetworkError{Err: errors.New("timeout")}

	if !ShouldRetry(err, 1, 3) {
		t.Error("attempt 1 of 3 should retry")
	}
	if !ShouldRetry(err, 3, 3) {
		t.Error("attempt 3 of 3 should still retry")
	}
	if ShouldRetry(err, 4, 3) {
		t.Error("attempt 4 of 3 must not retry")
	}
	if ShouldRetry(ErrNotAuthenticated, 1, 3) {
		t.Error("fatal errors must not retry regardless of budget")
	}
}

func TestErrorWrappers_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")

	var ne error = &NetworkError{Err: inner}
	if !errors.Is(ne, inner) {
		t.Error("NetworkError should unwrap to the inner error")
	}

	var pe error = &PersistenceError{Err: inner}
	if !errors.Is(pe, inner) {
		t.Error("PersistenceError should unwrap to the inner error")
	}
}
