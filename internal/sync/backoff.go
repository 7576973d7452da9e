package sync

import "time"

// Delay computes the exponential backoff delay for a 1-based attempt number:
// base * 2^(attempt-1). Delay(n+1) is always exactly twice Delay(n).
func Delay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 62 bits would overflow time.Duration; no real retry
	// budget gets anywhere near this.
	if attempt > 32 {
		attempt = 32
	}
	return base << (attempt - 1)
}
