package sync

import (
	"sync"
	"time"

	"github.com/calsnap/calsnap/internal/model"
)

// Status is the engine's lifecycle state.
//
// Legal transitions:
//
//	NEVER_SYNCED → IN_PROGRESS → {SUCCESS, ERROR}
//	ERROR        → IN_PROGRESS  (retry)
//	SUCCESS      → SCHEDULED → IN_PROGRESS
//	any non-terminal → CANCELLED
type Status int

const (
	StatusNeverSynced Status = iota
	StatusInProgress
	StatusSuccess
	StatusError
	StatusScheduled
	StatusCancelled
)

// String returns the stable token used in logs and the snapshot document.
func (s Status) String() string {
	switch s {
	case StatusNeverSynced:
		return "never_synced"
	case StatusInProgress:
		return "in_progress"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusScheduled:
		return "scheduled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is the engine's published snapshot. Observers receive copies, never a
// mutable reference.
type State struct {
	Status         Status
	LastSyncTime   time.Time
	NextSyncTime   time.Time
	LastEventCount int
	LastError      string
	RetryCount     int
	MaxRetries     int
	LastDuration   time.Duration
}

// Result is the outcome of a single RunSync or RunSyncWithRetry call.
type Result struct {
	Status     Status
	EventCount int

	// UpToDate is set when the call short-circuited because the last
	// successful sync is newer than the cadence; no fetch happened.
	UpToDate bool

	// Warnings are per-event validation findings. They never abort a sync.
	Warnings []string

	// Conflicts are overlapping event pairs in the persisted set.
	// Diagnostics only.
	Conflicts []model.Conflict

	Duration time.Duration
}

// subscriberBuffer is the per-observer channel capacity. A slow observer
// misses intermediate snapshots rather than stalling a transition; the
// latest state is always available via [Engine.State].
const subscriberBuffer = 16

// broadcaster fans state snapshots out to subscribers, preserving the
// transition order for every observer that keeps up.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan State
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan State)}
}

// subscribe registers a new observer. The returned cancel func is idempotent
// and closes the channel.
func (b *broadcaster) subscribe() (chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan State, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish pushes a snapshot to every subscriber without blocking.
func (b *broadcaster) publish(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default: // observer buffer full, drop this snapshot for them
		}
	}
}
