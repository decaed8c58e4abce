// Package broadcast coalesces bursts of session changes into rate-limited
// leaderboard pushes.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/findosh/mingle/internal/models"
)

// DefaultInterval is the minimum spacing between leaderboard pushes per session
const DefaultInterval = 5 * time.Second

const readTimeout = 10 * time.Second

// Publisher fans an event out to every subscriber of a session room.
// Delivery is best effort.
type Publisher interface {
	Publish(sessionID, event string, payload interface{}) error
}

// LeaderboardSource reads the current leaderboard of a session
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, sessionID string) (*models.Leaderboard, error)
}

// Throttler owns the per-session emission state for one server process.
type Throttler struct {
	interval  time.Duration
	source    LeaderboardSource
	publisher Publisher

	mu       sync.Mutex
	sessions map[string]*sessionTimer

	closeMu sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

type sessionTimer struct {
	mu          sync.Mutex
	lastEmitted time.Time
	scheduled   bool
}

// NewThrottler creates a throttler. A non-positive interval uses DefaultInterval.
func NewThrottler(interval time.Duration, source LeaderboardSource, publisher Publisher) *Throttler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttler{
		interval:  interval,
		source:    source,
		publisher: publisher,
		sessions:  make(map[string]*sessionTimer),
	}
}

// Notify records that sessionID changed. It returns immediately; the
// leaderboard is read and published on another goroutine, either right away
// or once the interval since the last push has elapsed. Notifications that
// arrive while a push is pending are absorbed into it.
func (t *Throttler) Notify(sessionID string) {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return
	}

	st := t.timerFor(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.scheduled {
		return
	}

	now := time.Now()
	if st.lastEmitted.IsZero() || now.Sub(st.lastEmitted) >= t.interval {
		st.lastEmitted = now
		t.pending.Add(1)
		go func() {
			defer t.pending.Done()
			t.emit(sessionID)
		}()
		return
	}

	st.scheduled = true
	delay := st.lastEmitted.Add(t.interval).Sub(now)
	t.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer t.pending.Done()

		// Clear the flag before reading so changes made during the read
		// schedule another push instead of being absorbed.
		st.mu.Lock()
		st.scheduled = false
		st.lastEmitted = time.Now()
		st.mu.Unlock()

		t.emit(sessionID)
	})
}

// Close stops accepting notifications and waits for pending pushes to fire.
func (t *Throttler) Close() {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	t.pending.Wait()
}

func (t *Throttler) timerFor(sessionID string) *sessionTimer {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.sessions[sessionID]
	if !ok {
		st = &sessionTimer{}
		t.sessions[sessionID] = st
	}
	return st
}

// emit always reads fresh state, so a deferred push carries every change
// made while it waited.
func (t *Throttler) emit(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	board, err := t.source.Leaderboard(ctx, sessionID)
	if err != nil {
		log.Printf("broadcast: failed to read leaderboard for %s: %v", sessionID, err)
		return
	}
	if board == nil {
		return
	}

	if err := t.publisher.Publish(sessionID, EventLeaderboard, board); err != nil {
		log.Printf("broadcast: failed to publish leaderboard for %s: %v", sessionID, err)
	}
}
