package relay

import (
	"sync"
	"time"
)

// Reaper tracks one inactivity deadline per session and fires the expire
// callback when a session goes untouched past the idle window. The timer
// set is owned here exclusively; callers interact only through Schedule,
// Touch, and Cancel.
type Reaper struct {
	idle   time.Duration
	expire func(sessionID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewReaper constructs a Reaper with the given idle window. expire runs on
// the timer goroutine when a deadline lapses.
func NewReaper(idle time.Duration, expire func(sessionID string)) *Reaper {
	return &Reaper{
		idle:   idle,
		expire: expire,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms the inactivity deadline for a new session.
func (rp *Reaper) Schedule(sessionID string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if _, ok := rp.timers[sessionID]; ok {
		return
	}
	rp.timers[sessionID] = time.AfterFunc(rp.idle, func() {
		rp.fired(sessionID)
	})
}

// Touch pushes the session's deadline out to now + idle window. Cheap: a
// map lookup and a timer reset, no I/O. Touching an unscheduled session is
// a no-op.
func (rp *Reaper) Touch(sessionID string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if t, ok := rp.timers[sessionID]; ok {
		t.Reset(rp.idle)
	}
}

// Cancel stops a session's pending deadline so it cannot fire against a
// removed or reused id. Idempotent.
func (rp *Reaper) Cancel(sessionID string) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if t, ok := rp.timers[sessionID]; ok {
		t.Stop()
		delete(rp.timers, sessionID)
	}
}

// CancelAll stops every pending deadline. Used during shutdown.
func (rp *Reaper) CancelAll() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	for id, t := range rp.timers {
		t.Stop()
		delete(rp.timers, id)
	}
}

// fired runs on deadline expiry. A timer that lost the race against Cancel
// finds its entry gone and does nothing.
func (rp *Reaper) fired(sessionID string) {
	rp.mu.Lock()
	_, ok := rp.timers[sessionID]
	if ok {
		delete(rp.timers, sessionID)
	}
	rp.mu.Unlock()
	if ok {
		rp.expire(sessionID)
	}
}
