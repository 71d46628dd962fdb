// Package schedule provides the single deferred expiry callback armed per
// session. Timers live only in process memory; a restart loses them and
// over-deadline sessions are expired lazily on next load instead.
package schedule

import (
	"sync"
	"time"
)

// Callback receives the session id whose deadline fired.
type Callback func(sessionID string)

// Scheduler arms at most one pending callback per session id. Arming
// again replaces the prior timer; Cancel is a no-op for unknown ids.
type Scheduler interface {
	Arm(sessionID string, deadline time.Time, fn Callback)
	Cancel(sessionID string)
}

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// TimerScheduler is the time.AfterFunc-backed implementation. A
// per-entry generation guards against a stale timer firing after it was
// cancelled or replaced but before Stop took effect.
type TimerScheduler struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	gen     uint64
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{entries: make(map[string]*timerEntry)}
}

func (ts *TimerScheduler) Arm(sessionID string, deadline time.Time, fn Callback) {
	if sessionID == "" || fn == nil {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if prev, ok := ts.entries[sessionID]; ok {
		prev.timer.Stop()
	}
	ts.gen++
	gen := ts.gen
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	entry := &timerEntry{gen: gen}
	entry.timer = time.AfterFunc(d, func() {
		ts.mu.Lock()
		cur, ok := ts.entries[sessionID]
		if !ok || cur.gen != gen {
			ts.mu.Unlock()
			return
		}
		delete(ts.entries, sessionID)
		ts.mu.Unlock()
		fn(sessionID)
	})
	ts.entries[sessionID] = entry
}

func (ts *TimerScheduler) Cancel(sessionID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if entry, ok := ts.entries[sessionID]; ok {
		entry.timer.Stop()
		delete(ts.entries, sessionID)
	}
}

// Stop cancels every pending timer, used on shutdown.
func (ts *TimerScheduler) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, entry := range ts.entries {
		entry.timer.Stop()
		delete(ts.entries, id)
	}
}
