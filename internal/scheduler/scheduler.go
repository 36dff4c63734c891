// Package scheduler provides cancellable timers keyed by (subscriber,
// session). Cancellation is synchronous: once Cancel returns, the callback
// will not run again, even if the timer had already fired and its goroutine
// was about to enter the callback.
package scheduler

import (
	"context"
	"sync"
	"time"

	id "kopa/pkg/domain"
)

// Key scopes a timer to one subscriber's session so residual timers from a
// prior session can never affect a new one.
type Key struct {
	MSISDN  id.MSISDN
	Session id.SessionID
}

type entry struct {
	timer     *time.Timer
	runMu     sync.Mutex
	cancelled bool
}

// Scheduler owns all pending timers. One instance is shared by the whole
// pipeline. Callbacks must not cancel or reschedule their own key; Cancel
// waits for an in-flight callback and would deadlock against it.
type Scheduler struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

func New() *Scheduler {
	return &Scheduler{entries: make(map[Key]*entry)}
}

// ScheduleRepeating runs fn every interval until the key is cancelled. A
// schedule for an existing key replaces (and cancels) the previous one.
func (s *Scheduler) ScheduleRepeating(ctx context.Context, key Key, interval time.Duration, fn func(ctx context.Context)) {
	s.schedule(ctx, key, interval, fn, true)
}

// ScheduleOnce runs fn once after delay unless cancelled first. The key is
// released after the callback runs.
func (s *Scheduler) ScheduleOnce(ctx context.Context, key Key, delay time.Duration, fn func(ctx context.Context)) {
	s.schedule(ctx, key, delay, fn, false)
}

func (s *Scheduler) schedule(ctx context.Context, key Key, interval time.Duration, fn func(ctx context.Context), repeat bool) {
	s.Cancel(key)

	e := &entry{}
	var fire func()
	fire = func() {
		e.runMu.Lock()
		if e.cancelled {
			e.runMu.Unlock()
			return
		}
		fn(ctx)
		if repeat && !e.cancelled {
			e.timer = time.AfterFunc(interval, fire)
		}
		e.runMu.Unlock()
		if !repeat {
			s.release(key, e)
		}
	}
	e.runMu.Lock()
	e.timer = time.AfterFunc(interval, fire)
	e.runMu.Unlock()

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Cancel stops the timer for key. It is idempotent and synchronous: it waits
// out a callback that is mid-flight, so no tick for the key can be observed
// after Cancel returns.
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	e.runMu.Lock()
	e.cancelled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.runMu.Unlock()
}

// CancelAll stops every pending timer; used on shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	for _, key := range keys {
		s.Cancel(key)
	}
}

// Pending reports whether a timer is registered for key.
func (s *Scheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Scheduler) release(key Key, e *entry) {
	s.mu.Lock()
	if current, ok := s.entries[key]; ok && current == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}
