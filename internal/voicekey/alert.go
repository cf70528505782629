package voicekey

import (
	"sync"
	"time"
)

// Scheduler fires an alert callback a fixed delay after a voice onset.
type Scheduler struct {
	Delay time.Duration
}

// Alert is a scheduled, cancellable one-shot alert timer.
type Alert struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
}

// Schedule arms a timer firing fn exactly Delay after onset, measured on the
// monotonic clock. If that point is already past, fn fires immediately. The
// fire/cancel decision is made under one lock, so regardless of
// interleaving fn runs either exactly once or not at all.
func (s *Scheduler) Schedule(onset time.Time, fn func()) *Alert {
	a := &Alert{}

	wait := time.Until(onset.Add(s.Delay))
	if wait < 0 {
		wait = 0
	}

	a.timer = time.AfterFunc(wait, func() {
		a.mu.Lock()
		if a.cancelled || a.fired {
			a.mu.Unlock()
			return
		}
		a.fired = true
		a.mu.Unlock()
		fn()
	})

	return a
}

// Cancel prevents the callback from running if it has not fired yet. After
// Cancel returns, either Fired() is already true or the callback will never
// run; a cancelled alert cannot fire afterwards.
func (a *Alert) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired {
		return
	}
	a.cancelled = true
	a.timer.Stop()
}

// Fired reports whether the callback has run.
func (a *Alert) Fired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fired
}
