// Package clock abstracts timers so that playback and verification expiry can
// be driven by virtual time in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer, false if it had already fired or been stopped.
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock backed by time.AfterFunc.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every calls f every d until the returned Timer is stopped. The next
// interval is armed only after f returns, so a slow f never overlaps itself.
func Every(c Clock, d time.Duration, f func()) Timer {
	r := &repeating{clock: c, interval: d, fn: f}
	r.arm()
	return r
}

type repeating struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	stopped bool
	current Timer
}

func (r *repeating) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.current = r.clock.AfterFunc(r.interval, r.fire)
}

func (r *repeating) fire() {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	r.fn()
	r.arm()
}

func (r *repeating) Stop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.stopped = true
	if r.current != nil {
		r.current.Stop()
	}
	return true
}
