// Package uitimer is the in-process GUI loop: periodic UI timers, the display
// lock that guards them and the invalidation flag that gates redraws.
package uitimer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/tasks"
)

// DefaultTickInterval is the GUI loop period.
const DefaultTickInterval = 10 * time.Millisecond

var (
	_ tasks.TimerSource = &Loop{}
	_ display.Locker    = &Loop{}
	_ tasks.Timer       = &Timer{}
)

// Timer is a periodic UI task.
type Timer struct {
	name   string
	period time.Duration
	fn     func()

	mu     sync.Mutex
	paused bool
	next   time.Time
	runs   uint64
}

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Ready makes the timer due on the next loop iteration.
func (t *Timer) Ready() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = time.Time{}
}

// Paused reports whether the timer is paused.
func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Runs returns how many times the timer fired.
func (t *Timer) Runs() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

func (t *Timer) due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.period)
	t.runs++
	return true
}

// Loop runs UI timers under the display lock.
type Loop struct {
	tick time.Duration
	now  func() time.Time

	lock chan struct{}

	mu     sync.Mutex
	timers []*Timer

	invalidation atomic.Bool
	redraws      atomic.Uint64
}

// NewLoop returns a Loop. A non-positive tick means DefaultTickInterval.
func NewLoop(tick time.Duration) *Loop {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	l := &Loop{
		tick: tick,
		now:  time.Now,
		lock: make(chan struct{}, 1),
	}
	l.invalidation.Store(true)
	return l
}

// Add registers a timer that fires fn every period, starting immediately.
// fn runs with the display lock held.
func (l *Loop) Add(name string, period time.Duration, fn func()) *Timer {
	t := &Timer{name: name, period: period, fn: fn}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.timers = append(l.timers, t)
	return t
}

// Timers returns the live timers in creation order.
func (l *Loop) Timers() []tasks.Timer {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]tasks.Timer, len(l.timers))
	for i, t := range l.timers {
		out[i] = t
	}
	return out
}

// Lock acquires the display lock, waiting at most timeout.
func (l *Loop) Lock(timeout time.Duration) bool {
	select {
	case l.lock <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the display lock.
func (l *Loop) Unlock() {
	select {
	case <-l.lock:
	default:
		logrus.Warn("display lock released while not held")
	}
}

// SetInvalidation enables or disables redraw tracking.
func (l *Loop) SetInvalidation(enabled bool) {
	l.invalidation.Store(enabled)
}

// Invalidating reports whether redraw tracking is enabled.
func (l *Loop) Invalidating() bool {
	return l.invalidation.Load()
}

// Invalidate marks the screen dirty. It is dropped while invalidation is off.
func (l *Loop) Invalidate() {
	if l.invalidation.Load() {
		l.redraws.Add(1)
	}
}

// Redraws returns the number of accepted invalidations.
func (l *Loop) Redraws() uint64 {
	return l.redraws.Load()
}

// RunOnce fires every due timer. The caller holds the display lock.
func (l *Loop) RunOnce() int {
	l.mu.Lock()
	timers := make([]*Timer, len(l.timers))
	copy(timers, l.timers)
	l.mu.Unlock()

	now := l.now()
	n := 0
	for _, t := range timers {
		if t.due(now) {
			t.fn()
			n++
		}
	}
	return n
}

// Run drives the timers until ctx is done. An iteration is skipped when the
// display lock is busy.
func (l *Loop) Run(ctx context.Context) {
	logrus.WithField("tick", l.tick).Debug("ui loop started")
	defer logrus.Debug("ui loop stopped")

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.Lock(l.tick) {
				continue
			}
			l.RunOnce()
			l.Unlock()
		}
	}
}
