package tasks

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of timers a Registry can hold.
const DefaultCapacity = 8

// Timer is a periodic task owned by the GUI toolkit.
type Timer interface {
	Pause()
	Resume()
	// Ready makes the timer run on the next loop iteration regardless of
	// its period.
	Ready()
}

// TimerSource enumerates the toolkit's live timers.
type TimerSource interface {
	Timers() []Timer
}

// Registry pauses a bounded set of timers while the display is off and
// resumes them on wake. Callers hold the display lock.
type Registry struct {
	source   TimerSource
	capacity int

	mu        sync.Mutex
	suspended []Timer
}

// NewRegistry returns a Registry. A non-positive capacity means
// DefaultCapacity.
func NewRegistry(source TimerSource, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		source:    source,
		capacity:  capacity,
		suspended: make([]Timer, 0, capacity),
	}
}

// SuspendAll pauses live timers in enumeration order until the registry is
// full. Timers beyond capacity keep running. It returns the number paused.
func (r *Registry) SuspendAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.suspended) > 0 {
		logrus.WithField("count", len(r.suspended)).Warn("timers still suspended from a previous cycle, resuming them first")
		r.resumeLocked()
	}

	live := r.source.Timers()
	for _, t := range live {
		if len(r.suspended) >= r.capacity {
			break
		}
		t.Pause()
		r.suspended = append(r.suspended, t)
		logrus.WithField("index", len(r.suspended)-1).Trace("paused timer")
	}

	switch {
	case len(live) > r.capacity:
		logrus.WithFields(logrus.Fields{
			"capacity": r.capacity,
			"live":     len(live),
		}).Warn("timer pause limit reached, some timers not paused")
	case len(live) == 0:
		logrus.Info("no timers found to pause")
	}

	logrus.WithField("count", len(r.suspended)).Info("paused timers")
	return len(r.suspended)
}

// ResumeAll resumes every suspended timer and forces it ready so the first
// refresh after wake happens immediately. It is a no-op when nothing is
// suspended.
func (r *Registry) ResumeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.resumeLocked()
	if n > 0 {
		logrus.WithField("count", n).Info("resumed timers")
	}
	return n
}

func (r *Registry) resumeLocked() int {
	n := len(r.suspended)
	for i, t := range r.suspended {
		t.Resume()
		t.Ready()
		r.suspended[i] = nil
		logrus.WithField("index", i).Trace("resumed timer")
	}
	r.suspended = r.suspended[:0]
	return n
}

// Len returns the number of suspended timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.suspended)
}

// Capacity returns the maximum number of timers the registry holds.
func (r *Registry) Capacity() int {
	return r.capacity
}
