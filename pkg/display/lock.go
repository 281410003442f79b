package display

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Locker is the GUI lock that guards every display tree mutation.
type Locker interface {
	// Lock tries to acquire the lock within timeout.
	Lock(timeout time.Duration) bool
	Unlock()
}

// LockPolicy bounds LockWithRetry.
type LockPolicy struct {
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

// DefaultLockPolicy is 5 attempts of 200ms each, 50ms apart.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		Timeout:  200 * time.Millisecond,
		Attempts: 5,
		Delay:    50 * time.Millisecond,
	}
}

// sleepFunc is replaced in tests.
var sleepFunc = time.Sleep

// LockWithRetry acquires l, retrying per p. It never blocks longer than
// Attempts*(Timeout+Delay).
func LockWithRetry(l Locker, p LockPolicy) bool {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if l.Lock(p.Timeout) {
			if attempt > 1 {
				logrus.WithField("attempt", attempt).Debug("display lock acquired after retry")
			}
			return true
		}
		logrus.WithField("attempt", attempt).Trace("display lock busy")
		if attempt < attempts && p.Delay > 0 {
			sleepFunc(p.Delay)
		}
	}

	logrus.WithField("attempts", attempts).Warn("failed to acquire display lock")
	return false
}
