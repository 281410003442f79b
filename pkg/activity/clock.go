package activity

import (
	"math"
	"sync/atomic"
	"time"
)

// NowFunc returns a monotonic timestamp.
type NowFunc func() time.Duration

// Clock tracks the time since the last activity. It keeps two timestamps:
// the general one gates backlight and light sleep, the user one gates deep
// sleep and is only moved by Reset.
type Clock struct {
	now NowFunc

	lastActivity     atomic.Int64
	lastUserActivity atomic.Int64
}

// NewClock returns a Clock reset to now. A nil now uses the process
// monotonic clock.
func NewClock(now NowFunc) *Clock {
	if now == nil {
		start := time.Now()
		now = func() time.Duration { return time.Since(start) }
	}
	c := &Clock{now: now}
	c.Reset()
	return c
}

// Reset marks user activity: both timestamps move to now.
func (c *Clock) Reset() {
	n := int64(c.now())
	c.lastActivity.Store(n)
	c.lastUserActivity.Store(n)
}

// ResetActivity moves only the general timestamp.
func (c *Clock) ResetActivity() {
	c.lastActivity.Store(int64(c.now()))
}

// Inactive returns the time since the general timestamp.
func (c *Clock) Inactive() time.Duration {
	return c.since(c.lastActivity.Load())
}

// UserInactive returns the time since the user timestamp.
func (c *Clock) UserInactive() time.Duration {
	return c.since(c.lastUserActivity.Load())
}

// InactiveMs is Inactive in milliseconds, saturating at math.MaxUint32.
func (c *Clock) InactiveMs() uint32 {
	return toMs(c.Inactive())
}

// UserInactiveMs is UserInactive in milliseconds, saturating at
// math.MaxUint32.
func (c *Clock) UserInactiveMs() uint32 {
	return toMs(c.UserInactive())
}

func (c *Clock) since(ts int64) time.Duration {
	d := time.Duration(int64(c.now()) - ts)
	if d < 0 {
		return 0
	}
	return d
}

func toMs(d time.Duration) uint32 {
	ms := d.Milliseconds()
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}
