// Package uptime tracks the session and lifetime uptime of the device and
// the number of boots, persisted in the "uptime" namespace.
package uptime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/kv"
)

const (
	Namespace      = "uptime"
	KeyTotalUptime = "total_up"
	KeyBootCount   = "boot_cnt"
)

// ErrNotInitialized is returned before Init.
var ErrNotInitialized = errors.New("uptime tracker not initialized")

// Stats is a point-in-time view of the counters.
type Stats struct {
	CurrentUptimeSec uint64 `json:"currentUptimeSec"`
	TotalUptimeSec   uint64 `json:"totalUptimeSec"`
	BootCount        uint32 `json:"bootCount"`
}

// Tracker accumulates uptime across boots.
type Tracker struct {
	ns  *kv.Namespace
	now func() time.Time

	mu           sync.Mutex
	initialized  bool
	totalBase    uint64
	bootCount    uint32
	sessionStart time.Time
}

// NewTracker returns a Tracker backed by the uptime namespace of store. A nil
// now uses time.Now.
func NewTracker(store *kv.Store, now func() time.Time) (*Tracker, error) {
	ns, err := store.Namespace(Namespace)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open uptime storage")
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{ns: ns, now: now}, nil
}

// Init loads the stored counters, counts this boot and saves immediately.
// Calling it twice is a no-op.
func (t *Tracker) Init() error {
	t.mu.Lock()
	if t.initialized {
		t.mu.Unlock()
		logrus.Warn("uptime tracker already initialized")
		return nil
	}

	total, err := t.ns.GetUint64(KeyTotalUptime)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		logrus.Info("no stored uptime data found, first boot")
		total = 0
	case err != nil:
		logrus.WithError(err).Warn("failed to read total uptime")
		total = 0
	}

	boots, err := t.ns.GetUint32(KeyBootCount)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		logrus.WithError(err).Warn("failed to read boot count")
	}
	if err != nil {
		boots = 0
	}

	t.totalBase = total
	t.bootCount = boots + 1
	t.sessionStart = t.now()
	t.initialized = true
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"boot":        boots + 1,
		"totalUptime": FormatDuration(total),
	}).Info("uptime tracker initialized")

	return t.Save()
}

// Save persists the total uptime including the current session.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return ErrNotInitialized
	}

	session := t.sessionLocked()
	total := t.totalBase + session

	if err := t.ns.SetUint64(KeyTotalUptime, total); err != nil {
		return err
	}
	if err := t.ns.SetUint32(KeyBootCount, t.bootCount); err != nil {
		return err
	}
	if err := t.ns.Commit(); err != nil {
		return pkgerrors.Wrapf(err, "failed to save uptime")
	}

	logrus.WithFields(logrus.Fields{
		"total": total,
		"boots": t.bootCount,
	}).Debug("saved uptime")
	return nil
}

// Stats returns the current counters.
func (t *Tracker) Stats() (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.initialized {
		return Stats{}, ErrNotInitialized
	}
	session := t.sessionLocked()
	return Stats{
		CurrentUptimeSec: session,
		TotalUptimeSec:   t.totalBase + session,
		BootCount:        t.bootCount,
	}, nil
}

// Reset erases the stored counters and restarts the session.
func (t *Tracker) Reset() error {
	logrus.Warn("resetting all uptime data")

	t.mu.Lock()
	defer t.mu.Unlock()

	t.ns.EraseAll()
	err := t.ns.Commit()

	t.totalBase = 0
	t.bootCount = 0
	t.sessionStart = t.now()

	if err != nil {
		return pkgerrors.Wrapf(err, "failed to erase uptime data")
	}
	logrus.Info("uptime data reset")
	return nil
}

func (t *Tracker) sessionLocked() uint64 {
	d := t.now().Sub(t.sessionStart)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// FormatDuration renders seconds as "Xd Xh Xm", "Xh Xm" or "Xm".
func FormatDuration(sec uint64) string {
	days := sec / 86400
	hours := (sec % 86400) / 3600
	minutes := (sec % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
