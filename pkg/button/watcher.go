// Package button polls the physical button and turns level changes into
// activity, short press and long press callbacks.
package button

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Line reads the button level. true means pressed.
type Line interface {
	ButtonPressed() bool
}

// Config holds the timing constants. Zero fields take the defaults.
type Config struct {
	PollInterval  time.Duration
	Debounce      time.Duration
	LongPress     time.Duration
	ShortPressMax time.Duration
}

// DefaultConfig polls every 50ms with a 300ms debounce, a 3s long press and
// short presses up to 500ms.
func DefaultConfig() Config {
	return Config{
		PollInterval:  50 * time.Millisecond,
		Debounce:      300 * time.Millisecond,
		LongPress:     3 * time.Second,
		ShortPressMax: 500 * time.Millisecond,
	}
}

// Handlers are called from the watcher goroutine. Any may be nil.
type Handlers struct {
	// OnActivity runs on every detected press edge, debounced or not.
	OnActivity   func()
	OnShortPress func(held time.Duration)
	OnLongPress  func(held time.Duration)
}

// Watcher is the button state machine.
type Watcher struct {
	line Line
	cfg  Config
	h    Handlers

	pressed     bool
	pressStart  time.Time
	lastRelease time.Time
	longFired   bool
}

// NewWatcher returns a Watcher.
func NewWatcher(line Line, cfg Config, h Handlers) *Watcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.LongPress <= 0 {
		cfg.LongPress = def.LongPress
	}
	if cfg.ShortPressMax <= 0 {
		cfg.ShortPressMax = def.ShortPressMax
	}
	return &Watcher{line: line, cfg: cfg, h: h}
}

// Step samples the line once at now.
func (w *Watcher) Step(now time.Time) {
	down := w.line.ButtonPressed()

	switch {
	case down && !w.pressed:
		if w.h.OnActivity != nil {
			w.h.OnActivity()
		}
		if !w.lastRelease.IsZero() && now.Sub(w.lastRelease) < w.cfg.Debounce {
			logrus.Trace("button press ignored (debounce)")
			return
		}
		w.pressed = true
		w.pressStart = now
		w.longFired = false
		logrus.Debug("button pressed")

	case down && w.pressed:
		held := now.Sub(w.pressStart)
		if held >= w.cfg.LongPress && !w.longFired {
			w.longFired = true
			logrus.WithField("held", held).Info("long press detected")
			if w.h.OnLongPress != nil {
				w.h.OnLongPress(held)
			}
		}

	case !down && w.pressed:
		held := now.Sub(w.pressStart)
		w.pressed = false
		w.lastRelease = now
		if !w.longFired && held < w.cfg.ShortPressMax {
			logrus.WithField("held", held).Debug("short press")
			if w.h.OnShortPress != nil {
				w.h.OnShortPress(held)
			}
		}
		logrus.WithField("held", held).Trace("button released")
	}
}

// Run polls the line until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	logrus.WithField("interval", w.cfg.PollInterval).Info("button watcher started")
	defer logrus.Info("button watcher stopped")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Step(now)
		}
	}
}
