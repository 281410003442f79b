package sleep

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Tick runs one iteration of the poll loop: a deferred wake, the dim check,
// the deep sleep check and the light sleep check, in that order. Light sleep
// blocks inside Tick until wake.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.Lock()
	pending := m.wakePending
	m.mu.Unlock()
	if pending {
		logrus.Debug("retrying deferred wake")
		if err := m.Wake(); err != nil {
			return err
		}
	}

	if m.ShouldTurnOffBacklight() {
		m.debugf("inactive for %dms, turning backlight off", m.deps.Clock.InactiveMs())
		if err := m.BacklightOff(); err != nil {
			logrus.WithError(err).Warn("failed to dim display")
		}
	}

	if m.shouldDeepSleep() {
		if err := m.DeepSleep(); err != nil {
			return err
		}
	}

	if m.ShouldSleep() {
		m.debugf("inactive for %dms, entering light sleep", m.deps.Clock.InactiveMs())
		return m.Sleep(ctx)
	}
	return nil
}

// Run calls Tick every PollInterval until ctx is done. Tick errors are
// logged and the loop continues.
func (m *Manager) Run(ctx context.Context) {
	logrus.WithField("interval", m.Options().PollInterval).Info("sleep poll loop started")
	defer logrus.Info("sleep poll loop stopped")

	timer := time.NewTimer(m.Options().PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := m.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithError(err).Warn("sleep poll tick failed")
			}
			timer.Reset(m.Options().PollInterval)
		}
	}
}
