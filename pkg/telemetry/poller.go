package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often the Poller refreshes its cached reading.
const DefaultPollInterval = 5 * time.Second

// ObserverFunc is called with every fresh reading.
type ObserverFunc func(Reading)

// Poller periodically refreshes a cached Reading so that consumers never
// wait on the bus.
type Poller struct {
	reader   *Reader
	interval time.Duration

	mu        sync.RWMutex
	latest    Reading
	hasLatest bool
	observers []ObserverFunc
}

// NewPoller returns a Poller. A non-positive interval means
// DefaultPollInterval.
func NewPoller(r *Reader, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		reader:   r,
		interval: interval,
	}
}

// Observe registers fn to be called after each poll.
func (p *Poller) Observe(fn ObserverFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Latest returns the cached reading and whether one exists yet.
func (p *Poller) Latest() (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasLatest
}

// Poll reads the battery once and updates the cache.
func (p *Poller) Poll() Reading {
	reading, err := p.reader.ReadSafe(FieldAll | FieldVBUS)
	if err != nil {
		logrus.WithField("fallbacks", reading.Fallbacks.String()).Warnf("battery poll failed: %v", err)
	}

	p.mu.Lock()
	p.latest = reading
	p.hasLatest = true
	observers := make([]ObserverFunc, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"mv":       reading.VoltageMV,
		"percent":  reading.Percent,
		"charging": reading.Charging,
		"vbus":     reading.VBUSPresent,
	}).Trace("battery polled")

	for _, fn := range observers {
		fn(reading)
	}

	return reading
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	logrus.WithField("interval", p.interval).Debug("telemetry poller started")
	defer logrus.Debug("telemetry poller stopped")

	p.Poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}
