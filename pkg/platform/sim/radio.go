package sim

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/sleep"
)

var _ sleep.Radio = &Radio{}

// Radio is a simulated WiFi radio.
type Radio struct {
	mu        sync.Mutex
	up        bool
	connected bool
}

// NewRadio returns a powered, connected radio.
func NewRadio() *Radio {
	return &Radio{up: true, connected: true}
}

func (r *Radio) Suspend() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up = false
	r.connected = false
	logrus.Debug("simulated WiFi deinitialized")
	return nil
}

func (r *Radio) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up = true
	logrus.Debug("simulated WiFi initialized")
	return nil
}

func (r *Radio) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.up {
		r.connected = true
	}
	return nil
}

// Connected reports whether the radio is up and associated.
func (r *Radio) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}
