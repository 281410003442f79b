package display

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Backlight drives the physical backlight.
type Backlight interface {
	BacklightOn() error
	BacklightOff() error
}

// Controller turns the backlight on and off. Both operations are idempotent
// and skip the hardware when already in the target state.
//
// Only the backlight is controlled: the panel itself stays powered because
// its handle belongs to the display driver.
type Controller struct {
	bl Backlight

	mu  sync.Mutex
	off bool
}

// NewController returns a Controller that assumes the backlight is on.
func NewController(bl Backlight) *Controller {
	return &Controller{bl: bl}
}

// Off turns the backlight off.
func (c *Controller) Off() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.off {
		return nil
	}
	if err := c.bl.BacklightOff(); err != nil {
		return pkgerrors.Wrapf(err, "failed to turn backlight off")
	}
	c.off = true
	logrus.Debug("backlight off")
	return nil
}

// On turns the backlight on.
func (c *Controller) On() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.off {
		return nil
	}
	if err := c.bl.BacklightOn(); err != nil {
		return pkgerrors.Wrapf(err, "failed to turn backlight on")
	}
	c.off = false
	logrus.Debug("backlight on")
	return nil
}

// IsOff reports whether the backlight is off.
func (c *Controller) IsOff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.off
}
