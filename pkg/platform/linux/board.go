//go:build linux

// Package linux drives a Linux SBC based watch through periph.io: the PMU on
// an I2C bus, the button and touch interrupt lines and a GPIO backlight.
// Light sleep is suspend-to-RAM and deep sleep is power-off.
package linux

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/sleep"
)

var (
	_ drivers.I2C       = &Board{}
	_ display.Backlight = &Board{}
	_ sleep.Inputs      = &Board{}
	_ sleep.WakeArmer   = &Board{}
	_ sleep.Sleeper     = &Board{}
)

const powerStatePath = "/sys/power/state"

// Config names the bus and pins.
type Config struct {
	I2CBus       string
	ButtonPin    string
	TouchPin     string
	BacklightPin string
	// ButtonGPIO and TouchGPIO are the numbers used in wake masks.
	ButtonGPIO int
	TouchGPIO  int
}

// Board is a Linux watch.
type Board struct {
	cfg Config

	bus       i2c.BusCloser
	button    gpio.PinIO
	touch     gpio.PinIO
	backlight gpio.PinIO

	mu       sync.Mutex
	wakePins map[int]bool
}

// Open initializes periph.io and opens the bus and pins.
func Open(cfg Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to initialize periph host")
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open I2C bus %q", cfg.I2CBus)
	}

	b := &Board{
		cfg:      cfg,
		bus:      bus,
		wakePins: map[int]bool{},
	}

	pins := []struct {
		name string
		dst  *gpio.PinIO
	}{
		{cfg.ButtonPin, &b.button},
		{cfg.TouchPin, &b.touch},
		{cfg.BacklightPin, &b.backlight},
	}
	for _, p := range pins {
		pin := gpioreg.ByName(p.name)
		if pin == nil {
			_ = bus.Close()
			return nil, pkgerrors.Errorf("failed to open GPIO %s", p.name)
		}
		*p.dst = pin
	}

	if err := b.backlight.Out(gpio.High); err != nil {
		_ = bus.Close()
		return nil, pkgerrors.Wrapf(err, "failed to drive backlight %s", cfg.BacklightPin)
	}

	logrus.WithFields(logrus.Fields{
		"bus":       cfg.I2CBus,
		"button":    cfg.ButtonPin,
		"touch":     cfg.TouchPin,
		"backlight": cfg.BacklightPin,
	}).Info("linux board opened")
	return b, nil
}

// Close releases the bus.
func (b *Board) Close() error {
	return b.bus.Close()
}

// Tx implements drivers.I2C on the periph bus.
func (b *Board) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

func (b *Board) BacklightOn() error {
	return b.backlight.Out(gpio.High)
}

func (b *Board) BacklightOff() error {
	return b.backlight.Out(gpio.Low)
}

// ButtonPressed reports the button line. It is active low.
func (b *Board) ButtonPressed() bool {
	return b.button.Read() == gpio.Low
}

// TouchActive reports the touch interrupt line. It is active low.
func (b *Board) TouchActive() bool {
	return b.touch.Read() == gpio.Low
}

func (b *Board) ConfigureButton(pin int) error {
	if err := b.button.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return pkgerrors.Wrapf(err, "failed to configure %s", b.cfg.ButtonPin)
	}
	logrus.WithField("pin", pin).Debug("button configured as pulled-up input")
	return nil
}

// EnableWakeOnLow records pin as a wake source. The pin configuration is
// left untouched so the touch driver keeps its own interrupt setup.
func (b *Board) EnableWakeOnLow(pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wakePins[pin] = true
	return nil
}

// EnableGPIOWakeup checks that the kernel supports suspend-to-RAM.
func (b *Board) EnableGPIOWakeup() error {
	states, err := os.ReadFile(powerStatePath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read %s", powerStatePath)
	}
	if !strings.Contains(string(states), "mem") {
		return pkgerrors.Errorf("suspend-to-RAM not supported, %s has %q", powerStatePath, strings.TrimSpace(string(states)))
	}
	return nil
}

// LightSleep suspends to RAM. The write returns after resume; the asserted
// lines are reported as the wake mask.
func (b *Board) LightSleep(ctx context.Context) (sleep.WakeReport, error) {
	if err := ctx.Err(); err != nil {
		return sleep.WakeReport{}, err
	}

	unix.Sync()
	start := time.Now()
	if err := os.WriteFile(powerStatePath, []byte("mem"), 0644); err != nil {
		return sleep.WakeReport{}, pkgerrors.Wrapf(err, "failed to suspend")
	}
	logrus.WithField("suspended", time.Since(start).Round(time.Millisecond)).Debug("resumed from suspend")

	b.mu.Lock()
	armed := map[int]bool{}
	for k, v := range b.wakePins {
		armed[k] = v
	}
	b.mu.Unlock()

	var r sleep.WakeReport
	if armed[b.cfg.ButtonGPIO] && b.ButtonPressed() {
		r.GPIOMask |= 1 << uint(b.cfg.ButtonGPIO)
	}
	if armed[b.cfg.TouchGPIO] && b.TouchActive() {
		r.GPIOMask |= 1 << uint(b.cfg.TouchGPIO)
	}
	if r.GPIOMask != 0 {
		r.Cause = sleep.CauseGPIO
	}
	return r, nil
}

// DeepSleep powers the machine off.
func (b *Board) DeepSleep() {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		logrus.WithError(err).Error("power off failed")
	}
}
