// Package sim is a simulated watch board: an AXP2101 register file on a fake
// I2C bus, the button and touch lines, the backlight and a light sleep that
// blocks until an injected wake.
package sim

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
)

var (
	_ drivers.I2C       = &Board{}
	_ display.Backlight = &Board{}
	_ sleep.Inputs      = &Board{}
	_ sleep.WakeArmer   = &Board{}
	_ sleep.Sleeper     = &Board{}
)

// ErrBus is returned by injected bus faults.
var ErrBus = pkgerrors.New("simulated i2c bus error")

// DefaultVoltageMV is the initial simulated battery voltage.
const DefaultVoltageMV = 3900

// Config configures a Board.
type Config struct {
	// PowerOff is called by DeepSleep before the calling goroutine exits.
	PowerOff func()
}

// Board is a simulated watch.
type Board struct {
	powerOff func()

	mu       sync.Mutex
	regs     [256]byte
	failNext int
	txCount  int

	button    bool
	touch     bool
	backlight bool

	buttonPin   int
	buttonSetup bool
	// lines holds the asserted level of every pin driven by Press or Touch.
	lines       map[int]bool
	wakePins    map[int]bool
	gpioWakeup  bool
	sleeping    bool
	wake        chan sleep.WakeReport
	lightSleeps int
}

// NewBoard returns a Board at DefaultVoltageMV, on battery, not charging.
func NewBoard(cfg Config) *Board {
	b := &Board{
		powerOff:  cfg.PowerOff,
		backlight: true,
		buttonPin: -1,
		lines:     map[int]bool{},
		wakePins:  map[int]bool{},
		wake:      make(chan sleep.WakeReport, 1),
	}
	b.regs[telemetry.RegChargeCtrl] = 0x02
	b.regs[telemetry.RegChargeStatus] = 0x40
	b.setVoltageLocked(DefaultVoltageMV)
	return b
}

// Tx implements drivers.I2C against the PMU register file.
func (b *Board) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.txCount++
	if b.failNext > 0 {
		b.failNext--
		return ErrBus
	}
	if addr != telemetry.AddressDefault {
		return pkgerrors.Errorf("no device at address %#x", addr)
	}
	if len(w) == 0 {
		return pkgerrors.New("empty i2c write")
	}

	reg := w[0]
	if len(r) == 0 {
		for i, v := range w[1:] {
			b.writeRegLocked(reg+byte(i), v)
		}
		return nil
	}
	for i := range r {
		r[i] = b.regs[reg+byte(i)]
	}
	return nil
}

func (b *Board) writeRegLocked(reg, v byte) {
	switch reg {
	case telemetry.RegStatus, telemetry.RegChargeStatus, telemetry.RegVBatH, telemetry.RegVBatH + 1:
		// Read-only.
	default:
		b.regs[reg] = v
	}
}

func (b *Board) setVoltageLocked(mv uint16) {
	b.regs[telemetry.RegVBatH] = byte(mv >> 8)
	b.regs[telemetry.RegVBatH+1] = byte(mv)
}

// SetVoltage sets the raw battery voltage register.
func (b *Board) SetVoltage(mv uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setVoltageLocked(mv)
}

// SetVBUS plugs or unplugs USB.
func (b *Board) SetVBUS(present bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if present {
		b.regs[telemetry.RegStatus] |= 0x20
	} else {
		b.regs[telemetry.RegStatus] &^= 0x20
	}
	logrus.WithField("vbus", present).Info("simulated USB power changed")
}

// SetCharging sets the charge status bit, which reads 0 while charging.
func (b *Board) SetCharging(charging bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if charging {
		b.regs[telemetry.RegChargeStatus] &^= 0x40
	} else {
		b.regs[telemetry.RegChargeStatus] |= 0x40
	}
}

// ChargingEnabled reports the charge enable bit written by the PMU driver.
func (b *Board) ChargingEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[telemetry.RegChargeCtrl]&0x02 != 0
}

// ADCEnabled reports whether the battery ADCs were turned on.
func (b *Board) ADCEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[telemetry.RegADCEnable] != 0
}

// FailNext makes the next n bus transactions fail.
func (b *Board) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// TxCount returns the number of bus transactions so far.
func (b *Board) TxCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txCount
}

// SeedFromHost copies the host battery state into the register file.
func (b *Board) SeedFromHost() error {
	batteries, err := battery.GetAll()
	if err != nil && len(batteries) == 0 {
		return pkgerrors.Wrapf(err, "failed to read host battery")
	}
	if len(batteries) == 0 || batteries[0] == nil {
		return pkgerrors.New("no host battery found")
	}

	bat := batteries[0]
	var mv uint16
	switch {
	case bat.Full > 0:
		mv = voltageForPercent(bat.Current / bat.Full * 100)
	case bat.Voltage > 0:
		mv = uint16(bat.Voltage * 1000)
	default:
		return pkgerrors.New("host battery reports no charge level")
	}

	charging := bat.State == battery.Charging
	b.SetVoltage(mv)
	b.SetCharging(charging)
	b.SetVBUS(charging || bat.State == battery.Full)

	logrus.WithFields(logrus.Fields{
		"mv":       mv,
		"charging": charging,
	}).Info("seeded simulated battery from host")
	return nil
}

// voltageForPercent inverts telemetry.PercentFromVoltage.
func voltageForPercent(p float64) uint16 {
	switch {
	case p <= 0:
		return telemetry.VoltageEmptyMV
	case p >= 100:
		return telemetry.VoltageFullMV
	case p < 50:
		return uint16(telemetry.VoltageEmptyMV + p*(telemetry.VoltageNominalMV-telemetry.VoltageEmptyMV)/50)
	default:
		return uint16(telemetry.VoltageNominalMV + (p-50)*(telemetry.VoltageFullMV-telemetry.VoltageNominalMV)/50)
	}
}

func (b *Board) BacklightOn() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlight = true
	return nil
}

func (b *Board) BacklightOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backlight = false
	return nil
}

// BacklightIsOn reports the physical backlight level.
func (b *Board) BacklightIsOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backlight
}

func (b *Board) ButtonPressed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.button
}

func (b *Board) TouchActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touch
}

func (b *Board) ConfigureButton(pin int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buttonPin = pin
	b.buttonSetup = true
	return nil
}

func (b *Board) EnableWakeOnLow(pin int) error {
	if pin < 0 || pin > 63 {
		return pkgerrors.Errorf("invalid GPIO %d", pin)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wakePins[pin] = true
	return nil
}

func (b *Board) EnableGPIOWakeup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gpioWakeup = true
	return nil
}

// ButtonPin returns the pin passed to ConfigureButton, or -1.
func (b *Board) ButtonPin() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.buttonSetup {
		return -1
	}
	return b.buttonPin
}

// WakeArmed reports whether a low level on pin ends light sleep.
func (b *Board) WakeArmed(pin int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gpioWakeup && b.wakePins[pin]
}

// Press holds the button down for d. Wake on an armed pin is level
// triggered: a press that is still held when light sleep starts ends it at
// once.
func (b *Board) Press(pin int, d time.Duration) {
	b.setLine(pin, true, &b.button)
	time.AfterFunc(d, func() { b.setLine(pin, false, &b.button) })
}

// Touch holds the touch interrupt line asserted for d.
func (b *Board) Touch(pin int, d time.Duration) {
	b.setLine(pin, true, &b.touch)
	time.AfterFunc(d, func() { b.setLine(pin, false, &b.touch) })
}

func (b *Board) setLine(pin int, asserted bool, line *bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*line = asserted
	b.lines[pin] = asserted
	if asserted && b.sleeping && b.gpioWakeup && b.wakePins[pin] {
		b.fireLocked(sleep.WakeReport{Cause: sleep.CauseGPIO, GPIOMask: 1 << uint(pin)})
	}
}

// assertedMaskLocked returns the armed pins currently held low.
func (b *Board) assertedMaskLocked() uint64 {
	var mask uint64
	for pin, armed := range b.wakePins {
		if armed && b.lines[pin] {
			mask |= 1 << uint(pin)
		}
	}
	return mask
}

// Interrupt ends a light sleep with cause. It reports whether the board was
// asleep.
func (b *Board) Interrupt(cause sleep.WakeCause) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.sleeping {
		return false
	}
	b.fireLocked(sleep.WakeReport{Cause: cause})
	return true
}

// fireLocked ends the current light sleep with r. Only the first report of
// a sleep is delivered, so the channel never holds a stale one.
func (b *Board) fireLocked(r sleep.WakeReport) {
	b.sleeping = false
	b.wake <- r
}

// Sleeping reports whether LightSleep is blocked.
func (b *Board) Sleeping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sleeping
}

// LightSleeps returns the number of completed light sleeps.
func (b *Board) LightSleeps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lightSleeps
}

// LightSleep blocks until a wake source fires or ctx is done.
func (b *Board) LightSleep(ctx context.Context) (sleep.WakeReport, error) {
	b.mu.Lock()
	if !b.gpioWakeup || len(b.wakePins) == 0 {
		b.mu.Unlock()
		// A real chip would sleep until the watchdog fires.
		return sleep.WakeReport{}, pkgerrors.New("no wake source armed")
	}
	if err := ctx.Err(); err != nil {
		b.mu.Unlock()
		return sleep.WakeReport{}, err
	}
	if mask := b.assertedMaskLocked(); mask != 0 {
		b.lightSleeps++
		b.mu.Unlock()
		logrus.WithField("mask", mask).Debug("wake line already asserted, light sleep ends at once")
		return sleep.WakeReport{Cause: sleep.CauseGPIO, GPIOMask: mask}, nil
	}
	b.sleeping = true
	b.mu.Unlock()

	logrus.Debug("simulated light sleep")

	select {
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.sleeping {
			b.sleeping = false
			return sleep.WakeReport{}, ctx.Err()
		}
		// A wake source fired concurrently; it wins.
		b.lightSleeps++
		return <-b.wake, nil
	case r := <-b.wake:
		b.mu.Lock()
		b.lightSleeps++
		b.mu.Unlock()
		return r, nil
	}
}

// DeepSleep calls the power-off hook and ends the calling goroutine. Wake
// from deep sleep is a reboot, so nothing after the call may run.
func (b *Board) DeepSleep() {
	logrus.Warn("simulated deep sleep, powering off")
	if b.powerOff != nil {
		b.powerOff()
	}
	runtime.Goexit()
}
