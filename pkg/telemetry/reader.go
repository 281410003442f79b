package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Safe defaults substituted when a field cannot be read.
const (
	DefaultVoltageMV      uint16 = VoltageNominalMV
	DefaultPercent        uint8  = 50
	DefaultCharging              = false
	DefaultReadRetries           = 3
	DefaultReadRetryDelay        = 10 * time.Millisecond
)

// ErrNoValidField is returned by ReadSafe when none of the requested fields
// could be read. The returned Reading still carries the defaults.
var ErrNoValidField = errors.New("no valid battery field read")

// sleepFunc is replaced in tests.
var sleepFunc = time.Sleep

// Sensor is the set of raw PMU reads the Reader builds on. *Device
// implements it.
type Sensor interface {
	ReadRawVoltage() (uint16, error)
	IsCharging() (bool, error)
	IsVBUSPresent() (bool, error)
}

var _ Sensor = &Device{}

// Fields selects battery fields.
type Fields uint8

const (
	FieldVoltage Fields = 1 << iota
	FieldPercent
	FieldCharging
	// FieldVBUS is read once, without retry.
	FieldVBUS

	// FieldAll is every battery field. VBUS is not part of it.
	FieldAll = FieldVoltage | FieldPercent | FieldCharging
)

// Has reports whether f includes all of o.
func (f Fields) Has(o Fields) bool { return f&o == o }

func (f Fields) String() string {
	var parts []string
	if f.Has(FieldVoltage) {
		parts = append(parts, "voltage")
	}
	if f.Has(FieldPercent) {
		parts = append(parts, "percent")
	}
	if f.Has(FieldCharging) {
		parts = append(parts, "charging")
	}
	if f.Has(FieldVBUS) {
		parts = append(parts, "vbus")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Reading is a battery snapshot. Every field carries its own validity flag;
// an invalid field holds its safe default.
// The VBUS fields are only filled when FieldVBUS is requested.
type Reading struct {
	VoltageMV   uint16 `json:"voltageMillivolts"`
	Percent     uint8  `json:"percent"`
	Charging    bool   `json:"charging"`
	VBUSPresent bool   `json:"vbusPresent"`

	VoltageValid  bool `json:"voltageValid"`
	PercentValid  bool `json:"percentValid"`
	ChargingValid bool `json:"chargingValid"`
	VBUSValid     bool `json:"vbusValid"`

	// Fallbacks lists requested fields that were replaced by defaults.
	Fallbacks Fields    `json:"fallbacks"`
	Time      time.Time `json:"time"`
}

// RetryPolicy bounds ReadSafe.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is 3 attempts, 10ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: DefaultReadRetries,
		Delay:    DefaultReadRetryDelay,
	}
}

// Reader wraps a Sensor with retry and sanity checks.
type Reader struct {
	sensor Sensor
	policy RetryPolicy
}

// NewReader returns a Reader. Non-positive attempts fall back to the default.
func NewReader(s Sensor, policy RetryPolicy) *Reader {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultReadRetries
	}
	if policy.Delay < 0 {
		policy.Delay = 0
	}
	return &Reader{sensor: s, policy: policy}
}

// Sensor returns the underlying sensor.
func (r *Reader) Sensor() Sensor {
	return r.sensor
}

// ReadRawVoltage is a single unchecked voltage read.
func (r *Reader) ReadRawVoltage() (uint16, error) {
	return r.sensor.ReadRawVoltage()
}

// IsCharging is a single charge status read without retry.
func (r *Reader) IsCharging() (bool, error) {
	return r.sensor.IsCharging()
}

// IsVBUSPresent is a single VBUS read without retry.
func (r *Reader) IsVBUSPresent() (bool, error) {
	return r.sensor.IsVBUSPresent()
}

// ReadSafe reads the requested fields, each independently retried. A field
// that never yields a sane value is set to its default and reported in
// Reading.Fallbacks. The error is ErrNoValidField only when every requested
// field fell back.
func (r *Reader) ReadSafe(want Fields) (Reading, error) {
	reading := Reading{Time: time.Now()}
	obtained := false

	if want.Has(FieldVoltage) {
		mv, ok := r.readVoltage("voltage")
		if ok {
			reading.VoltageMV = mv
			reading.VoltageValid = true
			obtained = true
		} else {
			logrus.WithField("attempts", r.policy.Attempts).Warn("failed to read valid battery voltage, using default")
			reading.VoltageMV = DefaultVoltageMV
			reading.Fallbacks |= FieldVoltage
		}
	}

	if want.Has(FieldPercent) {
		pct, ok := r.readPercent()
		if ok {
			reading.Percent = pct
			reading.PercentValid = true
			obtained = true
		} else {
			logrus.Warn("failed to read valid battery percentage, using default")
			reading.Percent = DefaultPercent
			reading.Fallbacks |= FieldPercent
		}
	}

	if want.Has(FieldCharging) {
		charging, ok := r.readCharging()
		if ok {
			reading.Charging = charging
			reading.ChargingValid = true
			obtained = true
		} else {
			logrus.Warn("failed to read charging status, using default")
			reading.Charging = DefaultCharging
			reading.Fallbacks |= FieldCharging
		}
	}

	if want.Has(FieldVBUS) {
		vbus, err := r.sensor.IsVBUSPresent()
		if err == nil {
			reading.VBUSPresent = vbus
			reading.VBUSValid = true
			obtained = true
		} else {
			logrus.Debugf("VBUS read failed: %v", err)
			reading.Fallbacks |= FieldVBUS
		}
	}

	if !obtained && want != 0 {
		return reading, ErrNoValidField
	}
	return reading, nil
}

func (r *Reader) readVoltage(purpose string) (uint16, bool) {
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		mv, err := r.sensor.ReadRawVoltage()
		if err == nil {
			if voltageSane(mv) {
				return mv, true
			}
			logrus.WithFields(logrus.Fields{
				"mv":      mv,
				"attempt": attempt,
				"purpose": purpose,
			}).Warn("battery voltage out of range")
		} else {
			logrus.WithFields(logrus.Fields{
				"attempt": attempt,
				"purpose": purpose,
			}).Debugf("battery voltage read failed: %v", err)
		}
		r.wait(attempt)
	}
	return 0, false
}

// readPercent accepts the first successful read whose percentage is within
// [0,100]. The voltage bound does not apply here.
func (r *Reader) readPercent() (uint8, bool) {
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		mv, err := r.sensor.ReadRawVoltage()
		if err == nil {
			if pct := PercentFromVoltage(mv); pct <= 100 {
				return pct, true
			}
		} else {
			logrus.WithField("attempt", attempt).Debugf("battery percentage read failed: %v", err)
		}
		r.wait(attempt)
	}
	return 0, false
}

func (r *Reader) readCharging() (bool, bool) {
	for attempt := 1; attempt <= r.policy.Attempts; attempt++ {
		charging, err := r.sensor.IsCharging()
		if err == nil {
			return charging, true
		}
		logrus.WithField("attempt", attempt).Debugf("charge status read failed: %v", err)
		r.wait(attempt)
	}
	return false, false
}

func (r *Reader) wait(attempt int) {
	if attempt < r.policy.Attempts && r.policy.Delay > 0 {
		sleepFunc(r.policy.Delay)
	}
}

// FormatVoltage renders millivolts as volts with two decimals, e.g. "3.85V".
func FormatVoltage(mv uint16) string {
	return fmt.Sprintf("%d.%02dV", mv/1000, (mv%1000)/10)
}
