package telemetry

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"
)

// AXP2101 I2C address and registers.
const (
	AddressDefault uint16 = 0x34

	RegStatus       byte = 0x00 // bit 5: VBUS present
	RegChargeStatus byte = 0x01 // bit 6: clear while charging
	RegChargeCtrl   byte = 0x18 // bit 1: cell battery charge enable
	RegADCEnable    byte = 0x30
	RegVBatH        byte = 0x34 // VBAT high byte, low byte follows at 0x35

	statusVBUSBit      = 0x20
	chargeStatusBit    = 0x40
	chargeEnableBit    = 0x02
	adcEnableVBatIBat  = 0xE0 // VBAT, IBAT charge and IBAT discharge ADCs
	defaultADCSettling = 50 * time.Millisecond
)

// DeviceConfig configures a Device.
type DeviceConfig struct {
	// Address overrides the I2C address. Zero means AddressDefault.
	Address uint16
	// ADCSettling is how long Configure waits after enabling the ADCs.
	// Zero means 50ms, a negative value disables the wait.
	ADCSettling time.Duration
}

// Device is an AXP2101 power management IC on an I2C bus.
type Device struct {
	bus  drivers.I2C
	addr uint16

	settle time.Duration

	mu sync.Mutex
	// Fixed buffers to avoid per-call heap allocations.
	w [2]byte
	r [2]byte
}

// NewDevice returns a Device on the given bus. It does not touch the bus.
func NewDevice(bus drivers.I2C, cfg DeviceConfig) *Device {
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	settle := cfg.ADCSettling
	if settle == 0 {
		settle = defaultADCSettling
	}
	return &Device{
		bus:    bus,
		addr:   addr,
		settle: settle,
	}
}

// Configure enables the battery voltage/current ADCs and waits for them to
// settle. A failed write is logged and ignored: the PMU keeps reporting
// status bits even with the ADCs off.
func (d *Device) Configure() error {
	if d.bus == nil {
		return pkgerrors.New("i2c bus is nil")
	}

	if err := d.writeReg(RegADCEnable, adcEnableVBatIBat); err != nil {
		logrus.WithError(err).Warn("failed to enable PMU ADCs, continuing anyway")
	} else {
		logrus.WithField("value", adcEnableVBatIBat).Debug("PMU ADCs enabled")
	}

	if d.settle > 0 {
		time.Sleep(d.settle)
	}

	logrus.WithField("address", d.addr).Info("PMU AXP2101 initialized")
	return nil
}

// ReadRawVoltage reads the battery voltage in millivolts. The register pair
// is big-endian with 1 mV per LSB.
func (d *Device) ReadRawVoltage() (uint16, error) {
	v, err := d.readWordBE(RegVBatH)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to read battery voltage")
	}
	logrus.WithField("mv", v).Trace("read battery voltage")
	return v, nil
}

// BatteryPercent reads the battery voltage and maps it through
// PercentFromVoltage. The PMU fuel gauge register is not used.
func (d *Device) BatteryPercent() (uint8, error) {
	mv, err := d.ReadRawVoltage()
	if err != nil {
		return 0, err
	}
	return PercentFromVoltage(mv), nil
}

// IsCharging reports whether the battery is being charged. The charge status
// bit reads 0 while charging.
func (d *Device) IsCharging() (bool, error) {
	v, err := d.readReg(RegChargeStatus)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to read charge status")
	}
	return v&chargeStatusBit == 0, nil
}

// IsVBUSPresent reports whether USB bus power is present.
func (d *Device) IsVBUSPresent() (bool, error) {
	v, err := d.readReg(RegStatus)
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to read VBUS status")
	}
	return v&statusVBUSBit != 0, nil
}

// SetChargingEnabled toggles the cell battery charge enable bit.
func (d *Device) SetChargingEnabled(enabled bool) error {
	v, err := d.readReg(RegChargeCtrl)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read charge control")
	}

	if enabled {
		v |= chargeEnableBit
	} else {
		v &^= chargeEnableBit
	}

	if err := d.writeReg(RegChargeCtrl, v); err != nil {
		return pkgerrors.Wrapf(err, "failed to write charge control")
	}

	logrus.WithField("enabled", enabled).Info("battery charging control updated")
	return nil
}

func (d *Device) readReg(reg byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:1]); err != nil {
		return 0, err
	}
	return d.r[0], nil
}

func (d *Device) readWordBE(reg byte) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.w[0] = reg
	if err := d.bus.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) writeReg(reg, val byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.w[0] = reg
	d.w[1] = val
	return d.bus.Tx(d.addr, d.w[:2], nil)
}
