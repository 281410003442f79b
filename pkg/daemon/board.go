package daemon

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"

	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/platform/sim"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
)

// Board is everything the daemon needs from the hardware.
type Board interface {
	drivers.I2C
	display.Backlight
	sleep.Inputs
	sleep.WakeArmer
	sleep.Sleeper
}

var _ Board = &sim.Board{}

// openBoard builds the board named in the config. powerOff is called by the
// simulator's deep sleep.
func openBoard(conf config.Config, powerOff func()) (Board, telemetry.DeviceConfig, error) {
	switch conf.Board() {
	case "sim":
		b := sim.NewBoard(sim.Config{PowerOff: powerOff})
		// The register file is ready immediately.
		return b, telemetry.DeviceConfig{ADCSettling: -1}, nil
	case "linux":
		b, err := openLinuxBoard(conf)
		if err != nil {
			return nil, telemetry.DeviceConfig{}, err
		}
		return b, telemetry.DeviceConfig{}, nil
	default:
		return nil, telemetry.DeviceConfig{}, pkgerrors.Errorf("unknown board %q", conf.Board())
	}
}

// seedSimulator starts the simulated battery at the host battery's level,
// if there is one.
func seedSimulator(b Board) {
	s, ok := b.(*sim.Board)
	if !ok {
		return
	}
	if err := s.SeedFromHost(); err != nil {
		logrus.WithError(err).Debug("host battery unavailable, simulator keeps its default voltage")
	}
}
