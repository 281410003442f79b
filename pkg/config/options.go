package config

import (
	"regexp"
	"strconv"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/sleep"
)

var pinNumberRe = regexp.MustCompile(`^(?i:gpio)?(\d{1,2})$`)

// PinNumber extracts the GPIO number from names like "GPIO9" or "9".
func PinNumber(name string) (int, error) {
	m := pinNumberRe.FindStringSubmatch(name)
	if m == nil {
		return 0, pkgerrors.Errorf("cannot parse GPIO number from %q", name)
	}
	n, _ := strconv.Atoi(m[1])
	if n > 63 {
		return 0, pkgerrors.Errorf("GPIO number %d out of range", n)
	}
	return n, nil
}

// ToOptions maps c to coordinator options.
func ToOptions(c Config) sleep.Options {
	o := sleep.DefaultOptions()

	o.BacklightTimeout = c.BacklightTimeout()
	o.SleepTimeout = c.SleepTimeout()
	o.DeepSleepTimeout = c.DeepSleepTimeout()
	o.PollInterval = c.PollInterval()

	o.BacklightControl = c.BacklightControl()
	o.LightSleepEnable = c.LightSleepEnable()
	o.GPIOWakeup = c.GPIOWakeup()
	o.TouchWakeup = c.TouchWakeup()
	o.DeepSleepEnable = c.DeepSleepEnable()
	o.PreventSleepOnUSB = c.PreventSleepOnUSB()
	o.PreventScreenOffOnUSB = c.PreventScreenOffOnUSB()
	o.PreventDeepSleepOnUSB = c.PreventDeepSleepOnUSB()
	o.TimerPause = c.TimerPause()
	o.RenderingControl = c.RenderingControl()
	o.WiFiSuspend = c.WiFiSuspend()
	o.WiFiAutoConnect = c.WiFiAutoConnect()
	o.PowerLogs = c.PowerLogs()
	o.TouchResetTimer = c.TouchResetTimer()
	o.DebugLogs = c.DebugLogs()
	o.Lock = c.LockPolicy()
	o.FadeDelay = c.FadeDelay()

	if n, err := PinNumber(c.ButtonPin()); err == nil {
		o.ButtonPin = n
	} else {
		logrus.WithError(err).Warn("using default button pin")
	}
	if n, err := PinNumber(c.TouchPin()); err == nil {
		o.TouchPin = n
	} else {
		logrus.WithError(err).Warn("using default touch pin")
	}

	return o
}
