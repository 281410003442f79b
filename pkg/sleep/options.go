package sleep

import (
	"time"

	"golang.org/x/exp/constraints"

	"github.com/charlie0129/watchpm/pkg/display"
)

// Options are the runtime switches of the coordinator. Every combination is
// valid.
type Options struct {
	BacklightTimeout time.Duration
	SleepTimeout     time.Duration
	DeepSleepTimeout time.Duration
	PollInterval     time.Duration

	BacklightControl bool
	LightSleepEnable bool
	GPIOWakeup       bool
	TouchWakeup      bool
	DeepSleepEnable  bool

	// USB inhibits, one per stage.
	PreventScreenOffOnUSB bool
	PreventSleepOnUSB     bool
	PreventDeepSleepOnUSB bool

	TimerPause       bool
	RenderingControl bool
	WiFiSuspend      bool
	WiFiAutoConnect  bool
	TouchResetTimer  bool
	PowerLogs        bool
	DebugLogs        bool

	Lock display.LockPolicy
	// FadeDelay is waited after the backlight goes off on sleep entry.
	FadeDelay time.Duration

	ButtonPin int
	TouchPin  int
}

// DefaultOptions returns the stock watch configuration.
func DefaultOptions() Options {
	return Options{
		BacklightTimeout: 15 * time.Second,
		SleepTimeout:     30 * time.Second,
		DeepSleepTimeout: 5 * time.Minute,
		PollInterval:     500 * time.Millisecond,

		BacklightControl: true,
		LightSleepEnable: true,
		GPIOWakeup:       true,
		TouchWakeup:      false,
		DeepSleepEnable:  false,

		PreventScreenOffOnUSB: false,
		PreventSleepOnUSB:     true,
		PreventDeepSleepOnUSB: true,

		TimerPause:       true,
		RenderingControl: true,
		WiFiSuspend:      false,
		WiFiAutoConnect:  true,
		TouchResetTimer:  true,
		PowerLogs:        false,
		DebugLogs:        false,

		Lock:      display.DefaultLockPolicy(),
		FadeDelay: 100 * time.Millisecond,

		ButtonPin: 9,
		TouchPin:  15,
	}
}

// normalize replaces unusable values with defaults.
func (o Options) normalize() Options {
	def := DefaultOptions()
	o.BacklightTimeout = nonNegative(o.BacklightTimeout)
	o.SleepTimeout = nonNegative(o.SleepTimeout)
	o.DeepSleepTimeout = nonNegative(o.DeepSleepTimeout)
	o.PollInterval = positiveOr(o.PollInterval, def.PollInterval)
	o.Lock.Timeout = nonNegative(o.Lock.Timeout)
	o.Lock.Attempts = positiveOr(o.Lock.Attempts, def.Lock.Attempts)
	o.Lock.Delay = nonNegative(o.Lock.Delay)
	o.FadeDelay = nonNegative(o.FadeDelay)
	o.ButtonPin = pinOr(o.ButtonPin, def.ButtonPin)
	o.TouchPin = pinOr(o.TouchPin, def.TouchPin)
	return o
}

func nonNegative[T constraints.Signed](v T) T {
	if v < 0 {
		return 0
	}
	return v
}

func positiveOr[T constraints.Signed](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func pinOr[T constraints.Integer](v, def T) T {
	if v < 0 || v > 63 {
		return def
	}
	return v
}
