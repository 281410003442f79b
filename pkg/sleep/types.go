package sleep

import (
	"fmt"
	"strings"
	"time"
)

// State is the coordinator's power state.
type State int

const (
	// Awake means the backlight is on and the UI is running.
	Awake State = iota
	// Dimmed means the backlight is off while the UI keeps running.
	Dimmed
	// LightSleep means the CPU is suspended with RAM retained.
	LightSleep
	// DeepSleep means the deep sleep sequence is in progress.
	DeepSleep
	// PoweredDown is entered right before the deep sleep primitive. The
	// process never observes it on real hardware since wake is a reboot.
	PoweredDown
)

func (s State) String() string {
	switch s {
	case Awake:
		return "awake"
	case Dimmed:
		return "dimmed"
	case LightSleep:
		return "light_sleep"
	case DeepSleep:
		return "deep_sleep"
	case PoweredDown:
		return "powered_down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{Awake, Dimmed, LightSleep, DeepSleep, PoweredDown} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown power state %q", b)
}

// Kind is the kind of the last sleep.
type Kind int

const (
	KindNone Kind = iota
	KindLight
	KindDeep
)

func (k Kind) String() string {
	switch k {
	case KindLight:
		return "light"
	case KindDeep:
		return "deep"
	default:
		return "none"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind parses the output of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return KindNone, nil
	case "light":
		return KindLight, nil
	case "deep":
		return KindDeep, nil
	default:
		return KindNone, fmt.Errorf("unknown sleep kind %q", s)
	}
}

// WakeCause is what ended a light sleep.
type WakeCause int

const (
	CauseUnknown WakeCause = iota
	CauseGPIO
	CauseTimer
	CauseUART
	CauseExt0
	CauseExt1
	CauseTouchpad
	CauseULP
)

func (c WakeCause) String() string {
	switch c {
	case CauseGPIO:
		return "gpio"
	case CauseTimer:
		return "timer"
	case CauseUART:
		return "uart"
	case CauseExt0:
		return "ext0"
	case CauseExt1:
		return "ext1"
	case CauseTouchpad:
		return "touchpad"
	case CauseULP:
		return "ulp"
	default:
		return "unknown"
	}
}

func (c WakeCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText maps unknown names to CauseUnknown.
func (c *WakeCause) UnmarshalText(b []byte) error {
	*c = CauseUnknown
	for v := CauseGPIO; v <= CauseULP; v++ {
		if v.String() == string(b) {
			*c = v
			break
		}
	}
	return nil
}

// WakeReport is returned by the light sleep primitive.
type WakeReport struct {
	Cause WakeCause
	// GPIOMask has bit n set when GPIO n triggered the wake.
	GPIOMask uint64
}

// WakeRecord describes one completed light sleep.
type WakeRecord struct {
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Cause    WakeCause     `json:"cause"`
	GPIOMask uint64        `json:"gpioMask"`
	Button   bool          `json:"button"`
	Touch    bool          `json:"touch"`
}

// AbortReason tells why a sleep attempt did not happen.
type AbortReason string

const (
	AbortUSB         AbortReason = "usb"
	AbortButton      AbortReason = "button"
	AbortTouch       AbortReason = "touch"
	AbortLockTimeout AbortReason = "lock_timeout"
	AbortSleepFailed AbortReason = "sleep_failed"
)

// Snapshot is a read-only view of the coordinator.
type Snapshot struct {
	State           State  `json:"state"`
	Sleeping        bool   `json:"sleeping"`
	BacklightOff    bool   `json:"backlightOff"`
	InactiveMs      uint32 `json:"inactiveMs"`
	UserInactiveMs  uint32 `json:"userInactiveMs"`
	USBConnected    bool   `json:"usbConnected"`
	LastSleepKind   Kind   `json:"lastSleepKind"`
	WakePending     bool   `json:"wakePending"`
	SuspendedTimers int    `json:"suspendedTimers"`
}
