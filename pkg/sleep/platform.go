package sleep

import (
	"context"

	"github.com/charlie0129/watchpm/pkg/telemetry"
)

// PowerSensor reports USB bus power.
type PowerSensor interface {
	IsVBUSPresent() (bool, error)
}

// BatteryReader is used for power logs.
type BatteryReader interface {
	ReadSafe(want telemetry.Fields) (telemetry.Reading, error)
}

// Inputs reads the live level of the wake lines. Both lines are active low;
// true means asserted.
type Inputs interface {
	ButtonPressed() bool
	TouchActive() bool
}

// WakeArmer configures GPIO wake sources. It is used once, at Init.
type WakeArmer interface {
	// ConfigureButton makes pin a pulled-up input.
	ConfigureButton(pin int) error
	// EnableWakeOnLow arms pin as a low-level wake source without changing
	// its existing configuration.
	EnableWakeOnLow(pin int) error
	// EnableGPIOWakeup turns on GPIO wake globally.
	EnableGPIOWakeup() error
}

// Sleeper is the platform low-power primitive.
type Sleeper interface {
	// LightSleep suspends the system until a wake source fires or ctx is
	// done.
	LightSleep(ctx context.Context) (WakeReport, error)
	// DeepSleep powers the system down. It does not return on success.
	DeepSleep()
}

// Renderer toggles GUI invalidation tracking.
type Renderer interface {
	SetInvalidation(enabled bool)
}

// Radio is the WiFi radio.
type Radio interface {
	Suspend() error
	Resume() error
	Connect() error
}

// UptimeSaver persists uptime counters before sleep.
type UptimeSaver interface {
	Save() error
}

// KindStore persists the last sleep kind across deep sleep.
type KindStore interface {
	LoadSleepKind() (Kind, error)
	StoreSleepKind(Kind) error
}

// Hooks are optional notifications. They are called synchronously from the
// goroutine that caused the change and must not block.
type Hooks struct {
	OnStateChange func(from, to State)
	OnWake        func(WakeRecord)
	OnAbort       func(AbortReason)
}
