package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/telemetry"
)

type Config interface {
	BacklightTimeout() time.Duration
	SleepTimeout() time.Duration
	DeepSleepTimeout() time.Duration
	PollInterval() time.Duration

	BacklightControl() bool
	LightSleepEnable() bool
	GPIOWakeup() bool
	TouchWakeup() bool
	DeepSleepEnable() bool
	PreventSleepOnUSB() bool
	PreventScreenOffOnUSB() bool
	PreventDeepSleepOnUSB() bool
	TimerPause() bool
	RenderingControl() bool
	WiFiSuspend() bool
	WiFiAutoConnect() bool
	PowerLogs() bool
	TouchResetTimer() bool
	DebugLogs() bool

	LockPolicy() display.LockPolicy
	FadeDelay() time.Duration
	TelemetryRetry() telemetry.RetryPolicy
	TelemetryInterval() time.Duration
	TimerCapacity() int
	UptimeSaveSchedule() string
	AllowNonRootAccess() bool

	Board() string
	I2CBus() string
	ButtonPin() string
	TouchPin() string
	BacklightPin() string
	DataDir() string

	SetAllowNonRootAccess(bool)
	// Set updates one key from its string form.
	Set(key, value string) error
	// Raw returns a copy of the effective configuration with defaults
	// filled in.
	Raw() RawFileConfig

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
