package events

import "encoding/json"

// Event name constants
const (
	PowerState = "power.state"
	PowerWake  = "power.wake"
	PowerAbort = "power.abort"
	Backlight  = "backlight"
	Telemetry  = "telemetry"
	Button     = "button"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// PowerStateEvent is the typed payload for power.state.
type PowerStateEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// PowerWakeEvent is the typed payload for power.wake.
type PowerWakeEvent struct {
	Cause      string `json:"cause"`
	DurationMs int64  `json:"durationMs"`
	Button     bool   `json:"button"`
	Touch      bool   `json:"touch"`
	Ts         int64  `json:"ts"`
}

// PowerAbortEvent is the typed payload for power.abort.
type PowerAbortEvent struct {
	Reason string `json:"reason"`
	Ts     int64  `json:"ts"`
}

// BacklightEvent is the typed payload for backlight.
type BacklightEvent struct {
	On bool  `json:"on"`
	Ts int64 `json:"ts"`
}

// TelemetryEvent is the typed payload for telemetry.
type TelemetryEvent struct {
	VoltageMV   uint16 `json:"voltageMillivolts"`
	Percent     uint8  `json:"percent"`
	Charging    bool   `json:"charging"`
	VBUSPresent bool   `json:"vbusPresent"`
	Fallbacks   string `json:"fallbacks,omitempty"`
	Ts          int64  `json:"ts"`
}

// ButtonEvent is the typed payload for button.
type ButtonEvent struct {
	// Kind is "press" or "long_press".
	Kind       string `json:"kind"`
	DurationMs int64  `json:"durationMs"`
	Ts         int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.PowerStateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
