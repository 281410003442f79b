package types

import (
	"time"

	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
	"github.com/charlie0129/watchpm/pkg/uptime"
)

// Status is the daemon overview served at /state.
// This struct is shared between the daemon and client packages.
type Status struct {
	sleep.Snapshot
	Board       string             `json:"board"`
	BacklightOn bool               `json:"backlightOn"`
	Tile        Tile               `json:"tile"`
	Battery     *telemetry.Reading `json:"battery,omitempty"`
	Uptime      *uptime.Stats      `json:"uptime,omitempty"`
}

// Tile is a position in the watch UI tile grid. (0,0) is the watch face.
type Tile struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Tile grid bounds.
const (
	TileRows = 2
	TileCols = 1
)

// HomeTile is the watch face.
var HomeTile = Tile{}

// Valid reports whether t is inside the grid.
func (t Tile) Valid() bool {
	return t.Row >= 0 && t.Row < TileRows && t.Col >= 0 && t.Col < TileCols
}

// Name is the screen shown on the tile.
func (t Tile) Name() string {
	switch t {
	case Tile{0, 0}:
		return "watchface"
	case Tile{1, 0}:
		return "settings"
	default:
		return "unknown"
	}
}

// RawBattery is a single unchecked PMU read, served at /battery/raw.
type RawBattery struct {
	VoltageMV   uint16 `json:"voltageMillivolts"`
	VoltageErr  string `json:"voltageError,omitempty"`
	Charging    bool   `json:"charging"`
	ChargingErr string `json:"chargingError,omitempty"`
	VBUSPresent bool   `json:"vbusPresent"`
	VBUSErr     string `json:"vbusError,omitempty"`
}

// SleepRecord is one completed light sleep.
type SleepRecord struct {
	Start    time.Time       `json:"start"`
	Duration time.Duration   `json:"duration"`
	Cause    sleep.WakeCause `json:"cause"`
	Button   bool            `json:"button"`
	Touch    bool            `json:"touch"`
}
