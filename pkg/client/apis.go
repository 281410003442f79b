package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
	"github.com/charlie0129/watchpm/pkg/types"
	"github.com/charlie0129/watchpm/pkg/uptime"
)

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) GetStatus() (*types.Status, error) {
	return getJSON[types.Status](c, "/state", "status")
}

// GetBattery triggers a fresh battery read.
func (c *Client) GetBattery() (*telemetry.Reading, error) {
	return getJSON[telemetry.Reading](c, "/battery", "battery reading")
}

func (c *Client) GetRawBattery() (*types.RawBattery, error) {
	return getJSON[types.RawBattery](c, "/battery/raw", "raw battery reading")
}

func (c *Client) SetCharging(enabled bool) (string, error) {
	return c.Put("/charging", strconv.FormatBool(enabled))
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

// SetConfig sets one config key. value is sent as is; the daemon parses it
// as JSON first and falls back to a plain string.
func (c *Client) SetConfig(key, value string) (*config.RawFileConfig, error) {
	ret, err := c.Put("/config/"+key, value)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set %s", key)
	}
	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

// Touch reports user activity.
func (c *Client) Touch() (*sleep.Snapshot, error) {
	ret, err := c.Post("/activity", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to report activity")
	}
	var s sleep.Snapshot
	if err := json.Unmarshal([]byte(ret), &s); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal state")
	}
	return &s, nil
}

func pressBody(held time.Duration) string {
	if held <= 0 {
		return ""
	}
	return fmt.Sprintf(`{"durationMs":%d}`, held.Milliseconds())
}

// PressButton holds the simulated button for held. Zero means a short tap.
func (c *Client) PressButton(held time.Duration) (string, error) {
	return c.Post("/button", pressBody(held))
}

// TouchScreen asserts the simulated touch line for held.
func (c *Client) TouchScreen(held time.Duration) (string, error) {
	return c.Post("/touch", pressBody(held))
}

// SetUSB plugs or unplugs simulated USB power.
func (c *Client) SetUSB(plugged bool) (string, error) {
	return c.Put("/usb", strconv.FormatBool(plugged))
}

func (c *Client) Sleep(deep bool) (string, error) {
	if deep {
		return c.Post("/sleep?deep=true", "")
	}
	return c.Post("/sleep", "")
}

func (c *Client) Wake() (string, error) {
	return c.Post("/wake", "")
}

func (c *Client) SetBacklight(on bool) (string, error) {
	return c.Put("/backlight", strconv.FormatBool(on))
}

func (c *Client) GetUptime() (*uptime.Stats, error) {
	return getJSON[uptime.Stats](c, "/uptime", "uptime")
}

func (c *Client) ResetUptime() (string, error) {
	return c.Delete("/uptime")
}

// GetHistory returns recent light sleeps. A zero last returns all records.
func (c *Client) GetHistory(last time.Duration) ([]types.SleepRecord, error) {
	path := "/history"
	if last > 0 {
		path += "?last=" + last.String()
	}
	recs, err := getJSON[[]types.SleepRecord](c, path, "sleep history")
	if err != nil {
		return nil, err
	}
	return *recs, nil
}

func (c *Client) GetTile() (*types.Tile, error) {
	return getJSON[types.Tile](c, "/tile", "tile")
}

func (c *Client) SetTile(t types.Tile) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return c.Put("/tile", string(b))
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}
