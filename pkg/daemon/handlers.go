package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/types"
	"github.com/charlie0129/watchpm/pkg/version"
)

const defaultPressDuration = 100 * time.Millisecond

var errNotSimulated = errors.New("only the simulated board supports this")

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (d *Daemon) status() types.Status {
	st := types.Status{
		Snapshot:    d.manager.Snapshot(),
		Board:       d.conf.Board(),
		BacklightOn: !d.manager.IsBacklightOff(),
		Tile:        d.tiles.Current(),
	}
	if r, ok := d.poller.Latest(); ok {
		st.Battery = &r
	}
	if s, err := d.uptime.Stats(); err == nil {
		st.Uptime = &s
	}
	return st
}

func (d *Daemon) getState(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.status())
}

func (d *Daemon) getBattery(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.poller.Poll())
}

func (d *Daemon) getBatteryRaw(c *gin.Context) {
	var raw types.RawBattery
	var err error

	if raw.VoltageMV, err = d.reader.ReadRawVoltage(); err != nil {
		raw.VoltageErr = err.Error()
	}
	if raw.Charging, err = d.reader.IsCharging(); err != nil {
		raw.ChargingErr = err.Error()
	}
	if raw.VBUSPresent, err = d.reader.IsVBUSPresent(); err != nil {
		raw.VBUSErr = err.Error()
	}

	c.IndentedJSON(http.StatusOK, raw)
}

func (d *Daemon) setCharging(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := d.pmu.SetChargingEnabled(enabled); err != nil {
		logrus.Errorf("setCharging failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("battery charging enabled: %t", enabled))
}

func (d *Daemon) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.conf.Raw())
}

func (d *Daemon) setConfig(c *gin.Context) {
	key := c.Param("key")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := d.conf.Set(key, strings.TrimSpace(string(body))); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := d.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	d.applyConfig()

	logrus.WithField("key", key).Infof("config updated")
	c.IndentedJSON(http.StatusCreated, d.conf.Raw())
}

func (d *Daemon) postActivity(c *gin.Context) {
	d.manager.OnActivity()
	c.IndentedJSON(http.StatusOK, d.manager.Snapshot())
}

type pressRequest struct {
	DurationMs int64 `json:"durationMs"`
}

func pressDuration(c *gin.Context) (time.Duration, error) {
	var req pressRequest
	if c.Request.ContentLength != 0 {
		if err := c.BindJSON(&req); err != nil {
			return 0, err
		}
	}
	if req.DurationMs < 0 {
		return 0, fmt.Errorf("duration must not be negative, got %d", req.DurationMs)
	}
	if req.DurationMs == 0 {
		return defaultPressDuration, nil
	}
	return time.Duration(req.DurationMs) * time.Millisecond, nil
}

func (d *Daemon) postButton(c *gin.Context) {
	if d.sim == nil {
		abortWithError(c, http.StatusNotImplemented, errNotSimulated)
		return
	}
	held, err := pressDuration(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.sim.Press(d.manager.Options().ButtonPin, held)
	c.IndentedJSON(http.StatusAccepted, fmt.Sprintf("button pressed for %s", held))
}

func (d *Daemon) postTouch(c *gin.Context) {
	if d.sim == nil {
		abortWithError(c, http.StatusNotImplemented, errNotSimulated)
		return
	}
	held, err := pressDuration(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.sim.Touch(d.manager.Options().TouchPin, held)
	// The touch driver reports activity on its own.
	d.manager.OnActivity()
	c.IndentedJSON(http.StatusAccepted, fmt.Sprintf("touched for %s", held))
}

func (d *Daemon) setUSB(c *gin.Context) {
	if d.sim == nil {
		abortWithError(c, http.StatusNotImplemented, errNotSimulated)
		return
	}
	var plugged bool
	if err := c.BindJSON(&plugged); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	d.sim.SetVBUS(plugged)
	d.poller.Poll()
	logrus.Infof("simulated usb plugged: %t", plugged)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (d *Daemon) postSleep(c *gin.Context) {
	if c.Query("deep") == "true" {
		go func() {
			if err := d.manager.DeepSleep(); err != nil {
				logrus.Errorf("requested deep sleep failed: %v", err)
			}
		}()
		c.IndentedJSON(http.StatusAccepted, "deep sleep requested")
		return
	}

	go func() {
		if err := d.manager.Sleep(d.ctx); err != nil {
			logrus.Errorf("requested sleep failed: %v", err)
		}
	}()
	c.IndentedJSON(http.StatusAccepted, "sleep requested")
}

func (d *Daemon) postWake(c *gin.Context) {
	if d.sim != nil && d.sim.Interrupt(sleep.CauseUART) {
		c.IndentedJSON(http.StatusAccepted, "wake source fired")
		return
	}

	if err := d.manager.Wake(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, sleep.ErrDisplayLockTimeout) {
			code = http.StatusServiceUnavailable
		}
		abortWithError(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusOK, d.manager.Snapshot())
}

func (d *Daemon) setBacklight(c *gin.Context) {
	var on bool
	if err := c.BindJSON(&on); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	var err error
	if on {
		err = d.manager.BacklightOn()
	} else {
		err = d.manager.BacklightOff()
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("backlight on: %t", !d.manager.IsBacklightOff()))
}

func (d *Daemon) getUptime(c *gin.Context) {
	stats, err := d.uptime.Stats()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, stats)
}

func (d *Daemon) resetUptime(c *gin.Context) {
	if err := d.uptime.Reset(); err != nil {
		logrus.Errorf("resetUptime failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	logrus.Info("uptime statistics reset")
	c.IndentedJSON(http.StatusOK, "ok")
}

func (d *Daemon) getHistory(c *gin.Context) {
	if last := c.Query("last"); last != "" {
		dur, err := time.ParseDuration(last)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		c.IndentedJSON(http.StatusOK, d.history.GetRecordsIn(dur))
		return
	}
	c.IndentedJSON(http.StatusOK, d.history.GetRecords())
}

func (d *Daemon) getTile(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, d.tiles.Current())
}

func (d *Daemon) setTile(c *gin.Context) {
	var tile types.Tile
	if err := c.BindJSON(&tile); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := d.tiles.Set(tile); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d.manager.OnActivity()
	d.ui.Invalidate()
	c.IndentedJSON(http.StatusCreated, tile)
}

func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", "{}")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
