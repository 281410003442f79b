package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/activity"
	"github.com/charlie0129/watchpm/pkg/button"
	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/events"
	"github.com/charlie0129/watchpm/pkg/kv"
	"github.com/charlie0129/watchpm/pkg/metrics"
	"github.com/charlie0129/watchpm/pkg/platform/sim"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/tasks"
	"github.com/charlie0129/watchpm/pkg/telemetry"
	"github.com/charlie0129/watchpm/pkg/types"
	"github.com/charlie0129/watchpm/pkg/uitimer"
	"github.com/charlie0129/watchpm/pkg/uptime"
)

// ErrRestart is returned by Run when the watch powered off or a restart was
// requested. The service manager is expected to start the daemon again.
var ErrRestart = errors.New("restart requested")

// Widget refresh periods.
const (
	clockRefresh   = time.Second
	batteryRefresh = 5 * time.Second
)

// Daemon wires the board, the telemetry poller, the GUI loop and the sleep
// coordinator together.
type Daemon struct {
	conf config.Config

	store   *kv.Store
	uptime  *uptime.Tracker
	kinds   *kindStore
	tiles   *tileStore
	history *SleepRecorder
	hub     *events.EventHub

	board   Board
	sim     *sim.Board
	radio   *sim.Radio
	pmu     *telemetry.Device
	reader  *telemetry.Reader
	poller  *telemetry.Poller
	ui      *uitimer.Loop
	clock   *activity.Clock
	manager *sleep.Manager
	button  *button.Watcher
	saver   *Scheduler

	ctx context.Context

	restartOnce sync.Once
	restart     chan struct{}
}

// New builds a Daemon from conf. Nothing runs until Start.
func New(conf config.Config) (*Daemon, error) {
	if conf == nil {
		panic("config is nil")
	}

	d := &Daemon{
		conf:    conf,
		history: NewSleepRecorder(historySize),
		hub:     events.NewEventHub(),
		ctx:     context.Background(),
		restart: make(chan struct{}),
	}

	var err error
	d.store, err = kv.Open(conf.DataDir())
	if err != nil {
		return nil, err
	}
	d.uptime, err = uptime.NewTracker(d.store, nil)
	if err != nil {
		return nil, err
	}
	if err := d.uptime.Init(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to initialize uptime tracker")
	}
	d.kinds, err = newKindStore(d.store)
	if err != nil {
		return nil, err
	}
	d.tiles, err = newTileStore(d.store)
	if err != nil {
		return nil, err
	}

	board, devConf, err := openBoard(conf, func() { d.requestRestart("deep sleep") })
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open board")
	}
	d.board = board
	if s, ok := board.(*sim.Board); ok {
		d.sim = s
		d.radio = sim.NewRadio()
	}

	d.pmu = telemetry.NewDevice(board, devConf)
	if err := d.pmu.Configure(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to configure PMU")
	}
	d.reader = telemetry.NewReader(d.pmu, conf.TelemetryRetry())
	d.poller = telemetry.NewPoller(d.reader, conf.TelemetryInterval())
	d.poller.Observe(d.onReading)

	d.ui = uitimer.NewLoop(uitimer.DefaultTickInterval)
	d.ui.Add("clock", clockRefresh, d.ui.Invalidate)
	d.ui.Add("battery", batteryRefresh, func() {
		if _, ok := d.poller.Latest(); ok {
			d.ui.Invalidate()
		}
	})

	d.clock = activity.NewClock(nil)
	deps := sleep.Deps{
		Clock:    d.clock,
		Display:  display.NewController(board),
		Lock:     d.ui,
		Timers:   tasks.NewRegistry(d.ui, conf.TimerCapacity()),
		Power:    d.reader,
		Battery:  d.reader,
		Inputs:   board,
		Wake:     board,
		Sleeper:  board,
		Renderer: d.ui,
		Uptime:   d.uptime,
		Kinds:    d.kinds,
	}
	if d.radio != nil {
		deps.Radio = d.radio
	}
	d.manager, err = sleep.NewManager(config.ToOptions(conf), deps, sleep.Hooks{
		OnStateChange: d.onStateChange,
		OnWake:        d.onWake,
		OnAbort:       d.onAbort,
	})
	if err != nil {
		return nil, err
	}
	if err := d.manager.Init(); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to initialize sleep manager")
	}

	if kind, ok := d.manager.LastSleepType(); ok && kind == sleep.KindDeep {
		tile := d.tiles.Restore()
		logrus.WithFields(logrus.Fields{
			"row": tile.Row,
			"col": tile.Col,
		}).Info("restoring tile after deep sleep")
	}

	d.button = button.NewWatcher(board, button.DefaultConfig(), button.Handlers{
		OnActivity:   d.manager.OnActivity,
		OnShortPress: d.onShortPress,
		OnLongPress:  d.onLongPress,
	})

	d.saver = NewScheduler("uptime", d.uptime.Save, d.checkAwake, func(data any) {
		logrus.Errorf("periodic uptime save failed: %v", data)
	})
	if err := d.saver.Schedule(conf.UptimeSaveSchedule()); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid uptime save schedule")
	}

	metrics.Init(d.clock.Inactive)
	metrics.SetPowerState(int(d.manager.State()))

	return d, nil
}

// Start runs the background loops until ctx is done.
func (d *Daemon) Start(ctx context.Context) {
	d.ctx = ctx
	go d.poller.Run(ctx)
	go d.ui.Run(ctx)
	go d.button.Run(ctx)
	go d.manager.Run(ctx)
	d.saver.Start()
	go func() {
		<-ctx.Done()
		d.saver.Stop()
	}()
}

// Restart is closed when the daemon should exit and be started again.
func (d *Daemon) Restart() <-chan struct{} {
	return d.restart
}

func (d *Daemon) requestRestart(reason string) {
	d.restartOnce.Do(func() {
		logrus.WithField("reason", reason).Warn("restart requested")
		close(d.restart)
	})
}

// Reload re-reads the config file and applies it.
func (d *Daemon) Reload() error {
	if err := d.conf.Load(); err != nil {
		return err
	}
	d.applyConfig()
	return nil
}

func (d *Daemon) applyConfig() {
	d.manager.SetOptions(config.ToOptions(d.conf))
	if err := d.saver.Schedule(d.conf.UptimeSaveSchedule()); err != nil {
		logrus.WithError(err).Error("failed to apply uptime save schedule")
	}
	logrus.WithFields(d.conf.LogrusFields()).Debug("config applied")
}

// Shutdown persists the uptime counters.
func (d *Daemon) Shutdown() {
	d.saver.Stop()
	if err := d.uptime.Save(); err != nil {
		logrus.Errorf("failed to save uptime before exiting: %v", err)
	}
}

func (d *Daemon) checkAwake() error {
	switch s := d.manager.State(); s {
	case sleep.Awake, sleep.Dimmed:
		return nil
	default:
		return pkgerrors.Errorf("watch is in %s", s)
	}
}

func (d *Daemon) onReading(r telemetry.Reading) {
	var fallbacks []string
	if r.Fallbacks != 0 {
		fallbacks = strings.Split(r.Fallbacks.String(), ",")
	}
	metrics.ObserveBattery(r.VoltageMV, r.Percent, r.Charging, r.VBUSPresent, fallbacks)

	ev := events.TelemetryEvent{
		VoltageMV:   r.VoltageMV,
		Percent:     r.Percent,
		Charging:    r.Charging,
		VBUSPresent: r.VBUSPresent,
		Ts:          r.Time.Unix(),
	}
	if r.Fallbacks != 0 {
		ev.Fallbacks = r.Fallbacks.String()
	}
	d.hub.Publish(events.Telemetry, ev)
}

func (d *Daemon) onStateChange(from, to sleep.State) {
	metrics.SetPowerState(int(to))
	switch to {
	case sleep.LightSleep:
		metrics.IncSleep(sleep.KindLight.String())
	case sleep.DeepSleep:
		metrics.IncSleep(sleep.KindDeep.String())
	}

	now := time.Now().Unix()
	d.hub.Publish(events.PowerState, events.PowerStateEvent{
		From: from.String(),
		To:   to.String(),
		Ts:   now,
	})
	if on := to == sleep.Awake; on != (from == sleep.Awake) {
		d.hub.Publish(events.Backlight, events.BacklightEvent{On: on, Ts: now})
	}
}

func (d *Daemon) onWake(w sleep.WakeRecord) {
	d.history.AddWake(w)
	metrics.ObserveWake(w.Cause.String(), w.Duration)
	d.hub.Publish(events.PowerWake, events.PowerWakeEvent{
		Cause:      w.Cause.String(),
		DurationMs: w.Duration.Milliseconds(),
		Button:     w.Button,
		Touch:      w.Touch,
		Ts:         time.Now().Unix(),
	})
}

func (d *Daemon) onAbort(reason sleep.AbortReason) {
	metrics.IncSleepAborted(string(reason))
	d.hub.Publish(events.PowerAbort, events.PowerAbortEvent{
		Reason: string(reason),
		Ts:     time.Now().Unix(),
	})
}

// onShortPress navigates back to the watch face.
func (d *Daemon) onShortPress(held time.Duration) {
	if d.ui.Lock(100 * time.Millisecond) {
		if err := d.tiles.Set(types.HomeTile); err != nil {
			logrus.WithError(err).Warn("failed to persist tile state")
		}
		d.ui.Invalidate()
		d.ui.Unlock()
	} else {
		logrus.Warn("display busy, ignoring button navigation")
	}

	d.hub.Publish(events.Button, events.ButtonEvent{
		Kind:       "press",
		DurationMs: held.Milliseconds(),
		Ts:         time.Now().Unix(),
	})
}

func (d *Daemon) onLongPress(held time.Duration) {
	d.hub.Publish(events.Button, events.ButtonEvent{
		Kind:       "long_press",
		DurationMs: held.Milliseconds(),
		Ts:         time.Now().Unix(),
	})
	d.requestRestart("long press")
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/state", d.getState)
	router.GET("/battery", d.getBattery)
	router.GET("/battery/raw", d.getBatteryRaw)
	router.PUT("/charging", d.setCharging)
	router.GET("/config", d.getConfig)
	router.PUT("/config/:key", d.setConfig)
	router.POST("/activity", d.postActivity)
	router.POST("/button", d.postButton)
	router.POST("/touch", d.postTouch)
	router.PUT("/usb", d.setUSB)
	router.POST("/sleep", d.postSleep)
	router.POST("/wake", d.postWake)
	router.PUT("/backlight", d.setBacklight)
	router.GET("/uptime", d.getUptime)
	router.DELETE("/uptime", d.resetUptime)
	router.GET("/history", d.getHistory)
	router.GET("/tile", d.getTile)
	router.PUT("/tile", d.setTile)
	router.GET("/events", d.streamEvents)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/version", getVersion)

	return router
}

// Run starts the daemon and serves the API on unixSocketPath until a signal
// arrives. It returns ErrRestart when the watch powered off or a long press
// requested a restart.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	d, err := New(conf)
	if err != nil {
		return err
	}
	seedSimulator(d.board)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := d.Reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: d.setupRoutes(),
	}

	_ = os.Remove(unixSocketPath)
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	var ret error
	select {
	case sig := <-sigc:
		logrus.Infof("caught signal \"%s\": shutting down.", sig)
	case <-d.Restart():
		ret = ErrRestart
	}

	logrus.Info("shutting down http server")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(sctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	scancel()

	cancel()
	d.Shutdown()

	logrus.Info("exiting")
	return ret
}
