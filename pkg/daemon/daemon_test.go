package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/events"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/types"
	"github.com/charlie0129/watchpm/pkg/utils/ptr"
)

func newTestDaemon(t *testing.T, dataDir string, mutate func(*config.RawFileConfig)) *Daemon {
	t.Helper()
	raw := &config.RawFileConfig{
		DataDir:              ptr.To(dataDir),
		Board:                ptr.To("sim"),
		LockRetryDelayMillis: ptr.To(0),
		FadeDelayMillis:      ptr.To(0),
	}
	if mutate != nil {
		mutate(raw)
	}
	conf := config.NewFileFromConfig(raw, filepath.Join(t.TempDir(), "config.json"))

	d, err := New(conf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Shutdown)
	return d
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetState(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()
	d.poller.Poll()

	w := do(t, r, http.MethodGet, "/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /state = %d, want 200", w.Code)
	}
	st := decode[types.Status](t, w)
	if st.Board != "sim" || st.State != sleep.Awake || !st.BacklightOn {
		t.Errorf("status = %+v, want awake sim board with backlight on", st)
	}
	if st.Battery == nil || !st.Battery.VoltageValid {
		t.Errorf("status battery = %+v, want a valid reading", st.Battery)
	}
	if st.Uptime == nil || st.Uptime.BootCount != 1 {
		t.Errorf("status uptime = %+v, want first boot", st.Uptime)
	}
	if st.Tile != types.HomeTile {
		t.Errorf("status tile = %+v, want home", st.Tile)
	}
}

func TestBatteryAndUSB(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	if w := do(t, r, http.MethodPut, "/usb", "true"); w.Code != http.StatusCreated {
		t.Fatalf("PUT /usb = %d, want 201", w.Code)
	}
	w := do(t, r, http.MethodGet, "/battery", "")
	got := decode[map[string]any](t, w)
	if got["vbusPresent"] != true {
		t.Errorf("GET /battery vbusPresent = %v, want true", got["vbusPresent"])
	}
	if !d.manager.IsUSBConnected() {
		t.Errorf("IsUSBConnected() = false after plugging in")
	}

	w = do(t, r, http.MethodGet, "/battery/raw", "")
	raw := decode[types.RawBattery](t, w)
	if raw.VoltageMV == 0 || raw.VoltageErr != "" || !raw.VBUSPresent {
		t.Errorf("GET /battery/raw = %+v", raw)
	}

	if w := do(t, r, http.MethodPut, "/usb", "maybe"); w.Code != http.StatusBadRequest {
		t.Errorf("PUT /usb with bad body = %d, want 400", w.Code)
	}
}

func TestSetCharging(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	if w := do(t, r, http.MethodPut, "/charging", "false"); w.Code != http.StatusCreated {
		t.Fatalf("PUT /charging = %d, want 201", w.Code)
	}
	if d.sim.ChargingEnabled() {
		t.Errorf("ChargingEnabled() = true after disabling")
	}
	do(t, r, http.MethodPut, "/charging", "true")
	if !d.sim.ChargingEnabled() {
		t.Errorf("ChargingEnabled() = false after enabling")
	}
}

func TestSetConfig(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	tests := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"int", "sleepTimeoutSeconds", "60", http.StatusCreated},
		{"bool", "wifiSuspend", "true", http.StatusCreated},
		{"schedule", "uptimeSaveSchedule", "@every 5m", http.StatusCreated},
		{"unknown key", "noSuchKey", "1", http.StatusBadRequest},
		{"invalid value", "sleepTimeoutSeconds", "-1", http.StatusBadRequest},
		{"invalid schedule", "uptimeSaveSchedule", "whenever", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPut, "/config/"+tt.key, tt.body)
			if w.Code != tt.want {
				t.Errorf("PUT /config/%s = %d, want %d (%s)", tt.key, w.Code, tt.want, w.Body.String())
			}
		})
	}

	opts := d.manager.Options()
	if opts.SleepTimeout != time.Minute {
		t.Errorf("SleepTimeout = %v, want 1m", opts.SleepTimeout)
	}
	if !opts.WiFiSuspend {
		t.Errorf("WiFiSuspend = false, want true")
	}

	w := do(t, r, http.MethodGet, "/config", "")
	raw := decode[config.RawFileConfig](t, w)
	if raw.SleepTimeoutSeconds == nil || *raw.SleepTimeoutSeconds != 60 {
		t.Errorf("GET /config sleepTimeoutSeconds = %v, want 60", raw.SleepTimeoutSeconds)
	}
}

func TestTile(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	if w := do(t, r, http.MethodPut, "/tile", `{"row":1,"col":0}`); w.Code != http.StatusCreated {
		t.Fatalf("PUT /tile = %d, want 201", w.Code)
	}
	if w := do(t, r, http.MethodPut, "/tile", `{"row":3,"col":0}`); w.Code != http.StatusBadRequest {
		t.Errorf("PUT /tile out of range = %d, want 400", w.Code)
	}
	got := decode[types.Tile](t, do(t, r, http.MethodGet, "/tile", ""))
	if got != (types.Tile{Row: 1}) {
		t.Errorf("GET /tile = %+v, want settings", got)
	}

	d.onShortPress(100 * time.Millisecond)
	if got := d.tiles.Current(); got != types.HomeTile {
		t.Errorf("tile after short press = %+v, want home", got)
	}
}

func TestActivityAndBacklight(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	if w := do(t, r, http.MethodPut, "/backlight", "false"); w.Code != http.StatusCreated {
		t.Fatalf("PUT /backlight = %d, want 201", w.Code)
	}
	if d.sim.BacklightIsOn() || d.manager.State() != sleep.Dimmed {
		t.Errorf("backlight on = %v, state = %v, want off and dimmed", d.sim.BacklightIsOn(), d.manager.State())
	}

	w := do(t, r, http.MethodPost, "/activity", "")
	snap := decode[sleep.Snapshot](t, w)
	if snap.State != sleep.Awake || !d.sim.BacklightIsOn() {
		t.Errorf("POST /activity state = %v, want awake with backlight", snap.State)
	}
}

func TestSleepWakeCycle(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	if w := do(t, r, http.MethodPost, "/sleep", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /sleep = %d, want 202", w.Code)
	}
	waitFor(t, "light sleep", d.sim.Sleeping)
	if got := d.manager.State(); got != sleep.LightSleep {
		t.Errorf("State() while asleep = %v, want light_sleep", got)
	}
	if !d.ui.Timers()[0].(interface{ Paused() bool }).Paused() {
		t.Errorf("ui timers not paused during sleep")
	}

	if w := do(t, r, http.MethodPost, "/wake", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /wake = %d, want 202", w.Code)
	}
	waitFor(t, "wake", func() bool { return d.manager.State() == sleep.Awake })
	waitFor(t, "history", func() bool { return len(d.history.GetRecords()) == 1 })

	rec := d.history.GetRecords()[0]
	if rec.Cause != sleep.CauseUART {
		t.Errorf("history cause = %v, want uart", rec.Cause)
	}

	var names []string
	timeout := time.After(time.Second)
	for len(names) < 3 {
		select {
		case ev := <-ch:
			names = append(names, ev.Name)
		case <-timeout:
			t.Fatalf("events = %v, want sleep, wake and state events", names)
		}
	}
	if names[0] != events.PowerState {
		t.Errorf("first event = %s, want %s", names[0], events.PowerState)
	}

	hist := decode[[]types.SleepRecord](t, do(t, r, http.MethodGet, "/history", ""))
	if len(hist) != 1 {
		t.Errorf("GET /history = %d records, want 1", len(hist))
	}
	if w := do(t, r, http.MethodGet, "/history?last=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("GET /history?last=bogus = %d, want 400", w.Code)
	}
}

func TestWakeDuringSleepEntry(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	// Holding the display lock keeps the sleep sequence in its lock retries.
	if !d.ui.Lock(time.Second) {
		t.Fatalf("failed to take the display lock")
	}
	if w := do(t, r, http.MethodPost, "/sleep", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /sleep = %d, want 202", w.Code)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan int, 1)
	go func() { done <- do(t, r, http.MethodPost, "/wake", "").Code }()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("POST /wake = %d, want 200", code)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("POST /wake blocked while sleep was being entered")
	}
	d.ui.Unlock()

	waitFor(t, "history", func() bool { return len(d.history.GetRecords()) == 1 })
	waitFor(t, "wake", func() bool { return d.manager.State() == sleep.Awake })
	if rec := d.history.GetRecords()[0]; rec.Cause != sleep.CauseUART {
		t.Errorf("history cause = %v, want uart", rec.Cause)
	}
	if d.sim.LightSleeps() != 0 {
		t.Errorf("simulated light sleeps = %d, want 0", d.sim.LightSleeps())
	}
}

func TestButtonHeldDuringSleepEntry(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()
	pin := d.manager.Options().ButtonPin

	if !d.ui.Lock(time.Second) {
		t.Fatalf("failed to take the display lock")
	}
	if w := do(t, r, http.MethodPost, "/sleep", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /sleep = %d, want 202", w.Code)
	}
	time.Sleep(50 * time.Millisecond)
	d.sim.Press(pin, 2*time.Second)
	d.ui.Unlock()

	waitFor(t, "history", func() bool { return len(d.history.GetRecords()) == 1 })
	waitFor(t, "wake", func() bool { return d.manager.State() == sleep.Awake })
	rec := d.history.GetRecords()[0]
	if rec.Cause != sleep.CauseGPIO || !rec.Button {
		t.Errorf("history = %+v, want gpio wake by the button", rec)
	}
}

func TestSleepAbortedOnUSB(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)
	d.sim.SetVBUS(true)

	if err := d.manager.Sleep(context.Background()); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	select {
	case ev := <-ch:
		payload, err := events.DecodeAs[events.PowerAbortEvent](ev)
		if err != nil || ev.Name != events.PowerAbort || payload.Reason != string(sleep.AbortUSB) {
			t.Errorf("event = %s %+v (%v), want usb abort", ev.Name, payload, err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no abort event")
	}
}

func TestDeepSleepRestartsAndRestoresTile(t *testing.T) {
	dir := t.TempDir()
	d := newTestDaemon(t, dir, nil)
	r := d.setupRoutes()

	if err := d.tiles.Set(types.Tile{Row: 1}); err != nil {
		t.Fatalf("tiles.Set() error = %v", err)
	}
	if w := do(t, r, http.MethodPost, "/sleep?deep=true", ""); w.Code != http.StatusAccepted {
		t.Fatalf("POST /sleep?deep=true = %d, want 202", w.Code)
	}
	select {
	case <-d.Restart():
	case <-time.After(3 * time.Second):
		t.Fatalf("deep sleep did not request a restart")
	}
	d.Shutdown()

	next := newTestDaemon(t, dir, nil)
	if got := next.tiles.Current(); got != (types.Tile{Row: 1}) {
		t.Errorf("tile after deep sleep boot = %+v, want settings", got)
	}
	stats, err := next.uptime.Stats()
	if err != nil || stats.BootCount != 2 {
		t.Errorf("uptime after reboot = %+v, %v, want boot count 2", stats, err)
	}
}

func TestColdBootStartsHome(t *testing.T) {
	dir := t.TempDir()
	d := newTestDaemon(t, dir, nil)
	if err := d.tiles.Set(types.Tile{Row: 1}); err != nil {
		t.Fatalf("tiles.Set() error = %v", err)
	}
	d.Shutdown()

	next := newTestDaemon(t, dir, nil)
	if got := next.tiles.Current(); got != types.HomeTile {
		t.Errorf("tile after cold boot = %+v, want home", got)
	}
}

func TestLongPressRequestsRestart(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	d.onLongPress(3 * time.Second)
	select {
	case <-d.Restart():
	default:
		t.Fatalf("long press did not request a restart")
	}

	ev := <-ch
	payload, err := events.DecodeAs[events.ButtonEvent](ev)
	if err != nil || payload.Kind != "long_press" || payload.DurationMs != 3000 {
		t.Errorf("button event = %+v, %v, want long_press 3000ms", payload, err)
	}

	// A second request must not panic on the closed channel.
	d.requestRestart("again")
}

func TestUptimeEndpoints(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	stats := decode[map[string]any](t, do(t, r, http.MethodGet, "/uptime", ""))
	if stats["bootCount"] != float64(1) {
		t.Errorf("GET /uptime bootCount = %v, want 1", stats["bootCount"])
	}
	if w := do(t, r, http.MethodDelete, "/uptime", ""); w.Code != http.StatusOK {
		t.Fatalf("DELETE /uptime = %d, want 200", w.Code)
	}
	stats = decode[map[string]any](t, do(t, r, http.MethodGet, "/uptime", ""))
	if stats["bootCount"] != float64(0) {
		t.Errorf("GET /uptime after reset bootCount = %v, want 0", stats["bootCount"])
	}
}

func TestSimulatedInputs(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	r := d.setupRoutes()

	if w := do(t, r, http.MethodPost, "/button", `{"durationMs":200}`); w.Code != http.StatusAccepted {
		t.Fatalf("POST /button = %d, want 202", w.Code)
	}
	if !d.sim.ButtonPressed() {
		t.Errorf("ButtonPressed() = false right after POST /button")
	}
	waitFor(t, "button release", func() bool { return !d.sim.ButtonPressed() })

	if w := do(t, r, http.MethodPost, "/touch", `{"durationMs":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("POST /touch with negative duration = %d, want 400", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/touch", ""); w.Code != http.StatusAccepted {
		t.Errorf("POST /touch = %d, want 202", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	srv := httptest.NewServer(d.setupRoutes())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	readEvent := func() string {
		t.Helper()
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, "event:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			}
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return ""
	}

	if got := readEvent(); got != "ready" {
		t.Fatalf("first event = %q, want ready", got)
	}
	waitFor(t, "subscriber", func() bool { return d.hub.Subscribers() == 1 })

	d.onAbort(sleep.AbortTouch)
	if got := readEvent(); got != events.PowerAbort {
		t.Errorf("event = %q, want %q", got, events.PowerAbort)
	}
}

func TestCheckAwake(t *testing.T) {
	d := newTestDaemon(t, t.TempDir(), nil)
	if err := d.checkAwake(); err != nil {
		t.Errorf("checkAwake() while awake = %v, want nil", err)
	}

	go func() { _ = d.manager.Sleep(context.Background()) }()
	waitFor(t, "light sleep", d.sim.Sleeping)
	if err := d.checkAwake(); err == nil {
		t.Errorf("checkAwake() while asleep = nil, want error")
	}
	d.sim.Interrupt(sleep.CauseTimer)
	waitFor(t, "wake", func() bool { return d.manager.State() == sleep.Awake })
}
