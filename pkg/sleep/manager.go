package sleep

import (
	"context"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/watchpm/pkg/activity"
	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/tasks"
	"github.com/charlie0129/watchpm/pkg/telemetry"
)

var (
	// ErrDisplayLockTimeout is returned when the display lock could not be
	// acquired within the lock policy. The transition is retried later.
	ErrDisplayLockTimeout = errors.New("timed out acquiring display lock")
	// ErrDeepSleepReturned means the deep sleep primitive returned control,
	// which only happens when it failed to engage.
	ErrDeepSleepReturned = errors.New("deep sleep primitive returned")
)

// sleepFunc is replaced in tests.
var sleepFunc = time.Sleep

// Deps are the collaborators of a Manager. Display, Lock and Sleeper are
// required; everything else may be nil.
type Deps struct {
	Clock    *activity.Clock
	Display  *display.Controller
	Lock     display.Locker
	Timers   *tasks.Registry
	Power    PowerSensor
	Battery  BatteryReader
	Inputs   Inputs
	Wake     WakeArmer
	Sleeper  Sleeper
	Renderer Renderer
	Radio    Radio
	Uptime   UptimeSaver
	Kinds    KindStore
}

// Manager is the sleep/wake coordinator. It is the only writer of the power
// state; other components call its narrow methods.
type Manager struct {
	deps  Deps
	hooks Hooks

	// transMu serialises Sleep, Wake and deep sleep entry.
	transMu sync.Mutex

	mu          sync.Mutex
	opts        Options
	sleeping    bool
	sleepState  State
	wakePending bool
	lastKind    Kind
	// entering is set while Sleep holds transMu. A Wake in that window
	// cancels the sleep through cancelSleep, or sets wakeRequested when the
	// primitive has not been called yet.
	entering          bool
	wakeRequested     bool
	cancelSleep       context.CancelFunc
	renderingDisabled bool
	radioSuspended    bool
}

// NewManager returns a Manager. Call Init before Run.
func NewManager(opts Options, deps Deps, hooks Hooks) (*Manager, error) {
	if deps.Display == nil {
		return nil, pkgerrors.New("display controller is required")
	}
	if deps.Lock == nil {
		return nil, pkgerrors.New("display lock is required")
	}
	if deps.Sleeper == nil {
		return nil, pkgerrors.New("sleeper is required")
	}
	if deps.Clock == nil {
		deps.Clock = activity.NewClock(nil)
	}

	return &Manager{
		deps:  deps,
		hooks: hooks,
		opts:  opts.normalize(),
	}, nil
}

// Options returns the current options.
func (m *Manager) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOptions replaces the options. Wake sources armed by Init are not
// re-armed.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	m.opts = opts.normalize()
	m.mu.Unlock()
	logrus.Debug("sleep options updated")
}

// Init arms the wake sources, resets the activity clock and loads the kind
// of the sleep that preceded this boot.
func (m *Manager) Init() error {
	opts := m.Options()

	if opts.GPIOWakeup && m.deps.Wake != nil {
		// The touch line is already configured by its driver. Only its wake
		// capability is toggled.
		if opts.TouchWakeup {
			if err := m.deps.Wake.EnableWakeOnLow(opts.TouchPin); err != nil {
				return pkgerrors.Wrapf(err, "failed to arm touch wakeup on GPIO%d", opts.TouchPin)
			}
			logrus.WithField("pin", opts.TouchPin).Info("touch wakeup armed")
		}
		if err := m.deps.Wake.ConfigureButton(opts.ButtonPin); err != nil {
			return pkgerrors.Wrapf(err, "failed to configure button GPIO%d", opts.ButtonPin)
		}
		if err := m.deps.Wake.EnableWakeOnLow(opts.ButtonPin); err != nil {
			return pkgerrors.Wrapf(err, "failed to arm button wakeup on GPIO%d", opts.ButtonPin)
		}
		if err := m.deps.Wake.EnableGPIOWakeup(); err != nil {
			return pkgerrors.Wrapf(err, "failed to enable GPIO wakeup")
		}
		logrus.WithField("pin", opts.ButtonPin).Info("button wakeup armed")
	}

	if m.deps.Kinds != nil {
		k, err := m.deps.Kinds.LoadSleepKind()
		if err != nil {
			logrus.WithError(err).Warn("failed to load last sleep kind")
		} else {
			m.mu.Lock()
			m.lastKind = k
			m.mu.Unlock()
		}
	}

	if err := m.deps.Display.On(); err != nil {
		logrus.WithError(err).Warn("failed to turn backlight on at init")
	}
	m.deps.Clock.Reset()

	logrus.WithFields(logrus.Fields{
		"backlightTimeout": opts.BacklightTimeout,
		"sleepTimeout":     opts.SleepTimeout,
		"deepSleep":        opts.DeepSleepEnable,
		"lightSleep":       opts.LightSleepEnable,
	}).Info("sleep manager initialized")
	return nil
}

// State returns the current power state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	if m.sleeping {
		return m.sleepState
	}
	if m.deps.Display.IsOff() {
		return Dimmed
	}
	return Awake
}

// Snapshot returns a read-only view of the coordinator. The last sleep kind
// is not consumed.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		State:         m.stateLocked(),
		Sleeping:      m.sleeping,
		BacklightOff:  m.deps.Display.IsOff(),
		LastSleepKind: m.lastKind,
		WakePending:   m.wakePending,
	}
	m.mu.Unlock()

	s.InactiveMs = m.deps.Clock.InactiveMs()
	s.UserInactiveMs = m.deps.Clock.UserInactiveMs()
	s.USBConnected = m.IsUSBConnected()
	if m.deps.Timers != nil {
		s.SuspendedTimers = m.deps.Timers.Len()
	}
	return s
}

func (m *Manager) isSleeping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleeping
}

// IsUSBConnected reports whether VBUS is present. A read failure counts as
// not connected.
func (m *Manager) IsUSBConnected() bool {
	if m.deps.Power == nil {
		return false
	}
	vbus, err := m.deps.Power.IsVBUSPresent()
	if err != nil {
		logrus.WithError(err).Warn("failed to read VBUS status, assuming no USB")
		return false
	}
	return vbus
}

// ResetTimer marks user activity, unless timer resets are disabled.
func (m *Manager) ResetTimer() {
	if !m.Options().TouchResetTimer {
		return
	}
	m.deps.Clock.Reset()
	m.debugf("activity timer reset")
}

// InactiveTime returns milliseconds since the last activity.
func (m *Manager) InactiveTime() uint32 {
	return m.deps.Clock.InactiveMs()
}

// OnActivity is called by input handlers on every touch or press. Input is
// ignored while sleeping.
func (m *Manager) OnActivity() {
	if m.isSleeping() {
		return
	}
	m.ResetTimer()
	if m.deps.Display.IsOff() {
		if err := m.BacklightOn(); err != nil {
			logrus.WithError(err).Warn("failed to turn backlight on for activity")
		}
	}
}

// IsBacklightOff reports whether the backlight is off.
func (m *Manager) IsBacklightOff() bool {
	return m.deps.Display.IsOff()
}

// ShouldTurnOffBacklight reports whether the dim timeout has elapsed.
func (m *Manager) ShouldTurnOffBacklight() bool {
	opts := m.Options()
	if !opts.BacklightControl || m.deps.Display.IsOff() {
		return false
	}
	if opts.PreventScreenOffOnUSB && m.IsUSBConnected() {
		return false
	}
	return m.deps.Clock.Inactive() >= opts.BacklightTimeout
}

// BacklightOn turns the backlight on and resets the activity timer.
func (m *Manager) BacklightOn() error {
	if !m.deps.Display.IsOff() {
		return nil
	}

	from := m.State()
	if err := m.deps.Display.On(); err != nil {
		return err
	}
	m.ResetTimer()
	m.logPower("backlight_on")
	m.emitState(from)
	return nil
}

// BacklightOff turns the backlight off. It is skipped while USB keeps the
// screen on.
func (m *Manager) BacklightOff() error {
	if m.deps.Display.IsOff() {
		return nil
	}
	if m.Options().PreventScreenOffOnUSB && m.IsUSBConnected() {
		m.debugf("USB connected, keeping backlight on")
		return nil
	}

	from := m.State()
	if err := m.deps.Display.Off(); err != nil {
		return err
	}
	m.logPower("backlight_off")
	m.emitState(from)
	return nil
}

// ShouldSleep reports whether light sleep is due.
func (m *Manager) ShouldSleep() bool {
	opts := m.Options()
	if !opts.LightSleepEnable || m.isSleeping() {
		return false
	}
	if opts.PreventSleepOnUSB && m.IsUSBConnected() {
		return false
	}
	return m.deps.Clock.Inactive() >= opts.SleepTimeout
}

func (m *Manager) shouldDeepSleep() bool {
	opts := m.Options()
	if !opts.DeepSleepEnable || m.isSleeping() {
		return false
	}
	if opts.PreventDeepSleepOnUSB && m.IsUSBConnected() {
		return false
	}
	return m.deps.Clock.UserInactive() >= opts.DeepSleepTimeout
}

// LastSleepType returns the kind of the last sleep and resets it. ok is
// false when there was none. Each sleep is reported once.
func (m *Manager) LastSleepType() (Kind, bool) {
	m.mu.Lock()
	k := m.lastKind
	m.lastKind = KindNone
	m.mu.Unlock()

	if k == KindNone {
		return KindNone, false
	}
	if m.deps.Kinds != nil {
		if err := m.deps.Kinds.StoreSleepKind(KindNone); err != nil {
			logrus.WithError(err).Warn("failed to clear stored sleep kind")
		}
	}
	return k, true
}

func (m *Manager) setLastKind(k Kind) {
	m.mu.Lock()
	m.lastKind = k
	m.mu.Unlock()
	if m.deps.Kinds != nil {
		if err := m.deps.Kinds.StoreSleepKind(k); err != nil {
			logrus.WithError(err).WithField("kind", k).Warn("failed to store sleep kind")
		}
	}
}

// Sleep runs the light sleep sequence and blocks until a wake source fires.
// Inhibitors abort the attempt without an error.
func (m *Manager) Sleep(ctx context.Context) error {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	m.mu.Lock()
	m.entering = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.entering = false
		m.wakeRequested = false
		m.cancelSleep = nil
		m.mu.Unlock()
	}()

	if m.isSleeping() {
		return nil
	}
	opts := m.Options()

	if opts.PreventSleepOnUSB && m.IsUSBConnected() {
		m.abort(AbortUSB)
		return nil
	}
	if reason, busy := m.inputAsserted(); busy {
		m.abort(reason)
		return nil
	}

	m.logPower("sleep_enter")
	m.saveUptime()

	if !display.LockWithRetry(m.deps.Lock, opts.Lock) {
		m.abortNoReset(AbortLockTimeout)
		return pkgerrors.Wrapf(ErrDisplayLockTimeout, "failed to prepare light sleep")
	}
	m.suspendUI(opts)
	m.deps.Lock.Unlock()

	m.markSleeping(LightSleep)
	m.displaySleep(opts)
	m.suspendRadio(opts)
	m.setLastKind(KindLight)

	m.debugf("entering light sleep")
	start := time.Now()
	report, err := m.lightSleep(ctx)
	if err != nil {
		logrus.WithError(err).Error("light sleep failed")
		if m.hooks.OnAbort != nil {
			m.hooks.OnAbort(AbortSleepFailed)
		}
		if werr := m.wakeLocked(); werr != nil {
			logrus.WithError(werr).Warn("wake after failed light sleep deferred")
		}
		return pkgerrors.Wrapf(err, "light sleep failed")
	}

	rec := WakeRecord{
		Start:    start,
		Duration: time.Since(start),
		Cause:    report.Cause,
		GPIOMask: report.GPIOMask,
		Button:   report.GPIOMask&(1<<uint(opts.ButtonPin)) != 0,
		Touch:    report.GPIOMask&(1<<uint(opts.TouchPin)) != 0,
	}
	fields := logrus.Fields{
		"duration": rec.Duration.Round(time.Millisecond),
		"cause":    rec.Cause,
	}
	if rec.Cause == CauseGPIO {
		fields["button"] = rec.Button
		fields["touch"] = rec.Touch
	}
	logrus.WithFields(fields).Info("woke from light sleep")
	if m.hooks.OnWake != nil {
		m.hooks.OnWake(rec)
	}

	if err := m.wakeLocked(); err != nil {
		return pkgerrors.Wrapf(err, "wake after light sleep deferred")
	}
	m.logPower("sleep_exit")
	return nil
}

// lightSleep calls the sleep primitive unless a wake was requested while
// the sequence was being prepared. A requested wake cancels the primitive
// and is reported with CauseUART.
func (m *Manager) lightSleep(ctx context.Context) (WakeReport, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	requested := m.wakeRequested
	if !requested {
		m.cancelSleep = cancel
	}
	m.mu.Unlock()

	if requested {
		m.debugf("wake requested during sleep entry, skipping light sleep")
		return WakeReport{Cause: CauseUART}, nil
	}

	report, err := m.deps.Sleeper.LightSleep(sctx)

	m.mu.Lock()
	m.cancelSleep = nil
	m.mu.Unlock()

	if err != nil && ctx.Err() == nil && sctx.Err() != nil {
		return WakeReport{Cause: CauseUART}, nil
	}
	return report, err
}

// Wake runs the wake sequence. It is a no-op when not sleeping. On
// ErrDisplayLockTimeout the wake is deferred to the next Tick.
//
// While a light sleep is being entered or is in progress, Wake ends it and
// returns without waiting for the wake sequence, which runs on the sleeping
// goroutine.
func (m *Manager) Wake() error {
	for !m.transMu.TryLock() {
		if m.requestWake() {
			logrus.Debug("wake requested during light sleep")
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	defer m.transMu.Unlock()
	return m.wakeLocked()
}

// requestWake interrupts a light sleep that is being entered or is in
// progress. It reports false when no light sleep holds the transition.
func (m *Manager) requestWake() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.entering {
		return false
	}
	if m.cancelSleep != nil {
		m.cancelSleep()
	} else {
		m.wakeRequested = true
	}
	return true
}

func (m *Manager) wakeLocked() error {
	if !m.isSleeping() {
		return nil
	}
	opts := m.Options()
	m.logPower("wake_start")

	if err := m.deps.Display.On(); err != nil {
		logrus.WithError(err).Warn("failed to turn backlight on during wake")
	}

	if !display.LockWithRetry(m.deps.Lock, opts.Lock) {
		m.mu.Lock()
		m.wakePending = true
		m.mu.Unlock()
		logrus.Warn("wake deferred, display lock busy")
		return ErrDisplayLockTimeout
	}
	m.resumeUI()
	m.deps.Lock.Unlock()

	m.deps.Clock.ResetActivity()

	m.mu.Lock()
	from := m.stateLocked()
	m.sleeping = false
	m.wakePending = false
	to := m.stateLocked()
	m.mu.Unlock()
	m.notify(from, to)

	m.resumeRadio(opts)
	m.logPower("wake_done")
	return nil
}

// DeepSleep powers the system down if no inhibitor is active. On real
// hardware it does not return on success. Inhibitor aborts return nil.
func (m *Manager) DeepSleep() error {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	if m.isSleeping() {
		return nil
	}
	opts := m.Options()

	if opts.PreventDeepSleepOnUSB && m.IsUSBConnected() {
		m.debugf("USB connected, deep sleep inhibited")
		m.abortNoReset(AbortUSB)
		return nil
	}
	if reason, busy := m.inputAsserted(); busy {
		m.debugf("input asserted, deep sleep aborted")
		m.abortNoReset(reason)
		return nil
	}

	logrus.WithField("userInactiveMs", m.deps.Clock.UserInactiveMs()).Info("entering deep sleep")
	m.logPower("deep_sleep_enter")

	if display.LockWithRetry(m.deps.Lock, opts.Lock) {
		m.suspendUI(opts)
		m.deps.Lock.Unlock()
	} else {
		logrus.Warn("display lock busy, entering deep sleep without pausing timers")
	}

	m.markSleeping(DeepSleep)
	m.displaySleep(opts)
	m.saveUptime()
	m.setLastKind(KindDeep)
	m.markSleeping(PoweredDown)

	m.deps.Sleeper.DeepSleep()

	logrus.Error("deep sleep returned, this is a hard fault")
	if err := m.wakeLocked(); err != nil {
		logrus.WithError(err).Warn("wake after failed deep sleep deferred")
	}
	return ErrDeepSleepReturned
}

func (m *Manager) inputAsserted() (AbortReason, bool) {
	if m.deps.Inputs == nil {
		return "", false
	}
	if m.deps.Inputs.TouchActive() {
		return AbortTouch, true
	}
	if m.deps.Inputs.ButtonPressed() {
		return AbortButton, true
	}
	return "", false
}

// abort resets the activity clock so the same check does not fire again on
// the next tick.
func (m *Manager) abort(reason AbortReason) {
	m.deps.Clock.Reset()
	m.abortNoReset(reason)
}

func (m *Manager) abortNoReset(reason AbortReason) {
	logrus.WithField("reason", reason).Info("sleep aborted")
	if m.hooks.OnAbort != nil {
		m.hooks.OnAbort(reason)
	}
}

func (m *Manager) saveUptime() {
	if m.deps.Uptime == nil {
		return
	}
	if err := m.deps.Uptime.Save(); err != nil {
		logrus.WithError(err).Warn("failed to save uptime before sleep")
	}
}

// suspendUI must be called with the display lock held.
func (m *Manager) suspendUI(opts Options) {
	if opts.TimerPause && m.deps.Timers != nil {
		m.deps.Timers.SuspendAll()
	}
	if opts.RenderingControl && m.deps.Renderer != nil {
		m.deps.Renderer.SetInvalidation(false)
		m.mu.Lock()
		m.renderingDisabled = true
		m.mu.Unlock()
		m.debugf("display invalidation disabled")
	}
}

// resumeUI must be called with the display lock held.
func (m *Manager) resumeUI() {
	m.mu.Lock()
	rendering := m.renderingDisabled
	m.renderingDisabled = false
	m.mu.Unlock()

	if rendering && m.deps.Renderer != nil {
		m.deps.Renderer.SetInvalidation(true)
		m.debugf("display invalidation enabled")
	}
	if m.deps.Timers != nil {
		m.deps.Timers.ResumeAll()
	}
}

func (m *Manager) displaySleep(opts Options) {
	if m.deps.Display.IsOff() {
		return
	}
	if opts.PreventScreenOffOnUSB && m.IsUSBConnected() {
		m.debugf("USB connected, keeping display on")
		return
	}
	if err := m.deps.Display.Off(); err != nil {
		logrus.WithError(err).Warn("failed to turn backlight off for sleep")
		return
	}
	m.logPower("display_off")
	if opts.FadeDelay > 0 {
		sleepFunc(opts.FadeDelay)
	}
}

func (m *Manager) suspendRadio(opts Options) {
	if !opts.WiFiSuspend || m.deps.Radio == nil {
		return
	}
	if err := m.deps.Radio.Suspend(); err != nil {
		logrus.WithError(err).Warn("failed to suspend WiFi")
		return
	}
	m.mu.Lock()
	m.radioSuspended = true
	m.mu.Unlock()
	m.debugf("WiFi suspended")
}

func (m *Manager) resumeRadio(opts Options) {
	m.mu.Lock()
	suspended := m.radioSuspended
	m.radioSuspended = false
	m.mu.Unlock()

	if !suspended || m.deps.Radio == nil {
		return
	}
	if err := m.deps.Radio.Resume(); err != nil {
		logrus.WithError(err).Warn("failed to resume WiFi")
		return
	}
	if opts.WiFiAutoConnect {
		if err := m.deps.Radio.Connect(); err != nil {
			logrus.WithError(err).Warn("failed to reconnect WiFi")
		}
	}
	m.debugf("WiFi resumed")
}

func (m *Manager) markSleeping(s State) {
	m.mu.Lock()
	from := m.stateLocked()
	m.sleeping = true
	m.sleepState = s
	m.mu.Unlock()
	m.notify(from, s)
}

func (m *Manager) emitState(from State) {
	m.notify(from, m.State())
}

func (m *Manager) notify(from, to State) {
	if from == to {
		return
	}
	logrus.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("power state changed")
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(from, to)
	}
}

func (m *Manager) debugf(format string, args ...interface{}) {
	if m.Options().DebugLogs {
		logrus.Debugf(format, args...)
		return
	}
	logrus.Tracef(format, args...)
}

func (m *Manager) logPower(label string) {
	if !m.Options().PowerLogs || m.deps.Battery == nil {
		return
	}
	r, err := m.deps.Battery.ReadSafe(telemetry.FieldAll)
	if err != nil {
		logrus.WithField("event", label).Warnf("power log: %v", err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"event":    label,
		"voltage":  telemetry.FormatVoltage(r.VoltageMV),
		"percent":  r.Percent,
		"charging": r.Charging,
		"usb":      m.IsUSBConnected(),
	}).Info("power")
}
