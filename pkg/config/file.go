package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/watchpm/pkg/display"
	"github.com/charlie0129/watchpm/pkg/telemetry"
	"github.com/charlie0129/watchpm/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		BacklightTimeoutSeconds: ptr.To(15),
		SleepTimeoutSeconds:     ptr.To(30),
		DeepSleepTimeoutSeconds: ptr.To(300),
		PollIntervalMillis:      ptr.To(500),

		BacklightControl:      ptr.To(true),
		LightSleepEnable:      ptr.To(true),
		GPIOWakeup:            ptr.To(true),
		TouchWakeup:           ptr.To(false),
		DeepSleepEnable:       ptr.To(false),
		PreventSleepOnUSB:     ptr.To(true),
		PreventScreenOffOnUSB: ptr.To(false),
		PreventDeepSleepOnUSB: ptr.To(true),
		TimerPause:            ptr.To(true),
		RenderingControl:      ptr.To(true),
		WiFiSuspend:           ptr.To(false),
		WiFiAutoConnect:       ptr.To(true),
		PowerLogs:             ptr.To(false),
		TouchResetTimer:       ptr.To(true),
		DebugLogs:             ptr.To(false),

		LockTimeoutMillis:         ptr.To(200),
		LockRetries:               ptr.To(5),
		LockRetryDelayMillis:      ptr.To(50),
		FadeDelayMillis:           ptr.To(100),
		TelemetryRetries:          ptr.To(3),
		TelemetryRetryDelayMillis: ptr.To(10),
		TelemetryIntervalSeconds:  ptr.To(5),
		TimerCapacity:             ptr.To(8),
		UptimeSaveSchedule:        ptr.To("@every 1m"),
		AllowNonRootAccess:        ptr.To(false),

		Board:        ptr.To("sim"),
		I2CBus:       ptr.To("1"),
		ButtonPin:    ptr.To("GPIO9"),
		TouchPin:     ptr.To("GPIO15"),
		BacklightPin: ptr.To("GPIO18"),
		DataDir:      ptr.To("/var/lib/watchpm"),
	}
)

// Boards lists the supported board backends.
var Boards = []string{"sim", "linux"}

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. A nil field means the default.
type RawFileConfig struct {
	BacklightTimeoutSeconds *int `json:"backlightTimeoutSeconds,omitempty" yaml:"backlightTimeoutSeconds,omitempty"`
	SleepTimeoutSeconds     *int `json:"sleepTimeoutSeconds,omitempty" yaml:"sleepTimeoutSeconds,omitempty"`
	DeepSleepTimeoutSeconds *int `json:"deepSleepTimeoutSeconds,omitempty" yaml:"deepSleepTimeoutSeconds,omitempty"`
	PollIntervalMillis      *int `json:"pollIntervalMillis,omitempty" yaml:"pollIntervalMillis,omitempty"`

	BacklightControl      *bool `json:"backlightControl,omitempty" yaml:"backlightControl,omitempty"`
	LightSleepEnable      *bool `json:"lightSleepEnable,omitempty" yaml:"lightSleepEnable,omitempty"`
	GPIOWakeup            *bool `json:"gpioWakeup,omitempty" yaml:"gpioWakeup,omitempty"`
	TouchWakeup           *bool `json:"touchWakeup,omitempty" yaml:"touchWakeup,omitempty"`
	DeepSleepEnable       *bool `json:"deepSleepEnable,omitempty" yaml:"deepSleepEnable,omitempty"`
	PreventSleepOnUSB     *bool `json:"preventSleepOnUSB,omitempty" yaml:"preventSleepOnUSB,omitempty"`
	PreventScreenOffOnUSB *bool `json:"preventScreenOffOnUSB,omitempty" yaml:"preventScreenOffOnUSB,omitempty"`
	PreventDeepSleepOnUSB *bool `json:"preventDeepSleepOnUSB,omitempty" yaml:"preventDeepSleepOnUSB,omitempty"`
	TimerPause            *bool `json:"timerPause,omitempty" yaml:"timerPause,omitempty"`
	RenderingControl      *bool `json:"renderingControl,omitempty" yaml:"renderingControl,omitempty"`
	WiFiSuspend           *bool `json:"wifiSuspend,omitempty" yaml:"wifiSuspend,omitempty"`
	WiFiAutoConnect       *bool `json:"wifiAutoConnect,omitempty" yaml:"wifiAutoConnect,omitempty"`
	PowerLogs             *bool `json:"powerLogs,omitempty" yaml:"powerLogs,omitempty"`
	TouchResetTimer       *bool `json:"touchResetTimer,omitempty" yaml:"touchResetTimer,omitempty"`
	DebugLogs             *bool `json:"debugLogs,omitempty" yaml:"debugLogs,omitempty"`

	LockTimeoutMillis         *int    `json:"lockTimeoutMillis,omitempty" yaml:"lockTimeoutMillis,omitempty"`
	LockRetries               *int    `json:"lockRetries,omitempty" yaml:"lockRetries,omitempty"`
	LockRetryDelayMillis      *int    `json:"lockRetryDelayMillis,omitempty" yaml:"lockRetryDelayMillis,omitempty"`
	FadeDelayMillis           *int    `json:"fadeDelayMillis,omitempty" yaml:"fadeDelayMillis,omitempty"`
	TelemetryRetries          *int    `json:"telemetryRetries,omitempty" yaml:"telemetryRetries,omitempty"`
	TelemetryRetryDelayMillis *int    `json:"telemetryRetryDelayMillis,omitempty" yaml:"telemetryRetryDelayMillis,omitempty"`
	TelemetryIntervalSeconds  *int    `json:"telemetryIntervalSeconds,omitempty" yaml:"telemetryIntervalSeconds,omitempty"`
	TimerCapacity             *int    `json:"timerCapacity,omitempty" yaml:"timerCapacity,omitempty"`
	UptimeSaveSchedule        *string `json:"uptimeSaveSchedule,omitempty" yaml:"uptimeSaveSchedule,omitempty"`
	AllowNonRootAccess        *bool   `json:"allowNonRootAccess,omitempty" yaml:"allowNonRootAccess,omitempty"`

	Board        *string `json:"board,omitempty" yaml:"board,omitempty"`
	I2CBus       *string `json:"i2cBus,omitempty" yaml:"i2cBus,omitempty"`
	ButtonPin    *string `json:"buttonPin,omitempty" yaml:"buttonPin,omitempty"`
	TouchPin     *string `json:"touchPin,omitempty" yaml:"touchPin,omitempty"`
	BacklightPin *string `json:"backlightPin,omitempty" yaml:"backlightPin,omitempty"`
	DataDir      *string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
}

// Defaults returns a copy of the default configuration.
func Defaults() RawFileConfig {
	return clone(defaultFileConfig)
}

// Keys returns every configuration key in declaration order.
func Keys() []string {
	t := reflect.TypeOf(RawFileConfig{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, jsonKey(t.Field(i)))
	}
	return keys
}

func jsonKey(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name
}

// clone copies c without sharing any pointed-to values.
func clone(c *RawFileConfig) RawFileConfig {
	var out RawFileConfig
	ov := reflect.ValueOf(&out).Elem()
	cv := reflect.ValueOf(c).Elem()
	for i := 0; i < cv.NumField(); i++ {
		src := cv.Field(i)
		if src.IsNil() {
			continue
		}
		p := reflect.New(src.Elem().Type())
		p.Elem().Set(src.Elem())
		ov.Field(i).Set(p)
	}
	return out
}

// merged fills nil fields of c from the defaults.
func merged(c *RawFileConfig) RawFileConfig {
	out := clone(c)
	def := clone(defaultFileConfig)
	ov := reflect.ValueOf(&out).Elem()
	dv := reflect.ValueOf(&def).Elem()
	for i := 0; i < ov.NumField(); i++ {
		if ov.Field(i).IsNil() {
			ov.Field(i).Set(dv.Field(i))
		}
	}
	return out
}

// value returns the field selected by sel, or its default.
func value[T any](f *File, sel func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := sel(f.c); v != nil {
		return *v
	}
	return *sel(defaultFileConfig)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

func (f *File) BacklightTimeout() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *int { return c.BacklightTimeoutSeconds }))
}

func (f *File) SleepTimeout() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *int { return c.SleepTimeoutSeconds }))
}

func (f *File) DeepSleepTimeout() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *int { return c.DeepSleepTimeoutSeconds }))
}

func (f *File) PollInterval() time.Duration {
	return millis(value(f, func(c *RawFileConfig) *int { return c.PollIntervalMillis }))
}

func (f *File) BacklightControl() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.BacklightControl })
}

func (f *File) LightSleepEnable() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.LightSleepEnable })
}

func (f *File) GPIOWakeup() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.GPIOWakeup })
}

func (f *File) TouchWakeup() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.TouchWakeup })
}

func (f *File) DeepSleepEnable() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.DeepSleepEnable })
}

func (f *File) PreventSleepOnUSB() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.PreventSleepOnUSB })
}

func (f *File) PreventScreenOffOnUSB() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.PreventScreenOffOnUSB })
}

func (f *File) PreventDeepSleepOnUSB() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.PreventDeepSleepOnUSB })
}

func (f *File) TimerPause() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.TimerPause })
}

func (f *File) RenderingControl() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.RenderingControl })
}

func (f *File) WiFiSuspend() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.WiFiSuspend })
}

func (f *File) WiFiAutoConnect() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.WiFiAutoConnect })
}

func (f *File) PowerLogs() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.PowerLogs })
}

func (f *File) TouchResetTimer() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.TouchResetTimer })
}

func (f *File) DebugLogs() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.DebugLogs })
}

func (f *File) LockPolicy() display.LockPolicy {
	return display.LockPolicy{
		Timeout:  millis(value(f, func(c *RawFileConfig) *int { return c.LockTimeoutMillis })),
		Attempts: value(f, func(c *RawFileConfig) *int { return c.LockRetries }),
		Delay:    millis(value(f, func(c *RawFileConfig) *int { return c.LockRetryDelayMillis })),
	}
}

// FadeDelay is the pause after the backlight goes off on sleep entry.
func (f *File) FadeDelay() time.Duration {
	return millis(value(f, func(c *RawFileConfig) *int { return c.FadeDelayMillis }))
}

func (f *File) TelemetryRetry() telemetry.RetryPolicy {
	return telemetry.RetryPolicy{
		Attempts: value(f, func(c *RawFileConfig) *int { return c.TelemetryRetries }),
		Delay:    millis(value(f, func(c *RawFileConfig) *int { return c.TelemetryRetryDelayMillis })),
	}
}

func (f *File) TelemetryInterval() time.Duration {
	return seconds(value(f, func(c *RawFileConfig) *int { return c.TelemetryIntervalSeconds }))
}

func (f *File) TimerCapacity() int {
	return value(f, func(c *RawFileConfig) *int { return c.TimerCapacity })
}

func (f *File) UptimeSaveSchedule() string {
	return value(f, func(c *RawFileConfig) *string { return c.UptimeSaveSchedule })
}

func (f *File) AllowNonRootAccess() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) Board() string {
	return value(f, func(c *RawFileConfig) *string { return c.Board })
}

func (f *File) I2CBus() string {
	return value(f, func(c *RawFileConfig) *string { return c.I2CBus })
}

func (f *File) ButtonPin() string {
	return value(f, func(c *RawFileConfig) *string { return c.ButtonPin })
}

func (f *File) TouchPin() string {
	return value(f, func(c *RawFileConfig) *string { return c.TouchPin })
}

func (f *File) BacklightPin() string {
	return value(f, func(c *RawFileConfig) *string { return c.BacklightPin })
}

func (f *File) DataDir() string {
	return value(f, func(c *RawFileConfig) *string { return c.DataDir })
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Raw() RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return merged(f.c)
}

// Set parses value for key and applies it if the result is valid. Values
// are read as JSON first, so "true" and "15" are typed; anything that is not
// valid JSON is taken as a string.
func (f *File) Set(key, raw string) error {
	if f.c == nil {
		panic("config is nil")
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	next := clone(f.c)
	if err := decodeKey(&next, key, v); err != nil {
		// "1" for a string key decodes as a number. Retry as a string.
		if _, isString := v.(string); isString {
			return err
		}
		if err2 := decodeKey(&next, key, raw); err2 != nil {
			return err
		}
	}

	if err := validate(merged(&next)); err != nil {
		return err
	}
	f.c = &next
	return nil
}

func decodeKey(c *RawFileConfig, key string, v interface{}) error {
	b, err := json.Marshal(map[string]interface{}{key: v})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode %s", key)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return pkgerrors.Errorf("unknown config key %q", key)
		}
		return pkgerrors.Wrapf(err, "invalid value for %s", key)
	}
	return nil
}

func validate(c RawFileConfig) error {
	positive := map[string]int{
		"sleepTimeoutSeconds":      *c.SleepTimeoutSeconds,
		"deepSleepTimeoutSeconds":  *c.DeepSleepTimeoutSeconds,
		"pollIntervalMillis":       *c.PollIntervalMillis,
		"lockRetries":              *c.LockRetries,
		"telemetryRetries":         *c.TelemetryRetries,
		"telemetryIntervalSeconds": *c.TelemetryIntervalSeconds,
		"timerCapacity":            *c.TimerCapacity,
	}
	for k, v := range positive {
		if v <= 0 {
			return pkgerrors.Errorf("%s must be positive, got %d", k, v)
		}
	}

	nonNegative := map[string]int{
		"backlightTimeoutSeconds":   *c.BacklightTimeoutSeconds,
		"lockTimeoutMillis":         *c.LockTimeoutMillis,
		"lockRetryDelayMillis":      *c.LockRetryDelayMillis,
		"fadeDelayMillis":           *c.FadeDelayMillis,
		"telemetryRetryDelayMillis": *c.TelemetryRetryDelayMillis,
	}
	for k, v := range nonNegative {
		if v < 0 {
			return pkgerrors.Errorf("%s must not be negative, got %d", k, v)
		}
	}

	if _, err := cron.ParseStandard(*c.UptimeSaveSchedule); err != nil {
		return pkgerrors.Wrapf(err, "invalid uptimeSaveSchedule %q", *c.UptimeSaveSchedule)
	}

	known := false
	for _, b := range Boards {
		if b == *c.Board {
			known = true
		}
	}
	if !known {
		return pkgerrors.Errorf("unknown board %q, want one of %v", *c.Board, Boards)
	}

	for k, v := range map[string]string{
		"buttonPin": *c.ButtonPin,
		"touchPin":  *c.TouchPin,
	} {
		if _, err := PinNumber(v); err != nil {
			return pkgerrors.Wrapf(err, "invalid %s", k)
		}
	}
	return nil
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if isYAML(f.filepath) {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := validate(merged(&conf)); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	if isYAML(f.filepath) {
		enc := yaml.NewEncoder(fp)
		enc.SetIndent(2)
		err = enc.Encode(f.c)
		if err == nil {
			err = enc.Close()
		}
	} else {
		enc := json.NewEncoder(fp)
		enc.SetIndent("", "  ")
		err = enc.Encode(f.c)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"backlightTimeout":      f.BacklightTimeout(),
		"sleepTimeout":          f.SleepTimeout(),
		"deepSleepTimeout":      f.DeepSleepTimeout(),
		"lightSleepEnable":      f.LightSleepEnable(),
		"deepSleepEnable":       f.DeepSleepEnable(),
		"touchWakeup":           f.TouchWakeup(),
		"preventSleepOnUSB":     f.PreventSleepOnUSB(),
		"preventScreenOffOnUSB": f.PreventScreenOffOnUSB(),
		"preventDeepSleepOnUSB": f.PreventDeepSleepOnUSB(),
		"wifiSuspend":           f.WiFiSuspend(),
		"allowNonRootAccess":    f.AllowNonRootAccess(),
		"board":                 f.Board(),
	}
}
