// Package metrics exposes the power manager state to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "watchpm_"

var (
	registerOnce sync.Once

	powerState     prometheus.Gauge
	batteryVoltage prometheus.Gauge
	batteryPercent prometheus.Gauge
	batteryCharge  prometheus.Gauge
	vbusPresent    prometheus.Gauge

	sleepTotal         *prometheus.CounterVec
	wakeTotal          *prometheus.CounterVec
	sleepAbortedTotal  *prometheus.CounterVec
	telemetryFallbacks *prometheus.CounterVec
	sleepDuration      prometheus.Histogram

	inactiveMu sync.RWMutex
	inactiveFn func() time.Duration
)

// Init registers the collectors with the default registry. inactive feeds
// watchpm_inactive_seconds; the latest call wins.
func Init(inactive func() time.Duration) {
	inactiveMu.Lock()
	inactiveFn = inactive
	inactiveMu.Unlock()

	registerOnce.Do(func() {
		powerState = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "power_state",
			Help: "Power state: 0 awake, 1 dimmed, 2 light sleep, 3 deep sleep, 4 powered down",
		})
		batteryVoltage = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_voltage_millivolts",
			Help: "Last battery voltage reading in millivolts",
		})
		batteryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_percent",
			Help: "Last battery charge estimate in percent",
		})
		batteryCharge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_charging",
			Help: "1 while the battery is charging",
		})
		vbusPresent = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "vbus_present",
			Help: "1 while USB bus power is present",
		})

		sleepTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sleep_total",
				Help: "Sleep entries by kind",
			},
			[]string{"kind"},
		)
		wakeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "wake_total",
				Help: "Light sleep wakes by cause",
			},
			[]string{"cause"},
		)
		sleepAbortedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sleep_aborted_total",
				Help: "Aborted sleep attempts by reason",
			},
			[]string{"reason"},
		)
		telemetryFallbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_fallback_total",
				Help: "Battery fields replaced by defaults after failed reads",
			},
			[]string{"field"},
		)
		sleepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "light_sleep_duration_seconds",
			Help:    "Light sleep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		})

		inactive := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "inactive_seconds",
				Help: "Seconds since the last activity",
			},
			func() float64 {
				inactiveMu.RLock()
				defer inactiveMu.RUnlock()
				if inactiveFn == nil {
					return 0
				}
				return inactiveFn().Seconds()
			},
		)

		prometheus.MustRegister(
			powerState,
			batteryVoltage,
			batteryPercent,
			batteryCharge,
			vbusPresent,
			sleepTotal,
			wakeTotal,
			sleepAbortedTotal,
			telemetryFallbacks,
			sleepDuration,
			inactive,
		)
	})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetPowerState records the numeric power state.
func SetPowerState(state int) {
	if powerState != nil {
		powerState.Set(float64(state))
	}
}

// ObserveBattery records a battery reading. fallbacks lists the fields that
// were replaced by defaults.
func ObserveBattery(mv uint16, percent uint8, charging, vbus bool, fallbacks []string) {
	if batteryVoltage == nil {
		return
	}
	batteryVoltage.Set(float64(mv))
	batteryPercent.Set(float64(percent))
	batteryCharge.Set(boolGauge(charging))
	vbusPresent.Set(boolGauge(vbus))
	for _, f := range fallbacks {
		telemetryFallbacks.WithLabelValues(f).Inc()
	}
}

// IncSleep counts a sleep entry.
func IncSleep(kind string) {
	if sleepTotal != nil {
		sleepTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveWake counts a wake and its sleep duration.
func ObserveWake(cause string, slept time.Duration) {
	if wakeTotal == nil {
		return
	}
	wakeTotal.WithLabelValues(cause).Inc()
	if slept >= 0 {
		sleepDuration.Observe(slept.Seconds())
	}
}

// IncSleepAborted counts an aborted sleep attempt.
func IncSleepAborted(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if sleepAbortedTotal != nil {
		sleepAbortedTotal.WithLabelValues(reason).Inc()
	}
}
