package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestMetrics(t *testing.T) {
	Init(func() time.Duration { return 12 * time.Second })
	// A second Init must not panic on duplicate registration.
	Init(func() time.Duration { return 3 * time.Second })

	SetPowerState(2)
	ObserveBattery(3850, 65, true, false, []string{"percent"})
	IncSleep("light")
	ObserveWake("gpio", 4*time.Second)
	IncSleepAborted("")

	mfs := gather(t)

	if got := mfs[metricPrefix+"inactive_seconds"].GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("inactive_seconds = %v, want 3", got)
	}
	if got := mfs[metricPrefix+"power_state"].GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Errorf("power_state = %v, want 2", got)
	}
	if got := mfs[metricPrefix+"battery_voltage_millivolts"].GetMetric()[0].GetGauge().GetValue(); got != 3850 {
		t.Errorf("battery_voltage_millivolts = %v, want 3850", got)
	}
	fb := mfs[metricPrefix+"telemetry_fallback_total"].GetMetric()[0]
	if fb.GetLabel()[0].GetValue() != "percent" || fb.GetCounter().GetValue() != 1 {
		t.Errorf("telemetry_fallback_total = %v", fb)
	}
	ab := mfs[metricPrefix+"sleep_aborted_total"].GetMetric()[0]
	if ab.GetLabel()[0].GetValue() != "unknown" {
		t.Errorf("sleep_aborted_total label = %q, want unknown", ab.GetLabel()[0].GetValue())
	}
	if h := mfs[metricPrefix+"light_sleep_duration_seconds"].GetMetric()[0].GetHistogram(); h.GetSampleCount() != 1 {
		t.Errorf("light_sleep_duration_seconds count = %d, want 1", h.GetSampleCount())
	}
}
