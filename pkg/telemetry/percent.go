package telemetry

import "golang.org/x/exp/constraints"

// Battery voltage calibration points in millivolts.
const (
	VoltageEmptyMV   = 3300
	VoltageNominalMV = 3700
	VoltageFullMV    = 4200

	// Readings outside these bounds are treated as bus garbage.
	VoltageSaneMinMV = 2500
	VoltageSaneMaxMV = 4500
)

// PercentFromVoltage maps a battery voltage to a charge percentage with two
// linear segments: 3300-3700 mV covers 0-50% and 3700-4200 mV covers 50-100%.
func PercentFromVoltage(mv uint16) uint8 {
	v := int(mv)

	var p int
	switch {
	case v <= VoltageEmptyMV:
		p = 0
	case v >= VoltageFullMV:
		p = 100
	case v < VoltageNominalMV:
		p = (v - VoltageEmptyMV) * 50 / (VoltageNominalMV - VoltageEmptyMV)
	default:
		p = 50 + (v-VoltageNominalMV)*50/(VoltageFullMV-VoltageNominalMV)
	}

	return uint8(clamp(p, 0, 100))
}

// voltageSane reports whether mv is within the hard sanity bounds.
func voltageSane(mv uint16) bool {
	return between(int(mv), VoltageSaneMinMV, VoltageSaneMaxMV)
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func between[T constraints.Ordered](v, lo, hi T) bool {
	return v >= lo && v <= hi
}
