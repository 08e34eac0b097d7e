package mfbcontrol

import "math"

// Full-scale values of the DAC and of the engineering units it represents.
const (
	DACMax = math.MaxInt32
	DACMin = math.MinInt32
	EGUMax = 10.0
)

// ToDACUnits converts a value in engineering units to (rounded) DAC counts.
// The result is a float64 so that out-of-range values survive the conversion.
func ToDACUnits(egu float64) float64 {
	return math.Round(egu * DACMax / EGUMax)
}

// isFinite reports whether v is neither NaN nor infinite.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FromDACUnits converts DAC counts to engineering units.
func FromDACUnits(counts float64) float64 {
	return counts * EGUMax / DACMax
}

// clampCounts saturates a count value into [DACMin, DACMax]. NaN maps to 0.
func clampCounts(counts float64) int64 {
	if math.IsNaN(counts) {
		return 0
	}
	if counts > DACMax {
		return DACMax
	}
	if counts < DACMin {
		return DACMin
	}
	return int64(counts)
}
