package mfbcontrol

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// CreateModulationSignal returns modAmp*cos(2π*modFreq*t) sampled at
// round(sampFreq) points evenly spaced over [0, duration], endpoints included.
func CreateModulationSignal(modFreq, modAmp, sampFreq, duration float64) []float64 {
	npoints := int(math.Round(sampFreq))
	if npoints <= 0 {
		return []float64{}
	}
	t := make([]float64, npoints)
	if npoints > 1 {
		floats.Span(t, 0, duration)
	}
	for i, ti := range t {
		t[i] = modAmp * math.Cos(2*math.Pi*modFreq*ti)
	}
	return t
}

// modulationTable converts a modulation signal into the table rows the
// waveform generator accepts: integer DAC counts, one per row.
func modulationTable(signal []float64) []string {
	rows := make([]string, len(signal))
	for i, v := range signal {
		rows[i] = strconv.FormatInt(int64(ToDACUnits(v)), 10)
	}
	return rows
}
