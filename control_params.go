package mfbcontrol

import (
	"math"
	"sync/atomic"
)

// ControlParameters holds the operator-adjustable loop parameters. Any number
// of goroutines may update them while the loop runs; the loop reads them once
// per cycle through Snapshot.
type ControlParameters struct {
	gain      atomic.Uint64 // float64 bits
	minSignal atomic.Uint64 // float64 bits
	enabled   atomic.Bool
}

// ParameterSnapshot is a copy of ControlParameters taken at the top of one
// control cycle. Each field is read atomically, but not all three together.
type ParameterSnapshot struct {
	Gain      float64
	MinSignal float64
	Enabled   bool
}

// NewControlParameters creates parameters with the given initial values.
func NewControlParameters(gain, minSignal float64, enabled bool) *ControlParameters {
	p := new(ControlParameters)
	p.SetGain(gain)
	p.SetMinSignal(minSignal)
	p.SetEnabled(enabled)
	return p
}

// SetGain sets the gain applied to corrections.
func (p *ControlParameters) SetGain(gain float64) {
	p.gain.Store(math.Float64bits(gain))
}

// Gain returns the gain applied to corrections.
func (p *ControlParameters) Gain() float64 {
	return math.Float64frombits(p.gain.Load())
}

// SetMinSignal sets the signal level below which no correction is applied.
func (p *ControlParameters) SetMinSignal(level float64) {
	p.minSignal.Store(math.Float64bits(level))
}

// MinSignal returns the signal level below which no correction is applied.
func (p *ControlParameters) MinSignal() float64 {
	return math.Float64frombits(p.minSignal.Load())
}

// SetEnabled turns the modulation (and therefore actuation) on or off.
func (p *ControlParameters) SetEnabled(on bool) {
	p.enabled.Store(on)
}

// Enabled tells whether modulation and actuation are requested.
func (p *ControlParameters) Enabled() bool {
	return p.enabled.Load()
}

// Snapshot reads all parameters.
func (p *ControlParameters) Snapshot() ParameterSnapshot {
	return ParameterSnapshot{Gain: p.Gain(), MinSignal: p.MinSignal(), Enabled: p.Enabled()}
}
