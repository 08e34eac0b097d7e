package mfbcontrol

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoopConfig holds the parameters fixed for the lifetime of a FeedbackLoop.
type LoopConfig struct {
	ModFreq     float64 // modulation frequency (Hz)
	ModAmp      float64 // modulation amplitude (engineering units)
	SampFreq    float64 // sampling frequency (Hz)
	ControlFreq float64 // control loop frequency (Hz)
	Gain        float64 // initial gain
	MinSignal   float64 // initial minimum signal for actuation
	StateFile   string  // device configuration snapshot, applied verbatim
	Keys        DeviceKeys
}

// DefaultLoopConfig returns the configuration used by the MFB experiment.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		ModFreq:     121,
		ModAmp:      0.1,
		SampFreq:    4961,
		ControlFreq: 1,
		Gain:        -0.3,
		MinSignal:   0.5,
		Keys:        DefaultDeviceKeys,
	}
}

// SetViperDefaults registers the default configuration with viper.
func SetViperDefaults() {
	d := DefaultLoopConfig()
	viper.SetDefault("Verbose", false)
	viper.SetDefault("modfreq", d.ModFreq)
	viper.SetDefault("modamp", d.ModAmp)
	viper.SetDefault("sampfreq", d.SampFreq)
	viper.SetDefault("controlfreq", d.ControlFreq)
	viper.SetDefault("controlgain", d.Gain)
	viper.SetDefault("minsig", d.MinSignal)
	viper.SetDefault("statefile", "")
}

// LoopConfigFromViper builds a LoopConfig from the values viper holds.
func LoopConfigFromViper() (LoopConfig, error) {
	cfg := DefaultLoopConfig()
	cfg.ModFreq = viper.GetFloat64("modfreq")
	cfg.ModAmp = viper.GetFloat64("modamp")
	cfg.SampFreq = viper.GetFloat64("sampfreq")
	cfg.ControlFreq = viper.GetFloat64("controlfreq")
	cfg.Gain = viper.GetFloat64("controlgain")
	cfg.MinSignal = viper.GetFloat64("minsig")
	cfg.StateFile = viper.GetString("statefile")
	if viper.IsSet("keys") {
		if err := viper.UnmarshalKey("keys", &cfg.Keys); err != nil {
			return cfg, fmt.Errorf("could not read device keys from config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// NSamples is the window length: samples per control cycle.
func (c LoopConfig) NSamples() int {
	return int(math.Round(c.SampFreq / c.ControlFreq))
}

// ControlPeriod is the duration of one control cycle, in seconds.
func (c LoopConfig) ControlPeriod() float64 {
	return 1 / c.ControlFreq
}

// Validate checks the configuration before any device I/O happens.
func (c LoopConfig) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"modulation frequency", c.ModFreq},
		{"sampling frequency", c.SampFreq},
		{"control frequency", c.ControlFreq},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return &ConfigurationError{Param: p.name, Reason: fmt.Sprintf("is %v, must be positive", p.value)}
		}
	}
	if math.IsNaN(c.ModAmp) || c.ModAmp < 0 || c.ModAmp > EGUMax {
		return &ConfigurationError{Param: "modulation amplitude",
			Reason: fmt.Sprintf("is %v, must be in [0, %v]", c.ModAmp, EGUMax)}
	}
	if math.IsNaN(c.Gain) {
		return &ConfigurationError{Param: "control gain", Reason: "is NaN"}
	}
	if math.IsNaN(c.MinSignal) || c.MinSignal < 0 {
		return &ConfigurationError{Param: "minimum signal", Reason: fmt.Sprintf("is %v, must be non-negative", c.MinSignal)}
	}
	if n := c.NSamples(); n < 4 {
		return &ConfigurationError{Param: "samples per cycle",
			Reason: fmt.Sprintf("is %d (sampling/control frequency), must be at least 4", n)}
	}
	return nil
}

// warnIfAliased logs when the modulation frequency is above Nyquist. This is
// permitted, but the target bin will then be an alias.
func (c LoopConfig) warnIfAliased() {
	if c.SampFreq < 2*c.ModFreq {
		ProblemLogger.Printf("warning: sampling frequency %v Hz is below twice the modulation frequency %v Hz",
			c.SampFreq, c.ModFreq)
	}
}

// ReadStateFile reads a device configuration snapshot: one command per line.
// An empty filename means there is no snapshot to apply.
func ReadStateFile(filename string) ([]string, error) {
	if filename == "" {
		return nil, nil
	}
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read state file: %w", err)
	}
	text := strings.TrimRight(strings.ReplaceAll(string(contents), "\r\n", "\n"), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
