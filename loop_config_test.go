package mfbcontrol

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopConfigDerived(t *testing.T) {
	cfg := DefaultLoopConfig()
	assert.Equal(t, 4961, cfg.NSamples())
	assert.Equal(t, 1.0, cfg.ControlPeriod())
	cfg.ControlFreq = 10
	assert.Equal(t, 496, cfg.NSamples())
	assert.Equal(t, 0.1, cfg.ControlPeriod())
	assert.NoError(t, DefaultLoopConfig().Validate())
}

func TestNyquistWarning(t *testing.T) {
	var buf bytes.Buffer
	saved := ProblemLogger
	ProblemLogger = log.New(&buf, "", 0)
	defer func() { ProblemLogger = saved }()

	defer viper.Reset()
	viper.Reset()
	SetViperDefaults()
	viper.Set("sampfreq", 200)

	cfg, err := LoopConfigFromViper()
	require.NoError(t, err, "sampling below Nyquist is permitted")
	assert.Empty(t, buf.String())
	_, err = NewFeedbackLoop(newTestSimLink(), cfg, NewControlParameters(cfg.Gain, cfg.MinSignal, true), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "below twice the modulation frequency"))
}

func TestLoopConfigFromViper(t *testing.T) {
	defer viper.Reset()
	viper.Reset()
	SetViperDefaults()

	viper.SetConfigType("yaml")
	config := `
modfreq: 50
controlgain: -0.5
keys:
  dacsetpoint: COUNTER2.SET
  dacreadback: COUNTER2.OUT
`
	require.NoError(t, viper.ReadConfig(strings.NewReader(config)))
	cfg, err := LoopConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.ModFreq)
	assert.Equal(t, -0.5, cfg.Gain)
	assert.Equal(t, 4961.0, cfg.SampFreq)
	assert.Equal(t, "COUNTER2.SET", cfg.Keys.DACSetpoint)
	assert.Equal(t, "COUNTER2.OUT", cfg.Keys.DACReadback)
	assert.Equal(t, "PGEN1.TABLE", cfg.Keys.ModulationTable, "unset keys keep their defaults")

	viper.Set("controlfreq", 0)
	_, err = LoopConfigFromViper()
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestReadStateFile(t *testing.T) {
	lines, err := ReadStateFile("")
	assert.NoError(t, err)
	assert.Nil(t, lines)

	dir := t.TempDir()
	name := filepath.Join(dir, "panda_mfb.sav")
	require.NoError(t, os.WriteFile(name, []byte("CLOCK1.PERIOD=0.5\r\nSEQ1.TABLE<\r\n1\r\n\r\nTTLOUT1.VAL=ZERO\n"), 0644))
	lines, err = ReadStateFile(name)
	require.NoError(t, err)
	assert.Equal(t, []string{"CLOCK1.PERIOD=0.5", "SEQ1.TABLE<", "1", "", "TTLOUT1.VAL=ZERO"}, lines)

	empty := filepath.Join(dir, "empty.sav")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	lines, err = ReadStateFile(empty)
	assert.NoError(t, err)
	assert.Empty(t, lines)

	_, err = ReadStateFile(filepath.Join(dir, "missing.sav"))
	assert.Error(t, err)
}

func TestControlParameters(t *testing.T) {
	p := NewControlParameters(-0.3, 0.5, true)
	assert.Equal(t, ParameterSnapshot{Gain: -0.3, MinSignal: 0.5, Enabled: true}, p.Snapshot())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.SetGain(float64(i))
			p.SetEnabled(i%2 == 0)
		}()
	}
	wg.Wait()
	g := p.Gain()
	if g < 0 || g > 7 || g != float64(int(g)) {
		t.Errorf("Gain() = %v after concurrent writes, want one of the written values", g)
	}
}
