package mfbcontrol

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SimulatedLinkConfig holds the parameters of the simulated beam and device.
type SimulatedLinkConfig struct {
	SampleRate    float64 // samples per second, used for real-time pacing
	RowsPerRecord int
	Peak          float64 // summed electrode intensity at the optimum
	Curvature     float64 // intensity lost per (engineering unit)² away from the optimum
	Optimum       float64 // DAC position of the optimum, engineering units
	Lag           int     // samples between modulation readback and beam response
	Noise         float64 // rms noise added to each electrode
	Realtime      bool    // pace the stream at SampleRate
}

// DefaultSimulatedLinkConfig returns a beam whose optimum sits at 1.0.
func DefaultSimulatedLinkConfig() SimulatedLinkConfig {
	return SimulatedLinkConfig{
		SampleRate:    4961,
		RowsPerRecord: 100,
		Peak:          4,
		Curvature:     5,
		Optimum:       1,
		Lag:           2,
		Realtime:      true,
	}
}

// SimulatedLink is a HardwareLink that synthesizes a beam responding to the
// DAC setpoint and to the modulation table it is given. Electrode i reads
// (Peak - Curvature*(x + m(t-Lag) - Optimum)²)/4, where x is the DAC value
// and m the modulation, both in engineering units.
type SimulatedLink struct {
	config     SimulatedLinkConfig
	keys       DeviceKeys
	registers  map[string]string
	table      []int64
	dac        int64
	state      LinkState
	newSession bool
	done       chan struct{}
	random     *rand.Rand
	lock       sync.Mutex
}

// NewSimulatedLink creates a SimulatedLink that understands the given keys.
func NewSimulatedLink(config SimulatedLinkConfig, keys DeviceKeys) *SimulatedLink {
	if config.RowsPerRecord <= 0 {
		config.RowsPerRecord = 100
	}
	return &SimulatedLink{
		config:    config,
		keys:      keys,
		registers: make(map[string]string),
		random:    rand.New(rand.NewPCG(1, 2)),
	}
}

// Connect starts a simulated session.
func (sl *SimulatedLink) Connect(ctx context.Context) error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	if sl.state == Disconnected {
		sl.state = Connected
		sl.done = make(chan struct{})
	}
	return nil
}

func (sl *SimulatedLink) checkConnected(command string) error {
	if sl.state == Disconnected {
		return &ConnectionError{Op: command, Err: ErrNotConnected}
	}
	return nil
}

// Get reads a register.
func (sl *SimulatedLink) Get(ctx context.Context, key string) (string, error) {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	if err := sl.checkConnected(key + "?"); err != nil {
		return "", err
	}
	switch key {
	case sl.keys.DACReadback, sl.keys.DACSetpoint:
		return strconv.FormatInt(sl.dac, 10), nil
	case sl.keys.CaptureActive:
		if sl.state == Armed {
			return "1", nil
		}
		return "0", nil
	}
	value, ok := sl.registers[key]
	if !ok {
		return "", &CommandError{Command: key + "?", Response: "ERR No such field"}
	}
	return value, nil
}

// Put writes a register. The DAC setpoint accepts only 32-bit values.
func (sl *SimulatedLink) Put(ctx context.Context, key, value string) error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	return sl.put(key, value)
}

func (sl *SimulatedLink) put(key, value string) error {
	command := key + "=" + value
	if err := sl.checkConnected(command); err != nil {
		return err
	}
	if key == sl.keys.DACSetpoint {
		counts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return &CommandError{Command: command, Response: "ERR Invalid number"}
		}
		if counts > DACMax || counts < DACMin {
			return &CommandError{Command: command, Response: "ERR Value out of range"}
		}
		sl.dac = counts
		return nil
	}
	sl.registers[key] = value
	return nil
}

// PutTable loads a table register. The modulation table holds DAC counts.
func (sl *SimulatedLink) PutTable(ctx context.Context, key string, rows []string) error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	return sl.putTable(key, rows)
}

func (sl *SimulatedLink) putTable(key string, rows []string) error {
	command := key + "<"
	if err := sl.checkConnected(command); err != nil {
		return err
	}
	if key != sl.keys.ModulationTable {
		sl.registers[key] = strings.Join(rows, " ")
		return nil
	}
	table := make([]int64, len(rows))
	for i, r := range rows {
		v, err := strconv.ParseInt(strings.TrimSpace(r), 10, 64)
		if err != nil {
			return &CommandError{Command: command, Response: fmt.Sprintf("ERR Invalid table row %q", r)}
		}
		table[i] = v
	}
	sl.table = table
	return nil
}

// Arm starts acquisition. The next stream begins with a session marker.
func (sl *SimulatedLink) Arm(ctx context.Context) error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	if err := sl.checkConnected("*PCAP.ARM="); err != nil {
		return err
	}
	sl.state = Armed
	sl.newSession = true
	return nil
}

// EnsureArmed arms acquisition unless activeKey shows it already running.
func (sl *SimulatedLink) EnsureArmed(ctx context.Context, activeKey string) error {
	active, err := sl.Get(ctx, activeKey)
	if err != nil {
		return err
	}
	if active == "0" {
		return sl.Arm(ctx)
	}
	return nil
}

// SetState applies a configuration snapshot: "KEY=VALUE" lines, and
// "KEY<" lines followed by table rows up to a blank line.
func (sl *SimulatedLink) SetState(ctx context.Context, lines []string) error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "":
			continue
		case strings.HasSuffix(line, "<"):
			var rows []string
			for i++; i < len(lines) && strings.TrimSpace(lines[i]) != ""; i++ {
				rows = append(rows, lines[i])
			}
			if err := sl.putTable(strings.TrimSuffix(line, "<"), rows); err != nil {
				return err
			}
		default:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return &CommandError{Command: line, Response: "ERR Unknown command"}
			}
			if err := sl.put(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stream starts producing records. Rows are generated on demand, so each
// record reflects the DAC setpoint at the time it is made.
func (sl *SimulatedLink) Stream(ctx context.Context) (<-chan *DeviceRecord, error) {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	if sl.state != Armed {
		return nil, ErrNotArmed
	}
	records := make(chan *DeviceRecord)
	go sl.produce(ctx, records, sl.done, sl.newSession)
	sl.newSession = false
	return records, nil
}

func (sl *SimulatedLink) produce(ctx context.Context, records chan<- *DeviceRecord, done <-chan struct{}, marker bool) {
	send := func(rec *DeviceRecord) bool {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			close(records)
			return false
		case records <- rec:
			return true
		}
	}

	if marker && !send(&DeviceRecord{Kind: SessionStart}) {
		return
	}
	var ticker *time.Ticker
	if sl.config.Realtime && sl.config.SampleRate > 0 {
		perRecord := time.Duration(float64(sl.config.RowsPerRecord) / sl.config.SampleRate * float64(time.Second))
		ticker = time.NewTicker(perRecord)
		defer ticker.Stop()
	}

	var sample int
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-done:
				close(records)
				return
			case <-ticker.C:
			}
		}
		rows := sl.generate(sample, sl.config.RowsPerRecord)
		sample += len(rows)
		if !send(&DeviceRecord{Kind: DataRows, Rows: rows}) {
			return
		}
	}
}

// generate returns nrows rows starting at the given sample number.
func (sl *SimulatedLink) generate(sample, nrows int) [][]float64 {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	modulating := sl.registers[sl.keys.ModulationRoute] == sl.keys.EnableValue
	modulation := func(s int) int64 {
		if !modulating || len(sl.table) == 0 || s < 0 {
			return 0
		}
		return sl.table[s%len(sl.table)]
	}

	x := FromDACUnits(float64(sl.dac))
	rows := make([][]float64, nrows)
	for i := range rows {
		s := sample + i
		m := FromDACUnits(float64(modulation(s - sl.config.Lag)))
		d := x + m - sl.config.Optimum
		electrode := (sl.config.Peak - sl.config.Curvature*d*d) / 4
		row := make([]float64, RowFields)
		row[0] = float64(modulation(s))
		for j := 1; j < RowFields; j++ {
			row[j] = electrode
			if sl.config.Noise > 0 {
				row[j] += sl.config.Noise * sl.random.NormFloat64()
			}
		}
		rows[i] = row
	}
	return rows
}

// State returns the link state.
func (sl *SimulatedLink) State() LinkState {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	return sl.state
}

// Close ends the session and any stream. It is safe to call more than once.
func (sl *SimulatedLink) Close() error {
	sl.lock.Lock()
	defer sl.lock.Unlock()
	if sl.state != Disconnected {
		close(sl.done)
		sl.state = Disconnected
	}
	return nil
}

// Optimum returns the DAC position (engineering units) of peak intensity.
func (sl *SimulatedLink) Optimum() float64 {
	return sl.config.Optimum
}
