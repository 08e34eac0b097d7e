package mfbcontrol

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
)

// LoopState is used to indicate the configuring/running/stopped state of a FeedbackLoop
type LoopState int

// Names for the possible values of LoopState
const (
	Configuring LoopState = iota // Device is being set up; no windows processed yet
	Running                      // Windows are being corrected and actuated
	Stopped                      // Loop has ended; the link is closed
)

func (s LoopState) String() string {
	switch s {
	case Configuring:
		return "Configuring"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

// LoopStatus is the status that the FeedbackLoop reports to clients.
type LoopStatus struct {
	SessionID         string
	State             string
	Setpoint          int64   // DAC counts
	SetpointEGU       float64 // engineering units
	ModulationEnabled bool
	Gain              float64
	MinSignal         float64
	Cycles            int // windows processed this session
	Corrections       int // windows that led to a setpoint write
	LastIntensity     float64
	LastTargetBin     int
}

// CorrectionMessage is the diagnostic published once per cycle.
type CorrectionMessage struct {
	Value     float64
	TargetBin int
	PhaseDiff float64
	Applied   bool
	Reason    string `json:",omitempty"` // why no correction was applied
}

// FeedbackLoop runs the closed control loop against one HardwareLink.
type FeedbackLoop struct {
	link       HardwareLink
	config     LoopConfig
	params     *ControlParameters
	actuator   *ActuatorController
	assembler  *FrameAssembler
	corrector  *SpectralCorrector
	updates    chan<- ClientUpdate
	stateLines []string

	// Guarded by statusLock
	state         LoopState
	sessionID     string
	cycles        int
	corrections   int
	lastIntensity float64
	lastTargetBin int
	statusLock    sync.Mutex
}

// NewFeedbackLoop validates cfg and creates a loop driving link. The params
// may be changed by other goroutines while the loop runs. Diagnostics go to
// updates, which may be nil. stateLines is a device configuration snapshot,
// applied verbatim during setup (may be empty).
func NewFeedbackLoop(link HardwareLink, cfg LoopConfig, params *ControlParameters,
	updates chan<- ClientUpdate, stateLines []string) (*FeedbackLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.warnIfAliased()
	nsamp := cfg.NSamples()
	corrector, err := NewSpectralCorrector(nsamp)
	if err != nil {
		return nil, err
	}
	return &FeedbackLoop{
		link:       link,
		config:     cfg,
		params:     params,
		actuator:   NewActuatorController(link, cfg.Keys),
		assembler:  NewFrameAssembler(nsamp),
		corrector:  corrector,
		updates:    updates,
		stateLines: stateLines,
		state:      Configuring,
	}, nil
}

// Actuator returns the controller that owns the DAC setpoint. Operator writes
// made through it are serialized with the loop's own adjustments.
func (fl *FeedbackLoop) Actuator() *ActuatorController {
	return fl.actuator
}

// Params returns the externally adjustable parameters.
func (fl *FeedbackLoop) Params() *ControlParameters {
	return fl.params
}

// State returns the loop's current state.
func (fl *FeedbackLoop) State() LoopState {
	fl.statusLock.Lock()
	defer fl.statusLock.Unlock()
	return fl.state
}

func (fl *FeedbackLoop) setState(state LoopState) {
	fl.statusLock.Lock()
	fl.state = state
	fl.statusLock.Unlock()
}

// Status returns a snapshot of the loop status.
func (fl *FeedbackLoop) Status() LoopStatus {
	act := fl.actuator.State()
	p := fl.params.Snapshot()
	fl.statusLock.Lock()
	defer fl.statusLock.Unlock()
	return LoopStatus{
		SessionID:         fl.sessionID,
		State:             fl.state.String(),
		Setpoint:          act.Setpoint,
		SetpointEGU:       FromDACUnits(float64(act.Setpoint)),
		ModulationEnabled: act.ModulationEnabled,
		Gain:              p.Gain,
		MinSignal:         p.MinSignal,
		Cycles:            fl.cycles,
		Corrections:       fl.corrections,
		LastIntensity:     fl.lastIntensity,
		LastTargetBin:     fl.lastTargetBin,
	}
}

// Run configures the device and then corrects every window of the stream
// until ctx is cancelled or a terminal error occurs. The link is closed
// before Run returns. A clean stop returns ctx.Err().
func (fl *FeedbackLoop) Run(ctx context.Context) error {
	fl.statusLock.Lock()
	fl.state = Configuring
	fl.sessionID = ulid.Make().String()
	fl.cycles, fl.corrections = 0, 0
	fl.statusLock.Unlock()
	UpdateLogger.Printf("Feedback loop session %s starting", fl.sessionID)

	records, err := fl.configure(ctx)
	if err == nil {
		fl.setState(Running)
		fl.publishStatus()
		err = fl.pipeline(ctx, records)
	}

	fl.setState(Stopped)
	if cerr := fl.link.Close(); cerr != nil {
		ProblemLogger.Printf("Error closing hardware link: %v", cerr)
	}
	fl.publishStatus()
	if err != nil && ctx.Err() == nil {
		ProblemLogger.Printf("Feedback loop stopped: %v", err)
	} else {
		UpdateLogger.Printf("Feedback loop session %s stopped", fl.sessionID)
	}
	return err
}

// configure pushes the modulation waveform and timing to the device, starts
// acquisition and opens the data stream.
func (fl *FeedbackLoop) configure(ctx context.Context) (<-chan *DeviceRecord, error) {
	keys := fl.config.Keys
	if err := fl.link.Connect(ctx); err != nil {
		return nil, err
	}

	signal := CreateModulationSignal(fl.config.ModFreq, fl.config.ModAmp,
		fl.config.SampFreq, fl.config.ControlPeriod())
	if err := fl.link.PutTable(ctx, keys.ModulationTable, modulationTable(signal)); err != nil {
		return nil, err
	}
	period := strconv.FormatFloat(1/fl.config.SampFreq, 'g', -1, 64)
	if err := fl.link.Put(ctx, keys.TriggerPeriod, period); err != nil {
		return nil, err
	}
	if len(fl.stateLines) > 0 {
		if err := fl.link.SetState(ctx, fl.stateLines); err != nil {
			return nil, err
		}
	}
	if err := fl.actuator.SetModulationEnabled(ctx, true); err != nil {
		return nil, err
	}
	if err := fl.link.EnsureArmed(ctx, keys.CaptureActive); err != nil {
		return nil, err
	}
	counts, err := fl.actuator.ResyncSetpoint(ctx)
	if err != nil {
		return nil, err
	}
	UpdateLogger.Printf("DAC setpoint read back as %d (%.6f)", counts, FromDACUnits(float64(counts)))

	records, err := fl.link.Stream(ctx)
	if err != nil {
		return nil, err
	}
	fl.assembler.Reset()
	return records, nil
}

// pipeline processes windows strictly in stream order. Waiting for the next
// window honors ctx; device writes within a cycle do not, so a write already
// started is never abandoned.
func (fl *FeedbackLoop) pipeline(ctx context.Context, records <-chan *DeviceRecord) error {
	wctx := context.WithoutCancel(ctx)
	for {
		feedback, reference, err := fl.assembler.Next(ctx, records)
		if err != nil {
			return err
		}
		if err := fl.cycle(wctx, feedback, reference); err != nil {
			return err
		}
	}
}

// cycle runs one control cycle on a complete window pair.
func (fl *FeedbackLoop) cycle(ctx context.Context, feedback, reference []float64) error {
	p := fl.params.Snapshot()
	if p.Enabled != fl.actuator.ModulationEnabled() {
		if err := fl.actuator.SetModulationEnabled(ctx, p.Enabled); err != nil {
			return err
		}
		UpdateLogger.Printf("Modulation enabled set to %t", p.Enabled)
	}

	result, err := fl.corrector.Correct(feedback, reference, p.Gain)
	if err != nil {
		return err
	}
	fl.publish(TagIntensity, result.FeedbackPeak)
	fl.publish(TagFeedbackFFT, result.FeedbackSpectrum)
	fl.publish(TagReferenceFFT, result.ReferenceSpectrum)

	msg := CorrectionMessage{Value: result.Value, TargetBin: result.TargetBin, PhaseDiff: result.PhaseDiff}
	switch {
	case !p.Enabled:
		msg.Reason = "modulation disabled"
		debugf("Modulation disabled; no correction applied")
	case result.FeedbackPeak < p.MinSignal:
		msg.Reason = fmt.Sprintf("signal %.4g below minimum %.4g", result.FeedbackPeak, p.MinSignal)
		UpdateLogger.Printf("Signal below threshold (%.4g < %.4g); no correction applied",
			result.FeedbackPeak, p.MinSignal)
	default:
		if err := fl.actuator.Adjust(ctx, result.Value); err != nil {
			return err
		}
		msg.Applied = true
	}
	fl.publish(TagCorrection, msg)

	fl.statusLock.Lock()
	fl.cycles++
	if msg.Applied {
		fl.corrections++
	}
	fl.lastIntensity = result.FeedbackPeak
	fl.lastTargetBin = result.TargetBin
	fl.statusLock.Unlock()
	fl.publishStatus()
	return nil
}

func (fl *FeedbackLoop) publish(tag string, state interface{}) {
	if fl.updates != nil {
		fl.updates <- ClientUpdate{tag, state}
	}
}

func (fl *FeedbackLoop) publishStatus() {
	fl.publish(TagStatus, fl.Status())
}
