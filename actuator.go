package mfbcontrol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ActuatorState is the controller's view of the DAC and the modulation routing.
type ActuatorState struct {
	Setpoint          int64 // DAC counts, always in [DACMin, DACMax]
	ModulationEnabled bool
}

// ActuatorController owns the authoritative DAC setpoint. All writes go
// through it and are serialized, so operator overrides and loop adjustments
// cannot interleave.
type ActuatorController struct {
	dev   Commander
	keys  DeviceKeys
	state ActuatorState
	lock  sync.Mutex // guards state and serializes device writes
}

// NewActuatorController creates an ActuatorController writing through dev.
func NewActuatorController(dev Commander, keys DeviceKeys) *ActuatorController {
	return &ActuatorController{dev: dev, keys: keys}
}

// SetAbsolute writes an operator-requested value (engineering units) to the
// DAC. No clamping is applied: the device rejects out-of-range values and the
// rejection is returned as a *CommandError. The local setpoint changes only
// once the device has accepted the write.
func (ac *ActuatorController) SetAbsolute(ctx context.Context, egu float64) error {
	if !isFinite(egu) {
		return fmt.Errorf("DAC value %v: %w", egu, ErrNotFinite)
	}
	counts := int64(ToDACUnits(egu))
	ac.lock.Lock()
	defer ac.lock.Unlock()
	if err := ac.dev.Put(ctx, ac.keys.DACSetpoint, strconv.FormatInt(counts, 10)); err != nil {
		return err
	}
	ac.state.Setpoint = counts
	return nil
}

// Adjust adds delta (engineering units) to the setpoint, saturating at the DAC
// limits, and writes the result. Saturation is not an error. A NaN or
// infinite delta is refused without writing.
func (ac *ActuatorController) Adjust(ctx context.Context, delta float64) error {
	if !isFinite(delta) {
		return fmt.Errorf("DAC adjustment %v: %w", delta, ErrNotFinite)
	}
	ac.lock.Lock()
	defer ac.lock.Unlock()
	next := clampCounts(float64(ac.state.Setpoint) + ToDACUnits(delta))
	debugf("Setting DAC value to %d", next)
	if err := ac.dev.Put(ctx, ac.keys.DACSetpoint, strconv.FormatInt(next, 10)); err != nil {
		return err
	}
	ac.state.Setpoint = next
	return nil
}

// SetModulationEnabled routes the modulation generator to the capture trigger
// (enabled) or to a constant zero source (disabled).
func (ac *ActuatorController) SetModulationEnabled(ctx context.Context, enabled bool) error {
	route := ac.keys.DisableValue
	if enabled {
		route = ac.keys.EnableValue
	}
	ac.lock.Lock()
	defer ac.lock.Unlock()
	if err := ac.dev.Put(ctx, ac.keys.ModulationRoute, route); err != nil {
		return err
	}
	ac.state.ModulationEnabled = enabled
	return nil
}

// ResyncSetpoint reads the DAC counts back from the device and makes them
// the local setpoint. This picks up resets made behind the controller's back.
func (ac *ActuatorController) ResyncSetpoint(ctx context.Context) (int64, error) {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	reply, err := ac.dev.Get(ctx, ac.keys.DACReadback)
	if err != nil {
		return 0, err
	}
	counts, err := strconv.ParseInt(strings.TrimSpace(reply), 10, 64)
	if err != nil {
		return 0, &CommandError{Command: ac.keys.DACReadback + "?", Response: reply,
			Err: fmt.Errorf("DAC readback is not an integer: %w", err)}
	}
	ac.state.Setpoint = clampCounts(float64(counts))
	return ac.state.Setpoint, nil
}

// Setpoint returns the last known DAC counts.
func (ac *ActuatorController) Setpoint() int64 {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.state.Setpoint
}

// ModulationEnabled tells whether the modulation is routed to the capture trigger.
func (ac *ActuatorController) ModulationEnabled() bool {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.state.ModulationEnabled
}

// State returns a copy of the actuator state.
func (ac *ActuatorController) State() ActuatorState {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.state
}
