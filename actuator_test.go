package mfbcontrol

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newRecordingActuator returns an actuator whose device accepts every write
// and remembers the setpoint writes in order.
func newRecordingActuator(t *testing.T) (*ActuatorController, *[]int64) {
	ctrl := gomock.NewController(t)
	dev := NewMockCommander(ctrl)
	written := &[]int64{}
	dev.EXPECT().Put(gomock.Any(), DefaultDeviceKeys.DACSetpoint, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, value string) error {
			v, err := strconv.ParseInt(value, 10, 64)
			require.NoError(t, err)
			*written = append(*written, v)
			return nil
		}).AnyTimes()
	return NewActuatorController(dev, DefaultDeviceKeys), written
}

func TestUnitRoundTrip(t *testing.T) {
	for _, c := range []float64{0, 1, -1, 12345, -987654321, DACMax, DACMin + 1} {
		got := ToDACUnits(FromDACUnits(c))
		if got != c {
			t.Errorf("ToDACUnits(FromDACUnits(%v)) = %v", c, got)
		}
	}
	assert.Equal(t, float64(DACMax), ToDACUnits(EGUMax))
	assert.InDelta(t, 1.0, FromDACUnits(ToDACUnits(1.0)), 1e-8)
}

func TestAdjustAccumulates(t *testing.T) {
	ctx := context.Background()
	ac, written := newRecordingActuator(t)
	for range 10 {
		require.NoError(t, ac.Adjust(ctx, 0.25))
	}
	stepwise := ac.Setpoint()

	ac2, _ := newRecordingActuator(t)
	require.NoError(t, ac2.Adjust(ctx, 2.5))
	// Each step rounds separately, so allow one count per step.
	assert.InDelta(t, float64(ac2.Setpoint()), float64(stepwise), 10)
	assert.Len(t, *written, 10)
	assert.Equal(t, stepwise, (*written)[9])
}

func TestAdjustSaturates(t *testing.T) {
	ctx := context.Background()
	ac, written := newRecordingActuator(t)

	require.NoError(t, ac.Adjust(ctx, 6))
	require.NoError(t, ac.Adjust(ctx, 6))
	assert.Equal(t, int64(DACMax), ac.Setpoint())
	require.NoError(t, ac.Adjust(ctx, 1e12))
	assert.Equal(t, int64(DACMax), ac.Setpoint())

	require.NoError(t, ac.Adjust(ctx, -15))
	require.NoError(t, ac.Adjust(ctx, -15))
	assert.Equal(t, int64(DACMin), ac.Setpoint())

	require.NoError(t, ac.Adjust(ctx, 1))
	assert.Equal(t, int64(DACMin)+int64(ToDACUnits(1)), ac.Setpoint())
	for _, v := range *written {
		if v > DACMax || v < DACMin {
			t.Errorf("wrote %d, outside DAC range", v)
		}
	}
}

func TestAdjustRefusesNonFinite(t *testing.T) {
	ctx := context.Background()
	ac, written := newRecordingActuator(t)
	require.NoError(t, ac.Adjust(ctx, 1))
	before := ac.Setpoint()

	for _, delta := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := ac.Adjust(ctx, delta)
		assert.ErrorIs(t, err, ErrNotFinite, "Adjust(%v)", delta)
	}
	assert.Equal(t, before, ac.Setpoint())
	assert.Equal(t, []int64{before}, *written)

	assert.Equal(t, int64(0), clampCounts(math.NaN()))
	assert.Equal(t, int64(DACMax), clampCounts(math.Inf(1)))
	assert.Equal(t, int64(DACMin), clampCounts(math.Inf(-1)))
}

func TestSetAbsoluteRefusesNonFinite(t *testing.T) {
	ctrl := gomock.NewController(t)
	// No expectations: any device write fails the test.
	ac := NewActuatorController(NewMockCommander(ctrl), DefaultDeviceKeys)
	for _, egu := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, ac.SetAbsolute(context.Background(), egu), ErrNotFinite)
	}
	assert.Equal(t, int64(0), ac.Setpoint())
}

func TestSetAbsoluteNoClamp(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dev := NewMockCommander(ctrl)
	ac := NewActuatorController(dev, DefaultDeviceKeys)
	rejected := &CommandError{Command: "COUNTER1.SET=4294967294", Response: "ERR Value out of range"}

	gomock.InOrder(
		dev.EXPECT().Put(gomock.Any(), "COUNTER1.SET", "429496729").Return(nil),
		dev.EXPECT().Put(gomock.Any(), "COUNTER1.SET", "4294967294").Return(rejected),
	)
	require.NoError(t, ac.SetAbsolute(ctx, 2.0))
	assert.Equal(t, int64(429496729), ac.Setpoint())

	err := ac.SetAbsolute(ctx, 20.0)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, int64(429496729), ac.Setpoint(), "rejected write must not change the setpoint")
}

func TestSetModulationEnabled(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dev := NewMockCommander(ctrl)
	ac := NewActuatorController(dev, DefaultDeviceKeys)

	gomock.InOrder(
		dev.EXPECT().Put(gomock.Any(), "PGEN1.ENABLE", "PCAP.ACTIVE").Return(nil),
		dev.EXPECT().Put(gomock.Any(), "PGEN1.ENABLE", "ZERO").Return(errors.New("link down")),
		dev.EXPECT().Put(gomock.Any(), "PGEN1.ENABLE", "ZERO").Return(nil),
	)
	require.NoError(t, ac.SetModulationEnabled(ctx, true))
	assert.True(t, ac.ModulationEnabled())
	assert.Error(t, ac.SetModulationEnabled(ctx, false))
	assert.True(t, ac.ModulationEnabled())
	require.NoError(t, ac.SetModulationEnabled(ctx, false))
	assert.Equal(t, ActuatorState{Setpoint: 0, ModulationEnabled: false}, ac.State())
}

func TestResyncSetpoint(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	dev := NewMockCommander(ctrl)
	ac := NewActuatorController(dev, DefaultDeviceKeys)

	gomock.InOrder(
		dev.EXPECT().Get(gomock.Any(), "COUNTER1.OUT").Return("-12345", nil),
		dev.EXPECT().Get(gomock.Any(), "COUNTER1.OUT").Return("1.5e3", nil),
	)
	counts, err := ac.ResyncSetpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-12345), counts)
	assert.Equal(t, int64(-12345), ac.Setpoint())

	_, err = ac.ResyncSetpoint(ctx)
	var cmdErr *CommandError
	assert.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, int64(-12345), ac.Setpoint())
}
