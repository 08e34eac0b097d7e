package mfbcontrol

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateModulationSignal(t *testing.T) {
	var tests = []struct {
		freq, amp, rate, duration float64
	}{
		{10, 0.1, 20, 1},
		{121, 0.1, 4961, 1},
		{3, 2.5, 50, 0.5},
		{1, 1, 2, 1},
	}
	for _, test := range tests {
		sig := CreateModulationSignal(test.freq, test.amp, test.rate, test.duration)
		n := int(math.Round(test.rate))
		if len(sig) != n {
			t.Errorf("CreateModulationSignal(%v) has %d points, want %d", test, len(sig), n)
			continue
		}
		for i, v := range sig {
			ti := test.duration * float64(i) / float64(n-1)
			want := test.amp * math.Cos(2*math.Pi*test.freq*ti)
			if math.Abs(v-want) > 1e-9 {
				t.Errorf("CreateModulationSignal(%v)[%d] = %v, want %v", test, i, v, want)
			}
		}
	}
}

func TestCreateModulationSignalDegenerate(t *testing.T) {
	assert.Empty(t, CreateModulationSignal(10, 1, 0, 1))
	assert.Equal(t, []float64{0.5}, CreateModulationSignal(10, 0.5, 1, 1))
}

func TestModulationTable(t *testing.T) {
	rows := modulationTable([]float64{0, 10, -10, 0.1})
	want := []string{"0", strconv.Itoa(DACMax), strconv.Itoa(-DACMax), "21474836"}
	assert.Equal(t, want, rows)
}
