package mfbcontrol

import (
	"context"
	"errors"
	"fmt"
)

// FrameAssembler turns the record stream into fixed-length windows of the
// feedback (sum of the 4 BPM electrodes) and reference (modulation readback)
// signals.
type FrameAssembler struct {
	nsamp     int
	feedback  []float64
	reference []float64
	cursor    int

	// rows of the current record not yet consumed
	pending [][]float64
}

// NewFrameAssembler creates an assembler producing windows of nsamp samples.
func NewFrameAssembler(nsamp int) *FrameAssembler {
	if nsamp <= 0 {
		panic("NewFrameAssembler needs a positive window length")
	}
	return &FrameAssembler{
		nsamp:     nsamp,
		feedback:  make([]float64, nsamp),
		reference: make([]float64, nsamp),
	}
}

// Nsamp returns the window length.
func (fa *FrameAssembler) Nsamp() int {
	return fa.nsamp
}

// Reset discards any partially filled window.
func (fa *FrameAssembler) Reset() {
	fa.cursor = 0
	fa.pending = nil
}

// Next blocks until a complete window is available and returns it.
// The returned slices are owned by the assembler and remain valid only until
// the following call to Next.
func (fa *FrameAssembler) Next(ctx context.Context, records <-chan *DeviceRecord) (feedback, reference []float64, err error) {
	for {
		if complete, err := fa.consumePending(); err != nil {
			return nil, nil, err
		} else if complete {
			return fa.feedback, fa.reference, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()

		case rec, ok := <-records:
			if !ok {
				return nil, nil, &ConnectionError{Op: "stream", Err: errors.New("data stream ended")}
			}
			if rec.Err != nil {
				return nil, nil, rec.Err
			}
			switch rec.Kind {
			case SessionStart:
				fa.Reset()
			case DataRows:
				fa.pending = rec.Rows
			}
		}
	}
}

// consumePending copies pending rows into the buffers until either the rows
// run out or the window fills. It reports whether a window was completed.
func (fa *FrameAssembler) consumePending() (bool, error) {
	for len(fa.pending) > 0 {
		row := fa.pending[0]
		if len(row) != RowFields {
			fa.pending = nil
			return false, &MalformedStreamError{Fields: len(row), Want: RowFields}
		}
		for _, v := range row {
			if !isFinite(v) {
				fa.pending = nil
				return false, &MalformedStreamError{Line: fmt.Sprint(row), Reason: "non-finite sample"}
			}
		}
		fa.pending = fa.pending[1:]
		fa.reference[fa.cursor] = FromDACUnits(row[0])
		fa.feedback[fa.cursor] = row[1] + row[2] + row[3] + row[4]
		fa.cursor++
		if fa.cursor >= fa.nsamp {
			fa.cursor = 0
			return true, nil
		}
	}
	fa.pending = nil
	return false, nil
}
