package mfbcontrol

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// CorrectionResult is the outcome of one control cycle's spectral analysis.
type CorrectionResult struct {
	Value             float64   // correction in engineering units
	TargetBin         int       // dominant sub-Nyquist bin of the reference
	PhaseDiff         float64   // feedback minus reference phase at TargetBin, in (-π, π]
	FeedbackPeakBin   int       // dominant sub-Nyquist bin of the feedback
	FeedbackPeak      float64   // feedback amplitude at FeedbackPeakBin
	FeedbackSpectrum  []float64 // single-sided amplitudes, 2|X[i]|/N
	ReferenceSpectrum []float64
}

// FeedbackAmplitude returns the feedback amplitude at the target bin.
func (r *CorrectionResult) FeedbackAmplitude() float64 {
	return r.FeedbackSpectrum[r.TargetBin]
}

// SpectralCorrector computes corrections for windows of a fixed length.
// It holds a reusable FFT plan and scratch space, so a single SpectralCorrector
// must not be used from more than one goroutine at a time.
type SpectralCorrector struct {
	nsamp   int
	fft     *fourier.CmplxFFT
	seq     []complex128
	fbCoef  []complex128
	refCoef []complex128
}

// NewSpectralCorrector creates a corrector for windows of nsamp samples.
func NewSpectralCorrector(nsamp int) (*SpectralCorrector, error) {
	if nsamp < 4 {
		return nil, &ConfigurationError{Param: "window length",
			Reason: fmt.Sprintf("is %d, need at least 4 samples to have a sub-Nyquist bin", nsamp)}
	}
	return &SpectralCorrector{
		nsamp:   nsamp,
		fft:     fourier.NewCmplxFFT(nsamp),
		seq:     make([]complex128, nsamp),
		fbCoef:  make([]complex128, nsamp),
		refCoef: make([]complex128, nsamp),
	}, nil
}

// Correct computes the correction for one pair of synchronized windows.
// The windows are not modified.
func (sc *SpectralCorrector) Correct(feedback, reference []float64, gain float64) (CorrectionResult, error) {
	if len(feedback) != sc.nsamp || len(reference) != sc.nsamp {
		return CorrectionResult{}, fmt.Errorf("window lengths %d (feedback) and %d (reference), want %d",
			len(feedback), len(reference), sc.nsamp)
	}
	sc.transform(sc.fbCoef, feedback)
	sc.transform(sc.refCoef, reference)
	fbAmp := amplitudes(sc.fbCoef)
	refAmp := amplitudes(sc.refCoef)

	// Skip DC and everything from Nyquist up.
	k := dominantBin(refAmp)
	fbk := dominantBin(fbAmp)
	phaseDiff := NormalisePhase(cmplx.Phase(sc.fbCoef[k]) - cmplx.Phase(sc.refCoef[k]))
	value := sign(phaseDiff) * gain * fbAmp[k]

	debugf("Calculation: value = %f, k = %d, fb_k = %d, fb_phase = %f, ref_phase = %f, phase_diff = %f, gain = %f, fb_amp = %f, max_fb_amp = %f, ref_amp = %f",
		value, k, fbk, cmplx.Phase(sc.fbCoef[k]), cmplx.Phase(sc.refCoef[k]), phaseDiff,
		gain, fbAmp[k], fbAmp[fbk], refAmp[k])

	return CorrectionResult{
		Value:             value,
		TargetBin:         k,
		PhaseDiff:         phaseDiff,
		FeedbackPeakBin:   fbk,
		FeedbackPeak:      fbAmp[fbk],
		FeedbackSpectrum:  fbAmp,
		ReferenceSpectrum: refAmp,
	}, nil
}

func (sc *SpectralCorrector) transform(dst []complex128, window []float64) {
	for i, v := range window {
		sc.seq[i] = complex(v, 0)
	}
	sc.fft.Coefficients(dst, sc.seq)
}

// amplitudes returns the normalized single-sided amplitude spectrum 2|X[i]|/N.
func amplitudes(coef []complex128) []float64 {
	amp := make([]float64, len(coef))
	scale := 2 / float64(len(coef))
	for i, c := range coef {
		amp[i] = cmplx.Abs(c) * scale
	}
	return amp
}

// dominantBin returns the index of the largest amplitude in [1, N/2).
// Ties go to the lowest index.
func dominantBin(amp []float64) int {
	return floats.MaxIdx(amp[1:len(amp)/2]) + 1
}

// NormalisePhase maps a phase angle into the interval (-π, π].
func NormalisePhase(phase float64) float64 {
	if math.IsNaN(phase) || math.IsInf(phase, 0) {
		return math.NaN()
	}
	const twoPi = 2 * math.Pi
	phase = math.Mod(phase, twoPi) // now in (-2π, 2π)
	if phase > math.Pi {
		phase -= twoPi
	} else if phase <= -math.Pi {
		phase += twoPi
	}
	return phase
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
