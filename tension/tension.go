// Package tension implements the spectral tilt effect driven by the tension
// curve. Positive tension brightens a voiced frame by boosting the bins above
// a pivot derived from the frame's pitch and cutting the bins below it;
// negative tension does the opposite.
package tension

import (
	"fmt"
	"math"
	"sort"

	"github.com/vsariola/shifter"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	neutralThreshold = 1e-6
	minPivotHz       = 100
	maxPivotHz       = 1000
)

// DefaultConfig returns the default STFT parameters and maximum gain.
func DefaultConfig() shifter.TensionConfig {
	return shifter.DefaultConfig().Tension
}

// IsNeutral reports whether the tension curve leaves the audio unchanged,
// i.e. max(|tension|) is below 1e-6. NaN values are ignored.
func IsNeutral(tension []float32) bool {
	for _, v := range tension {
		if math.Abs(float64(v)) >= neutralThreshold {
			return false
		}
	}
	return true
}

// Apply runs the tension effect over audio. pitch (MIDI, NaN unvoiced) and
// tension (-100..100) are frame curves with curveHop samples per frame. The
// returned buffer has the same length as audio. When the curves can not
// change the audio, the input slice itself is returned.
func Apply(audio shifter.AudioBuffer, sampleRate int, pitch, tension []float32, curveHop int, cfg shifter.TensionConfig) (shifter.AudioBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("tension: sample rate must be > 0, got %d", sampleRate)
	}
	if curveHop <= 0 {
		return nil, fmt.Errorf("tension: curve hop must be > 0, got %d", curveHop)
	}
	if len(audio) == 0 || IsNeutral(tension) {
		return audio, nil
	}
	srcLen := min(len(pitch), len(tension))
	if srcLen == 0 {
		return audio, nil
	}
	numFrames := 1 + len(audio)/cfg.HopSize
	gains, pivots := frameGains(pitch[:srcLen], tension[:srcLen], numFrames, float64(cfg.HopSize)/float64(curveHop), cfg.MaxDB)
	if gains == nil {
		return audio, nil
	}
	return tilt(audio, float64(sampleRate), gains, pivots, cfg.FFTSize, cfg.HopSize), nil
}

// frameGains resamples the curves to the STFT frame rate and returns the
// gain in dB and the pivot frequency of each frame. Returns nil gains when
// every frame is neutral.
func frameGains(pitch, tension []float32, numFrames int, ratio, maxDB float64) (gains, pivots []float64) {
	srcLen := len(pitch)
	var voicedX, voicedY []float64
	for i, p := range pitch {
		if shifter.IsVoiced(p) {
			voicedX = append(voicedX, float64(i))
			voicedY = append(voicedY, float64(p))
		}
	}
	if len(voicedX) < 2 {
		return nil, nil
	}
	tensionX := make([]float64, srcLen)
	tensionY := make([]float64, srcLen)
	for i, v := range tension {
		tensionX[i] = float64(i)
		tensionY[i] = float64(v)
		if math.IsNaN(tensionY[i]) {
			tensionY[i] = 0
		}
	}
	gains = make([]float64, numFrames)
	pivots = make([]float64, numFrames)
	anyGain := false
	for t := range numFrames {
		idx := min(max(float64(t)*ratio, 0), float64(srcLen-1))
		nearest := min(max(int(math.RoundToEven(idx)), 0), srcLen-1)
		if !shifter.IsVoiced(pitch[nearest]) {
			continue
		}
		midi := interp(idx, voicedX, voicedY)
		hz := float64(shifter.MIDIToHz(float32(midi)))
		pivots[t] = 2 * min(max(hz, minPivotHz), maxPivotHz)
		gains[t] = interp(idx, tensionX, tensionY) / 100 * maxDB
		if gains[t] != 0 {
			anyGain = true
		}
	}
	if !anyGain {
		return nil, nil
	}
	return gains, pivots
}

// interp evaluates the piecewise linear function through (xp, fp) at x.
// Outside the range the end values are held. xp must be increasing.
func interp(x float64, xp, fp []float64) float64 {
	if x <= xp[0] {
		return fp[0]
	}
	last := len(xp) - 1
	if x >= xp[last] {
		return fp[last]
	}
	i := sort.SearchFloat64s(xp, x)
	if xp[i] == x {
		return fp[i]
	}
	x0, x1 := xp[i-1], xp[i]
	return fp[i-1] + (fp[i]-fp[i-1])*(x-x0)/(x1-x0)
}

// tilt runs the centered STFT, applies the per-frame tilt and resynthesizes
// with a window-squared normalised overlap-add.
func tilt(audio shifter.AudioBuffer, sampleRate float64, gains, pivots []float64, fftSize, hop int) shifter.AudioBuffer {
	n := len(audio)
	pad := fftSize / 2
	padded := make([]float64, n+2*pad)
	for i := range padded {
		padded[i] = float64(audio[reflect(i-pad, n)])
	}
	window := hann(fftSize)
	window2 := make([]float64, fftSize)
	copy(window2, window)
	floats.Mul(window2, window)

	out := make([]float64, len(padded)+fftSize)
	wsum := make([]float64, len(padded)+fftSize)
	fft := fourier.NewFFT(fftSize)
	frame := make([]float64, fftSize)
	coeffs := make([]complex128, fftSize/2+1)
	binHz := sampleRate / float64(fftSize)
	for t := range gains {
		off := t * hop
		for i := range frame {
			if off+i < len(padded) {
				frame[i] = padded[off+i]
			} else {
				frame[i] = 0
			}
		}
		floats.Mul(frame, window)
		if g := gains[t]; g != 0 {
			coeffs = fft.Coefficients(coeffs, frame)
			limit := math.Abs(g)
			for k := range coeffs {
				db := g * (float64(k)*binHz/pivots[t] - 1)
				db = min(max(db, -limit), limit)
				coeffs[k] *= complex(math.Pow(10, db/20), 0)
			}
			frame = fft.Sequence(frame, coeffs)
			floats.Scale(1/float64(fftSize), frame)
		}
		floats.Mul(frame, window)
		floats.Add(out[off:off+fftSize], frame)
		floats.Add(wsum[off:off+fftSize], window2)
	}
	ret := make(shifter.AudioBuffer, n)
	for i := range ret {
		j := i + pad
		if wsum[j] > 1e-11 {
			ret[i] = float32(out[j] / wsum[j])
		} else {
			ret[i] = audio[i]
		}
	}
	return ret
}

// reflect maps an index outside [0, n) back into it by mirroring around the
// edge samples (the edges themselves are not repeated).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// hann returns a periodic Hann window.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
