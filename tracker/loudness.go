package tracker

import (
	"math"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/shifter"
)

type (
	Decibel float32

	// Loudness is the EBU R128 style measurement of a rendered mix.
	Loudness struct {
		Integrated   Decibel // gated loudness of the whole buffer, LUFS
		MaxMomentary Decibel // loudest 400 ms window
		MaxShortTerm Decibel // loudest 3 s window
		TruePeak     Decibel // 4x oversampled peak, dBTP
	}

	biquadState struct {
		x1, x2, y1, y2 float32
	}

	biquadCoeff struct {
		b0, b1, b2, a1, a2 float32
	}

	// meanWindow is a sliding window of block powers.
	meanWindow struct {
		buffer []float32
		cursor int
		filled int
	}
)

const (
	momentaryBlocks = 4  // 400 ms of 100 ms blocks
	shortTermBlocks = 30 // 3 s
)

// The K-weighting filter is designed for 44.1 kHz; at other rates the
// measurement is unweighted.
const kWeightingRate = 44100

var kWeighting = []biquadCoeff{
	{b0: 1.5308412300503476, b1: -2.6509799951547293, b2: 1.1690790799215869, a1: -1.6636551132560204, a2: 0.7125954280732254},
	{b0: 0.9995600645425144, b1: -1.9991201290850289, b2: 0.9995600645425144, a1: -1.9891696736297957, a2: 0.9891990357870394},
}

// offset is to make up for the fact that K-weighting has slightly above
// unity gain at 1 kHz
const kWeightingOffset = -0.691

var silence = Decibel(math.Inf(-1))

// MeasureLoudness measures a mono buffer in 100 ms blocks. Momentary and
// short-term loudness are sliding means over 4 and 30 blocks; integrated
// loudness gates the momentary windows at -70 LUFS and then 10 dB below
// their mean.
func MeasureLoudness(buf shifter.AudioBuffer, sampleRate int) Loudness {
	ret := Loudness{Integrated: silence, MaxMomentary: silence, MaxShortTerm: silence, TruePeak: silence}
	if sampleRate <= 0 || len(buf) == 0 {
		return ret
	}
	x := []float32(buf.Copy())
	var offset float32
	if sampleRate == kWeightingRate {
		for _, c := range kWeighting {
			var s biquadState
			s.filter(x, c)
		}
		offset = kWeightingOffset
	}
	blockLen := max(sampleRate/10, 1)
	tmp := make([]float32, blockLen)
	windows := [2]meanWindow{newMeanWindow(momentaryBlocks), newMeanWindow(shortTermBlocks)}
	var maxPowers [2]float32
	var momentary []float32
	for start := 0; start < len(x); start += blockLen {
		block := x[start:min(start+blockLen, len(x))]
		power := vek32.Mean(vek32.Mul_Into(tmp[:len(block)], block, block))
		for i := range windows {
			windows[i].push(power)
			if windows[i].full() || start+blockLen >= len(x) {
				maxPowers[i] = max(maxPowers[i], windows[i].mean())
			}
		}
		if windows[0].full() {
			momentary = append(momentary, windows[0].mean())
		}
	}
	if len(momentary) == 0 {
		// shorter than one momentary window
		momentary = append(momentary, windows[0].mean())
	}
	ret.MaxMomentary = power2loudness(maxPowers[0], offset)
	ret.MaxShortTerm = power2loudness(maxPowers[1], offset)
	ret.Integrated = gatedLoudness(momentary, offset)
	y := oversample(buf)
	vek32.Abs_Inplace(y)
	ret.TruePeak = Decibel(20 * math.Log10(float64(vek32.Max(y))))
	return ret
}

func gatedLoudness(powers []float32, offset float32) Decibel {
	mask := make([]bool, len(powers))
	tmp := make([]float32, len(powers))
	tmp2 := make([]float32, len(powers))
	absThreshold := loudness2power(-70, offset) // -70 dB is the first threshold
	m2 := vek32.Select_Into(tmp, powers, vek32.GtNumber_Into(mask, powers, absThreshold))
	if len(m2) == 0 {
		return silence
	}
	relThreshold := vek32.Mean(m2) / 10 // the relative threshold is 10 dB below the mean of the values above the absolute threshold
	m3 := vek32.Select_Into(tmp2, m2, vek32.GtNumber_Into(mask[:len(m2)], m2, relThreshold))
	if len(m3) == 0 {
		return silence
	}
	return power2loudness(vek32.Mean(m3), offset)
}

func newMeanWindow(n int) meanWindow {
	return meanWindow{buffer: make([]float32, n)}
}

func (w *meanWindow) push(v float32) {
	w.buffer[w.cursor] = v
	w.cursor = (w.cursor + 1) % len(w.buffer)
	w.filled = min(w.filled+1, len(w.buffer))
}

func (w *meanWindow) full() bool { return w.filled == len(w.buffer) }

func (w *meanWindow) mean() float32 {
	if w.filled == 0 {
		return 0
	}
	return vek32.Mean(w.buffer) * float32(len(w.buffer)) / float32(w.filled)
}

func power2loudness(power, offset float32) Decibel {
	return Decibel(float32(10*math.Log10(float64(power))) + offset)
}

func loudness2power(loudness Decibel, offset float32) float32 {
	return (float32)(math.Pow(10, (float64(loudness)-float64(offset))/10))
}

func (state *biquadState) filter(buffer []float32, coeff biquadCoeff) {
	s := *state
	for i := 0; i < len(buffer); i++ {
		x := buffer[i]
		y := coeff.b0*x + coeff.b1*s.x1 + coeff.b2*s.x2 - coeff.a1*s.y1 - coeff.a2*s.y2
		s.x2, s.x1 = s.x1, x
		s.y2, s.y1 = s.y1, y
		buffer[i] = y
	}
	*state = s
}

// ref: https://www.itu.int/dms_pubrec/itu-r/rec/bs/R-REC-BS.1770-5-202311-I!!PDF-E.pdf
var oversamplingCoeffs = [4][12]float32{
	{0.0017089843750, 0.0109863281250, -0.0196533203125, 0.0332031250000, -0.0594482421875, 0.1373291015625, 0.9721679687500, -0.1022949218750, 0.0476074218750, -0.0266113281250, 0.0148925781250, -0.0083007812500},
	{-0.0291748046875, 0.0292968750000, -0.0517578125000, 0.0891113281250, -0.1665039062500, 0.4650878906250, 0.7797851562500, -0.2003173828125, 0.1015625000000, -0.0582275390625, 0.0330810546875, -0.0189208984375},
	{-0.0189208984375, 0.0330810546875, -0.058227539062, 0.1015625000000, -0.200317382812, 0.7797851562500, 0.4650878906250, -0.166503906250, 0.0891113281250, -0.051757812500, 0.0292968750000, -0.0291748046875},
	{-0.0083007812500, 0.0148925781250, -0.0266113281250, 0.0476074218750, -0.1022949218750, 0.9721679687500, 0.1373291015625, -0.0594482421875, 0.0332031250000, -0.0196533203125, 0.0109863281250, 0.0017089843750},
}

// oversample interpolates x by 4 with the polyphase filter above:
// y[p*4+q] = sum_j o[q][j] * x[p-j], x being zero before the start.
func oversample(x []float32) []float32 {
	y := make([]float32, 4*len(x))
	r := make([]float32, len(x))
	tmp := make([]float32, len(x))
	for q, coeffs := range oversamplingCoeffs {
		vek32.Zeros_Into(r, len(x))
		for j, c := range coeffs {
			if j >= len(x) {
				break
			}
			vek32.MulNumber_Into(tmp[j:], x[:len(x)-j], c)
			vek32.Add_Inplace(r[j:], tmp[j:])
		}
		// interleave the phases
		for p, v := range r {
			y[p*4+q] = v
		}
	}
	return y
}
