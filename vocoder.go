package shifter

import (
	"context"
	"fmt"
	"math"
)

type (
	// Mel is a mel-spectrogram stored frame-major: Mel[i] is the mel vector of
	// frame i. Frames are hop size samples apart.
	Mel [][]float32

	// Vocoder turns a window of mel frames and a per-frame F0 curve (in Hz, 0
	// for unvoiced frames) into a waveform. len(f0) == len(mel). The vocoder
	// is a black box; it is expected to return roughly len(mel)*hopSize
	// samples.
	Vocoder interface {
		Synthesize(ctx context.Context, mel Mel, f0 []float32) (AudioBuffer, error)
	}

	// Analysis is everything the feature extractor computes when a vocal track
	// is loaded. PitchMIDI has one value per mel frame, NaN for unvoiced.
	Analysis struct {
		Audio      AudioBuffer
		SampleRate int
		Mel        Mel
		PitchMIDI  []float32
		Segments   []Segment
	}

	// FeatureExtractor loads an audio file, resamples it to the vocoder
	// sample rate and extracts mel, pitch and segmentation.
	FeatureExtractor interface {
		Extract(ctx context.Context, path string) (*Analysis, error)
	}
)

// Validate checks that the analysis is coherent: pitch has one value per mel
// frame and the segments fit into the mel frames.
func (a *Analysis) Validate() error {
	if a == nil {
		return fmt.Errorf("analysis is nil")
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("analysis sample rate must be > 0, got %d", a.SampleRate)
	}
	if len(a.PitchMIDI) != len(a.Mel) {
		return fmt.Errorf("analysis has %d pitch frames but %d mel frames", len(a.PitchMIDI), len(a.Mel))
	}
	if err := ValidateSegments(a.Segments, len(a.Mel)); err != nil {
		return fmt.Errorf("analysis segments: %w", err)
	}
	return nil
}

// MIDIToHz converts a (continuous) MIDI note number to Hz. NaN, i.e. an
// unvoiced frame, converts to 0.
func MIDIToHz(m float32) float32 {
	if math.IsNaN(float64(m)) {
		return 0
	}
	return float32(440 * math.Pow(2, (float64(m)-69)/12))
}

// HzToMIDI converts Hz to a MIDI note number. Non-positive frequencies
// convert to NaN.
func HzToMIDI(hz float32) float32 {
	if hz <= 0 {
		return float32(math.NaN())
	}
	return float32(69 + 12*math.Log2(float64(hz)/440))
}

// IsVoiced reports whether a pitch value marks a voiced frame.
func IsVoiced(m float32) bool {
	return !math.IsNaN(float64(m))
}
