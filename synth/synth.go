// Package synth synthesizes single segments of a vocal track with the
// vocoder. Each segment is rendered with extra mel context on both sides to
// avoid clicks at the segment boundaries; the context is trimmed away from
// the result.
package synth

import (
	"context"
	"fmt"

	"github.com/vsariola/shifter"
	"go.uber.org/zap"
)

type (
	// SegmentSynthesizer renders one segment at a time. It holds no mutable
	// state and is safe for concurrent use if the vocoder is.
	SegmentSynthesizer struct {
		vocoder   shifter.Vocoder
		hopSize   int
		padFrames int
		logger    *zap.Logger
	}

	Option func(*SegmentSynthesizer)
)

// WithLogger sets the logger used for repair warnings.
func WithLogger(l *zap.Logger) Option {
	return func(s *SegmentSynthesizer) { s.logger = l }
}

// New returns a SegmentSynthesizer for the vocoder. The hop size and the
// context padding come from cfg; cfg is expected to be validated.
func New(v shifter.Vocoder, cfg shifter.VocoderConfig, opts ...Option) *SegmentSynthesizer {
	s := &SegmentSynthesizer{
		vocoder:   v,
		hopSize:   cfg.HopSize,
		padFrames: max(cfg.PadFrames, 0),
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HopSize returns the number of samples per mel frame.
func (s *SegmentSynthesizer) HopSize() int { return s.hopSize }

// Synthesize renders seg of the mel-spectrogram with the given pitch curve
// (MIDI, NaN unvoiced, one value per segment frame). A pitch curve of the
// wrong length is padded with unvoiced frames or truncated. The result is
// nominally seg.Len()*HopSize() samples long, but the vocoder decides the
// exact length.
func (s *SegmentSynthesizer) Synthesize(ctx context.Context, mel shifter.Mel, seg shifter.Segment, pitch []float32) (shifter.AudioBuffer, error) {
	if seg.Start < 0 || seg.End < seg.Start || seg.End > len(mel) {
		return nil, fmt.Errorf("segment [%d, %d) outside mel frames [0, %d)", seg.Start, seg.End, len(mel))
	}
	padStart := max(0, seg.Start-s.padFrames)
	padEnd := min(len(mel), seg.End+s.padFrames)
	prePad := seg.Start - padStart
	postPad := padEnd - seg.End

	if want := seg.Len(); len(pitch) != want {
		s.logger.Warn("pitch length does not match segment, repairing",
			zap.Int("got", len(pitch)),
			zap.Int("want", want),
			zap.Int("segmentStart", seg.Start),
			zap.Int("segmentEnd", seg.End))
	}
	// padding frames stay unvoiced (0 Hz)
	f0 := make([]float32, padEnd-padStart)
	for i := 0; i < seg.Len() && i < len(pitch); i++ {
		f0[prePad+i] = shifter.MIDIToHz(pitch[i])
	}

	audio, err := s.vocoder.Synthesize(ctx, mel[padStart:padEnd], f0)
	if err != nil {
		return nil, fmt.Errorf("vocoder failed on segment [%d, %d): %w", seg.Start, seg.End, err)
	}
	trimStart := prePad * s.hopSize
	trimEnd := len(audio) - postPad*s.hopSize
	if trimEnd <= trimStart {
		return audio, nil
	}
	return audio[trimStart:trimEnd], nil
}
