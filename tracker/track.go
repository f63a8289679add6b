package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/tension"
	"go.uber.org/zap"
)

type (
	// Track is one loaded audio file. A vocal track carries the analysis
	// (mel, pitch, segments) and the edited curves; a background track only
	// plays its source audio.
	//
	// All methods are safe for concurrent use. The source audio, mel and
	// original pitch are never mutated after construction.
	Track struct {
		mu sync.Mutex

		name     string
		filePath string
		kind     TrackKind

		sampleRate int
		hopSize    int

		audio         shifter.AudioBuffer
		mel           shifter.Mel
		pitchOriginal []float32

		pitchEdited   []float32
		tensionEdited []float32
		shift         float32

		segments []shifter.Segment
		states   []segmentState

		synthesized    shifter.AudioBuffer
		synthVersion   uint64
		tensionVersion uint64
		tensionCache   tensionCache

		startFrame int
		volume     float32
		muted      bool
		solo       bool

		history [numParams]history

		logger *zap.Logger
	}

	// TrackKind tells if the track is re-synthesized or played back as is.
	TrackKind string

	// Synthesizer renders one segment of a mel-spectrogram. It is implemented
	// by synth.SegmentSynthesizer.
	Synthesizer interface {
		Synthesize(ctx context.Context, mel shifter.Mel, seg shifter.Segment, pitch []float32) (shifter.AudioBuffer, error)
	}

	// TensionEffect applies the tension curve to a full track buffer. It is
	// implemented by tension.Effect.
	TensionEffect interface {
		Apply(ctx context.Context, audio shifter.AudioBuffer, sampleRate int, pitch, tension []float32, curveHop int) (shifter.AudioBuffer, error)
	}

	// TrackState is the persistable part of a track.
	TrackState struct {
		Name       string    `yaml:"name"`
		FilePath   string    `yaml:"file_path"`
		Kind       TrackKind `yaml:"type"`
		StartFrame int       `yaml:"start_frame"`
		Volume     float32   `yaml:"volume"`
		Muted      bool      `yaml:"muted,omitempty"`
		Solo       bool      `yaml:"solo,omitempty"`
		Shift      float32   `yaml:"shift,omitempty"`
		Pitch      []float32 `yaml:"f0_edited,flow,omitempty"`
		Tension    []float32 `yaml:"tension_edited,flow,omitempty"`
	}

	segmentState struct {
		dirty bool
		audio shifter.AudioBuffer
		gen   uint64 // bumped on every edit touching the segment
	}

	tensionCache struct {
		synthVersion   uint64
		tensionVersion uint64
		length         int
		audio          shifter.AudioBuffer
	}
)

const (
	Vocal      TrackKind = "vocal"
	Background TrackKind = "bgm"
)

const (
	MaxTension = 100
	MinTension = -100
)

var (
	// ErrNotVocal is returned when editing the curves of a background track.
	ErrNotVocal = errors.New("track has no pitch or tension curves")
	// ErrInvalidSegment is returned for a segment index out of range.
	ErrInvalidSegment = errors.New("segment index out of range")
)

// NewVocalTrack creates a vocal track from the analysis of a loaded file.
// Segments are sanitized as the feature extractor does; all segments start
// dirty.
func NewVocalTrack(name, filePath string, a *shifter.Analysis, hopSize int, opts ...Option) (*Track, error) {
	if a == nil {
		return nil, errors.New("NewVocalTrack: analysis is nil")
	}
	if hopSize <= 0 {
		return nil, fmt.Errorf("NewVocalTrack: hop size must be > 0, got %d", hopSize)
	}
	segments := shifter.SanitizeSegments(a.Segments)
	sanitized := *a
	sanitized.Segments = segments
	if err := sanitized.Validate(); err != nil {
		return nil, fmt.Errorf("NewVocalTrack: %w", err)
	}
	o := newOptions(opts)
	t := &Track{
		name:          name,
		filePath:      filePath,
		kind:          Vocal,
		sampleRate:    a.SampleRate,
		hopSize:       hopSize,
		audio:         a.Audio,
		mel:           a.Mel,
		pitchOriginal: a.PitchMIDI,
		pitchEdited:   append([]float32(nil), a.PitchMIDI...),
		tensionEdited: make([]float32, len(a.PitchMIDI)),
		segments:      segments,
		states:        make([]segmentState, len(segments)),
		volume:        1,
		logger:        o.logger.With(zap.String("track", name)),
	}
	for i := range t.states {
		t.states[i].dirty = true
	}
	t.synthesized = make(shifter.AudioBuffer, t.bufferLen())
	return t, nil
}

// NewBackgroundTrack creates a track that plays audio as is.
func NewBackgroundTrack(name, filePath string, audio shifter.AudioBuffer, sampleRate, hopSize int, opts ...Option) *Track {
	o := newOptions(opts)
	return &Track{
		name:        name,
		filePath:    filePath,
		kind:        Background,
		sampleRate:  sampleRate,
		hopSize:     hopSize,
		audio:       audio,
		synthesized: audio,
		volume:      1,
		logger:      o.logger.With(zap.String("track", name)),
	}
}

func (t *Track) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

func (t *Track) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

func (t *Track) FilePath() string { return t.filePath }
func (t *Track) Kind() TrackKind { return t.kind }
func (t *Track) SampleRate() int { return t.sampleRate }
func (t *Track) HopSize() int { return t.hopSize }
func (t *Track) Mel() shifter.Mel { return t.mel }
func (t *Track) Audio() shifter.AudioBuffer { return t.audio }

// NumFrames returns the number of frames of the curves. For background
// tracks it is the audio length in whole frames.
func (t *Track) NumFrames() int {
	if t.kind == Background {
		return len(t.audio) / t.hopSize
	}
	return len(t.pitchOriginal)
}

// Segments returns a copy of the segment list.
func (t *Track) Segments() []shifter.Segment {
	return append([]shifter.Segment(nil), t.segments...)
}

// OriginalPitch returns a copy of the pitch as extracted at load time.
func (t *Track) OriginalPitch() []float32 {
	return append([]float32(nil), t.pitchOriginal...)
}

// Pitch returns a copy of the edited pitch curve.
func (t *Track) Pitch() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float32(nil), t.pitchEdited...)
}

// SetPitch replaces the edited pitch curve. A curve of the wrong length is
// truncated or padded with the original pitch. All segments become dirty.
// The change is not recorded to the undo history.
func (t *Track) SetPitch(pitch []float32) error {
	if t.kind != Vocal {
		return ErrNotVocal
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pitchEdited = t.fitPitch(pitch)
	t.markAllDirty()
	return nil
}

// Tension returns a copy of the tension curve.
func (t *Track) Tension() []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float32(nil), t.tensionEdited...)
}

// SetTension replaces the tension curve. Values are clipped to
// [MinTension, MaxTension]; a curve of the wrong length is truncated or
// padded with zeros. The change is not recorded to the undo history.
func (t *Track) SetTension(curve []float32) error {
	if t.kind != Vocal {
		return ErrNotVocal
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tensionEdited = t.fitTension(curve)
	t.tensionChanged()
	return nil
}

func (t *Track) StartFrame() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startFrame
}

// SetStartFrame sets the offset of the track on the timeline. Negative
// values are clamped to zero.
func (t *Track) SetStartFrame(frame int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startFrame = max(frame, 0)
}

func (t *Track) Volume() float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// SetVolume sets the linear gain of the track. Negative values are clamped
// to zero.
func (t *Track) SetVolume(v float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v < 0 || math.IsNaN(float64(v)) {
		v = 0
	}
	t.volume = v
}

func (t *Track) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *Track) SetMuted(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = v
}

func (t *Track) Solo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.solo
}

func (t *Track) SetSolo(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.solo = v
}

// ShiftAmount returns the current global transpose in semitones.
func (t *Track) ShiftAmount() float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shift
}

// State returns the persistable state of the track.
func (t *Track) State() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := TrackState{
		Name:       t.name,
		FilePath:   t.filePath,
		Kind:       t.kind,
		StartFrame: t.startFrame,
		Volume:     t.volume,
		Muted:      t.muted,
		Solo:       t.solo,
		Shift:      t.shift,
	}
	if t.kind == Vocal {
		s.Pitch = append([]float32(nil), t.pitchEdited...)
		s.Tension = append([]float32(nil), t.tensionEdited...)
	}
	return s
}

// SetState restores a persisted state. The kind and file path of the track
// are not changed; use Model.ConvertTrack for that. Curves of the wrong
// length are repaired as in SetPitch and SetTension.
func (t *Track) SetState(s TrackState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = s.Name
	t.startFrame = max(s.StartFrame, 0)
	t.volume = max(s.Volume, 0)
	t.muted = s.Muted
	t.solo = s.Solo
	if t.kind != Vocal {
		return
	}
	t.shift = s.Shift
	if s.Pitch != nil {
		t.pitchEdited = t.fitPitch(s.Pitch)
		t.markAllDirty()
	}
	if s.Tension != nil {
		t.tensionEdited = t.fitTension(s.Tension)
		t.tensionChanged()
	}
}

// MarkDirty marks every segment touching the closed frame range
// [minX, maxX] as dirty.
func (t *Track) MarkDirty(minX, maxX int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markDirty(minX, maxX)
}

// MarkAllDirty marks every segment as dirty.
func (t *Track) MarkAllDirty() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markAllDirty()
}

// Dirty reports whether segment i needs to be synthesized.
func (t *Track) Dirty(i int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return i >= 0 && i < len(t.states) && t.states[i].dirty
}

// DirtySegments returns the indices of the dirty segments in ascending
// order.
func (t *Track) DirtySegments() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ret []int
	for i, s := range t.states {
		if s.dirty {
			ret = append(ret, i)
		}
	}
	return ret
}

// SegmentAudio returns the cached audio of segment i, nil if it has not
// been synthesized yet.
func (t *Track) SegmentAudio(i int) shifter.AudioBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.states) {
		return nil
	}
	return t.states[i].audio
}

// SynthesizeSegment re-renders segment i if it is dirty. The synthesizer
// runs without holding the track lock, so edits can continue meanwhile; if
// an edit touched the segment during synthesis, the new audio is stored but
// the segment stays dirty. On error the segment stays dirty.
func (t *Track) SynthesizeSegment(ctx context.Context, s Synthesizer, i int) error {
	if t.kind != Vocal {
		return nil
	}
	t.mu.Lock()
	if i < 0 || i >= len(t.segments) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidSegment, i)
	}
	if !t.states[i].dirty {
		t.mu.Unlock()
		return nil
	}
	seg := t.segments[i]
	gen := t.states[i].gen
	pitch := append([]float32(nil), t.pitchEdited[seg.Start:seg.End]...)
	t.mu.Unlock()

	audio, err := s.Synthesize(ctx, t.mel, seg, pitch)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[i].audio = audio
	if t.states[i].gen == gen {
		t.states[i].dirty = false
	} else {
		t.logger.Debug("segment edited during synthesis, keeping it dirty", zap.Int("segment", i))
	}
	return nil
}

// RebuildFullBuffer stitches the cached segment audio into a new full
// buffer. The previous buffer is never modified, so sessions holding it keep
// playing what they had.
func (t *Track) RebuildFullBuffer() {
	if t.kind != Vocal {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make(shifter.AudioBuffer, t.bufferLen())
	copy(buf, t.synthesized)
	for i, seg := range t.segments {
		audio := t.states[i].audio
		if audio == nil {
			continue
		}
		start := seg.Start * t.hopSize
		if start >= len(buf) {
			continue
		}
		copy(buf[start:], audio)
	}
	t.synthesized = buf
	t.synthVersion++
}

// SynthesizedAudio returns the current stitched buffer. The buffer must not
// be modified.
func (t *Track) SynthesizedAudio() shifter.AudioBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synthesized
}

// Versions returns the counters keying the tension cache. The synth version
// increases on every RebuildFullBuffer, the tension version on every tension
// edit.
func (t *Track) Versions() (synthVersion, tensionVersion uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.synthVersion, t.tensionVersion
}

// PlaybackBuffer returns the buffer to be played for the track. For vocal
// tracks with a non-neutral tension curve, the effect is applied and cached
// until either the synthesized audio or the tension changes. If the effect
// fails, the error is logged and the unprocessed audio is returned.
func (t *Track) PlaybackBuffer(ctx context.Context, fx TensionEffect) shifter.AudioBuffer {
	if t.kind != Vocal {
		return t.audio
	}
	t.mu.Lock()
	synthesized := t.synthesized
	if fx == nil || tension.IsNeutral(t.tensionEdited) {
		t.mu.Unlock()
		return synthesized
	}
	synthVersion, tensionVersion := t.synthVersion, t.tensionVersion
	c := t.tensionCache
	if c.audio != nil && c.synthVersion == synthVersion && c.tensionVersion == tensionVersion && c.length == len(synthesized) {
		t.mu.Unlock()
		return c.audio
	}
	pitch := append([]float32(nil), t.pitchEdited...)
	curve := append([]float32(nil), t.tensionEdited...)
	t.mu.Unlock()

	processed, err := fx.Apply(ctx, synthesized, t.sampleRate, pitch, curve, t.hopSize)
	if err != nil {
		t.logger.Error("tension effect failed, playing unprocessed audio", zap.Error(err))
		return synthesized
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.synthVersion == synthVersion && t.tensionVersion == tensionVersion {
		t.tensionCache = tensionCache{
			synthVersion:   synthVersion,
			tensionVersion: tensionVersion,
			length:         len(synthesized),
			audio:          processed,
		}
	}
	return processed
}

// bufferLen is long enough for the source audio and every segment, so that
// each segment can be spliced at start*hopSize.
func (t *Track) bufferLen() int {
	n := len(t.audio)
	if len(t.segments) > 0 {
		n = max(n, t.segments[len(t.segments)-1].End*t.hopSize)
	}
	return n
}

func (t *Track) markDirty(minX, maxX int) {
	for i, seg := range t.segments {
		if seg.Overlaps(minX, maxX) {
			t.states[i].dirty = true
			t.states[i].gen++
		}
	}
}

func (t *Track) markAllDirty() {
	for i := range t.states {
		t.states[i].dirty = true
		t.states[i].gen++
	}
}

func (t *Track) tensionChanged() {
	t.tensionVersion++
	t.tensionCache = tensionCache{}
}

// fitPitch copies pitch to the frame count, filling missing frames from the
// original pitch.
func (t *Track) fitPitch(pitch []float32) []float32 {
	ret := make([]float32, len(t.pitchOriginal))
	n := copy(ret, pitch)
	copy(ret[n:], t.pitchOriginal[n:])
	if len(pitch) != len(ret) {
		t.logger.Warn("pitch length does not match track, repairing",
			zap.Int("got", len(pitch)), zap.Int("want", len(ret)))
	}
	return ret
}

func (t *Track) fitTension(curve []float32) []float32 {
	ret := make([]float32, len(t.pitchOriginal))
	copy(ret, curve)
	for i, v := range ret {
		ret[i] = clipTension(v)
	}
	return ret
}

func clipTension(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return min(max(v, MinTension), MaxTension)
}
