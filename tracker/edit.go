package tracker

import (
	"errors"
	"fmt"
	"math"
)

type (
	// Param selects which curve of a vocal track an edit applies to.
	Param int

	// Stroke is one continuous edit gesture, e.g. a mouse drag. Beginning a
	// stroke takes a single undo snapshot; everything done through the stroke
	// is undone together.
	Stroke struct {
		track     *Track
		param     Param
		start     []float32
		last      int
		lastValue float32
		hasLast   bool
		ended     bool
	}

	// Selection is a set of frames of one curve, built with Track.Select.
	Selection struct {
		mask   []bool
		lo, hi int
		count  int
	}

	history struct {
		undo [][]float32
		redo [][]float32
	}
)

const (
	PitchParam Param = iota
	TensionParam
	numParams
)

const maxUndo = 16

// ErrStrokeEnded is returned when using a stroke after End.
var ErrStrokeEnded = errors.New("stroke has ended")

func (p Param) String() string {
	switch p {
	case PitchParam:
		return "pitch"
	case TensionParam:
		return "tension"
	}
	return fmt.Sprintf("Param(%d)", int(p))
}

func (p Param) valid() bool { return p >= 0 && p < numParams }

// BeginStroke starts an edit of the given curve and records the current
// curve to the undo history, clearing the redo history.
func (t *Track) BeginStroke(p Param) (*Stroke, error) {
	if t.kind != Vocal {
		return nil, ErrNotVocal
	}
	if !p.valid() {
		return nil, fmt.Errorf("BeginStroke: invalid parameter %v", p)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushUndo(p)
	return &Stroke{
		track: t,
		param: p,
		start: append([]float32(nil), *t.curve(p)...),
	}, nil
}

// ApplyDelta writes values to the frames starting at start. Frames outside
// the curve are ignored.
func (s *Stroke) ApplyDelta(start int, values []float32) error {
	if s.ended {
		return ErrStrokeEnded
	}
	t := s.track
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.curve(s.param)
	lo, hi := max(start, 0), min(start+len(values), len(cur))
	if lo >= hi {
		return nil
	}
	for i := lo; i < hi; i++ {
		cur[i] = s.clip(values[i-start])
	}
	t.curveChanged(s.param, lo, hi-1)
	return nil
}

// DrawTo paints the curve to value at frame, linearly interpolating from the
// previous point of the stroke. Frames outside the curve are ignored.
func (s *Stroke) DrawTo(frame int, value float32) error {
	if s.ended {
		return ErrStrokeEnded
	}
	t := s.track
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.curve(s.param)
	if frame < 0 || frame >= len(cur) {
		return nil
	}
	value = s.clip(value)
	lo, hi := s.span(frame, len(cur))
	if lo < hi {
		for i := lo; i <= hi; i++ {
			ratio := float32(i-s.last) / float32(frame-s.last)
			cur[i] = s.clip(s.lastValue + ratio*(value-s.lastValue))
		}
	} else {
		cur[frame] = value
	}
	t.curveChanged(s.param, lo, hi)
	s.last, s.lastValue, s.hasLast = frame, value, true
	return nil
}

// RestoreTo resets the curve between the previous point of the stroke and
// frame: pitch back to the original pitch, tension back to zero.
func (s *Stroke) RestoreTo(frame int) error {
	if s.ended {
		return ErrStrokeEnded
	}
	t := s.track
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.curve(s.param)
	if frame < 0 || frame >= len(cur) {
		return nil
	}
	lo, hi := s.span(frame, len(cur))
	for i := lo; i <= hi; i++ {
		if s.param == PitchParam {
			cur[i] = t.pitchOriginal[i]
		} else {
			cur[i] = 0
		}
	}
	t.curveChanged(s.param, lo, hi)
	s.last, s.lastValue, s.hasLast = frame, cur[frame], true
	return nil
}

// MoveSelection sets every selected frame to its value at the beginning of
// the stroke plus delta. Calling it repeatedly with a growing delta drags the
// selection.
func (s *Stroke) MoveSelection(sel Selection, delta float32) error {
	if s.ended {
		return ErrStrokeEnded
	}
	lo, hi, ok := sel.Range()
	if !ok {
		return nil
	}
	t := s.track
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.curve(s.param)
	hi = min(hi, len(cur)-1)
	for i := lo; i <= hi; i++ {
		if sel.mask[i] {
			cur[i] = s.clip(s.start[i] + delta)
		}
	}
	t.curveChanged(s.param, lo, hi)
	return nil
}

// End closes the stroke. Further edits through it return ErrStrokeEnded.
func (s *Stroke) End() {
	s.ended = true
}

// span returns the frame range between the previous point and frame.
func (s *Stroke) span(frame, n int) (lo, hi int) {
	if !s.hasLast {
		return frame, frame
	}
	lo, hi = min(s.last, frame), max(s.last, frame)
	return max(lo, 0), min(hi, n-1)
}

func (s *Stroke) clip(v float32) float32 {
	if s.param == TensionParam {
		return clipTension(v)
	}
	return v
}

// Select returns the frames in [x0, x1] whose value on the curve lies in
// [y0, y1]. Unvoiced pitch frames are never selected.
func (t *Track) Select(p Param, x0, x1 int, y0, y1 float32) Selection {
	if t.kind != Vocal || !p.valid() {
		return Selection{}
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.curve(p)
	sel := Selection{mask: make([]bool, len(cur)), lo: -1}
	for i := max(x0, 0); i <= min(x1, len(cur)-1); i++ {
		v := cur[i]
		if math.IsNaN(float64(v)) || v < y0 || v > y1 {
			continue
		}
		sel.mask[i] = true
		if sel.lo < 0 {
			sel.lo = i
		}
		sel.hi = i
		sel.count++
	}
	return sel
}

// Len returns the number of selected frames.
func (s Selection) Len() int { return s.count }

// Contains reports whether frame is selected.
func (s Selection) Contains(frame int) bool {
	return frame >= 0 && frame < len(s.mask) && s.mask[frame]
}

// Range returns the first and last selected frame.
func (s Selection) Range() (lo, hi int, ok bool) {
	if s.count == 0 {
		return 0, 0, false
	}
	return s.lo, s.hi, true
}

// Shift transposes the whole pitch curve to semitones relative to the
// original, i.e. by the difference to the previous shift. Undoable.
func (t *Track) Shift(semitones float32) error {
	if t.kind != Vocal {
		return ErrNotVocal
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushUndo(PitchParam)
	delta := semitones - t.shift
	for i := range t.pitchEdited {
		t.pitchEdited[i] += delta
	}
	t.shift = semitones
	t.markAllDirty()
	return nil
}

// CopyPitch returns a copy of the edited pitch, for pasting to another
// track.
func (t *Track) CopyPitch() []float32 {
	return t.Pitch()
}

// PastePitch replaces the edited pitch with src. If src is shorter than the
// track, the rest is taken from the original pitch; if longer, it is
// truncated. Undoable.
func (t *Track) PastePitch(src []float32) error {
	if t.kind != Vocal {
		return ErrNotVocal
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushUndo(PitchParam)
	t.pitchEdited = t.fitPitch(src)
	t.markAllDirty()
	return nil
}

// Undo restores the curve before the last edit. Returns false if there was
// nothing to undo.
func (t *Track) Undo(p Param) bool {
	if t.kind != Vocal || !p.valid() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := &t.history[p]
	if len(h.undo) == 0 {
		return false
	}
	cur := t.curve(p)
	h.redo = pushBounded(h.redo, append([]float32(nil), *cur...))
	*cur = h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	t.curveChangedAll(p)
	return true
}

// Redo reapplies the last undone edit. Returns false if there was nothing to
// redo.
func (t *Track) Redo(p Param) bool {
	if t.kind != Vocal || !p.valid() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := &t.history[p]
	if len(h.redo) == 0 {
		return false
	}
	cur := t.curve(p)
	h.undo = pushBounded(h.undo, append([]float32(nil), *cur...))
	*cur = h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	t.curveChangedAll(p)
	return true
}

// HistoryLen returns the number of undo and redo snapshots of the curve.
func (t *Track) HistoryLen(p Param) (undo, redo int) {
	if !p.valid() {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history[p].undo), len(t.history[p].redo)
}

func (t *Track) curve(p Param) *[]float32 {
	if p == TensionParam {
		return &t.tensionEdited
	}
	return &t.pitchEdited
}

func (t *Track) pushUndo(p Param) {
	h := &t.history[p]
	h.undo = pushBounded(h.undo, append([]float32(nil), *t.curve(p)...))
	h.redo = nil
}

func (t *Track) curveChanged(p Param, minX, maxX int) {
	if p == TensionParam {
		t.tensionChanged()
		return
	}
	t.markDirty(minX, maxX)
}

func (t *Track) curveChangedAll(p Param) {
	if p == TensionParam {
		t.tensionChanged()
		return
	}
	t.markAllDirty()
}

func pushBounded(stack [][]float32, v []float32) [][]float32 {
	stack = append(stack, v)
	if len(stack) > maxUndo {
		copy(stack, stack[len(stack)-maxUndo:])
		stack = stack[:maxUndo]
	}
	return stack
}
