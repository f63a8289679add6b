package tracker_test

import (
	"errors"
	"math"
	"testing"

	"github.com/vsariola/shifter/tracker"
)

func beginStroke(t *testing.T, track *tracker.Track, p tracker.Param) *tracker.Stroke {
	t.Helper()
	s, err := track.BeginStroke(p)
	if err != nil {
		t.Fatalf("BeginStroke(%v) failed: %v", p, err)
	}
	return s
}

func TestDrawToInterpolates(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	s.DrawTo(2, 62)
	s.DrawTo(6, 66)
	s.End()
	p := track.Pitch()
	for i := 2; i <= 6; i++ {
		if want := float32(60 + i); math.Abs(float64(p[i]-want)) > 1e-5 {
			t.Fatalf("frame %d: expected %v, got %v", i, want, p[i])
		}
	}
	if p[1] != 60 || p[7] != 60 {
		t.Fatalf("frames outside the stroke changed: %v", p)
	}
}

func TestDrawToIgnoresOutOfRange(t *testing.T) {
	track := twoSegmentTrack(t)
	runPass(t, newPitchSynth(), track)
	s := beginStroke(t, track, tracker.PitchParam)
	if err := s.DrawTo(-1, 70); err != nil {
		t.Fatalf("DrawTo failed: %v", err)
	}
	if err := s.DrawTo(20, 70); err != nil {
		t.Fatalf("DrawTo failed: %v", err)
	}
	if len(track.DirtySegments()) != 0 {
		t.Fatalf("out of range draw dirtied segments")
	}
}

func TestTensionStrokeClips(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.TensionParam)
	s.ApplyDelta(18, []float32{500, -500, 10})
	if got := track.Tension(); got[18] != 100 || got[19] != -100 {
		t.Fatalf("tension not clipped: %v", got[18:])
	}
}

func TestRestoreTo(t *testing.T) {
	track := twoSegmentTrack(t)
	track.Shift(5)
	s := beginStroke(t, track, tracker.PitchParam)
	s.RestoreTo(3)
	s.RestoreTo(8)
	p := track.Pitch()
	for i := 3; i <= 8; i++ {
		if p[i] != 60 {
			t.Fatalf("frame %d not restored: %v", i, p[i])
		}
	}
	if p[2] != 65 || p[9] != 65 {
		t.Fatalf("frames outside the range restored")
	}
}

func TestMoveSelection(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	s.ApplyDelta(4, []float32{64, 64, 50})
	s.End()
	sel := track.Select(tracker.PitchParam, 0, 19, 63, 65)
	if sel.Len() != 2 || !sel.Contains(4) || !sel.Contains(5) || sel.Contains(6) {
		t.Fatalf("unexpected selection of %d frames", sel.Len())
	}
	drag := beginStroke(t, track, tracker.PitchParam)
	drag.MoveSelection(sel, 1)
	drag.MoveSelection(sel, 3)
	drag.End()
	p := track.Pitch()
	if p[4] != 67 || p[5] != 67 || p[6] != 50 {
		t.Fatalf("selection drag should apply the total delta once: %v", p[4:7])
	}
}

func TestSelectSkipsUnvoiced(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	s.ApplyDelta(0, []float32{float32(math.NaN())})
	sel := track.Select(tracker.PitchParam, 0, 3, 0, 127)
	if sel.Contains(0) || sel.Len() != 3 {
		t.Fatalf("unvoiced frame selected")
	}
	if lo, hi, ok := sel.Range(); !ok || lo != 1 || hi != 3 {
		t.Fatalf("expected range [1, 3], got [%d, %d] %v", lo, hi, ok)
	}
}

func TestEndedStroke(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	s.End()
	if err := s.DrawTo(1, 1); !errors.Is(err, tracker.ErrStrokeEnded) {
		t.Fatalf("expected ErrStrokeEnded, got %v", err)
	}
	if err := s.ApplyDelta(1, []float32{1}); !errors.Is(err, tracker.ErrStrokeEnded) {
		t.Fatalf("expected ErrStrokeEnded, got %v", err)
	}
}

func TestStrokeIsOneUndoStep(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	for i := 0; i < 10; i++ {
		s.DrawTo(i, 70)
	}
	s.End()
	if undo, _ := track.HistoryLen(tracker.PitchParam); undo != 1 {
		t.Fatalf("expected 1 undo snapshot, got %d", undo)
	}
	track.Undo(tracker.PitchParam)
	for i, v := range track.Pitch() {
		if v != 60 {
			t.Fatalf("frame %d not undone: %v", i, v)
		}
	}
}

func TestUndoBounded(t *testing.T) {
	track := twoSegmentTrack(t)
	for i := 0; i < 20; i++ {
		s := beginStroke(t, track, tracker.PitchParam)
		s.DrawTo(0, float32(i))
		s.End()
	}
	if undo, _ := track.HistoryLen(tracker.PitchParam); undo != 16 {
		t.Fatalf("expected 16 undo snapshots, got %d", undo)
	}
	for track.Undo(tracker.PitchParam) {
	}
	// the oldest four snapshots were dropped
	if got := track.Pitch()[0]; got != 3 {
		t.Fatalf("expected the oldest kept value 3, got %v", got)
	}
}

func TestEditClearsRedo(t *testing.T) {
	track := twoSegmentTrack(t)
	s := beginStroke(t, track, tracker.PitchParam)
	s.DrawTo(0, 70)
	s.End()
	track.Undo(tracker.PitchParam)
	if _, redo := track.HistoryLen(tracker.PitchParam); redo != 1 {
		t.Fatalf("expected 1 redo snapshot, got %d", redo)
	}
	beginStroke(t, track, tracker.PitchParam).End()
	if _, redo := track.HistoryLen(tracker.PitchParam); redo != 0 {
		t.Fatalf("expected redo to be cleared, got %d", redo)
	}
	if track.Redo(tracker.PitchParam) {
		t.Fatalf("redo should have nothing to do")
	}
}

func TestUndoRedoPitchDirtiesAll(t *testing.T) {
	track := twoSegmentTrack(t)
	synth := newPitchSynth()
	s := beginStroke(t, track, tracker.PitchParam)
	s.DrawTo(0, 70)
	s.End()
	runPass(t, synth, track)
	if !track.Undo(tracker.PitchParam) {
		t.Fatalf("Undo returned false")
	}
	if len(track.DirtySegments()) != 2 {
		t.Fatalf("pitch undo should dirty every segment")
	}
	runPass(t, synth, track)
	if !track.Redo(tracker.PitchParam) || track.Pitch()[0] != 70 {
		t.Fatalf("Redo did not restore the edit")
	}
	if len(track.DirtySegments()) != 2 {
		t.Fatalf("pitch redo should dirty every segment")
	}
}

func TestUndoTensionKeepsSegmentsClean(t *testing.T) {
	track := twoSegmentTrack(t)
	runPass(t, newPitchSynth(), track)
	s := beginStroke(t, track, tracker.TensionParam)
	s.DrawTo(0, 40)
	s.End()
	_, before := track.Versions()
	track.Undo(tracker.TensionParam)
	if _, after := track.Versions(); after == before {
		t.Fatalf("tension undo should bump the tension version")
	}
	if len(track.DirtySegments()) != 0 {
		t.Fatalf("tension edits should not dirty segments")
	}
	if track.Tension()[0] != 0 {
		t.Fatalf("tension not undone")
	}
}

func TestShiftIsRelativeToPreviousShift(t *testing.T) {
	track := twoSegmentTrack(t)
	track.Shift(2)
	track.Shift(5)
	if got := track.Pitch()[0]; got != 65 {
		t.Fatalf("expected 65, got %v", got)
	}
	if got := track.ShiftAmount(); got != 5 {
		t.Fatalf("expected the shift amount 5, got %v", got)
	}
	track.Shift(0)
	if got := track.Pitch()[0]; got != 60 {
		t.Fatalf("expected 60, got %v", got)
	}
	if undo, _ := track.HistoryLen(tracker.PitchParam); undo != 3 {
		t.Fatalf("expected each shift to be undoable, got %d snapshots", undo)
	}
}

func TestPastePitch(t *testing.T) {
	src := twoSegmentTrack(t)
	src.Shift(-12)
	dst := newTestTrack(t, "dst", 30)
	if err := dst.PastePitch(src.CopyPitch()); err != nil {
		t.Fatalf("PastePitch failed: %v", err)
	}
	p := dst.Pitch()
	if len(p) != 30 || p[0] != 48 || p[19] != 48 || p[20] != 60 {
		t.Fatalf("paste should pad with the original pitch: %v", p)
	}
	dst.Undo(tracker.PitchParam)
	if dst.Pitch()[0] != 60 {
		t.Fatalf("paste not undoable")
	}
}

func TestParamString(t *testing.T) {
	if tracker.PitchParam.String() != "pitch" || tracker.TensionParam.String() != "tension" {
		t.Fatalf("unexpected names")
	}
}
