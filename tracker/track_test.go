package tracker_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/tracker"
)

func TestNewVocalTrackAllDirty(t *testing.T) {
	track := twoSegmentTrack(t)
	if got := track.DirtySegments(); len(got) != 2 {
		t.Fatalf("expected both segments dirty, got %v", got)
	}
	if got := len(track.SynthesizedAudio()); got != 20*testHop {
		t.Fatalf("expected buffer of %d samples, got %d", 20*testHop, got)
	}
}

func TestNewVocalTrackSanitizesSegments(t *testing.T) {
	track := newTestTrack(t, "vox", 20, shifter.Segment{Start: -3, End: 5}, shifter.Segment{Start: 8, End: 6})
	segs := track.Segments()
	if segs[0] != (shifter.Segment{Start: 0, End: 5}) || segs[1] != (shifter.Segment{Start: 8, End: 8}) {
		t.Fatalf("segments not sanitized: %v", segs)
	}
}

func TestNewVocalTrackRejectsOverlappingSegments(t *testing.T) {
	a := testAnalysis(20, shifter.Segment{Start: 0, End: 12}, shifter.Segment{Start: 10, End: 20})
	if _, err := tracker.NewVocalTrack("vox", "", a, testHop); err == nil {
		t.Fatalf("expected an error for overlapping segments")
	}
}

func TestMarkDirtyOverlap(t *testing.T) {
	cases := []struct {
		minX, maxX int
		want       []int
	}{
		{5, 5, []int{0}},
		{9, 9, []int{0}},
		{10, 10, []int{1}},
		{9, 10, []int{0, 1}},
		{20, 30, nil},
		{-5, -1, nil},
	}
	for _, c := range cases {
		track := twoSegmentTrack(t)
		runPass(t, newPitchSynth(), track)
		track.MarkDirty(c.minX, c.maxX)
		got := track.DirtySegments()
		if len(got) != len(c.want) {
			t.Fatalf("MarkDirty(%d, %d): expected %v, got %v", c.minX, c.maxX, c.want, got)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("MarkDirty(%d, %d): expected %v, got %v", c.minX, c.maxX, c.want, got)
			}
		}
	}
}

func TestEditOnlyResynthesizesTouchedSegment(t *testing.T) {
	track := twoSegmentTrack(t)
	synth := newPitchSynth()
	if n := runPass(t, synth, track); n != 2 {
		t.Fatalf("expected 2 segments synthesized, got %d", n)
	}
	seg1 := track.SegmentAudio(1)
	before := track.SynthesizedAudio().Copy()

	stroke, err := track.BeginStroke(tracker.PitchParam)
	if err != nil {
		t.Fatalf("BeginStroke failed: %v", err)
	}
	if err := stroke.DrawTo(5, 70); err != nil {
		t.Fatalf("DrawTo failed: %v", err)
	}
	stroke.End()
	if got := track.DirtySegments(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected only segment 0 dirty, got %v", got)
	}
	if n := runPass(t, synth, track); n != 1 {
		t.Fatalf("expected 1 segment synthesized, got %d", n)
	}
	if !sameBuffer(track.SegmentAudio(1), seg1) {
		t.Fatalf("segment 1 audio was replaced")
	}
	after := track.SynthesizedAudio()
	if !approxEqual(after[10*testHop:], before[10*testHop:], 0) {
		t.Fatalf("segment 1 region of the full buffer changed")
	}
	for i := 5 * testHop; i < 6*testHop; i++ {
		if math.Abs(float64(after[i]-0.7)) > 1e-6 {
			t.Fatalf("sample %d: expected 0.7, got %v", i, after[i])
		}
	}
	if after[4*testHop] != before[4*testHop] {
		t.Fatalf("untouched frame changed")
	}
}

func TestPassIsIdempotent(t *testing.T) {
	track := twoSegmentTrack(t)
	synth := newPitchSynth()
	runPass(t, synth, track)
	first := track.SynthesizedAudio()
	_, v1 := track.Versions()
	if n := runPass(t, synth, track); n != 0 {
		t.Fatalf("expected a clean pass to do nothing, got %d", n)
	}
	if !sameBuffer(track.SynthesizedAudio(), first) {
		t.Fatalf("clean pass replaced the buffer")
	}
	if _, v2 := track.Versions(); v1 != v2 {
		t.Fatalf("clean pass changed the tension version")
	}
	if synth.calls.Load() != 2 {
		t.Fatalf("expected 2 vocoder calls, got %d", synth.calls.Load())
	}
}

func TestStitchingInvariant(t *testing.T) {
	track := newTestTrack(t, "vox", 30, shifter.Segment{Start: 2, End: 9}, shifter.Segment{Start: 12, End: 25})
	runPass(t, newPitchSynth(), track)
	full := track.SynthesizedAudio()
	for i, seg := range track.Segments() {
		audio := track.SegmentAudio(i)
		start := seg.Start * testHop
		if !approxEqual(full[start:start+len(audio)], audio, 0) {
			t.Fatalf("segment %d not stitched at %d", i, start)
		}
	}
	// gaps keep the silence the buffer started with
	if full[0] != 0 || full[10*testHop] != 0 {
		t.Fatalf("gap between segments is not silent")
	}
}

func TestEditDuringSynthesisKeepsSegmentDirty(t *testing.T) {
	track := twoSegmentTrack(t)
	synth := newBlockSynth()
	synth.hook = func() { track.MarkDirty(0, 0) }
	close(synth.release)
	runPass(t, synth, track)
	if !track.Dirty(0) {
		t.Fatalf("segment edited during synthesis should stay dirty")
	}
	if track.Dirty(1) {
		t.Fatalf("segment 1 should be clean")
	}
	if track.SegmentAudio(0) == nil {
		t.Fatalf("audio of the raced segment should still be stored")
	}
}

func TestSynthesisErrorKeepsSegmentDirty(t *testing.T) {
	track := twoSegmentTrack(t)
	synth := newPitchSynth()
	synth.failAt = 10
	n, err := tracker.NewScheduler(synth, testOptions(t)...).RunDirtyPass(context.Background(), []*tracker.Track{track}, nil)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 segment done before the failure, got %d", n)
	}
	if track.Dirty(0) || !track.Dirty(1) {
		t.Fatalf("expected only segment 1 dirty, got %v", track.DirtySegments())
	}
	if got := track.SynthesizedAudio()[0]; math.Abs(float64(got-0.6)) > 1e-6 {
		t.Fatalf("buffer not rebuilt from the successful segment, got %v", got)
	}
}

func TestSetPitchRepairsLength(t *testing.T) {
	track := twoSegmentTrack(t)
	if err := track.SetPitch([]float32{50, 51}); err != nil {
		t.Fatalf("SetPitch failed: %v", err)
	}
	p := track.Pitch()
	if len(p) != 20 || p[0] != 50 || p[1] != 51 || p[2] != 60 {
		t.Fatalf("pitch not padded with the original: %v", p)
	}
	long := make([]float32, 30)
	track.SetPitch(long)
	if len(track.Pitch()) != 20 {
		t.Fatalf("long pitch not truncated")
	}
}

func TestSetTensionClips(t *testing.T) {
	track := twoSegmentTrack(t)
	track.SetTension([]float32{150, -150, float32(math.NaN()), 20})
	got := track.Tension()
	want := []float32{100, -100, 0, 20}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("tension[%d]: expected %v, got %v", i, w, got[i])
		}
	}
	if len(got) != 20 {
		t.Fatalf("tension not padded to 20 frames")
	}
}

func TestBackgroundTrackHasNoCurves(t *testing.T) {
	audio := shifter.AudioBuffer{0.1, 0.2, 0.3}
	track := tracker.NewBackgroundTrack("bgm", "bgm.wav", audio, 100, testHop)
	if err := track.SetPitch([]float32{1}); !errors.Is(err, tracker.ErrNotVocal) {
		t.Fatalf("expected ErrNotVocal, got %v", err)
	}
	if _, err := track.BeginStroke(tracker.TensionParam); !errors.Is(err, tracker.ErrNotVocal) {
		t.Fatalf("expected ErrNotVocal, got %v", err)
	}
	if !sameBuffer(track.PlaybackBuffer(context.Background(), &gainEffect{}), audio) {
		t.Fatalf("background track should play its source audio")
	}
}

func TestPlaybackBufferNeutralTension(t *testing.T) {
	track := twoSegmentTrack(t)
	runPass(t, newPitchSynth(), track)
	fx := &gainEffect{}
	if !sameBuffer(track.PlaybackBuffer(context.Background(), fx), track.SynthesizedAudio()) {
		t.Fatalf("neutral tension should return the synthesized buffer")
	}
	if fx.calls.Load() != 0 {
		t.Fatalf("effect should not run for neutral tension")
	}
}

func TestPlaybackBufferCache(t *testing.T) {
	ctx := context.Background()
	track := twoSegmentTrack(t)
	synth := newPitchSynth()
	runPass(t, synth, track)
	fx := &gainEffect{}
	curve := make([]float32, 20)
	curve[3] = 50
	track.SetTension(curve)

	first := track.PlaybackBuffer(ctx, fx)
	if fx.calls.Load() != 1 || first[0] != 2*track.SynthesizedAudio()[0] {
		t.Fatalf("effect not applied")
	}
	if !sameBuffer(track.PlaybackBuffer(ctx, fx), first) || fx.calls.Load() != 1 {
		t.Fatalf("expected a cache hit")
	}
	curve[4] = 10
	track.SetTension(curve)
	track.PlaybackBuffer(ctx, fx)
	if fx.calls.Load() != 2 {
		t.Fatalf("tension edit should invalidate the cache")
	}
	track.MarkDirty(0, 0)
	runPass(t, synth, track)
	track.PlaybackBuffer(ctx, fx)
	if fx.calls.Load() != 3 {
		t.Fatalf("new synthesized audio should invalidate the cache")
	}
}

func TestPlaybackBufferFailOpen(t *testing.T) {
	track := twoSegmentTrack(t)
	runPass(t, newPitchSynth(), track)
	track.SetTension([]float32{10})
	fx := &gainEffect{fail: true}
	if !sameBuffer(track.PlaybackBuffer(context.Background(), fx), track.SynthesizedAudio()) {
		t.Fatalf("failing effect should fall back to the synthesized buffer")
	}
	track.PlaybackBuffer(context.Background(), fx)
	if fx.calls.Load() != 2 {
		t.Fatalf("failures should not be cached")
	}
}

func TestStateRoundTrip(t *testing.T) {
	src := twoSegmentTrack(t)
	src.SetStartFrame(7)
	src.SetVolume(0.5)
	src.SetSolo(true)
	src.Shift(2)
	src.SetTension([]float32{0, 30})
	dst := twoSegmentTrack(t)
	runPass(t, newPitchSynth(), dst)
	dst.SetState(src.State())
	if dst.StartFrame() != 7 || dst.Volume() != 0.5 || !dst.Solo() || dst.ShiftAmount() != 2 {
		t.Fatalf("mix settings not restored: %+v", dst.State())
	}
	if dst.Pitch()[0] != 62 || dst.Tension()[1] != 30 {
		t.Fatalf("curves not restored")
	}
	if len(dst.DirtySegments()) != 2 {
		t.Fatalf("restored pitch should dirty every segment")
	}
}

func TestSettersClamp(t *testing.T) {
	track := twoSegmentTrack(t)
	track.SetStartFrame(-4)
	if track.StartFrame() != 0 {
		t.Fatalf("negative start frame not clamped")
	}
	track.SetVolume(-1)
	if track.Volume() != 0 {
		t.Fatalf("negative volume not clamped")
	}
	track.SetVolume(float32(math.NaN()))
	if track.Volume() != 0 {
		t.Fatalf("NaN volume not clamped")
	}
}
