package tracker_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/internal/observe"
	"github.com/vsariola/shifter/tracker"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"
)

const testHop = 4

var errBoom = errors.New("boom")

// pitchSynth renders each frame as hopSize samples of pitch/100, so the
// rendered audio shows which pitch was used.
type pitchSynth struct {
	calls  atomic.Int32
	failAt int // segment start that fails, -1 for none
}

func newPitchSynth() *pitchSynth { return &pitchSynth{failAt: -1} }

func (s *pitchSynth) Synthesize(ctx context.Context, mel shifter.Mel, seg shifter.Segment, pitch []float32) (shifter.AudioBuffer, error) {
	s.calls.Add(1)
	if seg.Start == s.failAt {
		return nil, errBoom
	}
	out := make(shifter.AudioBuffer, seg.Len()*testHop)
	for i := range out {
		v := pitch[i/testHop]
		if math.IsNaN(float64(v)) {
			v = 0
		}
		out[i] = v / 100
	}
	return out, nil
}

// blockSynth blocks every call until release is closed.
type blockSynth struct {
	started chan struct{}
	release chan struct{}
	hook    func()
	once    sync.Once
}

func newBlockSynth() *blockSynth {
	return &blockSynth{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *blockSynth) Synthesize(ctx context.Context, mel shifter.Mel, seg shifter.Segment, pitch []float32) (shifter.AudioBuffer, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	if s.hook != nil {
		s.once.Do(s.hook)
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return make(shifter.AudioBuffer, seg.Len()*testHop), nil
}

// gainEffect doubles the audio and counts its calls.
type gainEffect struct {
	calls atomic.Int32
	fail  bool
}

func (e *gainEffect) Apply(ctx context.Context, audio shifter.AudioBuffer, sampleRate int, pitch, tension []float32, curveHop int) (shifter.AudioBuffer, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errBoom
	}
	out := make(shifter.AudioBuffer, len(audio))
	for i, v := range audio {
		out[i] = 2 * v
	}
	return out, nil
}

func testAnalysis(numFrames int, segments ...shifter.Segment) *shifter.Analysis {
	a := &shifter.Analysis{
		Audio:      make(shifter.AudioBuffer, numFrames*testHop),
		SampleRate: 100,
		Mel:        make(shifter.Mel, numFrames),
		PitchMIDI:  make([]float32, numFrames),
		Segments:   segments,
	}
	for i := range a.Mel {
		a.Mel[i] = []float32{float32(i)}
		a.PitchMIDI[i] = 60
	}
	return a
}

func testOptions(t testing.TB) []tracker.Option {
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return []tracker.Option{tracker.WithLogger(zaptest.NewLogger(t)), tracker.WithMetrics(metrics)}
}

func newTestTrack(t testing.TB, name string, numFrames int, segments ...shifter.Segment) *tracker.Track {
	track, err := tracker.NewVocalTrack(name, name+".wav", testAnalysis(numFrames, segments...), testHop, testOptions(t)...)
	if err != nil {
		t.Fatalf("NewVocalTrack failed: %v", err)
	}
	return track
}

func twoSegmentTrack(t testing.TB) *tracker.Track {
	return newTestTrack(t, "vox", 20, shifter.Segment{Start: 0, End: 10}, shifter.Segment{Start: 10, End: 20})
}

func runPass(t testing.TB, s tracker.Synthesizer, tracks ...*tracker.Track) int {
	n, err := tracker.NewScheduler(s, testOptions(t)...).RunDirtyPass(context.Background(), tracks, nil)
	if err != nil {
		t.Fatalf("RunDirtyPass failed: %v", err)
	}
	return n
}

func sameBuffer(a, b shifter.AudioBuffer) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

func approxEqual(a, b shifter.AudioBuffer, eps float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if d := a[i] - b[i]; d > eps || d < -eps {
			return false
		}
	}
	return true
}
