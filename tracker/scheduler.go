package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsariola/shifter/internal/observe"
	"go.uber.org/zap"
)

type (
	// Scheduler runs dirty passes: it re-synthesizes the dirty segments of
	// all vocal tracks and rebuilds their full buffers.
	Scheduler struct {
		synth   Synthesizer
		logger  *zap.Logger
		metrics *observe.Metrics

		running atomic.Bool

		mu         sync.Mutex
		current    *Task
		next       *Task
		nextTracks func() []*Track
		nextCtx    context.Context
	}
)

var (
	// ErrPassInProgress is returned by RunDirtyPass when another pass is
	// running.
	ErrPassInProgress = errors.New("synthesis pass already in progress")
)

// NewScheduler returns a Scheduler synthesizing with s.
func NewScheduler(s Synthesizer, opts ...Option) *Scheduler {
	o := newOptions(opts)
	return &Scheduler{synth: s, logger: o.logger, metrics: o.metrics}
}

// RunDirtyPass synthesizes every dirty segment of the vocal tracks, track by
// track and segment by segment in timeline order, rebuilding each track's
// buffer after its segments. progress, if not nil, is called after every
// segment. Returns the number of segments synthesized.
//
// On error, the failing track's buffer is still rebuilt from the segments
// that succeeded, and the pass stops. Cancelling ctx stops the pass between
// segments.
func (s *Scheduler) RunDirtyPass(ctx context.Context, tracks []*Track, progress func(Progress)) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrPassInProgress
	}
	defer s.running.Store(false)

	total := 0
	for _, t := range tracks {
		if t.Kind() == Vocal {
			total += len(t.DirtySegments())
		}
	}
	if total == 0 {
		return 0, nil
	}
	passStart := time.Now()
	s.logger.Info("synthesis pass started", zap.Int("dirtySegments", total), zap.Int("tracks", len(tracks)))

	done := 0
	for _, t := range tracks {
		if t.Kind() != Vocal {
			continue
		}
		dirty := t.DirtySegments()
		if len(dirty) == 0 {
			continue
		}
		for _, i := range dirty {
			if err := ctx.Err(); err != nil {
				t.RebuildFullBuffer()
				s.logger.Info("synthesis pass cancelled", zap.Int("done", done), zap.Int("total", total))
				return done, fmt.Errorf("synthesis pass cancelled: %w", err)
			}
			start := time.Now()
			err := t.SynthesizeSegment(ctx, s.synth, i)
			s.metrics.RecordSegment(ctx, t.Name(), time.Since(start), err)
			if err != nil {
				t.RebuildFullBuffer()
				s.logger.Error("segment synthesis failed",
					zap.String("track", t.Name()),
					zap.Int("segment", i),
					zap.Error(err))
				return done, fmt.Errorf("track %q segment %d: %w", t.Name(), i, err)
			}
			done++
			total = max(total, done)
			if progress != nil {
				progress(Progress{Current: done, Total: total})
			}
		}
		t.RebuildFullBuffer()
	}
	elapsed := time.Since(passStart)
	s.metrics.PassDuration.Record(ctx, elapsed.Seconds())
	s.logger.Info("synthesis pass finished", zap.Int("segments", done), zap.Duration("elapsed", elapsed))
	return done, nil
}

// Request runs a dirty pass on a background goroutine. tracks is called at
// the start of the pass to get the tracks to synthesize. If a pass is
// already running, the request is coalesced into a single follow-up pass:
// every request made while busy gets the same Task, and the follow-up uses
// the tracks function and context of the latest request.
func (s *Scheduler) Request(ctx context.Context, tracks func() []*Track) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		s.current = newTask()
		go s.work(ctx, s.current, tracks)
		return s.current
	}
	if s.next == nil {
		s.next = newTask()
	}
	s.nextTracks, s.nextCtx = tracks, ctx
	return s.next
}

// Busy reports whether a requested pass is running or queued.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Scheduler) work(ctx context.Context, task *Task, tracks func() []*Track) {
	for {
		n, err := s.RunDirtyPass(ctx, tracks(), task.report)
		task.finish(n, err)
		s.mu.Lock()
		if s.next == nil {
			s.current = nil
			s.mu.Unlock()
			return
		}
		task, tracks, ctx = s.next, s.nextTracks, s.nextCtx
		s.current, s.next, s.nextTracks, s.nextCtx = s.next, nil, nil, nil
		s.mu.Unlock()
	}
}
