package tracker

import (
	"context"
	"fmt"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/shifter"
	"golang.org/x/sync/errgroup"
)

type (
	// Session is a frozen snapshot of everything the player needs: the
	// playback buffer and mix settings of every track. A session is never
	// mutated after it is created; changes are made by preparing a new
	// session and swapping it into the player.
	Session struct {
		SampleRate   int
		HopSize      int
		TotalSamples int
		Tracks       []SessionTrack

		anySolo bool
	}

	// SessionTrack is the snapshot of one track in a session.
	SessionTrack struct {
		Name        string
		Buffer      shifter.AudioBuffer
		StartSample int
		Volume      float32
		Muted       bool
		Solo        bool
	}
)

// NewSession creates a session of the given tracks. The total length
// counts only the audible tracks, so playback ends with the last one heard.
func NewSession(sampleRate, hopSize int, tracks []SessionTrack) *Session {
	s := &Session{SampleRate: sampleRate, HopSize: hopSize, Tracks: tracks}
	for _, t := range tracks {
		s.anySolo = s.anySolo || t.Solo
	}
	for i, t := range tracks {
		if s.Audible(i) {
			s.TotalSamples = max(s.TotalSamples, t.StartSample+len(t.Buffer))
		}
	}
	return s
}

// Prepare computes the playback buffers of the tracks concurrently and
// freezes them, with the current mix settings, into a new session. Tension
// effects are applied here, so this should not be called from the audio
// thread.
func Prepare(ctx context.Context, tracks []*Track, cfg shifter.VocoderConfig, fx TensionEffect) (*Session, error) {
	if cfg.HopSize <= 0 {
		return nil, fmt.Errorf("Prepare: hop size must be > 0, got %d", cfg.HopSize)
	}
	snapshot := make([]SessionTrack, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tracks {
		g.Go(func() error {
			buf := t.PlaybackBuffer(gctx, fx)
			t.mu.Lock()
			snapshot[i] = SessionTrack{
				Name:        t.name,
				Buffer:      buf,
				StartSample: t.startFrame * cfg.HopSize,
				Volume:      t.volume,
				Muted:       t.muted,
				Solo:        t.solo,
			}
			t.mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Prepare: %w", err)
	}
	return NewSession(cfg.SampleRate, cfg.HopSize, snapshot), nil
}

// Audible reports whether track i is heard: not muted, soloed if any track
// is soloed, and with a non-zero volume. Mute wins over solo.
func (s *Session) Audible(i int) bool {
	t := &s.Tracks[i]
	if t.Muted || t.Volume == 0 {
		return false
	}
	return !s.anySolo || t.Solo
}

// Mix renders the whole session into a new buffer, without clipping.
func (s *Session) Mix() shifter.AudioBuffer {
	out := make(shifter.AudioBuffer, s.TotalSamples)
	var scratch [mixChunk]float32
	s.mixInto(out, 0, scratch[:])
	return out
}

// mixInto adds volume times every audible track overlapping
// [cursor, cursor+len(out)) to out. scratch must be non-empty; it is used in
// chunks so the buffers can be of any length. Does not allocate.
func (s *Session) mixInto(out shifter.AudioBuffer, cursor int, scratch []float32) {
	end := cursor + len(out)
	for i := range s.Tracks {
		if !s.Audible(i) {
			continue
		}
		t := &s.Tracks[i]
		a := max(cursor, t.StartSample)
		b := min(end, t.StartSample+len(t.Buffer))
		if a >= b {
			continue
		}
		src := t.Buffer[a-t.StartSample : b-t.StartSample]
		dst := out[a-cursor : b-cursor]
		if t.Volume == 1 {
			vek32.Add_Inplace(dst, src)
			continue
		}
		for len(src) > 0 {
			n := min(len(src), len(scratch))
			vek32.Add_Inplace(dst[:n], vek32.MulNumber_Into(scratch[:n], src[:n], t.Volume))
			src, dst = src[n:], dst[n:]
		}
	}
}
