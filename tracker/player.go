package tracker

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/shifter"
	"github.com/vsariola/shifter/internal/observe"
)

type (
	// Player is the playback mixer. Render is called from the audio thread;
	// everything else from other threads. The audio thread shares only the
	// cursor, guarded by a mutex that is held for a few instructions, and
	// the session, which is swapped atomically and never mutated.
	Player struct {
		session atomic.Pointer[Session]
		playing atomic.Bool
		peak    atomic.Uint32 // float32 bits of the peak of the last block

		mu        sync.Mutex
		cursor    int    // in samples
		playStart int    // where the last Start or seek put the cursor
		seekGen   uint64 // bumped by every jump of the cursor

		scratch [mixChunk]float32
		broker  *Broker
		metrics *observe.Metrics
	}
)

const mixChunk = 4096

// NewPlayer returns a stopped player without a session. The player posts
// PlaybackFinished to the broker when the end of the session is reached;
// broker can be nil if nobody listens.
func NewPlayer(broker *Broker, opts ...Option) *Player {
	o := newOptions(opts)
	return &Player{broker: broker, metrics: o.metrics}
}

// Render fills buf with the mix at the cursor and advances the cursor.
// Returns the number of frames written; fewer than len(buf) means that the
// session ended (or the player is stopped) and the stream should end. The
// rest of buf is zeroed. Render never blocks on anything but the cursor
// mutex and does not allocate.
func (p *Player) Render(buf shifter.AudioBuffer) int {
	vek32.Zeros_Into(buf, len(buf))
	s := p.session.Load()
	if s == nil || !p.playing.Load() {
		p.peak.Store(0)
		return 0
	}
	p.mu.Lock()
	cursor, gen := p.cursor, p.seekGen
	p.mu.Unlock()

	n := min(len(buf), max(s.TotalSamples-cursor, 0))
	out := buf[:n]
	s.mixInto(out, cursor, p.scratch[:])
	var peak float32
	if n > 0 {
		vek32.MinimumNumber_Inplace(out, 1)
		vek32.MaximumNumber_Inplace(out, -1)
		peak = max(vek32.Max(out), -vek32.Min(out))
	}
	p.peak.Store(math.Float32bits(peak))

	p.mu.Lock()
	if p.seekGen == gen {
		p.cursor = cursor + n
	}
	p.mu.Unlock()

	if n < len(buf) && p.playing.CompareAndSwap(true, false) && p.broker != nil {
		TrySend(p.broker.ToModel, MsgToModel{Data: PlaybackFinished{Position: cursor + n}})
	}
	return n
}

// Start starts playback at the given sample.
func (p *Player) Start(at int) {
	p.mu.Lock()
	p.cursor = max(at, 0)
	p.playStart = p.cursor
	p.seekGen++
	p.mu.Unlock()
	p.playing.Store(true)
}

// Stop stops playback. With reset the cursor goes to the beginning,
// otherwise back to where playback was started from. The audio thread sees
// the change on its next callback.
func (p *Player) Stop(reset bool) {
	p.playing.Store(false)
	p.mu.Lock()
	defer p.mu.Unlock()
	if reset {
		p.cursor = 0
		p.playStart = 0
	} else {
		p.cursor = p.playStart
	}
	p.seekGen++
}

// Pause stops playback keeping the cursor where it is.
func (p *Player) Pause() {
	p.playing.Store(false)
}

// SetPosition moves the cursor to sample. It can be called at any time; a
// playing player cuts to the new position.
func (p *Player) SetPosition(sample int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = max(sample, 0)
	p.playStart = p.cursor
	p.seekGen++
}

// Position returns the cursor in samples.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Player) Playing() bool { return p.playing.Load() }

// Peak returns the absolute peak of the last rendered block.
func (p *Player) Peak() float32 { return math.Float32frombits(p.peak.Load()) }

// Session returns the current session, nil if none.
func (p *Player) Session() *Session { return p.session.Load() }

// SetSession swaps in a new session. The old session stays valid for a
// render that is in progress. s can be nil to detach the session.
func (p *Player) SetSession(s *Session) {
	old := p.session.Swap(s)
	var delta int64
	if s != nil {
		delta++
	}
	if old != nil {
		delta--
	}
	if delta != 0 {
		p.metrics.PlaybackSessions.Add(context.Background(), delta)
	}
}
