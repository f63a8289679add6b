package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/vsariola/shifter"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type (
	// Model is the controller of the editor core. The UI thread owns it:
	// it mutates tracks, starts background tasks and drains the broker with
	// ProcessMessages. Background tasks and the player only talk back
	// through the broker.
	Model struct {
		cfg       shifter.Config
		extractor shifter.FeatureExtractor
		fx        TensionEffect
		audio     shifter.AudioContext

		broker    *Broker
		scheduler *Scheduler
		player    *Player
		logger    *zap.Logger
		opts      []Option

		mu      sync.Mutex
		tracks  []*Track
		pending atomic.Int32 // running play tasks

		streamMu sync.Mutex
		stream   shifter.CloserWaiter
		stopGen  uint64 // bumped by Stop and Pause, guarded by streamMu

		alerts Alerts
	}

	// Status is a summary of the model for the UI.
	Status struct {
		Playing  bool
		Position int // in frames
		Busy     bool
		Tracks   int
		Alert    Alert
		HasAlert bool
	}
)

var (
	// ErrBusy is returned by structural changes while a background task is
	// running.
	ErrBusy = errors.New("a background task is running")
	// ErrNoTrack is returned for a track index out of range.
	ErrNoTrack = errors.New("no such track")
	// ErrPlaybackStopped is the result of a play task that was stopped
	// before the output started.
	ErrPlaybackStopped = errors.New("playback stopped before it started")
)

// NewModel creates a model. extractor is needed only for loading vocal
// tracks, s only for synthesizing them, audio only for playing; any of them
// can be nil otherwise.
func NewModel(cfg shifter.Config, extractor shifter.FeatureExtractor, s Synthesizer, fx TensionEffect, audio shifter.AudioContext, opts ...Option) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewModel: %w", err)
	}
	o := newOptions(opts)
	broker := NewBroker()
	return &Model{
		cfg:       cfg,
		extractor: extractor,
		fx:        fx,
		audio:     audio,
		broker:    broker,
		scheduler: NewScheduler(s, opts...),
		player:    NewPlayer(broker, opts...),
		logger:    o.logger,
		opts:      opts,
	}, nil
}

func (m *Model) Config() shifter.Config { return m.cfg }
func (m *Model) Broker() *Broker        { return m.broker }
func (m *Model) Player() *Player        { return m.player }

// Busy reports whether a synthesis pass or a play task is running.
func (m *Model) Busy() bool {
	return m.scheduler.Busy() || m.pending.Load() > 0
}

// Tracks returns a copy of the track list.
func (m *Model) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Track(nil), m.tracks...)
}

func (m *Model) Track(i int) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.tracks) {
		return nil, fmt.Errorf("%w: %d", ErrNoTrack, i)
	}
	return m.tracks[i], nil
}

// LoadTrack loads an audio file as a new track. Vocal tracks are analysed
// with the feature extractor; background tracks are read as WAV and
// resampled to the vocoder sample rate.
func (m *Model) LoadTrack(ctx context.Context, path string, kind TrackKind) (*Track, error) {
	if m.Busy() {
		return nil, ErrBusy
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	t, err := m.newTrack(ctx, name, path, kind)
	if err != nil {
		return nil, err
	}
	if err := m.AddTrack(t); err != nil {
		return nil, err
	}
	m.logger.Info("track loaded", zap.String("path", path), zap.String("kind", string(kind)), zap.Int("frames", t.NumFrames()))
	return t, nil
}

// AddTrack appends a track.
func (m *Model) AddTrack(t *Track) error {
	if m.Busy() {
		return ErrBusy
	}
	if t.HopSize() != m.cfg.Vocoder.HopSize {
		return fmt.Errorf("AddTrack: track hop size %d does not match vocoder hop size %d", t.HopSize(), m.cfg.Vocoder.HopSize)
	}
	m.mu.Lock()
	m.tracks = append(m.tracks, t)
	m.mu.Unlock()
	return m.refreshSession()
}

// RemoveTrack removes track i.
func (m *Model) RemoveTrack(i int) error {
	if m.Busy() {
		return ErrBusy
	}
	m.mu.Lock()
	if i < 0 || i >= len(m.tracks) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoTrack, i)
	}
	m.tracks = append(m.tracks[:i], m.tracks[i+1:]...)
	m.mu.Unlock()
	return m.refreshSession()
}

// ConvertTrack reloads track i as the given kind, keeping its name and mix
// settings. Converting to vocal runs the feature extractor on the file.
func (m *Model) ConvertTrack(ctx context.Context, i int, kind TrackKind) error {
	if m.Busy() {
		return ErrBusy
	}
	old, err := m.Track(i)
	if err != nil {
		return err
	}
	if old.Kind() == kind {
		return nil
	}
	var t *Track
	switch kind {
	case Background:
		t = NewBackgroundTrack(old.Name(), old.FilePath(), old.Audio(), old.SampleRate(), old.HopSize(), m.opts...)
	default:
		if t, err = m.newTrack(ctx, old.Name(), old.FilePath(), kind); err != nil {
			return err
		}
	}
	s := old.State()
	s.Pitch, s.Tension, s.Shift = nil, nil, 0
	t.SetState(s)
	m.mu.Lock()
	if i >= len(m.tracks) || m.tracks[i] != old {
		m.mu.Unlock()
		return fmt.Errorf("ConvertTrack: track %d changed during conversion", i)
	}
	m.tracks[i] = t
	m.mu.Unlock()
	return m.refreshSession()
}

func (m *Model) newTrack(ctx context.Context, name, path string, kind TrackKind) (*Track, error) {
	hop := m.cfg.Vocoder.HopSize
	switch kind {
	case Vocal:
		if m.extractor == nil {
			return nil, errors.New("no feature extractor, cannot load vocal tracks")
		}
		a, err := m.extractor.Extract(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("could not analyse %v: %w", path, err)
		}
		if a.SampleRate != m.cfg.Vocoder.SampleRate {
			return nil, fmt.Errorf("analysis of %v has sample rate %d, vocoder needs %d", path, a.SampleRate, m.cfg.Vocoder.SampleRate)
		}
		return NewVocalTrack(name, path, a, hop, m.opts...)
	case Background:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("could not open %v: %w", path, err)
		}
		defer f.Close()
		audio, sr, err := shifter.ReadWav(f)
		if err != nil {
			return nil, fmt.Errorf("could not read %v: %w", path, err)
		}
		audio = audio.Resample(sr, m.cfg.Vocoder.SampleRate)
		return NewBackgroundTrack(name, path, audio, m.cfg.Vocoder.SampleRate, hop, m.opts...), nil
	}
	return nil, fmt.Errorf("unknown track kind %q", kind)
}

// Synthesize starts a synthesis pass over the dirty segments of all tracks.
// The result is also posted to the broker.
func (m *Model) Synthesize(ctx context.Context) *Task {
	task := m.scheduler.Request(ctx, m.Tracks)
	go m.forward("synthesize", task)
	return task
}

// Play synthesizes the dirty segments, prepares a session and starts
// playback from fromFrame on the output device. If fromFrame is at or past
// the end, playback starts from the beginning.
//
// Stop or Pause called before the output starts cancels the play; the task
// then ends with ErrPlaybackStopped.
func (m *Model) Play(ctx context.Context, fromFrame int) *Task {
	task := newTask()
	m.streamMu.Lock()
	gen := m.stopGen
	m.streamMu.Unlock()
	m.pending.Add(1)
	go func() {
		defer m.pending.Add(-1)
		n, err := m.play(ctx, fromFrame, gen, task)
		task.finish(n, err)
		m.post("play", n, err)
	}()
	return task
}

func (m *Model) play(ctx context.Context, fromFrame int, gen uint64, task *Task) (int, error) {
	pass := m.scheduler.Request(ctx, m.Tracks)
	for p := range pass.Progress() {
		task.report(p)
	}
	n, err := pass.Wait(ctx)
	if err != nil {
		return n, err
	}
	session, err := Prepare(ctx, m.Tracks(), m.cfg.Vocoder, m.fx)
	if err != nil {
		return n, err
	}
	start := max(fromFrame, 0) * session.HopSize
	if start >= session.TotalSamples {
		start = 0
	}
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	if m.stopGen != gen {
		return n, ErrPlaybackStopped
	}
	return n, m.startLocked(session, start)
}

// PlayOriginal plays the unprocessed source audio of track i from its
// beginning, replacing whatever was playing.
func (m *Model) PlayOriginal(i int) error {
	t, err := m.Track(i)
	if err != nil {
		return err
	}
	session := NewSession(m.cfg.Vocoder.SampleRate, m.cfg.Vocoder.HopSize, []SessionTrack{
		{Name: t.Name(), Buffer: t.Audio(), Volume: 1},
	})
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.stopGen++
	m.player.Stop(true)
	return m.startLocked(session, 0)
}

// startLocked swaps in the session and starts the output at sample start.
// On device failure the player is stopped and an alert is posted. streamMu
// must be held.
func (m *Model) startLocked(session *Session, start int) error {
	m.player.SetSession(session)
	m.player.Start(start)
	if err := m.openStreamLocked(); err != nil {
		m.player.Stop(false)
		TrySend(m.broker.ToModel, MsgToModel{Data: Alert{
			Name:     "device",
			Priority: Error,
			Message:  err.Error(),
			Duration: defaultAlertDuration,
		}})
		return err
	}
	return nil
}

func (m *Model) openStreamLocked() error {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
	if m.audio == nil {
		return errors.New("no audio output device")
	}
	stream, err := m.audio.Play(m.player.Render)
	if err != nil {
		return fmt.Errorf("could not start audio output: %w", err)
	}
	m.stream = stream
	return nil
}

func (m *Model) closeStream() {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.closeStreamLocked()
}

func (m *Model) closeStreamLocked() {
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
	}
}

// Wait blocks until the output stream has drained. Returns immediately if
// nothing is playing.
func (m *Model) Wait() {
	m.streamMu.Lock()
	stream := m.stream
	m.streamMu.Unlock()
	if stream != nil {
		stream.Wait()
	}
}

// Stop stops playback, also a Play still synthesizing; see Player.Stop
// for reset.
func (m *Model) Stop(reset bool) {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.stopGen++
	m.player.Stop(reset)
	m.closeStreamLocked()
}

// Pause stops playback keeping the cursor where it is, so the next Play
// from Position continues from there.
func (m *Model) Pause() {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	m.stopGen++
	m.player.Pause()
	m.closeStreamLocked()
}

// Seek moves the cursor to frame, also during playback.
func (m *Model) Seek(frame int) {
	m.player.SetPosition(frame * m.cfg.Vocoder.HopSize)
}

// Position returns the cursor in frames.
func (m *Model) Position() int {
	return m.player.Position() / m.cfg.Vocoder.HopSize
}

func (m *Model) Playing() bool { return m.player.Playing() }

func (m *Model) SetMuted(i int, v bool) error {
	return m.setTrack(i, func(t *Track) { t.SetMuted(v) })
}

func (m *Model) SetSolo(i int, v bool) error {
	return m.setTrack(i, func(t *Track) { t.SetSolo(v) })
}

func (m *Model) SetVolume(i int, v float32) error {
	return m.setTrack(i, func(t *Track) { t.SetVolume(v) })
}

func (m *Model) SetStartFrame(i int, frame int) error {
	return m.setTrack(i, func(t *Track) { t.SetStartFrame(frame) })
}

func (m *Model) setTrack(i int, f func(t *Track)) error {
	t, err := m.Track(i)
	if err != nil {
		return err
	}
	f(t)
	return m.refreshSession()
}

// refreshSession swaps a freshly prepared session into the player if it is
// playing, so mix changes are heard right away.
func (m *Model) refreshSession() error {
	if !m.player.Playing() {
		return nil
	}
	s, err := Prepare(context.Background(), m.Tracks(), m.cfg.Vocoder, m.fx)
	if err != nil {
		return err
	}
	m.player.SetSession(s)
	return nil
}

// ExportMix synthesizes the dirty segments and writes the mix of all tracks
// as a 16-bit WAV file.
func (m *Model) ExportMix(ctx context.Context, w io.WriteSeeker) error {
	if _, err := m.scheduler.Request(ctx, m.Tracks).Wait(ctx); err != nil {
		return fmt.Errorf("ExportMix: %w", err)
	}
	s, err := Prepare(ctx, m.Tracks(), m.cfg.Vocoder, m.fx)
	if err != nil {
		return fmt.Errorf("ExportMix: %w", err)
	}
	mix := s.Mix()
	l := MeasureLoudness(mix, s.SampleRate)
	m.logger.Info("mix exported",
		zap.Int("samples", len(mix)),
		zap.Float32("integratedLUFS", float32(l.Integrated)),
		zap.Float32("truePeakDBTP", float32(l.TruePeak)))
	if l.TruePeak > 0 {
		m.logger.Warn("mix clips, lower the track volumes", zap.Float32("truePeakDBTP", float32(l.TruePeak)))
	}
	return shifter.WriteWav(w, mix, s.SampleRate)
}

// ExportTracks synthesizes the dirty segments and writes each unmuted vocal
// track to its own WAV file in dir, delayed by its start offset. Returns the
// number of files written.
func (m *Model) ExportTracks(ctx context.Context, dir string) (int, error) {
	if _, err := m.scheduler.Request(ctx, m.Tracks).Wait(ctx); err != nil {
		return 0, fmt.Errorf("ExportTracks: %w", err)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return 0, fmt.Errorf("could not create output directory %v: %w", dir, err)
	}
	hop := m.cfg.Vocoder.HopSize
	count := 0
	for i, t := range m.Tracks() {
		if t.Kind() != Vocal || t.Muted() {
			continue
		}
		buf := t.PlaybackBuffer(ctx, m.fx)
		out := make(shifter.AudioBuffer, t.StartFrame()*hop+len(buf))
		copy(out[t.StartFrame()*hop:], buf)
		path := filepath.Join(dir, fileName(t.Name(), i)+".wav")
		if err := writeWavFile(path, out, m.cfg.Vocoder.SampleRate); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func writeWavFile(path string, buf shifter.AudioBuffer, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %v: %w", path, err)
	}
	if err := shifter.WriteWav(f, buf, sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("could not write %v: %w", path, err)
	}
	return f.Close()
}

// fileName folds accented letters to their base letters and keeps only
// letters, digits, spaces, dashes and underscores.
func fileName(name string, index int) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn))), name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		if r == ' ' || r == '-' || r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	ret := strings.TrimSpace(b.String())
	if ret == "" {
		return fmt.Sprintf("track_%d", index+1)
	}
	return ret
}

func (m *Model) forward(name string, task *Task) {
	n, err := task.Wait(context.Background())
	m.post(name, n, err)
}

func (m *Model) post(name string, n int, err error) {
	TrySend(m.broker.ToModel, MsgToModel{Data: TaskResult{Name: name, Count: n, Err: err}})
}

// ProcessMessages handles all pending broker messages and returns the
// number handled. Call it regularly from the UI thread.
func (m *Model) ProcessMessages() int {
	count := 0
	for {
		select {
		case msg := <-m.broker.ToModel:
			m.processMessage(msg)
			count++
		default:
			return count
		}
	}
}

func (m *Model) processMessage(msg MsgToModel) {
	switch e := msg.Data.(type) {
	case PlaybackFinished:
		if !m.player.Playing() {
			m.closeStream()
		}
	case TaskResult:
		if e.Err != nil && !errors.Is(e.Err, ErrPassInProgress) && !errors.Is(e.Err, ErrPlaybackStopped) {
			m.logger.Error("task failed", zap.String("task", e.Name), zap.Error(e.Err))
			m.alerts.AddNamed(e.Name, fmt.Sprintf("%s failed: %v", e.Name, e.Err), Error)
		} else if e.Name == "synthesize" && e.Count > 0 {
			m.alerts.AddNamed(e.Name, fmt.Sprintf("Synthesized %d segments", e.Count), Info)
		}
	case Alert:
		m.alerts.AddAlert(e)
	}
}

// Alerts returns the alerts of the model. Only the UI thread may use them.
func (m *Model) Alerts() *Alerts { return &m.alerts }

func (m *Model) Status() Status {
	a, ok := m.alerts.Top()
	return Status{
		Playing:  m.Playing(),
		Position: m.Position(),
		Busy:     m.Busy(),
		Tracks:   len(m.Tracks()),
		Alert:    a,
		HasAlert: ok,
	}
}

// Close stops playback and detaches the session. The audio context is not
// closed; it belongs to the caller.
func (m *Model) Close() {
	m.Stop(true)
	m.player.SetSession(nil)
}
