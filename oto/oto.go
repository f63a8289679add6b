package oto

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/shifter"
)

type (
	// OtoContext is the output device: a mono float32 oto context.
	OtoContext struct {
		ctx *oto.Context
	}

	// OtoOutput is one stream pulling from an AudioSource.
	OtoOutput struct {
		player *oto.Player
	}

	// sourceReader adapts an AudioSource to the io.Reader oto pulls from. It
	// is read from the oto mixer goroutine only.
	sourceReader struct {
		source shifter.AudioSource
		floats shifter.AudioBuffer
		done   bool
	}
)

const bytesPerSample = 4

const waitPollInterval = 10 * time.Millisecond

// NewContext opens the default output device with the given sample rate and
// buffer length and waits until it is ready. A zero buffer uses the driver
// default.
func NewContext(sampleRate int, buffer time.Duration) (*OtoContext, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{ctx: ctx}, nil
}

// Play starts a stream pulling from source. The stream ends when the source
// returns fewer frames than requested.
func (c *OtoContext) Play(source shifter.AudioSource) (shifter.CloserWaiter, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, fmt.Errorf("oto context failed: %w", err)
	}
	r := &sourceReader{source: source}
	player := c.ctx.NewPlayer(r)
	player.Play()
	return &OtoOutput{player: player}, nil
}

// Close suspends the device. oto contexts cannot be reopened, so this is
// final for the process.
func (c *OtoContext) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

// Wait blocks until the stream has played to the end or has been closed.
func (o *OtoOutput) Wait() {
	for o.player.IsPlaying() {
		time.Sleep(waitPollInterval)
	}
}

// Close stops the stream and disposes of the player.
func (o *OtoOutput) Close() error {
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

func (r *sourceReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	n := len(p) / bytesPerSample
	if n == 0 {
		return 0, nil
	}
	if cap(r.floats) < n {
		r.floats = make(shifter.AudioBuffer, n)
	}
	floats := r.floats[:n]
	written := r.source(floats)
	if written < n {
		r.done = true
	}
	// p has room for n samples, so appending to p[:0] converts in place
	FloatBufferToLE(p[:0], floats[:written])
	if written == 0 {
		return 0, io.EOF
	}
	return written * bytesPerSample, nil
}
