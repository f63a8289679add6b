package shifter

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWav is returned when the data does not look like a WAV file.
var ErrInvalidWav = errors.New("invalid WAV file")

// ReadWav decodes a PCM WAV file into a mono buffer. Multichannel files are
// downmixed by averaging the channels. Returns the buffer and its sample
// rate.
func ReadWav(r io.ReadSeeker) (AudioBuffer, int, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, ErrInvalidWav
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("could not decode PCM data: %w", err)
	}
	bitDepth := int(decoder.SampleBitDepth())
	if bitDepth == 0 {
		return nil, 0, fmt.Errorf("%w: unknown bit depth", ErrInvalidWav)
	}
	nchannels := 1
	sampleRate := int(decoder.SampleRate)
	if buf.Format != nil {
		nchannels = max(buf.Format.NumChannels, 1)
		sampleRate = buf.Format.SampleRate
	}
	factor := float32(math.Pow(2, float64(bitDepth-1)))
	nframes := len(buf.Data) / nchannels
	ret := make(AudioBuffer, nframes)
	for i := range ret {
		var sum float32
		for c := 0; c < nchannels; c++ {
			sum += float32(buf.Data[i*nchannels+c])
		}
		ret[i] = sum / float32(nchannels) / factor
	}
	return ret, sampleRate, nil
}

// WriteWav encodes the buffer as a mono 16-bit PCM WAV file. Samples outside
// [-1, 1] are clipped.
func WriteWav(w io.WriteSeeker, buffer AudioBuffer, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("WriteWav: sample rate must be > 0, got %d", sampleRate)
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(buffer)),
		SourceBitDepth: 16,
	}
	for i, v := range buffer {
		v = min(max(v, -1), 1)
		intBuf.Data[i] = clamp(int(v*math.MaxInt16), -math.MaxInt16, math.MaxInt16)
	}
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("WriteWav: could not write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("WriteWav: could not finalize file: %w", err)
	}
	return nil
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
