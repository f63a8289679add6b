package shifter

type (
	// AudioBuffer is a mono buffer of float32 samples. Samples are nominally in
	// the range [-1, 1]; only the playback mixer enforces it.
	AudioBuffer []float32

	// AudioSource fills the given buffer and returns the number of frames
	// written. Returning fewer frames than len(buf) signals that the stream is
	// complete. It is called from the audio device thread and must not block.
	AudioSource func(buf AudioBuffer) int

	// AudioContext is the output device. Play starts pulling audio from the
	// source until the source signals completion or the returned CloserWaiter
	// is closed.
	AudioContext interface {
		Play(source AudioSource) (CloserWaiter, error)
		Close() error
	}

	// CloserWaiter is a handle to a running output stream. Wait blocks until
	// the stream has drained.
	CloserWaiter interface {
		Close() error
		Wait()
	}
)

// Copy makes a copy of the buffer. A nil buffer stays nil.
func (b AudioBuffer) Copy() AudioBuffer {
	if b == nil {
		return nil
	}
	ret := make(AudioBuffer, len(b))
	copy(ret, b)
	return ret
}

// Source returns an AudioSource playing the buffer once from the beginning.
func (b AudioBuffer) Source() AudioSource {
	pos := 0
	return func(buf AudioBuffer) int {
		n := copy(buf, b[pos:])
		pos += n
		return n
	}
}

// Resample converts the buffer from srcRate to dstRate using linear
// interpolation. When the rates match, the buffer itself is returned.
func (b AudioBuffer) Resample(srcRate, dstRate int) AudioBuffer {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(b) == 0 {
		return b
	}
	dstSamples := int(int64(len(b)) * int64(dstRate) / int64(srcRate))
	ret := make(AudioBuffer, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range ret {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		s0 := b[srcIdx]
		s1 := s0
		if srcIdx+1 < len(b) {
			s1 = b[srcIdx+1]
		}
		ret[i] = s0*(1-frac) + s1*frac
	}
	return ret
}
