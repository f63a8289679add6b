package shifter_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/vsariola/shifter"
)

func TestWavWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("cannot create file: %v", err)
	}
	in := shifter.AudioBuffer{0, 0.5, -0.5, 1.5, -2}
	if err := shifter.WriteWav(f, in, 44100); err != nil {
		t.Fatalf("WriteWav failed: %v", err)
	}
	f.Close()
	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("cannot open file: %v", err)
	}
	defer f.Close()
	out, sr, err := shifter.ReadWav(f)
	if err != nil {
		t.Fatalf("ReadWav failed: %v", err)
	}
	if sr != 44100 {
		t.Errorf("sample rate: got %d, want 44100", sr)
	}
	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	want := []float32{0, 0.5, -0.5, 1, -1}
	for i, w := range want {
		if math.Abs(float64(out[i]-w)) > 1e-3 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], w)
		}
	}
}

func TestReadWavInvalid(t *testing.T) {
	_, _, err := shifter.ReadWav(bytes.NewReader([]byte("definitely not a riff file")))
	if !errors.Is(err, shifter.ErrInvalidWav) {
		t.Fatalf("expected ErrInvalidWav, got %v", err)
	}
}
