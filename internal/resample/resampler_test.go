package resample

import (
	"math"
	"testing"
)

func TestIdentityPassthrough(t *testing.T) {
	r := New(2, 48000, 48000)
	in := []float32{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	out := r.Process(in)
	if len(out) != len(in) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestLengthLaw(t *testing.T) {
	const channels = 2
	const chunkSize = 480
	r := New(channels, 44100, 48000)

	in := make([]float32, chunkSize*channels)
	for i := range in {
		in[i] = float32(i%7) / 7
	}

	out := r.Process(in)
	wantFrames := int(math.Round(float64(chunkSize) * 48000 / 44100))
	gotFrames := len(out) / channels

	diff := gotFrames - wantFrames
	if diff < -1 || diff > 1 {
		t.Fatalf("got %d output frames, want %d (+-1)", gotFrames, wantFrames)
	}
}
