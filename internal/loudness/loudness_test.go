package loudness

import "testing"

func TestCalculateRange(t *testing.T) {
	cases := [][]float32{
		{0, 0, 0},
		{1, -1, 1, -1},
		{0.001, -0.001},
		{0.0001},
	}
	for _, samples := range cases {
		got := Calculate(samples)
		if got < 0 || got > 1 {
			t.Fatalf("Calculate(%v) = %v, out of [0,1]", samples, got)
		}
	}
}

func TestCalculateSilenceIsZero(t *testing.T) {
	if got := Calculate([]float32{0, 0, 0, 0}); got != 0 {
		t.Fatalf("silence loudness = %v, want 0", got)
	}
	if got := Calculate(nil); got != 0 {
		t.Fatalf("empty loudness = %v, want 0", got)
	}
}

func TestCalculateFullScaleIsOne(t *testing.T) {
	samples := make([]float32, 480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 1
		} else {
			samples[i] = -1
		}
	}
	got := Calculate(samples)
	if got < 0.999 {
		t.Fatalf("full-scale loudness = %v, want ~1.0", got)
	}
}
