package peer

import (
	"testing"

	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
)

// TestScenarioS4VolumeZeroIsSilence covers scenario S4's second half: with
// volume=0 the output is all zeros. Denoise is disabled so only the gain
// stage (cgo-free) participates.
func TestScenarioS4VolumeZeroIsSilence(t *testing.T) {
	evs := make(chan events.AppEvent, 8)
	p := newPipeline(identity.PeerId{}, evs, 48000)
	p.SetDenoise(false)
	p.SetVolume(0)

	samples := make([]float32, 480*2)
	for i := range samples {
		samples[i] = 0.5
	}
	p.HandleIncoming(AudioChunk{Seq: 0, Channels: 2, Rate: 48000, Samples: samples})

	chunk, ok := p.buffer.Next()
	if !ok {
		t.Fatalf("expected a buffered chunk")
	}
	for i, s := range chunk.Samples {
		if s != 0 {
			t.Fatalf("sample %d = %v, want 0 at volume=0", i, s)
		}
	}
}

// TestHandleIncomingEmitsLoudness covers the handle_incoming loudness
// step: every chunk produces exactly one Loudness AppEvent in [0,1].
func TestHandleIncomingEmitsLoudness(t *testing.T) {
	evs := make(chan events.AppEvent, 8)
	p := newPipeline(identity.PeerId{}, evs, 48000)
	p.SetDenoise(false)

	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 1
	}
	p.HandleIncoming(AudioChunk{Seq: 0, Channels: 1, Rate: 48000, Samples: samples})

	select {
	case ev := <-evs:
		if ev.Loudness == nil {
			t.Fatalf("expected a Loudness event, got %+v", ev)
		}
		if ev.Loudness.Loudness < 0 || ev.Loudness.Loudness > 1 {
			t.Fatalf("loudness out of range: %v", ev.Loudness.Loudness)
		}
	default:
		t.Fatalf("expected a Loudness event on the channel")
	}
}
