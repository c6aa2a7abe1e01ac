// Package peer implements the Managed Peer state machine and its
// bidirectional audio pipeline: one instance per remote participant in
// the room.
package peer

import (
	"sync"
	"sync/atomic"

	"github.com/coldglass/voicemesh/internal/denoise"
	"github.com/coldglass/voicemesh/internal/events"
	"github.com/coldglass/voicemesh/internal/identity"
	"github.com/coldglass/voicemesh/internal/loudness"
	"github.com/coldglass/voicemesh/internal/reorder"
	"github.com/coldglass/voicemesh/internal/resample"
	"github.com/coldglass/voicemesh/internal/volume"
)

// AudioChunk is one decoded block of interleaved PCM samples tagged with
// its sender-assigned sequence number.
type AudioChunk struct {
	Seq      uint64
	Channels int
	Rate     uint32
	Samples  []float32
}

// pipeline is the receive-side half of a connected peer: decode (done by
// the caller before HandleIncoming), denoise, gain, loudness, reorder,
// and a pull-based playback source fed through a resampler.
type pipeline struct {
	id     identity.PeerId
	events chan<- events.AppEvent

	denoiseEnabled atomic.Bool
	volumeMu       sync.Mutex
	volume         int

	denoiser *denoise.MultiChannelDenoiser
	buffer   *reorder.Buffer[AudioChunk]

	deque      []float32
	deqMu      sync.Mutex
	outputRate uint32
	resamp     *resample.Resampler
	resampCh   int
}

func newPipeline(id identity.PeerId, evs chan<- events.AppEvent, outputRate uint32) *pipeline {
	p := &pipeline{
		id:         id,
		events:     evs,
		volume:     100,
		denoiser:   denoise.NewMultiChannelDenoiser(),
		buffer:     reorder.New[AudioChunk](),
		outputRate: outputRate,
	}
	p.denoiseEnabled.Store(true)
	return p
}

// SetVolume sets the gain (0..=200) under a short-held lock.
func (p *pipeline) SetVolume(v int) {
	p.volumeMu.Lock()
	p.volume = v
	p.volumeMu.Unlock()
}

func (p *pipeline) getVolume() int {
	p.volumeMu.Lock()
	defer p.volumeMu.Unlock()
	return p.volume
}

// SetDenoise toggles noise suppression without blocking the audio path.
func (p *pipeline) SetDenoise(on bool) {
	p.denoiseEnabled.Store(on)
}

// HandleIncoming runs one decoded chunk through denoise, gain, loudness,
// and inserts it into the reorder buffer, per the receive path.
func (p *pipeline) HandleIncoming(chunk AudioChunk) {
	if p.denoiseEnabled.Load() {
		denoised := p.denoiser.Process(chunk.Channels, chunk.Samples)
		if denoised != nil {
			chunk.Samples = denoised
		}
	}

	v := p.getVolume()
	if v != 100 {
		g := volume.Gain(v)
		scaled := make([]float32, len(chunk.Samples))
		for i, s := range chunk.Samples {
			scaled[i] = float32(float64(s) * g)
		}
		chunk.Samples = scaled
	}

	l := loudness.Calculate(chunk.Samples)
	if p.events != nil {
		p.events <- events.AppEvent{Loudness: &events.Loudness{PeerId: p.id, Loudness: l}}
	}

	p.buffer.Set(chunk.Seq, chunk)
}

// Next implements audioio.Source for the playback callback: drain the
// deque first, then pull a chunk from the reorder buffer when it runs
// dry. Output is resampled from the chunk's own rate to the output
// device's rate given to newPipeline; the resampler is built on the first
// chunk whose rate differs and rebuilt when the channel count changes.
func (p *pipeline) Next() (float32, bool) {
	p.deqMu.Lock()
	defer p.deqMu.Unlock()

	for len(p.deque) == 0 {
		chunk, ok := p.buffer.Next()
		if !ok {
			return 0, false
		}
		samples := chunk.Samples
		if chunk.Rate != p.outputRate {
			if p.resamp == nil || p.resampCh != chunk.Channels {
				p.resamp = resample.New(chunk.Channels, chunk.Rate, p.outputRate)
				p.resampCh = chunk.Channels
			}
			samples = p.resamp.Process(samples)
		}
		p.deque = append(p.deque, samples...)
	}

	v := p.deque[0]
	p.deque = p.deque[1:]
	return v, true
}

// Close releases the denoiser's native resources.
func (p *pipeline) Close() {
	p.denoiser.Close()
}
