package audioio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Source is pulled from synchronously by the playback callback. It
// returns false on underrun, in which case the caller holds the last
// sample rather than clicking.
type Source interface {
	Next() (float32, bool)
}

// Playback opens the default output device and, on every callback
// invocation, pulls samples from src. On underrun it repeats the last
// played sample (a DC hold) instead of emitting silence abruptly.
type Playback struct {
	stream *portaudio.Stream
	format Format

	mu   sync.Mutex
	last float32

	closeOnce sync.Once
}

// negotiateOutputFormat picks the channel count/sample rate OpenPlayback
// and DefaultOutputFormat both use: stereo (or the device's max, if
// lower) at up to 48kHz.
func negotiateOutputFormat(device *portaudio.DeviceInfo) Format {
	channels := 2
	if device.MaxOutputChannels < 2 {
		channels = device.MaxOutputChannels
	}
	rate := device.DefaultSampleRate
	if rate <= 0 || rate > 48000 {
		rate = 48000
	}
	return Format{Channels: channels, SampleRate: uint32(rate)}
}

// DefaultOutputFormat reports the channel count/sample rate OpenPlayback
// would negotiate with the default output device, without opening a
// stream. Callers that must know the playback rate before constructing
// their audio source (e.g. to size a receive-side resampler) use this.
func DefaultOutputFormat() (Format, error) {
	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Format{}, fmt.Errorf("audioio: default output device: %w", err)
	}
	return negotiateOutputFormat(device), nil
}

// OpenPlayback opens the default output device, preferring a stereo
// configuration at up to 48kHz, and starts streaming from src
// immediately.
func OpenPlayback(src Source) (*Playback, error) {
	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("audioio: default output device: %w", err)
	}

	format := negotiateOutputFormat(device)
	p := &Playback{format: format}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: format.Channels,
			Latency:  device.DefaultLowOutputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		p.fill(src, out)
	})
	if err != nil {
		return nil, fmt.Errorf("audioio: open output stream: %w", err)
	}
	p.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audioio: start output stream: %w", err)
	}

	return p, nil
}

// Format reports the device's negotiated channel count and sample rate.
func (p *Playback) Format() Format { return p.format }

// fill runs on PortAudio's callback thread. Only this thread ever writes
// p.last, so the lock sees negligible contention.
func (p *Playback) fill(src Source, out []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range out {
		if v, ok := src.Next(); ok {
			p.last = v
			out[i] = v
		} else {
			out[i] = p.last
		}
	}
}

// Close stops and releases the underlying stream. Safe to call multiple
// times.
func (p *Playback) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stream != nil {
			err = p.stream.Close()
		}
	})
	return err
}
