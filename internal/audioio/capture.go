// Package audioio wraps the OS audio capture and playback devices behind
// channel-based producer/consumer interfaces, keeping PortAudio's stream
// handles confined to the thread that opened them.
package audioio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Format describes an interleaved PCM stream's shape.
type Format struct {
	Channels   int
	SampleRate uint32
}

// Capture pulls microphone samples from the OS default input device. The
// PortAudio callback runs on a dedicated thread owned by the library;
// samples are forwarded over a channel buffered to 64 blocks to whatever
// goroutine consumes Samples(); when that buffer is full, new blocks are
// dropped.
type Capture struct {
	format Format
	stream *portaudio.Stream
	out    chan []float32

	closeOnce sync.Once
}

// OpenCapture opens the default input device, preferring a stereo
// configuration at up to 48kHz, and starts streaming immediately.
func OpenCapture() (*Capture, error) {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("audioio: default input device: %w", err)
	}

	channels := 2
	if device.MaxInputChannels < 2 {
		channels = device.MaxInputChannels
	}
	rate := device.DefaultSampleRate
	if rate <= 0 || rate > 48000 {
		rate = 48000
	}

	c := &Capture{
		format: Format{Channels: channels, SampleRate: uint32(rate)},
		out:    make(chan []float32, 64),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	stream, err := portaudio.OpenStream(params, c.onSamples)
	if err != nil {
		return nil, fmt.Errorf("audioio: open input stream: %w", err)
	}
	c.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("audioio: start input stream: %w", err)
	}

	return c, nil
}

// onSamples runs on PortAudio's callback thread; it must never block, so
// a full channel drops the frame rather than stalling the audio device.
func (c *Capture) onSamples(in []float32) {
	buf := make([]float32, len(in))
	copy(buf, in)
	select {
	case c.out <- buf:
	default:
	}
}

// Samples returns the channel of captured interleaved sample blocks.
func (c *Capture) Samples() <-chan []float32 { return c.out }

// Format reports the device's negotiated channel count and sample rate.
func (c *Capture) Format() Format { return c.format }

// Close stops and releases the underlying stream. Safe to call multiple
// times.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stream != nil {
			err = c.stream.Close()
		}
	})
	return err
}
