// Package denoise applies RNNoise-based per-channel noise suppression to
// interleaved multi-channel audio, operating on fixed 480-sample-per-
// channel frames.
package denoise

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"

import (
	"sync"
	"unsafe"
)

// FrameSize is RNNoise's native frame size: 480 samples per channel.
const FrameSize = 480

// MultiChannelDenoiser keeps one independent RNNoise state per channel.
// Instances are reallocated whenever the channel count changes.
type MultiChannelDenoiser struct {
	mu       sync.Mutex
	channels int
	states   []*C.DenoiseState
	cIn      *C.float
	cOut     *C.float
}

// NewMultiChannelDenoiser returns a denoiser with no channels allocated
// yet; the first Process call sizes it.
func NewMultiChannelDenoiser() *MultiChannelDenoiser {
	return &MultiChannelDenoiser{}
}

func (d *MultiChannelDenoiser) setupChannels(channels int) {
	d.teardown()

	d.states = make([]*C.DenoiseState, channels)
	for i := range d.states {
		d.states[i] = C.rnnoise_create(nil)
	}
	d.cIn = (*C.float)(C.malloc(C.size_t(FrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	d.cOut = (*C.float)(C.malloc(C.size_t(FrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	d.channels = channels
}

func (d *MultiChannelDenoiser) teardown() {
	for _, st := range d.states {
		if st != nil {
			C.rnnoise_destroy(st)
		}
	}
	d.states = nil
	if d.cIn != nil {
		C.free(unsafe.Pointer(d.cIn))
		d.cIn = nil
	}
	if d.cOut != nil {
		C.free(unsafe.Pointer(d.cOut))
		d.cOut = nil
	}
}

// Close releases the underlying C state. The denoiser must not be used
// afterward.
func (d *MultiChannelDenoiser) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()
	d.channels = 0
}

// Process denoises an interleaved block of samples. Input lengths that
// are not a multiple of channels*FrameSize are truncated to the largest
// such multiple before processing; the returned slice has that truncated
// length.
func (d *MultiChannelDenoiser) Process(channels int, interleaved []float32) []float32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if channels <= 0 {
		return nil
	}
	if channels != d.channels {
		d.setupChannels(channels)
	}

	frameSamples := channels * FrameSize
	usable := (len(interleaved) / frameSamples) * frameSamples
	if usable == 0 {
		return nil
	}
	src := interleaved[:usable]

	out := make([]float32, usable)
	inSlice := unsafe.Slice(d.cIn, FrameSize)
	outSlice := unsafe.Slice(d.cOut, FrameSize)

	channelBuf := make([]float32, FrameSize)
	for frameStart := 0; frameStart < usable; frameStart += frameSamples {
		for c := 0; c < channels; c++ {
			for i := 0; i < FrameSize; i++ {
				channelBuf[i] = src[frameStart+i*channels+c]
			}

			// RNNoise expects samples scaled into 16-bit range.
			for i, s := range channelBuf {
				inSlice[i] = C.float(s * 32767.0)
			}
			C.rnnoise_process_frame(d.states[c], d.cOut, d.cIn)
			for i := 0; i < FrameSize; i++ {
				out[frameStart+i*channels+c] = float32(outSlice[i]) / 32767.0
			}
		}
	}

	return out
}
