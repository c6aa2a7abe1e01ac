// Package codec wraps Opus encoding and decoding for one peer's audio
// stream, in the "Audio" application mode per the send path's fixed
// target of a 65,535-byte maximum packet.
package codec

import (
	"errors"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// MaxPacketBytes is the maximum size of one encoded Opus packet.
const MaxPacketBytes = 65535

// Codec holds one Opus encoder and one Opus decoder for a fixed sample
// rate and channel count.
type Codec struct {
	sampleRate int
	channels   int

	encoder *opus.Encoder
	decoder *opus.Decoder

	encodeBuf []byte
	decodeBuf []float32
}

// New builds a Codec for sampleRate Hz, channels-count audio.
func New(sampleRate, channels int) (*Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new decoder: %w", err)
	}

	return &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		encoder:    enc,
		decoder:    dec,
		encodeBuf:  make([]byte, MaxPacketBytes),
		decodeBuf:  make([]float32, sampleRate*channels), // generous upper bound, one second
	}, nil
}

// Encode compresses exactly one frame of interleaved PCM samples
// (channels * frameSize samples) into an Opus packet.
func (c *Codec) Encode(pcm []float32) ([]byte, error) {
	n, err := c.encoder.EncodeFloat32(pcm, c.encodeBuf)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, c.encodeBuf[:n])
	return out, nil
}

// Decode decompresses one Opus packet back into interleaved PCM samples.
// A malformed packet is reported as an error; the caller drops it and
// keeps the session open.
func (c *Codec) Decode(packet []byte) ([]float32, error) {
	if len(packet) == 0 {
		return nil, errors.New("codec: empty opus packet")
	}
	n, err := c.decoder.DecodeFloat32(packet, c.decodeBuf)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	out := make([]float32, n*c.channels)
	copy(out, c.decodeBuf[:n*c.channels])
	return out, nil
}
