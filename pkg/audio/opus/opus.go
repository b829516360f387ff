// Package opus provides an Opus payload codec for the transport path.
//
// It wraps layeh.com/gopus; compression internals are entirely the library's
// business. One Codec owns one encoder and one decoder, matching the streaming
// engine's one-send-path one-receive-path structure: Encode and Decode may run
// concurrently with each other but each individually is single-goroutine.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Codec = (*Codec)(nil)

// maxOpusPacket is the upper bound passed to the encoder for one packet.
// Opus never produces packets larger than this for a single frame.
const maxOpusPacket = 4000

// Codec encodes frames to Opus packets and decodes them back to PCM.
type Codec struct {
	format audio.Format
	enc    *gopus.Encoder
	dec    *gopus.Decoder
}

// New creates an Opus codec for the given stream format. Opus supports
// sample rates of 8, 12, 16, 24 and 48 kHz; other rates are rejected by the
// underlying library.
func New(f audio.Format) (*Codec, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("opus: invalid format: %w", err)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(f.SampleRate, f.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Codec{format: f, enc: enc, dec: dec}, nil
}

// Name implements [audio.Codec].
func (c *Codec) Name() string { return "opus" }

// Encode compresses one frame's worth of interleaved PCM samples into an
// Opus packet. Only called from the send path.
func (c *Codec) Encode(samples []int16) ([]byte, error) {
	if len(samples) != c.format.SamplesPerFrame() {
		return nil, fmt.Errorf("opus: encode got %d samples, want %d", len(samples), c.format.SamplesPerFrame())
	}
	pkt, err := c.enc.Encode(samples, c.format.FrameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decode decompresses an Opus packet into one frame's worth of interleaved
// PCM samples. Only called from the receive path.
func (c *Codec) Decode(payload []byte) ([]int16, error) {
	pcm, err := c.dec.Decode(payload, c.format.FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	if len(pcm) != c.format.SamplesPerFrame() {
		return nil, fmt.Errorf("opus: decoded %d samples, want %d", len(pcm), c.format.SamplesPerFrame())
	}
	return pcm, nil
}
