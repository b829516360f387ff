package audio

// Codec converts a frame's samples to a transport payload and back. Encode
// and Decode may run concurrently with each other (send and receive paths are
// separate goroutines) but each individually is called from one goroutine.
//
// Decode must return exactly one frame's worth of interleaved samples for the
// stream's format; the streaming engine rejects payloads that decode to a
// different length.
type Codec interface {
	Name() string
	Encode(samples []int16) ([]byte, error)
	Decode(payload []byte) ([]int16, error)
}

// PCM is the identity codec: little-endian int16 PCM bytes on the wire.
type PCM struct{}

// Name implements [Codec].
func (PCM) Name() string { return "pcm" }

// Encode implements [Codec].
func (PCM) Encode(samples []int16) ([]byte, error) {
	return SamplesToBytes(samples), nil
}

// Decode implements [Codec].
func (PCM) Decode(payload []byte) ([]int16, error) {
	return BytesToSamples(payload)
}
