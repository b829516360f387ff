package audio

import "fmt"

// Conversion helpers between sample layouts and wire bytes. The channel
// converters write into caller-provided destinations so they can run inside a
// device callback without allocating.

// MonoToStereo duplicates each mono sample into an L+R pair. dst must hold
// exactly 2*len(src) samples; the number of samples written is returned.
func MonoToStereo(dst, src []int16) int {
	n := min(len(src), len(dst)/2)
	for i := range n {
		dst[i*2] = src[i]
		dst[i*2+1] = src[i]
	}
	return n * 2
}

// StereoToMono averages each interleaved L+R pair into one mono sample.
// Uses int32 arithmetic to prevent overflow. dst must hold len(src)/2
// samples; the number of samples written is returned.
func StereoToMono(dst, src []int16) int {
	n := min(len(src)/2, len(dst))
	for i := range n {
		avg := (int32(src[i*2]) + int32(src[i*2+1])) / 2
		dst[i] = int16(avg)
	}
	return n
}

// SamplesToBytes packs int16 samples into little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToSamples unpacks little-endian PCM bytes into int16 samples. An odd
// byte count means the payload is corrupt.
func BytesToSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}
