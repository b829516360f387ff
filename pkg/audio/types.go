package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Frame is a single fixed-size chunk of PCM audio flowing through the
// pipeline. Frames are the atomic unit of transport — captured from an input
// device, buffered in a ring, packaged into envelopes, and played through an
// output device.
//
// A Frame is immutable once produced: the capture side fills Samples exactly
// once, and every later stage treats it as read-only. Samples is owned by
// whichever ring slot currently holds the frame; consumers that need to keep
// the data past the next ring write must copy it.
type Frame struct {
	// Samples holds interleaved little-endian int16 PCM. Length is
	// Format.FrameSize * Format.Channels for every frame of a stream.
	Samples []int16

	// Seq is the monotonically increasing sequence number assigned at capture.
	// The first captured frame of a session has Seq 1.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the shape of every frame in a stream.
type Format struct {
	// SampleRate in Hz (e.g. 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// FrameSize is the number of samples per channel in one frame
	// (e.g. 480 for 10ms at 48kHz).
	FrameSize int
}

// SamplesPerFrame returns the total interleaved sample count of one frame.
func (f Format) SamplesPerFrame() int {
	return f.FrameSize * f.Channels
}

// FrameDuration returns the wall-clock period covered by one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports all structural problems with the format.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("channels must be 1 or 2, got %d", f.Channels))
	}
	if f.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame_size must be positive, got %d", f.FrameSize))
	}
	return errors.Join(errs...)
}

// String returns a human-readable description, e.g. "48000Hz mono/480".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s/%d", f.SampleRate, ch, f.FrameSize)
}

// Silence returns a frame of all-zero samples in the given format. Seq and
// Timestamp are left at their zero values; callers stamp them as needed.
func Silence(f Format) Frame {
	return Frame{Samples: make([]int16, f.SamplesPerFrame())}
}

// IsSilence reports whether every sample of the frame is zero.
func IsSilence(fr Frame) bool {
	for _, s := range fr.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// RMS returns the root-mean-square amplitude of samples normalised to [0, 1].
// An all-zero (silence) frame has RMS 0; a full-scale square wave has RMS 1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
