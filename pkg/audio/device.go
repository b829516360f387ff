// Package audio defines the frame types and device contracts for voxwire's
// streaming pipeline.
//
// The two primary abstractions are:
//
//   - [CaptureDevice] — invokes a handler at a fixed period with the samples
//     just pulled off the input device.
//   - [PlaybackDevice] — invokes a handler at a fixed period with a buffer the
//     handler must fill for the output device.
//
// Both handlers run on the device backend's real-time callback and must
// return within the frame period: no allocation, no blocking locks shared
// with other goroutines, no network I/O. The ring buffer in audio/ring is the
// intended hand-off point between a device handler and the rest of the
// pipeline.
//
// Implementations are provided by backend packages (audio/portaudio for
// hardware, audio/pipe for an in-process loopback pair, audio/mock for
// tests). This package lives under pkg/ because external code is expected to
// implement the device interfaces.
package audio

import "fmt"

// CaptureFunc receives the samples captured during one frame period.
// samples is valid only for the duration of the call; implementations reuse
// the backing array between invocations.
type CaptureFunc func(samples []int16)

// PlaybackFunc must fill samples with the next frame period's worth of audio.
// Leaving samples untouched plays whatever the previous callback left behind,
// so handlers that have nothing to play should zero it.
type PlaybackFunc func(samples []int16)

// CaptureDevice is an open audio input.
//
// Start registers the capture handler and begins the device's callback cycle.
// A device runs at most one handler; calling Start twice is an error. Close
// stops the callback cycle and releases the device. Close is safe to call
// multiple times and must not be called from inside the handler.
type CaptureDevice interface {
	Start(fn CaptureFunc) error
	Close() error
}

// PlaybackDevice is an open audio output. Semantics mirror [CaptureDevice]:
// one handler, bounded callback time, idempotent Close.
type PlaybackDevice interface {
	Start(fn PlaybackFunc) error
	Close() error
}

// Opener opens devices for a fixed stream format. Backends return an error
// from Open* when the device rejects the format; they do not resample.
//
// Implementations must be safe for concurrent use.
type Opener interface {
	OpenCapture(f Format) (CaptureDevice, error)
	OpenPlayback(f Format) (PlaybackDevice, error)
}

// DeviceError reports a device-level failure: open rejected, stream died,
// hardware disconnected. Device errors are fatal to the session that owns the
// device; the streaming engine transitions to its failed state rather than
// retrying the data path.
type DeviceError struct {
	// Op is the operation that failed: "open", "start", "stream", "close".
	Op string

	// Dir is "capture" or "playback".
	Dir string

	// Err is the backend's underlying error.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device: %s %s: %v", e.Dir, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
