// Package mock provides in-memory mock implementations of the
// [audio.CaptureDevice], [audio.PlaybackDevice], and [audio.Opener] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values. Device callbacks are
// driven manually ([CaptureDevice.Emit], [PlaybackDevice.Render]) so tests
// stay deterministic without real-time tickers.
//
// Typical usage:
//
//	cap := &mock.CaptureDevice{}
//	opener := &mock.Opener{Capture: cap}
//	dev, _ := opener.OpenCapture(format)
//	dev.Start(handler)
//	cap.Emit([]int16{1, 2, 3, 4}) // handler sees these samples
package mock

import (
	"sync"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice  = (*CaptureDevice)(nil)
	_ audio.PlaybackDevice = (*PlaybackDevice)(nil)
	_ audio.Opener         = (*Opener)(nil)
)

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
// Set the exported Error fields before use; inspect the CallCount fields after.
type CaptureDevice struct {
	mu sync.Mutex

	// StartError is returned by [CaptureDevice.Start].
	StartError error

	// CloseError is returned by [CaptureDevice.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	fn audio.CaptureFunc
}

// Start implements [audio.CaptureDevice]. The handler is retained for later
// [CaptureDevice.Emit] calls.
func (d *CaptureDevice) Start(fn audio.CaptureFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.fn = fn
	return nil
}

// Close implements [audio.CaptureDevice].
func (d *CaptureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.fn = nil
	return d.CloseError
}

// Emit invokes the registered capture handler with samples, simulating one
// device callback. Emit before Start (or after Close) is a no-op.
func (d *CaptureDevice) Emit(samples []int16) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

// Started reports whether a handler is currently registered.
func (d *CaptureDevice) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// ─── PlaybackDevice ───────────────────────────────────────────────────────────

// PlaybackDevice is a mock implementation of [audio.PlaybackDevice]. Every
// [PlaybackDevice.Render] call records the frame the handler produced so
// tests can assert on played audio.
type PlaybackDevice struct {
	mu sync.Mutex

	// StartError is returned by [PlaybackDevice.Start].
	StartError error

	// CloseError is returned by [PlaybackDevice.Close].
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Played holds a copy of every frame produced by Render, in order.
	Played [][]int16

	fn audio.PlaybackFunc
}

// Start implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Start(fn audio.PlaybackFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.fn = fn
	return nil
}

// Close implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.fn = nil
	return d.CloseError
}

// Render invokes the registered playback handler with a zeroed buffer of n
// samples, simulating one device callback, and returns the frame the handler
// filled in. Returns nil when no handler is registered.
func (d *PlaybackDevice) Render(n int) []int16 {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return nil
	}
	buf := make([]int16, n)
	fn(buf)
	d.mu.Lock()
	cp := make([]int16, n)
	copy(cp, buf)
	d.Played = append(d.Played, cp)
	d.mu.Unlock()
	return buf
}

// PlayedCount returns the number of frames rendered so far.
func (d *PlaybackDevice) PlayedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Played)
}

// ─── Opener ───────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [audio.Opener]. Set Capture and Playback
// to the devices Open* should hand out; leave them nil to have fresh mocks
// created on first open.
type Opener struct {
	mu sync.Mutex

	// Capture is returned by [Opener.OpenCapture].
	Capture *CaptureDevice

	// Playback is returned by [Opener.OpenPlayback].
	Playback *PlaybackDevice

	// OpenCaptureError is returned by OpenCapture instead of a device.
	OpenCaptureError error

	// OpenPlaybackError is returned by OpenPlayback instead of a device.
	OpenPlaybackError error

	// CallCountOpenCapture records how many times OpenCapture was called.
	CallCountOpenCapture int

	// CallCountOpenPlayback records how many times OpenPlayback was called.
	CallCountOpenPlayback int

	// OpenedFormats holds the formats passed to both Open methods, in order.
	OpenedFormats []audio.Format
}

// OpenCapture implements [audio.Opener].
func (o *Opener) OpenCapture(f audio.Format) (audio.CaptureDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpenCapture++
	o.OpenedFormats = append(o.OpenedFormats, f)
	if o.OpenCaptureError != nil {
		return nil, o.OpenCaptureError
	}
	if o.Capture == nil {
		o.Capture = &CaptureDevice{}
	}
	return o.Capture, nil
}

// OpenPlayback implements [audio.Opener].
func (o *Opener) OpenPlayback(f audio.Format) (audio.PlaybackDevice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountOpenPlayback++
	o.OpenedFormats = append(o.OpenedFormats, f)
	if o.OpenPlaybackError != nil {
		return nil, o.OpenPlaybackError
	}
	if o.Playback == nil {
		o.Playback = &PlaybackDevice{}
	}
	return o.Playback, nil
}
