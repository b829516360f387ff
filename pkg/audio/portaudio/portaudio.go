// Package portaudio provides the hardware device backend, bridging voxwire's
// device contracts to real input/output devices through
// github.com/gordonklaus/portaudio.
//
// PortAudio invokes the stream callback on its own real-time thread; the
// registered handler inherits that deadline and must hand frames off through
// a ring buffer rather than doing any blocking work.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Opener = (*Backend)(nil)

// Backend opens capture and playback streams on the host's default audio
// devices. Create one per process with [New] and release it with Close after
// all devices opened through it are closed.
type Backend struct {
	closeOnce sync.Once
	closeErr  error
}

// New initialises the PortAudio host API.
func New() (*Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

// Close terminates the PortAudio host API. Safe to call multiple times.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		if err := portaudio.Terminate(); err != nil {
			b.closeErr = fmt.Errorf("portaudio: terminate: %w", err)
		}
	})
	return b.closeErr
}

// OpenCapture implements [audio.Opener] using the default input device.
func (b *Backend) OpenCapture(f audio.Format) (audio.CaptureDevice, error) {
	if err := f.Validate(); err != nil {
		return nil, &audio.DeviceError{Op: "open", Dir: "capture", Err: err}
	}
	return &captureStream{format: f}, nil
}

// OpenPlayback implements [audio.Opener] using the default output device.
func (b *Backend) OpenPlayback(f audio.Format) (audio.PlaybackDevice, error) {
	if err := f.Validate(); err != nil {
		return nil, &audio.DeviceError{Op: "open", Dir: "playback", Err: err}
	}
	return &playbackStream{format: f}, nil
}

// captureStream is an input stream on the default capture device. The
// PortAudio stream itself is created lazily in Start because the callback is
// bound at stream-open time.
type captureStream struct {
	format audio.Format

	mu        sync.Mutex
	stream    *portaudio.Stream
	closeOnce sync.Once
	closeErr  error
}

// Start implements [audio.CaptureDevice].
func (s *captureStream) Start(fn audio.CaptureFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return &audio.DeviceError{Op: "start", Dir: "capture", Err: errors.New("portaudio: already started")}
	}

	stream, err := portaudio.OpenDefaultStream(
		s.format.Channels, 0,
		float64(s.format.SampleRate), s.format.FrameSize,
		func(in []int16) { fn(in) },
	)
	if err != nil && s.format.Channels == 1 {
		// Some hosts expose only stereo endpoints; open a stereo stream and
		// downmix in the callback.
		stream, err = portaudio.OpenDefaultStream(
			2, 0,
			float64(s.format.SampleRate), s.format.FrameSize,
			downmixCapture(fn, s.format.SamplesPerFrame()),
		)
	}
	if err != nil {
		return &audio.DeviceError{Op: "open", Dir: "capture", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return &audio.DeviceError{Op: "start", Dir: "capture", Err: err}
	}
	s.stream = stream
	return nil
}

// Close implements [audio.CaptureDevice]. Safe to call multiple times.
func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()
		if stream == nil {
			return
		}
		if err := stream.Stop(); err != nil {
			s.closeErr = &audio.DeviceError{Op: "close", Dir: "capture", Err: err}
		}
		if err := stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = &audio.DeviceError{Op: "close", Dir: "capture", Err: err}
		}
	})
	return s.closeErr
}

// downmixCapture adapts a mono capture callback to a stereo hardware stream.
// The scratch buffer is allocated once so the callback stays allocation-free.
func downmixCapture(fn audio.CaptureFunc, samplesPerFrame int) func([]int16) {
	mono := make([]int16, samplesPerFrame)
	return func(in []int16) {
		n := audio.StereoToMono(mono, in)
		fn(mono[:n])
	}
}

// upmixPlayback adapts a mono playback callback to a stereo hardware stream.
func upmixPlayback(fn audio.PlaybackFunc, samplesPerFrame int) func([]int16) {
	mono := make([]int16, samplesPerFrame)
	return func(out []int16) {
		fn(mono)
		audio.MonoToStereo(out, mono)
	}
}

// playbackStream is an output stream on the default playback device.
type playbackStream struct {
	format audio.Format

	mu        sync.Mutex
	stream    *portaudio.Stream
	closeOnce sync.Once
	closeErr  error
}

// Start implements [audio.PlaybackDevice].
func (s *playbackStream) Start(fn audio.PlaybackFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return &audio.DeviceError{Op: "start", Dir: "playback", Err: errors.New("portaudio: already started")}
	}

	stream, err := portaudio.OpenDefaultStream(
		0, s.format.Channels,
		float64(s.format.SampleRate), s.format.FrameSize,
		func(out []int16) { fn(out) },
	)
	if err != nil && s.format.Channels == 1 {
		// Stereo fallback mirroring the capture side: the mono stream is
		// duplicated into both hardware channels.
		stream, err = portaudio.OpenDefaultStream(
			0, 2,
			float64(s.format.SampleRate), s.format.FrameSize,
			upmixPlayback(fn, s.format.SamplesPerFrame()),
		)
	}
	if err != nil {
		return &audio.DeviceError{Op: "open", Dir: "playback", Err: err}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return &audio.DeviceError{Op: "start", Dir: "playback", Err: err}
	}
	s.stream = stream
	return nil
}

// Close implements [audio.PlaybackDevice]. Safe to call multiple times.
func (s *playbackStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()
		if stream == nil {
			return
		}
		if err := stream.Stop(); err != nil {
			s.closeErr = &audio.DeviceError{Op: "close", Dir: "playback", Err: err}
		}
		if err := stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = &audio.DeviceError{Op: "close", Dir: "playback", Err: err}
		}
	})
	return s.closeErr
}
