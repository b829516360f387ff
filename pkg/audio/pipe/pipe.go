// Package pipe provides an in-process loopback device pair: audio written to
// the playback side is captured again on the capture side after one queue
// hop. It backs the server's echo peer, so every accepted session exercises
// the full capture → send → receive → playback pipeline without hardware, and
// it serves as the device backend for integration tests.
//
// Both devices run their own ticker goroutine at the frame period, standing in
// for a hardware driver's callback cycle. The shared queue behaves like the
// rest of the pipeline's buffers: silence when empty, drop-oldest when full.
package pipe

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Opener = (*Pipe)(nil)

// defaultQueueCap bounds the number of frames in flight between the playback
// and capture sides.
const defaultQueueCap = 8

// Pipe is a loopback device factory. OpenPlayback and OpenCapture return the
// two ends of the same frame queue.
type Pipe struct {
	format audio.Format
	queue  chan []int16
}

// New creates a loopback pipe for streams of format f. queueCap bounds the
// frames buffered between the two sides; values below 1 use a default.
func New(f audio.Format, queueCap int) (*Pipe, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("pipe: invalid format: %w", err)
	}
	if queueCap < 1 {
		queueCap = defaultQueueCap
	}
	return &Pipe{
		format: f,
		queue:  make(chan []int16, queueCap),
	}, nil
}

// OpenCapture implements [audio.Opener]. The returned device emits whatever
// the playback side queued, or silence when the queue is empty.
func (p *Pipe) OpenCapture(f audio.Format) (audio.CaptureDevice, error) {
	if f != p.format {
		return nil, &audio.DeviceError{Op: "open", Dir: "capture",
			Err: fmt.Errorf("pipe: format %s does not match pipe format %s", f, p.format)}
	}
	return captureDevice{&device{pipe: p, capture: true}}, nil
}

// OpenPlayback implements [audio.Opener].
func (p *Pipe) OpenPlayback(f audio.Format) (audio.PlaybackDevice, error) {
	if f != p.format {
		return nil, &audio.DeviceError{Op: "open", Dir: "playback",
			Err: fmt.Errorf("pipe: format %s does not match pipe format %s", f, p.format)}
	}
	return playbackDevice{&device{pipe: p, capture: false}}, nil
}

// captureDevice and playbackDevice wrap device so each direction's Start has
// the named callback type its interface requires.
type captureDevice struct{ *device }

func (d captureDevice) Start(fn audio.CaptureFunc) error { return d.device.Start(fn) }

type playbackDevice struct{ *device }

func (d playbackDevice) Start(fn audio.PlaybackFunc) error { return d.device.Start(fn) }

// device is one end of the pipe. capture selects which side it is.
type device struct {
	pipe    *Pipe
	capture bool

	mu        sync.Mutex
	started   bool
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start implements [audio.CaptureDevice] and [audio.PlaybackDevice]. The
// capture callback fn and the playback callback fn have the same shape, so
// one device type serves both directions.
func (d *device) Start(fn func(samples []int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		dir := "playback"
		if d.capture {
			dir = "capture"
		}
		return &audio.DeviceError{Op: "start", Dir: dir, Err: errors.New("pipe: already started")}
	}
	d.started = true
	d.done = make(chan struct{})

	d.wg.Add(1)
	go d.run(fn)
	return nil
}

// Close implements the device interfaces. Safe to call multiple times.
func (d *device) Close() error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
	return nil
}

// run is the device's stand-in for a hardware callback cycle. One tick per
// frame period.
func (d *device) run(fn func([]int16)) {
	defer d.wg.Done()

	buf := make([]int16, d.pipe.format.SamplesPerFrame())
	ticker := time.NewTicker(d.pipe.format.FrameDuration())
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			if d.capture {
				// Pull the next queued frame, or silence when none is ready.
				select {
				case frame := <-d.pipe.queue:
					copy(buf, frame)
				default:
					clear(buf)
				}
				fn(buf)
			} else {
				fn(buf)
				out := make([]int16, len(buf))
				copy(out, buf)
				d.enqueue(out)
			}
		}
	}
}

// enqueue pushes a frame towards the capture side, dropping the oldest queued
// frame when the queue is full.
func (d *device) enqueue(frame []int16) {
	select {
	case d.pipe.queue <- frame:
		return
	default:
	}
	select {
	case <-d.pipe.queue:
	default:
	}
	select {
	case d.pipe.queue <- frame:
	default:
	}
}
