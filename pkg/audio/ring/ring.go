// Package ring provides the fixed-capacity frame buffer that sits between an
// audio device's real-time callback and the streaming engine.
//
// A [Ring] is a single-producer/single-consumer circular buffer of
// pre-allocated frame slots. The producer and consumer run in different
// scheduling domains (device callback vs engine tick) and synchronise through
// atomic cursors only — no mutex is taken on the hot path, and the consumer
// can never block the producer's real-time deadline.
//
// Overrun policy: when the ring is full, Write evicts the oldest unread frame
// to make room and reports [ErrOverrun]; the write itself still succeeds.
// Bounded staleness is preferred over unbounded latency. Underrun policy:
// when the ring is empty, Read returns a silence frame and [ErrUnderrun]
// instead of blocking, so a playback callback never stalls. Both conditions
// are counted and exposed via [Ring.Evictions] and [Ring.Underruns]; they are
// recoverable by design and never escalate beyond their counters.
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// ErrOverrun reports that a Write evicted the oldest unread frame to make
// room. The written frame was stored.
var ErrOverrun = errors.New("ring: overrun, oldest frame evicted")

// ErrUnderrun reports that a Read found the ring empty and returned silence.
var ErrUnderrun = errors.New("ring: underrun, silence substituted")

// slot is one pre-allocated storage region of the circular index space.
type slot struct {
	samples []int16
	seq     uint64
	ts      int64 // Frame.Timestamp in nanoseconds
}

// Ring is a wait-free single-producer/single-consumer frame buffer.
//
// Exactly one goroutine (or device callback context) may call Write, and
// exactly one may call Read. The counters and Len are safe to read from any
// goroutine.
type Ring struct {
	format audio.Format
	slots  []slot

	// Cursors count frames monotonically and are reduced modulo capacity for
	// slot indexing, so they never suffer index reuse ambiguity. writeCur is
	// only advanced by the producer; readCur is advanced by the consumer, and
	// by the producer when it evicts.
	writeCur atomic.Uint64
	readCur  atomic.Uint64

	evictions atomic.Uint64
	underruns atomic.Uint64

	// out is the consumer-owned scratch frame reused by every Read.
	out []int16
}

// New creates a ring of capacity pre-allocated slots for frames of format f.
// Capacity must be at least 1; no allocation happens after New returns.
func New(f audio.Format, capacity int) (*Ring, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("ring: invalid format: %w", err)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("ring: capacity must be at least 1, got %d", capacity)
	}
	r := &Ring{
		format: f,
		slots:  make([]slot, capacity),
		out:    make([]int16, f.SamplesPerFrame()),
	}
	for i := range r.slots {
		r.slots[i].samples = make([]int16, f.SamplesPerFrame())
	}
	return r, nil
}

// Write copies frame into the ring. When the ring is full it first evicts the
// oldest unread frame and returns [ErrOverrun]; the write still succeeds.
// Only the producer may call Write.
func (r *Ring) Write(frame audio.Frame) error {
	if len(frame.Samples) != r.format.SamplesPerFrame() {
		return fmt.Errorf("ring: frame has %d samples, want %d", len(frame.Samples), r.format.SamplesPerFrame())
	}

	w := r.writeCur.Load()
	evicted := false

	// Full: claim the oldest slot by advancing the read cursor past it. The
	// CAS can lose at most once, to a concurrent Read; after that the ring
	// cannot be full again until this producer writes.
	for {
		rd := r.readCur.Load()
		if w-rd < uint64(len(r.slots)) {
			break
		}
		if r.readCur.CompareAndSwap(rd, rd+1) {
			r.evictions.Add(1)
			evicted = true
			break
		}
	}

	s := &r.slots[w%uint64(len(r.slots))]
	copy(s.samples, frame.Samples)
	s.seq = frame.Seq
	s.ts = int64(frame.Timestamp)

	// Publish: the slot contents must be complete before the cursor moves.
	r.writeCur.Store(w + 1)

	if evicted {
		return ErrOverrun
	}
	return nil
}

// Read copies the oldest frame out of the ring. When the ring is empty it
// returns a silence frame (all-zero samples, zero Seq) and [ErrUnderrun].
// Only the consumer may call Read.
//
// The returned frame's sample buffer is owned by the ring and is valid until
// the next Read; callers that keep the data longer must copy it.
func (r *Ring) Read() (audio.Frame, error) {
	for {
		w := r.writeCur.Load()
		rd := r.readCur.Load()
		if rd == w {
			r.underruns.Add(1)
			clear(r.out)
			return audio.Frame{Samples: r.out}, ErrUnderrun
		}

		s := &r.slots[rd%uint64(len(r.slots))]
		copy(r.out, s.samples)
		seq := s.seq
		ts := s.ts

		// The copy is only coherent if the producer did not evict this slot
		// while we were reading it; the CAS detects that and retries.
		if r.readCur.CompareAndSwap(rd, rd+1) {
			return audio.Frame{Samples: r.out, Seq: seq, Timestamp: time.Duration(ts)}, nil
		}
	}
}

// Len returns the number of unread frames. With concurrent use the value is
// a snapshot and may be stale by the time it is observed.
func (r *Ring) Len() int {
	w := r.writeCur.Load()
	rd := r.readCur.Load()
	if w < rd {
		return 0
	}
	return int(w - rd)
}

// Cap returns the fixed slot capacity.
func (r *Ring) Cap() int { return len(r.slots) }

// Format returns the frame format the ring was created for.
func (r *Ring) Format() audio.Format { return r.format }

// Evictions returns the cumulative count of frames evicted by overrun.
func (r *Ring) Evictions() uint64 { return r.evictions.Load() }

// Underruns returns the cumulative count of reads that returned silence.
func (r *Ring) Underruns() uint64 { return r.underruns.Load() }
