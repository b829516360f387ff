package engine

import (
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// State represents a streaming engine's lifecycle phase.
type State int

const (
	// StateEstablishing is the initial state: the engine exists but the
	// session has not started streaming yet.
	StateEstablishing State = iota

	// StateStreaming is the steady state — the tick loop drives the send
	// path and the inbound queue is being drained.
	StateStreaming

	// StateDraining means close was requested; outstanding acks are awaited
	// up to the drain timeout before the channel is released.
	StateDraining

	// StateClosed is the clean terminal state.
	StateClosed

	// StateFailed is the absorbing terminal state reached on a fatal error.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are possible.
func (s State) terminal() bool {
	return s == StateClosed || s == StateFailed
}

// RTTPercentiles holds round-trip percentiles over the bounded sample
// window.
type RTTPercentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Snapshot is an immutable point-in-time view of one session's streaming
// state, republished by the engine tick.
type Snapshot struct {
	State  State
	Window int

	FramesSent     uint64
	FramesAcked    uint64
	FramesReceived uint64
	InFlight       int

	Evictions uint64
	Underruns uint64
	LossGaps  uint64

	DriftInserted uint64
	DriftDropped  uint64

	RTTLast     time.Duration
	RTTSmoothed time.Duration
	RTT         RTTPercentiles

	CaptureOccupancy  int
	PlaybackOccupancy int
}

// Stats is the engine's metrics tap: readers get the latest snapshot via an
// atomic pointer swap and never contend with the engine goroutine.
type Stats struct {
	snap atomic.Pointer[Snapshot]
}

func newStats() *Stats {
	s := &Stats{}
	s.snap.Store(&Snapshot{})
	return s
}

// Snapshot returns the most recently published view. Never blocks.
func (s *Stats) Snapshot() Snapshot {
	return *s.snap.Load()
}

func (s *Stats) publish(snap *Snapshot) {
	s.snap.Store(snap)
}

// rttBuffer is a bounded ring of round-trip samples from which percentiles
// are computed at publish time. Owned by the engine goroutine.
type rttBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newRTTBuffer(size int) *rttBuffer {
	if size <= 0 {
		size = 128
	}
	return &rttBuffer{data: make([]time.Duration, size)}
}

func (rb *rttBuffer) add(d time.Duration) {
	rb.data[rb.pos] = d
	rb.pos++
	if rb.pos >= len(rb.data) {
		rb.pos = 0
		rb.full = true
	}
}

func (rb *rttBuffer) percentiles() RTTPercentiles {
	n := rb.pos
	if rb.full {
		n = len(rb.data)
	}
	if n == 0 {
		return RTTPercentiles{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, rb.data[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return RTTPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
