package engine

import "time"

// rttAlpha is the EWMA smoothing factor for round-trip samples, matching the
// classic TCP SRTT weighting.
const rttAlpha = 0.125

// sendWindow is the engine's AIMD congestion window over unacknowledged data
// envelopes. Additive increase: one ack with a round-trip at or below the
// target grows the window by one, up to the ceiling. Multiplicative
// decrease: an ack-sequence gap (loss) or an above-target round-trip halves
// it, never below the floor.
//
// Owned by the engine goroutine; not safe for concurrent use.
type sendWindow struct {
	size    int
	floor   int
	ceiling int
	target  time.Duration

	// smoothed is the EWMA round-trip estimate; zero until the first sample.
	smoothed time.Duration
	last     time.Duration
}

func newSendWindow(floor, ceiling int, target time.Duration) *sendWindow {
	if floor < 1 {
		floor = 1
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &sendWindow{
		size:    floor,
		floor:   floor,
		ceiling: ceiling,
		target:  target,
	}
}

// Size returns the current window size in frames.
func (w *sendWindow) Size() int { return w.size }

// RTT returns the last raw sample and the smoothed estimate.
func (w *sendWindow) RTT() (last, smoothed time.Duration) {
	return w.last, w.smoothed
}

// OnAck folds one round-trip sample into the estimator and adapts the
// window: grow on a good sample, halve on a congested one.
func (w *sendWindow) OnAck(rtt time.Duration) {
	w.last = rtt
	if w.smoothed == 0 {
		w.smoothed = rtt
	} else {
		w.smoothed = time.Duration((1-rttAlpha)*float64(w.smoothed) + rttAlpha*float64(rtt))
	}

	if rtt > w.target {
		w.halve()
		return
	}
	if w.size < w.ceiling {
		w.size++
	}
}

// OnLoss halves the window in response to an ack-sequence gap.
func (w *sendWindow) OnLoss() {
	w.halve()
}

func (w *sendWindow) halve() {
	w.size /= 2
	if w.size < w.floor {
		w.size = w.floor
	}
}
