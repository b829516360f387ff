package engine

import "time"

// driftEWMAAlpha smooths the playback-ring occupancy samples so a momentary
// burst or dip does not trigger a correction; only a persistent trend moves
// the estimate past a watermark.
const driftEWMAAlpha = 0.05

// driftAction is the corrector's verdict for one occupancy sample.
type driftAction int

const (
	driftNone driftAction = iota

	// driftInsert: playback is starving, feed one silence frame.
	driftInsert

	// driftDrop: playback is backing up, discard one frame.
	driftDrop
)

// driftCorrector reconciles the independent capture and playback clocks by
// watching the playback ring's smoothed occupancy. Corrections are applied
// at the playback side only, at most one frame per interval.
//
// Owned by the engine goroutine; not safe for concurrent use.
type driftCorrector struct {
	low      float64
	high     float64
	interval time.Duration

	ewma   float64
	primed bool

	lastCorrection time.Time
	inserted       uint64
	dropped        uint64
}

// newDriftCorrector builds a corrector for a playback ring of the given
// capacity. Watermarks bracket the half-full resting point: low at a quarter
// of capacity, high at three quarters.
func newDriftCorrector(ringCap int, interval time.Duration) *driftCorrector {
	return &driftCorrector{
		low:      float64(ringCap) / 4,
		high:     3 * float64(ringCap) / 4,
		interval: interval,
	}
}

// Observe folds one occupancy sample into the estimate and returns the
// correction to apply, if any. The caller performs the insert or drop and
// this corrector counts it.
func (d *driftCorrector) Observe(occupancy int, now time.Time) driftAction {
	if !d.primed {
		d.ewma = float64(occupancy)
		d.primed = true
		d.lastCorrection = now
		return driftNone
	}
	d.ewma = (1-driftEWMAAlpha)*d.ewma + driftEWMAAlpha*float64(occupancy)

	if now.Sub(d.lastCorrection) < d.interval {
		return driftNone
	}

	switch {
	case d.ewma < d.low:
		d.lastCorrection = now
		d.inserted++
		// Nudge the estimate so one slow refill does not re-trigger.
		d.ewma++
		return driftInsert
	case d.ewma > d.high:
		d.lastCorrection = now
		d.dropped++
		d.ewma--
		return driftDrop
	default:
		return driftNone
	}
}

// Counts returns the cumulative inserted and dropped frame totals.
func (d *driftCorrector) Counts() (inserted, dropped uint64) {
	return d.inserted, d.dropped
}
