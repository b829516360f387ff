package engine

import (
	"testing"
	"time"
)

const rttTarget = 150 * time.Millisecond

func TestWindowGrowsToCeiling(t *testing.T) {
	w := newSendWindow(1, 8, rttTarget)

	for i := 0; i < 20; i++ {
		w.OnAck(20 * time.Millisecond)
	}
	if w.Size() != 8 {
		t.Errorf("window = %d, want ceiling 8", w.Size())
	}
}

func TestWindowHalvesOnLoss(t *testing.T) {
	w := newSendWindow(1, 32, rttTarget)
	for i := 0; i < 16; i++ {
		w.OnAck(20 * time.Millisecond)
	}
	before := w.Size()

	w.OnLoss()
	if w.Size() != before/2 {
		t.Errorf("window after loss = %d, want %d", w.Size(), before/2)
	}
}

func TestWindowHalvesOnHighRTT(t *testing.T) {
	w := newSendWindow(1, 32, rttTarget)
	for i := 0; i < 16; i++ {
		w.OnAck(20 * time.Millisecond)
	}
	before := w.Size()

	w.OnAck(400 * time.Millisecond)
	if w.Size() != before/2 {
		t.Errorf("window after high-RTT ack = %d, want %d", w.Size(), before/2)
	}
}

func TestWindowNeverBelowFloor(t *testing.T) {
	w := newSendWindow(2, 32, rttTarget)
	for i := 0; i < 10; i++ {
		w.OnLoss()
	}
	if w.Size() != 2 {
		t.Errorf("window = %d, want floor 2", w.Size())
	}
}

// TestWindowConvergesInverselyWithLoss drives two identical windows with
// good-RTT acks, punctuating one with periodic losses, and checks the lossy
// window settles well below the lossless one while staying in bounds.
func TestWindowConvergesInverselyWithLoss(t *testing.T) {
	lossless := newSendWindow(1, 32, rttTarget)
	lossy := newSendWindow(1, 32, rttTarget)

	sum, samples := 0, 0
	for i := 0; i < 1000; i++ {
		lossless.OnAck(20 * time.Millisecond)
		if i%10 == 9 {
			lossy.OnLoss()
		} else {
			lossy.OnAck(20 * time.Millisecond)
		}

		for _, w := range []*sendWindow{lossless, lossy} {
			if w.Size() < 1 || w.Size() > 32 {
				t.Fatalf("window %d out of [1,32] at step %d", w.Size(), i)
			}
		}
		if i >= 500 {
			sum += lossy.Size()
			samples++
		}
	}

	if lossless.Size() != 32 {
		t.Errorf("lossless window = %d, want ceiling 32", lossless.Size())
	}
	if avg := sum / samples; avg >= 16 {
		t.Errorf("lossy window averaged %d, want well below the ceiling", avg)
	}
}

func TestRTTSmoothing(t *testing.T) {
	w := newSendWindow(1, 32, rttTarget)

	w.OnAck(100 * time.Millisecond)
	if _, s := w.RTT(); s != 100*time.Millisecond {
		t.Errorf("first sample should seed the estimate, got %v", s)
	}

	w.OnAck(200 * time.Millisecond)
	last, smoothed := w.RTT()
	if last != 200*time.Millisecond {
		t.Errorf("last = %v, want 200ms", last)
	}
	// EWMA with alpha 0.125: 0.875*100 + 0.125*200 = 112.5ms.
	if want := 112500 * time.Microsecond; smoothed != want {
		t.Errorf("smoothed = %v, want %v", smoothed, want)
	}
}
