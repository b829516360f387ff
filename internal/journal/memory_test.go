package journal

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRecorderLifecycle(t *testing.T) {
	r := NewMemoryRecorder(0)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	if err := r.SessionStarted(ctx, "s1", "alice", started); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	entries, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "s1" || entries[0].Outcome != "" {
		t.Fatalf("live entry = %+v", entries)
	}

	closed := Entry{
		SessionID:  "s1",
		Subject:    "alice",
		ClosedAt:   time.Now(),
		Outcome:    OutcomeClosed,
		FramesSent: 500,
		LossGaps:   3,
	}
	if err := r.SessionClosed(ctx, closed); err != nil {
		t.Fatalf("SessionClosed: %v", err)
	}

	entries, _ = r.Recent(ctx, 10)
	got := entries[0]
	if got.Outcome != OutcomeClosed || got.FramesSent != 500 || got.LossGaps != 3 {
		t.Errorf("closed entry = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("close lost the start time: %v", got.StartedAt)
	}
}

func TestMemoryRecorderUnknownSession(t *testing.T) {
	r := NewMemoryRecorder(0)
	err := r.SessionClosed(context.Background(), Entry{SessionID: "nope", Outcome: OutcomeFailed})
	if err == nil {
		t.Error("closing an unknown session should error")
	}
}

func TestMemoryRecorderRecentOrderAndLimit(t *testing.T) {
	r := NewMemoryRecorder(0)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_ = r.SessionStarted(ctx, id, "sub", time.Now().Add(time.Duration(i)*time.Second))
	}

	entries, _ := r.Recent(ctx, 2)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].SessionID != "c" || entries[1].SessionID != "b" {
		t.Errorf("order = %s, %s; want c, b", entries[0].SessionID, entries[1].SessionID)
	}
}

func TestMemoryRecorderBounded(t *testing.T) {
	r := NewMemoryRecorder(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_ = r.SessionStarted(ctx, id, "sub", time.Now())
	}

	entries, _ := r.Recent(ctx, 0)
	if len(entries) != 3 {
		t.Fatalf("retained %d entries, want 3", len(entries))
	}
	if entries[0].SessionID != "e" {
		t.Errorf("most recent = %s, want e", entries[0].SessionID)
	}
}
