package journal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Recorder = (*MemoryRecorder)(nil)

// MemoryRecorder keeps session lifecycle entries in memory, bounded to the
// most recent maxEntries. It is the default recorder when no journal DSN is
// configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewMemoryRecorder creates a recorder retaining at most maxEntries entries;
// non-positive means 1024.
func NewMemoryRecorder(maxEntries int) *MemoryRecorder {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryRecorder{max: maxEntries}
}

func (r *MemoryRecorder) SessionStarted(_ context.Context, sessionID, subject string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{
		SessionID: sessionID,
		Subject:   subject,
		StartedAt: startedAt,
	})
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
	return nil
}

func (r *MemoryRecorder) SessionClosed(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].SessionID == e.SessionID {
			started := r.entries[i].StartedAt
			r.entries[i] = e
			if e.StartedAt.IsZero() {
				r.entries[i].StartedAt = started
			}
			return nil
		}
	}
	return fmt.Errorf("journal: unknown session %q", e.SessionID)
}

func (r *MemoryRecorder) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.entries) {
		limit = len(r.entries)
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = r.entries[len(r.entries)-1-i]
	}
	return out, nil
}

func (r *MemoryRecorder) Close() error { return nil }
