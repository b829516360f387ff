// Package journal records session lifecycle metadata: when a session
// started, how it ended, and its final streaming counters. Audio is never
// journaled.
package journal

import (
	"context"
	"time"
)

// Entry is one session's lifecycle record.
type Entry struct {
	SessionID string
	Subject   string
	StartedAt time.Time

	// ClosedAt is zero while the session is live.
	ClosedAt time.Time

	// Outcome is "closed" for a clean end or "failed"; Reason carries the
	// terminal error text for failures.
	Outcome string
	Reason  string

	// Final streaming counters, recorded at close.
	FramesSent     uint64
	FramesReceived uint64
	LossGaps       uint64
	Evictions      uint64
	Underruns      uint64
}

// Session outcomes.
const (
	OutcomeClosed = "closed"
	OutcomeFailed = "failed"
)

// Recorder persists session lifecycle entries. Implementations must be safe
// for concurrent use; recording failures are logged by callers, never fatal
// to the session itself.
type Recorder interface {
	// SessionStarted records a new live session.
	SessionStarted(ctx context.Context, sessionID, subject string, startedAt time.Time) error

	// SessionClosed finalises a session with its outcome and counters.
	SessionClosed(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, most recent first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Close releases the recorder's resources.
	Close() error
}
