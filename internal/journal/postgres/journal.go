// Package postgres provides the PostgreSQL-backed session journal.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxwire/internal/journal"
)

// Compile-time interface check.
var _ journal.Recorder = (*Recorder)(nil)

// schema creates the journal table on first use. Counters live in plain
// bigint columns; entries are append-once, update-once rows.
const schema = `
CREATE TABLE IF NOT EXISTS session_journal (
    session_id      text PRIMARY KEY,
    subject         text NOT NULL,
    started_at      timestamptz NOT NULL,
    closed_at       timestamptz,
    outcome         text,
    reason          text,
    frames_sent     bigint NOT NULL DEFAULT 0,
    frames_received bigint NOT NULL DEFAULT 0,
    loss_gaps       bigint NOT NULL DEFAULT 0,
    evictions       bigint NOT NULL DEFAULT 0,
    underruns       bigint NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS session_journal_started_at_idx
    ON session_journal (started_at DESC);
`

// Recorder persists session lifecycle rows through a [pgxpool.Pool]. Safe
// for concurrent use.
type Recorder struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and ensures
// the journal schema exists.
func New(ctx context.Context, dsn string) (*Recorder, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres journal: migrate: %w", err)
	}

	return &Recorder{pool: pool}, nil
}

func (r *Recorder) SessionStarted(ctx context.Context, sessionID, subject string, startedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_journal (session_id, subject, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, subject, startedAt)
	if err != nil {
		return fmt.Errorf("postgres journal: record start: %w", err)
	}
	return nil
}

func (r *Recorder) SessionClosed(ctx context.Context, e journal.Entry) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE session_journal
		SET closed_at = $2, outcome = $3, reason = $4,
		    frames_sent = $5, frames_received = $6,
		    loss_gaps = $7, evictions = $8, underruns = $9
		WHERE session_id = $1`,
		e.SessionID, e.ClosedAt, e.Outcome, e.Reason,
		int64(e.FramesSent), int64(e.FramesReceived),
		int64(e.LossGaps), int64(e.Evictions), int64(e.Underruns))
	if err != nil {
		return fmt.Errorf("postgres journal: record close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres journal: unknown session %q", e.SessionID)
	}
	return nil
}

func (r *Recorder) Recent(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, subject, started_at, closed_at, outcome, reason,
		       frames_sent, frames_received, loss_gaps, evictions, underruns
		FROM session_journal
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres journal: query recent: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var (
			e        journal.Entry
			closedAt *time.Time
			outcome  *string
			reason   *string
			sent, recv, gaps, evict, under int64
		)
		if err := rows.Scan(&e.SessionID, &e.Subject, &e.StartedAt,
			&closedAt, &outcome, &reason,
			&sent, &recv, &gaps, &evict, &under); err != nil {
			return nil, fmt.Errorf("postgres journal: scan: %w", err)
		}
		if closedAt != nil {
			e.ClosedAt = *closedAt
		}
		if outcome != nil {
			e.Outcome = *outcome
		}
		if reason != nil {
			e.Reason = *reason
		}
		e.FramesSent = uint64(sent)
		e.FramesReceived = uint64(recv)
		e.LossGaps = uint64(gaps)
		e.Evictions = uint64(evict)
		e.Underruns = uint64(under)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres journal: iterate: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *Recorder) Close() error {
	r.pool.Close()
	return nil
}
