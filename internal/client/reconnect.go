package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxAttempts = 3
	defaultBackoff     = 1 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Reconnector re-establishes a dropped connection with exponential backoff.
//
// Callers signal a drop via [Reconnector.NotifyDisconnect]; the monitor
// goroutine then calls the configured Dial function until it succeeds or the
// attempt budget is spent. All methods are safe for concurrent use.
type Reconnector struct {
	dial        func(ctx context.Context) error
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	onGiveUp    func(error)
	log         *slog.Logger

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dial performs one connection attempt. Required.
	Dial func(ctx context.Context) error

	// MaxAttempts is the number of attempts per reconnection cycle before
	// giving up. Defaults to 3 if zero.
	MaxAttempts int

	// Backoff is the initial delay between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the backoff delay. Defaults to 30s if
	// zero.
	MaxBackoff time.Duration

	// OnGiveUp is called with the last dial error once the attempt budget is
	// spent. May be nil.
	OnGiveUp func(error)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewReconnector creates a [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		dial:         cfg.Dial,
		maxAttempts:  cfg.MaxAttempts,
		backoff:      cfg.Backoff,
		maxBackoff:   cfg.MaxBackoff,
		onGiveUp:     cfg.OnGiveUp,
		log:          cfg.Logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Monitor starts the reconnection goroutine. ctx bounds the monitor's
// lifetime alongside [Reconnector.Stop].
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals that the connection has been lost and a
// reconnection cycle should run. Safe to call multiple times; only the first
// call per cycle has effect, and it never blocks.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled.
	}
}

// Stop halts the monitor. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect runs one reconnection cycle: dial, back off, double,
// repeat until success or the attempt budget is spent.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	backoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(backoff):
		}

		r.log.Info("attempting reconnection",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", backoff,
		)

		err := r.dial(ctx)
		if err == nil {
			r.log.Info("reconnection successful", "attempt", attempt)
			return
		}
		lastErr = err

		r.log.Warn("reconnection attempt failed", "attempt", attempt, "err", err)

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}

	r.log.Error("reconnection failed", "max_attempts", r.maxAttempts, "err", lastErr)
	if r.onGiveUp != nil {
		r.onGiveUp(lastErr)
	}
}
