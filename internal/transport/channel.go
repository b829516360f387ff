package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxwire/internal/auth"
)

// ErrChannelClosed is returned by Send after the channel has closed.
var ErrChannelClosed = errors.New("transport: channel is closed")

// TransportError reports a connection-level failure: read/write error or
// liveness timeout. Transport errors are fatal to the session that owns the
// channel.
type TransportError struct {
	// Op is the operation that failed: "read", "write", "liveness".
	Op string

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds a [Channel]'s timing knobs.
type Config struct {
	// LivenessTimeout marks the connection dead when no inbound message
	// (data or keepalive) arrives for this long. Default 15s.
	LivenessTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the close envelope write
	// before force-releasing the connection. Default 3s.
	CloseTimeout time.Duration

	// InboundBuffer is the capacity of the decoded inbound queue. When the
	// consumer lags behind, the oldest queued message is dropped, keeping
	// latency bounded. Default 64.
	InboundBuffer int
}

func (c *Config) applyDefaults() {
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 15 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 3 * time.Second
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = 64
	}
}

// Channel is one session's transport: a WebSocket connection plus a read
// loop that decodes inbound envelopes into a bounded queue and a liveness
// watchdog. Construct with [NewChannel] on either side after the handshake
// has completed.
//
// Send may be called from one goroutine at a time (the engine's tick);
// Inbound has a single consumer (the engine's receive loop). Close is safe
// from any goroutine and idempotent.
type Channel struct {
	conn     *websocket.Conn
	identity auth.SessionIdentity
	cfg      Config
	log      *slog.Logger

	inbound chan Message
	done    chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	// lastRecv is the wall-clock nanos of the most recent inbound message.
	lastRecv atomic.Int64

	// terminalErr is set at most once, before done is closed.
	errMu       sync.Mutex
	terminalErr error

	// dropped counts inbound messages discarded because the queue was full.
	dropped atomic.Uint64
}

// NewChannel wraps an established connection. identity is the session the
// connection was authenticated as. The read loop and liveness watchdog start
// immediately.
func NewChannel(conn *websocket.Conn, identity auth.SessionIdentity, cfg Config) *Channel {
	cfg.applyDefaults()
	c := &Channel{
		conn:     conn,
		identity: identity,
		cfg:      cfg,
		log:      slog.With("session_id", identity.SessionID),
		inbound:  make(chan Message, cfg.InboundBuffer),
		done:     make(chan struct{}),
	}
	c.lastRecv.Store(time.Now().UnixNano())

	go c.readLoop()
	go c.watchLiveness()
	return c
}

// Identity returns the session identity this channel was created for.
func (c *Channel) Identity() auth.SessionIdentity { return c.identity }

// Inbound returns the decoded inbound message queue. The channel is closed
// after the connection ends; drain it to observe the final messages.
func (c *Channel) Inbound() <-chan Message { return c.inbound }

// Done is closed when the channel has terminally closed, for any reason.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the terminal transport error, or nil after a clean close.
// Only meaningful once Done is closed.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.terminalErr
}

// Dropped returns the cumulative count of inbound messages discarded because
// the consumer lagged behind the queue.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Send encodes and writes one envelope. Returns [ErrChannelClosed] after the
// channel has closed, or a *[TransportError] on a write failure (which also
// closes the channel).
func (c *Channel) Send(ctx context.Context, m Message) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, m.Encode()); err != nil {
		if c.closed.Load() {
			return ErrChannelClosed
		}
		terr := &TransportError{Op: "write", Err: err}
		c.fail(terr)
		return terr
	}
	return nil
}

// Close shuts the channel down. A best-effort close envelope and WebSocket
// close frame are sent within the close timeout; the underlying connection
// is always released, even when the peer is unresponsive. Safe to call
// multiple times; later calls return nil immediately.
func (c *Channel) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
		defer cancel()

		env := Message{Type: TypeClose, TS: Timestamp(), Payload: []byte(reason)}
		if err := c.conn.Write(ctx, websocket.MessageBinary, env.Encode()); err != nil {
			c.log.Debug("close envelope write failed", "err", err)
		}

		// StatusNormalClosure starts the WebSocket close handshake; the
		// read loop observes it and exits. CloseNow below is the bounded
		// backstop if the peer never answers.
		err := c.conn.Close(websocket.StatusNormalClosure, reason)
		if err != nil {
			_ = c.conn.CloseNow()
		}

		c.finish(nil)
	})
	return nil
}

// fail records err as the terminal error and releases the connection.
func (c *Channel) fail(err *TransportError) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.log.Warn("transport channel failed", "op", err.Op, "err", err.Err)
		_ = c.conn.CloseNow()
		c.finish(err)
	})
}

// finish publishes the terminal error and closes done. Called exactly once,
// under closeOnce.
func (c *Channel) finish(err error) {
	c.errMu.Lock()
	if err != nil {
		c.terminalErr = err
	}
	c.errMu.Unlock()
	close(c.done)
}

// readLoop decodes inbound binary envelopes into the inbound queue until the
// connection ends. Runs in its own goroutine for the channel's life.
func (c *Channel) readLoop() {
	defer close(c.inbound)

	for {
		typ, data, err := c.conn.Read(context.Background())
		if err != nil {
			if c.closed.Load() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.Close("")
			} else {
				c.fail(&TransportError{Op: "read", Err: err})
			}
			return
		}
		if typ != websocket.MessageBinary {
			c.log.Debug("ignoring non-binary message after handshake")
			continue
		}

		m, err := Decode(data)
		if err != nil {
			c.log.Debug("dropping undecodable message", "err", err)
			continue
		}
		c.lastRecv.Store(time.Now().UnixNano())

		// Payload aliases the read buffer; copy before queueing.
		if len(m.Payload) > 0 {
			cp := make([]byte, len(m.Payload))
			copy(cp, m.Payload)
			m.Payload = cp
		}

		select {
		case c.inbound <- m:
		default:
			// Queue full: evict the oldest to keep latency bounded.
			select {
			case <-c.inbound:
				c.dropped.Add(1)
			default:
			}
			select {
			case c.inbound <- m:
			default:
			}
		}

		if m.Type == TypeClose {
			c.Close("peer closed")
			return
		}
	}
}

// watchLiveness closes the channel when nothing has arrived for the liveness
// timeout. Checked at a quarter of the timeout for prompt detection without
// busy polling.
func (c *Channel) watchLiveness() {
	interval := c.cfg.LivenessTimeout / 4
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastRecv.Load())
			if silent := time.Since(last); silent > c.cfg.LivenessTimeout {
				c.fail(&TransportError{Op: "liveness",
					Err: fmt.Errorf("no message for %v (timeout %v)", silent.Round(time.Millisecond), c.cfg.LivenessTimeout)})
				return
			}
		}
	}
}

// monotonicStart anchors envelope timestamps.
var monotonicStart = time.Now()

// Timestamp returns the process-monotonic envelope timestamp in microseconds.
// Both peers stamp from their own start; acks echo the sender's stamp, so the
// sender can sample round-trip time without a clock exchange.
func Timestamp() uint64 {
	return uint64(time.Since(monotonicStart).Microseconds())
}
