// Package engine implements voxwire's per-session streaming engine: the
// state machine that moves audio frames between the capture ring and the
// transport on one side, and the transport and the playback ring on the
// other.
//
// One engine instance serves one session. A ticker at the frame cadence
// drives the send path under an AIMD congestion window; the same goroutine
// drains the transport's inbound queue, maintains the receive watermark,
// and reconciles clock drift at the playback side. All stream state is owned
// by that single goroutine — external readers observe it through the
// [Stats] atomic snapshot and never take a lock the engine holds.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxwire/internal/transport"
	"github.com/MrWong99/voxwire/pkg/audio"
	"github.com/MrWong99/voxwire/pkg/audio/ring"
)

// Link is the transport surface the engine drives. *transport.Channel
// satisfies it; tests substitute a simulated link with loss and jitter.
type Link interface {
	Send(ctx context.Context, m transport.Message) error
	Inbound() <-chan transport.Message
	Done() <-chan struct{}
	Err() error
	Close(reason string) error
}

// Config holds one engine's tuning knobs. Zero values take the defaults
// noted per field.
type Config struct {
	// WindowFloor and WindowCeiling bound the AIMD send window in frames.
	// Defaults 1 and 32.
	WindowFloor   int
	WindowCeiling int

	// RTTTarget is the round-trip threshold separating additive increase
	// from multiplicative decrease. Default 150ms.
	RTTTarget time.Duration

	// KeepaliveInterval is the maximum outbound silence before the engine
	// writes a keepalive envelope. Default 5s.
	KeepaliveInterval time.Duration

	// GapTolerance is the largest receive-sequence gap patched with silence
	// frames; larger gaps are counted as loss and skipped. Default 3.
	GapTolerance uint64

	// DrainTimeout bounds the Draining state: how long close waits for
	// outstanding acks before force-closing. Default 3s.
	DrainTimeout time.Duration

	// ReconcileInterval rate-limits drift corrections to one frame per
	// interval. Default 500ms.
	ReconcileInterval time.Duration

	// RTTWindow is the sample count for round-trip percentiles. Default 128.
	RTTWindow int

	// Codec encodes outbound frame payloads and decodes inbound ones.
	// Default raw PCM16.
	Codec audio.Codec

	// OnState, when set, is invoked from the engine goroutine on every state
	// transition. Must not block.
	OnState func(State)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.WindowFloor <= 0 {
		c.WindowFloor = 1
	}
	if c.WindowCeiling <= 0 {
		c.WindowCeiling = 32
	}
	if c.RTTTarget <= 0 {
		c.RTTTarget = 150 * time.Millisecond
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 5 * time.Second
	}
	if c.GapTolerance == 0 {
		c.GapTolerance = 3
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 3 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 500 * time.Millisecond
	}
	if c.RTTWindow <= 0 {
		c.RTTWindow = 128
	}
	if c.Codec == nil {
		c.Codec = audio.PCM{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is one session's streaming engine. Construct with [New], drive with
// [Engine.Start], stop with [Engine.Close]. All exported methods are safe
// for concurrent use.
type Engine struct {
	link     Link
	capture  *ring.Ring
	playback *ring.Ring
	cfg      Config
	log      *slog.Logger

	stats *Stats

	closeReq  chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	startOnce sync.Once

	errMu sync.Mutex
	err   error

	// Stream state below is owned exclusively by the run goroutine.
	state        State
	window       *sendWindow
	drift        *driftCorrector
	rtts         *rttBuffer
	nextSeq      uint64 // next outbound data sequence
	highestAck   uint64 // highest acknowledged outbound sequence
	nextExpected uint64 // receive watermark
	framesSent   uint64
	framesAcked  uint64
	framesRecv   uint64
	lossGaps     uint64
	dropPending  bool // one drift drop to apply to the next in-order frame
	lastSend     time.Time
	drainUntil   time.Time
}

// New builds an engine over an established link and the session's two rings.
// Frames drained from capture are sent; frames received are enqueued into
// playback. The engine starts in Establishing and does nothing until Start.
func New(link Link, capture, playback *ring.Ring, cfg Config) (*Engine, error) {
	if link == nil {
		return nil, errors.New("engine: nil link")
	}
	if capture == nil || playback == nil {
		return nil, errors.New("engine: nil ring")
	}
	if capture.Format() != playback.Format() {
		return nil, fmt.Errorf("engine: ring format mismatch: capture %v, playback %v",
			capture.Format(), playback.Format())
	}
	cfg.applyDefaults()

	e := &Engine{
		link:     link,
		capture:  capture,
		playback: playback,
		cfg:      cfg,
		log:      cfg.Logger,
		stats:    newStats(),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),

		state:        StateEstablishing,
		window:       newSendWindow(cfg.WindowFloor, cfg.WindowCeiling, cfg.RTTTarget),
		drift:        newDriftCorrector(playback.Cap(), cfg.ReconcileInterval),
		rtts:         newRTTBuffer(cfg.RTTWindow),
		nextSeq:      1,
		nextExpected: 1,
	}
	e.publish()
	return e, nil
}

// Start transitions to Streaming and launches the run loop. Subsequent calls
// are no-ops. Cancelling ctx requests a graceful close, identical to Close.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.run(ctx)
	})
}

// Close requests a graceful close and blocks until the engine is terminal:
// outstanding acks are awaited up to the drain timeout, then the link is
// released. Safe to call multiple times and concurrently with Start.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closeReq) })
	e.startOnce.Do(func() {
		// Never started: nothing in flight, terminal immediately.
		_ = e.link.Close("closed before start")
		e.transition(StateClosed)
		close(e.done)
	})
	<-e.done
	return nil
}

// Done is closed once the engine reaches Closed or Failed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err returns the terminal failure, or nil after a clean close. Meaningful
// once Done is closed.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// Stats returns the engine's metrics tap.
func (e *Engine) Stats() *Stats { return e.stats }

// State returns the most recently published state.
func (e *Engine) State() State { return e.stats.Snapshot().State }

// run is the engine goroutine: the tick loop, the inbound drain, and all
// state transitions live here.
func (e *Engine) run(ctx context.Context) {
	e.transition(StateStreaming)
	e.lastSend = time.Now()

	ticker := time.NewTicker(e.capture.Format().FrameDuration())
	defer ticker.Stop()

	closeReq := e.closeReq
	inbound := e.link.Inbound()
	for {
		select {
		case <-ctx.Done():
			e.beginDrain("context cancelled")
			ctx = context.WithoutCancel(ctx)
		case <-closeReq:
			e.beginDrain("close requested")
			closeReq = nil
		case <-e.link.Done():
			if err := e.link.Err(); err != nil {
				e.fail(err)
			} else {
				e.finish()
			}
			return
		case m, ok := <-inbound:
			if !ok {
				inbound = nil // terminal cause arrives via link.Done
				continue
			}
			e.handleInbound(ctx, m)
		case now := <-ticker.C:
			e.tick(ctx, now)
		}

		if e.state.terminal() {
			return
		}
	}
}

// tick runs once per frame period: send path, keepalive, drift
// reconciliation, drain deadline, snapshot republish.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	switch e.state {
	case StateStreaming:
		e.sendFrames(ctx, now)
	case StateDraining:
		if e.inFlight() == 0 || now.After(e.drainUntil) {
			e.finish()
			return
		}
	}

	e.keepalive(ctx, now)
	e.reconcile(now)
	e.publish()
}

// sendFrames drains up to window−inflight pending frames from the capture
// ring and transmits them as data envelopes.
func (e *Engine) sendFrames(ctx context.Context, now time.Time) {
	budget := e.window.Size() - e.inFlight()
	for i := 0; i < budget && e.capture.Len() > 0; i++ {
		frame, err := e.capture.Read()
		if err != nil {
			break
		}

		payload, err := e.cfg.Codec.Encode(frame.Samples)
		if err != nil {
			e.log.Warn("frame encode failed, skipping", "err", err)
			continue
		}

		m := transport.Message{
			Type:    transport.TypeData,
			Seq:     e.nextSeq,
			TS:      transport.Timestamp(),
			Payload: payload,
		}
		if err := e.link.Send(ctx, m); err != nil {
			// A failed link surfaces through link.Done; nothing more to do.
			return
		}
		e.nextSeq++
		e.framesSent++
		e.lastSend = now
	}
}

// keepalive proves liveness to the peer during outbound silence.
func (e *Engine) keepalive(ctx context.Context, now time.Time) {
	if now.Sub(e.lastSend) < e.cfg.KeepaliveInterval {
		return
	}
	m := transport.Message{Type: transport.TypeKeepalive, TS: transport.Timestamp()}
	if err := e.link.Send(ctx, m); err == nil {
		e.lastSend = now
	}
}

// reconcile samples playback-ring occupancy and applies at most one drift
// correction: a silence insert when starving, a frame drop when backed up.
// The capture side is never touched. Reconciliation only runs once the
// receive path is live; a send-only session has nothing to pace.
//
// The engine is the playback ring's producer; the device callback is its
// sole consumer. A drop is therefore applied on the producer side, by
// skipping the next in-order frame instead of reading the ring here.
func (e *Engine) reconcile(now time.Time) {
	if e.framesRecv == 0 {
		return
	}
	switch e.drift.Observe(e.playback.Len(), now) {
	case driftInsert:
		_ = e.playback.Write(audio.Silence(e.playback.Format()))
	case driftDrop:
		e.dropPending = true
	}
}

// handleInbound processes one decoded envelope from the peer.
func (e *Engine) handleInbound(ctx context.Context, m transport.Message) {
	switch m.Type {
	case transport.TypeData:
		e.handleData(ctx, m)
	case transport.TypeAck:
		e.handleAck(m)
	case transport.TypeKeepalive:
		// Liveness bookkeeping happens in the transport.
	case transport.TypeClose:
		e.log.Debug("peer announced close", "reason", string(m.Payload))
	}
}

// handleData maintains the receive watermark: in-order frames are enqueued,
// duplicates are discarded but still acked, small gaps are patched with
// silence, and larger gaps are counted as loss and skipped. Every data
// envelope is acked with its own seq and timestamp echoed.
func (e *Engine) handleData(ctx context.Context, m transport.Message) {
	defer e.ack(ctx, m)

	if m.Seq < e.nextExpected {
		return // duplicate or stale: ack only
	}

	samples, err := e.cfg.Codec.Decode(m.Payload)
	if err != nil {
		e.log.Warn("frame decode failed, dropping", "seq", m.Seq, "err", err)
		return
	}
	if want := e.playback.Format().SamplesPerFrame(); len(samples) != want {
		e.log.Warn("frame length mismatch, dropping", "seq", m.Seq,
			"samples", len(samples), "want", want)
		return
	}

	if gap := m.Seq - e.nextExpected; gap > 0 {
		if gap <= e.cfg.GapTolerance {
			for i := uint64(0); i < gap; i++ {
				_ = e.playback.Write(audio.Silence(e.playback.Format()))
			}
		} else {
			e.lossGaps++
		}
	}

	if e.dropPending {
		// Pending drift correction: the frame is consumed here instead of
		// being enqueued, shortening the playback backlog by one.
		e.dropPending = false
		e.framesRecv++
		e.nextExpected = m.Seq + 1
		return
	}

	_ = e.playback.Write(audio.Frame{
		Samples:   samples,
		Seq:       m.Seq,
		Timestamp: time.Duration(m.TS) * time.Microsecond,
	})
	e.framesRecv++
	e.nextExpected = m.Seq + 1
}

// handleAck samples the round-trip from the echoed timestamp and adapts the
// send window: growth on a good sample, halving on loss or congestion.
func (e *Engine) handleAck(m transport.Message) {
	if m.Seq <= e.highestAck {
		return // stale ack
	}

	if m.Seq > e.highestAck+1 {
		// Acks for the intervening frames never came: treat as loss.
		e.window.OnLoss()
	}

	rtt := time.Duration(transport.Timestamp()-m.TS) * time.Microsecond
	e.rtts.add(rtt)
	e.window.OnAck(rtt)

	e.framesAcked++
	e.highestAck = m.Seq
}

func (e *Engine) ack(ctx context.Context, m transport.Message) {
	_ = e.link.Send(ctx, transport.Message{Type: transport.TypeAck, Seq: m.Seq, TS: m.TS})
}

// inFlight is the count of sent-but-unacknowledged data envelopes.
func (e *Engine) inFlight() int {
	return int((e.nextSeq - 1) - e.highestAck)
}

// beginDrain moves Streaming to Draining; no-op in any other state.
func (e *Engine) beginDrain(reason string) {
	if e.state != StateStreaming {
		return
	}
	e.log.Info("draining session", "reason", reason, "in_flight", e.inFlight())
	e.drainUntil = time.Now().Add(e.cfg.DrainTimeout)
	e.transition(StateDraining)
}

// finish reaches Closed cleanly, releasing the link.
func (e *Engine) finish() {
	_ = e.link.Close("drained")
	e.transition(StateClosed)
	close(e.done)
}

// fail reaches Failed with err as the terminal reason, reported exactly
// once.
func (e *Engine) fail(err error) {
	e.errMu.Lock()
	e.err = err
	e.errMu.Unlock()

	e.log.Error("session failed", "err", err)
	_ = e.link.Close("failed")
	e.transition(StateFailed)
	close(e.done)
}

func (e *Engine) transition(next State) {
	if e.state == next {
		return
	}
	e.state = next
	e.publish()
	if e.cfg.OnState != nil {
		e.cfg.OnState(next)
	}
}

// publish swaps in a fresh immutable snapshot for Stats readers.
func (e *Engine) publish() {
	last, smoothed := e.window.RTT()
	inserted, dropped := e.drift.Counts()
	e.stats.publish(&Snapshot{
		State:  e.state,
		Window: e.window.Size(),

		FramesSent:     e.framesSent,
		FramesAcked:    e.framesAcked,
		FramesReceived: e.framesRecv,
		InFlight:       e.inFlight(),

		Evictions: e.capture.Evictions() + e.playback.Evictions(),
		Underruns: e.capture.Underruns() + e.playback.Underruns(),
		LossGaps:  e.lossGaps,

		DriftInserted: inserted,
		DriftDropped:  dropped,

		RTTLast:     last,
		RTTSmoothed: smoothed,
		RTT:         e.rtts.percentiles(),

		CaptureOccupancy:  e.capture.Len(),
		PlaybackOccupancy: e.playback.Len(),
	})
}
