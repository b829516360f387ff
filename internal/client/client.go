// Package client implements the voxwire connector: it dials the server,
// performs the hello/accepted handshake, and owns the client side of the
// streaming pipeline, including the local devices, the rings, and the engine.
//
// The engine never retries a broken connection; the client's [Reconnector]
// owns that policy. On a connection failure the client keeps its devices and
// rings and attaches a fresh channel and engine once the dial succeeds, so
// local audio resumes without reopening hardware.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxwire/internal/auth"
	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/engine"
	"github.com/MrWong99/voxwire/internal/transport"
	"github.com/MrWong99/voxwire/pkg/audio"
	"github.com/MrWong99/voxwire/pkg/audio/mock"
	"github.com/MrWong99/voxwire/pkg/audio/opus"
	"github.com/MrWong99/voxwire/pkg/audio/pipe"
	"github.com/MrWong99/voxwire/pkg/audio/ring"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client: closed")

// Client connects the local audio devices to a voxwire server.
//
// Construct with [New], register callbacks, then call [Client.Connect]. All
// exported methods are safe for concurrent use.
type Client struct {
	cfg    *config.Config
	format audio.Format

	tokens   auth.TokenSource
	registry *config.Registry
	log      *slog.Logger

	capture  *ring.Ring
	playback *ring.Ring

	captureMuted  atomic.Bool
	playbackMuted atomic.Bool
	amplitude     atomic.Uint64

	mu          sync.Mutex
	closed      bool
	captureDev  audio.CaptureDevice
	playbackDev audio.PlaybackDevice
	eng         *engine.Engine
	sessionID   string
	reconn      *Reconnector

	onState func(engine.State)
	onError func(error)
	onAudio func(audio.Frame)
}

// Option is a functional option for New.
type Option func(*Client)

// WithTokenSource injects a token source instead of building one from the
// config's token or token_endpoint settings.
func WithTokenSource(ts auth.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRegistry injects a device backend registry. The default registry has
// the pipe and mock backends registered; main adds portaudio.
func WithRegistry(r *config.Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithLogger sets the client's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client from cfg. It opens no devices and dials nothing until
// [Client.Connect].
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	format := cfg.Audio.Format()
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid format: %w", err)
	}
	if cfg.Client.ServerURL == "" {
		return nil, errors.New("client: server_url is required")
	}

	capture, err := ring.New(format, cfg.Audio.RingCapacity)
	if err != nil {
		return nil, err
	}
	playback, err := ring.New(format, cfg.Audio.RingCapacity)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		format:   format,
		capture:  capture,
		playback: playback,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.tokens == nil {
		ts, err := tokenSourceFromConfig(cfg.Client)
		if err != nil {
			return nil, err
		}
		c.tokens = ts
	}

	c.captureMuted.Store(cfg.Client.MuteCapture)
	c.playbackMuted.Store(cfg.Client.MutePlayback)

	return c, nil
}

// DefaultRegistry returns a registry with the built-in software backends: the
// loopback pipe and the mock device. Callers register hardware backends on
// top of it.
func DefaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.Register("pipe", func(f audio.Format, cfg config.AudioConfig) (audio.Opener, error) {
		return pipe.New(f, cfg.RingCapacity/4)
	})
	reg.Register("mock", func(f audio.Format, cfg config.AudioConfig) (audio.Opener, error) {
		return &mock.Opener{}, nil
	})
	return reg
}

// tokenSourceFromConfig builds the token source from the static token or the
// token endpoint settings.
func tokenSourceFromConfig(cfg config.ClientConfig) (auth.TokenSource, error) {
	if cfg.Token != "" {
		return auth.NewStaticTokenSource(cfg.Token), nil
	}
	if cfg.TokenEndpoint.URL != "" {
		return auth.NewEndpointTokenSource(cfg.TokenEndpoint.URL,
			auth.WithHeaders(cfg.TokenEndpoint.Headers),
			auth.WithRefreshBuffer(cfg.TokenEndpoint.RefreshBuffer.Std()),
		)
	}
	return nil, errors.New("client: either token or token_endpoint.url is required")
}

// OnStateChange registers a callback invoked on every engine state
// transition. Must be called before Connect; the callback must not block.
func (c *Client) OnStateChange(fn func(engine.State)) { c.onState = fn }

// OnError registers a callback invoked when a connection fails, including
// each failure during reconnection. Must be called before Connect.
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// OnAudio registers a callback invoked with every frame handed to the
// playback device, before the mute gate. It runs on the device backend's
// callback cycle and must return within the frame period.
func (c *Client) OnAudio(fn func(audio.Frame)) { c.onAudio = fn }

// Connect opens the local devices, dials the server, and starts streaming.
// ctx bounds the dial and handshake only; the stream itself lives until
// [Client.Close] or an unrecoverable connection failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.captureDev != nil {
		return errors.New("client: already connected")
	}

	if err := c.openDevices(); err != nil {
		return err
	}

	if err := c.attach(ctx); err != nil {
		c.closeDevicesLocked()
		return err
	}

	c.reconn = NewReconnector(ReconnectorConfig{
		MaxAttempts: c.cfg.Client.Reconnect.MaxAttempts,
		Backoff:     c.cfg.Client.Reconnect.InitialDelay.Std(),
		Dial:        c.redial,
		OnGiveUp:    c.giveUp,
		Logger:      c.log,
	})
	c.reconn.Monitor(context.WithoutCancel(ctx))

	return nil
}

// openDevices opens and starts the capture and playback devices against the
// client's rings. Called once; the devices survive reconnections.
func (c *Client) openDevices() error {
	opener, err := c.registry.Open(c.cfg.Audio)
	if err != nil {
		return err
	}
	captureDev, err := opener.OpenCapture(c.format)
	if err != nil {
		return err
	}
	playbackDev, err := opener.OpenPlayback(c.format)
	if err != nil {
		captureDev.Close()
		return err
	}

	if err := captureDev.Start(c.onCaptureFrame); err != nil {
		captureDev.Close()
		playbackDev.Close()
		return err
	}
	if err := playbackDev.Start(c.onPlaybackFrame); err != nil {
		captureDev.Close()
		playbackDev.Close()
		return err
	}

	c.captureDev = captureDev
	c.playbackDev = playbackDev
	return nil
}

// onCaptureFrame runs on the capture device's callback cycle. A muted mic
// still produces frames so the stream cadence never changes.
func (c *Client) onCaptureFrame(samples []int16) {
	if c.captureMuted.Load() {
		_ = c.capture.Write(audio.Silence(c.format))
		return
	}
	_ = c.capture.Write(audio.Frame{Samples: samples})
}

// onPlaybackFrame runs on the playback device's callback cycle.
func (c *Client) onPlaybackFrame(samples []int16) {
	fr, _ := c.playback.Read()
	if c.onAudio != nil {
		c.onAudio(fr)
	}
	if c.playbackMuted.Load() {
		for i := range samples {
			samples[i] = 0
		}
		c.amplitude.Store(math.Float64bits(0))
		return
	}
	copy(samples, fr.Samples)
	c.amplitude.Store(math.Float64bits(audio.RMS(fr.Samples)))
}

// attach dials the server and builds a fresh channel and engine over the
// client's rings. Caller holds c.mu.
func (c *Client) attach(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("client: fetch token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, c.cfg.Client.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", c.cfg.Client.ServerURL, err)
	}

	accepted, err := c.handshake(ctx, conn, token)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return err
	}
	if accepted.Format != c.format {
		conn.Close(websocket.StatusPolicyViolation, "format mismatch")
		return fmt.Errorf("client: server format %s does not match local format %s", accepted.Format, c.format)
	}

	identity := auth.SessionIdentity{SessionID: accepted.SessionID}
	ch := transport.NewChannel(conn, identity, transport.Config{
		LivenessTimeout: c.cfg.Engine.LivenessTimeout.Std(),
	})

	codec, err := buildCodec(c.cfg.Audio.Codec, c.format)
	if err != nil {
		_ = ch.Close("codec setup failed")
		return err
	}

	log := c.log.With("session_id", accepted.SessionID)
	eng, err := engine.New(ch, c.capture, c.playback, engine.Config{
		WindowFloor:       c.cfg.Engine.WindowFloor,
		WindowCeiling:     c.cfg.Engine.WindowCeiling,
		RTTTarget:         c.cfg.Engine.RTTTarget.Std(),
		KeepaliveInterval: c.cfg.Engine.KeepaliveInterval.Std(),
		GapTolerance:      c.cfg.Engine.GapTolerance,
		DrainTimeout:      c.cfg.Engine.DrainTimeout.Std(),
		ReconcileInterval: c.cfg.Engine.ReconcileInterval.Std(),
		Codec:             codec,
		Logger:            log,
		OnState:           c.onState,
	})
	if err != nil {
		_ = ch.Close("engine setup failed")
		return err
	}

	c.eng = eng
	c.sessionID = accepted.SessionID
	eng.Start(context.WithoutCancel(ctx))
	go c.watch(eng)

	log.Info("connected", "server", c.cfg.Client.ServerURL)
	return nil
}

// handshake sends hello and parses the server's reply.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, token string) (transport.Accepted, error) {
	hello, err := transport.EncodeHello(transport.Hello{Token: token, Format: c.format})
	if err != nil {
		return transport.Accepted{}, err
	}
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		return transport.Accepted{}, fmt.Errorf("client: write hello: %w", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		return transport.Accepted{}, fmt.Errorf("client: read handshake reply: %w", err)
	}
	return transport.ParseReply(data)
}

// watch waits for the engine to finish and triggers reconnection on failure.
func (c *Client) watch(eng *engine.Engine) {
	<-eng.Done()
	err := eng.Err()

	c.mu.Lock()
	closed := c.closed
	current := c.eng == eng
	if current {
		c.eng = nil
	}
	reconn := c.reconn
	c.mu.Unlock()

	if closed || !current {
		return
	}

	if err != nil {
		c.log.Warn("connection lost", "err", err)
		if c.onError != nil {
			c.onError(err)
		}
		if reconn != nil {
			reconn.NotifyDisconnect()
		}
		return
	}
	c.log.Info("stream closed")
}

// redial is the Reconnector's dial function: one fresh connection attempt.
func (c *Client) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.eng != nil {
		return nil // raced with a concurrent successful attach
	}
	return c.attach(ctx)
}

// giveUp is invoked when reconnection attempts are exhausted.
func (c *Client) giveUp(err error) {
	c.log.Error("reconnection attempts exhausted", "err", err)
	if c.onError != nil {
		c.onError(fmt.Errorf("client: reconnection attempts exhausted: %w", err))
	}
}

// StartCapture opens the mic gate: captured frames flow to the server.
func (c *Client) StartCapture() { c.captureMuted.Store(false) }

// StopCapture closes the mic gate: the client keeps streaming silence.
func (c *Client) StopCapture() { c.captureMuted.Store(true) }

// MutePlayback silences the local output without stopping the stream.
func (c *Client) MutePlayback() { c.playbackMuted.Store(true) }

// UnmutePlayback reopens the local output.
func (c *Client) UnmutePlayback() { c.playbackMuted.Store(false) }

// Amplitude returns the RMS amplitude of the most recently played frame,
// normalised to [0, 1]. Muted playback reports 0.
func (c *Client) Amplitude() float64 {
	return math.Float64frombits(c.amplitude.Load())
}

// SessionID returns the server-assigned id of the current session, or ""
// when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Stats returns the current engine counters, or the zero snapshot when
// disconnected.
func (c *Client) Stats() engine.Snapshot {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng == nil {
		return engine.Snapshot{}
	}
	return eng.Stats().Snapshot()
}

// Close drains the stream and releases the devices. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	eng := c.eng
	c.eng = nil
	reconn := c.reconn
	c.mu.Unlock()

	if reconn != nil {
		reconn.Stop()
	}

	var errs []error
	if eng != nil {
		if err := eng.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	c.closeDevicesLocked()
	c.mu.Unlock()

	return errors.Join(errs...)
}

func (c *Client) closeDevicesLocked() {
	if c.captureDev != nil {
		if err := c.captureDev.Close(); err != nil {
			c.log.Warn("capture device close", "err", err)
		}
		c.captureDev = nil
	}
	if c.playbackDev != nil {
		if err := c.playbackDev.Close(); err != nil {
			c.log.Warn("playback device close", "err", err)
		}
		c.playbackDev = nil
	}
}

// buildCodec maps the configured codec name onto an [audio.Codec].
func buildCodec(name config.CodecName, f audio.Format) (audio.Codec, error) {
	switch name {
	case config.CodecOpus:
		return opus.New(f)
	case config.CodecPCM, "":
		return audio.PCM{}, nil
	default:
		return nil, fmt.Errorf("client: unknown codec %q", name)
	}
}
