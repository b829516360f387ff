// Package server wires the voxwire subsystems into the voxwired daemon: it
// accepts websocket connections on /v1/stream, authenticates the handshake,
// and hands each accepted connection to a streaming session backed by the
// configured device backend.
//
// For testing, inject doubles via functional options (WithAuthenticator,
// WithRecorder, etc.). When an option is not provided, New creates real
// implementations from the config.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxwire/internal/auth"
	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/health"
	"github.com/MrWong99/voxwire/internal/journal"
	journalpg "github.com/MrWong99/voxwire/internal/journal/postgres"
	"github.com/MrWong99/voxwire/internal/observe"
	"github.com/MrWong99/voxwire/internal/transport"
	"github.com/MrWong99/voxwire/pkg/audio"
	"github.com/MrWong99/voxwire/pkg/audio/mock"
	"github.com/MrWong99/voxwire/pkg/audio/pipe"
)

// handshakeTimeout bounds the JSON hello exchange after the websocket
// upgrade. A client that upgrades but never sends hello holds a connection
// slot for at most this long.
const handshakeTimeout = 10 * time.Second

// shutdownTimeout bounds the HTTP listeners' graceful shutdown once all
// sessions have drained.
const shutdownTimeout = 15 * time.Second

// reasonUnsupportedFormat rejects hellos whose stream format differs from the
// server's configured format. The server does not resample.
const reasonUnsupportedFormat = "unsupported format"

// reasonMalformedHello rejects handshakes that are not a parseable hello.
const reasonMalformedHello = "malformed hello"

// Server owns the voxwired daemon's subsystems and their lifetimes.
type Server struct {
	cfg    *config.Config
	format audio.Format

	authn    auth.Authenticator
	jwtAuth  *auth.JWTAuthenticator
	recorder journal.Recorder
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	sessions *sessionSet

	// baseCtx is the lifetime context sessions run under; set by Run.
	baseCtx context.Context

	// closers are called in reverse order during Shutdown.
	closers []func() error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*Server)

// WithAuthenticator injects an authenticator instead of building a JWT
// verifier from the config secret.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) { s.authn = a }
}

// WithRecorder injects a session journal instead of creating one from config.
func WithRecorder(r journal.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithRegistry injects a device backend registry. The default registry has
// the pipe and mock backends registered.
func WithRegistry(r *config.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithMetrics injects a metrics instance instead of using the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server by wiring subsystems from cfg. Use Option functions to
// inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		format:   cfg.Audio.Format(),
		sessions: newSessionSet(),
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if s.authn == nil {
		ja, err := auth.NewJWT([]byte(cfg.Auth.Secret), cfg.Auth.Revoked)
		if err != nil {
			return nil, fmt.Errorf("server: init authenticator: %w", err)
		}
		s.authn = ja
		s.jwtAuth = ja
	}

	if s.recorder == nil {
		if err := s.initJournal(ctx); err != nil {
			return nil, fmt.Errorf("server: init journal: %w", err)
		}
	}

	if s.registry == nil {
		s.registry = defaultRegistry()
	}

	return s, nil
}

// initJournal selects the PostgreSQL journal when a DSN is configured and the
// in-memory journal otherwise.
func (s *Server) initJournal(ctx context.Context) error {
	if dsn := s.cfg.Journal.PostgresDSN; dsn != "" {
		rec, err := journalpg.New(ctx, dsn)
		if err != nil {
			return err
		}
		s.recorder = rec
	} else {
		s.recorder = journal.NewMemoryRecorder(0)
	}
	s.closers = append(s.closers, s.recorder.Close)
	return nil
}

// defaultRegistry registers the backends every voxwired build links. The
// PortAudio backend is registered by main so that server tests do not need
// the C library.
func defaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.Register("pipe", func(f audio.Format, cfg config.AudioConfig) (audio.Opener, error) {
		return pipe.New(f, cfg.RingCapacity/4)
	})
	reg.Register("mock", func(f audio.Format, cfg config.AudioConfig) (audio.Opener, error) {
		return &mock.Opener{}, nil
	})
	return reg
}

// Registry returns the device backend registry so main can register the
// backends it links.
func (s *Server) Registry() *config.Registry { return s.registry }

// SetRevoked swaps the token revocation list (config hot-reload). It is a
// no-op when an authenticator was injected.
func (s *Server) SetRevoked(ids []string) {
	if s.jwtAuth != nil {
		s.jwtAuth.SetRevoked(ids)
	}
}

// Sessions returns the number of active streaming sessions.
func (s *Server) Sessions() int { return s.sessions.len() }

// Handler returns the stream endpoint handler with health endpoints and HTTP
// metrics middleware attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)

	h := health.New(
		health.Checker{Name: "journal", Check: func(ctx context.Context) error {
			_, err := s.recorder.Recent(ctx, 1)
			return err
		}},
		health.Checker{Name: "devices", Check: func(ctx context.Context) error {
			if len(s.registry.Names()) == 0 {
				return errors.New("no device backends registered")
			}
			return nil
		}},
	)
	h.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// MetricsHandler returns the Prometheus scrape endpoint.
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then drains all sessions and shuts the
// listeners down. It returns the first listener error, or nil on a clean
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = context.WithoutCancel(ctx)

	streamSrv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("stream endpoint listening", "addr", streamSrv.Addr)
		if err := streamSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: stream listener: %w", err)
		}
		return nil
	})

	if metricsSrv != nil {
		g.Go(func() error {
			s.log.Info("metrics endpoint listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: metrics listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()

		// Drain sessions before stopping the listeners: each handler blocks
		// until its session finishes, and Shutdown waits for handlers.
		s.sessions.closeAll()

		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				s.log.Warn("metrics listener shutdown", "err", err)
			}
		}
		return streamSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil {
			s.log.Warn("closer error", "index", i, "err", cerr)
		}
	}

	return err
}

// handleStream upgrades the connection, runs the JSON handshake, and blocks
// until the resulting session finishes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		s.metrics.RecordHandshake(r.Context(), time.Since(start), "error")
		return
	}

	identity, ok := s.handshake(r.Context(), conn, start)
	if !ok {
		return
	}

	ch := transport.NewChannel(conn, identity, transport.Config{
		LivenessTimeout: s.cfg.Engine.LivenessTimeout.Std(),
	})

	sess, err := s.startSession(s.baseCtx, ch, identity)
	if err != nil {
		s.log.Error("session setup failed", "session_id", identity.SessionID, "err", err)
		_ = ch.Close("server error")
		return
	}

	// Hold the handler open for the session's lifetime so the HTTP server's
	// graceful shutdown accounts for it.
	<-sess.Done()
}

// handshake reads and answers the hello frame. It returns ok=false after
// writing the rejection and closing the connection.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn, start time.Time) (auth.SessionIdentity, bool) {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	typ, data, err := conn.Read(hctx)
	if err != nil {
		s.log.Warn("handshake read failed", "err", err)
		conn.Close(websocket.StatusProtocolError, "hello expected")
		s.metrics.RecordHandshake(ctx, time.Since(start), "error")
		return auth.SessionIdentity{}, false
	}

	if typ != websocket.MessageText {
		s.reject(hctx, conn, start, reasonMalformedHello)
		return auth.SessionIdentity{}, false
	}

	hello, err := transport.ParseHello(data)
	if err != nil {
		s.log.Warn("malformed hello", "err", err)
		s.reject(hctx, conn, start, reasonMalformedHello)
		return auth.SessionIdentity{}, false
	}

	identity, err := s.authn.Authenticate(hello.Token)
	if err != nil {
		reason := "unauthorized"
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			reason = string(authErr.Reason)
		}
		s.log.Info("session rejected", "reason", reason)
		s.reject(hctx, conn, start, reason)
		return auth.SessionIdentity{}, false
	}

	if hello.Format != s.format {
		s.log.Info("session rejected",
			"reason", reasonUnsupportedFormat,
			"client_format", hello.Format,
			"server_format", s.format,
		)
		s.reject(hctx, conn, start, reasonUnsupportedFormat)
		return auth.SessionIdentity{}, false
	}

	reply, err := transport.EncodeAccepted(transport.Accepted{
		SessionID: identity.SessionID,
		Format:    s.format,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake encode failed")
		s.metrics.RecordHandshake(ctx, time.Since(start), "error")
		return auth.SessionIdentity{}, false
	}
	if err := conn.Write(hctx, websocket.MessageText, reply); err != nil {
		s.log.Warn("handshake write failed", "session_id", identity.SessionID, "err", err)
		s.metrics.RecordHandshake(ctx, time.Since(start), "error")
		return auth.SessionIdentity{}, false
	}

	s.metrics.RecordHandshake(ctx, time.Since(start), "accepted")
	s.log.Info("session accepted", "session_id", identity.SessionID, "subject", identity.Subject)
	return identity, true
}

// reject writes a rejection reply and closes the connection.
func (s *Server) reject(ctx context.Context, conn *websocket.Conn, start time.Time, reason string) {
	if reply, err := transport.EncodeRejected(transport.Rejected{Reason: reason}); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, reply)
	}
	conn.Close(websocket.StatusPolicyViolation, reason)
	s.metrics.RecordHandshake(ctx, time.Since(start), "rejected")
}
