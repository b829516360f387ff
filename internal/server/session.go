package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxwire/internal/auth"
	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/engine"
	"github.com/MrWong99/voxwire/internal/journal"
	"github.com/MrWong99/voxwire/internal/observe"
	"github.com/MrWong99/voxwire/internal/transport"
	"github.com/MrWong99/voxwire/pkg/audio"
	"github.com/MrWong99/voxwire/pkg/audio/opus"
	"github.com/MrWong99/voxwire/pkg/audio/ring"
)

// snapshotInterval is how often a session's engine counters are republished
// to OpenTelemetry.
const snapshotInterval = time.Second

// session is one accepted connection's streaming pipeline: device callbacks
// feeding rings, the engine between the rings and the channel, and the
// journal/metrics bookkeeping around them.
type session struct {
	id        string
	subject   string
	startedAt time.Time

	eng     *engine.Engine
	channel *transport.Channel

	captureDev  audio.CaptureDevice
	playbackDev audio.PlaybackDevice

	done chan struct{}
}

// Done closes when the session has fully finished: engine terminal, devices
// closed, journal written.
func (s *session) Done() <-chan struct{} { return s.done }

// startSession builds and starts the pipeline for an accepted connection.
// With the default pipe backend the playback side loops straight back into
// capture, so the server echoes whatever the peer sends.
func (s *Server) startSession(ctx context.Context, ch *transport.Channel, identity auth.SessionIdentity) (*session, error) {
	capture, err := ring.New(s.format, s.cfg.Audio.RingCapacity)
	if err != nil {
		return nil, err
	}
	playback, err := ring.New(s.format, s.cfg.Audio.RingCapacity)
	if err != nil {
		return nil, err
	}

	opener, err := s.registry.Open(s.cfg.Audio)
	if err != nil {
		return nil, err
	}
	captureDev, err := opener.OpenCapture(s.format)
	if err != nil {
		return nil, err
	}
	playbackDev, err := opener.OpenPlayback(s.format)
	if err != nil {
		captureDev.Close()
		return nil, err
	}

	codec, err := buildCodec(s.cfg.Audio.Codec, s.format)
	if err != nil {
		captureDev.Close()
		playbackDev.Close()
		return nil, err
	}

	log := s.log.With("session_id", identity.SessionID)
	eng, err := engine.New(ch, capture, playback, engine.Config{
		WindowFloor:       s.cfg.Engine.WindowFloor,
		WindowCeiling:     s.cfg.Engine.WindowCeiling,
		RTTTarget:         s.cfg.Engine.RTTTarget.Std(),
		KeepaliveInterval: s.cfg.Engine.KeepaliveInterval.Std(),
		GapTolerance:      s.cfg.Engine.GapTolerance,
		DrainTimeout:      s.cfg.Engine.DrainTimeout.Std(),
		ReconcileInterval: s.cfg.Engine.ReconcileInterval.Std(),
		Codec:             codec,
		Logger:            log,
		OnState: func(st engine.State) {
			log.Debug("session state", "state", st)
		},
	})
	if err != nil {
		captureDev.Close()
		playbackDev.Close()
		return nil, err
	}

	sess := &session{
		id:          identity.SessionID,
		subject:     identity.Subject,
		startedAt:   time.Now().UTC(),
		eng:         eng,
		channel:     ch,
		captureDev:  captureDev,
		playbackDev: playbackDev,
		done:        make(chan struct{}),
	}

	// The device handlers run on the backend's callback cycle; the rings are
	// the only shared state between them and the engine.
	if err := captureDev.Start(func(samples []int16) {
		_ = capture.Write(audio.Frame{Samples: samples})
	}); err != nil {
		captureDev.Close()
		playbackDev.Close()
		return nil, err
	}
	if err := playbackDev.Start(func(samples []int16) {
		fr, _ := playback.Read()
		copy(samples, fr.Samples)
	}); err != nil {
		captureDev.Close()
		playbackDev.Close()
		return nil, err
	}

	if err := s.recorder.SessionStarted(ctx, sess.id, sess.subject, sess.startedAt); err != nil {
		log.Warn("journal start failed", "err", err)
	}
	s.metrics.SessionStarted(ctx)
	s.sessions.add(sess)

	eng.Start(ctx)
	go s.watchSession(ctx, sess, log)

	return sess, nil
}

// watchSession republishes engine counters until the engine reaches a
// terminal state, then finishes the session bookkeeping.
func (s *Server) watchSession(ctx context.Context, sess *session, log *slog.Logger) {
	defer close(sess.done)

	rec := observe.NewSnapshotRecorder(s.metrics)
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rec.Observe(ctx, sess.eng.Stats().Snapshot())
		case <-sess.eng.Done():
			snap := sess.eng.Stats().Snapshot()
			rec.Observe(ctx, snap)
			s.finishSession(ctx, sess, snap, log)
			return
		}
	}
}

func (s *Server) finishSession(ctx context.Context, sess *session, snap engine.Snapshot, log *slog.Logger) {
	s.sessions.remove(sess.id)

	if err := sess.captureDev.Close(); err != nil {
		log.Warn("capture device close", "err", err)
	}
	if err := sess.playbackDev.Close(); err != nil {
		log.Warn("playback device close", "err", err)
	}

	outcome := journal.OutcomeClosed
	reason := ""
	if err := sess.eng.Err(); err != nil {
		outcome = journal.OutcomeFailed
		reason = err.Error()
	}
	s.metrics.SessionEnded(ctx, outcome)

	entry := journal.Entry{
		SessionID:      sess.id,
		Subject:        sess.subject,
		StartedAt:      sess.startedAt,
		ClosedAt:       time.Now().UTC(),
		Outcome:        outcome,
		Reason:         reason,
		FramesSent:     snap.FramesSent,
		FramesReceived: snap.FramesReceived,
		LossGaps:       snap.LossGaps,
		Evictions:      snap.Evictions,
		Underruns:      snap.Underruns,
	}
	if err := s.recorder.SessionClosed(ctx, entry); err != nil {
		log.Warn("journal close failed", "err", err)
	}

	log.Info("session finished",
		"outcome", outcome,
		"frames_sent", snap.FramesSent,
		"frames_received", snap.FramesReceived,
		"loss_gaps", snap.LossGaps,
	)
}

// buildCodec maps the configured codec name onto an [audio.Codec].
func buildCodec(name config.CodecName, f audio.Format) (audio.Codec, error) {
	switch name {
	case config.CodecOpus:
		return opus.New(f)
	case config.CodecPCM, "":
		return audio.PCM{}, nil
	default:
		return nil, fmt.Errorf("server: unknown codec %q", name)
	}
}

// sessionSet tracks active sessions so shutdown can drain them.
type sessionSet struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*session)}
}

func (ss *sessionSet) add(s *session) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.sessions[s.id] = s
}

func (ss *sessionSet) remove(id string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, id)
}

func (ss *sessionSet) len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

// closeAll initiates drain on every active session and waits for each to
// finish. The per-engine drain timeout bounds the wait.
func (ss *sessionSet) closeAll() {
	ss.mu.Lock()
	active := make([]*session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		active = append(active, s)
	}
	ss.mu.Unlock()

	for _, s := range active {
		_ = s.eng.Close()
	}
	for _, s := range active {
		<-s.done
	}
}
