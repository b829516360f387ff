// Package observe provides application-wide observability primitives for
// voxwire: OpenTelemetry metrics, tracing around the session lifecycle, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxwire/internal/engine"
)

// meterName is the instrumentation scope name used for all voxwire metrics.
const meterName = "github.com/MrWong99/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// HandshakeDuration tracks handshake latency from accept to engine
	// start. Use with attribute.String("status", "accepted"|"rejected").
	HandshakeDuration metric.Float64Histogram

	// RTT tracks per-ack round-trip samples.
	RTT metric.Float64Histogram

	// FramesSent, FramesAcked and FramesReceived count data envelopes.
	FramesSent     metric.Int64Counter
	FramesAcked    metric.Int64Counter
	FramesReceived metric.Int64Counter

	// LossGaps counts receive-sequence gaps beyond the tolerance.
	LossGaps metric.Int64Counter

	// RingEvictions and RingUnderruns count recoverable ring conditions.
	RingEvictions metric.Int64Counter
	RingUnderruns metric.Int64Counter

	// DriftCorrections counts clock reconciliation frames. Use with
	// attribute.String("kind", "insert"|"drop").
	DriftCorrections metric.Int64Counter

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsTotal counts completed sessions. Use with
	// attribute.String("outcome", ...).
	SessionsTotal metric.Int64Counter

	// SendWindow records the current AIMD window size per session.
	SendWindow metric.Int64Gauge

	// RingOccupancy records ring fill levels. Use with
	// attribute.String("side", "capture"|"playback").
	RingOccupancy metric.Int64Gauge

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// rttBuckets defines histogram bucket boundaries (in seconds) sized for
// network round-trips on a real-time audio path.
var rttBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HandshakeDuration, err = m.Float64Histogram("voxwire.handshake.duration",
		metric.WithDescription("Latency of the connection handshake by status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(rttBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RTT, err = m.Float64Histogram("voxwire.rtt",
		metric.WithDescription("Acknowledged frame round-trip time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(rttBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("voxwire.frames.sent",
		metric.WithDescription("Total data envelopes sent."),
	); err != nil {
		return nil, err
	}
	if met.FramesAcked, err = m.Int64Counter("voxwire.frames.acked",
		metric.WithDescription("Total data envelopes acknowledged by the peer."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voxwire.frames.received",
		metric.WithDescription("Total data envelopes received and enqueued."),
	); err != nil {
		return nil, err
	}

	if met.LossGaps, err = m.Int64Counter("voxwire.loss.gaps",
		metric.WithDescription("Receive-sequence gaps beyond the silence-patch tolerance."),
	); err != nil {
		return nil, err
	}
	if met.RingEvictions, err = m.Int64Counter("voxwire.ring.evictions",
		metric.WithDescription("Frames evicted from a full ring by a newer write."),
	); err != nil {
		return nil, err
	}
	if met.RingUnderruns, err = m.Int64Counter("voxwire.ring.underruns",
		metric.WithDescription("Reads from an empty ring satisfied with silence."),
	); err != nil {
		return nil, err
	}
	if met.DriftCorrections, err = m.Int64Counter("voxwire.drift.corrections",
		metric.WithDescription("Clock reconciliation frames by kind (insert or drop)."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.sessions.active",
		metric.WithDescription("Number of live streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsTotal, err = m.Int64Counter("voxwire.sessions.total",
		metric.WithDescription("Completed sessions by outcome."),
	); err != nil {
		return nil, err
	}

	if met.SendWindow, err = m.Int64Gauge("voxwire.window.size",
		metric.WithDescription("Current AIMD send window in frames."),
	); err != nil {
		return nil, err
	}
	if met.RingOccupancy, err = m.Int64Gauge("voxwire.ring.occupancy",
		metric.WithDescription("Ring fill level in frames by side."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxwire.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordHandshake records one handshake with its duration and status.
func (m *Metrics) RecordHandshake(ctx context.Context, d time.Duration, status string) {
	m.HandshakeDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// SessionStarted bumps the live-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded drops the live-session gauge and counts the outcome.
func (m *Metrics) SessionEnded(ctx context.Context, outcome string) {
	m.ActiveSessions.Add(ctx, -1)
	m.SessionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SnapshotRecorder bridges an engine's cumulative [engine.Snapshot] counters
// to the delta-oriented OTel instruments. One recorder per session; not safe
// for concurrent use (drive it from a single poll loop).
type SnapshotRecorder struct {
	m    *Metrics
	prev engine.Snapshot
}

// NewSnapshotRecorder creates a recorder emitting to m.
func NewSnapshotRecorder(m *Metrics) *SnapshotRecorder {
	return &SnapshotRecorder{m: m}
}

// Observe emits the delta between snap and the previously observed snapshot.
func (r *SnapshotRecorder) Observe(ctx context.Context, snap engine.Snapshot) {
	d := func(cur, prev uint64) int64 {
		if cur < prev {
			return 0
		}
		return int64(cur - prev)
	}

	r.m.FramesSent.Add(ctx, d(snap.FramesSent, r.prev.FramesSent))
	r.m.FramesAcked.Add(ctx, d(snap.FramesAcked, r.prev.FramesAcked))
	r.m.FramesReceived.Add(ctx, d(snap.FramesReceived, r.prev.FramesReceived))
	r.m.LossGaps.Add(ctx, d(snap.LossGaps, r.prev.LossGaps))
	r.m.RingEvictions.Add(ctx, d(snap.Evictions, r.prev.Evictions))
	r.m.RingUnderruns.Add(ctx, d(snap.Underruns, r.prev.Underruns))
	r.m.DriftCorrections.Add(ctx, d(snap.DriftInserted, r.prev.DriftInserted),
		metric.WithAttributes(attribute.String("kind", "insert")))
	r.m.DriftCorrections.Add(ctx, d(snap.DriftDropped, r.prev.DriftDropped),
		metric.WithAttributes(attribute.String("kind", "drop")))

	if snap.RTTLast > 0 && snap.RTTLast != r.prev.RTTLast {
		r.m.RTT.Record(ctx, snap.RTTLast.Seconds())
	}

	r.m.SendWindow.Record(ctx, int64(snap.Window))
	r.m.RingOccupancy.Record(ctx, int64(snap.CaptureOccupancy),
		metric.WithAttributes(attribute.String("side", "capture")))
	r.m.RingOccupancy.Record(ctx, int64(snap.PlaybackOccupancy),
		metric.WithAttributes(attribute.String("side", "playback")))

	r.prev = snap
}
