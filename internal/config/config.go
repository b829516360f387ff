// Package config provides the configuration schema, loader, file watcher, and
// device backend registry for voxwire. The same schema serves both binaries:
// voxwired reads the server, audio, engine, auth, and journal sections;
// voxwire reads the client, audio, and engine sections.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding [slog.Level]. Unrecognised levels map
// to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFormat selects the slog handler: human-readable text or JSON lines.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// CodecName selects the frame payload codec on the wire.
type CodecName string

const (
	CodecPCM  CodecName = "pcm"
	CodecOpus CodecName = "opus"
)

// IsValid reports whether c is a recognised codec name.
func (c CodecName) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Duration wraps [time.Duration] so YAML fields accept Go duration strings
// like "150ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure shared by both binaries.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	Auth    AuthConfig    `yaml:"auth"`
	Journal JournalConfig `yaml:"journal"`
}

// ServerConfig holds the voxwired daemon settings.
type ServerConfig struct {
	// ListenAddr is the address the stream endpoint binds to.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the address for the Prometheus /metrics and health
	// endpoints. Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// ClientConfig holds the voxwire client settings.
type ClientConfig struct {
	// ServerURL is the websocket URL of the stream endpoint, e.g.
	// "ws://localhost:8080/v1/stream".
	ServerURL string `yaml:"server_url"`

	// Token is a static session JWT. Mutually exclusive with TokenEndpoint.
	Token string `yaml:"token"`

	// TokenEndpoint fetches and refreshes the session JWT over HTTPS.
	TokenEndpoint TokenEndpointConfig `yaml:"token_endpoint"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// MuteCapture and MutePlayback start the respective direction gated off.
	MuteCapture  bool `yaml:"mute_capture"`
	MutePlayback bool `yaml:"mute_playback"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// TokenEndpointConfig configures JWT retrieval from a token service.
type TokenEndpointConfig struct {
	URL string `yaml:"url"`

	// Headers are sent verbatim with every token request, typically an
	// Authorization header for the token service itself.
	Headers map[string]string `yaml:"headers"`

	// RefreshBuffer refreshes the cached token this long before its expiry.
	RefreshBuffer Duration `yaml:"refresh_buffer"`
}

// ReconnectConfig bounds the client's reconnection loop.
type ReconnectConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
}

// AudioConfig describes the stream format and the local device backend.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	FrameSize  int `yaml:"frame_size"`

	// RingCapacity is the capture and playback ring size in frames.
	RingCapacity int `yaml:"ring_capacity"`

	// Backend names the device backend in the [Registry]: "portaudio",
	// "pipe", or "mock".
	Backend string `yaml:"backend"`

	// Codec is the wire payload codec.
	Codec CodecName `yaml:"codec"`
}

// Format returns the stream format described by a.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		FrameSize:  a.FrameSize,
	}
}

// EngineConfig exposes the streaming engine's tuning knobs.
type EngineConfig struct {
	WindowFloor   int `yaml:"window_floor"`
	WindowCeiling int `yaml:"window_ceiling"`

	RTTTarget         Duration `yaml:"rtt_target"`
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	// LivenessTimeout is enforced by the transport channel, not the engine:
	// a peer silent this long is considered dead.
	LivenessTimeout Duration `yaml:"liveness_timeout"`

	GapTolerance      uint64   `yaml:"gap_tolerance"`
	DrainTimeout      Duration `yaml:"drain_timeout"`
	ReconcileInterval Duration `yaml:"reconcile_interval"`
}

// AuthConfig holds the server-side token verification settings.
type AuthConfig struct {
	// Secret is the HS256 signing secret shared with the token issuer.
	Secret string `yaml:"secret"`

	// Revoked lists token IDs (jti claims) that are no longer accepted.
	// Hot-reloadable.
	Revoked []string `yaml:"revoked"`
}

// JournalConfig selects the session journal backend.
type JournalConfig struct {
	// PostgresDSN enables the PostgreSQL journal. Empty keeps session
	// records in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}
