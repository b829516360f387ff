package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownBackends lists the device backend names shipped with voxwire. Used by
// [Validate] to warn about unrecognised names: an unknown backend may still
// be registered by the binary, so it is not an error.
var KnownBackends = []string{"portaudio", "pipe", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the documented defaults. Engine
// knobs stay zero here; the engine applies its own defaults so the two
// binaries and direct library users agree on them.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Client.LogLevel == "" {
		cfg.Client.LogLevel = LogInfo
	}
	if cfg.Client.LogFormat == "" {
		cfg.Client.LogFormat = LogText
	}
	if cfg.Client.Reconnect.MaxAttempts == 0 {
		cfg.Client.Reconnect.MaxAttempts = 3
	}
	if cfg.Client.Reconnect.InitialDelay == 0 {
		cfg.Client.Reconnect.InitialDelay = Duration(time.Second)
	}
	if cfg.Client.TokenEndpoint.RefreshBuffer == 0 {
		cfg.Client.TokenEndpoint.RefreshBuffer = Duration(time.Minute)
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = 480
	}
	if cfg.Audio.RingCapacity == 0 {
		cfg.Audio.RingCapacity = 64
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "pipe"
	}
	if cfg.Audio.Codec == "" {
		cfg.Audio.Codec = CodecPCM
	}
	if cfg.Engine.LivenessTimeout == 0 {
		cfg.Engine.LivenessTimeout = Duration(15 * time.Second)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Client
	if !cfg.Client.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Client.LogLevel))
	}
	if !cfg.Client.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("client.log_format %q is invalid; valid values: text, json", cfg.Client.LogFormat))
	}
	if cfg.Client.ServerURL != "" &&
		!strings.HasPrefix(cfg.Client.ServerURL, "ws://") &&
		!strings.HasPrefix(cfg.Client.ServerURL, "wss://") {
		errs = append(errs, fmt.Errorf("client.server_url %q must use a ws:// or wss:// scheme", cfg.Client.ServerURL))
	}
	if cfg.Client.Token != "" && cfg.Client.TokenEndpoint.URL != "" {
		errs = append(errs, errors.New("client.token and client.token_endpoint.url are mutually exclusive"))
	}
	if cfg.Client.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("client.reconnect.max_attempts %d must not be negative", cfg.Client.Reconnect.MaxAttempts))
	}
	if cfg.Client.Reconnect.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("client.reconnect.initial_delay must not be negative"))
	}

	// Audio
	if err := cfg.Audio.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.RingCapacity < 2 {
		errs = append(errs, fmt.Errorf("audio.ring_capacity %d must be at least 2", cfg.Audio.RingCapacity))
	}
	if !cfg.Audio.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("audio.codec %q is invalid; valid values: pcm, opus", cfg.Audio.Codec))
	}
	validateBackendName(cfg.Audio.Backend)

	// Engine
	if cfg.Engine.WindowFloor < 0 || cfg.Engine.WindowCeiling < 0 {
		errs = append(errs, errors.New("engine.window_floor and engine.window_ceiling must not be negative"))
	}
	if cfg.Engine.WindowCeiling > 0 && cfg.Engine.WindowFloor > cfg.Engine.WindowCeiling {
		errs = append(errs, fmt.Errorf("engine.window_floor %d exceeds engine.window_ceiling %d", cfg.Engine.WindowFloor, cfg.Engine.WindowCeiling))
	}
	if cfg.Engine.LivenessTimeout > 0 && cfg.Engine.KeepaliveInterval >= cfg.Engine.LivenessTimeout {
		errs = append(errs, fmt.Errorf("engine.keepalive_interval %s must be shorter than engine.liveness_timeout %s",
			cfg.Engine.KeepaliveInterval.Std(), cfg.Engine.LivenessTimeout.Std()))
	}

	// Soft warnings for operationally suspicious but legal setups.
	if cfg.Auth.Secret == "" {
		slog.Warn("auth.secret is empty; the server will reject every session token")
	} else if len(cfg.Auth.Secret) < 32 {
		slog.Warn("auth.secret is shorter than 32 bytes; consider a longer signing secret")
	}
	if cfg.Journal.PostgresDSN == "" {
		slog.Warn("journal.postgres_dsn is empty; session records are kept in memory and lost on restart")
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not one of the backends
// shipped with voxwire.
func validateBackendName(name string) {
	if name == "" || slices.Contains(KnownBackends, name) {
		return
	}
	slog.Warn("unknown device backend — may be a typo or registered by the binary",
		"backend", name,
		"known", KnownBackends,
	)
}
