package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/pkg/audio"
	"github.com/MrWong99/voxwire/pkg/audio/mock"
)

const serverYAML = `
server:
  listen_addr: ":9443"
  metrics_addr: ":9090"
  log_level: debug
  log_format: json
audio:
  sample_rate: 48000
  channels: 1
  frame_size: 480
  ring_capacity: 64
  backend: pipe
  codec: opus
engine:
  window_floor: 2
  window_ceiling: 16
  rtt_target: 150ms
  keepalive_interval: 5s
  liveness_timeout: 15s
  gap_tolerance: 3
  drain_timeout: 3s
  reconcile_interval: 500ms
auth:
  secret: "a-signing-secret-of-sufficient-length!"
  revoked:
    - tok-1
    - tok-2
journal:
  postgres_dsn: "postgres://localhost/voxwire"
`

const clientYAML = `
client:
  server_url: "wss://voxwire.example.com/v1/stream"
  token_endpoint:
    url: "https://auth.example.com/token"
    headers:
      Authorization: "Bearer service-key"
    refresh_buffer: 90s
  reconnect:
    max_attempts: 5
    initial_delay: 2s
  mute_capture: true
  log_level: warn
audio:
  backend: portaudio
`

func TestLoadFromReader_ServerConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(serverYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9443" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9443")
	}
	if cfg.Server.MetricsAddr != ":9090" {
		t.Errorf("metrics_addr: got %q, want %q", cfg.Server.MetricsAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("log_format: got %q, want %q", cfg.Server.LogFormat, config.LogJSON)
	}

	wantFormat := audio.Format{SampleRate: 48000, Channels: 1, FrameSize: 480}
	if got := cfg.Audio.Format(); got != wantFormat {
		t.Errorf("audio format: got %v, want %v", got, wantFormat)
	}
	if cfg.Audio.Codec != config.CodecOpus {
		t.Errorf("codec: got %q, want %q", cfg.Audio.Codec, config.CodecOpus)
	}

	if cfg.Engine.WindowFloor != 2 || cfg.Engine.WindowCeiling != 16 {
		t.Errorf("window bounds: got [%d, %d], want [2, 16]", cfg.Engine.WindowFloor, cfg.Engine.WindowCeiling)
	}
	if cfg.Engine.RTTTarget.Std() != 150*time.Millisecond {
		t.Errorf("rtt_target: got %s, want 150ms", cfg.Engine.RTTTarget.Std())
	}
	if cfg.Engine.LivenessTimeout.Std() != 15*time.Second {
		t.Errorf("liveness_timeout: got %s, want 15s", cfg.Engine.LivenessTimeout.Std())
	}

	if len(cfg.Auth.Revoked) != 2 || cfg.Auth.Revoked[0] != "tok-1" {
		t.Errorf("auth.revoked: got %v, want [tok-1 tok-2]", cfg.Auth.Revoked)
	}
	if cfg.Journal.PostgresDSN != "postgres://localhost/voxwire" {
		t.Errorf("journal.postgres_dsn: got %q", cfg.Journal.PostgresDSN)
	}
}

func TestLoadFromReader_ClientConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(clientYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Client.ServerURL != "wss://voxwire.example.com/v1/stream" {
		t.Errorf("server_url: got %q", cfg.Client.ServerURL)
	}
	if cfg.Client.TokenEndpoint.URL != "https://auth.example.com/token" {
		t.Errorf("token_endpoint.url: got %q", cfg.Client.TokenEndpoint.URL)
	}
	if got := cfg.Client.TokenEndpoint.Headers["Authorization"]; got != "Bearer service-key" {
		t.Errorf("token_endpoint.headers: got %q", got)
	}
	if cfg.Client.TokenEndpoint.RefreshBuffer.Std() != 90*time.Second {
		t.Errorf("refresh_buffer: got %s, want 90s", cfg.Client.TokenEndpoint.RefreshBuffer.Std())
	}
	if cfg.Client.Reconnect.MaxAttempts != 5 {
		t.Errorf("reconnect.max_attempts: got %d, want 5", cfg.Client.Reconnect.MaxAttempts)
	}
	if cfg.Client.Reconnect.InitialDelay.Std() != 2*time.Second {
		t.Errorf("reconnect.initial_delay: got %s, want 2s", cfg.Client.Reconnect.InitialDelay.Std())
	}
	if !cfg.Client.MuteCapture {
		t.Error("mute_capture: got false, want true")
	}
	if cfg.Client.MutePlayback {
		t.Error("mute_playback: got true, want false")
	}
	if cfg.Client.LogLevel != config.LogWarn {
		t.Errorf("client.log_level: got %q, want %q", cfg.Client.LogLevel, config.LogWarn)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \":8080\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("default log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Server.LogFormat != config.LogText {
		t.Errorf("default log_format: got %q, want text", cfg.Server.LogFormat)
	}
	wantFormat := audio.Format{SampleRate: 48000, Channels: 1, FrameSize: 480}
	if got := cfg.Audio.Format(); got != wantFormat {
		t.Errorf("default audio format: got %v, want %v", got, wantFormat)
	}
	if cfg.Audio.RingCapacity != 64 {
		t.Errorf("default ring_capacity: got %d, want 64", cfg.Audio.RingCapacity)
	}
	if cfg.Audio.Backend != "pipe" {
		t.Errorf("default backend: got %q, want pipe", cfg.Audio.Backend)
	}
	if cfg.Audio.Codec != config.CodecPCM {
		t.Errorf("default codec: got %q, want pcm", cfg.Audio.Codec)
	}
	if cfg.Client.Reconnect.MaxAttempts != 3 {
		t.Errorf("default reconnect.max_attempts: got %d, want 3", cfg.Client.Reconnect.MaxAttempts)
	}
	if cfg.Client.Reconnect.InitialDelay.Std() != time.Second {
		t.Errorf("default reconnect.initial_delay: got %s, want 1s", cfg.Client.Reconnect.InitialDelay.Std())
	}
	if cfg.Client.TokenEndpoint.RefreshBuffer.Std() != time.Minute {
		t.Errorf("default refresh_buffer: got %s, want 1m", cfg.Client.TokenEndpoint.RefreshBuffer.Std())
	}
	if cfg.Engine.LivenessTimeout.Std() != 15*time.Second {
		t.Errorf("default liveness_timeout: got %s, want 15s", cfg.Engine.LivenessTimeout.Std())
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("engine:\n  rtt_target: quickly\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error should mention invalid duration, got: %v", err)
	}
}

func TestEnums_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		valid bool
		check func() bool
	}{
		{"log level debug", true, config.LogDebug.IsValid},
		{"log level bananas", false, config.LogLevel("bananas").IsValid},
		{"log format json", true, config.LogJSON.IsValid},
		{"log format xml", false, config.LogFormat("xml").IsValid},
		{"codec pcm", true, config.CodecPCM.IsValid},
		{"codec flac", false, config.CodecName("flac").IsValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	if config.LogDebug.Slog() >= config.LogInfo.Slog() {
		t.Error("debug should map below info")
	}
	if config.LogError.Slog() <= config.LogWarn.Slog() {
		t.Error("error should map above warn")
	}
	if got := config.LogLevel("unknown").Slog(); got != config.LogInfo.Slog() {
		t.Errorf("unknown level: got %v, want info", got)
	}
}

func TestRegistry_OpenRegisteredBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	opener := &mock.Opener{}
	reg.Register("mock", func(f audio.Format, cfg config.AudioConfig) (audio.Opener, error) {
		return opener, nil
	})

	got, err := reg.Open(config.AudioConfig{
		SampleRate: 48000, Channels: 1, FrameSize: 480, Backend: "mock",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != opener {
		t.Error("Open returned a different opener than the factory produced")
	}
}

func TestRegistry_UnregisteredBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.Open(config.AudioConfig{Backend: "portaudio"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.Register("pipe", func(audio.Format, config.AudioConfig) (audio.Opener, error) { return nil, nil })
	reg.Register("mock", func(audio.Format, config.AudioConfig) (audio.Opener, error) { return nil, nil })

	names := reg.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}
