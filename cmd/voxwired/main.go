// Command voxwired is the voxwire streaming server daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/observe"
	"github.com/MrWong99/voxwire/internal/server"
	"github.com/MrWong99/voxwire/pkg/audio"
	paudio "github.com/MrWong99/voxwire/pkg/audio/portaudio"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxwired.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwired: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwired: %v\n", err)
		}
		return 1
	}

	logger, level := newLogger(os.Stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	slog.Info("voxwired starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"format", cfg.Audio.Format(),
		"codec", cfg.Audio.Codec,
		"backend", cfg.Audio.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxwired",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}
	closeBackend := registerPortAudio(srv.Registry())
	defer closeBackend()

	// Watch the config file for the hot-reloadable fields: log level and the
	// token revocation list. Everything else requires a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.Slog())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RevocationsChanged {
			srv.SetRevoked(d.NewRevoked)
			slog.Info("token revocation list updated", "revoked", len(d.NewRevoked))
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// registerPortAudio wires the hardware backend into the registry. The
// PortAudio runtime is initialised once, on first use, and released by the
// returned closer.
func registerPortAudio(reg *config.Registry) (cleanup func()) {
	var (
		once    sync.Once
		backend *paudio.Backend
		initErr error
	)
	reg.Register("portaudio", func(audio.Format, config.AudioConfig) (audio.Opener, error) {
		once.Do(func() {
			backend, initErr = paudio.New()
		})
		if initErr != nil {
			return nil, initErr
		}
		return backend, nil
	})
	return func() {
		if backend != nil {
			if err := backend.Close(); err != nil {
				slog.Warn("portaudio shutdown error", "err", err)
			}
		}
	}
}

// newLogger builds the process logger and returns the level var the config
// watcher adjusts on hot reload.
func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Slog())
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == config.LogJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), lvl
}
