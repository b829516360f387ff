// Command voxwire is the voxwire streaming client. It connects to a voxwired
// server, streams microphone audio up and plays the return path through the
// speakers, reconnecting automatically when the link drops.
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

	"github.com/MrWong99/voxwire/internal/client"
	"github.com/MrWong99/voxwire/internal/config"
	"github.com/MrWong99/voxwire/internal/engine"
	"github.com/MrWong99/voxwire/pkg/audio"
	paudio "github.com/MrWong99/voxwire/pkg/audio/portaudio"
)

const statsInterval = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxwire.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	logger := newLogger(os.Stderr, cfg.Client.LogLevel, cfg.Client.LogFormat)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"server_url", cfg.Client.ServerURL,
		"format", cfg.Audio.Format(),
		"codec", cfg.Audio.Codec,
		"backend", cfg.Audio.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, closeBackend := newRegistry()
	defer closeBackend()

	c, err := client.New(cfg, client.WithRegistry(registry))
	if err != nil {
		slog.Error("failed to initialise client", "err", err)
		return 1
	}
	c.OnStateChange(func(s engine.State) {
		slog.Info("session state changed", "state", s)
	})
	c.OnError(func(err error) {
		slog.Error("session error", "err", err)
	})

	if err := c.Connect(ctx); err != nil {
		slog.Error("failed to connect", "err", err)
		return 1
	}
	slog.Info("connected", "session_id", c.SessionID())

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			if err := c.Close(); err != nil {
				slog.Warn("close error", "err", err)
			}
			slog.Info("goodbye")
			return 0
		case <-ticker.C:
			snap := c.Stats()
			slog.Debug("session stats",
				"state", snap.State,
				"window", snap.Window,
				"in_flight", snap.InFlight,
				"frames_sent", snap.FramesSent,
				"frames_received", snap.FramesReceived,
				"rtt", snap.RTTSmoothed,
				"amplitude", fmt.Sprintf("%.3f", c.Amplitude()),
			)
		}
	}
}

// newRegistry builds a device registry with the hardware backend wired in on
// top of the defaults. PortAudio is initialised lazily so headless runs with
// the pipe or mock backend never touch the audio runtime.
func newRegistry() (*config.Registry, func()) {
	var (
		once    sync.Once
		backend *paudio.Backend
		initErr error
	)
	reg := client.DefaultRegistry()
	reg.Register("portaudio", func(audio.Format, config.AudioConfig) (audio.Opener, error) {
		once.Do(func() {
			backend, initErr = paudio.New()
		})
		if initErr != nil {
			return nil, initErr
		}
		return backend, nil
	})
	return reg, func() {
		if backend != nil {
			if err := backend.Close(); err != nil {
				slog.Warn("portaudio shutdown error", "err", err)
			}
		}
	}
}

func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.Slog()}

	var handler slog.Handler
	if format == config.LogJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
