package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxwire/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.Open] when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: device backend not registered")

// BackendFactory builds an [audio.Opener] for streams of the given format.
// Factories run once per process lifetime; expensive initialisation (driver
// startup, device enumeration) belongs here, not in the Open* methods.
type BackendFactory func(f audio.Format, cfg AudioConfig) (audio.Opener, error)

// Registry maps device backend names to their factories. Each binary
// registers only the backends it links, so a client built without PortAudio
// simply has no "portaudio" entry. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]BackendFactory),
	}
}

// Register registers a device backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Names returns the registered backend names, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Open instantiates the device backend named by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Open(cfg AudioConfig) (audio.Opener, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg.Format(), cfg)
}
