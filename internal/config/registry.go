package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/sphinxlink/pkg/provider/stt"
	"github.com/MrWong99/sphinxlink/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds an STT provider from the full configuration. engine is
// the VAD engine created for the same configuration.
type STTFactory func(cfg *Config, engine vad.Engine) (stt.Provider, error)

// VADFactory builds a VAD engine from the detector settings.
type VADFactory func(cfg DetectorConfig) (vad.Engine, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
	vad map[string]VADFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]STTFactory),
		vad: make(map[string]VADFactory),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// CreateVAD instantiates the VAD engine named by cfg.Detector.Engine.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(cfg *Config) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Detector.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Detector.Engine)
	}
	return factory(cfg.Detector)
}

// CreateSTT instantiates the VAD engine and then the STT provider named by
// cfg.Recognizer.Provider.
func (r *Registry) CreateSTT(cfg *Config) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Recognizer.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Recognizer.Provider)
	}
	engine, err := r.CreateVAD(cfg)
	if err != nil {
		return nil, err
	}
	return factory(cfg, engine)
}

// Names returns the sorted registered names for kind ("stt" or "vad").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "stt":
		for n := range r.stt {
			names = append(names, n)
		}
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
