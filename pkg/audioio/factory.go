package audioio

import (
	"fmt"
	"log/slog"
)

// SourceFactory builds a Source for a registered backend.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

// SinkFactory builds a Sink for a registered backend.
type SinkFactory func(cfg Config, logger *slog.Logger) (Sink, error)

var (
	sourceFactories = map[Backend]SourceFactory{}
	sinkFactories   = map[Backend]SinkFactory{}
)

// RegisterBackend registers device constructors for a backend. Platform
// packages call this from init(); either factory may be nil when a backend
// only provides one direction.
func RegisterBackend(b Backend, src SourceFactory, snk SinkFactory) {
	if src != nil {
		sourceFactories[b] = src
	}
	if snk != nil {
		sinkFactories[b] = snk
	}
}

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	if backend == BackendMock {
		return NewMockSource(cfg, logger), nil
	}
	if f, ok := sourceFactories[backend]; ok {
		return f(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported backend: %s", backend)
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	if backend == BackendMock {
		return NewMockSink(cfg, logger), nil
	}
	if f, ok := sinkFactories[backend]; ok {
		return f(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported backend: %s", backend)
}

// detectBestBackend returns the best available backend for this process.
// Registered platform backends win over the mock.
func detectBestBackend() Backend {
	for b := range sourceFactories {
		if _, ok := sinkFactories[b]; ok {
			return b
		}
	}
	return BackendMock
}

// AvailableBackends returns the list of usable backends.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	for b := range sourceFactories {
		backends = append(backends, b)
	}
	return backends
}
