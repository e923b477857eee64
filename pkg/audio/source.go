package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Source captures audio from a microphone or other input.
type Source interface {
	// Start begins capture. Chunks are delivered on Stream.
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Stream returns the chunk channel, closed when capture stops.
	Stream() <-chan Chunk

	// Config returns the capture configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	io.Closer
}

// Stats describes capture progress.
type Stats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"`
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}

// NewSource creates the source selected by cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger, WithSineWave(440, 0.3)), nil
	case BackendExec, "":
		return NewExecSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", cfg.Backend)
	}
}
