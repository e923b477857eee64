package audio

import (
	"fmt"
	"time"
)

// Backend selects the capture implementation.
type Backend string

const (
	// BackendExec captures through an arecord subprocess.
	BackendExec Backend = "exec"
	// BackendMock generates synthetic audio.
	BackendMock Backend = "mock"
)

// Config holds capture configuration.
type Config struct {
	Backend Backend

	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// Channels. Default: 1 (mono).
	Channels int

	// BufferDuration is the length of one chunk. Default: 20ms.
	BufferDuration time.Duration

	// Device is the ALSA device name passed to arecord.
	Device string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendExec,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		Device:         "default",
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames (samples per channel) per chunk.
func (c Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
