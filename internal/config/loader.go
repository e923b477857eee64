package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Known values for the enumerated pipeline fields.
var (
	ValidQualities     = []string{"fast", "balanced", "ultra", "maximum"}
	ValidVoiceProfiles = []string{"original", "male_deep", "female_high", "child", "robot", "celebrity1", "celebrity2"}
	ValidLogLevels     = []string{"debug", "info", "warn", "error"}
)

// Load reads the YAML file at path on top of Default, applies ROOPCAM_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

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

// LoadFromReader decodes YAML from r over the defaults, applies environment
// overrides and validates. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from ROOPCAM_* environment variables.
func ApplyEnv(cfg *Config) {
	envString("ROOPCAM_ADDR", &cfg.Server.Addr)
	envString("ROOPCAM_LOG_LEVEL", &cfg.Server.LogLevel)

	envString("ROOPCAM_INFERENCE_URL", &cfg.Inference.BaseURL)
	envString("ROOPCAM_INFERENCE_API_KEY", &cfg.Inference.APIKey)
	envDuration("ROOPCAM_INFERENCE_TIMEOUT", &cfg.Inference.Timeout)
	envString("ROOPCAM_LOCAL_MODEL", &cfg.Inference.LocalModel)

	envString("ROOPCAM_CAMERA", &cfg.Capture.Device)
	envString("ROOPCAM_CAMERA_PRESET", &cfg.Capture.Preset)
	envString("ROOPCAM_MIC", &cfg.Audio.Device)

	envInt("ROOPCAM_TICK_RATE", &cfg.Pipeline.TickRateHz)
	envString("ROOPCAM_QUALITY", &cfg.Pipeline.Quality)
	envString("ROOPCAM_VOICE_PROFILE", &cfg.Pipeline.VoiceProfile)

	envString("ROOPCAM_SIGNALING_URL", &cfg.Signaling.URL)
	if v := os.Getenv("ROOPCAM_ICE_SERVERS"); v != "" {
		cfg.Session.ICEServers = splitList(v)
	}
}

// Validate checks cfg and returns a joined error listing every problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(ValidLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %s", cfg.Server.LogLevel, strings.Join(ValidLogLevels, ", ")))
	}
	if cfg.Inference.BaseURL == "" {
		errs = append(errs, errors.New("inference.base_url is required"))
	}
	if cfg.Inference.Timeout < 0 {
		errs = append(errs, fmt.Errorf("inference.timeout %s must not be negative", cfg.Inference.Timeout))
	}
	if cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("capture size %dx%d must be positive", cfg.Capture.Width, cfg.Capture.Height))
	}
	if cfg.Capture.JPEGQuality < 1 || cfg.Capture.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("capture.jpeg_quality %d is out of range [1, 100]", cfg.Capture.JPEGQuality))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.ChunkMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d must be positive", cfg.Audio.ChunkMs))
	}
	if cfg.Pipeline.TickRateHz < 1 || cfg.Pipeline.TickRateHz > 120 {
		errs = append(errs, fmt.Errorf("pipeline.tick_rate_hz %d is out of range [1, 120]", cfg.Pipeline.TickRateHz))
	}
	if !slices.Contains(ValidQualities, cfg.Pipeline.Quality) {
		errs = append(errs, fmt.Errorf("pipeline.quality %q is invalid; valid values: %s", cfg.Pipeline.Quality, strings.Join(ValidQualities, ", ")))
	}
	if !slices.Contains(ValidVoiceProfiles, cfg.Pipeline.VoiceProfile) {
		errs = append(errs, fmt.Errorf("pipeline.voice_profile %q is invalid; valid values: %s", cfg.Pipeline.VoiceProfile, strings.Join(ValidVoiceProfiles, ", ")))
	}
	if cfg.Session.CandidatePoolSize < 0 || cfg.Session.CandidatePoolSize > 255 {
		errs = append(errs, fmt.Errorf("session.candidate_pool_size %d is out of range [0, 255]", cfg.Session.CandidatePoolSize))
	}
	if cfg.Session.StatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.stats_interval %s must be positive", cfg.Session.StatsInterval))
	}

	return errors.Join(errs...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
