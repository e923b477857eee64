// Package config defines the roopcam configuration file and its defaults.
package config

import "time"

// Config is the root of the YAML configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Capture   CaptureConfig   `yaml:"capture"`
	Audio     AudioConfig     `yaml:"audio"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Session   SessionConfig   `yaml:"session"`
	Signaling SignalingConfig `yaml:"signaling"`
}

// ServerConfig controls the control/preview HTTP server.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
}

// InferenceConfig points at the remote inference service.
type InferenceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	// LocalModel is an optional YuNet ONNX model used when the remote
	// detector is unavailable.
	LocalModel string `yaml:"local_model"`
}

// CaptureConfig selects the video capture device.
type CaptureConfig struct {
	// Device is a camera index ("0") or a URL/file understood by OpenCV.
	// "pattern" selects the synthetic test source.
	Device string `yaml:"device"`
	// Preset overrides the size and quality below; see frame.Presets.
	Preset      string `yaml:"preset"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// AudioConfig selects the microphone device.
type AudioConfig struct {
	// Device is an ALSA device name, or "mock" for the sine source.
	Device     string `yaml:"device"`
	SampleRate int    `yaml:"sample_rate"`
	ChunkMs    int    `yaml:"chunk_ms"`
}

// PipelineConfig holds the initial mode flags and the tick rate.
type PipelineConfig struct {
	TickRateHz      int    `yaml:"tick_rate_hz"`
	RealTime        bool   `yaml:"real_time"`
	Voice           bool   `yaml:"voice"`
	VoiceProfile    string `yaml:"voice_profile"`
	FullBody        bool   `yaml:"full_body"`
	Quality         string `yaml:"quality"`
	CloudProcessing bool   `yaml:"cloud_processing"`
}

// SessionConfig lists ICE servers for the peer connection.
type SessionConfig struct {
	ICEServers        []string      `yaml:"ice_servers"`
	CandidatePoolSize int           `yaml:"candidate_pool_size"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
	Strict            bool          `yaml:"strict"`
}

// SignalingConfig is the optional websocket signaling endpoint.
type SignalingConfig struct {
	URL string `yaml:"url"`
}

// Default returns a Config populated with working defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8181",
			LogLevel: "info",
		},
		Inference: InferenceConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 2 * time.Second,
		},
		Capture: CaptureConfig{
			Device:      "0",
			Width:       640,
			Height:      480,
			JPEGQuality: 80,
		},
		Audio: AudioConfig{
			Device:     "default",
			SampleRate: 16000,
			ChunkMs:    20,
		},
		Pipeline: PipelineConfig{
			TickRateHz:      30,
			RealTime:        true,
			VoiceProfile:    "original",
			Quality:         "balanced",
			CloudProcessing: true,
		},
		Session: SessionConfig{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			},
			CandidatePoolSize: 10,
			StatsInterval:     time.Second,
		},
	}
}
