package pipeline

import (
	"fmt"

	"github.com/teslashibe/roopcam/internal/config"
	"github.com/teslashibe/roopcam/pkg/inference"
	"github.com/teslashibe/roopcam/pkg/voice"
)

// Frame variants reported per pass.
const (
	VariantSwapped  = "swapped"
	VariantRaw      = "raw"
	VariantFallback = "fallback"
)

// Mode is the user-facing processing configuration. Each pass reads one
// Mode snapshot at its start; a change applies from the next tick.
type Mode struct {
	RealTime        bool              `json:"real_time"`
	Voice           bool              `json:"voice"`
	VoiceProfile    voice.Profile     `json:"voice_profile"`
	FullBody        bool              `json:"full_body"`
	Quality         inference.Quality `json:"quality"`
	CloudProcessing bool              `json:"cloud_processing"`
}

// DefaultMode has real-time swapping on, voice off.
func DefaultMode() Mode {
	return Mode{
		RealTime:        true,
		VoiceProfile:    voice.ProfileOriginal,
		Quality:         inference.QualityBalanced,
		CloudProcessing: true,
	}
}

// ModeFromConfig converts the pipeline section of the service config.
func ModeFromConfig(c config.PipelineConfig) (Mode, error) {
	profile, err := voice.ParseProfile(c.VoiceProfile)
	if err != nil {
		return Mode{}, err
	}
	m := Mode{
		RealTime:        c.RealTime,
		Voice:           c.Voice,
		VoiceProfile:    profile,
		FullBody:        c.FullBody,
		Quality:         inference.Quality(c.Quality),
		CloudProcessing: c.CloudProcessing,
	}
	if m.Quality == "" {
		m.Quality = inference.QualityBalanced
	}
	return m, m.Validate()
}

// Validate checks the profile and quality names.
func (m Mode) Validate() error {
	if !m.VoiceProfile.Valid() {
		return fmt.Errorf("%w: voice profile %q", ErrInvalidMode, m.VoiceProfile)
	}
	if !m.Quality.Valid() {
		return fmt.Errorf("%w: quality %q", ErrInvalidMode, m.Quality)
	}
	return nil
}

// SwapOptions returns the swap options this mode implies.
func (m Mode) SwapOptions() inference.SwapOptions {
	return inference.SwapOptions{
		FullBody:        m.FullBody,
		Quality:         m.Quality,
		CloudProcessing: m.CloudProcessing,
	}
}

// ModePatch is a partial Mode update. Nil fields are left unchanged.
type ModePatch struct {
	RealTime        *bool              `json:"real_time,omitempty"`
	Voice           *bool              `json:"voice,omitempty"`
	VoiceProfile    *voice.Profile     `json:"voice_profile,omitempty"`
	FullBody        *bool              `json:"full_body,omitempty"`
	Quality         *inference.Quality `json:"quality,omitempty"`
	CloudProcessing *bool              `json:"cloud_processing,omitempty"`
}

// Apply returns m with the patch applied.
func (p ModePatch) Apply(m Mode) Mode {
	if p.RealTime != nil {
		m.RealTime = *p.RealTime
	}
	if p.Voice != nil {
		m.Voice = *p.Voice
	}
	if p.VoiceProfile != nil {
		m.VoiceProfile = *p.VoiceProfile
	}
	if p.FullBody != nil {
		m.FullBody = *p.FullBody
	}
	if p.Quality != nil {
		m.Quality = *p.Quality
	}
	if p.CloudProcessing != nil {
		m.CloudProcessing = *p.CloudProcessing
	}
	return m
}
