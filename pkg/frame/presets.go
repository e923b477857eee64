package frame

import (
	"fmt"
	"slices"
	"strings"
)

// Preset names for common capture sizes.
const (
	PresetVGA    = "vga"
	Preset720p   = "720p"
	Preset1080p  = "1080p"
	PresetLowBW  = "low-bandwidth"
	PresetStudio = "studio"
)

// Presets returns all capture presets keyed by name. Device is left empty.
func Presets() map[string]CameraConfig {
	return map[string]CameraConfig{
		PresetVGA:    {Width: 640, Height: 480, JPEGQuality: 80},
		Preset720p:   {Width: 1280, Height: 720, JPEGQuality: 85},
		Preset1080p:  {Width: 1920, Height: 1080, JPEGQuality: 90},
		PresetLowBW:  {Width: 320, Height: 240, JPEGQuality: 60},
		PresetStudio: {Width: 1920, Height: 1080, JPEGQuality: 95},
	}
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, 5)
	for name := range Presets() {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ApplyPreset overwrites the size and quality of cfg with the named preset.
// An empty name returns cfg unchanged.
func ApplyPreset(cfg CameraConfig, name string) (CameraConfig, error) {
	if name == "" {
		return cfg, nil
	}
	p, ok := Presets()[strings.ToLower(name)]
	if !ok {
		return cfg, fmt.Errorf("frame: unknown preset %q; valid presets: %s", name, strings.Join(PresetNames(), ", "))
	}
	cfg.Width, cfg.Height, cfg.JPEGQuality = p.Width, p.Height, p.JPEGQuality
	return cfg, nil
}
