package frame

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSampleClone(t *testing.T) {
	s := Sample{Data: []byte{1, 2, 3}, Width: 2, Height: 2, Seq: 7, CapturedAt: time.Now()}
	c := s.Clone()
	c.Data[0] = 9

	if s.Data[0] != 1 {
		t.Errorf("Clone shares buffer: original changed to %d", s.Data[0])
	}
	if c.Seq != 7 || c.Width != 2 {
		t.Errorf("Clone lost metadata: %+v", c)
	}
}

func TestSampleEmpty(t *testing.T) {
	if !(Sample{}).Empty() {
		t.Error("zero Sample should be empty")
	}
	if (Sample{Data: []byte{0}}).Empty() {
		t.Error("Sample with data should not be empty")
	}
}

func TestWithDataKeepsOrdering(t *testing.T) {
	at := time.Now()
	s := Sample{Data: []byte{1}, Seq: 3, CapturedAt: at}
	out := s.WithData([]byte{2, 2})
	if out.Seq != 3 || !out.CapturedAt.Equal(at) {
		t.Errorf("WithData changed ordering fields: %+v", out)
	}
	if len(s.Data) != 1 {
		t.Error("WithData mutated the source sample")
	}
}

func TestPatternSource(t *testing.T) {
	src := NewPatternSource(64, 48, 70)
	ctx := context.Background()

	s, err := src.Capture(ctx)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if s.Width != 64 || s.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", s.Width, s.Height)
	}
	w, h, err := DecodeSize(s.Data)
	if err != nil {
		t.Fatalf("DecodeSize: %v", err)
	}
	if w != 64 || h != 48 {
		t.Errorf("decoded size = %dx%d, want 64x48", w, h)
	}

	src.Close()
	if _, err := src.Capture(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Capture after Close = %v, want ErrClosed", err)
	}
}

func TestPatternSourceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPatternSource(8, 8, 0).Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Capture = %v, want context.Canceled", err)
	}
}

func TestApplyPreset(t *testing.T) {
	base := CameraConfig{Device: "0", Width: 640, Height: 480, JPEGQuality: 80}

	cfg, err := ApplyPreset(base, "720P")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if cfg.Device != "0" || cfg.Width != 1280 || cfg.Height != 720 || cfg.JPEGQuality != 85 {
		t.Errorf("Unexpected preset result: %+v", cfg)
	}

	if cfg, _ := ApplyPreset(base, ""); cfg != base {
		t.Errorf("Expected empty preset to keep config, got %+v", cfg)
	}
	if _, err := ApplyPreset(base, "8k"); err == nil {
		t.Error("Expected error for unknown preset")
	}
	if names := PresetNames(); len(names) != len(Presets()) || names[0] != Preset1080p {
		t.Errorf("Unexpected preset names: %v", names)
	}
}
