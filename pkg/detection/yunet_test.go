package detection

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestYuNetNewInvalidPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "/nonexistent/path/model.onnx"

	if _, err := NewYuNet(cfg, nil); err == nil {
		t.Error("Expected error for invalid model path")
	}
}

func TestYuNetDetect_SolidImage(t *testing.T) {
	detector := newTestDetector(t)

	dets, err := detector.Detect(createSolidJPEG(320, 240, color.RGBA{0, 0, 255, 255}))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) > 0 {
		t.Errorf("Expected no detections in solid color image, got %d", len(dets))
	}
}

func TestYuNetDetect_EmptyImage(t *testing.T) {
	detector := newTestDetector(t)

	if _, err := detector.Detect(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("Detect(nil) = %v, want ErrEmptyImage", err)
	}
	if _, err := detector.Detect([]byte("not a jpeg")); err == nil {
		t.Error("Expected error for invalid JPEG")
	}
}

func newTestDetector(t *testing.T) *YuNetDetector {
	t.Helper()
	modelPath := findModelPath()
	if modelPath == "" {
		t.Skip("YuNet model not found, skipping test")
	}
	cfg := DefaultConfig()
	cfg.ModelPath = modelPath

	d, err := NewYuNet(cfg, nil)
	if err != nil {
		t.Fatalf("NewYuNet failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func findModelPath() string {
	for _, p := range []string{
		"../../models/face_detection_yunet.onnx",
		"models/face_detection_yunet.onnx",
	} {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	return ""
}

func createSolidJPEG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}
