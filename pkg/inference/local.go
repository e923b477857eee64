package inference

import (
	"context"
	"time"

	"github.com/teslashibe/roopcam/pkg/detection"
	"github.com/teslashibe/roopcam/pkg/frame"
)

const providerLocal = "local"

// LocalDetector serves Detect from an on-device detection.Detector. It
// supports no other calls and is meant to sit behind the remote service in
// a Chain.
type LocalDetector struct {
	detector detection.Detector
	model    string
}

// NewLocalDetector wraps d. model labels results.
func NewLocalDetector(d detection.Detector, model string) *LocalDetector {
	return &LocalDetector{detector: d, model: model}
}

// Detect runs the local detector.
func (l *LocalDetector) Detect(ctx context.Context, f frame.Sample) (*Detection, error) {
	if f.Empty() {
		return nil, ErrInvalidFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	dets, err := l.detector.Detect(f.Data)
	if err != nil {
		return nil, WrapError(providerLocal, KindDetect, err)
	}

	faces := make([]FaceBox, 0, len(dets))
	for _, d := range dets {
		m := d.Landmarks.Mouth()
		faces = append(faces, FaceBox{
			X:          d.X,
			Y:          d.Y,
			W:          d.W,
			H:          d.H,
			Confidence: d.Confidence,
			Landmarks: Landmarks{
				LeftEye:  Point{X: d.Landmarks.LeftEye.X, Y: d.Landmarks.LeftEye.Y},
				RightEye: Point{X: d.Landmarks.RightEye.X, Y: d.Landmarks.RightEye.Y},
				Nose:     Point{X: d.Landmarks.Nose.X, Y: d.Landmarks.Nose.Y},
				Mouth:    Point{X: m.X, Y: m.Y},
			},
		})
	}

	return &Detection{
		Faces:   faces,
		Model:   l.model,
		Latency: time.Since(start),
	}, nil
}

// ExtractEmbedding is not supported.
func (l *LocalDetector) ExtractEmbedding(context.Context, frame.Sample) (*Embedding, error) {
	return nil, WrapError(providerLocal, KindEmbed, ErrNotSupported)
}

// Swap is not supported.
func (l *LocalDetector) Swap(context.Context, frame.Sample, *Embedding, SwapOptions) (*SwapResult, error) {
	return nil, WrapError(providerLocal, KindSwap, ErrNotSupported)
}

// AdvancedSwap is not supported.
func (l *LocalDetector) AdvancedSwap(context.Context, *AdvancedSwapRequest) (*AdvancedSwapResult, error) {
	return nil, WrapError(providerLocal, KindAdvancedSwap, ErrNotSupported)
}

// ConvertVoice is not supported.
func (l *LocalDetector) ConvertVoice(context.Context, *VoiceRequest) (*VoiceResult, error) {
	return nil, WrapError(providerLocal, KindVoice, ErrNotSupported)
}

// Capabilities reports detection only.
func (l *LocalDetector) Capabilities() Capabilities {
	return Capabilities{Detect: true}
}

// Health always succeeds once the model is loaded.
func (l *LocalDetector) Health(context.Context) error {
	return nil
}

// Close releases the detector.
func (l *LocalDetector) Close() error {
	return l.detector.Close()
}

// Verify LocalDetector implements Provider at compile time.
var _ Provider = (*LocalDetector)(nil)
