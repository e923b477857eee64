package detection

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned for empty or undecodable input.
var ErrEmptyImage = errors.New("detection: empty image")

// YuNetDetector uses OpenCV's FaceDetectorYN.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	logger   *slog.Logger
	mu       sync.Mutex // Protects inference
}

// NewYuNet loads the YuNet model at cfg.ModelPath.
func NewYuNet(cfg Config, logger *slog.Logger) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if logger == nil {
		logger = slog.Default()
	}
	nms := cfg.NMSThresh
	if nms <= 0 {
		nms = 0.3
	}

	// Input size is updated per image in Detect.
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		float32(nms),
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{
		detector: detector,
		config:   cfg,
		logger:   logger.With("component", "detection.yunet"),
	}, nil
}

// Detect finds faces in the JPEG image.
func (d *YuNetDetector) Detect(jpeg []byte) ([]Detection, error) {
	if len(jpeg) == 0 {
		return nil, ErrEmptyImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return nil, ErrEmptyImage
	}

	imgW := float64(img.Cols())
	imgH := float64(img.Rows())

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()

	d.detector.Detect(img, &faces)

	detections := make([]Detection, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		// YuNet output row (15 columns):
		// 0-3: x, y, w, h in pixels
		// 4-13: right eye, left eye, nose, right mouth, left mouth (x,y)
		// 14: score
		at := func(c int) float64 { return float64(faces.GetFloatAt(r, c)) }
		pt := func(c int) Point { return Point{X: at(c) / imgW, Y: at(c+1) / imgH} }

		detections = append(detections, Detection{
			X:          at(0) / imgW,
			Y:          at(1) / imgH,
			W:          at(2) / imgW,
			H:          at(3) / imgH,
			Confidence: at(14),
			Landmarks: Landmarks{
				RightEye:   pt(4),
				LeftEye:    pt(6),
				Nose:       pt(8),
				RightMouth: pt(10),
				LeftMouth:  pt(12),
			},
		})
	}

	if len(detections) > 0 {
		d.logger.Debug("faces detected", "count", len(detections))
	}
	return detections, nil
}

// Close releases the detector resources.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
