// Package detection provides local face detection with OpenCV.
package detection

// Point is a normalized (0-1) image coordinate.
type Point struct {
	X, Y float64
}

// Landmarks holds the five YuNet facial keypoints.
type Landmarks struct {
	RightEye   Point
	LeftEye    Point
	Nose       Point
	RightMouth Point
	LeftMouth  Point
}

// Mouth returns the midpoint of the mouth corners.
func (l Landmarks) Mouth() Point {
	return Point{
		X: (l.RightMouth.X + l.LeftMouth.X) / 2,
		Y: (l.RightMouth.Y + l.LeftMouth.Y) / 2,
	}
}

// Detection is one detected face.
type Detection struct {
	X, Y       float64 // Top-left corner (0-1 normalized)
	W, H       float64 // Width and height (0-1 normalized)
	Confidence float64 // Detection confidence (0-1)
	Landmarks  Landmarks
}

// Center returns the center point of the detection.
func (d Detection) Center() (x, y float64) {
	return d.X + d.W/2, d.Y + d.H/2
}

// Area returns the area of the bounding box.
func (d Detection) Area() float64 {
	return d.W * d.H
}

// Detector is the interface for face detection backends.
type Detector interface {
	// Detect finds faces in a JPEG image.
	Detect(jpeg []byte) ([]Detection, error)

	// Close releases resources.
	Close() error
}

// Config holds detector configuration.
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.5)
	NMSThresh        float64 // Non-maximum suppression threshold
	InputWidth       int     // Initial model input width
	InputHeight      int     // Initial model input height
}

// DefaultConfig returns production defaults for YuNet.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.3,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// SelectBest picks the most prominent face.
// Score: confidence * 0.7 + relative area * 0.3.
func SelectBest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	if len(dets) == 1 {
		return &dets[0]
	}

	maxArea := 0.0
	for _, d := range dets {
		if d.Area() > maxArea {
			maxArea = d.Area()
		}
	}

	bestScore := -1.0
	var best *Detection
	for i := range dets {
		score := dets[i].Confidence * 0.7
		if maxArea > 0 {
			score += (dets[i].Area() / maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = &dets[i]
		}
	}
	return best
}

// MeanConfidence returns the average confidence, or 0 for no detections.
func MeanConfidence(dets []Detection) float64 {
	if len(dets) == 0 {
		return 0
	}
	var sum float64
	for _, d := range dets {
		sum += d.Confidence
	}
	return sum / float64(len(dets))
}
