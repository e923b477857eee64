package frame

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// CameraConfig configures a CameraSource.
type CameraConfig struct {
	// Device is a camera index or a path/URL understood by OpenCV.
	Device      string
	Width       int
	Height      int
	JPEGQuality int
}

// CameraSource captures frames from a local camera through OpenCV.
type CameraSource struct {
	cap     *gocv.VideoCapture
	mat     gocv.Mat
	quality int

	mu     sync.Mutex
	closed bool
}

// OpenCamera opens the configured device. A device that cannot be opened
// yields ErrMediaAccessDenied.
func OpenCamera(cfg CameraConfig) (*CameraSource, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(cfg.Device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(cfg.Device)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMediaAccessDenied, cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s", ErrMediaAccessDenied, cfg.Device)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	quality := cfg.JPEGQuality
	if quality <= 0 {
		quality = 80
	}

	return &CameraSource{
		cap:     vc,
		mat:     gocv.NewMat(),
		quality: quality,
	}, nil
}

// Capture reads one frame and encodes it as JPEG.
func (c *CameraSource) Capture(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Sample{}, ErrClosed
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return Sample{}, ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, []int{int(gocv.IMWriteJpegQuality), c.quality})
	if err != nil {
		return Sample{}, fmt.Errorf("frame: encode: %w", err)
	}
	defer buf.Close()

	return Sample{
		Data:   append([]byte(nil), buf.GetBytes()...),
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
	}, nil
}

// Close releases the device.
func (c *CameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.cap.Close()
}
