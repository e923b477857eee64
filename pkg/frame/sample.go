// Package frame defines captured video frames and the sources that produce
// them.
package frame

import (
	"bytes"
	"image"
	"image/jpeg"
	"time"
)

// Sample is one captured video frame. Data holds an encoded JPEG image
// owned by the sample. A Sample is never mutated after capture; stages that
// transform a frame produce a new Sample.
type Sample struct {
	Data   []byte
	Width  int
	Height int

	// Seq is the capture sequence number, strictly increasing per source run.
	Seq uint64

	// CapturedAt is the monotonic capture time.
	CapturedAt time.Time
}

// Empty reports whether the sample carries no image data.
func (s Sample) Empty() bool {
	return len(s.Data) == 0
}

// Clone returns a deep copy of s.
func (s Sample) Clone() Sample {
	c := s
	if s.Data != nil {
		c.Data = append([]byte(nil), s.Data...)
	}
	return c
}

// WithData returns a copy of s carrying a new image buffer. Sequence and
// capture time are preserved so the result orders with its source frame.
func (s Sample) WithData(data []byte) Sample {
	c := s
	c.Data = data
	return c
}

// EncodeJPEG encodes img into a Sample at the given quality.
func EncodeJPEG(img image.Image, quality int) (Sample, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Sample{}, err
	}
	b := img.Bounds()
	return Sample{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// DecodeSize reads the image dimensions from a JPEG header without
// decoding pixels.
func DecodeSize(data []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
