package frame

import "errors"

var (
	// ErrMediaAccessDenied is returned when the capture device cannot be
	// opened.
	ErrMediaAccessDenied = errors.New("frame: media access denied")

	// ErrClosed is returned by Capture after Close.
	ErrClosed = errors.New("frame: source closed")

	// ErrNoFrame is returned when the device produced no image this read.
	ErrNoFrame = errors.New("frame: no frame available")
)
