package audio

import "errors"

var (
	// ErrMediaAccessDenied is returned when the microphone cannot be opened.
	ErrMediaAccessDenied = errors.New("audio: media access denied")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("audio: source closed")
)
