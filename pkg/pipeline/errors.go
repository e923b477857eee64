package pipeline

import "errors"

var (
	ErrAlreadyRunning = errors.New("pipeline: already running")
	ErrClosed         = errors.New("pipeline: closed")
	ErrInvalidMode    = errors.New("pipeline: invalid mode")
	ErrNoIdentity     = errors.New("pipeline: no source identity set")
	ErrNoVideo        = errors.New("pipeline: no video source")
	ErrNoAudio        = errors.New("pipeline: no audio source")
)
