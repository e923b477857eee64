package voice

import "errors"

// ErrAlreadyRunning is returned by Run when the processor is already running.
var ErrAlreadyRunning = errors.New("voice: processor already running")
