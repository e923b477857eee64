package frame

import "context"

// Source produces frames on demand. Capture is called at most once per
// scheduler tick and must not retain the returned buffer.
type Source interface {
	// Capture grabs the current frame. Seq and CapturedAt are stamped by
	// the caller.
	Capture(ctx context.Context) (Sample, error)

	// Close releases the capture device.
	Close() error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Sample, error)

// Capture calls f.
func (f SourceFunc) Capture(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Close is a no-op.
func (f SourceFunc) Close() error {
	return nil
}
