package frame

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// PatternSource renders a moving bar test pattern. It needs no device and
// is used when no camera is configured and in tests.
type PatternSource struct {
	width   int
	height  int
	quality int

	mu     sync.Mutex
	n      int
	closed bool
}

// NewPatternSource creates a pattern source of the given size.
func NewPatternSource(width, height, quality int) *PatternSource {
	if quality <= 0 {
		quality = 80
	}
	return &PatternSource{width: width, height: height, quality: quality}
}

// Capture renders the next pattern frame.
func (p *PatternSource) Capture(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Sample{}, ErrClosed
	}
	n := p.n
	p.n++
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barX := (n * 8) % max(p.width, 1)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			c := color.RGBA{R: uint8(x * 255 / max(p.width, 1)), G: uint8(y * 255 / max(p.height, 1)), B: 96, A: 255}
			if x >= barX && x < barX+16 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return EncodeJPEG(img, p.quality)
}

// Close stops the source.
func (p *PatternSource) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
