package camera

import (
	"context"
	"image"
)

// SyntheticSource returns a constant blank frame. It lets the monitor and
// the calibration page run on a bench without a camera attached.
type SyntheticSource struct {
	frame *image.Gray
}

// NewSyntheticSource creates a black frame of the given size.
func NewSyntheticSource(width, height int) *SyntheticSource {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	return &SyntheticSource{frame: image.NewGray(image.Rect(0, 0, width, height))}
}

// Grab returns the blank frame.
func (s *SyntheticSource) Grab(ctx context.Context) (image.Image, error) {
	return s.frame, nil
}

// Close is a no-op.
func (s *SyntheticSource) Close() error {
	return nil
}
