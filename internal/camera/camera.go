// Package camera provides frame acquisition with hardware abstraction.
// Real sources read from a capture sidecar over HTTP or replay files from disk.
// The fake implementation allows testing without a camera.
package camera

import (
	"context"
	"image"
)

// Default frame size of the chuck camera.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Source supplies frames on demand.
type Source interface {
	// Grab returns the current frame. The returned image must not be
	// modified by the caller.
	Grab(ctx context.Context) (image.Image, error)
	// Close releases the camera.
	Close() error
}
