package camera

import (
	"context"
	"errors"
	"image"
	"sync"
)

// FakeSource is a test double that returns scripted frames.
type FakeSource struct {
	mu sync.Mutex
	// Frames contains scripted frames. Each call to Grab consumes the next
	// frame; once exhausted the last frame repeats.
	Frames []image.Image
	index  int
	// GrabError, if set, will be returned by Grab.
	GrabError error
	// Closed tracks if Close was called.
	Closed bool
	// Grabs counts calls to Grab.
	Grabs int
}

// NewFakeSource creates a FakeSource with the given frames.
func NewFakeSource(frames ...image.Image) *FakeSource {
	return &FakeSource{Frames: frames}
}

// Grab returns the next scripted frame.
func (f *FakeSource) Grab(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Grabs++
	if f.GrabError != nil {
		return nil, f.GrabError
	}
	if len(f.Frames) == 0 {
		return nil, errors.New("no frames configured")
	}
	frame := f.Frames[f.index]
	if f.index < len(f.Frames)-1 {
		f.index++
	}
	return frame, nil
}

// SetError changes the error returned by Grab.
func (f *FakeSource) SetError(err error) {
	f.mu.Lock()
	f.GrabError = err
	f.mu.Unlock()
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeSource) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Reset rewinds to the first frame.
func (f *FakeSource) Reset() {
	f.mu.Lock()
	f.index = 0
	f.Closed = false
	f.mu.Unlock()
}
