// Package vision turns camera frames into presence samples and renders the
// annotated frame shown on the calibration page.
package vision

import (
	"errors"
	"fmt"
	"image"
)

// Region is the area of the frame that covers the chuck.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// DetectionConfig holds the tunable detector parameters.
type DetectionConfig struct {
	Region    Region `json:"region"`
	Threshold int    `json:"threshold"`
	MinArea   int    `json:"min_area"`
}

// Default detection values used when the store has no value for a column.
var DefaultConfig = DetectionConfig{
	Region:    Region{X: 280, Y: 260, W: 80, H: 80},
	Threshold: 100,
	MinArea:   500,
}

var (
	ErrThresholdRange = errors.New("threshold must be between 0 and 255")
	ErrMinArea        = errors.New("min area must be >= 0")
	ErrRegionSize     = errors.New("region width and height must be > 0")
	ErrRegionOrigin   = errors.New("region origin must be >= 0")
)

// ValidateThreshold checks a brightness threshold.
func ValidateThreshold(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%w: %d", ErrThresholdRange, v)
	}
	return nil
}

// ValidateMinArea checks a minimum area.
func ValidateMinArea(v int) error {
	if v < 0 {
		return fmt.Errorf("%w: %d", ErrMinArea, v)
	}
	return nil
}

// ValidateRegion checks that a region is well formed. It does not check the
// region against frame bounds; ClampRegion handles that at sampling time.
func ValidateRegion(r Region) error {
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("%w: (%d,%d)", ErrRegionOrigin, r.X, r.Y)
	}
	if r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrRegionSize, r.W, r.H)
	}
	return nil
}

// Validate checks every field of the config.
func (c DetectionConfig) Validate() error {
	if err := ValidateRegion(c.Region); err != nil {
		return err
	}
	if err := ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	return ValidateMinArea(c.MinArea)
}

// ClampRegion returns the rectangle to sample. If the region does not lie
// entirely within bounds, the full frame is returned and ok is false.
func ClampRegion(r Region, bounds image.Rectangle) (rect image.Rectangle, ok bool) {
	rect = r.Rect().Add(bounds.Min)
	if r.W <= 0 || r.H <= 0 || !rect.In(bounds) {
		return bounds, false
	}
	return rect, true
}

// Sample is one presence reading.
type Sample struct {
	Present bool
	Area    int
	// Clamped is true when the configured region was out of bounds and the
	// full frame was sampled instead.
	Clamped bool
}

// Detector extracts a presence sample from a frame. Implementations must be
// deterministic: the same frame and config always produce the same sample.
type Detector interface {
	Sample(frame image.Image, cfg DetectionConfig) Sample
}
