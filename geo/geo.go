// Package geo holds the crop rectangle shared by every page of a run.
package geo

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrInvalidRegion is returned when a region is empty or has negative
	// coordinates.
	ErrInvalidRegion = errors.New("invalid crop region")
	// ErrOutOfBounds is returned when a region does not fit an image.
	ErrOutOfBounds = errors.New("crop region out of bounds")
)

// CropRegion is an axis-aligned rectangle in full-resolution pixel
// coordinates. End coordinates are exclusive.
type CropRegion struct {
	StartX int `json:"start_x" yaml:"start_x"`
	StartY int `json:"start_y" yaml:"start_y"`
	EndX   int `json:"end_x" yaml:"end_x"`
	EndY   int `json:"end_y" yaml:"end_y"`
}

// Region builds a CropRegion and validates it.
func Region(startX, startY, endX, endY int) (CropRegion, error) {
	r := CropRegion{StartX: startX, StartY: startY, EndX: endX, EndY: endY}
	if err := r.Validate(); err != nil {
		return CropRegion{}, err
	}
	return r, nil
}

// Validate checks 0 <= start < end on both axes.
func (r CropRegion) Validate() error {
	if r.StartX < 0 || r.StartY < 0 {
		return fmt.Errorf("%w: negative origin %s", ErrInvalidRegion, r)
	}
	if r.StartX >= r.EndX || r.StartY >= r.EndY {
		return fmt.Errorf("%w: empty rectangle %s", ErrInvalidRegion, r)
	}
	return nil
}

// Fits reports whether the region lies within an image with the given
// bounds. Coordinates are relative to bounds.Min.
func (r CropRegion) Fits(bounds image.Rectangle) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.EndX > bounds.Dx() || r.EndY > bounds.Dy() {
		return fmt.Errorf("%w: %s exceeds image %dx%d", ErrOutOfBounds, r, bounds.Dx(), bounds.Dy())
	}
	return nil
}

func (r CropRegion) Width() int  { return r.EndX - r.StartX }
func (r CropRegion) Height() int { return r.EndY - r.StartY }

// Rect returns the region as an image.Rectangle anchored at origin.
func (r CropRegion) Rect(origin image.Point) image.Rectangle {
	return image.Rect(r.StartX, r.StartY, r.EndX, r.EndY).Add(origin)
}

func (r CropRegion) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.StartX, r.StartY, r.EndX, r.EndY)
}

// FromPreview maps a rectangle dragged on a preview image that was
// downscaled by divisor back to full resolution. The corners may be given in
// any order; every coordinate is multiplied by divisor and floored.
func FromPreview(x0, y0, x1, y1 float64, divisor int) (CropRegion, error) {
	if divisor < 1 {
		return CropRegion{}, fmt.Errorf("%w: preview divisor %d", ErrInvalidRegion, divisor)
	}
	minX, maxX := math.Min(x0, x1), math.Max(x0, x1)
	minY, maxY := math.Min(y0, y1), math.Max(y0, y1)
	d := float64(divisor)
	return Region(
		int(math.Floor(minX*d)),
		int(math.Floor(minY*d)),
		int(math.Floor(maxX*d)),
		int(math.Floor(maxY*d)),
	)
}
