package pipeline

import (
	"context"
	"errors"

	"github.com/wudi/scansort/geo"
)

// ErrSelectionCanceled is returned when the user aborts region selection.
// It stops the run before any crop is made.
var ErrSelectionCanceled = errors.New("region selection canceled")

// SelectionInput describes the page offered for region selection.
type SelectionInput struct {
	// Page is the full-resolution image of page 1.
	Page string
	// Current is the region currently configured, if any.
	Current *geo.CropRegion
	// Divisor is the downscale factor for any preview shown to the user.
	Divisor int
}

// RegionSelector asks for the crop region. Implementations may block.
type RegionSelector interface {
	SelectRegion(ctx context.Context, in SelectionInput) (geo.CropRegion, error)
}

// FixedRegion always answers with the same region, typically the one
// persisted in the configuration.
type FixedRegion struct {
	Region geo.CropRegion
}

func (f FixedRegion) SelectRegion(ctx context.Context, in SelectionInput) (geo.CropRegion, error) {
	if err := ctx.Err(); err != nil {
		return geo.CropRegion{}, err
	}
	return f.Region, f.Region.Validate()
}

// SelectorFunc adapts a function to RegionSelector.
type SelectorFunc func(ctx context.Context, in SelectionInput) (geo.CropRegion, error)

func (f SelectorFunc) SelectRegion(ctx context.Context, in SelectionInput) (geo.CropRegion, error) {
	return f(ctx, in)
}
