// Package cropper cuts the key region out of every page image.
package cropper

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"path/filepath"

	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/recovery"
	"github.com/wudi/scansort/workdir"
)

// ErrCropOutOfBounds is returned when the region does not fit a page image.
var ErrCropOutOfBounds = errors.New("crop out of bounds")

// BoundsError reports a region that does not fit one particular image.
type BoundsError struct {
	Region geo.CropRegion
	Bounds image.Rectangle
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("crop region %s does not fit a %dx%d image", e.Region, e.Bounds.Dx(), e.Bounds.Dy())
}

func (e *BoundsError) Unwrap() error { return ErrCropOutOfBounds }

// PageError ties a crop failure to its page.
type PageError struct {
	Index int
	Err   error
}

func (e *PageError) Error() string { return fmt.Sprintf("page %d: %v", e.Index, e.Err) }
func (e *PageError) Unwrap() error { return e.Err }

// Crop returns the part of img covered by region as a new image whose
// bounds are exactly (0,0)-(region.Width(),region.Height()). The region is
// never clipped: if it does not fit, a *BoundsError is returned.
func Crop(img image.Image, region geo.CropRegion) (image.Image, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if err := region.Fits(b); err != nil {
		return nil, &BoundsError{Region: region, Bounds: b}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, region.Width(), region.Height()))
	draw.Draw(dst, dst.Bounds(), img, region.Rect(b.Min).Min, draw.Src)
	return dst, nil
}

// CropFile crops the image at src and writes the result to dst.
func CropFile(src, dst string, region geo.CropRegion, format imageio.Format) error {
	img, err := imageio.Decode(src)
	if err != nil {
		return err
	}
	out, err := Crop(img, region)
	if err != nil {
		return err
	}
	return imageio.Encode(dst, out, format)
}

// Result summarizes a crop stage run.
type Result struct {
	Cropped int
	Reused  int
	Failed  []*PageError
}

// Err joins the per-page failures, or returns nil.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Stage crops every page image in dir into the crops stage, keeping the
// page index in the file name. The region is validated once up front and
// re-checked against each page, since scanned pages may differ in size.
// Per-page failures go through strategy: ActionFail aborts the stage,
// ActionSkip records the failure and moves on.
func Stage(ctx context.Context, dir workdir.Dir, region geo.CropRegion, strategy recovery.Strategy, log observability.Logger) (Result, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	log = log.With(observability.Stage("crop"))
	if strategy == nil {
		strategy = recovery.NewLenientStrategy()
	}
	if err := region.Validate(); err != nil {
		return Result{}, err
	}
	if err := dir.Ensure(); err != nil {
		return Result{}, err
	}

	m, err := dir.Manifest()
	if err != nil {
		return Result{}, err
	}
	if m.Region == nil || *m.Region != region {
		if m.Region != nil {
			log.Info("crop region changed, clearing crops and text", observability.String("old", m.Region.String()), observability.String("new", region.String()))
		}
		for _, s := range []workdir.Stage{workdir.Crops, workdir.Text} {
			if err := dir.ClearStage(s); err != nil {
				return Result{}, err
			}
		}
		// Crops written from here on are cut with region, even if the run
		// stops early.
		if err := dir.UpdateManifest(func(m *workdir.Manifest) { m.Region = &region }); err != nil {
			return Result{}, err
		}
	}

	pages, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return Result{}, err
	}
	if len(pages) == 0 {
		return Result{}, fmt.Errorf("no page images in %s", dir.Path(workdir.Images))
	}
	existing, err := dir.List(workdir.Crops, imageio.IsImage)
	if err != nil {
		return Result{}, err
	}
	have := workdir.IndexMap(existing)

	log.Info("cropping page images", observability.Int("pages", len(pages)), observability.String("region", region.String()))
	var res Result
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := have[page.Index]; ok {
			res.Reused++
			continue
		}
		format, err := imageio.ParseFormat(filepath.Ext(page.Path))
		if err != nil {
			format = imageio.FormatPNG
		}
		dst := dir.StagePath(workdir.Crops, page.Index, format.Ext())
		if err := CropFile(page.Path, dst, region, format); err != nil {
			perr := &PageError{Index: page.Index, Err: err}
			if strategy.OnError(ctx, err, recovery.Location{Stage: "crop", Page: page.Index}) == recovery.ActionFail {
				log.Error("crop failed", observability.Page(page.Index), observability.Err(err))
				return res, perr
			}
			log.Warn("crop failed, page skipped", observability.Page(page.Index), observability.Err(err))
			res.Failed = append(res.Failed, perr)
			continue
		}
		res.Cropped++
		log.Debug("crop saved", observability.Page(page.Index), observability.String("file", filepath.Base(dst)))
	}

	log.Info("cropping finished", observability.Int("cropped", res.Cropped), observability.Int("reused", res.Reused), observability.Int("failed", len(res.Failed)))
	return res, nil
}
