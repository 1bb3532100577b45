package cropper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/recovery"
	"github.com/wudi/scansort/render/rendertest"
	"github.com/wudi/scansort/workdir"
)

func TestCropDimensions(t *testing.T) {
	page := rendertest.Page(1000, 1000, 200)
	out, err := Crop(page, geo.CropRegion{StartX: 0, StartY: 0, EndX: 50, EndY: 50})
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if out.Bounds() != image.Rect(0, 0, 50, 50) {
		t.Fatalf("expected 50x50 crop, got %v", out.Bounds())
	}

	r := geo.CropRegion{StartX: 17, StartY: 3, EndX: 130, EndY: 41}
	out, err = Crop(page, r)
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != r.EndX-r.StartX || out.Bounds().Dy() != r.EndY-r.StartY {
		t.Fatalf("unexpected crop size %v for %s", out.Bounds(), r)
	}
}

func TestCropCopiesTheRightPixels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	src.Set(6, 7, color.RGBA{R: 255, A: 255})
	out, err := Crop(src, geo.CropRegion{StartX: 5, StartY: 5, EndX: 10, EndY: 10})
	if err != nil {
		t.Fatal(err)
	}
	if r, _, _, _ := out.At(1, 2).RGBA(); r != 0xffff {
		t.Fatalf("expected red pixel at (1,2) of crop")
	}

	// a source whose bounds do not start at the origin is cropped relative
	// to its own corner
	shifted := src.SubImage(image.Rect(5, 5, 10, 10))
	out, err = Crop(shifted, geo.CropRegion{StartX: 1, StartY: 2, EndX: 2, EndY: 3})
	if err != nil {
		t.Fatal(err)
	}
	if r, _, _, _ := out.At(0, 0).RGBA(); r != 0xffff {
		t.Fatalf("expected red pixel at origin of shifted crop")
	}
}

func TestCropOutOfBounds(t *testing.T) {
	page := rendertest.Page(1000, 1000, 0)
	_, err := Crop(page, geo.CropRegion{StartX: 0, StartY: 0, EndX: 9999, EndY: 9999})
	if !errors.Is(err, ErrCropOutOfBounds) {
		t.Fatalf("expected ErrCropOutOfBounds, got %v", err)
	}
	var be *BoundsError
	if !errors.As(err, &be) || be.Bounds.Dx() != 1000 {
		t.Fatalf("expected BoundsError with image bounds, got %v", err)
	}
	if _, err := Crop(page, geo.CropRegion{StartX: 5, StartY: 5, EndX: 5, EndY: 9}); !errors.Is(err, geo.ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
}

func newDir(t *testing.T, sizes ...image.Point) workdir.Dir {
	t.Helper()
	dir, err := workdir.Open(filepath.Join(t.TempDir(), "out"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dir.Ensure(); err != nil {
		t.Fatal(err)
	}
	for i, s := range sizes {
		if err := imageio.Encode(dir.StagePath(workdir.Images, i+1, ".png"), rendertest.Page(s.X, s.Y, 128), imageio.FormatPNG); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStageSkipsMisfitPages(t *testing.T) {
	dir := newDir(t, image.Pt(100, 100), image.Pt(30, 30), image.Pt(100, 100))
	region := geo.CropRegion{StartX: 0, StartY: 0, EndX: 50, EndY: 50}

	res, err := Stage(context.Background(), dir, region, recovery.NewLenientStrategy(), nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if res.Cropped != 2 || len(res.Failed) != 1 || res.Failed[0].Index != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err(), ErrCropOutOfBounds) {
		t.Fatalf("expected joined ErrCropOutOfBounds, got %v", res.Err())
	}
	if workdir.Exists(dir.StagePath(workdir.Crops, 2, ".png")) {
		t.Fatalf("a clipped crop was written for the misfit page")
	}
	size, err := imageio.Size(dir.StagePath(workdir.Crops, 3, ".png"))
	if err != nil || size != image.Pt(50, 50) {
		t.Fatalf("crop for page 3: %v, %v", size, err)
	}
}

func TestStageStrictAborts(t *testing.T) {
	dir := newDir(t, image.Pt(100, 100), image.Pt(30, 30), image.Pt(100, 100))
	region := geo.CropRegion{StartX: 0, StartY: 0, EndX: 50, EndY: 50}
	_, err := Stage(context.Background(), dir, region, recovery.NewStrictStrategy(), nil)
	var perr *PageError
	if !errors.As(err, &perr) || perr.Index != 2 || !errors.Is(err, ErrCropOutOfBounds) {
		t.Fatalf("expected page 2 out of bounds failure, got %v", err)
	}
	if workdir.Exists(dir.StagePath(workdir.Crops, 3, ".png")) {
		t.Fatalf("strict policy should stop before page 3")
	}
}

func TestStageInterruptedRegionChangeIsNotReused(t *testing.T) {
	dir := newDir(t, image.Pt(100, 100), image.Pt(60, 60))
	ctx := context.Background()
	small := geo.CropRegion{StartX: 0, StartY: 0, EndX: 40, EndY: 40}
	large := geo.CropRegion{StartX: 0, StartY: 0, EndX: 100, EndY: 100}
	if _, err := Stage(ctx, dir, small, nil, nil); err != nil {
		t.Fatal(err)
	}
	// page 2 is too small for the large region, so this run stops after page 1
	if _, err := Stage(ctx, dir, large, recovery.NewStrictStrategy(), nil); err == nil {
		t.Fatalf("expected strict failure on page 2")
	}
	res, err := Stage(ctx, dir, small, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cropped != 2 || res.Reused != 0 {
		t.Fatalf("crops from the interrupted run were reused: %+v", res)
	}
	size, err := imageio.Size(dir.StagePath(workdir.Crops, 1, ".png"))
	if err != nil || size != image.Pt(40, 40) {
		t.Fatalf("crop 1 is %v, want 40x40 (%v)", size, err)
	}
}

func TestStageReusesAndInvalidates(t *testing.T) {
	dir := newDir(t, image.Pt(100, 100), image.Pt(100, 100))
	ctx := context.Background()
	region := geo.CropRegion{StartX: 0, StartY: 0, EndX: 40, EndY: 20}
	if _, err := Stage(ctx, dir, region, nil, nil); err != nil {
		t.Fatal(err)
	}
	text := dir.StagePath(workdir.Text, 1, workdir.KeyExt)
	os.WriteFile(text, []byte("42"), 0o644)

	res, err := Stage(ctx, dir, region, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused != 2 || res.Cropped != 0 {
		t.Fatalf("same region should reuse crops, got %+v", res)
	}
	if !workdir.Exists(text) {
		t.Fatalf("re-running crop with the same region removed OCR text")
	}

	wider := geo.CropRegion{StartX: 0, StartY: 0, EndX: 60, EndY: 20}
	res, err = Stage(ctx, dir, wider, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cropped != 2 {
		t.Fatalf("changed region should recrop, got %+v", res)
	}
	if workdir.Exists(text) {
		t.Fatalf("stale OCR text survived a region change")
	}
	size, _ := imageio.Size(dir.StagePath(workdir.Crops, 1, ".png"))
	if size != image.Pt(60, 20) {
		t.Fatalf("crop not regenerated, size %v", size)
	}
}
