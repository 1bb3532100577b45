// Package imageio reads and writes the raster files kept in a working
// directory.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register decoders
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Format is the on-disk encoding of page and crop images.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts the format names and common extensions.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "png", "":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("unsupported image format %q", s)
}

// Ext returns the file extension including the leading dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tif"
	default:
		return ".png"
	}
}

// IsImage reports whether name carries an extension this package decodes.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".gif", ".bmp", ".webp":
		return true
	}
	return false
}

const (
	// maxImageDimension caps width/height so a corrupt header cannot force a
	// huge allocation.
	maxImageDimension = 32768
	// maxImagePixels bounds the total pixel count (roughly 64MP); a 600 DPI
	// A3 scan stays well below it.
	maxImagePixels int64 = 64 * 1024 * 1024
)

// ErrImageTooLarge is returned when an image header exceeds the decode limits.
var ErrImageTooLarge = errors.New("image exceeds decode limits")

func validateBounds(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("image bounds invalid (%d x %d)", width, height)
	}
	if width > maxImageDimension || height > maxImageDimension {
		return fmt.Errorf("%w: dimension %d x %d", ErrImageTooLarge, width, height)
	}
	if pixels := int64(width) * int64(height); pixels > maxImagePixels {
		return fmt.Errorf("%w: pixel count %d", ErrImageTooLarge, pixels)
	}
	return nil
}

// Decode opens and decodes the image at path. The header is inspected first
// so oversized images are rejected before their pixels are allocated.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode header %s: %w", filepath.Base(path), err)
	}
	if err := validateBounds(cfg.Width, cfg.Height); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Size reads only the image header and returns its dimensions.
func Size(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, fmt.Errorf("decode header %s: %w", filepath.Base(path), err)
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}

// Encode writes img to path in the given format. The file is written to a
// temporary sibling first and renamed, so readers never observe a partial
// image.
func Encode(path string, img image.Image, format Format) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	switch format {
	case FormatJPEG:
		err = jpeg.Encode(tmp, img, &jpeg.Options{Quality: 90})
	case FormatTIFF:
		err = tiff.Encode(tmp, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(tmp, img)
	}
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Preview downscales img by an integer divisor using Catmull-Rom resampling.
func Preview(img image.Image, divisor int) image.Image {
	if divisor <= 1 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx()/divisor, b.Dy()/divisor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// ToRGB normalizes any image to opaque 8-bit RGBA anchored at the origin.
// Transparent pixels are composited over white, matching how a scanned page
// is expected to look once printed.
func ToRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
