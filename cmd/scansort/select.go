package main

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"strconv"
	"strings"

	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/pipeline"
)

// promptSelector writes a downscaled preview of page 1 and asks for the key
// region on the terminal, in preview pixels.
type promptSelector struct {
	in      *bufio.Reader
	out     io.Writer
	preview string
	// onSelect persists the chosen region; it may be nil.
	onSelect func(geo.CropRegion) error
}

func newPromptSelector(in io.Reader, out io.Writer, preview string, onSelect func(geo.CropRegion) error) *promptSelector {
	return &promptSelector{in: bufio.NewReader(in), out: out, preview: preview, onSelect: onSelect}
}

func (s *promptSelector) SelectRegion(ctx context.Context, in pipeline.SelectionInput) (geo.CropRegion, error) {
	divisor := in.Divisor
	if divisor < 1 {
		divisor = 1
	}
	if in.Page == "" {
		return geo.CropRegion{}, fmt.Errorf("no page image to select a region on")
	}
	size, err := imageio.Size(in.Page)
	if err != nil {
		return geo.CropRegion{}, err
	}
	bounds := image.Rectangle{Max: size}
	if err := writePreview(in.Page, s.preview, divisor, in.Current); err != nil {
		return geo.CropRegion{}, err
	}
	fmt.Fprintf(s.out, "Preview written to %s (1/%d scale).\n", s.preview, divisor)
	if in.Current != nil {
		fmt.Fprintf(s.out, "Current region %s is outlined in red.\n", in.Current)
	}
	fmt.Fprintln(s.out, "Enter the key region as: x0 y0 x1 y1 (preview pixels).")
	fmt.Fprintln(s.out, "Press Enter to keep the current region, or q to cancel.")

	for {
		if err := ctx.Err(); err != nil {
			return geo.CropRegion{}, err
		}
		fmt.Fprint(s.out, "> ")
		line, err := s.in.ReadString('\n')
		if err != nil && line == "" {
			return geo.CropRegion{}, pipeline.ErrSelectionCanceled
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "q" || line == "quit":
			return geo.CropRegion{}, pipeline.ErrSelectionCanceled
		case line == "" && in.Current != nil:
			if err := in.Current.Fits(bounds); err != nil {
				fmt.Fprintf(s.out, "current region does not fit this page: %v\n", err)
				continue
			}
			return *in.Current, nil
		case line == "":
			fmt.Fprintln(s.out, "no region configured yet")
			continue
		}
		region, perr := parseRegion(line, divisor)
		if perr == nil {
			perr = region.Fits(bounds)
		}
		if perr != nil {
			fmt.Fprintf(s.out, "invalid region: %v\n", perr)
			continue
		}
		fmt.Fprintf(s.out, "Selected %s at full resolution.\n", region)
		if s.onSelect != nil {
			if err := s.onSelect(region); err != nil {
				return geo.CropRegion{}, err
			}
		}
		return region, nil
	}
}

// parseRegion reads four preview coordinates separated by spaces or commas
// and maps them to full resolution.
func parseRegion(line string, divisor int) (geo.CropRegion, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
	if len(fields) != 4 {
		return geo.CropRegion{}, fmt.Errorf("want 4 numbers, got %d", len(fields))
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return geo.CropRegion{}, fmt.Errorf("%q is not a number", f)
		}
		v[i] = n
	}
	return geo.FromPreview(v[0], v[1], v[2], v[3], divisor)
}

// writePreview downscales page by divisor, outlines current if given, and
// saves the result to dst.
func writePreview(page, dst string, divisor int, current *geo.CropRegion) error {
	img, err := imageio.Decode(page)
	if err != nil {
		return err
	}
	small := imageio.Preview(img, divisor)
	canvas := image.NewRGBA(small.Bounds())
	draw.Draw(canvas, canvas.Bounds(), small, small.Bounds().Min, draw.Src)
	if current != nil {
		outline(canvas, image.Rect(current.StartX/divisor, current.StartY/divisor, current.EndX/divisor, current.EndY/divisor))
	}
	return imageio.Encode(dst, canvas, imageio.FormatPNG)
}

func outline(img *image.RGBA, r image.Rectangle) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	red := color.RGBA{R: 255, A: 255}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, red)
		img.Set(x, r.Max.Y-1, red)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, red)
		img.Set(r.Max.X-1, y, red)
	}
}
