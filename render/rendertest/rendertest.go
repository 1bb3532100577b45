// Package rendertest provides a deterministic in-memory Renderer.
package rendertest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/render"
)

// ErrCorrupt is returned by PageCount when the renderer is marked corrupt.
var ErrCorrupt = errors.New("corrupt document")

// Renderer serves fixed page images regardless of the source path.
type Renderer struct {
	Pages   []image.Image
	Corrupt bool

	mu    sync.Mutex
	calls map[int]int
}

// New returns a renderer with n blank pages of the given size. Each page is
// shaded with a different gray level so tests can tell pages apart.
func New(n, width, height int) *Renderer {
	r := &Renderer{}
	for i := 0; i < n; i++ {
		r.Pages = append(r.Pages, Page(width, height, uint8(10*(i+1))))
	}
	return r
}

// Page returns a uniformly filled gray image.
func Page(width, height int, level uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: level}}, image.Point{}, draw.Src)
	return img
}

func (r *Renderer) Name() string { return "fake" }

func (r *Renderer) PageCount(ctx context.Context, src string) (int, error) {
	if r.Corrupt {
		return 0, ErrCorrupt
	}
	return len(r.Pages), nil
}

func (r *Renderer) RenderPage(ctx context.Context, src string, page int, opts render.Options, dst string) error {
	if page < 1 || page > len(r.Pages) {
		return fmt.Errorf("page %d out of range", page)
	}
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[int]int)
	}
	r.calls[page]++
	r.mu.Unlock()
	return imageio.Encode(dst, r.Pages[page-1], opts.Format)
}

// Calls returns how many times page was rendered.
func (r *Renderer) Calls(page int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[page]
}

// TotalCalls returns the number of RenderPage calls across all pages.
func (r *Renderer) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}
