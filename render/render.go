// Package render turns pages of a source document into raster files.
package render

import (
	"context"

	"github.com/wudi/scansort/imageio"
)

// Options controls the raster produced for one page.
type Options struct {
	DPI    int
	Format imageio.Format
}

// Renderer is the document-rendering collaborator. Pages are 1-based.
type Renderer interface {
	Name() string
	// PageCount opens src and returns its number of pages. An unreadable or
	// corrupt document must fail here.
	PageCount(ctx context.Context, src string) (int, error)
	// RenderPage rasterizes one page of src to the file dst.
	RenderPage(ctx context.Context, src string, page int, opts Options, dst string) error
}

// Checker is implemented by renderers that depend on external tools and can
// verify them before a run starts.
type Checker interface {
	Check(ctx context.Context) error
}
