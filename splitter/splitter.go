// Package splitter renders every page of a source document into the images
// stage of a working directory.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/render"
	"github.com/wudi/scansort/workdir"
)

// ErrSourceUnreadable is returned when the source document cannot be opened
// or rendered. It aborts the run.
var ErrSourceUnreadable = errors.New("source document unreadable")

// DefaultWorkers matches the number of concurrent page renders used when
// Options.Workers is not set.
const DefaultWorkers = 4

type Options struct {
	DPI     int
	Format  imageio.Format
	Workers int
	// Force re-renders every page even when the checkpoint is current.
	Force bool
}

// Result describes the images stage after a split.
type Result struct {
	Pages    int
	Rendered int
	Reused   int
	Images   []workdir.Entry
}

// Split renders src into dir. Pages whose image already exists from the same
// source, DPI and format are kept; a different source invalidates the
// images stage and everything derived from it.
func Split(ctx context.Context, r render.Renderer, src string, dir workdir.Dir, opts Options, log observability.Logger) (Result, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	log = log.With(observability.Stage("split"))
	if opts.DPI <= 0 {
		return Result{}, fmt.Errorf("invalid dpi %d", opts.DPI)
	}
	if opts.Format == "" {
		opts.Format = imageio.FormatPNG
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if err := dir.Ensure(); err != nil {
		return Result{}, err
	}

	digest, err := workdir.Digest(src)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	pages, err := r.PageCount(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, filepath.Base(src), err)
	}
	log.Info("document opened", observability.String("file", filepath.Base(src)), observability.Int("pages", pages), observability.String("renderer", r.Name()))

	m, err := dir.Manifest()
	if err != nil {
		return Result{}, err
	}
	current := m.SourceDigest == digest && m.DPI == opts.DPI && m.Format == string(opts.Format) && m.Pages == pages
	if !current || opts.Force {
		if m.SourceDigest != "" || opts.Force {
			log.Info("checkpoint is stale, clearing derived stages", observability.Bool("force", opts.Force))
		}
		for _, s := range workdir.Stages {
			if err := dir.ClearStage(s); err != nil {
				return Result{}, err
			}
		}
		m.Region = nil
		m.OCREngine = ""
		m.FallbackPolicy = ""
	}
	// Record the parameters before rendering: every image on disk from here
	// on belongs to them, even if the run is interrupted.
	m.Source = src
	m.SourceDigest = digest
	m.DPI = opts.DPI
	m.Format = string(opts.Format)
	m.Pages = pages
	if err := dir.SaveManifest(m); err != nil {
		return Result{}, err
	}

	existing, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return Result{}, err
	}
	have := workdir.IndexMap(existing)

	var todo []int
	for i := 1; i <= pages; i++ {
		if p, ok := have[i]; ok && strings.EqualFold(filepath.Ext(p), opts.Format.Ext()) {
			continue
		}
		todo = append(todo, i)
	}
	log.Info("extracting page images", observability.Int("render", len(todo)), observability.Int("reuse", pages-len(todo)), observability.Int("dpi", opts.DPI))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, page := range todo {
		page := page
		g.Go(func() error {
			dst := dir.StagePath(workdir.Images, page, opts.Format.Ext())
			if err := r.RenderPage(gctx, src, page, render.Options{DPI: opts.DPI, Format: opts.Format}, dst); err != nil {
				return fmt.Errorf("%w: page %d: %v", ErrSourceUnreadable, page, err)
			}
			log.Debug("page image saved", observability.Page(page), observability.String("file", filepath.Base(dst)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	images, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return Result{}, err
	}
	if err := checkContiguous(images, pages); err != nil {
		return Result{}, err
	}

	log.Info("extracted page images", observability.Int("pages", pages))
	return Result{Pages: pages, Rendered: len(todo), Reused: pages - len(todo), Images: images}, nil
}

// checkContiguous verifies one image per page with indices 1..pages.
func checkContiguous(images []workdir.Entry, pages int) error {
	if len(images) != pages {
		return fmt.Errorf("images stage holds %d files for %d pages", len(images), pages)
	}
	for i, e := range images {
		if e.Index != i+1 {
			return fmt.Errorf("images stage is missing page %d", i+1)
		}
	}
	return nil
}
