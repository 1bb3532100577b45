// Package merger writes one PDF per group from the full page images.
package merger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/pdfwrite"
	"github.com/wudi/scansort/workdir"
)

// ErrMergeIO marks a failure to read a page image or write an output file.
var ErrMergeIO = errors.New("merge i/o failure")

// GroupError reports the failure of one group. Other groups are unaffected.
type GroupError struct {
	Key     string
	Ordinal int
	Err     error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("group %d (%s): %v", e.Ordinal, e.Key, e.Err)
}

func (e *GroupError) Unwrap() []error { return []error{ErrMergeIO, e.Err} }

// Output is one written document.
type Output struct {
	Ordinal int
	Key     string
	Path    string
	Pages   []int
}

// Summary describes a merge stage run.
type Summary struct {
	Written []Output
	Failed  []*GroupError
}

// Err joins the group failures, or returns nil.
func (s Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(s.Failed))
	for i, f := range s.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Options tune the output documents.
type Options struct {
	DPI         int
	Compression pdfwrite.Compression
	Producer    string
	Now         func() time.Time
}

// Merge writes the page images of g, in ascending index order, to a single
// PDF at dst. images maps page index to image path. The file is written to
// a temporary name first so a failed merge never leaves a truncated
// document behind.
func Merge(ctx context.Context, g grouper.Group, images map[int]string, dst string, opts Options) error {
	if len(g.Indices) == 0 {
		return pdfwrite.ErrNoPages
	}
	indices := append([]int(nil), g.Indices...)
	sort.Ints(indices)
	paths := make([]string, len(indices))
	for i, idx := range indices {
		p, ok := images[idx]
		if !ok {
			return fmt.Errorf("page image %d not found", idx)
		}
		paths[i] = p
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	cfg := pdfwrite.Config{Compression: opts.Compression, Title: g.Key, Producer: opts.Producer}
	if opts.Now != nil {
		cfg.CreationDate = opts.Now()
	}
	w := pdfwrite.NewWriter(tmp, cfg)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := imageio.Decode(p)
		if err != nil {
			return err
		}
		if err := w.AddPage(img, opts.DPI); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	ok = true
	return nil
}

// Stage writes pdfs/<ordinal>.pdf for every group, ordinals starting at 1 in
// group order. Pages come from the images stage, not the crops. Earlier
// outputs are removed first so stale documents from a previous grouping
// cannot linger.
func Stage(ctx context.Context, dir workdir.Dir, groups grouper.Groups, opts Options, log observability.Logger) (Summary, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	log = log.With(observability.Stage("merge"))
	if err := dir.ClearStage(workdir.PDFs); err != nil {
		return Summary{}, err
	}
	if err := dir.Ensure(); err != nil {
		return Summary{}, err
	}
	images, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return Summary{}, err
	}
	byIndex := workdir.IndexMap(images)
	if opts.DPI <= 0 {
		if m, err := dir.Manifest(); err == nil {
			opts.DPI = m.DPI
		}
	}

	log.Info("merging groups", observability.Int("groups", len(groups)))
	var sum Summary
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ordinal := i + 1
		dst := dir.OutputPath(ordinal)
		if err := Merge(ctx, g, byIndex, dst, opts); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			gerr := &GroupError{Key: g.Key, Ordinal: ordinal, Err: err}
			log.Error("group merge failed", observability.GroupKey(g.Key), observability.Int("ordinal", ordinal), observability.Err(err))
			sum.Failed = append(sum.Failed, gerr)
			continue
		}
		sum.Written = append(sum.Written, Output{Ordinal: ordinal, Key: g.Key, Path: dst, Pages: g.Indices})
		log.Debug("group written", observability.GroupKey(g.Key), observability.Int("pages", len(g.Indices)), observability.String("file", filepath.Base(dst)))
	}
	log.Info("merge finished", observability.Int("written", len(sum.Written)), observability.Int("failed", len(sum.Failed)))
	return sum, nil
}
