// Package pipeline runs the sorting stages in order against one working
// directory: split, crop, key extraction, grouping, merge, and the optional
// snapshot, spreadsheet, and report outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wudi/scansort/cropper"
	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/keys"
	"github.com/wudi/scansort/lookup"
	"github.com/wudi/scansort/merger"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/ocr"
	"github.com/wudi/scansort/recovery"
	"github.com/wudi/scansort/render"
	"github.com/wudi/scansort/report"
	"github.com/wudi/scansort/splitter"
	"github.com/wudi/scansort/workdir"
)

// ErrNoRegion is returned by Crop when no crop region is configured.
var ErrNoRegion = errors.New("no crop region configured")

// Producer is written into every output document.
const Producer = "scansort"

// Pipeline wires the stages to their collaborators.
type Pipeline struct {
	cfg      RunConfig
	renderer render.Renderer
	engine   ocr.Engine
	dir      workdir.Dir
	log      observability.Logger
	tracer   observability.Tracer
	lookup   lookup.Lookuper
	selector RegionSelector
	now      func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithTracer sets the tracer that wraps every stage in a span.
func WithTracer(t observability.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLookup enables record enrichment after grouping.
func WithLookup(l lookup.Lookuper) Option {
	return func(p *Pipeline) { p.lookup = l }
}

// WithSelector sets the region selector used by Quick.
func WithSelector(s RegionSelector) Option {
	return func(p *Pipeline) { p.selector = s }
}

// WithClock overrides the time source for report and document dates.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a pipeline. The working directory is cfg.Root.
func New(cfg RunConfig, r render.Renderer, engine ocr.Engine, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:      cfg.clone(),
		renderer: r,
		engine:   engine,
		log:      observability.NopLogger{},
		tracer:   observability.NopTracer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.engine == nil {
		p.engine = ocr.DefaultEngine()
	}
	if p.selector == nil && cfg.Region != nil {
		p.selector = FixedRegion{Region: *cfg.Region}
	}
	if cfg.Root == "" {
		return nil, errors.New("pipeline: empty output directory")
	}
	dir, err := workdir.Open(cfg.Root, p.log)
	if err != nil {
		return nil, err
	}
	p.dir = dir
	return p, nil
}

// Config returns the run configuration.
func (p *Pipeline) Config() RunConfig { return p.cfg.clone() }

// Dir returns the working directory.
func (p *Pipeline) Dir() workdir.Dir { return p.dir }

// trace runs fn inside a span named name.
func (p *Pipeline) trace(ctx context.Context, name string, fn func(ctx context.Context, span observability.Span) error) error {
	ctx, span := p.tracer.StartSpan(ctx, name)
	defer span.Finish()
	err := fn(ctx, span)
	if err != nil {
		span.SetError(err)
	}
	return err
}

// Check verifies that the run can start: the source is readable, the
// renderer's tools are present, and the output directory is writable.
func (p *Pipeline) Check(ctx context.Context) error {
	var errs []error
	if p.cfg.Source != "" {
		if st, err := os.Stat(p.cfg.Source); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		} else if st.IsDir() {
			errs = append(errs, fmt.Errorf("source %s is a directory", p.cfg.Source))
		}
	}
	if p.renderer == nil {
		errs = append(errs, errors.New("no renderer configured"))
	} else if c, ok := p.renderer.(render.Checker); ok {
		if err := c.Check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.dir.Ensure(); err != nil {
		errs = append(errs, err)
	} else {
		marker := p.dir.File(".write-check")
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("output directory not writable: %w", err))
		}
		os.Remove(marker)
	}
	if p.cfg.Region != nil {
		if err := p.cfg.Region.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Split renders the source document into page images.
func (p *Pipeline) Split(ctx context.Context) (res splitter.Result, err error) {
	err = p.trace(ctx, observability.SpanSplit, func(ctx context.Context, span observability.Span) error {
		if p.cfg.Source == "" {
			return fmt.Errorf("%w: no source document", splitter.ErrSourceUnreadable)
		}
		res, err = splitter.Split(ctx, p.renderer, p.cfg.Source, p.dir, splitter.Options{
			DPI:     p.cfg.DPI,
			Format:  p.cfg.Format,
			Workers: p.cfg.Workers,
			Force:   p.cfg.Force,
		}, p.log)
		span.SetTag("pages", res.Pages)
		return err
	})
	return res, err
}

// Crop cuts the configured region out of every page image.
func (p *Pipeline) Crop(ctx context.Context) (res cropper.Result, err error) {
	err = p.trace(ctx, observability.SpanCrop, func(ctx context.Context, span observability.Span) error {
		if p.cfg.Region == nil {
			return ErrNoRegion
		}
		res, err = cropper.Stage(ctx, p.dir, *p.cfg.Region, recovery.ForPolicy(p.cfg.CropPolicy), p.log)
		span.SetTag("cropped", res.Cropped)
		span.SetTag("failed", len(res.Failed))
		return err
	})
	return res, err
}

func (p *Pipeline) extractor() keys.Extractor {
	opts := []ocr.InputOption{ocr.WithDPI(p.cfg.DPI)}
	if len(p.cfg.Languages) > 0 {
		opts = append(opts, ocr.WithLanguages(p.cfg.Languages...))
	}
	if p.cfg.DigitsOnly {
		opts = append(opts, ocr.WithDigitsOnly())
	}
	return keys.Extractor{Engine: p.engine, Policy: p.policy(), Options: opts}
}

func (p *Pipeline) policy() keys.FallbackPolicy {
	if p.cfg.FallbackPolicy == "" {
		return keys.FallbackDistinct
	}
	return p.cfg.FallbackPolicy
}

// Extract recognizes the key of every cropped page.
func (p *Pipeline) Extract(ctx context.Context) (res keys.Result, err error) {
	err = p.trace(ctx, observability.SpanExtract, func(ctx context.Context, span observability.Span) error {
		res, err = keys.Stage(ctx, p.dir, p.extractor(), p.log)
		span.SetTag("fallbacks", res.Fallbacks)
		return err
	})
	return res, err
}

// Group pairs every page with its stored key and partitions the pages.
func (p *Pipeline) Group(ctx context.Context) (groups grouper.Groups, err error) {
	err = p.trace(ctx, observability.SpanGroup, func(ctx context.Context, span observability.Span) error {
		pairs, err := keys.ReadKeys(p.dir, p.policy(), p.log)
		if err != nil {
			return err
		}
		groups, err = grouper.Partition(pairs)
		if err != nil {
			return err
		}
		span.SetTag("groups", len(groups))
		p.log.Info("pages grouped", observability.Stage("group"), observability.Int("pages", len(pairs)), observability.Int("groups", len(groups)))
		return nil
	})
	return groups, err
}

// Merge writes one document per group. Page sizes use the DPI the images
// were rendered at, which may differ from the configured DPI when the
// configuration changed after the split.
func (p *Pipeline) Merge(ctx context.Context, groups grouper.Groups) (sum merger.Summary, err error) {
	err = p.trace(ctx, observability.SpanMerge, func(ctx context.Context, span observability.Span) error {
		m, err := p.dir.Manifest()
		if err != nil {
			return err
		}
		dpi := m.DPI
		if dpi <= 0 {
			dpi = p.cfg.DPI
		}
		sum, err = merger.Stage(ctx, p.dir, groups, merger.Options{
			DPI:         dpi,
			Compression: p.cfg.Compression,
			Producer:    Producer,
			Now:         p.now,
		}, p.log)
		span.SetTag("written", len(sum.Written))
		span.SetTag("failed", len(sum.Failed))
		return err
	})
	return sum, err
}

func (p *Pipeline) images() (map[int]string, error) {
	entries, err := p.dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return nil, err
	}
	return workdir.IndexMap(entries), nil
}

// Snapshot writes pdf_dict.json for groups.
func (p *Pipeline) Snapshot(ctx context.Context, groups grouper.Groups) (path string, err error) {
	err = p.trace(ctx, observability.SpanSnapshot, func(ctx context.Context, span observability.Span) error {
		images, err := p.images()
		if err != nil {
			return err
		}
		path, err = report.WriteSnapshot(p.dir, groups, images)
		return err
	})
	return path, err
}

// Enrich looks every group up in the configured source. Without a lookup
// it returns entries without records.
func (p *Pipeline) Enrich(ctx context.Context, groups grouper.Groups) ([]lookup.Entry, error) {
	entries, err := lookup.Enrich(ctx, groups, p.lookup, p.policy(), p.log)
	if err != nil {
		return nil, err
	}
	if p.lookup != nil {
		if _, err := report.WriteRecords(p.dir, entries); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// Export writes the spreadsheet.
func (p *Pipeline) Export(ctx context.Context, groups grouper.Groups, outputs []merger.Output, records []lookup.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	images, err := p.images()
	if err != nil {
		return "", err
	}
	path := p.dir.File(workdir.XLSXFile)
	if err := report.WriteXLSX(path, groups, images, outputs, records); err != nil {
		return "", err
	}
	p.log.Info("spreadsheet written", observability.String("file", filepath.Base(path)))
	return path, nil
}

// Report writes the markdown and HTML summary for sum.
func (p *Pipeline) Report(ctx context.Context, sum Summary) (path string, err error) {
	err = p.trace(ctx, observability.SpanReport, func(ctx context.Context, span observability.Span) error {
		m, err := p.dir.Manifest()
		if err != nil {
			return err
		}
		r := report.Report{
			RunID:         m.RunID,
			Source:        m.Source,
			Pages:         m.Pages,
			Generated:     p.now(),
			Groups:        sum.Groups,
			Outputs:       sum.Merge.Written,
			MergeFailures: sum.Merge.Failed,
			CropFailures:  sum.Crop.Failed,
			Records:       sum.Records,
			Policy:        p.policy(),
		}
		if m.Region != nil {
			r.Region = m.Region.String()
		}
		path, err = report.WriteReport(p.dir, r)
		return err
	})
	return path, err
}

// Clean deletes the working directory.
func (p *Pipeline) Clean() error { return p.dir.Clean() }

// Summary collects the results of a full run.
type Summary struct {
	Split    splitter.Result
	Crop     cropper.Result
	Extract  keys.Result
	Groups   grouper.Groups
	Merge    merger.Summary
	Records  []lookup.Entry
	Snapshot string
	XLSX     string
	Report   string
}

// Partial reports whether the run finished with per-page or per-group
// failures.
func (s Summary) Partial() bool {
	return len(s.Crop.Failed) > 0 || len(s.Merge.Failed) > 0
}

// Err joins the per-page and per-group failures.
func (s Summary) Err() error {
	return errors.Join(s.Crop.Err(), s.Merge.Err())
}

// Quick runs the whole pipeline: split, region selection, crop, key
// extraction, grouping, merge, then the optional outputs and the report.
// Stages run one after another and each reads its inputs from disk.
func (p *Pipeline) Quick(ctx context.Context) (Summary, error) {
	var sum Summary
	var err error
	start := p.now()

	if sum.Split, err = p.Split(ctx); err != nil {
		return sum, err
	}

	if p.selector != nil {
		in := SelectionInput{Current: p.cfg.Region, Divisor: p.cfg.SelectDivisor}
		if len(sum.Split.Images) > 0 {
			in.Page = sum.Split.Images[0].Path
		}
		region, err := p.selector.SelectRegion(ctx, in)
		if err != nil {
			if errors.Is(err, ErrSelectionCanceled) {
				p.log.Warn("region selection canceled, stopping before crop", observability.Stage("select"))
			}
			return sum, err
		}
		p.cfg = p.cfg.WithRegion(region)
	}

	if sum.Crop, err = p.Crop(ctx); err != nil {
		return sum, err
	}
	if sum.Extract, err = p.Extract(ctx); err != nil {
		return sum, err
	}
	if sum.Groups, err = p.Group(ctx); err != nil {
		return sum, err
	}
	if sum.Merge, err = p.Merge(ctx, sum.Groups); err != nil {
		return sum, err
	}
	if sum.Records, err = p.Enrich(ctx, sum.Groups); err != nil {
		return sum, err
	}
	if p.cfg.Snapshot {
		if sum.Snapshot, err = p.Snapshot(ctx, sum.Groups); err != nil {
			return sum, err
		}
	}
	if p.cfg.XLSX {
		if sum.XLSX, err = p.Export(ctx, sum.Groups, sum.Merge.Written, sum.Records); err != nil {
			return sum, err
		}
	}
	if sum.Report, err = p.Report(ctx, sum); err != nil {
		return sum, err
	}
	p.log.Info("run finished",
		observability.Int("pages", sum.Split.Pages),
		observability.Int("groups", len(sum.Groups)),
		observability.Int("documents", len(sum.Merge.Written)),
		observability.Bool("partial", sum.Partial()),
		observability.Duration("elapsed", p.now().Sub(start)))
	return sum, nil
}

// Load rebuilds a Summary from the artifacts on disk without running any
// stage, so the report and exports can be regenerated after the fact.
func (p *Pipeline) Load(ctx context.Context) (Summary, error) {
	var sum Summary
	groups, err := p.Group(ctx)
	if err != nil {
		return sum, err
	}
	sum.Groups = groups
	for i, g := range groups {
		path := p.dir.OutputPath(i + 1)
		if !workdir.Exists(path) {
			sum.Merge.Failed = append(sum.Merge.Failed, &merger.GroupError{Key: g.Key, Ordinal: i + 1, Err: os.ErrNotExist})
			continue
		}
		sum.Merge.Written = append(sum.Merge.Written, merger.Output{Ordinal: i + 1, Key: g.Key, Path: path, Pages: g.Indices})
	}
	m, err := p.dir.Manifest()
	if err != nil {
		return sum, err
	}
	sum.Split.Pages = m.Pages
	return sum, nil
}
