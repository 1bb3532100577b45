// Command scansort splits a scanned batch PDF into one document per key
// printed in a fixed region of each page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/wudi/scansort/config"
	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/lookup"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/ocr/tesseract"
	"github.com/wudi/scansort/pipeline"
	"github.com/wudi/scansort/render"
	"github.com/wudi/scansort/workdir"
)

const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

var commands = []struct {
	name, args, help string
}{
	{"quick", "<pdf>", "run every stage: split, select region, crop, ocr, merge, outputs"},
	{"split", "<pdf>", "render every page to an image"},
	{"crop", "", "crop the configured region out of every page image"},
	{"ocr", "", "read the key of every crop"},
	{"merge", "", "group pages by key and write one PDF per group"},
	{"json", "", "write pdf_dict.json with the current grouping"},
	{"export", "", "write pdf_dict.xlsx with the current grouping"},
	{"report", "", "write report.md and report.html"},
	{"region", "[x0 y0 x1 y1]", "select the crop region on page 1, or set it in full-resolution pixels"},
	{"preview", "", "write preview.png of page 1 with the configured region outlined"},
	{"check", "[pdf]", "verify tools, config, and output directory"},
	{"clean", "", "delete the working directory"},
}

type options struct {
	configPath string
	outDir     string
	verbose    bool
	force      bool
	noPrompt   bool
	command    string
	args       []string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scansort: %v\n", err)
		os.Exit(exitError)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseFlags(argv []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("scansort", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: scansort [flags] <command> [args]\n\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(fs.Output(), "  %-8s %-14s %s\n", c.name, c.args, c.help)
		}
		fmt.Fprintf(fs.Output(), "\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", config.DefaultFile, "Configuration file (created with defaults when missing)")
	fs.StringVar(&opts.outDir, "out", "", "Working directory, overrides settings.output_dir")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose logging")
	fs.BoolVar(&opts.force, "force", false, "Re-render every page even if checkpoints are current")
	fs.BoolVar(&opts.noPrompt, "no-prompt", false, "Use the configured crop region without asking")
	if err := fs.Parse(argv); err != nil {
		return options{}, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return options{}, errors.New("missing command")
	}
	opts.command = fs.Arg(0)
	opts.args = fs.Args()[1:]
	known := false
	for _, c := range commands {
		if c.name == opts.command {
			known = true
			break
		}
	}
	if !known {
		fs.Usage()
		return options{}, fmt.Errorf("unknown command %q", opts.command)
	}
	if (opts.command == "quick" || opts.command == "split") && len(opts.args) != 1 {
		return options{}, fmt.Errorf("%s needs exactly one pdf path", opts.command)
	}
	return opts, nil
}

type app struct {
	opts   options
	cfg    config.Config
	log    observability.Logger
	stdin  io.Reader
	stdout io.Writer
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) int {
	log := observability.NewTextLogger(stderr, opts.verbose)
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("load config", observability.String("file", opts.configPath), observability.Err(err))
		return exitError
	}
	if opts.outDir != "" {
		cfg.Settings.OutputDir = opts.outDir
	}
	a := &app{opts: opts, cfg: cfg, log: log, stdin: stdin, stdout: stdout}
	partial, err := a.dispatch(ctx)
	switch {
	case errors.Is(err, pipeline.ErrSelectionCanceled):
		log.Warn("canceled", observability.String("command", opts.command))
		return exitError
	case err != nil:
		log.Error("command failed", observability.String("command", opts.command), observability.Err(err))
		return exitError
	case partial:
		return exitPartial
	}
	return exitOK
}

func (a *app) pipeline(source string, extra ...pipeline.Option) (*pipeline.Pipeline, error) {
	rc := pipeline.FromConfig(a.cfg, source).WithForce(a.opts.force)
	engine := tesseract.NewTesseractEngine()
	engine.TessdataPrefix = a.cfg.Settings.TessdataPrefix
	opts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithTracer(observability.LogTracer(a.log)),
	}
	return pipeline.New(rc, render.NewPoppler(a.cfg.Settings.PopplerPath), engine, append(opts, extra...)...)
}

func (a *app) withLookup(ctx context.Context) ([]pipeline.Option, func(), error) {
	if !a.cfg.Lookup.Enabled() {
		return nil, func() {}, nil
	}
	l, err := lookup.Open(ctx, a.cfg.Lookup, a.log)
	if err != nil {
		return nil, nil, err
	}
	return []pipeline.Option{pipeline.WithLookup(l)}, func() { l.Close() }, nil
}

func (a *app) selector() pipeline.RegionSelector {
	if a.opts.noPrompt {
		return pipeline.FixedRegion{Region: a.cfg.CropBox}
	}
	preview := filepath.Join(a.cfg.Settings.OutputDir, workdir.PreviewFile)
	return newPromptSelector(a.stdin, a.stdout, preview, func(r geo.CropRegion) error {
		a.cfg.CropBox = r
		return config.SetRegion(a.opts.configPath, r)
	})
}

func (a *app) dispatch(ctx context.Context) (bool, error) {
	switch a.opts.command {
	case "quick":
		return a.quick(ctx)
	case "split":
		p, err := a.pipeline(a.opts.args[0])
		if err != nil {
			return false, err
		}
		res, err := p.Split(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.stdout, "%d pages (%d rendered, %d reused) in %s\n", res.Pages, res.Rendered, res.Reused, p.Dir().Path(workdir.Images))
		return false, nil
	case "crop":
		p, err := a.pipeline("")
		if err != nil {
			return false, err
		}
		res, err := p.Crop(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.stdout, "%d cropped, %d reused, %d failed\n", res.Cropped, res.Reused, len(res.Failed))
		return len(res.Failed) > 0, nil
	case "ocr":
		p, err := a.pipeline("")
		if err != nil {
			return false, err
		}
		res, err := p.Extract(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.stdout, "%d read, %d reused, %d unreadable\n", len(res.Extracted), res.Reused, res.Fallbacks)
		return false, nil
	case "merge":
		p, err := a.pipeline("")
		if err != nil {
			return false, err
		}
		groups, err := p.Group(ctx)
		if err != nil {
			return false, err
		}
		sum, err := p.Merge(ctx, groups)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.stdout, "%d documents written to %s, %d failed\n", len(sum.Written), p.Dir().Path(workdir.PDFs), len(sum.Failed))
		return len(sum.Failed) > 0, nil
	case "json":
		p, err := a.pipeline("")
		if err != nil {
			return false, err
		}
		groups, err := p.Group(ctx)
		if err != nil {
			return false, err
		}
		path, err := p.Snapshot(ctx, groups)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(a.stdout, path)
		return false, nil
	case "export", "report":
		return a.outputs(ctx)
	case "region":
		return false, a.region(ctx)
	case "preview":
		return false, a.preview()
	case "check":
		src := ""
		if len(a.opts.args) > 0 {
			src = a.opts.args[0]
		}
		p, err := a.pipeline(src)
		if err != nil {
			return false, err
		}
		if err := p.Check(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(a.stdout, "ok")
		return false, nil
	case "clean":
		p, err := a.pipeline("")
		if err != nil {
			return false, err
		}
		return false, p.Clean()
	}
	return false, fmt.Errorf("unknown command %q", a.opts.command)
}

func (a *app) quick(ctx context.Context) (bool, error) {
	lopts, closeLookup, err := a.withLookup(ctx)
	if err != nil {
		return false, err
	}
	defer closeLookup()
	p, err := a.pipeline(a.opts.args[0], append(lopts, pipeline.WithSelector(a.selector()))...)
	if err != nil {
		return false, err
	}
	if err := p.Check(ctx); err != nil {
		return false, err
	}
	sum, err := p.Quick(ctx)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(a.stdout, "%d pages sorted into %d documents in %s\n", sum.Split.Pages, len(sum.Merge.Written), p.Dir().Path(workdir.PDFs))
	for _, f := range sum.Merge.Failed {
		fmt.Fprintf(a.stdout, "  failed: %v\n", f)
	}
	for _, f := range sum.Crop.Failed {
		fmt.Fprintf(a.stdout, "  skipped: %v\n", f)
	}
	fmt.Fprintf(a.stdout, "report: %s\n", sum.Report)
	return sum.Partial(), nil
}

func (a *app) outputs(ctx context.Context) (bool, error) {
	lopts, closeLookup, err := a.withLookup(ctx)
	if err != nil {
		return false, err
	}
	defer closeLookup()
	p, err := a.pipeline("", lopts...)
	if err != nil {
		return false, err
	}
	sum, err := p.Load(ctx)
	if err != nil {
		return false, err
	}
	if sum.Records, err = p.Enrich(ctx, sum.Groups); err != nil {
		return false, err
	}
	var path string
	if a.opts.command == "export" {
		path, err = p.Export(ctx, sum.Groups, sum.Merge.Written, sum.Records)
	} else {
		path, err = p.Report(ctx, sum)
	}
	if err != nil {
		return false, err
	}
	fmt.Fprintln(a.stdout, path)
	return false, nil
}

func (a *app) firstPage() (string, error) {
	dir, err := workdir.Open(a.cfg.Settings.OutputDir, a.log)
	if err != nil {
		return "", err
	}
	pages, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no page images in %s; run split first", dir.Path(workdir.Images))
	}
	return pages[0].Path, nil
}

func (a *app) region(ctx context.Context) error {
	if len(a.opts.args) == 4 {
		var v [4]int
		for i, s := range a.opts.args {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("%q is not an integer", s)
			}
			v[i] = n
		}
		r, err := geo.Region(v[0], v[1], v[2], v[3])
		if err != nil {
			return err
		}
		// page 1 is only known after split; without it the region is
		// checked per page when cropping
		if page, err := a.firstPage(); err == nil {
			size, err := imageio.Size(page)
			if err != nil {
				return err
			}
			if err := r.Fits(image.Rectangle{Max: size}); err != nil {
				return err
			}
		}
		if err := config.SetRegion(a.opts.configPath, r); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "crop region set to %s\n", r)
		return nil
	}
	if len(a.opts.args) != 0 {
		return fmt.Errorf("region takes no arguments or four integers")
	}
	page, err := a.firstPage()
	if err != nil {
		return err
	}
	current := a.cfg.CropBox
	sel := a.selector()
	_, err = sel.SelectRegion(ctx, pipeline.SelectionInput{Page: page, Current: &current, Divisor: a.cfg.Settings.CropSelectDivisor})
	return err
}

func (a *app) preview() error {
	page, err := a.firstPage()
	if err != nil {
		return err
	}
	dst := filepath.Join(a.cfg.Settings.OutputDir, workdir.PreviewFile)
	current := a.cfg.CropBox
	if err := writePreview(page, dst, a.cfg.Settings.CropSelectDivisor, &current); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, dst)
	return nil
}
