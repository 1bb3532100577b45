package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/scansort/config"
	"github.com/wudi/scansort/geo"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/pipeline"
	"github.com/wudi/scansort/render/rendertest"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseFlags([]string{"-v", "-out", "/tmp/x", "-no-prompt", "quick", "scan.pdf"}, &stderr)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if !opts.verbose || !opts.noPrompt || opts.outDir != "/tmp/x" || opts.command != "quick" || opts.args[0] != "scan.pdf" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.configPath != config.DefaultFile {
		t.Fatalf("default config path = %q", opts.configPath)
	}

	for _, argv := range [][]string{{}, {"bogus"}, {"quick"}, {"split", "a.pdf", "b.pdf"}} {
		if _, err := parseFlags(argv, &stderr); err == nil {
			t.Fatalf("expected error for %v", argv)
		}
	}
}

func TestParseRegion(t *testing.T) {
	r, err := parseRegion("10, 20 30 40", 3)
	if err != nil {
		t.Fatalf("parseRegion() error = %v", err)
	}
	if r != (geo.CropRegion{StartX: 30, StartY: 60, EndX: 90, EndY: 120}) {
		t.Fatalf("parseRegion() = %v", r)
	}
	// corners in any order
	r, _ = parseRegion("30 40 10 20", 1)
	if r.StartX != 10 || r.EndY != 40 {
		t.Fatalf("corners not normalized: %v", r)
	}
	for _, bad := range []string{"1 2 3", "a b c d", "5 5 5 9"} {
		if _, err := parseRegion(bad, 1); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func writePage(t *testing.T) string {
	t.Helper()
	page := filepath.Join(t.TempDir(), "0001.png")
	if err := imageio.Encode(page, rendertest.Page(300, 300, 200), imageio.FormatPNG); err != nil {
		t.Fatal(err)
	}
	return page
}

func TestPromptSelector(t *testing.T) {
	page := writePage(t)
	preview := filepath.Join(t.TempDir(), "preview.png")
	var saved geo.CropRegion
	var out bytes.Buffer
	sel := newPromptSelector(strings.NewReader("nonsense\n10 10 20 30\n"), &out, preview, func(r geo.CropRegion) error {
		saved = r
		return nil
	})
	r, err := sel.SelectRegion(context.Background(), pipeline.SelectionInput{Page: page, Divisor: 3})
	if err != nil {
		t.Fatalf("SelectRegion() error = %v", err)
	}
	want := geo.CropRegion{StartX: 30, StartY: 30, EndX: 60, EndY: 90}
	if r != want || saved != want {
		t.Fatalf("selected %v, saved %v, want %v", r, saved, want)
	}
	if !strings.Contains(out.String(), "invalid region") {
		t.Fatalf("bad input not reported:\n%s", out.String())
	}
	size, err := imageio.Size(preview)
	if err != nil || size.X != 100 {
		t.Fatalf("preview size %v, %v", size, err)
	}
}

func TestPromptSelectorRejectsRegionOffThePage(t *testing.T) {
	page := writePage(t)
	preview := filepath.Join(t.TempDir(), "preview.png")
	var out bytes.Buffer
	// 150 preview pixels at divisor 3 is 450, past the 300 pixel page
	sel := newPromptSelector(strings.NewReader("50 50 150 150\n0 0 100 100\n"), &out, preview, nil)
	r, err := sel.SelectRegion(context.Background(), pipeline.SelectionInput{Page: page, Divisor: 3})
	if err != nil {
		t.Fatalf("SelectRegion() error = %v", err)
	}
	if r != (geo.CropRegion{StartX: 0, StartY: 0, EndX: 300, EndY: 300}) {
		t.Fatalf("selected %v", r)
	}
	if !strings.Contains(out.String(), "invalid region") {
		t.Fatalf("off-page region not reported:\n%s", out.String())
	}

	// a stored region that no longer fits cannot be kept with Enter
	current := geo.CropRegion{StartX: 0, StartY: 0, EndX: 400, EndY: 100}
	sel = newPromptSelector(strings.NewReader("\nq\n"), &bytes.Buffer{}, preview, nil)
	if _, err := sel.SelectRegion(context.Background(), pipeline.SelectionInput{Page: page, Current: &current, Divisor: 3}); !errors.Is(err, pipeline.ErrSelectionCanceled) {
		t.Fatalf("misfit current region was accepted: %v", err)
	}
}

func TestRunRegionCommandChecksPageBounds(t *testing.T) {
	tmp := t.TempDir()
	out := filepath.Join(tmp, "out")
	page := filepath.Join(out, "images", "0001.png")
	if err := os.MkdirAll(filepath.Dir(page), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := imageio.Encode(page, rendertest.Page(300, 300, 200), imageio.FormatPNG); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(tmp, "scansort.yml")
	opts := options{configPath: cfgPath, outDir: out, command: "region", args: []string{"0", "0", "400", "50"}}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("off-page region accepted, code %d", code)
	}
	opts.args = []string{"0", "0", "300", "50"}
	if code := run(context.Background(), opts, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CropBox.EndX != 300 {
		t.Fatalf("region not persisted: %v", cfg.CropBox)
	}
}

func TestPromptSelectorKeepAndCancel(t *testing.T) {
	page := writePage(t)
	preview := filepath.Join(t.TempDir(), "preview.png")
	current := geo.CropRegion{StartX: 0, StartY: 0, EndX: 90, EndY: 90}
	in := pipeline.SelectionInput{Page: page, Current: &current, Divisor: 3}

	sel := newPromptSelector(strings.NewReader("\n"), &bytes.Buffer{}, preview, nil)
	if r, err := sel.SelectRegion(context.Background(), in); err != nil || r != current {
		t.Fatalf("empty answer should keep current region: %v, %v", r, err)
	}
	sel = newPromptSelector(strings.NewReader("q\n"), &bytes.Buffer{}, preview, nil)
	if _, err := sel.SelectRegion(context.Background(), in); !errors.Is(err, pipeline.ErrSelectionCanceled) {
		t.Fatalf("expected ErrSelectionCanceled, got %v", err)
	}
	sel = newPromptSelector(strings.NewReader(""), &bytes.Buffer{}, preview, nil)
	if _, err := sel.SelectRegion(context.Background(), in); !errors.Is(err, pipeline.ErrSelectionCanceled) {
		t.Fatalf("EOF should cancel, got %v", err)
	}
}

func TestRunRegionCommand(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "scansort.yml")
	opts := options{configPath: cfgPath, outDir: filepath.Join(tmp, "out"), command: "region", args: []string{"5", "6", "105", "56"}}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, strings.NewReader(""), &stdout, &stderr); code != exitOK {
		t.Fatalf("run() = %d, stderr:\n%s", code, stderr.String())
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CropBox != (geo.CropRegion{StartX: 5, StartY: 6, EndX: 105, EndY: 56}) {
		t.Fatalf("region not persisted: %v", cfg.CropBox)
	}

	opts.args = []string{"5", "6", "1", "1"}
	if code := run(context.Background(), opts, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("invalid region accepted, code %d", code)
	}
}

func TestRunPreviewNeedsPages(t *testing.T) {
	tmp := t.TempDir()
	opts := options{configPath: filepath.Join(tmp, "scansort.yml"), outDir: filepath.Join(tmp, "out"), command: "preview"}
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), opts, strings.NewReader(""), &stdout, &stderr); code != exitError {
		t.Fatalf("preview without pages = %d", code)
	}
	if !strings.Contains(stderr.String(), "run split first") {
		t.Fatalf("unhelpful error:\n%s", stderr.String())
	}
}
