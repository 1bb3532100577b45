package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/wudi/scansort/imageio"
)

// Poppler renders pages with the pdftoppm tool from poppler-utils. Page
// counting is done in-process so a corrupt file is rejected before any
// rendering starts.
type Poppler struct {
	// BinDir holds pdftoppm; empty means look it up on PATH.
	BinDir string
}

// NewPoppler constructs a renderer using pdftoppm from binDir or PATH.
func NewPoppler(binDir string) *Poppler {
	return &Poppler{BinDir: binDir}
}

func (p *Poppler) Name() string { return "pdftoppm" }

func (p *Poppler) PageCount(ctx context.Context, src string) (n int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// the pdf package panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read %s: %v", filepath.Base(src), r)
		}
	}()
	f, reader, err := pdf.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()
	n = reader.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("%s has no pages", filepath.Base(src))
	}
	return n, nil
}

func (p *Poppler) binary() string {
	if p.BinDir == "" {
		return "pdftoppm"
	}
	return filepath.Join(p.BinDir, "pdftoppm")
}

// Check verifies that pdftoppm can be executed.
func (p *Poppler) Check(ctx context.Context) error {
	path, err := exec.LookPath(p.binary())
	if err != nil {
		return fmt.Errorf("pdftoppm not found (install poppler-utils or set settings.poppler_path): %w", err)
	}
	cmd := exec.CommandContext(ctx, path, "-v")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm -v: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RenderPage invokes pdftoppm for a single page. pdftoppm appends its own
// extension to the output root, so the page is rendered next to dst and
// renamed into place.
func (p *Poppler) RenderPage(ctx context.Context, src string, page int, opts Options, dst string) error {
	if opts.DPI <= 0 {
		return fmt.Errorf("invalid dpi %d", opts.DPI)
	}
	fmtFlag, ext := popplerFormat(opts.Format)
	root := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".rendering"
	n := strconv.Itoa(page)
	args := []string{
		"-f", n, "-l", n,
		"-r", strconv.Itoa(opts.DPI),
		"-singlefile",
		fmtFlag,
		src, root,
	}
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(root + ext)
		return fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(root+ext, dst); err != nil {
		return fmt.Errorf("pdftoppm page %d: %w", page, err)
	}
	return nil
}

func popplerFormat(f imageio.Format) (flag, ext string) {
	switch f {
	case imageio.FormatJPEG:
		return "-jpeg", ".jpg"
	case imageio.FormatTIFF:
		return "-tiff", ".tif"
	default:
		return "-png", ".png"
	}
}
