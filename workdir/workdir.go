// Package workdir owns the on-disk checkpoint layout of a run. Every stage
// reads its inputs from here rather than from the memory of an earlier
// stage, so any stage can be re-run on its own.
package workdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/scansort/observability"
)

// Stage names a per-page artifact directory.
type Stage string

const (
	Images Stage = "images"
	Crops  Stage = "crops"
	Text   Stage = "text"
	PDFs   Stage = "pdfs"
)

// Stages lists the artifact directories in pipeline order.
var Stages = []Stage{Images, Crops, Text, PDFs}

// Downstream returns the stages whose artifacts derive from s.
func Downstream(s Stage) []Stage {
	for i, st := range Stages {
		if st == s {
			return append([]Stage(nil), Stages[i+1:]...)
		}
	}
	return nil
}

const (
	SnapshotFile = "pdf_dict.json"
	RecordsFile  = "records.json"
	XLSXFile     = "pdf_dict.xlsx"
	ReportFile   = "report.md"
	ReportHTML   = "report.html"
	PreviewFile  = "preview.png"
	ManifestFile = "manifest.json"

	KeyExt = ".txt"
	RawExt = ".raw"
)

// indexWidth pads page indices so a lexical listing also sorts correctly.
const indexWidth = 4

// Dir is one run's working directory.
type Dir struct {
	root string
	log  observability.Logger
}

// Open returns a handle on root. Nothing is created until Ensure is called.
func Open(root string, log observability.Logger) (Dir, error) {
	if root == "" {
		return Dir{}, errors.New("working directory path is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Dir{}, fmt.Errorf("resolve %s: %w", root, err)
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	return Dir{root: abs, log: log}, nil
}

func (d Dir) Root() string            { return d.root }
func (d Dir) Path(s Stage) string     { return filepath.Join(d.root, string(s)) }
func (d Dir) File(name string) string { return filepath.Join(d.root, name) }

// Manifest loads the checkpoint manifest. A missing file yields a fresh
// manifest with a new run id.
func (d Dir) Manifest() (Manifest, error) { return readManifest(d.File(ManifestFile)) }

// Ensure creates the root and every stage directory. Directories that
// already exist are left untouched.
func (d Dir) Ensure() error {
	dirs := append([]string{d.root}, stagePaths(d)...)
	for _, p := range dirs {
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", p, err)
		}
		d.log.Debug("directory created", observability.String("path", p))
	}
	return nil
}

func stagePaths(d Dir) []string {
	out := make([]string, 0, len(Stages))
	for _, s := range Stages {
		out = append(out, d.Path(s))
	}
	return out
}

// Clean removes the whole working directory.
func (d Dir) Clean() error {
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("clean %s: %w", d.root, err)
	}
	d.log.Info("working directory deleted", observability.String("path", d.root))
	return nil
}

// ClearStage empties the directory of s, keeping the directory itself.
func (d Dir) ClearStage(s Stage) error {
	p := d.Path(s)
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(p, 0o755)
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", s, err)
		}
	}
	if len(entries) > 0 {
		d.log.Info("stage cleared", observability.Stage(string(s)), observability.Int("removed", len(entries)))
	}
	return nil
}

// IndexName returns the file stem for a 1-based page index.
func IndexName(index int) string {
	return fmt.Sprintf("%0*d", indexWidth, index)
}

// ParseIndex extracts the page index from a file name produced by IndexName.
// A prefix ending in '-' is tolerated so files named by external renderers
// ("page-07.png") map to the same index.
func ParseIndex(name string) (int, error) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if i := strings.LastIndexByte(stem, '-'); i >= 0 {
		stem = stem[i+1:]
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("no page index in %q", name)
	}
	return n, nil
}

// StagePath returns the artifact path for index inside stage s.
func (d Dir) StagePath(s Stage, index int, ext string) string {
	return filepath.Join(d.Path(s), IndexName(index)+ext)
}

// OutputPath returns the path of the merged document for a group ordinal.
func (d Dir) OutputPath(ordinal int) string {
	return filepath.Join(d.Path(PDFs), fmt.Sprintf("%0*d.pdf", indexWidth, ordinal))
}

// Entry is one per-page artifact.
type Entry struct {
	Index int
	Path  string
}

// List returns the artifacts of stage s whose name satisfies keep, sorted by
// page index. Pairing between stages must go through Index, never through
// the position in the returned slice.
func (d Dir) List(s Stage, keep func(name string) bool) ([]Entry, error) {
	entries, err := os.ReadDir(d.Path(s))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[int]string, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || (keep != nil && !keep(name)) {
			continue
		}
		idx, err := ParseIndex(name)
		if err != nil {
			d.log.Debug("ignoring file without page index", observability.Stage(string(s)), observability.String("file", name))
			continue
		}
		if prev, dup := seen[idx]; dup {
			return nil, fmt.Errorf("%s: page %d present twice (%s, %s)", s, idx, prev, name)
		}
		seen[idx] = name
		out = append(out, Entry{Index: idx, Path: filepath.Join(d.Path(s), name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// IndexMap converts a listing into index -> path.
func IndexMap(entries []Entry) map[int]string {
	m := make(map[int]string, len(entries))
	for _, e := range entries {
		m[e.Index] = e.Path
	}
	return m
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
