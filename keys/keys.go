// Package keys turns OCR output for a crop into the grouping key of a page.
package keys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"unicode"

	"github.com/anyascii/go"

	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/ocr"
	"github.com/wudi/scansort/workdir"
)

// Normalize keeps only the decimal digits of s, in their original order.
// Only runes of category Nd count; non-ASCII decimal digits (fullwidth,
// Arabic-Indic, ...) are transliterated to their ASCII digit. Fractions,
// superscripts and circled numbers are not decimal digits and are dropped.
// Normalize is idempotent.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if d := anyascii.TransliterateRune(r); len(d) == 1 && d[0] >= '0' && d[0] <= '9' {
				b.WriteString(d)
			}
		}
	}
	return b.String()
}

// FallbackPolicy decides the key of a page whose crop produced no digits.
type FallbackPolicy string

const (
	// FallbackShared puts every unreadable page under SharedFallbackKey, so
	// all of them end up in one output document.
	FallbackShared FallbackPolicy = "shared"
	// FallbackDistinct gives every unreadable page its own key, so each one
	// becomes a single-page output document.
	FallbackDistinct FallbackPolicy = "distinct"
)

// SharedFallbackKey is the key used by FallbackShared.
const SharedFallbackKey = "0"

const distinctPrefix = "unread-"

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(s)) {
	case FallbackDistinct, "":
		return FallbackDistinct, nil
	case FallbackShared:
		return FallbackShared, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q", s)
}

// Fallback returns the key used for page index when nothing was recognized.
func (p FallbackPolicy) Fallback(index int) string {
	if p == FallbackShared {
		return SharedFallbackKey
	}
	return distinctPrefix + workdir.IndexName(index)
}

// Key returns normalized, or the fallback for index when it is empty.
func (p FallbackPolicy) Key(index int, normalized string) (key string, fallback bool) {
	if normalized == "" {
		return p.Fallback(index), true
	}
	return normalized, false
}

// IsFallback reports whether key is the fallback of policy p. Under the
// distinct policy a recognized "0" is a real key; the empty policy behaves
// like distinct.
func (p FallbackPolicy) IsFallback(key string) bool {
	if p == FallbackShared {
		return key == SharedFallbackKey
	}
	return strings.HasPrefix(key, distinctPrefix)
}

// Extraction is the outcome of key extraction for one page.
type Extraction struct {
	Index    int
	Raw      string
	Key      string
	Fallback bool
	// Err is the OCR error that forced a fallback, if any.
	Err error
}

// Extractor wraps an OCR engine and applies normalization and the fallback
// policy.
type Extractor struct {
	Engine  ocr.Engine
	Policy  FallbackPolicy
	Options []ocr.InputOption
	Log     observability.Logger
}

// Extract recognizes the crop at path for page index. OCR failures are not
// fatal: they are logged and resolved with the fallback key. An unreadable
// crop file, a missing engine, or cancellation is returned as an error.
func (x Extractor) Extract(ctx context.Context, index int, path string) (Extraction, error) {
	log := x.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	in, err := ocr.InputFromFile(path, index, x.Options...)
	if err != nil {
		return Extraction{}, err
	}
	ex := Extraction{Index: index}
	res, err := x.Engine.Recognize(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		if errors.Is(err, ocr.ErrNoEngine) {
			return Extraction{}, err
		}
		log.Warn("ocr failed, using fallback key", observability.Page(index), observability.Err(err))
		ex.Err = err
	} else {
		ex.Raw = res.PlainText
	}
	ex.Key, ex.Fallback = x.Policy.Key(index, Normalize(ex.Raw))
	return ex, nil
}

// Result summarizes an extraction stage run.
type Result struct {
	Extracted  []Extraction
	Reused     int
	Fallbacks  int
	OCRFailure int
}

// Stage runs the extractor over every crop in dir, strictly by page index,
// and writes text/<index>.txt (key) and text/<index>.raw (raw OCR text).
// Pages that already have a key file are left alone.
func Stage(ctx context.Context, dir workdir.Dir, x Extractor, log observability.Logger) (Result, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	log = log.With(observability.Stage("ocr"))
	x.Log = log
	if x.Policy == "" {
		x.Policy = FallbackDistinct
	}
	if x.Engine == nil {
		return Result{}, errors.New("no OCR engine configured")
	}
	if err := dir.Ensure(); err != nil {
		return Result{}, err
	}
	m, err := dir.Manifest()
	if err != nil {
		return Result{}, err
	}
	if m.FallbackPolicy != string(x.Policy) {
		if m.FallbackPolicy != "" {
			log.Info("fallback policy changed, clearing text", observability.String("old", m.FallbackPolicy), observability.String("new", string(x.Policy)))
		}
		if err := dir.ClearStage(workdir.Text); err != nil {
			return Result{}, err
		}
		// Key files written from here on follow x.Policy, even if the run
		// stops early.
		if err := dir.UpdateManifest(func(m *workdir.Manifest) { m.FallbackPolicy = string(x.Policy) }); err != nil {
			return Result{}, err
		}
	}

	crops, err := dir.List(workdir.Crops, nil)
	if err != nil {
		return Result{}, err
	}
	if len(crops) == 0 {
		return Result{}, fmt.Errorf("no crops in %s", dir.Path(workdir.Crops))
	}

	log.Info("extracting keys", observability.Int("crops", len(crops)), observability.String("engine", x.Engine.Name()))
	var res Result
	for _, c := range crops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keyPath := dir.StagePath(workdir.Text, c.Index, workdir.KeyExt)
		if workdir.Exists(keyPath) {
			res.Reused++
			continue
		}
		ex, err := x.Extract(ctx, c.Index, c.Path)
		if err != nil {
			return res, fmt.Errorf("page %d: %w", c.Index, err)
		}
		if err := workdir.WriteFileAtomic(dir.StagePath(workdir.Text, c.Index, workdir.RawExt), []byte(ex.Raw)); err != nil {
			return res, err
		}
		if err := workdir.WriteFileAtomic(keyPath, []byte(ex.Key)); err != nil {
			return res, err
		}
		if ex.Fallback {
			res.Fallbacks++
		}
		if ex.Err != nil {
			res.OCRFailure++
		}
		res.Extracted = append(res.Extracted, ex)
		log.Debug("text extracted", observability.Page(c.Index), observability.GroupKey(ex.Key), observability.Bool("fallback", ex.Fallback))
	}

	if err := dir.UpdateManifest(func(m *workdir.Manifest) {
		m.OCREngine = x.Engine.Name()
		m.FallbackPolicy = string(x.Policy)
	}); err != nil {
		return res, err
	}
	log.Info("keys extracted", observability.Int("new", len(res.Extracted)), observability.Int("reused", res.Reused), observability.Int("fallbacks", res.Fallbacks))
	return res, nil
}

// ReadKey reads the stored key for index.
func ReadKey(dir workdir.Dir, index int) (string, error) {
	data, err := os.ReadFile(dir.StagePath(workdir.Text, index, workdir.KeyExt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadKeys pairs every page image in dir with its stored key, by page index.
// A page without a key file (its crop failed or was skipped) gets the
// fallback key so that every page still lands in exactly one group.
func ReadKeys(dir workdir.Dir, policy FallbackPolicy, log observability.Logger) ([]grouper.Pair, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	pages, err := dir.List(workdir.Images, imageio.IsImage)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images in %s", dir.Path(workdir.Images))
	}
	pairs := make([]grouper.Pair, 0, len(pages))
	for _, p := range pages {
		key, err := ReadKey(dir, p.Index)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			key = policy.Fallback(p.Index)
			log.Warn("no key for page, using fallback", observability.Page(p.Index), observability.GroupKey(key))
		case err != nil:
			return nil, err
		case key == "":
			key = policy.Fallback(p.Index)
		}
		pairs = append(pairs, grouper.Pair{Index: p.Index, Key: key})
	}
	return pairs, nil
}
