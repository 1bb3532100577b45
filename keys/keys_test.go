package keys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/scansort/imageio"
	"github.com/wudi/scansort/ocr"
	"github.com/wudi/scansort/ocr/ocrtest"
	"github.com/wudi/scansort/render/rendertest"
	"github.com/wudi/scansort/workdir"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"12a3":        "123",
		"123":         "123",
		"A1 2 3":      "123",
		"No. 4711\n":  "4711",
		"":            "",
		"abc":         "",
		"１２３":         "123",
		"0042":        "0042",
		"Nr: 9-8-7 ✓": "987",
		"١٢٣":         "123",
		"½":           "",
		"²":           "",
		"①":           "",
		"No²":         "",
		"4½":          "4",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
		if again := Normalize(Normalize(in)); again != want {
			t.Fatalf("Normalize not idempotent for %q: %q", in, again)
		}
	}
}

func TestFallbackPolicy(t *testing.T) {
	if k, fb := FallbackDistinct.Key(4, ""); !fb || k != "unread-0004" {
		t.Fatalf("distinct fallback = %q, %v", k, fb)
	}
	if k, fb := FallbackShared.Key(4, ""); !fb || k != SharedFallbackKey {
		t.Fatalf("shared fallback = %q, %v", k, fb)
	}
	if k, fb := FallbackDistinct.Key(4, "77"); fb || k != "77" {
		t.Fatalf("recognized key replaced: %q, %v", k, fb)
	}
	if !FallbackDistinct.IsFallback("unread-0001") || FallbackDistinct.IsFallback("123") {
		t.Fatalf("IsFallback misclassified keys")
	}
	// a page that really reads 0 is not a fallback unless 0 is the shared key
	if FallbackDistinct.IsFallback("0") || FallbackPolicy("").IsFallback("0") {
		t.Fatalf("recognized key 0 treated as fallback under distinct policy")
	}
	if !FallbackShared.IsFallback("0") || FallbackShared.IsFallback("unread-0001") {
		t.Fatalf("shared policy misclassified keys")
	}
	if p, err := ParsePolicy(""); err != nil || p != FallbackDistinct {
		t.Fatalf("default policy = %q, %v", p, err)
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func newDir(t *testing.T, pages int, crops ...int) workdir.Dir {
	t.Helper()
	dir, err := workdir.Open(filepath.Join(t.TempDir(), "out"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dir.Ensure(); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= pages; i++ {
		if err := imageio.Encode(dir.StagePath(workdir.Images, i, ".png"), rendertest.Page(20, 20, 50), imageio.FormatPNG); err != nil {
			t.Fatal(err)
		}
	}
	for _, i := range crops {
		if err := imageio.Encode(dir.StagePath(workdir.Crops, i, ".png"), rendertest.Page(10, 10, 50), imageio.FormatPNG); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStageWritesKeysByIndex(t *testing.T) {
	dir := newDir(t, 4, 1, 2, 3, 4)
	engine := ocrtest.New(map[int]string{1: "12a3", 2: "123", 3: "A1 2 3", 4: ""})
	x := Extractor{Engine: engine, Policy: FallbackDistinct}

	res, err := Stage(context.Background(), dir, x, nil)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if len(res.Extracted) != 4 || res.Fallbacks != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := map[int]string{1: "123", 2: "123", 3: "123", 4: "unread-0004"}
	for idx, k := range want {
		got, err := ReadKey(dir, idx)
		if err != nil || got != k {
			t.Fatalf("key for page %d = %q, %v; want %q", idx, got, err, k)
		}
	}
	raw, err := os.ReadFile(dir.StagePath(workdir.Text, 1, workdir.RawExt))
	if err != nil || string(raw) != "12a3" {
		t.Fatalf("raw text for page 1 = %q, %v", raw, err)
	}
	m, _ := dir.Manifest()
	if m.OCREngine != "fake" || m.FallbackPolicy != "distinct" {
		t.Fatalf("manifest not updated: %+v", m)
	}
}

func TestStageIsIdempotent(t *testing.T) {
	dir := newDir(t, 2, 1, 2)
	engine := ocrtest.New(map[int]string{1: "5", 2: "6"})
	x := Extractor{Engine: engine, Policy: FallbackDistinct}
	ctx := context.Background()
	if _, err := Stage(ctx, dir, x, nil); err != nil {
		t.Fatal(err)
	}
	res, err := Stage(ctx, dir, x, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reused != 2 || len(res.Extracted) != 0 {
		t.Fatalf("second run should reuse keys, got %+v", res)
	}
	if calls := engine.Calls(); len(calls) != 2 {
		t.Fatalf("engine called %d times, want 2", len(calls))
	}

	// switching policy invalidates stored keys
	x.Policy = FallbackShared
	res, err = Stage(ctx, dir, x, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Extracted) != 2 {
		t.Fatalf("policy change should re-extract, got %+v", res)
	}
}

func TestStageEngineFailureFallsBack(t *testing.T) {
	dir := newDir(t, 2, 1, 2)
	engine := ocrtest.New(map[int]string{1: "11", 2: "22"})
	engine.Fail[2] = true
	res, err := Stage(context.Background(), dir, Extractor{Engine: engine, Policy: FallbackShared}, nil)
	if err != nil {
		t.Fatalf("engine failure should not abort the stage: %v", err)
	}
	if res.OCRFailure != 1 || res.Fallbacks != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if k, _ := ReadKey(dir, 2); k != SharedFallbackKey {
		t.Fatalf("key for failed page = %q", k)
	}
}

// stopAt answers like the wrapped engine but reports a missing backend for
// one page, which aborts the stage.
type stopAt struct {
	*ocrtest.Engine
	page int
}

func (s stopAt) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if in.PageIndex == s.page {
		return ocr.Result{}, ocr.ErrNoEngine
	}
	return s.Engine.Recognize(ctx, in)
}

func TestStageInterruptedPolicyChangeIsNotReused(t *testing.T) {
	dir := newDir(t, 2, 1, 2)
	ctx := context.Background()
	engine := ocrtest.New(map[int]string{1: "", 2: "5"})
	if _, err := Stage(ctx, dir, Extractor{Engine: engine, Policy: FallbackDistinct}, nil); err != nil {
		t.Fatal(err)
	}
	// the shared run writes page 1 as "0" and stops on page 2
	if _, err := Stage(ctx, dir, Extractor{Engine: stopAt{Engine: engine, page: 2}, Policy: FallbackShared}, nil); err == nil {
		t.Fatalf("expected the shared run to stop")
	}
	if k, _ := ReadKey(dir, 1); k != SharedFallbackKey {
		t.Fatalf("setup: page 1 key = %q", k)
	}
	if _, err := Stage(ctx, dir, Extractor{Engine: engine, Policy: FallbackDistinct}, nil); err != nil {
		t.Fatal(err)
	}
	if k, _ := ReadKey(dir, 1); k != "unread-0001" {
		t.Fatalf("page 1 key = %q, shared-policy key from the interrupted run was reused", k)
	}
}

func TestStageWithoutEngine(t *testing.T) {
	dir := newDir(t, 1, 1)
	_, err := Stage(context.Background(), dir, Extractor{Engine: ocr.DefaultEngine(), Policy: FallbackDistinct}, nil)
	if !errors.Is(err, ocr.ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}

func TestStageCanceled(t *testing.T) {
	dir := newDir(t, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Stage(ctx, dir, Extractor{Engine: ocrtest.New(nil), Policy: FallbackDistinct}, nil); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestReadKeysCoversSkippedPages(t *testing.T) {
	// page 2 has no crop, as if the crop stage skipped it
	dir := newDir(t, 3, 1, 3)
	engine := ocrtest.New(map[int]string{1: "9", 3: "9"})
	if _, err := Stage(context.Background(), dir, Extractor{Engine: engine, Policy: FallbackDistinct}, nil); err != nil {
		t.Fatal(err)
	}
	pairs, err := ReadKeys(dir, FallbackDistinct, nil)
	if err != nil {
		t.Fatalf("ReadKeys() error = %v", err)
	}
	if len(pairs) != 3 {
		t.Fatalf("expected a pair for every page, got %+v", pairs)
	}
	for i, p := range pairs {
		if p.Index != i+1 {
			t.Fatalf("pairs out of index order: %+v", pairs)
		}
	}
	if pairs[1].Key != "unread-0002" || pairs[0].Key != "9" || pairs[2].Key != "9" {
		t.Fatalf("unexpected keys %+v", pairs)
	}
}
