// Package ocrtest provides a deterministic OCR engine for tests.
package ocrtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/wudi/scansort/ocr"
)

// Engine returns canned text per page index.
type Engine struct {
	Text map[int]string
	// Fail lists pages whose recognition returns an error.
	Fail map[int]bool

	mu    sync.Mutex
	calls []int
}

// New returns an engine answering text[i] for page i.
func New(text map[int]string) *Engine {
	return &Engine{Text: text, Fail: map[int]bool{}}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, in.PageIndex)
	e.mu.Unlock()
	if e.Fail[in.PageIndex] {
		return ocr.Result{}, fmt.Errorf("engine failure on page %d", in.PageIndex)
	}
	if len(in.Image) == 0 {
		return ocr.Result{}, fmt.Errorf("empty image for page %d", in.PageIndex)
	}
	return ocr.Result{InputID: in.ID, PlainText: e.Text[in.PageIndex]}, nil
}

// Calls returns the page indices recognized so far, in call order.
func (e *Engine) Calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.calls...)
}
