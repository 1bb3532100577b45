package ocr

import (
	"context"
	"errors"
)

// ErrNoEngine is returned by the default engine when no OCR backend has been
// linked into the binary.
var ErrNoEngine = errors.New("ocr: no engine registered")

var defaultEngine Engine = unavailable{}

// DefaultEngine returns the engine registered by a backend package such as
// ocr/tesseract. Without one, every Recognize call fails with ErrNoEngine so
// a misbuilt binary cannot silently read every key as unreadable.
func DefaultEngine() Engine {
	return defaultEngine
}

// SetDefaultEngine replaces the default engine; backends call it from init.
func SetDefaultEngine(engine Engine) {
	if engine == nil {
		engine = unavailable{}
	}
	defaultEngine = engine
}

type unavailable struct{}

func (unavailable) Name() string { return "none" }

func (unavailable) Recognize(context.Context, Input) (Result, error) {
	return Result{}, ErrNoEngine
}
