package lookup

import (
	"context"
	"fmt"
	"os"

	"github.com/wudi/scansort/observability"
	"github.com/wudi/scansort/scripting"
)

// ScriptFunc is the function a lookup script must define.
const ScriptFunc = "lookup"

// Script resolves keys by calling lookup(key) in a user JavaScript file. The
// function returns an object (the record), or null/undefined when the key is
// unknown.
type Script struct {
	engine scripting.Engine
}

type scriptHost struct{ log observability.Logger }

func (h scriptHost) Log(msg string)         { h.log.Info(msg, observability.Stage("lookup")) }
func (h scriptHost) Env(name string) string { return os.Getenv("SCANSORT_" + name) }

// OpenScript loads the script at path.
func OpenScript(ctx context.Context, path string, log observability.Logger) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lookup: read script: %w", err)
	}
	return NewScript(ctx, string(src), log)
}

// NewScript evaluates src in a fresh engine.
func NewScript(ctx context.Context, src string, log observability.Logger) (*Script, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	engine := scripting.NewEngine()
	if err := engine.RegisterHost(scriptHost{log: log}); err != nil {
		return nil, err
	}
	if _, err := engine.Execute(ctx, src); err != nil {
		return nil, fmt.Errorf("lookup: evaluate script: %w", err)
	}
	return &Script{engine: engine}, nil
}

func (s *Script) Lookup(ctx context.Context, key string) (Record, error) {
	out, err := s.engine.Call(ctx, ScriptFunc, key)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case map[string]interface{}:
		return Record(v), nil
	default:
		return Record{"value": v}, nil
	}
}

func (s *Script) Close() error { return nil }
