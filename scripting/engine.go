package scripting

import (
	"context"
)

// Engine runs user-supplied JavaScript.
type Engine interface {
	// Execute evaluates a script and returns its completion value.
	Execute(ctx context.Context, script string) (interface{}, error)

	// Call invokes a global function defined by an earlier Execute.
	Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error)

	// RegisterHost exposes host services to scripts.
	RegisterHost(host Host) error
}

// Host is the set of services visible to scripts as the global "host"
// object.
type Host interface {
	// Log writes a message to the run log.
	Log(message string)
	// Env returns a named setting, or "" when it is not set.
	Env(name string) string
}
