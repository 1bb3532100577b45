// Package lookup enriches groups with records from an external source. It
// runs after grouping and never influences how pages are grouped or merged.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/scansort/grouper"
	"github.com/wudi/scansort/keys"
	"github.com/wudi/scansort/observability"
)

// ErrNotFound is returned when the source has no record for a key.
var ErrNotFound = errors.New("record not found")

// Record is one looked-up row, column name to value.
type Record map[string]any

// Lookuper resolves a group key to a record.
type Lookuper interface {
	Lookup(ctx context.Context, key string) (Record, error)
	Close() error
}

// Entry is the enrichment result for one group.
type Entry struct {
	Key    string `json:"key"`
	Pages  []int  `json:"pages"`
	Record Record `json:"record,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Enrich looks up every group key. Fallback keys of policy are not looked up. A failed
// lookup is logged and recorded on the entry, never returned: enrichment is
// best effort. Only context cancellation aborts.
func Enrich(ctx context.Context, groups grouper.Groups, l Lookuper, policy keys.FallbackPolicy, log observability.Logger) ([]Entry, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	log = log.With(observability.Stage("lookup"))
	out := make([]Entry, 0, len(groups))
	found := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		e := Entry{Key: g.Key, Pages: g.Indices}
		if l != nil && !policy.IsFallback(g.Key) {
			rec, err := l.Lookup(ctx, g.Key)
			switch {
			case err == nil:
				e.Record = rec
				found++
			case ctx.Err() != nil:
				return out, ctx.Err()
			case errors.Is(err, ErrNotFound):
				log.Debug("no record for key", observability.GroupKey(g.Key))
				e.Error = err.Error()
			default:
				log.Warn("lookup failed", observability.GroupKey(g.Key), observability.Err(err))
				e.Error = err.Error()
			}
		}
		out = append(out, e)
	}
	log.Info("lookup finished", observability.Int("groups", len(groups)), observability.Int("found", found))
	return out, nil
}

// Config selects and parameterizes a lookup source.
type Config struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
	Script string `yaml:"script"`
}

// Enabled reports whether a driver is configured.
func (c Config) Enabled() bool { return c.Driver != "" }

// Open builds the Lookuper named by cfg.Driver.
func Open(ctx context.Context, cfg Config, log observability.Logger) (Lookuper, error) {
	switch cfg.Driver {
	case "sql", "sqlite", "sqlite3":
		return OpenSQL(ctx, cfg.DSN, cfg.Query)
	case "script", "js":
		return OpenScript(ctx, cfg.Script, log)
	}
	return nil, fmt.Errorf("unknown lookup driver %q", cfg.Driver)
}
