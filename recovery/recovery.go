// Package recovery decides what a stage does when a single page fails.
package recovery

import "context"

type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

// Location identifies the work item that failed.
type Location struct {
	Stage string
	Page  int
	Key   string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
)

func (a Action) String() string {
	if a == ActionSkip {
		return "skip"
	}
	return "fail"
}

// ForPolicy maps a configured policy name to a strategy. "fail" and
// "strict" abort on the first error; anything else skips.
func ForPolicy(name string) Strategy {
	switch name {
	case "fail", "strict", "abort":
		return NewStrictStrategy()
	}
	return NewLenientStrategy()
}
