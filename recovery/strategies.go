package recovery

import (
	"context"
	"fmt"
	"sync"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy skips the failing item and keeps a record of every error
// it absorbed.
type LenientStrategy struct {
	mu     sync.Mutex
	errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	if ctx.Err() != nil {
		return ActionFail
	}
	s.mu.Lock()
	s.errors = append(s.errors, fmt.Errorf("[%s] page %d: %w", location.Stage, location.Page, err))
	s.mu.Unlock()
	return ActionSkip
}

// Errors returns the errors absorbed so far.
func (s *LenientStrategy) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errors...)
}
