package resilience

import (
	"context"
	"errors"

	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/s2s"
)

// S2SBreaker wraps an [s2s.Provider] so that repeated dial failures stop
// reaching the backend for a while. Only Connect is guarded; an established
// session is not affected.
type S2SBreaker struct {
	next    s2s.Provider
	breaker *CircuitBreaker
}

var _ s2s.Provider = (*S2SBreaker)(nil)

// NewS2SBreaker returns next guarded by a breaker built from cfg.
func NewS2SBreaker(next s2s.Provider, cfg CircuitBreakerConfig) *S2SBreaker {
	return &S2SBreaker{next: next, breaker: NewCircuitBreaker(cfg)}
}

// Connect implements [s2s.Provider]. A cancelled ctx is not counted as a
// backend failure.
func (b *S2SBreaker) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	var (
		sess      s2s.SessionHandle
		cancelled error
	)
	err := b.breaker.Execute(func() error {
		var err error
		sess, err = b.next.Connect(ctx, cfg)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			cancelled = err
			return nil
		}
		return err
	})
	if cancelled != nil {
		return nil, cancelled
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// State reports the breaker state.
func (b *S2SBreaker) State() State { return b.breaker.State() }
