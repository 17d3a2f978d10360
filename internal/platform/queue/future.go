package queue

import (
	"context"

	"github.com/machinat/sociably-sub013/internal/domain"
)

// Future is the one-shot settlement handle returned by Submit.
type Future[R any] struct {
	done    chan struct{}
	outcome domain.Outcome[R]
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func settledFuture[R any](o domain.Outcome[R]) *Future[R] {
	f := newFuture[R]()
	f.resolve(o)
	return f
}

// resolve must be called exactly once.
func (f *Future[R]) resolve(o domain.Outcome[R]) {
	f.outcome = o
	close(f.done)
}

// Done is closed once the submission has settled.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Outcome returns the settled outcome, and false if not settled yet.
func (f *Future[R]) Outcome() (domain.Outcome[R], bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return domain.Outcome[R]{}, false
	}
}

// Wait blocks until the submission settles or ctx is done.
func (f *Future[R]) Wait(ctx context.Context) (domain.Outcome[R], error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return domain.Outcome[R]{}, ctx.Err()
	}
}
