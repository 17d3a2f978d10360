package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ResultBook holds the values registered by the jobs of one submission.
// It is shared by every job built for that submission and is safe for
// concurrent use.
type ResultBook struct {
	mu      sync.Mutex
	entries map[string]*bookEntry
}

type bookEntry struct {
	done  chan struct{}
	value json.RawMessage
	err   error
}

// NewResultBook returns an empty book.
func NewResultBook() *ResultBook {
	return &ResultBook{entries: make(map[string]*bookEntry)}
}

// Declare announces that some job will register key.
func (b *ResultBook) Declare(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		b.entries[key] = &bookEntry{done: make(chan struct{})}
	}
}

// Register records value under key. Only the first Register or Fail for a
// key has any effect.
func (b *ResultBook) Register(key string, value json.RawMessage) {
	b.settle(key, value, nil)
}

// Fail records that the job registering key did not succeed.
func (b *ResultBook) Fail(key string, err error) {
	if err == nil {
		err = ErrJobFailed
	}
	b.settle(key, nil, err)
}

func (b *ResultBook) settle(key string, value json.RawMessage, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &bookEntry{done: make(chan struct{})}
		b.entries[key] = e
	}
	select {
	case <-e.done:
		return
	default:
	}
	e.value = value
	e.err = err
	close(e.done)
}

// Wait blocks until the job registering key has settled, then returns its
// value or the error it failed with.
func (b *ResultBook) Wait(ctx context.Context, key string) (json.RawMessage, error) {
	b.mu.Lock()
	e, ok := b.entries[key]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
