package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/machinat/sociably-sub013/internal/domain"
)

var (
	// ErrResultCountMismatch is reported as a whole-slice failure when a
	// consume function returns a different number of results than jobs.
	ErrResultCountMismatch = errors.New("consume returned wrong number of results")

	// ErrEvicted marks queued jobs dropped because another job of the same
	// submission failed.
	ErrEvicted = errors.New("job evicted")
)

// entry is a job held by the ledger, tagged with its sequence number and
// the submission that produced it.
type entry[J, R any] struct {
	seq   uint64
	job   J
	owner *batchRequest[R]
}

// Ledger is an in-process, ordered job queue. Submissions are appended as
// contiguous runs and settled as a whole once every job has been consumed
// by a worker or evicted.
type Ledger[J, R any] struct {
	// mu serializes enqueue, detach and reconcile.
	mu      sync.Mutex
	entries []entry[J, R]
	nextSeq uint64

	listenerMu  sync.Mutex
	listeners   map[uint64]func()
	listenerSeq uint64
	evictHooks  []func(J, error)

	logger   *slog.Logger
	observer Observer
}

// Ensure Ledger satisfies the worker-facing interface
var _ domain.JobSource[domain.Job, json.RawMessage] = (*Ledger[domain.Job, json.RawMessage])(nil)

// NewLedger returns an empty ledger.
func NewLedger[J, R any](opts ...Option) *Ledger[J, R] {
	o := options{
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Ledger[J, R]{
		listeners: make(map[uint64]func()),
		logger:    o.logger,
		observer:  o.observer,
	}
}

// Submit appends jobs as one indivisible run and returns a Future settled
// once every job has a result. An empty submission settles immediately.
func (l *Ledger[J, R]) Submit(jobs []J) *Future[R] {
	if len(jobs) == 0 {
		return settledFuture(domain.Outcome[R]{
			Success: true,
			Results: []*domain.Result[R]{},
		})
	}

	l.mu.Lock()
	req := newBatchRequest[R](l.nextSeq, len(jobs))
	for _, job := range jobs {
		l.entries = append(l.entries, entry[J, R]{seq: l.nextSeq, job: job, owner: req})
		l.nextSeq++
	}
	l.mu.Unlock()

	l.logger.Debug("Jobs submitted", "count", len(jobs), "rangeStart", req.start, "rangeEnd", req.end)
	l.observer.JobsSubmitted(len(jobs))
	l.notifyAvailable()

	return req.future
}

// PeekAt returns the undetached job at index without claiming it.
func (l *Ledger[J, R]) PeekAt(index int) (J, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.entries) {
		var zero J
		return zero, false
	}
	return l.entries[index].job, true
}

// Len returns the number of undetached jobs.
func (l *Ledger[J, R]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Acquire is AcquireAt from the front of the ledger.
func (l *Ledger[J, R]) Acquire(ctx context.Context, count int, consume domain.ConsumeFunc[J, R]) ([]domain.Result[R], bool, error) {
	return l.AcquireAt(ctx, 0, count, consume)
}

// AcquireAt detaches up to count contiguous jobs starting at offset, runs
// consume on them and reconciles the results into their submissions.
//
// The jobs are detached before consume runs, so concurrent calls never
// receive the same job. When nothing is available at offset it returns
// false without calling consume. A consume error fails every detached job
// and is returned as is.
//
// A negative offset or a non-positive count panics.
func (l *Ledger[J, R]) AcquireAt(ctx context.Context, offset, count int, consume domain.ConsumeFunc[J, R]) ([]domain.Result[R], bool, error) {
	if offset < 0 {
		panic(fmt.Sprintf("queue: invalid acquire offset %d", offset))
	}
	if count <= 0 {
		panic(fmt.Sprintf("queue: invalid acquire count %d", count))
	}
	if consume == nil {
		panic("queue: nil consume function")
	}

	detached, runs := l.detach(offset, count)
	if len(detached) == 0 {
		return nil, false, nil
	}
	l.observer.JobsAcquired(len(detached))

	jobs := make([]J, len(detached))
	for i, e := range detached {
		jobs[i] = e.job
	}

	results, err := l.runConsume(ctx, consume, jobs)
	if err == nil && len(results) != len(jobs) {
		err = fmt.Errorf("%w: got %d for %d jobs", ErrResultCountMismatch, len(results), len(jobs))
	}
	if err != nil {
		l.logger.Warn("Consume failed", "count", len(jobs), "error", err)
		results = nil
	}

	evicted := l.reconcile(runs, results, err)
	l.fireEvicted(evicted)

	if err != nil {
		return nil, true, err
	}
	return results, true, nil
}

// OnAvailable registers fn to be called after every non-empty Submit.
// fn runs on the submitting goroutine and must not block.
func (l *Ledger[J, R]) OnAvailable(fn func()) (remove func()) {
	l.listenerMu.Lock()
	defer l.listenerMu.Unlock()

	id := l.listenerSeq
	l.listenerSeq++
	l.listeners[id] = fn

	return func() {
		l.listenerMu.Lock()
		delete(l.listeners, id)
		l.listenerMu.Unlock()
	}
}

// OnEvict registers fn to be called for every job evicted by fail-fast,
// together with the error it was failed with.
func (l *Ledger[J, R]) OnEvict(fn func(job J, err error)) {
	l.listenerMu.Lock()
	defer l.listenerMu.Unlock()
	l.evictHooks = append(l.evictHooks, fn)
}

func (l *Ledger[J, R]) notifyAvailable() {
	l.listenerMu.Lock()
	fns := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.listenerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (l *Ledger[J, R]) fireEvicted(evicted []evictedJob[J]) {
	if len(evicted) == 0 {
		return
	}
	l.observer.JobsEvicted(len(evicted))

	l.listenerMu.Lock()
	hooks := slices.Clone(l.evictHooks)
	l.listenerMu.Unlock()

	for _, e := range evicted {
		for _, hook := range hooks {
			hook(e.job, e.err)
		}
	}
}

// detach removes up to count entries at offset and marks every owning
// submission as having one more slice in flight.
func (l *Ledger[J, R]) detach(offset, count int) ([]entry[J, R], []run[J, R]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if offset >= len(l.entries) {
		return nil, nil
	}
	end := min(offset+count, len(l.entries))

	detached := slices.Clone(l.entries[offset:end])
	l.entries = slices.Delete(l.entries, offset, end)

	runs := groupRuns(detached)
	for _, r := range runs {
		r.owner.inFlight++
	}
	return detached, runs
}

// runConsume calls consume, turning a panic into a whole-slice failure so
// the submissions involved still settle.
func (l *Ledger[J, R]) runConsume(ctx context.Context, consume domain.ConsumeFunc[J, R], jobs []J) (results []domain.Result[R], err error) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("Consume panicked", "panic", p)
			results = nil
			err = fmt.Errorf("queue: consume panicked: %v", p)
		}
	}()
	return consume(ctx, jobs)
}
