package queue

import (
	"fmt"
	"time"

	"github.com/machinat/sociably-sub013/internal/domain"
)

// batchRequest is the bookkeeping for one Submit call. It is only touched
// with the ledger mutex held.
type batchRequest[R any] struct {
	start, end uint64
	createdAt  time.Time

	finished int
	inFlight int
	success  bool
	settled  bool
	errs     []error
	results  []*domain.Result[R]

	future *Future[R]
}

func newBatchRequest[R any](start uint64, size int) *batchRequest[R] {
	return &batchRequest[R]{
		start:     start,
		end:       start + uint64(size),
		createdAt: time.Now(),
		success:   true,
		results:   make([]*domain.Result[R], size),
		future:    newFuture[R](),
	}
}

func (b *batchRequest[R]) size() int {
	return int(b.end - b.start)
}

// put writes the result of the job with sequence seq. Each slot is written
// at most once.
func (b *batchRequest[R]) put(seq uint64, res domain.Result[R]) {
	idx := seq - b.start
	if b.results[idx] != nil {
		panic(fmt.Sprintf("queue: result for sequence %d written twice", seq))
	}
	b.results[idx] = &res
	b.finished++
}

// settleable reports whether nothing is in flight and the request is either
// complete or already doomed.
func (b *batchRequest[R]) settleable() bool {
	return !b.settled && b.inFlight <= 0 && (b.finished == b.size() || !b.success)
}

func (b *batchRequest[R]) settle() {
	b.settled = true

	var errs []error
	if len(b.errs) > 0 {
		errs = b.errs
	}
	b.future.resolve(domain.Outcome[R]{
		Success: b.success,
		Errors:  errs,
		Results: b.results,
	})
}

// run is a maximal stretch of a detached slice owned by one request.
// lo and hi index into the detached slice.
type run[J, R any] struct {
	owner   *batchRequest[R]
	lo, hi  int
	entries []entry[J, R]
}

// groupRuns partitions detached into contiguous runs by owner, in order.
func groupRuns[J, R any](detached []entry[J, R]) []run[J, R] {
	var runs []run[J, R]
	for i, e := range detached {
		if n := len(runs); n > 0 && runs[n-1].owner == e.owner {
			runs[n-1].hi = i + 1
			runs[n-1].entries = detached[runs[n-1].lo : i+1]
			continue
		}
		runs = append(runs, run[J, R]{owner: e.owner, lo: i, hi: i + 1, entries: detached[i : i+1]})
	}
	return runs
}

type evictedJob[J any] struct {
	job J
	err error
}

type settlement struct {
	start   uint64
	success bool
	errs    int
	elapsed time.Duration
}

// reconcile folds the results of a consumed slice back into the owning
// requests, run by run in detachment order. A non-nil cause means the whole
// slice failed and results is ignored.
func (l *Ledger[J, R]) reconcile(runs []run[J, R], results []domain.Result[R], cause error) []evictedJob[J] {
	var (
		evicted []evictedJob[J]
		settled []settlement
	)

	l.mu.Lock()
	for _, r := range runs {
		var runResults []domain.Result[R]
		if cause == nil {
			runResults = results[r.lo:r.hi]
		}
		evicted = append(evicted, l.reconcileRun(r, runResults, cause)...)

		if req := r.owner; req.settleable() {
			req.settle()
			settled = append(settled, settlement{
				start:   req.start,
				success: req.success,
				errs:    len(req.errs),
				elapsed: time.Since(req.createdAt),
			})
		}
	}
	l.mu.Unlock()

	for _, s := range settled {
		l.observer.RequestSettled(s.success, s.elapsed)
		if !s.success {
			l.logger.Info("Request settled with failures", "rangeStart", s.start, "errors", s.errs, "elapsed", s.elapsed)
		}
	}
	return evicted
}

// reconcileRun records one run's results on its request and evicts the
// request's queued jobs if anything in the run failed.
func (l *Ledger[J, R]) reconcileRun(r run[J, R], results []domain.Result[R], cause error) []evictedJob[J] {
	req := r.owner
	defer func() { req.inFlight-- }()

	var first error
	if cause != nil {
		for _, e := range r.entries {
			req.put(e.seq, domain.Failure[R](cause))
		}
		req.errs = append(req.errs, cause)
		first = cause
	} else {
		for i, e := range r.entries {
			res := results[i]
			if !res.OK() {
				res = domain.Failure[R](res.Err)
				req.errs = append(req.errs, res.Err)
				if first == nil {
					first = res.Err
				}
			}
			req.put(e.seq, res)
		}
	}
	if first == nil {
		return nil
	}

	req.success = false
	evictErr := cause
	if evictErr == nil {
		evictErr = fmt.Errorf("%w: %w", ErrEvicted, first)
	}
	return l.evictLocked(req, evictErr)
}

// evictLocked drops every queued entry of req, failing each with err.
func (l *Ledger[J, R]) evictLocked(req *batchRequest[R], err error) []evictedJob[J] {
	var evicted []evictedJob[J]

	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.owner != req {
			kept = append(kept, e)
			continue
		}
		req.put(e.seq, domain.Failure[R](err))
		evicted = append(evicted, evictedJob[J]{job: e.job, err: err})
	}
	clear(l.entries[len(kept):])
	l.entries = kept

	if len(evicted) > 0 {
		l.logger.Debug("Evicted queued jobs of failed request", "count", len(evicted), "rangeStart", req.start)
	}
	return evicted
}
