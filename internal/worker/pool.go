package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/platform/ratelimit"
)

// Config tunes how a Pool pulls from its source.
type Config struct {
	// Concurrency is the number of slices consumed at the same time.
	Concurrency int
	// MaxBatchSize caps the jobs taken by one acquire.
	MaxBatchSize int
	// MaxWaitTime is how long a partial batch may wait for more jobs.
	// Zero acquires as soon as jobs are available.
	MaxWaitTime time.Duration
	// ConsumeTimeout bounds a single consume call. Zero means no bound.
	ConsumeTimeout time.Duration
	// RatePerSecond and Burst limit acquires across the whole pool.
	// A non-positive rate disables the limit.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		MaxBatchSize:   50,
		MaxWaitTime:    500 * time.Millisecond,
		ConsumeTimeout: 30 * time.Second,
	}
}

// idlePoll is the fallback tick when MaxWaitTime is zero, so throttled
// work is retried without a new submission.
const idlePoll = 200 * time.Millisecond

type options struct {
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Pool pulls slices from a JobSource with a fixed number of goroutines and
// hands them to a consume function.
type Pool[J, R any] struct {
	source  domain.JobSource[J, R]
	consume domain.ConsumeFunc[J, R]
	cfg     Config
	logger  *slog.Logger

	// take acquires one slice and reports whether anything was taken.
	take    func(ctx context.Context) (bool, error)
	limiter *rate.Limiter

	// grouped mode
	target   func(J) string
	throttle *ratelimit.Limiter

	// wake is signaled by the source when jobs are submitted.
	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	unwatch func()
}

// NewPool returns a pool taking up to MaxBatchSize jobs from the front of
// source on each acquire.
func NewPool[J, R any](source domain.JobSource[J, R], consume domain.ConsumeFunc[J, R], cfg Config, opts ...Option) *Pool[J, R] {
	p := newPool(source, consume, cfg, opts)
	p.take = p.takeFront
	return p
}

// NewGroupedPool returns a pool that only ever takes the leading run of jobs
// addressed to the same target, throttling each target through throttle.
// A throttled run is skipped and later runs of that target wait behind it.
// The pool runs a single consumer so per-target order is kept.
func NewGroupedPool[J, R any](source domain.JobSource[J, R], consume domain.ConsumeFunc[J, R], target func(J) string, throttle *ratelimit.Limiter, cfg Config, opts ...Option) *Pool[J, R] {
	if target == nil {
		panic("worker: nil target func")
	}
	cfg.Concurrency = 1

	p := newPool(source, consume, cfg, opts)
	p.target = target
	p.throttle = throttle
	p.take = p.takeGrouped
	return p
}

func newPool[J, R any](source domain.JobSource[J, R], consume domain.ConsumeFunc[J, R], cfg Config, opts []Option) *Pool[J, R] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if cfg.MaxWaitTime < 0 {
		cfg.MaxWaitTime = 0
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Pool[J, R]{
		source:  source,
		consume: consume,
		cfg:     cfg,
		logger:  o.logger,
		limiter: rate.NewLimiter(limit, burst),
		wake:    make(chan struct{}, cfg.Concurrency),
	}
}

// Start spawns the worker goroutines and returns immediately. Calling Start
// on a running pool does nothing.
func (p *Pool[J, R]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	p.unwatch = p.source.OnAvailable(func() {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})

	p.logger.Info("Starting worker pool", "concurrency", p.cfg.Concurrency, "maxBatchSize", p.cfg.MaxBatchSize)
	for i := range p.cfg.Concurrency {
		p.group.Go(func() error {
			p.worker(ctx, i)
			return nil
		})
	}
}

// Stop signals the workers to exit and blocks until slices being consumed
// are reconciled. Jobs still queued stay in the source.
func (p *Pool[J, R]) Stop() {
	p.mu.Lock()
	cancel, group, unwatch := p.cancel, p.group, p.unwatch
	p.cancel, p.group, p.unwatch = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	p.logger.Info("Stopping worker pool, waiting for slices in flight...")
	unwatch()
	cancel()
	_ = group.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool[J, R]) worker(ctx context.Context, id int) {
	p.logger.Debug("Worker started", "workerId", id)
	defer p.logger.Debug("Worker stopped", "workerId", id)

	interval := p.cfg.MaxWaitTime
	if interval == 0 {
		interval = idlePoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Pick up whatever was queued before Start.
	p.drain(ctx, p.cfg.MaxWaitTime > 0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.drain(ctx, p.cfg.MaxWaitTime > 0)
		case <-ticker.C:
			p.drain(ctx, false)
		}
	}
}

// drain acquires until the source has nothing to offer. With fullOnly set it
// stops as soon as less than a full batch is queued.
func (p *Pool[J, R]) drain(ctx context.Context, fullOnly bool) {
	for ctx.Err() == nil {
		n := p.source.Len()
		if n == 0 || (fullOnly && n < p.cfg.MaxBatchSize) {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		taken, err := p.acquire(ctx)
		if err != nil {
			p.logger.Warn("Slice failed", "error", err)
		}
		if !taken {
			return
		}
	}
}

// acquire runs one take with a consume context detached from pool
// cancellation and bounded by ConsumeTimeout.
func (p *Pool[J, R]) acquire(ctx context.Context) (bool, error) {
	cctx := context.WithoutCancel(ctx)
	if p.cfg.ConsumeTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, p.cfg.ConsumeTimeout)
		defer cancel()
	}
	return p.take(cctx)
}

func (p *Pool[J, R]) takeFront(ctx context.Context) (bool, error) {
	_, ok, err := p.source.Acquire(ctx, p.cfg.MaxBatchSize, p.consume)
	return ok, err
}

// takeGrouped scans runs of same-target jobs from the front and acquires
// the first one whose target is not throttled. Once a target has been
// skipped, its later runs are skipped too.
func (p *Pool[J, R]) takeGrouped(ctx context.Context) (bool, error) {
	skipped := make(map[string]bool)

	for offset := 0; ; {
		first, ok := p.source.PeekAt(offset)
		if !ok {
			return false, nil
		}
		key := p.target(first)

		n := 1
		for n < p.cfg.MaxBatchSize {
			next, ok := p.source.PeekAt(offset + n)
			if !ok || p.target(next) != key {
				break
			}
			n++
		}

		if skipped[key] || (p.throttle != nil && !p.throttle.Allow(key)) {
			skipped[key] = true
			offset += n
			continue
		}

		_, ok, err := p.source.AcquireAt(ctx, offset, n, p.consume)
		return ok, err
	}
}
