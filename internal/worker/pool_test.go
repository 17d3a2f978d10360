package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinat/sociably-sub013/internal/domain"
	"github.com/machinat/sociably-sub013/internal/platform/queue"
	"github.com/machinat/sociably-sub013/internal/platform/ratelimit"
)

type testJob struct {
	to string
	n  int
}

// recorder is a consume func remembering every slice it was handed.
type recorder struct {
	mu     sync.Mutex
	slices [][]testJob
	block  chan struct{}
}

func (r *recorder) consume(ctx context.Context, jobs []testJob) ([]domain.Result[int], error) {
	r.mu.Lock()
	r.slices = append(r.slices, jobs)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]domain.Result[int], len(jobs))
	for i, j := range jobs {
		out[i] = domain.Success(j.n)
	}
	return out, nil
}

func (r *recorder) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, s := range r.slices {
		out = append(out, len(s))
	}
	return out
}

func (r *recorder) targets() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, s := range r.slices {
		var ts []string
		for _, j := range s {
			ts = append(ts, j.to)
		}
		out = append(out, ts)
	}
	return out
}

func jobsTo(to string, ns ...int) []testJob {
	out := make([]testJob, len(ns))
	for i, n := range ns {
		out[i] = testJob{to: to, n: n}
	}
	return out
}

func waitSettled(t *testing.T, f *queue.Future[int]) domain.Outcome[int] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	o, err := f.Wait(ctx)
	require.NoError(t, err)
	return o
}

func TestPool_DrainsSubmissions(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	rec := &recorder{}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 2, MaxBatchSize: 10})
	pool.Start(context.Background())
	defer pool.Stop()

	f1 := ledger.Submit(jobsTo("u1", 1, 2))
	f2 := ledger.Submit(jobsTo("u2", 3))

	o1 := waitSettled(t, f1)
	o2 := waitSettled(t, f2)
	assert.True(t, o1.Success)
	assert.True(t, o2.Success)
	assert.Equal(t, 1, o1.Results[0].Value)
	assert.Equal(t, 3, o2.Results[0].Value)
	assert.Zero(t, ledger.Len())
}

func TestPool_RespectsMaxBatchSize(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	f := ledger.Submit(jobsTo("u1", 1, 2, 3, 4, 5, 6, 7))

	rec := &recorder{}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 1, MaxBatchSize: 3})
	pool.Start(context.Background())
	defer pool.Stop()

	waitSettled(t, f)
	assert.Equal(t, []int{3, 3, 1}, rec.sizes())
}

func TestPool_PartialBatchWaitsForTick(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	rec := &recorder{}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 1, MaxBatchSize: 10, MaxWaitTime: 100 * time.Millisecond})
	pool.Start(context.Background())
	defer pool.Stop()

	f1 := ledger.Submit(jobsTo("u1", 1))
	f2 := ledger.Submit(jobsTo("u1", 2))

	waitSettled(t, f1)
	waitSettled(t, f2)
	assert.Equal(t, []int{2}, rec.sizes(), "both submissions travel in one slice")
}

func TestPool_ConsumeTimeoutFailsSlice(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	rec := &recorder{block: make(chan struct{})}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 1, MaxBatchSize: 10, ConsumeTimeout: 20 * time.Millisecond})
	pool.Start(context.Background())
	defer pool.Stop()

	o := waitSettled(t, ledger.Submit(jobsTo("u1", 1, 2)))
	assert.False(t, o.Success)
	require.Len(t, o.Errors, 1)
	assert.ErrorIs(t, o.Errors[0], context.DeadlineExceeded)
}

func TestPool_StopWaitsForSlicesInFlight(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	rec := &recorder{block: make(chan struct{})}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 1, MaxBatchSize: 10})
	pool.Start(context.Background())

	f := ledger.Submit(jobsTo("u1", 1))
	require.Eventually(t, func() bool { return len(rec.sizes()) == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a slice was being consumed")
	case <-time.After(30 * time.Millisecond):
	}

	close(rec.block)
	<-stopped
	assert.True(t, waitSettled(t, f).Success)

	ledger.Submit(jobsTo("u1", 2))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ledger.Len(), "a stopped pool takes nothing")
}

func TestPool_StartTwiceIsNoop(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	rec := &recorder{}
	pool := NewPool[testJob, int](ledger, rec.consume, Config{Concurrency: 1, MaxBatchSize: 10})
	pool.Start(context.Background())
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()
}

func TestGroupedPool_OneTargetPerSlice(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	f1 := ledger.Submit(jobsTo("a", 1, 2))
	f2 := ledger.Submit(jobsTo("b", 3))
	f3 := ledger.Submit(jobsTo("a", 4))

	rec := &recorder{}
	target := func(j testJob) string { return j.to }
	pool := NewGroupedPool[testJob, int](ledger, rec.consume, target, nil, Config{Concurrency: 8, MaxBatchSize: 10})
	pool.Start(context.Background())
	defer pool.Stop()

	waitSettled(t, f1)
	waitSettled(t, f2)
	waitSettled(t, f3)
	assert.Equal(t, [][]string{{"a", "a"}, {"b"}, {"a"}}, rec.targets())
}

func TestGroupedPool_ThrottledTargetKeepsOrder(t *testing.T) {
	ledger := queue.NewLedger[testJob, int]()
	ledger.Submit(jobsTo("a", 1))
	ledger.Submit(jobsTo("b", 2))
	ledger.Submit(jobsTo("a", 3))
	ledger.Submit(jobsTo("c", 4))

	rec := &recorder{}
	target := func(j testJob) string { return j.to }
	throttle := ratelimit.New(0.001, 1)
	pool := NewGroupedPool[testJob, int](ledger, rec.consume, target, throttle, Config{MaxBatchSize: 10})
	pool.Start(context.Background())
	defer pool.Stop()

	require.Eventually(t, func() bool { return ledger.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, rec.targets())

	job, ok := ledger.PeekAt(0)
	require.True(t, ok)
	assert.Equal(t, testJob{to: "a", n: 3}, job, "the throttled job stays queued")
}
