package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/machinat/sociably-sub013/internal/domain"
)

var (
	// ErrShortResponse is returned when an executor answers a call with a
	// different number of results than requests.
	ErrShortResponse = errors.New("executor returned wrong number of results")

	// ErrCallPanicked is returned when preparing or executing a physical
	// call panicked.
	ErrCallPanicked = errors.New("physical call panicked")
)

// Consumer executes ledger slices of domain.Job through an Executor while
// honoring the dependent-value protocol: a dependent job is never sent in
// the same physical call as a job it depends on, and its request is only
// finalized once every dependency has settled.
type Consumer struct {
	exec   domain.Executor
	logger *slog.Logger
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer returns a Consumer sending through exec.
func NewConsumer(exec domain.Executor, opts ...Option) *Consumer {
	c := &Consumer{exec: exec, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume has the signature of domain.ConsumeFunc and is meant to be passed
// to the ledger's Acquire. It returns one result per job, in order.
//
// An error is returned only when the first physical call fails as a whole.
// If a later call fails, the jobs already sent keep their results and the
// jobs of the failed call and every call after it become Failure{err}.
// Either way the registrations of unsent jobs are failed, so dependents
// held by other workers stop waiting.
func (c *Consumer) Consume(ctx context.Context, jobs []domain.Job) ([]domain.JobResult, error) {
	results := make([]domain.JobResult, len(jobs))

	for start := 0; start < len(jobs); {
		end := cut(jobs, start)
		if err := c.safeCall(ctx, jobs[start:end], results[start:end]); err != nil {
			FailRegistrations(jobs[start:], err)
			if start == 0 {
				return nil, err
			}
			c.logger.Warn("Physical call failed after earlier calls were sent",
				"sent", start, "failed", len(jobs)-start, "error", err)
			for i := start; i < len(jobs); i++ {
				results[i] = domain.Failure[json.RawMessage](err)
			}
			return results, nil
		}
		start = end
	}
	return results, nil
}

// safeCall runs call, turning a panic into an error.
func (c *Consumer) safeCall(ctx context.Context, jobs []domain.Job, out []domain.JobResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("Physical call panicked", "jobs", len(jobs), "panic", p)
			err = fmt.Errorf("%w: %v", ErrCallPanicked, p)
		}
	}()
	return c.call(ctx, jobs, out)
}

type bookKey struct {
	book *domain.ResultBook
	key  string
}

// cut returns the end of the physical call starting at start: the call
// stops right before the first dependent job that consumes a key
// registered earlier in the same call.
func cut(jobs []domain.Job, start int) int {
	registered := make(map[bookKey]bool)

	for i := start; i < len(jobs); i++ {
		switch j := jobs[i].(type) {
		case domain.DependentJob:
			for _, key := range j.Keys {
				if registered[bookKey{j.Book, key}] {
					return i
				}
			}
		case domain.RegisteredJob:
			registered[bookKey{j.Book, j.Key}] = true
		}
	}
	return len(jobs)
}

// call finalizes and sends one physical call, writing a result per job
// into out.
func (c *Consumer) call(ctx context.Context, jobs []domain.Job, out []domain.JobResult) error {
	requests := make([]domain.Request, 0, len(jobs))
	sent := make([]int, 0, len(jobs))

	for i, job := range jobs {
		req, err := c.prepare(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("resolve: waiting for dependencies: %w", ctx.Err())
			}
			c.logger.Debug("Job not sent", "target", job.Target(), "error", err)
			out[i] = domain.Failure[json.RawMessage](err)
			continue
		}
		requests = append(requests, req)
		sent = append(sent, i)
	}

	if len(requests) > 0 {
		results, err := c.exec.Execute(ctx, requests)
		if err != nil {
			return err
		}
		if len(results) != len(requests) {
			return fmt.Errorf("%w: got %d for %d requests", ErrShortResponse, len(results), len(requests))
		}
		for k, i := range sent {
			out[i] = results[k]
		}
	}

	for i, job := range jobs {
		rj, ok := job.(domain.RegisteredJob)
		if !ok {
			continue
		}
		if out[i].OK() {
			rj.Book.Register(rj.Key, out[i].Value)
		} else {
			rj.Book.Fail(rj.Key, out[i].Err)
		}
	}
	return nil
}

// prepare returns the request to send for job. For a dependent job it waits
// for every consumed key and calls Accomplish; a failed dependency yields a
// *domain.DependencyError without Accomplish being called.
func (c *Consumer) prepare(ctx context.Context, job domain.Job) (domain.Request, error) {
	j, ok := job.(domain.DependentJob)
	if !ok {
		return job.Draft(), nil
	}
	if j.Book == nil || j.Accomplish == nil {
		return domain.Request{}, fmt.Errorf("resolve: dependent job to %q lacks book or accomplish func", j.Channel)
	}

	values := make(map[string]json.RawMessage, len(j.Keys))
	for _, key := range j.Keys {
		v, err := j.Book.Wait(ctx, key)
		if err != nil {
			return domain.Request{}, &domain.DependencyError{Key: key, Cause: err}
		}
		values[key] = v
	}

	get := func(key, path string) (any, error) {
		raw, ok := values[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not consumed by this job", domain.ErrUnknownKey, key)
		}
		return Value(raw, path)
	}

	req, err := j.Accomplish(j.Request, j.Keys, get)
	if err != nil {
		return domain.Request{}, fmt.Errorf("resolve: accomplish request: %w", err)
	}
	return req, nil
}

// FailRegistrations fails every key registered by jobs that has not settled
// yet, so dependents waiting on them give up.
func FailRegistrations(jobs []domain.Job, err error) {
	for _, job := range jobs {
		FailEvicted(job, err)
	}
}

// FailEvicted fails the registration of job, if it has one. It matches the
// ledger's OnEvict hook signature.
func FailEvicted(job domain.Job, err error) {
	if rj, ok := job.(domain.RegisteredJob); ok && rj.Book != nil {
		rj.Book.Fail(rj.Key, err)
	}
}
