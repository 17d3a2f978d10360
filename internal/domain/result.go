package domain

import (
	"context"
	"errors"
)

// ErrJobFailed stands in for a failure reported without an error value.
var ErrJobFailed = errors.New("job failed")

// Result is the outcome of a single job: a success value, or a failure.
// A Result with a nil Err is a success.
type Result[R any] struct {
	Value R
	Err   error
}

// Success wraps a value as a successful Result.
func Success[R any](value R) Result[R] {
	return Result[R]{Value: value}
}

// Failure wraps err as a failed Result.
func Failure[R any](err error) Result[R] {
	if err == nil {
		err = ErrJobFailed
	}
	return Result[R]{Err: err}
}

// OK reports whether the job succeeded.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

// Outcome is the settled result of one submission as a whole.
type Outcome[R any] struct {
	// Success is false if any job of the submission failed or was evicted.
	Success bool
	// Errors holds every underlying error, nil when there are none.
	Errors []error
	// Results has one slot per submitted job, in submission order.
	Results []*Result[R]
}

// ConsumeFunc executes a contiguous slice of jobs and returns exactly one
// Result per job, in the same order. A non-nil error means the whole call
// failed before producing per-job results.
type ConsumeFunc[J, R any] func(ctx context.Context, jobs []J) ([]Result[R], error)
