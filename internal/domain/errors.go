package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyFailed marks a job that was never sent because a job it
	// depends on failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrUnknownKey is returned when a key was never declared by any job.
	ErrUnknownKey = errors.New("unknown result key")
)

// DependencyError reports which dependency of a job failed and why.
// It matches ErrDependencyFailed with errors.Is.
type DependencyError struct {
	Key   string
	Cause error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %q failed: %v", e.Key, e.Cause)
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyFailed
}

func (e *DependencyError) Unwrap() error {
	return e.Cause
}
