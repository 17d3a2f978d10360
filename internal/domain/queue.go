package domain

import "context"

// JobSource is the worker-facing side of the job ledger.
// It decouples worker policies from the ledger implementation.
type JobSource[J, R any] interface {
	// PeekAt returns the undetached job at index without claiming it.
	PeekAt(index int) (J, bool)

	// Acquire detaches up to count jobs from the front and runs consume on them.
	// It reports false without calling consume when the ledger is empty.
	Acquire(ctx context.Context, count int, consume ConsumeFunc[J, R]) ([]Result[R], bool, error)

	// AcquireAt is Acquire starting at offset instead of the front.
	AcquireAt(ctx context.Context, offset, count int, consume ConsumeFunc[J, R]) ([]Result[R], bool, error)

	// Len returns the number of undetached jobs.
	Len() int

	// OnAvailable registers fn to be called after jobs are submitted.
	// The returned func removes the listener.
	OnAvailable(fn func()) (remove func())
}

// OutcomeNotifier fans settled submissions out to interested listeners.
type OutcomeNotifier interface {
	// Publish announces a settled submission.
	Publish(ctx context.Context, n Notification) error

	// Subscribe returns a channel streaming every published Notification.
	Subscribe(ctx context.Context) (<-chan Notification, error)
}
