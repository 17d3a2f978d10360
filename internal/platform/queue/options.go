package queue

import (
	"log/slog"
	"time"
)

// Observer receives ledger activity, typically to export metrics.
// Methods are called outside the ledger lock and must be safe for
// concurrent use.
type Observer interface {
	JobsSubmitted(n int)
	JobsAcquired(n int)
	JobsEvicted(n int)
	RequestSettled(success bool, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobsSubmitted(int)                  {}
func (nopObserver) JobsAcquired(int)                   {}
func (nopObserver) JobsEvicted(int)                    {}
func (nopObserver) RequestSettled(bool, time.Duration) {}

type options struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures a Ledger.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the activity observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}
