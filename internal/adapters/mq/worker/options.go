package worker

import (
	"time"

	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxAttempts bounds delivery attempts per dequeued event.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts; it grows linearly.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.retryBackoff = d
		}
	}
}
