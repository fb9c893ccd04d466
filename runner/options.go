package runner

import (
	"time"

	orderops "github.com/goliatone/go-orderops"
)

type Option func(*Handler)

// WithTimeout bounds every attempt. Zero disables the bound.
func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(r *Handler) {
		r.deadline = d
	}
}

func WithMaxRetries(max int) Option {
	return func(r *Handler) {
		if max < 0 {
			max = 0
		}
		r.maxRetries = max
	}
}

func WithErrorHandler(h func(error)) Option {
	return func(r *Handler) {
		if h == nil {
			h = func(err error) {}
		}
		r.errorHandler = h
	}
}

func WithLogger(l orderops.Logger) Option {
	return func(r *Handler) {
		r.logger = l
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		r.retryStrategy = s
	}
}

// WithRetryIf limits retries to errors accepted by fn. Without it every
// error is retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Handler) {
		r.retryIf = fn
	}
}
