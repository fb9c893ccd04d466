// Package runner executes one backend call with a bounded timeout and an
// optional in-place retry of the same attempt.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"

	orderops "github.com/goliatone/go-orderops"
)

type Handler struct {
	mu sync.Mutex

	logger        orderops.Logger
	errorHandler  func(error)
	retryStrategy RetryStrategy
	retryIf       func(error) bool

	runs           int
	successfulRuns int

	maxRetries int
	timeout    time.Duration
	deadline   time.Time
}

// NewHandler constructs a Handler from various options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	r := &Handler{
		errorHandler:  func(error) {},
		retryStrategy: NoDelayStrategy{},
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	r.logger = orderops.NormalizeLogger(r.logger)
	return r
}

// Run calls fn until it succeeds, retries are exhausted, the retry
// predicate refuses the error or ctx ends. Each call gets its own timeout.
// The last error is returned.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	retryIf := h.retryIf
	h.mu.Unlock()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = h.attempt(ctx, fn)
		if err == nil {
			break
		}
		if attempt == maxRetries || ctx.Err() != nil {
			break
		}
		if retryIf != nil && !retryIf(err) {
			break
		}

		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		h.logger.Debug("runner attempt %d of %d failed: %v", attempt+1, maxRetries+1, err)
		if decision.Delay > 0 {
			timer := time.NewTimer(decision.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				err = ctx.Err()
			case <-timer.C:
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	h.mu.Lock()
	h.runs++
	if err == nil {
		h.successfulRuns++
	}
	h.mu.Unlock()

	if err != nil {
		h.errorHandler(err)
	}
	return err
}

func (h *Handler) attempt(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := h.contextWithSettings(ctx)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		msg := "call deadline exceeded"
		if h.timeout > 0 {
			msg = fmt.Sprintf("call timed out after %s", h.timeout)
		}
		return orderops.NewError(orderops.ErrTransport, msg, err, nil)
	}
	return err
}

// Stats returns total and successful runs.
func (h *Handler) Stats() (runs, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

// Timeout is the configured per-call bound.
func (h *Handler) Timeout() time.Duration {
	return h.timeout
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout != 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout != 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// RunQuery runs q through h and returns its result.
func RunQuery[T orderops.Message, R any](ctx context.Context, h *Handler, q orderops.Querier[T, R], msg T) (R, error) {
	var result R
	err := h.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = q.Query(ctx, msg)
		return err
	})
	return result, err
}

// RunCommand runs c through h.
func RunCommand[T orderops.Message](ctx context.Context, h *Handler, c orderops.Commander[T], msg T) error {
	if err := (&orderops.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return err
	}
	err := h.Run(ctx, func(ctx context.Context) error {
		return c.Execute(ctx, msg)
	})
	if err != nil && orderops.KindOf(err) == orderops.KindUnknown {
		return errors.Wrap(err, errors.CategoryHandler, "command failed")
	}
	return err
}
