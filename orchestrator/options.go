package orchestrator

import (
	"time"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/idempotency"
	"github.com/goliatone/go-orderops/lock"
	"github.com/goliatone/go-orderops/metrics"
	"github.com/goliatone/go-orderops/permission"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for phase and outcome logging.
func WithLogger(l orderops.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithLocks injects the lock registry. Tests pass their own to inspect or
// reset it.
func WithLocks(reg lock.Registry) Option {
	return func(o *Orchestrator) {
		if reg != nil {
			o.locks = reg
		}
	}
}

func WithKeyGenerator(g *idempotency.Generator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.keys = g
		}
	}
}

func WithChecker(c *permission.Checker) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.checker = c
		}
	}
}

// WithKeyPolicy selects how lock keys are derived for every action.
func WithKeyPolicy(p lock.KeyPolicy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithTimeout bounds one whole invocation, zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

// WithStatusNotifications sends an in-app notice to the customer after a
// status change.
func WithStatusNotifications(enabled bool) Option {
	return func(o *Orchestrator) {
		o.notify = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
