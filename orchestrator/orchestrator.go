// Package orchestrator runs operator actions against one order. Every
// invocation walks the same phases: preconditions are checked without
// touching the network, the (order, action) lock is taken, the primary
// mutation runs with an idempotency key, best-effort effects follow and the
// lock is released whatever happened.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/backend"
	"github.com/goliatone/go-orderops/idempotency"
	"github.com/goliatone/go-orderops/lock"
	"github.com/goliatone/go-orderops/metrics"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/permission"
	"github.com/goliatone/go-orderops/status"
)

// Phase is one state of an invocation.
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhasePreconditionCheck Phase = "PRECONDITION_CHECK"
	PhaseLocked            Phase = "LOCKED"
	PhaseExecuting         Phase = "EXECUTING"
	PhaseSuccess           Phase = "SUCCESS"
	PhaseFailed            Phase = "FAILED"
	PhaseUnlocked          Phase = "UNLOCKED"
)

// Result labels recorded in metrics besides the report types.
const (
	ResultPreconditionFailed = "precondition_failed"
	ResultAlreadyRunning     = "already_running"
)

// Execution is shared by the primary call and the effects of one
// invocation.
type Execution struct {
	Order     order.Order
	Principal permission.Principal
	Action    string
	Attempt   *idempotency.Attempt
	Result    backend.Result
	Client    backend.Client
	At        time.Time
}

// KeyFor returns the idempotency key of a named sub-step. Sub-step keys
// are derived from the attempt key so a replayed attempt replays its
// effects too.
func (e *Execution) KeyFor(step string) string {
	if step == "" {
		return e.Attempt.Key
	}
	return e.Attempt.Key + "/" + step
}

// Effect is a best-effort step that runs after the primary mutation
// succeeded. A failing effect downgrades the report, it never undoes the
// primary mutation.
type Effect struct {
	Name string
	Run  func(ctx context.Context, exec *Execution) error
}

// Plan describes one invocation.
type Plan struct {
	Order      order.Order
	Principal  permission.Principal
	Action     string
	Title      string
	Capability permission.Capability
	// Target is the status the primary mutation moves the order to, empty
	// when the action does not change status.
	Target  status.Status
	Gate    func(order.Order) error
	Payload any
	Primary func(ctx context.Context, exec *Execution) (backend.Result, error)
	Effects []Effect
	Refresh bool
	Success string
}

// Failure names a best-effort step that did not succeed.
type Failure struct {
	Step string
	Err  error
}

// Outcome is returned by every operation. OK is true for success and
// warning reports.
type Outcome struct {
	OK             bool
	Report         orderops.ActionReport
	Order          order.Order
	Key            lock.Key
	IdempotencyKey string
	Phases         []Phase
	Failures       []Failure
	Err            error
}

// Orchestrator runs plans. It is safe for concurrent use; concurrent
// invocations for the same lock key are refused, never queued.
type Orchestrator struct {
	client  backend.Client
	locks   lock.Registry
	keys    *idempotency.Generator
	checker *permission.Checker
	policy  lock.KeyPolicy
	timeout time.Duration
	logger  orderops.Logger
	metrics metrics.Recorder
	notify  bool
	now     func() time.Time
}

func New(client backend.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		policy:  lock.PolicyOrderAction,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = orderops.NormalizeLogger(o.logger)
	if o.locks == nil {
		o.locks = lock.NewRegistry()
	}
	if o.keys == nil {
		o.keys = idempotency.NewGenerator()
	}
	if o.checker == nil {
		o.checker = permission.NewChecker(true, o.logger)
	}
	return o
}

// Client returns the backend the orchestrator mutates.
func (o *Orchestrator) Client() backend.Client { return o.client }

// Locks returns the lock registry.
func (o *Orchestrator) Locks() lock.Registry { return o.locks }

// BusyKey names the (order, action) currently locked, if any.
func (o *Orchestrator) BusyKey() (lock.Key, bool) {
	return o.locks.Busy()
}

// Run executes plan and always returns exactly one report.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) Outcome {
	start := o.now()
	action := strings.ToLower(strings.TrimSpace(plan.Action))
	anchor := orderops.Anchor(plan.Order.ID, action)
	title := plan.Title
	if title == "" {
		title = status.Label(status.Status(strings.ToUpper(action)))
	}

	out := Outcome{Order: plan.Order}
	fields := map[string]any{
		"order_id": plan.Order.ID,
		"action":   action,
	}
	logger := orderops.WithLoggerFields(o.logger.WithContext(ctx), fields)
	enter := func(p Phase) {
		out.Phases = append(out.Phases, p)
		orderops.WithLoggerFields(logger, map[string]any{"phase": string(p)}).Debug("order action %s", p)
	}

	enter(PhaseIdle)
	enter(PhasePreconditionCheck)
	decision, err := o.precheck(ctx, plan, action)
	if err != nil {
		enter(PhaseFailed)
		out.Err = err
		out.Report = orderops.ErrorReport(title, anchor, err)
		logger.Info("order action precondition failed: %v", err)
		o.metrics.ObserveAction(action, ResultPreconditionFailed, o.now().Sub(start))
		return out
	}

	attempt := o.keys.NewAttempt(action)
	out.IdempotencyKey = attempt.Key
	out.Key = o.policy.KeyFor(plan.Order.ID, action, plan.Payload)
	logger = orderops.WithLoggerFields(logger, map[string]any{"idempotency_key": attempt.Key})

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	exec := &Execution{
		Order:     plan.Order,
		Principal: plan.Principal,
		Action:    action,
		Attempt:   attempt,
		Client:    o.client,
		At:        start,
	}

	locked := false
	err = lock.WithLock(ctx, o.locks, out.Key, func(ctx context.Context) error {
		locked = true
		enter(PhaseLocked)
		enter(PhaseExecuting)

		res, err := plan.Primary(ctx, exec)
		if err != nil {
			enter(PhaseFailed)
			return err
		}
		exec.Result = res
		out.Order = viewAfter(plan, res)

		for _, effect := range plan.Effects {
			if err := effect.Run(ctx, exec); err != nil {
				out.Failures = append(out.Failures, Failure{Step: effect.Name, Err: err})
				logger.Warn("order action step %q failed: %v", effect.Name, err)
			}
		}

		if plan.Refresh && o.client != nil {
			fresh, err := o.client.GetOrder(ctx, plan.Order.ID)
			if err != nil {
				out.Failures = append(out.Failures, Failure{Step: "order refresh", Err: err})
				logger.Warn("order refresh failed: %v", err)
			} else {
				out.Order = fresh
			}
		}
		enter(PhaseSuccess)
		return nil
	})
	if locked {
		enter(PhaseUnlocked)
	} else {
		enter(PhaseFailed)
	}

	out.Err = err
	out.Report = buildReport(plan, title, anchor, decision, out)
	out.OK = err == nil

	result := string(out.Report.Type)
	switch {
	case !locked:
		result = ResultAlreadyRunning
		logger.Warn("order action refused: %v", err)
	case err != nil:
		logger.Error("order action failed: %v", err)
	case len(out.Failures) > 0:
		logger.Warn("order action completed with %d failed steps", len(out.Failures))
	default:
		logger.Info("order action completed")
	}
	o.metrics.ObserveAction(action, result, o.now().Sub(start))
	return out
}

func (o *Orchestrator) precheck(ctx context.Context, plan Plan, action string) (permission.Decision, error) {
	if strings.TrimSpace(plan.Order.ID) == "" {
		return permission.Decision{}, orderops.ValidationError("order id required", "order_id")
	}
	if action == "" {
		return permission.Decision{}, orderops.ValidationError("action required", "action")
	}
	if plan.Primary == nil {
		return permission.Decision{}, orderops.ValidationError("action has no primary mutation", "action")
	}

	decision, err := o.checker.Require(ctx, plan.Principal, plan.Capability)
	if err != nil {
		return decision, err
	}

	if plan.Gate != nil {
		if err := plan.Gate(plan.Order); err != nil {
			return decision, err
		}
	}

	if plan.Target != "" && !status.CanTransition(string(plan.Order.Status), string(plan.Target)) {
		return decision, transitionError(plan.Order, plan.Target, action)
	}
	return decision, nil
}

func transitionError(o order.Order, target status.Status, action string) error {
	from := status.Normalize(string(o.Status))
	return orderops.NewError(orderops.ErrInvalidTransition,
		fmt.Sprintf("cannot %s order %s: status %s does not allow %s", action, o.Label(), status.Label(from), status.Label(target)),
		nil, map[string]any{
			"from":   string(from),
			"to":     string(target),
			"action": action,
		})
}

// viewAfter prefers the order echoed by the backend, otherwise applies the
// target status to the caller's view.
func viewAfter(plan Plan, res backend.Result) order.Order {
	if res.Order != nil && res.Order.ID != "" && res.Order.ID == plan.Order.ID {
		return *res.Order
	}
	if plan.Target != "" {
		return plan.Order.WithStatus(plan.Target)
	}
	return plan.Order
}

func buildReport(plan Plan, title, anchor string, decision permission.Decision, out Outcome) orderops.ActionReport {
	if out.Err != nil {
		return orderops.ErrorReport(title, anchor, out.Err)
	}

	report := orderops.ActionReport{
		Type:    orderops.ReportSuccess,
		Title:   title,
		Message: plan.Success,
		Anchor:  anchor,
	}
	if report.Message == "" {
		report.Message = fmt.Sprintf("%s completed for order %s.", title, plan.Order.Label())
	}

	if len(out.Failures) > 0 {
		names := make([]string, 0, len(out.Failures))
		for _, f := range out.Failures {
			names = append(names, f.Step)
			report.Details = append(report.Details, fmt.Sprintf("%s: %v", f.Step, f.Err))
		}
		report.Type = orderops.ReportWarning
		report.Message = fmt.Sprintf("%s Some follow-up steps failed: %s.", report.Message, joinNames(names))
	}
	if decision.FailOpen {
		report.Details = append(report.Details, "Permission granted by fail-open policy: "+decision.Reason)
	}
	return report
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
