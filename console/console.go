// Package console wires the operator console: configuration, the backend
// client, the orchestrator, the rejection workflow and the dispatcher the
// UI surfaces talk to.
package console

import (
	"context"
	"io"
	"strings"

	"go.opentelemetry.io/otel/trace"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/audit"
	"github.com/goliatone/go-orderops/backend"
	"github.com/goliatone/go-orderops/config"
	"github.com/goliatone/go-orderops/dispatcher"
	"github.com/goliatone/go-orderops/endpoint"
	"github.com/goliatone/go-orderops/lock"
	"github.com/goliatone/go-orderops/metrics"
	"github.com/goliatone/go-orderops/orchestrator"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/permission"
	"github.com/goliatone/go-orderops/rejection"
	"github.com/goliatone/go-orderops/runner"
)

// Console is the assembled operator console.
type Console struct {
	cfg        config.Config
	logger     orderops.Logger
	logOut     io.Writer
	prom       *metrics.Prometheus
	recorder   metrics.Recorder
	client     backend.Client
	httpClient endpoint.Doer
	tracer     trace.TracerProvider
	locks      lock.Registry
	orc        *orchestrator.Orchestrator
	workflow   *rejection.Workflow
	dispatcher *dispatcher.Dispatcher
}

type Option func(*Console)

func WithLogger(l orderops.Logger) Option {
	return func(c *Console) {
		c.logger = l
	}
}

// WithLogOutput sends the configured go-logger output to w.
func WithLogOutput(w io.Writer) Option {
	return func(c *Console) {
		c.logOut = w
	}
}

// WithClient replaces the HTTP backend client.
func WithClient(client backend.Client) Option {
	return func(c *Console) {
		c.client = client
	}
}

func WithHTTPClient(doer endpoint.Doer) Option {
	return func(c *Console) {
		c.httpClient = doer
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Console) {
		c.tracer = tp
	}
}

func WithLocks(reg lock.Registry) Option {
	return func(c *Console) {
		c.locks = reg
	}
}

// New assembles a console from cfg.
func New(cfg config.Config, opts ...Option) (*Console, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Console{cfg: cfg, recorder: metrics.Nop{}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.logger == nil {
		c.logger = orderops.NewLogger(c.logOut, cfg.Log.Level, cfg.Log.Format)
	}

	if cfg.Metrics.Enabled {
		c.prom = metrics.NewPrometheus(cfg.Metrics.Namespace)
		c.recorder = c.prom
	}

	if c.client == nil {
		c.client = backend.NewHTTPClient(c.newExecutor())
	}

	c.orc = orchestrator.New(c.client,
		orchestrator.WithLogger(c.logger),
		orchestrator.WithLocks(c.locks),
		orchestrator.WithChecker(permission.NewChecker(cfg.Permissions.FailOpen, c.logger)),
		orchestrator.WithKeyPolicy(cfg.KeyPolicy()),
		orchestrator.WithTimeout(cfg.Orchestrator.Timeout),
		orchestrator.WithMetrics(c.recorder),
		orchestrator.WithStatusNotifications(cfg.Orchestrator.NotifyStatusChanges),
	)
	c.workflow = rejection.New(c.orc, rejection.NewCatalog(cfg.Rejection.Reasons...))
	c.dispatcher = dispatcher.New(dispatcher.WithLogger(c.logger))
	c.subscribe()

	c.logger.Info("console ready backend=%s fail_open=%t key_policy=%s",
		cfg.Backend.BaseURL, cfg.Permissions.FailOpen, cfg.KeyPolicy())
	return c, nil
}

func (c *Console) newExecutor() *endpoint.Executor {
	opts := []endpoint.Option{
		endpoint.WithBaseURL(c.cfg.Backend.BaseURL),
		endpoint.WithBearerToken(c.cfg.Backend.Token),
		endpoint.WithLogger(c.logger),
		endpoint.WithRecorder(c.recorder),
		endpoint.WithRunner(runner.NewHandler(
			runner.WithTimeout(c.cfg.Backend.Timeout),
			runner.WithMaxRetries(c.cfg.Backend.MaxRetries),
			runner.WithRetryIf(runner.TransportOnly),
			runner.WithLogger(c.logger),
		)),
	}
	for k, v := range c.cfg.Backend.Headers {
		opts = append(opts, endpoint.WithHeader(k, v))
	}
	if c.httpClient != nil {
		opts = append(opts, endpoint.WithHTTPClient(c.httpClient))
	}
	if c.tracer != nil {
		opts = append(opts, endpoint.WithTracerProvider(c.tracer))
	}
	return endpoint.NewExecutor(opts...)
}

func (c *Console) subscribe() {
	d := c.dispatcher

	view := metrics.Decorate[GetOrderView, View](orderops.QueryFunc[GetOrderView, View](c.view), c.recorder, "view", nil)
	dispatcher.SubscribeQuery[GetOrderView, View](d, view)
	dispatcher.SubscribeQueryFunc(d, c.trail)

	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m ConfirmOrder) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionConfirm, func(ord order.Order) orchestrator.Outcome {
			return c.orc.Confirm(ctx, m.Principal, ord, m.Note)
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m CompleteOrder) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionComplete, func(ord order.Order) orchestrator.Outcome {
			return c.orc.Complete(ctx, m.Principal, ord, m.Note)
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m CancelOrder) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionCancel, func(ord order.Order) orchestrator.Outcome {
			return c.orc.Cancel(ctx, m.Principal, ord, m.Note)
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m CapturePayment) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionCapture, func(ord order.Order) orchestrator.Outcome {
			return c.orc.CapturePayment(ctx, m.Principal, ord, orchestrator.PaymentInput{
				Amount:    m.Amount,
				Currency:  m.Currency,
				Method:    m.Method,
				Reference: m.Reference,
			})
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m BookShipment) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionShip, func(ord order.Order) orchestrator.Outcome {
			return c.orc.BookShipment(ctx, m.Principal, ord, orchestrator.ShipmentInput{
				CourierCode: m.CourierCode,
				ServiceCode: m.ServiceCode,
			})
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m AddNote) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionNote, func(ord order.Order) orchestrator.Outcome {
			return c.orc.AddNote(ctx, m.Principal, ord, m.Text)
		})
	})
	dispatcher.SubscribeQueryFunc(d, func(ctx context.Context, m SetRejectOverride) (orchestrator.Outcome, error) {
		return c.withOrder(ctx, m.OrderID, orchestrator.ActionOverride, func(ord order.Order) orchestrator.Outcome {
			return c.orc.SetRejectOverride(ctx, m.Principal, ord, m.Enabled)
		})
	})
	dispatcher.SubscribeQueryFunc(d, c.reject)
}

// withOrder loads a fresh view before running an action. A failed load is
// reported the same way as a failed action.
func (c *Console) withOrder(ctx context.Context, orderID, action string, run func(order.Order) orchestrator.Outcome) (orchestrator.Outcome, error) {
	ord, err := c.client.GetOrder(ctx, orderID)
	if err != nil {
		c.logger.Warn("load order %s for %s failed: %v", orderID, action, err)
		return orchestrator.Outcome{
			Report: orderops.ErrorReport(orchestrator.Title(action), orderops.Anchor(orderID, action), err),
			Err:    err,
		}, nil
	}
	return run(ord), nil
}

// reject resolves the reasons against the catalog before loading the order.
func (c *Console) reject(ctx context.Context, m RejectOrder) (orchestrator.Outcome, error) {
	sel, err := c.workflow.Catalog().Select(m.Reasons...)
	if err != nil {
		return orchestrator.Outcome{
			Report: orderops.ErrorReport(orchestrator.Title(orchestrator.ActionReject), orderops.Anchor(m.OrderID, orchestrator.ActionReject), err),
			Err:    err,
		}, nil
	}
	return c.withOrder(ctx, m.OrderID, orchestrator.ActionReject, func(ord order.Order) orchestrator.Outcome {
		draft := rejection.NewApologyDraft(ord.Label(), sel)
		if text := strings.TrimSpace(m.Apology); text != "" {
			draft.Edit(text)
		}

		return c.workflow.Run(ctx, rejection.Request{
			Order:     ord,
			Principal: m.Principal,
			Reasons:   sel,
			Note:      m.Note,
			Apology:   draft,
			SendEmail: flag(m.SendEmail),
			SendInApp: flag(m.SendInApp),
		})
	})
}

func (c *Console) view(ctx context.Context, m GetOrderView) (View, error) {
	ord, err := c.client.GetOrder(ctx, m.OrderID)
	if err != nil {
		return View{}, err
	}
	v := View{
		Order:   ord,
		Actions: orchestrator.Available(ord),
		Trail:   audit.Build(ord.Events),
	}
	if key, busy := c.orc.BusyKey(); busy && key.OrderID == ord.ID {
		v.Busy = key.Action
	}
	return v, nil
}

func (c *Console) trail(ctx context.Context, m GetTrail) ([]audit.Entry, error) {
	ord, err := c.client.GetOrder(ctx, m.OrderID)
	if err != nil {
		return nil, err
	}
	return audit.Build(ord.Events), nil
}

// Dispatcher routes console messages.
func (c *Console) Dispatcher() *dispatcher.Dispatcher { return c.dispatcher }

func (c *Console) Orchestrator() *orchestrator.Orchestrator { return c.orc }

func (c *Console) Workflow() *rejection.Workflow { return c.workflow }

func (c *Console) Config() config.Config { return c.cfg }

func (c *Console) Logger() orderops.Logger { return c.logger }

// Metrics returns the Prometheus recorder, nil when metrics are disabled.
func (c *Console) Metrics() *metrics.Prometheus { return c.prom }

// Reasons lists the rejection catalog.
func (c *Console) Reasons() []rejection.Reason { return c.workflow.Catalog().Reasons() }

// Busy reports the action currently holding a lock, if any.
func (c *Console) Busy() (lock.Key, bool) { return c.orc.BusyKey() }

// Query dispatches msg to its registered handler.
func Query[T orderops.Message, R any](ctx context.Context, c *Console, msg T) (R, error) {
	return dispatcher.Query[T, R](ctx, c.dispatcher, msg)
}

// Act dispatches an order action message and returns its outcome. Message
// validation failures are folded into the outcome report.
func Act[T ActionMessage](ctx context.Context, c *Console, msg T) orchestrator.Outcome {
	out, err := dispatcher.Query[T, orchestrator.Outcome](ctx, c.dispatcher, msg)
	if err != nil {
		return orchestrator.Outcome{
			Report: orderops.ErrorReport(orchestrator.Title(msg.Action()), orderops.Anchor(msg.Order(), msg.Action()), err),
			Err:    err,
		}
	}
	return out
}
