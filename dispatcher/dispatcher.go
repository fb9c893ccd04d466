// Package dispatcher routes typed messages to their registered handlers.
// Each console surface dispatches through one Dispatcher instance.
package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-errors"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/runner"
)

const (
	CodeNoHandler        = "DISPATCH_NO_HANDLER"
	CodeAmbiguousHandler = "DISPATCH_AMBIGUOUS_HANDLER"
	CodeHandlerMismatch  = "DISPATCH_HANDLER_MISMATCH"
)

var (
	ErrNoHandler = errors.New("no handler registered", errors.CategoryHandler).
			WithTextCode(CodeNoHandler)
	ErrAmbiguousHandler = errors.New("multiple query handlers registered", errors.CategoryHandler).
				WithTextCode(CodeAmbiguousHandler)
	ErrHandlerMismatch = errors.New("handler does not match message type", errors.CategoryHandler).
				WithTextCode(CodeHandlerMismatch)
)

// Dispatcher is the core struct to handle dispatcher options
type Dispatcher struct {
	mu        sync.RWMutex
	handlers  map[string][]any
	logger    orderops.Logger
	ExitOnErr bool
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// New applies the given options to a new instance of the dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]any),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = orderops.NormalizeLogger(d.logger)
	return d
}

// WithExitOnError stops Dispatch at the first failing command handler.
func WithExitOnError() Option {
	return func(d *Dispatcher) {
		d.ExitOnErr = true
	}
}

func WithLogger(l orderops.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func (d *Dispatcher) RegisterHandler(msgType string, handler any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = append(d.handlers[msgType], handler)
}

func (d *Dispatcher) GetHandlers(msgType string) []any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]any, len(d.handlers[msgType]))
	copy(out, d.handlers[msgType])
	return out
}

// Types lists the message types that have at least one handler.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for t, hs := range d.handlers {
		if len(hs) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// SubscribeCommand registers cmd for messages of type T.
func SubscribeCommand[T orderops.Message](d *Dispatcher, cmd orderops.Commander[T], runnerOpts ...runner.Option) Subscription {
	var msg T
	wrapper := &commandWrapper[T]{
		runner: runner.NewHandler(runnerOpts...),
		cmd:    cmd,
	}
	d.RegisterHandler(msg.Type(), wrapper)
	return &subscription{dispatcher: d, msgType: msg.Type(), handler: wrapper}
}

func SubscribeCommandFunc[T orderops.Message](d *Dispatcher, handler orderops.CommandFunc[T], runnerOpts ...runner.Option) Subscription {
	return SubscribeCommand[T](d, handler, runnerOpts...)
}

// SubscribeQuery registers qry for messages of type T. Only one query
// handler per type may be active.
func SubscribeQuery[T orderops.Message, R any](d *Dispatcher, qry orderops.Querier[T, R], runnerOpts ...runner.Option) Subscription {
	var msg T
	wrapper := &queryWrapper[T, R]{
		runner: runner.NewHandler(runnerOpts...),
		qry:    qry,
	}
	d.RegisterHandler(msg.Type(), wrapper)
	return &subscription{dispatcher: d, msgType: msg.Type(), handler: wrapper}
}

func SubscribeQueryFunc[T orderops.Message, R any](d *Dispatcher, qry orderops.QueryFunc[T, R], runnerOpts ...runner.Option) Subscription {
	return SubscribeQuery[T, R](d, qry, runnerOpts...)
}

func getCommandHandlers[T orderops.Message](d *Dispatcher) ([]*commandWrapper[T], error) {
	var msg T
	handlers := d.GetHandlers(msg.Type())
	if len(handlers) == 0 {
		return nil, orderops.NewError(ErrNoHandler, fmt.Sprintf("no command handlers for message type %s", msg.Type()), nil, nil)
	}

	typed := make([]*commandWrapper[T], 0, len(handlers))
	for _, h := range handlers {
		cw, ok := h.(*commandWrapper[T])
		if !ok {
			return nil, orderops.NewError(ErrHandlerMismatch, fmt.Sprintf("handler for %s is not a command handler", msg.Type()), nil, nil)
		}
		typed = append(typed, cw)
	}
	return typed, nil
}

// Dispatch executes every command handler registered for T. Failures are
// joined unless the dispatcher exits on the first error.
func Dispatch[T orderops.Message](ctx context.Context, d *Dispatcher, msg T) error {
	if err := (&orderops.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return err
	}

	wrappers, err := getCommandHandlers[T](d)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		return orderops.NewError(orderops.ErrTransport, "context canceled or deadline exceeded", ctx.Err(), nil)
	}

	var errs error
	for _, cw := range wrappers {
		if err := runner.RunCommand(ctx, cw.runner, cw.cmd, msg); err != nil {
			d.logger.Debug("dispatch %s handler failed: %v", msg.Type(), err)
			if d.ExitOnErr {
				return err
			}
			errs = stderrors.Join(errs, err)
		}
	}
	return errs
}

func getQueryHandler[T orderops.Message, R any](d *Dispatcher) (*queryWrapper[T, R], error) {
	var msg T
	handlers := d.GetHandlers(msg.Type())

	if len(handlers) == 0 {
		return nil, orderops.NewError(ErrNoHandler, fmt.Sprintf("no query handler for message type %s", msg.Type()), nil, nil)
	}
	if len(handlers) > 1 {
		return nil, orderops.NewError(ErrAmbiguousHandler, "", nil, map[string]any{"type": msg.Type()})
	}

	qw, ok := handlers[0].(*queryWrapper[T, R])
	if !ok {
		return nil, orderops.NewError(ErrHandlerMismatch, fmt.Sprintf("handler for %s is not a query handler", msg.Type()), nil, nil)
	}
	return qw, nil
}

// Query runs the single query handler registered for T.
func Query[T orderops.Message, R any](ctx context.Context, d *Dispatcher, msg T) (R, error) {
	var zero R
	if err := (&orderops.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return zero, err
	}

	qw, err := getQueryHandler[T, R](d)
	if err != nil {
		return zero, err
	}

	if ctx.Err() != nil {
		return zero, orderops.NewError(orderops.ErrTransport, "context canceled or deadline exceeded", ctx.Err(), nil)
	}

	return runner.RunQuery(ctx, qw.runner, qw.qry, msg)
}

type commandWrapper[T orderops.Message] struct {
	runner *runner.Handler
	cmd    orderops.Commander[T]
}

type queryWrapper[T orderops.Message, R any] struct {
	runner *runner.Handler
	qry    orderops.Querier[T, R]
}
