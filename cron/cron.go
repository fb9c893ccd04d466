// Package cron runs recurring and one-shot console jobs, such as the
// operator watch that refreshes an order view on a schedule.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	rcron "github.com/robfig/cron/v3"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/runner"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// JobConfig bounds one scheduled job.
type JobConfig struct {
	Name       string
	Expression string
	Timeout    time.Duration
	MaxRetries int
	Deadline   time.Time
}

// Scheduler wraps cron functionality.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)
	ctx          context.Context

	logger   orderops.Logger
	parser   Parser
	logLevel LogLevel
	panics   func(funcName string, fields ...map[string]any)

	nextHandleID int64
	handles      map[int64]*cronSubscription
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(opts ...Option) *Scheduler {
	cs := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		ctx:      context.Background(),
		handles:  make(map[int64]*cronSubscription),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.logger = orderops.NormalizeLogger(cs.logger)
	if cs.errorHandler == nil {
		logger := cs.logger
		cs.errorHandler = func(err error) {
			logger.Error("scheduled job failed: %v", err)
		}
	}
	cs.panics = orderops.MakePanicHandler(orderops.LoggerPanicLogger(cs.logger))
	cs.cron = rcron.New(cs.build()...)
	return cs
}

// ScheduleCron schedules a recurring job by cron expression.
func (s *Scheduler) ScheduleCron(cfg JobConfig, handler any) (Handle, error) {
	if cfg.Expression == "" {
		return nil, orderops.ValidationError("cron expression cannot be empty", "expression")
	}
	run, err := s.buildRunnable(cfg, handler)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle()
	job := rcron.FuncJob(func() {
		if isTerminalStatus(sub.Status()) {
			return
		}

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(); err != nil {
			// recurring jobs keep their schedule, the error stays on the handle
			if !isTerminalStatus(sub.Status()) {
				sub.setStatus(ScheduleStatusIdle, err)
			}
			s.errorHandler(err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(cfg.Expression, job)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "invalid cron expression").
			WithTextCode(orderops.CodeValidation).
			WithMetadata(map[string]any{"expression": cfg.Expression})
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	return sub, nil
}

// ScheduleAfter schedules one execution after delay.
func (s *Scheduler) ScheduleAfter(delay time.Duration, cfg JobConfig, handler any) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleAt(time.Now().Add(delay), cfg, handler)
}

// ScheduleAt schedules one execution at a specific time.
func (s *Scheduler) ScheduleAt(at time.Time, cfg JobConfig, handler any) (Handle, error) {
	run, err := s.buildRunnable(cfg, handler)
	if err != nil {
		return nil, err
	}

	sub := s.newHandle()
	s.storeHandle(sub)

	go func() {
		wait := time.Until(at)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		if err := run(); err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub.id)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub.id)
	}()

	return sub, nil
}

// AddCommand schedules cmd to receive msg on every tick.
func AddCommand[T orderops.Message](s *Scheduler, cfg JobConfig, cmd orderops.Commander[T], msg T) (Handle, error) {
	if s == nil {
		return nil, orderops.ValidationError("scheduler cannot be nil", "scheduler")
	}
	if err := (&orderops.MessageHandler[T]{}).ValidateMessage(msg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = msg.Type()
	}
	h := runner.NewHandler(runner.WithLogger(s.logger))
	return s.ScheduleCron(cfg, Job(func(ctx context.Context) error {
		return runner.RunCommand(ctx, h, cmd, msg)
	}))
}

// RemoveHandler removes a scheduled job by entry ID.
func (s *Scheduler) RemoveHandler(entryID int) {
	if s == nil {
		return
	}

	var affected []*cronSubscription
	s.mu.Lock()
	for id, handle := range s.handles {
		if handle != nil && handle.entryID == entryID {
			affected = append(affected, handle)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	s.cron.Remove(rcron.EntryID(entryID))
	for _, handle := range affected {
		handle.setTerminal(ScheduleStatusCanceled, nil)
	}
}

// Start begins executing scheduled cron jobs. Jobs run under ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx != nil {
		s.mu.Lock()
		s.ctx = ctx
		s.mu.Unlock()
	}
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
// It waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	var handles []*cronSubscription
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[int64]*cronSubscription)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}

	if ctx == nil {
		return nil
	}
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries reports how many recurring jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) removeHandle(id int64) {
	handle := s.removeStoredHandle(id)
	if handle == nil {
		return
	}
	if handle.entryID > 0 {
		s.cron.Remove(rcron.EntryID(handle.entryID))
	}
}

func (s *Scheduler) removeStoredHandle(id int64) *cronSubscription {
	if s == nil || id == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.handles[id]
	delete(s.handles, id)
	return handle
}

func (s *Scheduler) storeHandle(handle *cronSubscription) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[handle.id] = handle
}

func (s *Scheduler) newHandle() *cronSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &cronSubscription{
		scheduler: s,
		id:        s.nextHandleID,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

func (s *Scheduler) buildRunnable(cfg JobConfig, handler any) (func() error, error) {
	var job Job
	switch r := handler.(type) {
	case func():
		job = func(context.Context) error {
			r()
			return nil
		}
	case func() error:
		job = func(context.Context) error { return r() }
	case func(context.Context) error:
		job = r
	case Job:
		job = r
	default:
		return nil, orderops.ValidationError(fmt.Sprintf("unsupported handler type: %T", handler), "handler")
	}
	if job == nil {
		return nil, orderops.ValidationError("handler cannot be nil", "handler")
	}

	h := runner.NewHandler(s.runnerOptions(cfg)...)
	name := cfg.Name
	if name == "" {
		name = "cron job"
	}

	return func() (err error) {
		completed := false
		defer func() {
			if !completed {
				err = orderops.NewError(orderops.ErrApplication, fmt.Sprintf("%s panicked", name), nil, nil)
			}
		}()
		defer s.panics(name, map[string]any{"expression": cfg.Expression})

		err = h.Run(s.jobContext(), func(ctx context.Context) error {
			return job(ctx)
		})
		completed = true
		return err
	}, nil
}

func (s *Scheduler) runnerOptions(cfg JobConfig) []runner.Option {
	opts := []runner.Option{
		runner.WithMaxRetries(cfg.MaxRetries),
		runner.WithDeadline(cfg.Deadline),
		runner.WithLogger(s.logger),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(cfg.Timeout))
	}
	return opts
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	cronLogger := &loggerAdapter{logger: s.logger, level: s.logLevel}
	opts = append(opts,
		rcron.WithLogger(cronLogger),
		rcron.WithChain(rcron.SkipIfStillRunning(cronLogger)),
	)

	return opts
}
