package cron

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderops "github.com/goliatone/go-orderops"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type refreshOrder struct {
	OrderID string
}

func (refreshOrder) Type() string { return "order.refresh" }

func (m refreshOrder) Validate() error {
	if m.OrderID == "" {
		return orderops.ValidationError("order id is required", "order_id")
	}
	return nil
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle did not finish")
	}
}

func TestScheduleAfterCompletesAndReportsStatus(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.ScheduleAfter(30*time.Millisecond, JobConfig{}, func() {
		count.Add(1)
	})
	require.NoError(t, err)

	waitDone(t, handle)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, ScheduleStatusCompleted, handle.Status())
	assert.Equal(t, 1, handle.Runs())
	assert.False(t, handle.LastRun().IsZero())
}

func TestScheduleAtCancelPreventsExecution(t *testing.T) {
	scheduler := NewScheduler()
	var count atomic.Int32

	handle, err := scheduler.ScheduleAt(time.Now().Add(200*time.Millisecond), JobConfig{}, func() {
		count.Add(1)
	})
	require.NoError(t, err)

	handle.Cancel()
	waitDone(t, handle)

	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, count.Load())
	assert.Equal(t, ScheduleStatusCanceled, handle.Status())
}

func TestOneShotFailureIsReported(t *testing.T) {
	var reported atomic.Int32
	scheduler := NewScheduler(WithErrorHandler(func(error) { reported.Add(1) }))

	handle, err := scheduler.ScheduleAfter(0, JobConfig{MaxRetries: 2}, func(context.Context) error {
		return errors.New("backend down")
	})
	require.NoError(t, err)

	waitDone(t, handle)
	assert.Equal(t, ScheduleStatusFailed, handle.Status())
	require.Error(t, handle.Err())
	assert.Equal(t, int32(1), reported.Load())
}

func TestJobTimeoutIsTransportFailure(t *testing.T) {
	scheduler := NewScheduler(WithErrorHandler(func(error) {}))

	handle, err := scheduler.ScheduleAfter(0, JobConfig{Timeout: 20 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	waitDone(t, handle)
	assert.Equal(t, orderops.KindTransport, orderops.KindOf(handle.Err()))
}

func TestPanicIsRecoveredAndLogged(t *testing.T) {
	var out syncBuffer
	scheduler := NewScheduler(
		WithLogger(orderops.NewFmtLogger(&out)),
		WithErrorHandler(func(error) {}),
	)

	handle, err := scheduler.ScheduleAfter(0, JobConfig{Name: "watch"}, func() {
		panic("boom")
	})
	require.NoError(t, err)

	waitDone(t, handle)
	assert.Equal(t, ScheduleStatusFailed, handle.Status())
	assert.Equal(t, orderops.KindApplication, orderops.KindOf(handle.Err()))
	assert.Contains(t, out.String(), "recovered from panic in watch")
}

func TestScheduleCronRunsUntilCanceled(t *testing.T) {
	scheduler := NewScheduler(WithParser(SecondsParser))
	var count atomic.Int32

	handle, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 1s"}, func() {
		count.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop(context.Background())

	require.Eventually(t, func() bool { return count.Load() > 0 }, 2500*time.Millisecond, 20*time.Millisecond)

	handle.Cancel()
	waitDone(t, handle)
	assert.Equal(t, ScheduleStatusCanceled, handle.Status())
	assert.Zero(t, scheduler.Entries())
}

func TestRecurringFailureKeepsSchedule(t *testing.T) {
	scheduler := NewScheduler(WithErrorHandler(func(error) {}))
	var count atomic.Int32

	handle, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 1s"}, func() error {
		count.Add(1)
		return errors.New("refresh failed")
	})
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop(context.Background())

	require.Eventually(t, func() bool { return count.Load() >= 2 }, 3500*time.Millisecond, 20*time.Millisecond)
	assert.False(t, isTerminalStatus(handle.Status()))
	assert.Error(t, handle.Err())
}

func TestAddCommand(t *testing.T) {
	scheduler := NewScheduler()
	seen := make(chan string, 4)

	cmd := orderops.CommandFunc[refreshOrder](func(_ context.Context, msg refreshOrder) error {
		seen <- msg.OrderID
		return nil
	})

	_, err := AddCommand(scheduler, JobConfig{Expression: "@every 1s"}, cmd, refreshOrder{OrderID: "o-7"})
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop(context.Background())

	select {
	case id := <-seen:
		assert.Equal(t, "o-7", id)
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("command was not scheduled")
	}

	_, err = AddCommand(scheduler, JobConfig{Expression: "@every 1s"}, cmd, refreshOrder{})
	assert.Equal(t, orderops.KindValidation, orderops.KindOf(err))
}

func TestSchedulerStopMarksHandleStopped(t *testing.T) {
	scheduler := NewScheduler()
	handle, err := scheduler.ScheduleCron(JobConfig{Expression: "@every 5s"}, func() {})
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Stop(context.Background()))

	waitDone(t, handle)
	assert.Equal(t, ScheduleStatusStopped, handle.Status())
}

func TestScheduleCronValidation(t *testing.T) {
	scheduler := NewScheduler()

	tests := []struct {
		name    string
		cfg     JobConfig
		handler any
	}{
		{"empty expression", JobConfig{}, func() {}},
		{"bad expression", JobConfig{Expression: "every now and then"}, func() {}},
		{"unsupported handler", JobConfig{Expression: "@every 1s"}, struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scheduler.ScheduleCron(tt.cfg, tt.handler)
			require.Error(t, err)
			assert.Equal(t, orderops.KindValidation, orderops.KindOf(err))
		})
	}
}
