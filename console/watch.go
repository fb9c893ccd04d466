package console

import (
	"context"
	"sync"

	"github.com/goliatone/go-orderops/cron"
	"github.com/goliatone/go-orderops/status"
)

// Change is delivered by Watch when the watched order moved.
type Change struct {
	View      View
	Previous  status.Status
	NewEvents int
	First     bool
}

// StatusChanged reports whether the order status differs from the last
// observed one.
func (c Change) StatusChanged() bool {
	return !c.First && c.Previous != c.View.Order.Status
}

// Watch refreshes the order view on schedule and calls onChange for the
// first view and every time the status or the event count changes.
// Refresh failures are left to the scheduler's error handler.
func (c *Console) Watch(s *cron.Scheduler, orderID, schedule string, onChange func(Change)) (cron.Handle, error) {
	if schedule == "" {
		schedule = c.cfg.Watch.Schedule
	}
	msg := GetOrderView{OrderID: orderID}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		seen   bool
		last   status.Status
		events int
	)

	job := cron.Job(func(ctx context.Context) error {
		view, err := Query[GetOrderView, View](ctx, c, msg)
		if err != nil {
			return err
		}

		mu.Lock()
		change := Change{View: view, Previous: last, First: !seen}
		if seen {
			change.NewEvents = len(view.Order.Events) - events
		}
		changed := !seen || last != view.Order.Status || len(view.Order.Events) != events
		seen = true
		last = view.Order.Status
		events = len(view.Order.Events)
		mu.Unlock()

		if changed && onChange != nil {
			onChange(change)
		}
		return nil
	})

	return s.ScheduleCron(cron.JobConfig{
		Name:       "watch " + orderID,
		Expression: schedule,
		Timeout:    c.cfg.Backend.Timeout,
	}, job)
}
