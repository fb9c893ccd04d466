package lock

import (
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

func TestTryAcquireIsSingleFlight(t *testing.T) {
	reg := NewRegistry()
	key := PolicyOrderAction.KeyFor("o-1", "confirm", nil)

	require.True(t, reg.TryAcquire(key))
	assert.False(t, reg.TryAcquire(key))
	assert.True(t, reg.Held(key))

	other := PolicyOrderAction.KeyFor("o-1", "cancel", nil)
	assert.True(t, reg.TryAcquire(other))

	reg.Release(key)
	assert.False(t, reg.Held(key))
	assert.True(t, reg.TryAcquire(key))
}

func TestReleaseUnknownKeyIsNoop(t *testing.T) {
	var events []Event
	reg := NewRegistry(WithObserver(func(evt Event) { events = append(events, evt) }))

	reg.Release(Key{OrderID: "nope", Action: "confirm"})
	assert.Empty(t, events)
}

func TestBusyReportsMostRecentHeldKey(t *testing.T) {
	reg := NewRegistry()
	_, busy := reg.Busy()
	assert.False(t, busy)

	a := Key{OrderID: "o-1", Action: "confirm"}
	b := Key{OrderID: "o-2", Action: "reject"}
	reg.TryAcquire(a)
	reg.TryAcquire(b)

	got, busy := reg.Busy()
	require.True(t, busy)
	assert.Equal(t, b, got)

	reg.Release(b)
	got, _ = reg.Busy()
	assert.Equal(t, a, got)
}

func TestSnapshotOrderedByAcquisition(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	reg := NewRegistry(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	reg.TryAcquire(Key{OrderID: "o-2", Action: "cancel"})
	reg.TryAcquire(Key{OrderID: "o-1", Action: "confirm"})

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "o-2", snap[0].Key.OrderID)
	assert.Equal(t, "o-1", snap[1].Key.OrderID)
}

func TestObserverSeesAcquireAndRelease(t *testing.T) {
	var events []Event
	reg := NewRegistry(WithObserver(func(evt Event) { events = append(events, evt) }))
	key := Key{OrderID: "o-1", Action: "confirm"}

	reg.TryAcquire(key)
	reg.TryAcquire(key)
	reg.Release(key)

	require.Len(t, events, 2)
	assert.True(t, events[0].Acquired)
	assert.Equal(t, 1, events[0].Held)
	assert.False(t, events[1].Acquired)
	assert.Equal(t, 0, events[1].Held)
}

func TestResetClearsState(t *testing.T) {
	reg := NewRegistry()
	key := Key{OrderID: "o-1", Action: "confirm"}
	reg.TryAcquire(key)

	reg.Reset()

	assert.False(t, reg.Held(key))
	assert.Empty(t, reg.Snapshot())
	_, busy := reg.Busy()
	assert.False(t, busy)
}

func TestWithLockReleasesOnError(t *testing.T) {
	reg := NewRegistry()
	key := Key{OrderID: "o-1", Action: "confirm"}
	boom := errors.New("boom")

	err := WithLock(context.Background(), reg, key, func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.False(t, reg.Held(key))
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	reg := NewRegistry()
	key := Key{OrderID: "o-1", Action: "confirm"}

	assert.Panics(t, func() {
		_ = WithLock(context.Background(), reg, key, func(context.Context) error { panic("bad") })
	})
	assert.False(t, reg.Held(key))
}

func TestWithLockContentionSkipsFn(t *testing.T) {
	reg := NewRegistry()
	key := Key{OrderID: "o-1", Action: "confirm"}
	require.True(t, reg.TryAcquire(key))

	called := false
	err := WithLock(context.Background(), reg, key, func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, orderops.KindLockContention, orderops.KindOf(err))
	assert.True(t, reg.Held(key), "contention must not release the owner's key")
}

func TestWithLockConcurrentCallers(t *testing.T) {
	reg := NewRegistry()
	key := Key{OrderID: "o-1", Action: "confirm"}

	var calls atomic.Int32
	entered := make(chan struct{})
	proceed := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = WithLock(context.Background(), reg, key, func(context.Context) error {
			calls.Add(1)
			close(entered)
			<-proceed
			return nil
		})
	}()

	<-entered
	results[1] = WithLock(context.Background(), reg, key, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	close(proceed)
	wg.Wait()

	assert.NoError(t, results[0])
	assert.Equal(t, orderops.KindLockContention, orderops.KindOf(results[1]))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, reg.Held(key))
}
