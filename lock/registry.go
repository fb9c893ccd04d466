// Package lock provides the process-local single-flight registry that keeps
// one order action from being submitted twice while it is in flight.
// Contention is refused, never queued.
package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	orderops "github.com/goliatone/go-orderops"
)

// Registry is a set of held keys.
type Registry interface {
	TryAcquire(key Key) bool
	Release(key Key)
	Held(key Key) bool
	Busy() (Key, bool)
	Snapshot() []Entry
}

// Entry describes one held key.
type Entry struct {
	Key        Key       `json:"key"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Event is delivered to observers on acquire and release.
type Event struct {
	Key      Key
	Acquired bool
	Held     int
}

// Observer receives registry changes. Observers run synchronously and
// must not call back into the registry.
type Observer func(Event)

// Option configures a MemoryRegistry.
type Option func(*MemoryRegistry)

// WithObserver registers fn for acquire and release events.
func WithObserver(fn Observer) Option {
	return func(r *MemoryRegistry) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// WithClock overrides the acquisition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *MemoryRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// MemoryRegistry is the in-memory Registry. The zero value is not usable,
// use NewRegistry.
type MemoryRegistry struct {
	mu        sync.Mutex
	held      map[Key]Entry
	order     []Key
	observers []Observer
	now       func() time.Time
}

func NewRegistry(opts ...Option) *MemoryRegistry {
	r := &MemoryRegistry{
		held: make(map[Key]Entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// TryAcquire marks key as held. It returns false without blocking when
// the key is already held.
func (r *MemoryRegistry) TryAcquire(key Key) bool {
	r.mu.Lock()
	if _, ok := r.held[key]; ok {
		r.mu.Unlock()
		return false
	}
	r.held[key] = Entry{Key: key, AcquiredAt: r.now()}
	r.order = append(r.order, key)
	held := len(r.held)
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Event{Key: key, Acquired: true, Held: held})
	return true
}

// Release drops key. Releasing a key that is not held is a no-op.
func (r *MemoryRegistry) Release(key Key) {
	r.mu.Lock()
	if _, ok := r.held[key]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.held, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	held := len(r.held)
	observers := r.observers
	r.mu.Unlock()

	notify(observers, Event{Key: key, Acquired: false, Held: held})
}

func (r *MemoryRegistry) Held(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

// Busy returns the most recently acquired key that is still held.
func (r *MemoryRegistry) Busy() (Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return Key{}, false
	}
	return r.order[len(r.order)-1], true
}

// Snapshot lists held keys oldest first.
func (r *MemoryRegistry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.held))
	for _, entry := range r.held {
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].Key.String() < out[j].Key.String()
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}

// Reset drops every held key without notifying observers.
func (r *MemoryRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = make(map[Key]Entry)
	r.order = nil
}

func notify(observers []Observer, evt Event) {
	for _, fn := range observers {
		fn(evt)
	}
}

// WithLock runs fn while holding key. On contention it returns
// ErrAlreadyRunning without calling fn. The key is released on every exit
// path, panics included.
func WithLock(ctx context.Context, reg Registry, key Key, fn func(context.Context) error) error {
	if reg == nil {
		return orderops.NewError(orderops.ErrValidation, "lock registry required", nil, nil)
	}
	if !reg.TryAcquire(key) {
		return orderops.NewError(orderops.ErrAlreadyRunning, "", nil, map[string]any{
			"order_id": key.OrderID,
			"action":   key.Action,
		})
	}
	defer reg.Release(key)
	return fn(ctx)
}
