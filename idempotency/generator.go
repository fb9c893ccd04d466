// Package idempotency issues the keys attached to every mutating backend
// request so the backend can drop duplicate deliveries of one attempt.
package idempotency

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultScope = "order"

// Generator creates keys of the form "<scope>:<uuid>". When the random
// source fails it falls back to "<scope>:<nanos>-<random>-<counter>", which
// is still unique within the process.
type Generator struct {
	reader  io.Reader
	now     func() time.Time
	counter atomic.Uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithReader replaces the secure random source.
func WithReader(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.reader = r
		}
	}
}

// WithClock replaces the fallback timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		reader: rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// NewKey returns a fresh key for one user initiated attempt.
func (g *Generator) NewKey(scope string) string {
	scope = normalizeScope(scope)
	id, err := uuid.NewRandomFromReader(g.reader)
	if err == nil {
		return scope + ":" + id.String()
	}
	return scope + ":" + g.fallback()
}

func (g *Generator) fallback() string {
	n := g.counter.Add(1)
	var b strings.Builder
	b.WriteString(strconv.FormatInt(g.now().UnixNano(), 16))
	b.WriteByte('-')
	buf := make([]byte, 6)
	if _, err := io.ReadFull(g.reader, buf); err == nil {
		b.WriteString(hex.EncodeToString(buf))
	} else {
		b.WriteString(strconv.FormatUint(uint64(time.Now().UnixNano())^n*0x9e3779b97f4a7c15, 16))
	}
	b.WriteByte('-')
	b.WriteString(strconv.FormatUint(n, 10))
	return b.String()
}

func normalizeScope(scope string) string {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return defaultScope
	}
	return strings.ReplaceAll(scope, ":", ".")
}

// Attempt pins one key to a logical attempt. Internal retries of the same
// attempt reuse Key; a new user action needs a new Attempt.
type Attempt struct {
	Scope   string
	Key     string
	Retries int
}

// NewAttempt issues the key for one attempt.
func (g *Generator) NewAttempt(scope string) *Attempt {
	return &Attempt{Scope: normalizeScope(scope), Key: g.NewKey(scope)}
}

// Retry records an internal retry and returns the unchanged key.
func (a *Attempt) Retry() string {
	a.Retries++
	return a.Key
}
