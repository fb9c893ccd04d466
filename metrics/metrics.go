// Package metrics exports orchestration counters and latencies through
// Prometheus. Recorders are instance scoped so tests can build their own
// registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	orderops "github.com/goliatone/go-orderops"
)

// Recorder receives orchestration observations.
type Recorder interface {
	ObserveAction(action, result string, duration time.Duration)
	ObserveAttempt(operation, result string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveAction(string, string, time.Duration) {}
func (Nop) ObserveAttempt(string, string)               {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	registry *prometheus.Registry
	actions  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
}

// NewPrometheus registers the collectors on a fresh registry.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "orderops"
	}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Order actions by outcome.",
		}, []string{"action", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Order action latency from precondition check to unlock.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoint_attempts_total",
			Help:      "Candidate endpoint attempts by result.",
		}, []string{"operation", "result"}),
	}
	p.registry.MustRegister(p.actions, p.duration, p.attempts)
	return p
}

func (p *Prometheus) ObserveAction(action, result string, duration time.Duration) {
	p.actions.WithLabelValues(action, result).Inc()
	p.duration.WithLabelValues(action).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveAttempt(operation, result string) {
	p.attempts.WithLabelValues(operation, result).Inc()
}

// Registry exposes the underlying registry for scraping or tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Decorator wraps a querier and records one action observation per call.
type Decorator[T any, R any] struct {
	next     orderops.Querier[T, R]
	recorder Recorder
	action   string
	result   func(R, error) string
}

// Decorate wraps next. result maps the call outcome to a label; nil
// falls back to "success"/"error".
func Decorate[T any, R any](next orderops.Querier[T, R], recorder Recorder, action string, result func(R, error) string) *Decorator[T, R] {
	if recorder == nil {
		recorder = Nop{}
	}
	return &Decorator[T, R]{next: next, recorder: recorder, action: action, result: result}
}

func (d *Decorator[T, R]) Query(ctx context.Context, msg T) (R, error) {
	start := time.Now()
	out, err := d.next.Query(ctx, msg)
	label := "success"
	if d.result != nil {
		label = d.result(out, err)
	} else if err != nil {
		label = "error"
	}
	d.recorder.ObserveAction(d.action, label, time.Since(start))
	return out, err
}
