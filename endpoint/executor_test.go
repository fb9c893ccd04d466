package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/runner"
)

type scripted struct {
	status int
	body   any
	delay  time.Duration
}

type backend struct {
	mu      sync.Mutex
	routes  map[string]scripted
	calls   []string
	headers []http.Header
}

func newBackend(t *testing.T, routes map[string]scripted) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		b.mu.Lock()
		b.calls = append(b.calls, key)
		b.headers = append(b.headers, r.Header.Clone())
		route, ok := b.routes[key]
		b.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if route.delay > 0 {
			time.Sleep(route.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(route.status)
		if route.body != nil {
			_ = json.NewEncoder(w).Encode(route.body)
		}
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) called() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

func candidates() []Candidate {
	return []Candidate{
		{Name: "A", Method: http.MethodPost, Target: "/a", Body: map[string]any{"x": 1}},
		{Name: "B", Method: http.MethodPost, Target: "/b", Body: map[string]any{"x": 1}},
		{Name: "C", Method: http.MethodPost, Target: "/c", Body: map[string]any{"x": 1}},
	}
}

type attemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *attemptCounter) ObserveAttempt(operation, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[operation+"/"+result]++
}

func TestExecuteStopsOnRealError(t *testing.T) {
	b, srv := newBackend(t, map[string]scripted{
		"POST /b": {status: http.StatusInternalServerError, body: map[string]any{"message": "ledger offline"}},
		"POST /c": {status: http.StatusOK, body: map[string]any{"ok": true}},
	})
	exec := NewExecutor(WithBaseURL(srv.URL))

	resp, err := exec.Execute(context.Background(), "reject", candidates())

	require.Error(t, err)
	assert.Equal(t, orderops.KindApplication, orderops.KindOf(err))
	assert.Contains(t, err.Error(), "ledger offline")
	assert.Equal(t, []string{"POST /a", "POST /b"}, b.called())
	assert.False(t, resp.Called("C"))
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, ResultNotFound, resp.Attempts[0].Result)
	assert.Equal(t, ResultFailure, resp.Attempts[1].Result)
	assert.Equal(t, http.StatusInternalServerError, resp.Attempts[1].StatusCode)
}

func TestExecuteSkipsNotFoundUntilSuccess(t *testing.T) {
	b, srv := newBackend(t, map[string]scripted{
		"POST /c": {status: http.StatusOK, body: map[string]any{"id": "o-1", "status": "CANCELLED"}},
	})
	counter := &attemptCounter{}
	exec := NewExecutor(WithBaseURL(srv.URL), WithRecorder(counter))

	resp, err := exec.Execute(context.Background(), "reject", candidates())

	require.NoError(t, err)
	assert.Equal(t, "C", resp.Candidate.Name)
	assert.Equal(t, "o-1", resp.Body["id"])
	assert.Equal(t, []string{"POST /a", "POST /b", "POST /c"}, b.called())
	assert.Equal(t, 2, counter.counts["reject/not_found"])
	assert.Equal(t, 1, counter.counts["reject/success"])
}

func TestExecuteTreatsFailureFlagAsError(t *testing.T) {
	b, srv := newBackend(t, map[string]scripted{
		"POST /a": {status: http.StatusOK, body: map[string]any{"success": false, "error": "order locked"}},
		"POST /b": {status: http.StatusOK, body: map[string]any{"ok": true}},
	})
	exec := NewExecutor(WithBaseURL(srv.URL))

	_, err := exec.Execute(context.Background(), "confirm", candidates())

	require.Error(t, err)
	assert.Equal(t, orderops.KindApplication, orderops.KindOf(err))
	assert.Contains(t, err.Error(), "order locked")
	assert.Equal(t, []string{"POST /a"}, b.called())
}

func TestExecuteTransportFailureTriesNext(t *testing.T) {
	b, srv := newBackend(t, map[string]scripted{
		"POST /b": {status: http.StatusOK, body: map[string]any{"ok": true}},
	})
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	exec := NewExecutor(WithBaseURL(srv.URL))
	list := candidates()
	list[0].Target = deadURL + "/a"

	resp, err := exec.Execute(context.Background(), "confirm", list)

	require.NoError(t, err)
	assert.Equal(t, "B", resp.Candidate.Name)
	assert.Equal(t, ResultTransport, resp.Attempts[0].Result)
	assert.Equal(t, []string{"POST /b"}, b.called())
}

func TestExecuteTimeoutTriesNext(t *testing.T) {
	_, srv := newBackend(t, map[string]scripted{
		"POST /a": {status: http.StatusOK, body: map[string]any{"ok": true}, delay: 200 * time.Millisecond},
		"POST /b": {status: http.StatusOK, body: map[string]any{"ok": true}},
	})
	exec := NewExecutor(
		WithBaseURL(srv.URL),
		WithRunner(runner.NewHandler(runner.WithTimeout(30*time.Millisecond))),
	)

	resp, err := exec.Execute(context.Background(), "confirm", candidates())

	require.NoError(t, err)
	assert.Equal(t, "B", resp.Candidate.Name)
	assert.Equal(t, ResultTransport, resp.Attempts[0].Result)
}

func TestExecuteAllNotFound(t *testing.T) {
	_, srv := newBackend(t, nil)
	exec := NewExecutor(WithBaseURL(srv.URL))

	resp, err := exec.Execute(context.Background(), "apology", candidates())

	require.Error(t, err)
	assert.Equal(t, orderops.CodeEndpointNotFound, orderops.ErrorCode(err))
	assert.Len(t, resp.Attempts, 3)
}

func TestExecuteNoCandidates(t *testing.T) {
	exec := NewExecutor()
	_, err := exec.Execute(context.Background(), "apology", nil)
	assert.Equal(t, orderops.CodeEndpointNotFound, orderops.ErrorCode(err))
}

func TestExecuteCancelledContextStopsProbing(t *testing.T) {
	b, srv := newBackend(t, nil)
	exec := NewExecutor(WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, "confirm", candidates())

	require.Error(t, err)
	assert.Equal(t, orderops.KindTransport, orderops.KindOf(err))
	assert.Empty(t, b.called())
}

func TestExecuteSendsHeadersAndTraceContext(t *testing.T) {
	b, srv := newBackend(t, map[string]scripted{
		"POST /a": {status: http.StatusCreated, body: map[string]any{"id": "e-1"}},
	})
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	exec := NewExecutor(
		WithBaseURL(srv.URL+"/"),
		WithBearerToken("secret"),
		WithTracerProvider(tp),
		WithPropagator(propagation.TraceContext{}),
	)
	list := candidates()
	list[0].Header = http.Header{"Idempotency-Key": []string{"confirm:abc"}}

	_, err := exec.Execute(context.Background(), "confirm", list)
	require.NoError(t, err)

	require.Len(t, b.headers, 1)
	h := b.headers[0]
	assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	assert.Equal(t, "confirm:abc", h.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.NotEmpty(t, h.Get("traceparent"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "endpoint.candidate", spans[0].Name())
	assert.Equal(t, "endpoint.confirm", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
