package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/alias"
	"github.com/goliatone/go-orderops/runner"
)

const (
	tracerName   = "github.com/goliatone/go-orderops/endpoint"
	maxBodyBytes = 1 << 20
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// AttemptRecorder observes every candidate attempt.
type AttemptRecorder interface {
	ObserveAttempt(operation, result string)
}

// Option configures an Executor.
type Option func(*Executor)

func WithHTTPClient(client Doer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithBaseURL resolves relative candidate targets against base.
func WithBaseURL(base string) Option {
	return func(e *Executor) {
		e.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(e *Executor) {
		if key != "" && value != "" {
			e.header.Set(key, value)
		}
	}
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", bearer(token))
}

// WithRunner sets the per-candidate timeout and retry policy.
func WithRunner(r *runner.Handler) Option {
	return func(e *Executor) {
		if r != nil {
			e.runner = r
		}
	}
}

func WithLogger(l orderops.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(e *Executor) {
		if p != nil {
			e.propagator = p
		}
	}
}

func WithRecorder(r AttemptRecorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// Executor runs the fallback protocol over candidates.
type Executor struct {
	client     Doer
	baseURL    string
	header     http.Header
	runner     *runner.Handler
	logger     orderops.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	recorder   AttemptRecorder
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		client: &http.Client{},
		header: http.Header{},
		runner: runner.NewHandler(
			runner.WithTimeout(10*time.Second),
			runner.WithRetryIf(runner.TransportOnly),
		),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = orderops.NormalizeLogger(e.logger)
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.propagator == nil {
		e.propagator = otel.GetTextMapPropagator()
	}
	return e
}

// Execute tries candidates in order and returns the first real success.
// Transport failures and 404s move on to the next candidate. Any other
// answer stops probing: the remaining candidates are never called.
func (e *Executor) Execute(ctx context.Context, operation string, candidates []Candidate) (*Response, error) {
	ctx, span := e.tracer.Start(ctx, "endpoint."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("orderops.operation", operation),
		attribute.Int("orderops.candidates", len(candidates)),
	)

	logger := orderops.WithLoggerFields(e.logger.WithContext(ctx), map[string]any{"operation": operation})
	resp := &Response{}

	if len(candidates) == 0 {
		err := orderops.NewError(orderops.ErrEndpointNotFound, "no candidate endpoints for "+operation, nil, nil)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}

	var lastTransport error
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			lastTransport = orderops.NewError(orderops.ErrTransport, "request aborted", err, nil)
			break
		}

		attempt, result, err := e.try(ctx, operation, i, candidate)
		resp.Attempts = append(resp.Attempts, attempt)
		e.observe(operation, attempt.Result)

		switch attempt.Result {
		case ResultSuccess:
			resp.Candidate = candidate
			resp.StatusCode = result.status
			resp.Body = result.body
			resp.Raw = result.raw
			span.SetAttributes(attribute.String("orderops.candidate", candidate.Label()))
			span.SetStatus(codes.Ok, "")
			logger.Debug("%s served by %s", operation, candidate.Label())
			return resp, nil
		case ResultNotFound:
			logger.Debug("%s not served by %s", operation, candidate.Label())
			continue
		case ResultTransport:
			lastTransport = err
			logger.Warn("%s transport failure on %s: %v", operation, candidate.Label(), err)
			continue
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("%s failed on %s: %v", operation, candidate.Label(), err)
			return resp, err
		}
	}

	var err error
	if lastTransport != nil {
		err = orderops.NewError(orderops.ErrTransport,
			fmt.Sprintf("%s unreachable: %v", operation, lastTransport), lastTransport,
			map[string]any{"attempts": len(resp.Attempts)})
	} else {
		err = orderops.NewError(orderops.ErrEndpointNotFound,
			fmt.Sprintf("no endpoint serves %s", operation), nil,
			map[string]any{"attempts": len(resp.Attempts)})
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return resp, err
}

type callResult struct {
	status int
	body   map[string]any
	raw    []byte
}

func (e *Executor) try(ctx context.Context, operation string, index int, candidate Candidate) (Attempt, callResult, error) {
	ctx, span := e.tracer.Start(ctx, "endpoint.candidate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target := e.resolve(candidate.Target)
	method := strings.ToUpper(strings.TrimSpace(candidate.Method))
	if method == "" {
		method = http.MethodGet
	}
	span.SetAttributes(
		attribute.String("orderops.operation", operation),
		attribute.String("orderops.candidate", candidate.Label()),
		attribute.Int("orderops.candidate_index", index),
		attribute.String("http.method", method),
		attribute.String("http.url", target),
	)

	attempt := Attempt{Candidate: candidate.Label(), Method: method, Target: target}
	started := time.Now()

	var result callResult
	err := e.runner.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = e.send(ctx, method, target, candidate)
		return err
	})
	attempt.Duration = time.Since(started)
	attempt.StatusCode = result.status
	span.SetAttributes(attribute.Int("http.status_code", result.status))

	if err != nil {
		attempt.Result = ResultTransport
		if orderops.KindOf(err) != orderops.KindTransport {
			attempt.Result = ResultFailure
		}
		attempt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return attempt, result, err
	}

	switch {
	case result.status == http.StatusNotFound:
		attempt.Result = ResultNotFound
		return attempt, result, nil
	case result.status >= 200 && result.status < 300:
		if failed, msg := alias.FailureFlag(result.body); failed {
			if msg == "" {
				msg = "backend reported failure"
			}
			err = orderops.NewError(orderops.ErrApplication, msg, nil, map[string]any{
				"operation":   operation,
				"candidate":   candidate.Label(),
				"status_code": result.status,
			})
			attempt.Result = ResultFailure
			attempt.Error = err.Error()
			span.SetStatus(codes.Error, msg)
			return attempt, result, err
		}
		attempt.Result = ResultSuccess
		return attempt, result, nil
	default:
		msg := alias.Message(result.body)
		if msg == "" {
			msg = fmt.Sprintf("%s returned %d %s", candidate.Label(), result.status, http.StatusText(result.status))
		}
		err = orderops.NewError(orderops.ErrApplication, msg, nil, map[string]any{
			"operation":   operation,
			"candidate":   candidate.Label(),
			"status_code": result.status,
		})
		attempt.Result = ResultFailure
		attempt.Error = err.Error()
		span.SetStatus(codes.Error, msg)
		return attempt, result, err
	}
}

func (e *Executor) send(ctx context.Context, method, target string, candidate Candidate) (callResult, error) {
	var body io.Reader
	if candidate.Body != nil {
		raw, err := json.Marshal(candidate.Body)
		if err != nil {
			return callResult{}, orderops.NewError(orderops.ErrValidation, "encode request body", err, nil)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return callResult{}, orderops.NewError(orderops.ErrTransport, "build request", err, nil)
	}
	for key, values := range e.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, values := range candidate.Header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	e.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := e.client.Do(req)
	if err != nil {
		return callResult{}, orderops.NewError(orderops.ErrTransport, "request failed", err, map[string]any{
			"target": target,
		})
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return callResult{status: res.StatusCode}, orderops.NewError(orderops.ErrTransport, "read response", err, nil)
	}
	out := callResult{status: res.StatusCode, raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			switch v := decoded.(type) {
			case map[string]any:
				out.body = v
			case []any:
				out.body = map[string]any{"data": v}
			}
		}
	}
	return out, nil
}

func (e *Executor) resolve(target string) string {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || e.baseURL == "" {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return e.baseURL + target
}

func (e *Executor) observe(operation string, result Result) {
	if e.recorder != nil {
		e.recorder.ObserveAttempt(operation, string(result))
	}
}

func bearer(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return token
	}
	return "Bearer " + token
}
