// Package endpoint probes ordered candidate request shapes for one logical
// backend operation. A 404 means "wrong guess, try the next shape"; any
// other non-2xx answer means "right endpoint, real error" and stops.
package endpoint

import (
	"net/http"
	"strings"
	"time"
)

// Candidate is one request shape that might serve an operation.
type Candidate struct {
	Name   string
	Method string
	Target string
	Header http.Header
	Body   any
}

// Label names the candidate for logs and attempt records.
func (c Candidate) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.ToUpper(c.Method) + " " + c.Target
}

// Result classifies one candidate attempt.
type Result string

const (
	ResultTransport Result = "transport"
	ResultNotFound  Result = "not_found"
	ResultSuccess   Result = "success"
	ResultFailure   Result = "failure"
)

// Attempt records what happened to one candidate.
type Attempt struct {
	Candidate  string        `json:"candidate"`
	Method     string        `json:"method"`
	Target     string        `json:"target"`
	Result     Result        `json:"result"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Response is the outcome of Execute. Attempts is filled on success and
// on failure.
type Response struct {
	Candidate  Candidate
	StatusCode int
	Body       map[string]any
	Raw        []byte
	Attempts   []Attempt
}

// Called reports whether candidate name was tried.
func (r *Response) Called(name string) bool {
	if r == nil {
		return false
	}
	for _, a := range r.Attempts {
		if a.Candidate == name {
			return true
		}
	}
	return false
}
