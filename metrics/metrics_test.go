package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderops "github.com/goliatone/go-orderops"
)

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus("")

	p.ObserveAction("confirm", "success", 20*time.Millisecond)
	p.ObserveAction("confirm", "success", 10*time.Millisecond)
	p.ObserveAction("reject", "warning", time.Millisecond)
	p.ObserveAttempt("reject", "not_found")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.actions.WithLabelValues("confirm", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.actions.WithLabelValues("reject", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.attempts.WithLabelValues("reject", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.duration))
}

func TestHandlerServesMetrics(t *testing.T) {
	p := NewPrometheus("orderops")
	p.ObserveAttempt("confirm", "success")

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `orderops_endpoint_attempts_total{operation="confirm",result="success"} 1`)
}

type spy struct {
	actions []string
}

func (s *spy) ObserveAction(action, result string, _ time.Duration) {
	s.actions = append(s.actions, action+"/"+result)
}

func (s *spy) ObserveAttempt(string, string) {}

func TestDecorator(t *testing.T) {
	rec := &spy{}
	q := orderops.QueryFunc[string, int](func(_ context.Context, msg string) (int, error) {
		if msg == "bad" {
			return 0, errors.New("boom")
		}
		return len(msg), nil
	})
	d := Decorate[string, int](q, rec, "note", nil)

	n, err := d.Query(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = d.Query(context.Background(), "bad")
	require.Error(t, err)

	assert.Equal(t, []string{"note/success", "note/error"}, rec.actions)
}
