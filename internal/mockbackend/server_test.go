package mockbackend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, target, key string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestTransitionFollowsPolicy(t *testing.T) {
	srv := New(WithOrders(SeedOrder{ID: "o-1", Status: "pending"}))

	rec, _ := do(t, srv, http.MethodPost, "/orders/o-1/confirm", "k1", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", srv.Status("o-1"))

	rec, body := do(t, srv, http.MethodPost, "/orders/o-1/confirm", "k2", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "cannot move order")
}

func TestIdempotentReplay(t *testing.T) {
	srv := New(WithOrders(SeedOrder{ID: "o-1", Status: "PLACED"}))

	first, _ := do(t, srv, http.MethodPost, "/orders/o-1/confirm", "same", map[string]any{})
	second, _ := do(t, srv, http.MethodPost, "/orders/o-1/confirm", "same", map[string]any{})

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 2, srv.Calls("status-action"))
}

func TestDisabledAndFailingRoutes(t *testing.T) {
	srv := New(
		WithOrders(SeedOrder{ID: "o-1", Status: "PLACED"}),
		WithDisabled("reject-dedicated"),
	)
	srv.Fail("apology-order", http.StatusBadGateway, map[string]any{"message": "mailer down"})

	rec, _ := do(t, srv, http.MethodPost, "/orders/o-1/reject", "k", map[string]any{"reasons": []string{"x"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := do(t, srv, http.MethodPost, "/orders/o-1/apology", "k", map[string]any{"message": "sorry"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "mailer down", body["message"])
}

func TestPatchDispatch(t *testing.T) {
	srv := New(WithOrders(SeedOrder{ID: "o-1", Status: "PLACED"}))

	rec, _ := do(t, srv, http.MethodPatch, "/orders/o-1", "k1", map[string]any{"elevatedOverride": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.Calls("override-patch"))

	rec, _ = do(t, srv, http.MethodPatch, "/orders/o-1", "k2", map[string]any{"action": "reject", "reasons": []string{"x"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.Calls("reject-patch"))
	assert.Equal(t, "CANCELLED", srv.Status("o-1"))
}

func TestGenericNotificationChannels(t *testing.T) {
	srv := New(WithOrders(SeedOrder{ID: "o-1", Status: "PLACED"}))

	do(t, srv, http.MethodPost, "/notifications", "k1", map[string]any{"orderId": "o-1", "channel": "email"})
	do(t, srv, http.MethodPost, "/notifications", "k2", map[string]any{"orderId": "o-1", "channel": "in_app"})

	assert.Equal(t, 1, srv.Calls("apology-notification"))
	assert.Equal(t, 1, srv.Calls("inapp-notification"))
	require.Len(t, srv.Deliveries(), 2)
	assert.Equal(t, "email", srv.Deliveries()[0].Body["channel"])
}

func TestAppendEventAndRender(t *testing.T) {
	srv := New(WithOrders(SeedOrder{ID: "o-1", Number: "1001", Status: "PLACED", CustomerID: "c-1"}))

	rec, _ := do(t, srv, http.MethodPost, "/orders/o-1/events", "k", map[string]any{"kind": "NOTE", "message": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := do(t, srv, http.MethodGet, "/orders/o-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "1001", data["orderNumber"])
	events := data["events"].([]any)
	require.Len(t, events, 1)
	assert.Len(t, events[0].(map[string]any)["id"], 26)
}
