package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/config"
	"github.com/goliatone/go-orderops/console"
	"github.com/goliatone/go-orderops/internal/mockbackend"
	"github.com/goliatone/go-orderops/permission"
)

func newServer(t *testing.T, mock *mockbackend.Server, edit func(*config.Config)) *Server {
	t.Helper()
	backend := httptest.NewServer(mock)
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = backend.URL
	cfg.Backend.Timeout = 2 * time.Second
	if edit != nil {
		edit(&cfg)
	}

	c, err := console.New(cfg, console.WithLogger(orderops.NewFmtLogger(&bytes.Buffer{})))
	require.NoError(t, err)
	return New(c)
}

func placed() mockbackend.SeedOrder {
	return mockbackend.SeedOrder{
		ID: "o-1", Number: "1001", Status: "PLACED",
		CustomerID: "c-1", CustomerEmail: "ada@example.com",
		Total: 42.5, Currency: "EUR",
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

var operatorHeaders = map[string]string{
	HeaderActorID:      "op-1",
	HeaderActorRoles:   "operator",
	HeaderCapabilities: "*",
}

func TestGetOrder(t *testing.T) {
	srv := newServer(t, mockbackend.New(mockbackend.WithOrders(placed())), nil)

	rec, body := do(t, srv, http.MethodGet, "/orders/o-1", "", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := body["Order"].(map[string]any)
	assert.Equal(t, "o-1", order["id"])
	assert.Equal(t, "PLACED", order["status"])
	assert.Contains(t, body["Actions"], "confirm")
}

func TestGetOrderNotFound(t *testing.T) {
	srv := newServer(t, mockbackend.New(), nil)

	rec, body := do(t, srv, http.MethodGet, "/orders/missing", "", nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(orderops.KindApplication), body["kind"])
	assert.NotEmpty(t, body["request_id"])
}

func TestConfirmAction(t *testing.T) {
	mock := mockbackend.New(mockbackend.WithOrders(placed()))
	srv := newServer(t, mock, nil)

	rec, body := do(t, srv, http.MethodPost, "/orders/o-1/actions/confirm", `{"note":"stock checked"}`, operatorHeaders)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := body["report"].(map[string]any)
	assert.Equal(t, "success", report["type"])
	assert.Equal(t, "order-o-1-confirm", report["anchor"])
	assert.NotEmpty(t, body["idempotency_key"])
	assert.Equal(t, "CONFIRMED", mock.Status("o-1"))
}

func TestActionStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		headers map[string]string
		edit    func(*config.Config)
		want    int
		kind    orderops.ErrorKind
	}{
		{
			name:    "invalid transition",
			path:    "/orders/o-1/actions/complete",
			headers: operatorHeaders,
			want:    http.StatusUnprocessableEntity,
			kind:    orderops.KindValidation,
		},
		{
			name:    "note without text",
			path:    "/orders/o-1/actions/note",
			body:    `{}`,
			headers: operatorHeaders,
			want:    http.StatusUnprocessableEntity,
			kind:    orderops.KindValidation,
		},
		{
			name: "permission denied when failing closed",
			path: "/orders/o-1/actions/confirm",
			edit: func(cfg *config.Config) { cfg.Permissions.FailOpen = false },
			want: http.StatusForbidden,
			kind: orderops.KindPermissionDenied,
		},
		{
			name:    "unknown action",
			path:    "/orders/o-1/actions/teleport",
			headers: operatorHeaders,
			want:    http.StatusUnprocessableEntity,
			kind:    orderops.KindValidation,
		},
		{
			name:    "unknown body field",
			path:    "/orders/o-1/actions/confirm",
			body:    `{"colour":"blue"}`,
			headers: operatorHeaders,
			want:    http.StatusUnprocessableEntity,
			kind:    orderops.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := mockbackend.New(mockbackend.WithOrders(placed()))
			srv := newServer(t, mock, tt.edit)

			rec, body := do(t, srv, http.MethodPost, tt.path, tt.body, tt.headers)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			kind := body["kind"]
			if report, ok := body["report"].(map[string]any); ok {
				kind = report["kind"]
			}
			assert.Equal(t, string(tt.kind), kind)
			assert.Zero(t, mock.MutatingCalls())
		})
	}
}

func TestReject(t *testing.T) {
	mock := mockbackend.New(mockbackend.WithOrders(placed()))
	srv := newServer(t, mock, nil)

	rec, body := do(t, srv, http.MethodPost, "/orders/o-1/reject",
		`{"reasons":["R01"],"note":"internal only","send_in_app":false}`, operatorHeaders)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := body["report"].(map[string]any)
	assert.NotEqual(t, "error", report["type"])
	assert.Equal(t, "CANCELLED", mock.Status("o-1"))
	assert.Len(t, mock.Deliveries(), 1)
}

func TestRejectRequiresReason(t *testing.T) {
	mock := mockbackend.New(mockbackend.WithOrders(placed()))
	srv := newServer(t, mock, nil)

	rec, body := do(t, srv, http.MethodPost, "/orders/o-1/reject", `{"reasons":[]}`, operatorHeaders)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(orderops.KindValidation), body["report"].(map[string]any)["kind"])
	assert.Equal(t, "PLACED", mock.Status("o-1"))
	assert.Zero(t, mock.Calls("order-expanded"))
}

func TestTrailText(t *testing.T) {
	mock := mockbackend.New(mockbackend.WithOrders(placed()))
	srv := newServer(t, mock, nil)

	rec, _ := do(t, srv, http.MethodPost, "/orders/o-1/actions/note", `{"text":"called customer"}`, operatorHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := do(t, srv, http.MethodGet, "/orders/o-1/trail", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["entries"])

	rec, _ = do(t, srv, http.MethodGet, "/orders/o-1/trail?format=text", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "called customer")
}

func TestReasonsAndBusy(t *testing.T) {
	srv := newServer(t, mockbackend.New(), nil)

	rec, body := do(t, srv, http.MethodGet, "/rejection/reasons", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reasons := body["reasons"].([]any)
	require.NotEmpty(t, reasons)
	assert.Equal(t, "R01", reasons[0].(map[string]any)["code"])

	rec, body = do(t, srv, http.MethodGet, "/busy", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["busy"])
}

func TestMetricsRoute(t *testing.T) {
	srv := newServer(t, mockbackend.New(mockbackend.WithOrders(placed())), nil)
	do(t, srv, http.MethodGet, "/orders/o-1", "", nil)

	rec, _ := do(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orderops_actions_total")

	off := newServer(t, mockbackend.New(), func(cfg *config.Config) { cfg.Metrics.Enabled = false })
	rec, _ = do(t, off, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(orderops.KindNone))
	assert.Equal(t, http.StatusConflict, StatusFor(orderops.KindLockContention))
	assert.Equal(t, http.StatusBadGateway, StatusFor(orderops.KindTransport))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(orderops.KindUnknown))
}

func TestPrincipalHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "op-9")
	req.Header.Set(HeaderActorRoles, "viewer, operator")
	req.Header.Set(HeaderCapabilities, "order.confirm,order.reject")

	p := principalFrom(req)
	assert.Equal(t, "op-9", p.ActorID)
	assert.Equal(t, permission.RoleOperator, p.Role)
	assert.True(t, p.Has("order.reject"))
}
