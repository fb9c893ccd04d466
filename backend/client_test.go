package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/endpoint"
	"github.com/goliatone/go-orderops/internal/mockbackend"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/status"
)

func newClient(t *testing.T, mock *mockbackend.Server) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)
	return NewHTTPClient(endpoint.NewExecutor(endpoint.WithBaseURL(srv.URL), endpoint.WithBearerToken("t")))
}

func seeded() *mockbackend.Server {
	return mockbackend.New(mockbackend.WithOrders(mockbackend.SeedOrder{
		ID:            "o-1",
		Number:        "1001",
		Status:        "pending",
		CustomerID:    "c-1",
		CustomerEmail: "ada@example.com",
		Total:         25,
		Currency:      "EUR",
	}))
}

func TestGetOrderFallsBackToQueryShape(t *testing.T) {
	mock := seeded()
	mock.Disable("order-expanded")
	client := newClient(t, mock)

	o, err := client.GetOrder(context.Background(), "o-1")

	require.NoError(t, err)
	assert.Equal(t, "o-1", o.ID)
	assert.Equal(t, status.Placed, o.Status)
	assert.Equal(t, "ada@example.com", o.Customer.Email)
	assert.Equal(t, 1, mock.Calls("order-query"))
}

func TestMutateStatusUsesPatchWhenActionRouteMissing(t *testing.T) {
	mock := seeded()
	mock.Disable("status-action")
	client := newClient(t, mock)

	res, err := client.MutateStatus(context.Background(), StatusRequest{
		OrderID: "o-1", Action: ActionConfirm, IdempotencyKey: "confirm:1",
	})

	require.NoError(t, err)
	assert.Equal(t, "status-patch", res.Candidate)
	require.NotNil(t, res.Order)
	assert.Equal(t, status.Confirmed, res.Order.Status)
	assert.Len(t, res.Attempts, 2)
}

func TestMutateStatusConflictIsApplicationFailure(t *testing.T) {
	mock := seeded()
	client := newClient(t, mock)

	_, err := client.MutateStatus(context.Background(), StatusRequest{
		OrderID: "o-1", Action: ActionComplete, IdempotencyKey: "complete:1",
	})

	require.Error(t, err)
	assert.Equal(t, orderops.KindApplication, orderops.KindOf(err))
	assert.Equal(t, 0, mock.Calls("status-patch"), "a real error must not fall through")
}

func TestRejectFallsBackToCancelPatch(t *testing.T) {
	mock := seeded()
	mock.Disable("reject-dedicated", "reject-patch")
	client := newClient(t, mock)

	res, err := client.Reject(context.Background(), RejectRequest{
		OrderID: "o-1", Reasons: []string{"Out of stock"}, Codes: []string{"R01"}, IdempotencyKey: "reject:1",
	})

	require.NoError(t, err)
	assert.Equal(t, "reject-cancel", res.Candidate)
	assert.Equal(t, "CANCELLED", mock.Status("o-1"))
}

func TestValidationHappensBeforeNetwork(t *testing.T) {
	mock := seeded()
	client := newClient(t, mock)

	_, err := client.Reject(context.Background(), RejectRequest{OrderID: "o-1", IdempotencyKey: "k"})
	assert.Equal(t, orderops.KindValidation, orderops.KindOf(err))

	_, err = client.MutateStatus(context.Background(), StatusRequest{OrderID: "o-1", Action: ActionConfirm})
	assert.Equal(t, orderops.KindValidation, orderops.KindOf(err))

	assert.Equal(t, 0, mock.MutatingCalls())
}

func TestCandidateShapes(t *testing.T) {
	reject := RejectCandidates(RejectRequest{OrderID: "o-1", Reasons: []string{"x"}, IdempotencyKey: "k"})
	require.Len(t, reject, 3)
	assert.Equal(t, "/orders/o-1/reject", reject[0].Target)
	assert.Equal(t, "reject", reject[1].Body.(map[string]any)["action"])
	assert.Equal(t, "cancel", reject[2].Body.(map[string]any)["action"])

	assert.Len(t, ApologyCandidates(ApologyRequest{OrderID: "o-1", Message: "m", IdempotencyKey: "k"}), 5)

	scoped := NotificationCandidates(NotificationRequest{OrderID: "o-1", CustomerID: "c 1", Message: "m", IdempotencyKey: "k"})
	require.Len(t, scoped, 7)
	assert.Equal(t, "/customers/c%201/notifications", scoped[0].Target)
	assert.Equal(t, "in_app", scoped[6].Body.(map[string]any)["channel"])

	assert.Len(t, NotificationCandidates(NotificationRequest{OrderID: "o-1", Message: "m", IdempotencyKey: "k"}), 4)

	for _, c := range append(reject, scoped...) {
		assert.Equal(t, "k", c.Header.Get("Idempotency-Key"), c.Name)
		assert.Equal(t, "k", c.Body.(map[string]any)["idempotencyKey"], c.Name)
	}
}

func TestDeliveriesAndEvents(t *testing.T) {
	mock := seeded()
	mock.Disable("inapp-customer")
	client := newClient(t, mock)
	ctx := context.Background()

	_, err := client.DeliverApology(ctx, ApologyRequest{OrderID: "o-1", Message: "Sorry", IdempotencyKey: "a"})
	require.NoError(t, err)
	_, err = client.DeliverNotification(ctx, NotificationRequest{OrderID: "o-1", CustomerID: "c-1", Message: "Update", IdempotencyKey: "n"})
	require.NoError(t, err)
	_, err = client.AppendEvent(ctx, EventRequest{OrderID: "o-1", Event: order.Event{Kind: order.EventNote, Message: "hi"}, IdempotencyKey: "e"})
	require.NoError(t, err)

	deliveries := mock.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, "apology-order", deliveries[0].Route)
	assert.Equal(t, "inapp-user", deliveries[1].Route)
	require.Len(t, mock.Events("o-1"), 1)
}

func TestPaymentShipmentOverride(t *testing.T) {
	mock := seeded()
	client := newClient(t, mock)
	ctx := context.Background()

	res, err := client.CapturePayment(ctx, PaymentRequest{OrderID: "o-1", Amount: 25, IdempotencyKey: "p"})
	require.NoError(t, err)
	assert.Equal(t, "CAPTURED", res.Order.PaymentStatus)

	_, err = client.CapturePayment(ctx, PaymentRequest{OrderID: "o-1", Amount: 25, IdempotencyKey: "p2"})
	assert.Equal(t, orderops.KindApplication, orderops.KindOf(err))

	mock.Disable("shipment-order")
	res, err = client.BookShipment(ctx, ShipmentRequest{OrderID: "o-1", CourierCode: "dhl", ServiceCode: "express", IdempotencyKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "shipment-generic", res.Candidate)
	assert.NotEmpty(t, res.Order.ShipmentRef)

	res, err = client.SetOverride(ctx, OverrideRequest{OrderID: "o-1", Enabled: true, IdempotencyKey: "o"})
	require.NoError(t, err)
	assert.True(t, res.Order.ElevatedOverride)
}

type echoProber struct {
	body map[string]any
}

func (p echoProber) Execute(context.Context, string, []endpoint.Candidate) (*endpoint.Response, error) {
	return &endpoint.Response{StatusCode: http.StatusCreated, Body: p.body}, nil
}

func TestMutationEchoMustDescribeTheOrder(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		wantID  string
		noOrder bool
	}{
		{
			name:    "shipment echo",
			body:    map[string]any{"id": "shp_77", "trackingNumber": "TRK1", "status": "booked"},
			noOrder: true,
		},
		{
			name:    "event echo",
			body:    map[string]any{"ok": true, "event": map[string]any{"id": "evt_1", "type": "NOTE"}},
			noOrder: true,
		},
		{
			name:   "order envelope",
			body:   map[string]any{"shipmentId": "shp_77", "order": map[string]any{"id": "o-1", "status": "CONFIRMED"}},
			wantID: "o-1",
		},
		{
			name:   "bare order",
			body:   map[string]any{"id": "o-1", "status": "CONFIRMED"},
			wantID: "o-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(echoProber{body: tt.body})

			res, err := client.BookShipment(context.Background(), ShipmentRequest{
				OrderID: "o-1", CourierCode: "dhl", ServiceCode: "express", IdempotencyKey: "s",
			})

			require.NoError(t, err)
			assert.Equal(t, tt.body, res.Body)
			if tt.noOrder {
				assert.Nil(t, res.Order)
				return
			}
			require.NotNil(t, res.Order)
			assert.Equal(t, tt.wantID, res.Order.ID)
		})
	}
}

var _ Client = (*HTTPClient)(nil)
var _ http.Handler = (*mockbackend.Server)(nil)
