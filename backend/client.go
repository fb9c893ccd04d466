// Package backend speaks to the order storage service. Every logical
// operation is expressed as an ordered list of endpoint shapes because
// deployments disagree on paths and payloads.
package backend

import (
	"context"
	"net/http"
	"net/url"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/alias"
	"github.com/goliatone/go-orderops/endpoint"
	"github.com/goliatone/go-orderops/order"
)

// Operation names, used for spans, logs and metrics.
const (
	OpGetOrder            = "get_order"
	OpMutateStatus        = "mutate_status"
	OpCapturePayment      = "capture_payment"
	OpBookShipment        = "book_shipment"
	OpAppendEvent         = "append_event"
	OpReject              = "reject"
	OpDeliverApology      = "deliver_apology"
	OpDeliverNotification = "deliver_notification"
	OpSetOverride         = "set_override"
)

// Client is the storage collaborator.
type Client interface {
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
	MutateStatus(ctx context.Context, req StatusRequest) (Result, error)
	CapturePayment(ctx context.Context, req PaymentRequest) (Result, error)
	BookShipment(ctx context.Context, req ShipmentRequest) (Result, error)
	AppendEvent(ctx context.Context, req EventRequest) (Result, error)
	Reject(ctx context.Context, req RejectRequest) (Result, error)
	DeliverApology(ctx context.Context, req ApologyRequest) (Result, error)
	DeliverNotification(ctx context.Context, req NotificationRequest) (Result, error)
	SetOverride(ctx context.Context, req OverrideRequest) (Result, error)
}

// Prober runs the fallback protocol. *endpoint.Executor satisfies it.
type Prober interface {
	Execute(ctx context.Context, operation string, candidates []endpoint.Candidate) (*endpoint.Response, error)
}

// HTTPClient implements Client over a Prober.
type HTTPClient struct {
	prober Prober
}

func NewHTTPClient(prober Prober) *HTTPClient {
	return &HTTPClient{prober: prober}
}

func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	if err := requireOrder(orderID); err != nil {
		return order.Order{}, err
	}
	resp, err := c.prober.Execute(ctx, OpGetOrder, OrderCandidates(orderID))
	if err != nil {
		return order.Order{}, err
	}
	o, err := order.Decode(firstRecord(resp.Body))
	if err != nil {
		return order.Order{}, orderops.NewError(orderops.ErrApplication, "decode order", err, map[string]any{
			"order_id": orderID,
		})
	}
	return o, nil
}

func (c *HTTPClient) MutateStatus(ctx context.Context, req StatusRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpMutateStatus, req.OrderID, StatusCandidates(req))
}

func (c *HTTPClient) CapturePayment(ctx context.Context, req PaymentRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpCapturePayment, req.OrderID, PaymentCandidates(req))
}

func (c *HTTPClient) BookShipment(ctx context.Context, req ShipmentRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpBookShipment, req.OrderID, ShipmentCandidates(req))
}

func (c *HTTPClient) AppendEvent(ctx context.Context, req EventRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpAppendEvent, req.OrderID, EventCandidates(req))
}

func (c *HTTPClient) Reject(ctx context.Context, req RejectRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpReject, req.OrderID, RejectCandidates(req))
}

func (c *HTTPClient) DeliverApology(ctx context.Context, req ApologyRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpDeliverApology, req.OrderID, ApologyCandidates(req))
}

func (c *HTTPClient) DeliverNotification(ctx context.Context, req NotificationRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpDeliverNotification, req.OrderID, NotificationCandidates(req))
}

func (c *HTTPClient) SetOverride(ctx context.Context, req OverrideRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	return c.run(ctx, OpSetOverride, req.OrderID, OverrideCandidates(req))
}

// run executes a mutation. The body only becomes Result.Order when it
// describes orderID; shipment, event and delivery echoes carry their own ids.
func (c *HTTPClient) run(ctx context.Context, operation, orderID string, candidates []endpoint.Candidate) (Result, error) {
	resp, err := c.prober.Execute(ctx, operation, candidates)
	var result Result
	if resp != nil {
		result.Attempts = resp.Attempts
		result.Body = resp.Body
		result.Candidate = resp.Candidate.Label()
	}
	if err != nil {
		result.Candidate = ""
		return result, err
	}
	if o, decodeErr := order.Decode(resp.Body); decodeErr == nil && o.ID == orderID {
		result.Order = &o
	}
	return result, nil
}

// firstRecord unwraps list shaped read responses such as {"data":[{...}]}.
func firstRecord(body map[string]any) map[string]any {
	for _, item := range alias.Slice(body, "data", "orders", "results") {
		if m, ok := item.(map[string]any); ok {
			return m
		}
	}
	return body
}

// OrderCandidates lists the shapes for reading an order with its events.
func OrderCandidates(orderID string) []endpoint.Candidate {
	id := url.PathEscape(orderID)
	return []endpoint.Candidate{
		{Name: "order-expanded", Method: http.MethodGet, Target: "/orders/" + id + "?include=events,items"},
		{Name: "order-query", Method: http.MethodGet, Target: "/orders?id=" + url.QueryEscape(orderID)},
	}
}

// StatusCandidates lists the dedicated action route then the generic PATCH.
func StatusCandidates(req StatusRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	body := map[string]any{"action": req.Action}
	if req.Note != "" {
		body["note"] = req.Note
	}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "status-action", Method: http.MethodPost, Target: "/orders/" + id + "/" + req.Action, Body: body},
		endpoint.Candidate{Name: "status-patch", Method: http.MethodPatch, Target: "/orders/" + id, Body: body},
	)
}

func PaymentCandidates(req PaymentRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	body := map[string]any{"status": "CAPTURED"}
	if req.Amount > 0 {
		body["amount"] = req.Amount
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.Method != "" {
		body["method"] = req.Method
	}
	if req.Reference != "" {
		body["reference"] = req.Reference
	}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "payment-capture", Method: http.MethodPost, Target: "/orders/" + id + "/payment/capture", Body: body},
		endpoint.Candidate{Name: "payment-patch", Method: http.MethodPatch, Target: "/orders/" + id + "/payment", Body: body},
	)
}

func ShipmentCandidates(req ShipmentRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	scoped := map[string]any{"courierCode": req.CourierCode, "serviceCode": req.ServiceCode}
	generic := map[string]any{"orderId": req.OrderID, "courierCode": req.CourierCode, "serviceCode": req.ServiceCode}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "shipment-order", Method: http.MethodPost, Target: "/orders/" + id + "/shipments", Body: scoped},
		endpoint.Candidate{Name: "shipment-generic", Method: http.MethodPost, Target: "/shipments", Body: generic},
	)
}

func EventCandidates(req EventRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	body := req.Event.Encode()
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "event-order", Method: http.MethodPost, Target: "/orders/" + id + "/events", Body: body},
		endpoint.Candidate{Name: "event-history", Method: http.MethodPost, Target: "/orders/" + id + "/history", Body: body},
	)
}

// RejectCandidates lists the dedicated reject route, the generic reject
// PATCH and finally a cancel PATCH for backends without a reject action.
func RejectCandidates(req RejectRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	payload := func(action string) map[string]any {
		body := map[string]any{
			"reasons":     req.Reasons,
			"reasonCodes": req.Codes,
		}
		if action != "" {
			body["action"] = action
		}
		if req.Note != "" {
			body["note"] = req.Note
		}
		return body
	}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "reject-dedicated", Method: http.MethodPost, Target: "/orders/" + id + "/reject", Body: payload("")},
		endpoint.Candidate{Name: "reject-patch", Method: http.MethodPatch, Target: "/orders/" + id, Body: payload(ActionReject)},
		endpoint.Candidate{Name: "reject-cancel", Method: http.MethodPatch, Target: "/orders/" + id, Body: payload(ActionCancel)},
	)
}

// ApologyCandidates goes from the most specific apology route to generic
// notification creation.
func ApologyCandidates(req ApologyRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	base := map[string]any{
		"subject":     req.Subject,
		"message":     req.Message,
		"reasons":     req.Reasons,
		"reasonCodes": req.Codes,
	}
	withRecipient := func(extra map[string]any) map[string]any {
		out := make(map[string]any, len(base)+len(extra)+3)
		for k, v := range base {
			out[k] = v
		}
		if req.Email != "" {
			out["to"] = req.Email
		}
		if req.CustomerID != "" {
			out["customerId"] = req.CustomerID
		}
		out["orderId"] = req.OrderID
		for k, v := range extra {
			out[k] = v
		}
		return out
	}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "apology-order", Method: http.MethodPost, Target: "/orders/" + id + "/apology", Body: base},
		endpoint.Candidate{Name: "apology-order-notification", Method: http.MethodPost, Target: "/orders/" + id + "/notifications/apology", Body: withRecipient(nil)},
		endpoint.Candidate{Name: "apology-order-email", Method: http.MethodPost, Target: "/orders/" + id + "/emails", Body: withRecipient(map[string]any{"template": "order_rejected_apology"})},
		endpoint.Candidate{Name: "apology-email", Method: http.MethodPost, Target: "/notifications/email", Body: withRecipient(map[string]any{"template": "order_rejected_apology"})},
		endpoint.Candidate{Name: "apology-notification", Method: http.MethodPost, Target: "/notifications", Body: withRecipient(map[string]any{"channel": "email", "type": "apology"})},
	)
}

// NotificationCandidates puts customer scoped inbox routes first when the
// customer is known.
func NotificationCandidates(req NotificationRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	kind := req.Kind
	if kind == "" {
		kind = "order_update"
	}
	body := map[string]any{
		"orderId": req.OrderID,
		"title":   req.Title,
		"message": req.Message,
		"type":    kind,
	}
	if req.CustomerID != "" {
		body["customerId"] = req.CustomerID
	}
	generic := make(map[string]any, len(body)+1)
	for k, v := range body {
		generic[k] = v
	}
	generic["channel"] = "in_app"

	var list []endpoint.Candidate
	if req.CustomerID != "" {
		cid := url.PathEscape(req.CustomerID)
		list = append(list,
			endpoint.Candidate{Name: "inapp-customer", Method: http.MethodPost, Target: "/customers/" + cid + "/notifications", Body: body},
			endpoint.Candidate{Name: "inapp-user", Method: http.MethodPost, Target: "/users/" + cid + "/notifications", Body: body},
			endpoint.Candidate{Name: "inapp-inbox", Method: http.MethodPost, Target: "/customers/" + cid + "/inbox", Body: body},
		)
	}
	list = append(list,
		endpoint.Candidate{Name: "inapp-order", Method: http.MethodPost, Target: "/orders/" + id + "/notifications", Body: body},
		endpoint.Candidate{Name: "inapp-order-notify", Method: http.MethodPost, Target: "/orders/" + id + "/notify", Body: body},
		endpoint.Candidate{Name: "inapp-generic", Method: http.MethodPost, Target: "/notifications/in-app", Body: body},
		endpoint.Candidate{Name: "inapp-notification", Method: http.MethodPost, Target: "/notifications", Body: generic},
	)
	return keyed(req.IdempotencyKey, list...)
}

func OverrideCandidates(req OverrideRequest) []endpoint.Candidate {
	id := url.PathEscape(req.OrderID)
	body := map[string]any{"elevatedOverride": req.Enabled}
	if req.ActorID != "" {
		body["actorId"] = req.ActorID
	}
	return keyed(req.IdempotencyKey,
		endpoint.Candidate{Name: "override-dedicated", Method: http.MethodPost, Target: "/orders/" + id + "/overrides/reject", Body: map[string]any{"enabled": req.Enabled, "actorId": req.ActorID}},
		endpoint.Candidate{Name: "override-patch", Method: http.MethodPatch, Target: "/orders/" + id, Body: body},
	)
}

// keyed attaches the idempotency key to every candidate as a header and a
// body field.
func keyed(key string, candidates ...endpoint.Candidate) []endpoint.Candidate {
	for i := range candidates {
		c := &candidates[i]
		if c.Header == nil {
			c.Header = http.Header{}
		}
		c.Header.Set("Idempotency-Key", key)
		if body, ok := c.Body.(map[string]any); ok {
			cp := make(map[string]any, len(body)+1)
			for k, v := range body {
				cp[k] = v
			}
			cp["idempotencyKey"] = key
			c.Body = cp
		}
	}
	return candidates
}
