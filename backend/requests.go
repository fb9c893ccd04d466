package backend

import (
	"strings"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/endpoint"
	"github.com/goliatone/go-orderops/order"
)

// Status actions accepted by MutateStatus.
const (
	ActionConfirm  = "confirm"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionReject   = "reject"
)

type StatusRequest struct {
	OrderID        string
	Action         string
	Note           string
	IdempotencyKey string
}

func (r StatusRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	switch r.Action {
	case ActionConfirm, ActionComplete, ActionCancel, ActionReject:
	default:
		return orderops.ValidationError("unsupported status action "+r.Action, "action")
	}
	return requireKey(r.IdempotencyKey)
}

type PaymentRequest struct {
	OrderID        string
	Amount         float64
	Currency       string
	Method         string
	Reference      string
	IdempotencyKey string
}

func (r PaymentRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if r.Amount < 0 {
		return orderops.ValidationError("amount must not be negative", "amount")
	}
	return requireKey(r.IdempotencyKey)
}

type ShipmentRequest struct {
	OrderID        string
	CourierCode    string
	ServiceCode    string
	IdempotencyKey string
}

func (r ShipmentRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(r.CourierCode) == "" {
		return orderops.ValidationError("courier code required", "courier_code")
	}
	if strings.TrimSpace(r.ServiceCode) == "" {
		return orderops.ValidationError("service code required", "service_code")
	}
	return requireKey(r.IdempotencyKey)
}

type EventRequest struct {
	OrderID        string
	Event          order.Event
	IdempotencyKey string
}

func (r EventRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if r.Event.Kind == "" {
		return orderops.ValidationError("event kind required", "kind")
	}
	return requireKey(r.IdempotencyKey)
}

type RejectRequest struct {
	OrderID        string
	Reasons        []string
	Codes          []string
	Note           string
	IdempotencyKey string
}

func (r RejectRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if len(r.Reasons) == 0 {
		return orderops.ValidationError("at least one rejection reason is required", "reasons")
	}
	return requireKey(r.IdempotencyKey)
}

type ApologyRequest struct {
	OrderID        string
	OrderNumber    string
	CustomerID     string
	Email          string
	Subject        string
	Message        string
	Reasons        []string
	Codes          []string
	IdempotencyKey string
}

func (r ApologyRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return orderops.ValidationError("apology message required", "message")
	}
	return requireKey(r.IdempotencyKey)
}

type NotificationRequest struct {
	OrderID        string
	CustomerID     string
	Title          string
	Message        string
	Kind           string
	IdempotencyKey string
}

func (r NotificationRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return orderops.ValidationError("notification message required", "message")
	}
	return requireKey(r.IdempotencyKey)
}

type OverrideRequest struct {
	OrderID        string
	Enabled        bool
	ActorID        string
	IdempotencyKey string
}

func (r OverrideRequest) Validate() error {
	if err := requireOrder(r.OrderID); err != nil {
		return err
	}
	return requireKey(r.IdempotencyKey)
}

// Result is what a mutating call returns. Order is set when the backend
// echoed an order payload.
type Result struct {
	Order     *order.Order
	Body      map[string]any
	Candidate string
	Attempts  []endpoint.Attempt
}

func requireOrder(id string) error {
	if strings.TrimSpace(id) == "" {
		return orderops.ValidationError("order id required", "order_id")
	}
	return nil
}

func requireKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return orderops.ValidationError("idempotency key required", "idempotency_key")
	}
	return nil
}
