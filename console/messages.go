package console

import (
	"strings"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/audit"
	"github.com/goliatone/go-orderops/orchestrator"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/permission"
)

// Message type names routed by the console dispatcher.
const (
	TypeGetOrderView      = "order.view"
	TypeGetTrail          = "order.trail"
	TypeConfirmOrder      = "order.confirm"
	TypeCompleteOrder     = "order.complete"
	TypeCancelOrder       = "order.cancel"
	TypeCapturePayment    = "order.payment.capture"
	TypeBookShipment      = "order.shipment.book"
	TypeAddNote           = "order.note"
	TypeSetRejectOverride = "order.override"
	TypeRejectOrder       = "order.reject"
)

// ActionMessage is implemented by every message that runs an order action.
type ActionMessage interface {
	orderops.Message
	Action() string
	Order() string
}

func requireOrderID(id string) error {
	if strings.TrimSpace(id) == "" {
		return orderops.ValidationError("order id is required", "order_id")
	}
	return nil
}

// View is what the console renders for one order.
type View struct {
	Order   order.Order   `json:"order"`
	Actions []string      `json:"actions"`
	Trail   []audit.Entry `json:"trail"`
	Busy    string        `json:"busy,omitempty"`
}

type GetOrderView struct {
	OrderID string `json:"order_id"`
}

func (GetOrderView) Type() string      { return TypeGetOrderView }
func (m GetOrderView) Validate() error { return requireOrderID(m.OrderID) }

type GetTrail struct {
	OrderID string `json:"order_id"`
}

func (GetTrail) Type() string      { return TypeGetTrail }
func (m GetTrail) Validate() error { return requireOrderID(m.OrderID) }

type ConfirmOrder struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Note      string               `json:"note,omitempty"`
}

func (ConfirmOrder) Type() string      { return TypeConfirmOrder }
func (ConfirmOrder) Action() string    { return orchestrator.ActionConfirm }
func (m ConfirmOrder) Order() string   { return m.OrderID }
func (m ConfirmOrder) Validate() error { return requireOrderID(m.OrderID) }

type CompleteOrder struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Note      string               `json:"note,omitempty"`
}

func (CompleteOrder) Type() string      { return TypeCompleteOrder }
func (CompleteOrder) Action() string    { return orchestrator.ActionComplete }
func (m CompleteOrder) Order() string   { return m.OrderID }
func (m CompleteOrder) Validate() error { return requireOrderID(m.OrderID) }

type CancelOrder struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Note      string               `json:"note,omitempty"`
}

func (CancelOrder) Type() string      { return TypeCancelOrder }
func (CancelOrder) Action() string    { return orchestrator.ActionCancel }
func (m CancelOrder) Order() string   { return m.OrderID }
func (m CancelOrder) Validate() error { return requireOrderID(m.OrderID) }

// CapturePayment captures the order total unless Amount is set.
type CapturePayment struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Amount    float64              `json:"amount,omitempty"`
	Currency  string               `json:"currency,omitempty"`
	Method    string               `json:"method,omitempty"`
	Reference string               `json:"reference,omitempty"`
}

func (CapturePayment) Type() string    { return TypeCapturePayment }
func (CapturePayment) Action() string  { return orchestrator.ActionCapture }
func (m CapturePayment) Order() string { return m.OrderID }

func (m CapturePayment) Validate() error {
	if err := requireOrderID(m.OrderID); err != nil {
		return err
	}
	if m.Amount < 0 {
		return orderops.ValidationError("amount must not be negative", "amount")
	}
	return nil
}

type BookShipment struct {
	OrderID     string               `json:"order_id"`
	Principal   permission.Principal `json:"-"`
	CourierCode string               `json:"courier_code"`
	ServiceCode string               `json:"service_code"`
}

func (BookShipment) Type() string      { return TypeBookShipment }
func (BookShipment) Action() string    { return orchestrator.ActionShip }
func (m BookShipment) Order() string   { return m.OrderID }
func (m BookShipment) Validate() error { return requireOrderID(m.OrderID) }

type AddNote struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Text      string               `json:"text"`
}

func (AddNote) Type() string    { return TypeAddNote }
func (AddNote) Action() string  { return orchestrator.ActionNote }
func (m AddNote) Order() string { return m.OrderID }

func (m AddNote) Validate() error {
	if err := requireOrderID(m.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Text) == "" {
		return orderops.ValidationError("note text is required", "text")
	}
	return nil
}

type SetRejectOverride struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Enabled   bool                 `json:"enabled"`
}

func (SetRejectOverride) Type() string      { return TypeSetRejectOverride }
func (SetRejectOverride) Action() string    { return orchestrator.ActionOverride }
func (m SetRejectOverride) Order() string   { return m.OrderID }
func (m SetRejectOverride) Validate() error { return requireOrderID(m.OrderID) }

// RejectOrder carries the operator's rejection form. Reasons accept codes
// or catalog texts. A blank Apology is composed from the reasons. Nil
// delivery flags mean send.
type RejectOrder struct {
	OrderID   string               `json:"order_id"`
	Principal permission.Principal `json:"-"`
	Reasons   []string             `json:"reasons"`
	Note      string               `json:"note,omitempty"`
	Apology   string               `json:"apology,omitempty"`
	SendEmail *bool                `json:"send_email,omitempty"`
	SendInApp *bool                `json:"send_in_app,omitempty"`
}

func (RejectOrder) Type() string      { return TypeRejectOrder }
func (RejectOrder) Action() string    { return orchestrator.ActionReject }
func (m RejectOrder) Order() string { return m.OrderID }

func (m RejectOrder) Validate() error {
	if err := requireOrderID(m.OrderID); err != nil {
		return err
	}
	for _, r := range m.Reasons {
		if strings.TrimSpace(r) != "" {
			return nil
		}
	}
	return orderops.ValidationError("select at least one rejection reason", "reasons")
}

func flag(v *bool) bool {
	return v == nil || *v
}
