// Package order holds the transient order view the operator console works
// from. Backend payloads are decoded through explicit alias lists, the
// view is never cached beyond one operation.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-orderops/alias"
	"github.com/goliatone/go-orderops/status"
)

// EventKind tags an audit event.
type EventKind string

const (
	EventNote         EventKind = "NOTE"
	EventReject       EventKind = "REJECT"
	EventStatusChange EventKind = "STATUS_CHANGE"
	EventPayment      EventKind = "PAYMENT"
	EventShipment     EventKind = "SHIPMENT"
	EventOverride     EventKind = "OVERRIDE"
)

// Order is the operator's view of one order.
type Order struct {
	ID                string        `json:"id"`
	Number            string        `json:"number,omitempty"`
	Status            status.Status `json:"status"`
	RawStatus         string        `json:"raw_status,omitempty"`
	PaymentStatus     string        `json:"payment_status,omitempty"`
	FulfillmentStatus string        `json:"fulfillment_status,omitempty"`
	Totals            Totals        `json:"totals"`
	Customer          Customer      `json:"customer"`
	ShipmentRef       string        `json:"shipment_ref,omitempty"`
	ElevatedOverride  bool          `json:"elevated_override"`
	Items             []Item        `json:"items,omitempty"`
	Events            []Event       `json:"events,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at,omitempty"`
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency,omitempty"`
}

type Customer struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type Item struct {
	SKU      string  `json:"sku,omitempty"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Event is one immutable audit entry.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Kind      EventKind      `json:"kind"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ActorRole string         `json:"actor_role,omitempty"`
}

// WithStatus returns a copy of o carrying target as its status. Slices are
// shared, callers must not mutate them.
func (o Order) WithStatus(target status.Status) Order {
	o.Status = target
	o.RawStatus = string(target)
	return o
}

// Label is the order number when known, else the id.
func (o Order) Label() string {
	if o.Number != "" {
		return fmt.Sprintf("#%s", o.Number)
	}
	return o.ID
}

var (
	idAliases          = []string{"id", "orderId", "order_id", "_id"}
	numberAliases      = []string{"orderNumber", "order_number", "number", "code", "reference"}
	statusAliases      = []string{"status", "orderStatus", "order_status", "state"}
	paymentAliases     = []string{"paymentStatus", "payment_status", "payment.status"}
	fulfillmentAliases = []string{"fulfillmentStatus", "fulfillment_status", "fulfilment_status", "fulfillment.status"}
	shipmentAliases    = []string{"shipmentId", "shipment_id", "shipment.id", "trackingNumber", "tracking_number", "shipment.trackingNumber"}
	overrideAliases    = []string{"elevatedOverride", "elevated_override", "allowRejectAfterConfirm", "rejectOverride", "overrides.reject"}
	updatedAliases     = []string{"updatedAt", "updated_at", "modifiedAt"}

	customerAliases      = []string{"customer", "user", "buyer"}
	customerIDAliases    = []string{"customerId", "customer_id", "userId", "user_id"}
	customerNameAliases  = []string{"name", "fullName", "full_name", "displayName"}
	customerEmailAliases = []string{"email", "emailAddress", "email_address"}

	totalsAliases   = []string{"totals", "amounts", "summary"}
	subtotalAliases = []string{"subtotal", "subTotal", "sub_total"}
	taxAliases      = []string{"tax", "taxTotal", "tax_total", "vat"}
	shippingAliases = []string{"shipping", "shippingTotal", "shipping_total", "delivery"}
	totalAliases    = []string{"total", "grandTotal", "grand_total", "amount"}
	currencyAliases = []string{"currency", "currencyCode", "currency_code"}

	itemsAliases    = []string{"items", "lineItems", "line_items", "products"}
	skuAliases      = []string{"sku", "productId", "product_id", "variantId"}
	itemNameAliases = []string{"name", "title", "productName", "product.name"}
	qtyAliases      = []string{"quantity", "qty", "count"}
	priceAliases    = []string{"price", "unitPrice", "unit_price", "amount"}

	eventsAliases    = []string{"events", "orderEvents", "order_events", "history", "timeline"}
	eventIDAliases   = []string{"id", "eventId", "event_id", "_id"}
	eventKindAliases = []string{"kind", "type", "eventType", "event_type"}
	eventMsgAliases  = []string{"message", "text", "description", "note"}
	eventMetaAliases = []string{"metadata", "meta", "data", "details"}
	eventTimeAliases = []string{"timestamp", "createdAt", "created_at", "at", "time"}
	eventRoleAliases = []string{"actorRole", "actor_role", "role", "actor.role"}
)

// Decode builds an Order from a backend payload.
func Decode(payload map[string]any) (Order, error) {
	payload = alias.Unwrap(payload)
	if payload == nil {
		return Order{}, fmt.Errorf("order payload is empty")
	}

	o := Order{
		ID:                alias.String(payload, idAliases...),
		Number:            alias.String(payload, numberAliases...),
		RawStatus:         alias.String(payload, statusAliases...),
		PaymentStatus:     alias.String(payload, paymentAliases...),
		FulfillmentStatus: alias.String(payload, fulfillmentAliases...),
		ShipmentRef:       alias.String(payload, shipmentAliases...),
	}
	if o.ID == "" {
		return Order{}, fmt.Errorf("order payload has no id")
	}
	o.Status = status.Normalize(o.RawStatus)
	o.ElevatedOverride, _ = alias.Bool(payload, overrideAliases...)
	o.UpdatedAt, _ = alias.Time(payload, updatedAliases...)

	o.Customer = decodeCustomer(payload)
	o.Totals = decodeTotals(payload)

	for _, raw := range alias.Slice(payload, itemsAliases...) {
		if m, ok := raw.(map[string]any); ok {
			o.Items = append(o.Items, decodeItem(m))
		}
	}
	o.Events = DecodeEvents(alias.Slice(payload, eventsAliases...))
	return o, nil
}

func decodeCustomer(payload map[string]any) Customer {
	c := Customer{ID: alias.String(payload, customerIDAliases...)}
	if nested := alias.Map(payload, customerAliases...); nested != nil {
		if c.ID == "" {
			c.ID = alias.String(nested, idAliases...)
		}
		c.Name = alias.String(nested, customerNameAliases...)
		c.Email = alias.String(nested, customerEmailAliases...)
	}
	if c.Email == "" {
		c.Email = alias.String(payload, "customerEmail", "customer_email", "email")
	}
	if c.Name == "" {
		c.Name = alias.String(payload, "customerName", "customer_name")
	}
	return c
}

func decodeTotals(payload map[string]any) Totals {
	src := alias.Map(payload, totalsAliases...)
	if src == nil {
		src = payload
	}
	var t Totals
	t.Subtotal, _ = alias.Float(src, subtotalAliases...)
	t.Tax, _ = alias.Float(src, taxAliases...)
	t.Shipping, _ = alias.Float(src, shippingAliases...)
	t.Total, _ = alias.Float(src, totalAliases...)
	t.Currency = alias.String(src, currencyAliases...)
	if t.Currency == "" {
		t.Currency = alias.String(payload, currencyAliases...)
	}
	return t
}

func decodeItem(m map[string]any) Item {
	it := Item{
		SKU:  alias.String(m, skuAliases...),
		Name: alias.String(m, itemNameAliases...),
	}
	it.Quantity, _ = alias.Float(m, qtyAliases...)
	it.Price, _ = alias.Float(m, priceAliases...)
	return it
}

// DecodeEvents decodes an event list, skipping entries that are not
// objects. Unknown kinds are kept uppercased.
func DecodeEvents(raw []any) []Event {
	var events []Event
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		events = append(events, DecodeEvent(m))
	}
	return events
}

func DecodeEvent(m map[string]any) Event {
	evt := Event{
		ID:        alias.String(m, eventIDAliases...),
		Kind:      NormalizeKind(alias.String(m, eventKindAliases...)),
		Message:   alias.String(m, eventMsgAliases...),
		Metadata:  alias.Map(m, eventMetaAliases...),
		ActorRole: alias.String(m, eventRoleAliases...),
	}
	evt.Timestamp, _ = alias.Time(m, eventTimeAliases...)
	return evt
}

var kindReplacer = strings.NewReplacer("-", "_", " ", "_")

// NormalizeKind uppercases a kind tag, "status-change" becomes STATUS_CHANGE.
func NormalizeKind(raw string) EventKind {
	return EventKind(kindReplacer.Replace(strings.ToUpper(strings.TrimSpace(raw))))
}

// Encode renders an event as the payload the backend accepts on append.
func (e Event) Encode() map[string]any {
	out := map[string]any{
		"kind":    string(e.Kind),
		"type":    string(e.Kind),
		"message": e.Message,
	}
	if len(e.Metadata) > 0 {
		out["metadata"] = e.Metadata
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if e.ActorRole != "" {
		out["actorRole"] = e.ActorRole
	}
	return out
}
