package orchestrator

import (
	"context"
	"fmt"
	"strings"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/alias"
	"github.com/goliatone/go-orderops/backend"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/permission"
	"github.com/goliatone/go-orderops/status"
)

// Action names. The status actions match backend.Action*.
const (
	ActionConfirm  = backend.ActionConfirm
	ActionComplete = backend.ActionComplete
	ActionCancel   = backend.ActionCancel
	ActionReject   = backend.ActionReject
	ActionCapture  = "capture"
	ActionShip     = "ship"
	ActionNote     = "note"
	ActionOverride = "override"
)

// Step names used in warning reports.
const (
	StepAuditEvent   = "audit event"
	StepNotification = "in-app notification"
)

var statusTargets = map[string]status.Status{
	ActionConfirm:  status.Confirmed,
	ActionComplete: status.Completed,
	ActionCancel:   status.Cancelled,
	ActionReject:   status.Cancelled,
}

var capabilities = map[string]permission.Capability{
	ActionConfirm:  permission.CapConfirm,
	ActionComplete: permission.CapComplete,
	ActionCancel:   permission.CapCancel,
	ActionReject:   permission.CapReject,
	ActionCapture:  permission.CapCapture,
	ActionShip:     permission.CapShip,
	ActionNote:     permission.CapNote,
	ActionOverride: permission.CapOverride,
}

var titles = map[string]string{
	ActionConfirm:  "Confirm order",
	ActionComplete: "Complete order",
	ActionCancel:   "Cancel order",
	ActionReject:   "Reject order",
	ActionCapture:  "Capture payment",
	ActionShip:     "Book shipment",
	ActionNote:     "Add note",
	ActionOverride: "Reject override",
}

var pastTense = map[string]string{
	ActionConfirm:  "confirmed",
	ActionComplete: "completed",
	ActionCancel:   "cancelled",
	ActionReject:   "rejected",
}

// Actions lists every operator action in display order.
var Actions = []string{
	ActionConfirm, ActionComplete, ActionCancel, ActionReject,
	ActionCapture, ActionShip, ActionNote, ActionOverride,
}

// Target returns the status a status action moves an order to.
func Target(action string) (status.Status, bool) {
	t, ok := statusTargets[strings.ToLower(action)]
	return t, ok
}

// Capability returns the capability an action requires.
func Capability(action string) permission.Capability {
	return capabilities[strings.ToLower(action)]
}

// Title returns the report title of an action.
func Title(action string) string {
	if t, ok := titles[strings.ToLower(action)]; ok {
		return t
	}
	return action
}

// Gate reports whether action is available for o regardless of who asks.
// It never touches the network.
func Gate(action string, o order.Order) error {
	action = strings.ToLower(strings.TrimSpace(action))
	current := status.Normalize(string(o.Status))

	switch action {
	case ActionConfirm:
		if !status.BeforeConfirmation(string(current)) {
			return gated(o, action, "confirm is only available before confirmation")
		}
	case ActionReject:
		if current == status.Confirmed && !o.ElevatedOverride {
			return gated(o, action, "rejecting a confirmed order requires an elevated override set by an administrator")
		}
	case ActionCapture:
		if current == status.Draft || current == status.Cancelled || current == status.Archived {
			return gated(o, action, "payment cannot be captured for a "+status.Label(current)+" order")
		}
		switch strings.ToUpper(o.PaymentStatus) {
		case "CAPTURED", "PAID":
			return gated(o, action, "payment already captured")
		}
	case ActionShip:
		if current != status.Confirmed {
			return gated(o, action, "shipments can only be booked for confirmed orders")
		}
		if o.ShipmentRef != "" {
			return gated(o, action, "a shipment is already booked")
		}
	case ActionOverride:
		if status.IsTerminal(string(current)) {
			return gated(o, action, "order is closed")
		}
	case ActionNote:
	default:
		if _, ok := statusTargets[action]; !ok {
			return orderops.ValidationError("unknown action "+action, "action")
		}
	}

	if target, ok := statusTargets[action]; ok && !status.CanTransition(string(current), string(target)) {
		return transitionError(o, target, action)
	}
	return nil
}

// Available lists the actions Gate allows for o.
func Available(o order.Order) []string {
	var out []string
	for _, action := range Actions {
		if Gate(action, o) == nil {
			out = append(out, action)
		}
	}
	return out
}

func gated(o order.Order, action, message string) error {
	return orderops.NewError(orderops.ErrActionGated, message, nil, map[string]any{
		"order_id": o.ID,
		"action":   action,
		"status":   string(o.Status),
	})
}

func (o *Orchestrator) Confirm(ctx context.Context, p permission.Principal, ord order.Order, note string) Outcome {
	return o.Run(ctx, o.StatusPlan(ActionConfirm, p, ord, note))
}

func (o *Orchestrator) Complete(ctx context.Context, p permission.Principal, ord order.Order, note string) Outcome {
	return o.Run(ctx, o.StatusPlan(ActionComplete, p, ord, note))
}

func (o *Orchestrator) Cancel(ctx context.Context, p permission.Principal, ord order.Order, note string) Outcome {
	return o.Run(ctx, o.StatusPlan(ActionCancel, p, ord, note))
}

// StatusPlan builds the plan of a plain status action: mutate status,
// record a STATUS_CHANGE event, optionally notify the customer, refresh.
func (o *Orchestrator) StatusPlan(action string, p permission.Principal, ord order.Order, note string) Plan {
	action = strings.ToLower(action)
	target := statusTargets[action]
	from := status.Normalize(string(ord.Status))
	note = strings.TrimSpace(note)

	effects := []Effect{{
		Name: StepAuditEvent,
		Run: func(ctx context.Context, exec *Execution) error {
			meta := map[string]any{
				"from":   string(from),
				"to":     string(target),
				"action": action,
			}
			if note != "" {
				meta["note"] = note
			}
			return AppendEvent(ctx, exec, order.EventStatusChange,
				fmt.Sprintf("Status changed from %s to %s", status.Label(from), status.Label(target)), meta)
		},
	}}
	if o.notify {
		effects = append(effects, Effect{
			Name: StepNotification,
			Run: func(ctx context.Context, exec *Execution) error {
				_, err := exec.Client.DeliverNotification(ctx, backend.NotificationRequest{
					OrderID:        ord.ID,
					CustomerID:     ord.Customer.ID,
					Title:          "Order " + ord.Label() + " updated",
					Message:        fmt.Sprintf("Your order %s is now %s.", ord.Label(), strings.ToLower(status.Label(target))),
					Kind:           "status_change",
					IdempotencyKey: exec.KeyFor("notify"),
				})
				return err
			},
		})
	}

	return Plan{
		Order:      ord,
		Principal:  p,
		Action:     action,
		Title:      Title(action),
		Capability: Capability(action),
		Target:     target,
		Gate:       func(cur order.Order) error { return Gate(action, cur) },
		Payload:    map[string]any{"note": note},
		Primary: func(ctx context.Context, exec *Execution) (backend.Result, error) {
			return exec.Client.MutateStatus(ctx, backend.StatusRequest{
				OrderID:        ord.ID,
				Action:         action,
				Note:           note,
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Effects: effects,
		Refresh: true,
		Success: fmt.Sprintf("Order %s %s.", ord.Label(), pastTense[action]),
	}
}

// PaymentInput describes a capture; zero amount and empty currency fall
// back to the order totals.
type PaymentInput struct {
	Amount    float64
	Currency  string
	Method    string
	Reference string
}

func (o *Orchestrator) CapturePayment(ctx context.Context, p permission.Principal, ord order.Order, in PaymentInput) Outcome {
	if in.Amount == 0 {
		in.Amount = ord.Totals.Total
	}
	if in.Currency == "" {
		in.Currency = ord.Totals.Currency
	}

	return o.Run(ctx, Plan{
		Order:      ord,
		Principal:  p,
		Action:     ActionCapture,
		Title:      Title(ActionCapture),
		Capability: Capability(ActionCapture),
		Gate: func(cur order.Order) error {
			if in.Amount < 0 {
				return orderops.ValidationError("amount must not be negative", "amount")
			}
			return Gate(ActionCapture, cur)
		},
		Payload: in,
		Primary: func(ctx context.Context, exec *Execution) (backend.Result, error) {
			return exec.Client.CapturePayment(ctx, backend.PaymentRequest{
				OrderID:        ord.ID,
				Amount:         in.Amount,
				Currency:       in.Currency,
				Method:         in.Method,
				Reference:      in.Reference,
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Effects: []Effect{{
			Name: StepAuditEvent,
			Run: func(ctx context.Context, exec *Execution) error {
				return AppendEvent(ctx, exec, order.EventPayment,
					fmt.Sprintf("Payment of %.2f %s captured", in.Amount, in.Currency),
					map[string]any{
						"amount":    in.Amount,
						"currency":  in.Currency,
						"method":    in.Method,
						"reference": in.Reference,
					})
			},
		}},
		Refresh: true,
		Success: fmt.Sprintf("Payment captured for order %s.", ord.Label()),
	})
}

// ShipmentInput selects the courier and service of a booking.
type ShipmentInput struct {
	CourierCode string
	ServiceCode string
}

func (o *Orchestrator) BookShipment(ctx context.Context, p permission.Principal, ord order.Order, in ShipmentInput) Outcome {
	in.CourierCode = strings.TrimSpace(in.CourierCode)
	in.ServiceCode = strings.TrimSpace(in.ServiceCode)

	return o.Run(ctx, Plan{
		Order:      ord,
		Principal:  p,
		Action:     ActionShip,
		Title:      Title(ActionShip),
		Capability: Capability(ActionShip),
		Gate: func(cur order.Order) error {
			if in.CourierCode == "" {
				return orderops.ValidationError("courier code required", "courier_code")
			}
			if in.ServiceCode == "" {
				return orderops.ValidationError("service code required", "service_code")
			}
			return Gate(ActionShip, cur)
		},
		Payload: in,
		Primary: func(ctx context.Context, exec *Execution) (backend.Result, error) {
			return exec.Client.BookShipment(ctx, backend.ShipmentRequest{
				OrderID:        ord.ID,
				CourierCode:    in.CourierCode,
				ServiceCode:    in.ServiceCode,
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Effects: []Effect{{
			Name: StepAuditEvent,
			Run: func(ctx context.Context, exec *Execution) error {
				ref := alias.String(exec.Result.Body, "shipmentId", "shipment_id", "trackingNumber", "tracking_number", "id")
				if ref == "" && exec.Result.Order != nil {
					ref = exec.Result.Order.ShipmentRef
				}
				return AppendEvent(ctx, exec, order.EventShipment,
					fmt.Sprintf("Shipment booked with %s (%s)", in.CourierCode, in.ServiceCode),
					map[string]any{
						"courier_code": in.CourierCode,
						"service_code": in.ServiceCode,
						"shipment_ref": ref,
					})
			},
		}},
		Refresh: true,
		Success: fmt.Sprintf("Shipment booked for order %s.", ord.Label()),
	})
}

// AddNote appends an internal NOTE event.
func (o *Orchestrator) AddNote(ctx context.Context, p permission.Principal, ord order.Order, text string) Outcome {
	text = strings.TrimSpace(text)
	return o.Run(ctx, Plan{
		Order:      ord,
		Principal:  p,
		Action:     ActionNote,
		Title:      Title(ActionNote),
		Capability: Capability(ActionNote),
		Gate: func(order.Order) error {
			if text == "" {
				return orderops.ValidationError("note text required", "note")
			}
			return nil
		},
		Payload: text,
		Primary: func(ctx context.Context, exec *Execution) (backend.Result, error) {
			return exec.Client.AppendEvent(ctx, backend.EventRequest{
				OrderID:        ord.ID,
				Event:          newEvent(exec, order.EventNote, text, nil),
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Refresh: true,
		Success: fmt.Sprintf("Note added to order %s.", ord.Label()),
	})
}

// SetRejectOverride toggles the per-order flag that allows rejecting a
// confirmed order. Only administrators may set it.
func (o *Orchestrator) SetRejectOverride(ctx context.Context, p permission.Principal, ord order.Order, enabled bool) Outcome {
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	return o.Run(ctx, Plan{
		Order:      ord,
		Principal:  p,
		Action:     ActionOverride,
		Title:      Title(ActionOverride),
		Capability: Capability(ActionOverride),
		Gate: func(cur order.Order) error {
			if err := permission.RequireRole(p, permission.RoleAdmin); err != nil {
				return err
			}
			return Gate(ActionOverride, cur)
		},
		Payload: enabled,
		Primary: func(ctx context.Context, exec *Execution) (backend.Result, error) {
			return exec.Client.SetOverride(ctx, backend.OverrideRequest{
				OrderID:        ord.ID,
				Enabled:        enabled,
				ActorID:        p.ActorID,
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Effects: []Effect{{
			Name: StepAuditEvent,
			Run: func(ctx context.Context, exec *Execution) error {
				return AppendEvent(ctx, exec, order.EventOverride, "Reject override "+verb,
					map[string]any{"enabled": enabled, "actor_id": p.ActorID})
			},
		}},
		Refresh: true,
		Success: fmt.Sprintf("Reject override %s for order %s.", verb, ord.Label()),
	})
}

// AppendEvent records an audit event for the running invocation.
func AppendEvent(ctx context.Context, exec *Execution, kind order.EventKind, message string, meta map[string]any) error {
	_, err := exec.Client.AppendEvent(ctx, backend.EventRequest{
		OrderID:        exec.Order.ID,
		Event:          newEvent(exec, kind, message, meta),
		IdempotencyKey: exec.KeyFor("event"),
	})
	return err
}

func newEvent(exec *Execution, kind order.EventKind, message string, meta map[string]any) order.Event {
	return order.Event{
		Kind:      kind,
		Message:   message,
		Metadata:  meta,
		Timestamp: exec.At,
		ActorRole: string(exec.Principal.Role),
	}
}
