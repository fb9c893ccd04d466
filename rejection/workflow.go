package rejection

import (
	"context"
	"fmt"
	"strings"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/backend"
	"github.com/goliatone/go-orderops/order"
	"github.com/goliatone/go-orderops/orchestrator"
	"github.com/goliatone/go-orderops/permission"
	"github.com/goliatone/go-orderops/status"
)

// Step names as they appear in warning reports.
const (
	StepApology      = "apology email"
	StepNotification = "in-app notification"
	StepAuditEvent   = "audit event"
)

// Request is one rejection as submitted by the operator. Note stays
// internal and is never sent to the customer.
type Request struct {
	Order     order.Order
	Principal permission.Principal
	Reasons   Selection
	Note      string
	Apology   ApologyDraft
	SendEmail bool
	SendInApp bool
}

// Workflow runs rejections through the orchestrator so they share its
// lock registry, key generator and permission policy.
type Workflow struct {
	orc     *orchestrator.Orchestrator
	catalog *Catalog
}

func New(orc *orchestrator.Orchestrator, catalog *Catalog) *Workflow {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Workflow{orc: orc, catalog: catalog}
}

func (w *Workflow) Catalog() *Catalog { return w.catalog }

// Run rejects the order. The reject call is authoritative: when it fails
// nothing else runs. Apology, in-app notice and audit event run in that
// order and each failure only downgrades the report to a warning.
func (w *Workflow) Run(ctx context.Context, req Request) orchestrator.Outcome {
	return w.orc.Run(ctx, w.Plan(req))
}

// Plan builds the orchestrator plan for req.
func (w *Workflow) Plan(req Request) orchestrator.Plan {
	ord := req.Order
	texts := req.Reasons.Texts()
	codes := req.Reasons.Codes()
	note := strings.TrimSpace(req.Note)
	from := status.Normalize(string(ord.Status))

	apology := req.Apology
	switch {
	case apology.Auto:
		apology.Sync(ord.Label(), req.Reasons)
	case strings.TrimSpace(apology.Text) == "":
		apology.Reset(ord.Label(), req.Reasons)
	}

	var effects []orchestrator.Effect
	if req.SendEmail {
		effects = append(effects, orchestrator.Effect{
			Name: StepApology,
			Run: func(ctx context.Context, exec *orchestrator.Execution) error {
				_, err := exec.Client.DeliverApology(ctx, backend.ApologyRequest{
					OrderID:        ord.ID,
					OrderNumber:    ord.Number,
					CustomerID:     ord.Customer.ID,
					Email:          ord.Customer.Email,
					Subject:        fmt.Sprintf("Your order %s could not be fulfilled", ord.Label()),
					Message:        apology.Text,
					Reasons:        texts,
					Codes:          codes,
					IdempotencyKey: exec.KeyFor("apology"),
				})
				return err
			},
		})
	}
	if req.SendInApp {
		effects = append(effects, orchestrator.Effect{
			Name: StepNotification,
			Run: func(ctx context.Context, exec *orchestrator.Execution) error {
				_, err := exec.Client.DeliverNotification(ctx, backend.NotificationRequest{
					OrderID:        ord.ID,
					CustomerID:     ord.Customer.ID,
					Title:          fmt.Sprintf("Order %s rejected", ord.Label()),
					Message:        apology.Text,
					Kind:           "order_rejected",
					IdempotencyKey: exec.KeyFor("inapp"),
				})
				return err
			},
		})
	}
	effects = append(effects, orchestrator.Effect{
		Name: StepAuditEvent,
		Run: func(ctx context.Context, exec *orchestrator.Execution) error {
			meta := map[string]any{
				"from":    string(from),
				"to":      string(status.Cancelled),
				"reasons": texts,
				"codes":   codes,
			}
			if note != "" {
				meta["note"] = note
			}
			return orchestrator.AppendEvent(ctx, exec, order.EventReject,
				"Order rejected: "+strings.Join(texts, "; "), meta)
		},
	})

	return orchestrator.Plan{
		Order:      ord,
		Principal:  req.Principal,
		Action:     orchestrator.ActionReject,
		Title:      orchestrator.Title(orchestrator.ActionReject),
		Capability: permission.CapReject,
		Target:     status.Cancelled,
		Gate: func(cur order.Order) error {
			if req.Reasons.Empty() {
				return orderops.ValidationError("select at least one rejection reason", "reasons")
			}
			return orchestrator.Gate(orchestrator.ActionReject, cur)
		},
		Payload: codes,
		Primary: func(ctx context.Context, exec *orchestrator.Execution) (backend.Result, error) {
			return exec.Client.Reject(ctx, backend.RejectRequest{
				OrderID:        ord.ID,
				Reasons:        texts,
				Codes:          codes,
				Note:           note,
				IdempotencyKey: exec.Attempt.Key,
			})
		},
		Effects: effects,
		Refresh: true,
		Success: fmt.Sprintf("Order %s rejected.", ord.Label()),
	}
}
