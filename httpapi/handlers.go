package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	orderops "github.com/goliatone/go-orderops"
	"github.com/goliatone/go-orderops/audit"
	"github.com/goliatone/go-orderops/console"
	"github.com/goliatone/go-orderops/orchestrator"
	"github.com/goliatone/go-orderops/permission"
)

// Principal headers set by the authenticating proxy in front of the API.
const (
	HeaderActorID      = "X-Actor-ID"
	HeaderActorRoles   = "X-Actor-Roles"
	HeaderCapabilities = "X-Actor-Capabilities"
)

type actionRequest struct {
	Note        string  `json:"note"`
	Text        string  `json:"text"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Method      string  `json:"method"`
	Reference   string  `json:"reference"`
	CourierCode string  `json:"courier_code"`
	ServiceCode string  `json:"service_code"`
	Enabled     *bool   `json:"enabled"`
}

type rejectRequest struct {
	Reasons   []string `json:"reasons"`
	Note      string   `json:"note"`
	Apology   string   `json:"apology"`
	SendEmail *bool    `json:"send_email"`
	SendInApp *bool    `json:"send_in_app"`
}

type outcomeResponse struct {
	Report         orderops.ActionReport `json:"report"`
	Order          any                   `json:"order,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`
	Phases         []orchestrator.Phase  `json:"phases,omitempty"`
	Failures       []string              `json:"failed_steps,omitempty"`
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	view, err := console.Query[console.GetOrderView, console.View](r.Context(), s.console,
		console.GetOrderView{OrderID: chi.URLParam(r, "orderID")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// getTrail answers JSON, or an aligned text table with ?format=text.
func (s *Server) getTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := console.Query[console.GetTrail, []audit.Entry](r.Context(), s.console,
		console.GetTrail{OrderID: chi.URLParam(r, "orderID")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := audit.WriteText(w, entries); err != nil {
			s.logger.Warn("write trail text: %v", err)
		}
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")
	p := principalFrom(r)

	var out orchestrator.Outcome
	switch action := strings.ToLower(chi.URLParam(r, "action")); action {
	case orchestrator.ActionConfirm:
		out = console.Act(ctx, s.console, console.ConfirmOrder{OrderID: orderID, Principal: p, Note: req.Note})
	case orchestrator.ActionComplete:
		out = console.Act(ctx, s.console, console.CompleteOrder{OrderID: orderID, Principal: p, Note: req.Note})
	case orchestrator.ActionCancel:
		out = console.Act(ctx, s.console, console.CancelOrder{OrderID: orderID, Principal: p, Note: req.Note})
	case orchestrator.ActionCapture:
		out = console.Act(ctx, s.console, console.CapturePayment{
			OrderID: orderID, Principal: p,
			Amount: req.Amount, Currency: req.Currency, Method: req.Method, Reference: req.Reference,
		})
	case orchestrator.ActionShip:
		out = console.Act(ctx, s.console, console.BookShipment{
			OrderID: orderID, Principal: p, CourierCode: req.CourierCode, ServiceCode: req.ServiceCode,
		})
	case orchestrator.ActionNote:
		text := req.Text
		if text == "" {
			text = req.Note
		}
		out = console.Act(ctx, s.console, console.AddNote{OrderID: orderID, Principal: p, Text: text})
	case orchestrator.ActionOverride:
		enabled := req.Enabled == nil || *req.Enabled
		out = console.Act(ctx, s.console, console.SetRejectOverride{OrderID: orderID, Principal: p, Enabled: enabled})
	case orchestrator.ActionReject:
		s.writeError(w, r, orderops.ValidationError("use POST /orders/{id}/reject to reject an order", "action"))
		return
	default:
		s.writeError(w, r, orderops.ValidationError(fmt.Sprintf("unknown action %q", action), "action"))
		return
	}
	s.writeOutcome(w, out)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	out := console.Act(r.Context(), s.console, console.RejectOrder{
		OrderID:   chi.URLParam(r, "orderID"),
		Principal: principalFrom(r),
		Reasons:   req.Reasons,
		Note:      req.Note,
		Apology:   req.Apology,
		SendEmail: req.SendEmail,
		SendInApp: req.SendInApp,
	})
	s.writeOutcome(w, out)
}

func (s *Server) reasons(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reasons": s.console.Reasons()})
}

func (s *Server) busy(w http.ResponseWriter, _ *http.Request) {
	key, busy := s.console.Busy()
	body := map[string]any{"busy": busy}
	if busy {
		body["order_id"] = key.OrderID
		body["action"] = key.Action
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, orderops.ValidationError("invalid JSON body: "+err.Error(), "body"))
		return false
	}
	return true
}

func (s *Server) writeOutcome(w http.ResponseWriter, out orchestrator.Outcome) {
	code := http.StatusOK
	if !out.OK {
		code = StatusFor(out.Report.Kind)
		if code == http.StatusOK {
			code = http.StatusInternalServerError
		}
	}
	resp := outcomeResponse{
		Report:         out.Report,
		IdempotencyKey: out.IdempotencyKey,
		Phases:         out.Phases,
	}
	if out.Order.ID != "" {
		resp.Order = out.Order
	}
	for _, f := range out.Failures {
		resp.Failures = append(resp.Failures, f.Step)
	}
	writeJSON(w, code, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := orderops.KindOf(err)
	code := StatusFor(kind)
	if code >= http.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, code, map[string]any{
		"error":      orderops.ErrorCode(err),
		"kind":       kind,
		"message":    err.Error(),
		"request_id": chimw.GetReqID(r.Context()),
	})
}

// StatusFor maps an error kind to the HTTP status the API answers with.
func StatusFor(kind orderops.ErrorKind) int {
	switch kind {
	case orderops.KindNone:
		return http.StatusOK
	case orderops.KindValidation:
		return http.StatusUnprocessableEntity
	case orderops.KindPermissionDenied:
		return http.StatusForbidden
	case orderops.KindLockContention:
		return http.StatusConflict
	case orderops.KindTransport, orderops.KindApplication:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func principalFrom(r *http.Request) permission.Principal {
	return permission.NewPrincipal(
		r.Header.Get(HeaderActorID),
		splitList(r.Header.Get(HeaderActorRoles)),
		splitList(r.Header.Get(HeaderCapabilities)),
	)
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
