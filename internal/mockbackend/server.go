// Package mockbackend is an in-memory order service speaking the endpoint
// shapes the backend client probes. It backs tests and `orderctl
// mock-backend`. Routes can be disabled (404) or scripted to fail so the
// fallback protocol can be exercised end to end.
package mockbackend

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/goliatone/go-orderops/status"
)

// SeedOrder describes an order loaded into the server.
type SeedOrder struct {
	ID               string
	Number           string
	Status           string
	PaymentStatus    string
	CustomerID       string
	CustomerEmail    string
	CustomerName     string
	Total            float64
	Currency         string
	ElevatedOverride bool
	Items            []SeedItem
	Events           []SeedEvent
}

type SeedItem struct {
	SKU      string
	Name     string
	Quantity int
	Price    float64
}

type SeedEvent struct {
	Kind      string
	Message   string
	Metadata  map[string]any
	At        time.Time
	ActorRole string
}

// Delivery is a recorded apology or in-app notification.
type Delivery struct {
	Route   string
	OrderID string
	Body    map[string]any
}

type failure struct {
	status int
	body   map[string]any
}

type replay struct {
	status int
	body   any
}

type record struct {
	SeedOrder
	shipmentID string
	events     []map[string]any
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOrders seeds orders at construction.
func WithOrders(orders ...SeedOrder) Option {
	return func(s *Server) {
		for _, o := range orders {
			s.seed(o)
		}
	}
}

// WithDisabled answers 404 on the named routes.
func WithDisabled(routes ...string) Option {
	return func(s *Server) {
		for _, r := range routes {
			s.disabled[r] = true
		}
	}
}

// Server is the mock order service.
type Server struct {
	mu         sync.Mutex
	orders     map[string]*record
	calls      map[string]int
	disabled   map[string]bool
	failures   map[string]failure
	delays     map[string]time.Duration
	replays    map[string]replay
	deliveries []Delivery
	now        func() time.Time
	router     chi.Router
}

func New(opts ...Option) *Server {
	s := &Server{
		orders:   make(map[string]*record),
		calls:    make(map[string]int),
		disabled: make(map[string]bool),
		failures: make(map[string]failure),
		delays:   make(map[string]time.Duration),
		replays:  make(map[string]replay),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Seed adds or replaces an order.
func (s *Server) Seed(o SeedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed(o)
}

func (s *Server) seed(o SeedOrder) {
	rec := &record{SeedOrder: o}
	for _, e := range o.Events {
		at := e.At
		if at.IsZero() {
			at = s.now()
		}
		rec.events = append(rec.events, map[string]any{
			"id":        ulid.Make().String(),
			"type":      e.Kind,
			"message":   e.Message,
			"metadata":  e.Metadata,
			"createdAt": at.UTC().Format(time.RFC3339Nano),
			"actorRole": e.ActorRole,
		})
	}
	s.orders[o.ID] = rec
}

// Disable makes the named routes answer 404.
func (s *Server) Disable(routes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range routes {
		s.disabled[r] = true
	}
}

// Fail scripts the named route to answer status with body.
func (s *Server) Fail(route string, status int, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, body: body}
}

// Delay holds the named route's answer for d.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[route] = d
}

// Calls returns how often the named route was hit, disabled hits included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// MutatingCalls counts hits on every non-GET route.
func (s *Server) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for route, n := range s.calls {
		if !strings.HasPrefix(route, "order-") {
			total += n
		}
	}
	return total
}

// Deliveries lists recorded apology and in-app deliveries.
func (s *Server) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// Status returns the stored status of an order.
func (s *Server) Status(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.orders[orderID]; ok {
		return rec.Status
	}
	return ""
}

// Events returns the stored events of an order, oldest first.
func (s *Server) Events(orderID string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(rec.events))
	copy(out, rec.events)
	return out
}

// OrderIDs lists seeded order ids, sorted.
func (s *Server) OrderIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type handlerFunc func(r *http.Request, body map[string]any) (int, any)

// route wraps h with call counting, disabling, scripted failures and
// idempotent replay keyed on the Idempotency-Key header.
func (s *Server) route(name string, h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		disabled := s.disabled[name]
		fail, failing := s.failures[name]
		delay := s.delays[name]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if disabled {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		if failing {
			writeJSON(w, fail.status, fail.body)
			return
		}

		var body map[string]any
		if r.Body != nil && r.Method != http.MethodGet {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		key := r.Header.Get("Idempotency-Key")
		replayKey := name + "|" + key
		if key != "" {
			s.mu.Lock()
			prev, seen := s.replays[replayKey]
			s.mu.Unlock()
			if seen {
				w.Header().Set("Idempotent-Replayed", "true")
				writeJSON(w, prev.status, prev.body)
				return
			}
		}

		code, payload := h(r, body)
		if key != "" && code < 300 {
			s.mu.Lock()
			s.replays[replayKey] = replay{status: code, body: payload}
			s.mu.Unlock()
		}
		writeJSON(w, code, payload)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/orders/{id}", s.route("order-expanded", s.getOrder))
	r.Get("/orders", s.route("order-query", s.queryOrder))

	r.Post("/orders/{id}/reject", s.route("reject-dedicated", s.reject))
	r.Post("/orders/{id}/payment/capture", s.route("payment-capture", s.capture))
	r.Patch("/orders/{id}/payment", s.route("payment-patch", s.capture))
	r.Post("/orders/{id}/shipments", s.route("shipment-order", s.ship))
	r.Post("/shipments", s.route("shipment-generic", s.shipGeneric))
	r.Post("/orders/{id}/events", s.route("event-order", s.appendEvent))
	r.Post("/orders/{id}/history", s.route("event-history", s.appendEvent))
	r.Post("/orders/{id}/overrides/reject", s.route("override-dedicated", s.override))

	r.Post("/orders/{id}/apology", s.route("apology-order", s.deliver("apology-order")))
	r.Post("/orders/{id}/notifications/apology", s.route("apology-order-notification", s.deliver("apology-order-notification")))
	r.Post("/orders/{id}/emails", s.route("apology-order-email", s.deliver("apology-order-email")))
	r.Post("/notifications/email", s.route("apology-email", s.deliver("apology-email")))

	r.Post("/customers/{cid}/notifications", s.route("inapp-customer", s.deliver("inapp-customer")))
	r.Post("/users/{cid}/notifications", s.route("inapp-user", s.deliver("inapp-user")))
	r.Post("/customers/{cid}/inbox", s.route("inapp-inbox", s.deliver("inapp-inbox")))
	r.Post("/orders/{id}/notifications", s.route("inapp-order", s.deliver("inapp-order")))
	r.Post("/orders/{id}/notify", s.route("inapp-order-notify", s.deliver("inapp-order-notify")))
	r.Post("/notifications/in-app", s.route("inapp-generic", s.deliver("inapp-generic")))
	r.Post("/notifications", s.notifications())

	r.Post("/orders/{id}/{action}", s.route("status-action", s.statusAction))
	r.Patch("/orders/{id}", s.patchOrder())

	return r
}

// notifications dispatches the generic notification route on its channel.
func (s *Server) notifications() http.HandlerFunc {
	email := s.route("apology-notification", s.deliver("apology-notification"))
	inApp := s.route("inapp-notification", s.deliver("inapp-notification"))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel") == "email" || peekChannel(r) == "email" {
			email(w, r)
			return
		}
		inApp(w, r)
	}
}

// patchOrder dispatches PATCH /orders/{id} on the body: an action, or an
// override flag.
func (s *Server) patchOrder() http.HandlerFunc {
	status := s.route("status-patch", s.statusAction)
	rejectPatch := s.route("reject-patch", s.reject)
	cancelPatch := s.route("reject-cancel", s.reject)
	override := s.route("override-patch", s.override)
	return func(w http.ResponseWriter, r *http.Request) {
		body := peekBody(r)
		switch {
		case hasKey(body, "elevatedOverride"):
			override(w, r)
		case body["action"] == "reject":
			rejectPatch(w, r)
		case body["action"] == "cancel" && hasKey(body, "reasons"):
			cancelPatch(w, r)
		default:
			status(w, r)
		}
	}
}

func (s *Server) getOrder(r *http.Request, _ map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[chi.URLParam(r, "id")]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	return http.StatusOK, map[string]any{"data": s.render(rec)}
}

func (s *Server) queryOrder(r *http.Request, _ map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[r.URL.Query().Get("id")]
	if !ok {
		return http.StatusOK, map[string]any{"data": []any{}}
	}
	return http.StatusOK, map[string]any{"data": []any{s.render(rec)}}
}

var actionTargets = map[string]status.Status{
	"confirm":  status.Confirmed,
	"complete": status.Completed,
	"cancel":   status.Cancelled,
	"reject":   status.Cancelled,
}

func (s *Server) statusAction(r *http.Request, body map[string]any) (int, any) {
	action := chi.URLParam(r, "action")
	if action == "" {
		action, _ = body["action"].(string)
	}
	target, ok := actionTargets[action]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "unknown action"}
	}
	return s.transition(chi.URLParam(r, "id"), target, false)
}

func (s *Server) reject(r *http.Request, _ map[string]any) (int, any) {
	return s.transition(chi.URLParam(r, "id"), status.Cancelled, true)
}

func (s *Server) transition(orderID string, target status.Status, reject bool) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	current := status.Normalize(rec.Status)
	if reject && current == status.Confirmed && !rec.ElevatedOverride {
		return http.StatusConflict, map[string]any{"error": "rejecting a confirmed order requires an override"}
	}
	if !status.CanTransition(string(current), string(target)) {
		return http.StatusConflict, map[string]any{
			"error": "cannot move order from " + string(current) + " to " + string(target),
		}
	}
	rec.Status = string(target)
	return http.StatusOK, map[string]any{"ok": true, "order": s.render(rec)}
}

func (s *Server) capture(r *http.Request, _ map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[chi.URLParam(r, "id")]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	if strings.EqualFold(rec.PaymentStatus, "CAPTURED") {
		return http.StatusConflict, map[string]any{"error": "payment already captured"}
	}
	rec.PaymentStatus = "CAPTURED"
	return http.StatusOK, map[string]any{"ok": true, "order": s.render(rec)}
}

func (s *Server) ship(r *http.Request, body map[string]any) (int, any) {
	return s.book(chi.URLParam(r, "id"), body)
}

func (s *Server) shipGeneric(_ *http.Request, body map[string]any) (int, any) {
	id, _ := body["orderId"].(string)
	return s.book(id, body)
}

func (s *Server) book(orderID string, body map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[orderID]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	courier, _ := body["courierCode"].(string)
	if courier == "" {
		return http.StatusUnprocessableEntity, map[string]any{"error": "courierCode required"}
	}
	rec.shipmentID = ulid.Make().String()
	return http.StatusCreated, map[string]any{
		"ok":          true,
		"shipmentId":  rec.shipmentID,
		"courierCode": courier,
		"serviceCode": body["serviceCode"],
		"order":       s.render(rec),
	}
}

func (s *Server) appendEvent(r *http.Request, body map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[chi.URLParam(r, "id")]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	kind, _ := body["kind"].(string)
	if kind == "" {
		return http.StatusUnprocessableEntity, map[string]any{"error": "kind required"}
	}
	at, _ := body["timestamp"].(string)
	if at == "" {
		at = s.now().UTC().Format(time.RFC3339Nano)
	}
	evt := map[string]any{
		"id":        ulid.Make().String(),
		"type":      kind,
		"message":   body["message"],
		"metadata":  body["metadata"],
		"createdAt": at,
		"actorRole": body["actorRole"],
	}
	rec.events = append(rec.events, evt)
	return http.StatusCreated, map[string]any{"ok": true, "event": evt}
}

func (s *Server) override(r *http.Request, body map[string]any) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[chi.URLParam(r, "id")]
	if !ok {
		return http.StatusNotFound, map[string]any{"error": "order not found"}
	}
	enabled, _ := body["enabled"].(bool)
	if v, ok := body["elevatedOverride"].(bool); ok {
		enabled = v
	}
	rec.ElevatedOverride = enabled
	return http.StatusOK, map[string]any{"ok": true, "order": s.render(rec)}
}

func (s *Server) deliver(route string) handlerFunc {
	return func(r *http.Request, body map[string]any) (int, any) {
		orderID := chi.URLParam(r, "id")
		if orderID == "" {
			orderID, _ = body["orderId"].(string)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.orders[orderID]; !ok && orderID != "" {
			return http.StatusNotFound, map[string]any{"error": "order not found"}
		}
		s.deliveries = append(s.deliveries, Delivery{Route: route, OrderID: orderID, Body: body})
		return http.StatusAccepted, map[string]any{"ok": true, "id": ulid.Make().String()}
	}
}

// render writes an order in the camelCase shape most deployments use.
func (s *Server) render(rec *record) map[string]any {
	items := make([]any, 0, len(rec.Items))
	for _, it := range rec.Items {
		items = append(items, map[string]any{
			"sku":      it.SKU,
			"name":     it.Name,
			"quantity": it.Quantity,
			"price":    it.Price,
		})
	}
	events := make([]any, 0, len(rec.events))
	for _, e := range rec.events {
		events = append(events, e)
	}
	out := map[string]any{
		"id":               rec.ID,
		"orderNumber":      rec.Number,
		"status":           rec.Status,
		"paymentStatus":    rec.PaymentStatus,
		"elevatedOverride": rec.ElevatedOverride,
		"customer": map[string]any{
			"id":    rec.CustomerID,
			"name":  rec.CustomerName,
			"email": rec.CustomerEmail,
		},
		"totals": map[string]any{
			"total":    rec.Total,
			"currency": rec.Currency,
		},
		"items":  items,
		"events": events,
	}
	if rec.shipmentID != "" {
		out["shipmentId"] = rec.shipmentID
	}
	return out
}

// peekBody decodes the JSON body and restores it for the next handler.
func peekBody(r *http.Request) map[string]any {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	return body
}

func peekChannel(r *http.Request) string {
	channel, _ := peekBody(r)["channel"].(string)
	return strings.ToLower(channel)
}

func hasKey(body map[string]any, key string) bool {
	_, ok := body[key]
	return ok
}
