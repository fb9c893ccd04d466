// Package permission evaluates the capability set handed over by the
// session collaborator. It does not resolve sessions or store grants.
package permission

import (
	"context"
	"strings"

	orderops "github.com/goliatone/go-orderops"
)

// Capability is a discrete grant checked before an order action runs.
type Capability string

const (
	CapConfirm  Capability = "orders.confirm"
	CapComplete Capability = "orders.complete"
	CapCancel   Capability = "orders.cancel"
	CapReject   Capability = "orders.reject"
	CapCapture  Capability = "orders.payment.capture"
	CapShip     Capability = "orders.shipment.book"
	CapNote     Capability = "orders.note"
	CapOverride Capability = "orders.override"
)

// AllCapabilities lists every capability the console checks.
var AllCapabilities = []Capability{
	CapConfirm, CapComplete, CapCancel, CapReject,
	CapCapture, CapShip, CapNote, CapOverride,
}

// Role is the coarse classification used for elevated overrides.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleUnknown  Role = "unknown"
)

var roleAliases = map[string]Role{
	"admin":       RoleAdmin,
	"owner":       RoleAdmin,
	"superadmin":  RoleAdmin,
	"super_admin": RoleAdmin,
	"operator":    RoleOperator,
	"ops":         RoleOperator,
	"staff":       RoleOperator,
	"support":     RoleOperator,
	"manager":     RoleOperator,
	"viewer":      RoleViewer,
	"readonly":    RoleViewer,
	"read_only":   RoleViewer,
	"marketing":   RoleViewer,
}

var rolePrecedence = map[Role]int{
	RoleUnknown:  0,
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ClassifyRole collapses raw role names into the strongest known Role.
func ClassifyRole(raw []string) Role {
	best := RoleUnknown
	for _, val := range raw {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(val)), "-", "_")
		role, ok := roleAliases[key]
		if !ok {
			continue
		}
		if rolePrecedence[role] > rolePrecedence[best] {
			best = role
		}
	}
	return best
}

// Principal is the acting operator.
type Principal struct {
	ActorID      string       `json:"actor_id,omitempty"`
	Role         Role         `json:"role"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// NewPrincipal builds a principal from raw session values, dropping blank
// and duplicate capabilities.
func NewPrincipal(actorID string, roles []string, capabilities []string) Principal {
	p := Principal{
		ActorID: strings.TrimSpace(actorID),
		Role:    ClassifyRole(roles),
	}
	seen := make(map[Capability]struct{}, len(capabilities))
	for _, raw := range capabilities {
		c := Capability(strings.ToLower(strings.TrimSpace(raw)))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		p.Capabilities = append(p.Capabilities, c)
	}
	return p
}

// Has reports whether the principal lists capability explicitly.
func (p Principal) Has(capability Capability) bool {
	for _, c := range p.Capabilities {
		if c == capability || c == "*" {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Decision is the outcome of one check.
type Decision struct {
	Allowed  bool
	FailOpen bool
	Reason   string
}

// Checker evaluates capabilities. An empty capability set grants
// everything while FailOpen is set; every such grant is logged at WARN.
type Checker struct {
	FailOpen bool
	Logger   orderops.Logger
}

// NewChecker returns a checker; failOpen keeps the legacy behaviour of
// treating an unknown capability set as grant-all.
func NewChecker(failOpen bool, logger orderops.Logger) *Checker {
	return &Checker{FailOpen: failOpen, Logger: orderops.NormalizeLogger(logger)}
}

// Check decides whether p may use capability.
func (c *Checker) Check(ctx context.Context, p Principal, capability Capability) Decision {
	if capability == "" {
		return Decision{Allowed: true}
	}
	if len(p.Capabilities) == 0 {
		if c != nil && c.FailOpen {
			c.logger(ctx).Warn(
				"permission fail-open: actor %q has no capability set, granting %s",
				p.ActorID, capability,
			)
			return Decision{
				Allowed:  true,
				FailOpen: true,
				Reason:   "no capability set provided, access granted by fail-open policy",
			}
		}
		return Decision{Reason: "no capability set provided"}
	}
	if p.Has(capability) {
		return Decision{Allowed: true}
	}
	return Decision{Reason: "missing capability " + string(capability)}
}

// Require returns a PermissionDenied error when the check fails.
func (c *Checker) Require(ctx context.Context, p Principal, capability Capability) (Decision, error) {
	decision := c.Check(ctx, p, capability)
	if decision.Allowed {
		return decision, nil
	}
	return decision, orderops.NewError(orderops.ErrPermissionDenied, decision.Reason, nil, map[string]any{
		"capability": string(capability),
		"actor_id":   p.ActorID,
	})
}

// RequireRole returns a PermissionDenied error unless p has role or
// stronger.
func RequireRole(p Principal, role Role) error {
	if rolePrecedence[p.Role] >= rolePrecedence[role] {
		return nil
	}
	return orderops.NewError(orderops.ErrPermissionDenied, "role "+string(role)+" required", nil, map[string]any{
		"role":     string(p.Role),
		"actor_id": p.ActorID,
	})
}

func (c *Checker) logger(ctx context.Context) orderops.Logger {
	var logger orderops.Logger
	if c != nil {
		logger = c.Logger
	}
	logger = orderops.NormalizeLogger(logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}
