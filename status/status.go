// Package status holds the order lifecycle policy: canonical statuses,
// synonym normalization and the transition graph. Every decision about
// what an operator may do with an order goes through Normalize first.
package status

import "strings"

// Status is a canonical, deployment independent lifecycle value.
type Status string

const (
	Draft     Status = "DRAFT"
	Placed    Status = "PLACED"
	Confirmed Status = "CONFIRMED"
	Completed Status = "COMPLETED"
	Cancelled Status = "CANCELLED"
	Archived  Status = "ARCHIVED"
)

// All lists the canonical statuses in lifecycle order.
var All = []Status{Draft, Placed, Confirmed, Completed, Cancelled, Archived}

var transitions = map[Status][]Status{
	Draft:     {Placed, Cancelled},
	Placed:    {Confirmed, Cancelled},
	Confirmed: {Completed, Cancelled},
	Completed: {},
	Cancelled: {},
	Archived:  {},
}

var synonyms = map[string]Status{
	"PENDING":              Placed,
	"PENDING_CONFIRMATION": Placed,
	"PENDING_APPROVAL":     Placed,
	"APPROVED":             Confirmed,
	"DELIVERED":            Completed,
	"FULFILLED":            Completed,
	"REJECTED":             Cancelled,
	"CANCELED":             Cancelled,
}

var labels = map[Status]string{
	Draft:     "Draft",
	Placed:    "Placed",
	Confirmed: "Confirmed",
	Completed: "Completed",
	Cancelled: "Cancelled",
	Archived:  "Archived",
}

// Normalize maps a backend status spelling to its canonical value.
// Unknown input is returned uppercased; Normalize never fails and
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) Status {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if canonical, ok := synonyms[key]; ok {
		return canonical
	}
	return Status(key)
}

// Canonical reports whether s is one of the canonical statuses.
func Canonical(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// AllowedNext returns the statuses reachable from raw in one step. The
// result is empty for terminal and unknown statuses.
func AllowedNext(raw string) []Status {
	next := transitions[Normalize(raw)]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is a policy edge.
func CanTransition(from, to string) bool {
	target := Normalize(to)
	for _, s := range transitions[Normalize(from)] {
		if s == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves raw. Unknown statuses
// are terminal as far as the policy is concerned.
func IsTerminal(raw string) bool {
	return len(transitions[Normalize(raw)]) == 0
}

// BeforeConfirmation reports whether raw is a pre-confirmation status.
func BeforeConfirmation(raw string) bool {
	switch Normalize(raw) {
	case Draft, Placed:
		return true
	default:
		return false
	}
}

// Label returns a display label, falling back to the raw value.
func Label(s Status) string {
	if label, ok := labels[s]; ok {
		return label
	}
	return string(s)
}

func (s Status) String() string { return string(s) }
