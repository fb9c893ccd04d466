// Package rejection implements the order rejection workflow: an
// authoritative reject followed by best-effort customer apology, in-app
// notice and audit event.
package rejection

import (
	"fmt"
	"strings"

	orderops "github.com/goliatone/go-orderops"
)

// DefaultReasons is used when configuration does not provide a catalog.
var DefaultReasons = []string{
	"Item out of stock",
	"Payment could not be verified",
	"Shipping address not serviceable",
	"Suspected fraudulent order",
	"Pricing error on the listing",
	"Customer requested cancellation",
}

// Reason is one catalog entry. Code is derived from its catalog position.
type Reason struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// Catalog is the fixed, ordered list of rejection reasons.
type Catalog struct {
	reasons []Reason
	index   map[string]int
}

// NewCatalog assigns codes R01, R02... in the given order. Blank and
// duplicate texts are skipped.
func NewCatalog(texts ...string) *Catalog {
	c := &Catalog{index: make(map[string]int)}
	for _, raw := range texts {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		if _, ok := c.index[strings.ToLower(text)]; ok {
			continue
		}
		r := Reason{Code: fmt.Sprintf("R%02d", len(c.reasons)+1), Text: text}
		c.index[strings.ToLower(text)] = len(c.reasons)
		c.index[strings.ToLower(r.Code)] = len(c.reasons)
		c.reasons = append(c.reasons, r)
	}
	return c
}

// DefaultCatalog builds a catalog from DefaultReasons.
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultReasons...)
}

// Reasons returns a copy of the catalog in its fixed order.
func (c *Catalog) Reasons() []Reason {
	out := make([]Reason, len(c.reasons))
	copy(out, c.reasons)
	return out
}

// Lookup resolves a reason by code or text, case-insensitively.
func (c *Catalog) Lookup(codeOrText string) (Reason, bool) {
	i, ok := c.index[strings.ToLower(strings.TrimSpace(codeOrText))]
	if !ok {
		return Reason{}, false
	}
	return c.reasons[i], true
}

// Select builds a selection from codes or texts. Unknown values are a
// validation error.
func (c *Catalog) Select(values ...string) (Selection, error) {
	sel := c.Empty()
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if !sel.Add(v) {
			return sel, orderops.ValidationError("unknown rejection reason "+v, "reasons")
		}
	}
	return sel, nil
}

// Empty returns a selection with nothing picked.
func (c *Catalog) Empty() Selection {
	return Selection{catalog: c, picked: make(map[int]struct{})}
}

// Selection is an unordered set of picked reasons. Reasons and codes
// always come back in catalog order.
type Selection struct {
	catalog *Catalog
	picked  map[int]struct{}
}

// Add picks a reason by code or text and reports whether it exists.
func (s Selection) Add(codeOrText string) bool {
	if s.catalog == nil {
		return false
	}
	i, ok := s.catalog.index[strings.ToLower(strings.TrimSpace(codeOrText))]
	if ok {
		s.picked[i] = struct{}{}
	}
	return ok
}

func (s Selection) Remove(codeOrText string) {
	if s.catalog == nil {
		return
	}
	if i, ok := s.catalog.index[strings.ToLower(strings.TrimSpace(codeOrText))]; ok {
		delete(s.picked, i)
	}
}

// Toggle flips a reason and reports whether it is now picked.
func (s Selection) Toggle(codeOrText string) bool {
	if s.Has(codeOrText) {
		s.Remove(codeOrText)
		return false
	}
	return s.Add(codeOrText)
}

func (s Selection) Has(codeOrText string) bool {
	if s.catalog == nil {
		return false
	}
	i, ok := s.catalog.index[strings.ToLower(strings.TrimSpace(codeOrText))]
	if !ok {
		return false
	}
	_, picked := s.picked[i]
	return picked
}

func (s Selection) Len() int   { return len(s.picked) }
func (s Selection) Empty() bool { return len(s.picked) == 0 }

// Reasons returns the picked reasons in catalog order.
func (s Selection) Reasons() []Reason {
	if s.catalog == nil {
		return nil
	}
	var out []Reason
	for i, r := range s.catalog.reasons {
		if _, ok := s.picked[i]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s Selection) Texts() []string {
	var out []string
	for _, r := range s.Reasons() {
		out = append(out, r.Text)
	}
	return out
}

func (s Selection) Codes() []string {
	var out []string
	for _, r := range s.Reasons() {
		out = append(out, r.Code)
	}
	return out
}
