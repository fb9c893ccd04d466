package rejection

import (
	"fmt"
	"strings"
)

// ApologyDraft is the customer-facing message. While Auto is set the text
// follows the selected reasons; a manual edit clears it until Reset.
type ApologyDraft struct {
	Text string `json:"text"`
	Auto bool   `json:"auto"`
}

// NewApologyDraft composes an automatic draft for sel.
func NewApologyDraft(orderLabel string, sel Selection) ApologyDraft {
	return ApologyDraft{Text: ComposeApology(orderLabel, sel.Reasons()), Auto: true}
}

// Edit replaces the text and stops automatic updates.
func (d *ApologyDraft) Edit(text string) {
	d.Text = text
	d.Auto = false
}

// Reset discards manual edits and recomposes from sel.
func (d *ApologyDraft) Reset(orderLabel string, sel Selection) {
	d.Auto = true
	d.Text = ComposeApology(orderLabel, sel.Reasons())
}

// Sync recomposes the text after the selection changed, unless the
// operator edited it.
func (d *ApologyDraft) Sync(orderLabel string, sel Selection) {
	if d.Auto {
		d.Text = ComposeApology(orderLabel, sel.Reasons())
	}
}

// ComposeApology writes the default apology for reasons.
func ComposeApology(orderLabel string, reasons []Reason) string {
	var b strings.Builder
	if orderLabel == "" {
		b.WriteString("We are sorry, but we were unable to fulfil your order.")
	} else {
		fmt.Fprintf(&b, "We are sorry, but we were unable to fulfil your order %s.", orderLabel)
	}
	switch len(reasons) {
	case 0:
	case 1:
		fmt.Fprintf(&b, " Reason: %s.", strings.TrimSuffix(reasons[0].Text, "."))
	default:
		b.WriteString(" Reasons:")
		for _, r := range reasons {
			fmt.Fprintf(&b, "\n- %s", strings.TrimSuffix(r.Text, "."))
		}
	}
	b.WriteString("\nAny payment taken will be refunded. We apologise for the inconvenience.")
	return b.String()
}
