// Package audit renders an order's event history. It only reads.
package audit

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-orderops/alias"
	"github.com/goliatone/go-orderops/order"
)

// Entry is one rendered trail line.
type Entry struct {
	ID        string          `json:"id,omitempty"`
	Kind      order.EventKind `json:"kind"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	ActorRole string          `json:"actor_role,omitempty"`
	Details   *Details        `json:"details,omitempty"`
}

// Details is the structured metadata shown for status changes and
// rejections.
type Details struct {
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	Codes   []string `json:"codes,omitempty"`
	Note    string   `json:"note,omitempty"`
}

func (d *Details) empty() bool {
	return d.From == "" && d.To == "" && len(d.Reasons) == 0 && len(d.Codes) == 0 && d.Note == ""
}

// Build returns events newest first. Events with equal timestamps keep
// their original relative order.
func Build(events []order.Event) []Entry {
	entries := make([]Entry, 0, len(events))
	for _, e := range events {
		entries = append(entries, Entry{
			ID:        e.ID,
			Kind:      e.Kind,
			Message:   e.Message,
			Timestamp: e.Timestamp,
			ActorRole: e.ActorRole,
			Details:   details(e),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries
}

func details(e order.Event) *Details {
	if e.Kind != order.EventStatusChange && e.Kind != order.EventReject {
		return nil
	}
	if len(e.Metadata) == 0 {
		return nil
	}
	d := &Details{
		From:    alias.String(e.Metadata, "from", "previousStatus", "previous_status", "fromStatus"),
		To:      alias.String(e.Metadata, "to", "status", "newStatus", "new_status", "toStatus"),
		Reasons: alias.Strings(e.Metadata, "reasons", "reasonTexts", "reason_texts", "reason"),
		Codes:   alias.Strings(e.Metadata, "codes", "reasonCodes", "reason_codes"),
		Note:    alias.String(e.Metadata, "note", "internalNote", "internal_note", "comment"),
	}
	if d.empty() {
		return nil
	}
	return d
}

// WriteText renders entries as an aligned table.
func WriteText(w io.Writer, entries []Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tBY\tMESSAGE")
	for _, e := range entries {
		when := "-"
		if !e.Timestamp.IsZero() {
			when = e.Timestamp.UTC().Format("2006-01-02 15:04:05")
		}
		by := e.ActorRole
		if by == "" {
			by = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", when, e.Kind, by, e.Message)
		if e.Details == nil {
			continue
		}
		if e.Details.From != "" || e.Details.To != "" {
			fmt.Fprintf(tw, "\t\t\tstatus: %s -> %s\n", orDash(e.Details.From), orDash(e.Details.To))
		}
		if len(e.Details.Reasons) > 0 {
			fmt.Fprintf(tw, "\t\t\treasons: %s\n", strings.Join(e.Details.Reasons, "; "))
		}
		if len(e.Details.Codes) > 0 {
			fmt.Fprintf(tw, "\t\t\tcodes: %s\n", strings.Join(e.Details.Codes, ", "))
		}
		if e.Details.Note != "" {
			fmt.Fprintf(tw, "\t\t\tnote: %s\n", e.Details.Note)
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
