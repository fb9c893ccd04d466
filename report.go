package orderops

import (
	"fmt"
	"strings"
)

// ReportType is the severity of an ActionReport.
type ReportType string

const (
	ReportInfo    ReportType = "info"
	ReportSuccess ReportType = "success"
	ReportWarning ReportType = "warning"
	ReportError   ReportType = "error"
)

// ActionReport is the single user-facing result of one operation. It is
// anchored next to the control that triggered it and never persisted.
type ActionReport struct {
	Type    ReportType `json:"type"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Details []string   `json:"details,omitempty"`
	Anchor  string     `json:"anchor,omitempty"`
	Code    string     `json:"code,omitempty"`
	Kind    ErrorKind  `json:"kind,omitempty"`
}

// Anchor returns the UI anchor for an order action control.
func Anchor(orderID, action string) string {
	orderID = strings.TrimSpace(orderID)
	action = strings.TrimSpace(action)
	if orderID == "" {
		return "action-" + action
	}
	return fmt.Sprintf("order-%s-%s", orderID, action)
}

// ErrorReport builds an error report for err, titling permission
// failures and lock contention distinctly from generic failures.
func ErrorReport(title, anchor string, err error) ActionReport {
	kind := KindOf(err)
	report := ActionReport{
		Type:   ReportError,
		Title:  title,
		Anchor: anchor,
		Code:   ErrorCode(err),
		Kind:   kind,
	}
	if err != nil {
		report.Message = err.Error()
	}

	switch kind {
	case KindPermissionDenied:
		report.Title = "Permission denied"
	case KindLockContention:
		report.Type = ReportWarning
		report.Title = "Already running"
		report.Message = "This action is already in progress for the order."
	}
	return report
}

func (r ActionReport) IsSuccess() bool { return r.Type == ReportSuccess }

func (r ActionReport) String() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(r.Type)))
	if r.Title != "" {
		b.WriteString(" ")
		b.WriteString(r.Title)
	}
	if r.Message != "" {
		b.WriteString(": ")
		b.WriteString(r.Message)
	}
	for _, d := range r.Details {
		b.WriteString("\n  - ")
		b.WriteString(d)
	}
	return b.String()
}
