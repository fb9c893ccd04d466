package orderops

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	CodeValidation        = "VALIDATION_FAILED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeActionGated       = "ACTION_GATED"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeAlreadyRunning    = "ACTION_ALREADY_RUNNING"
	CodeTransport         = "TRANSPORT_FAILED"
	CodeEndpointNotFound  = "ENDPOINT_NOT_FOUND"
	CodeApplication       = "APPLICATION_FAILED"
)

var (
	// ErrValidation marks input rejected before any network call.
	ErrValidation = errors.New("validation error", errors.CategoryValidation).
			WithTextCode(CodeValidation)
	// ErrInvalidTransition marks a status change outside the policy edges.
	ErrInvalidTransition = errors.New("invalid status transition", errors.CategoryValidation).
				WithTextCode(CodeInvalidTransition)
	// ErrActionGated marks an action disabled for the order's current state.
	ErrActionGated = errors.New("action not available for order", errors.CategoryValidation).
			WithTextCode(CodeActionGated)
	ErrPermissionDenied = errors.New("permission denied", errors.CategoryAuthz).
				WithTextCode(CodePermissionDenied)
	// ErrAlreadyRunning is returned when the same order action is in flight.
	ErrAlreadyRunning = errors.New("action already running", errors.CategoryConflict).
				WithTextCode(CodeAlreadyRunning)
	ErrTransport = errors.New("transport failure", errors.CategoryExternal).
			WithTextCode(CodeTransport)
	// ErrEndpointNotFound is returned when no candidate endpoint exists.
	ErrEndpointNotFound = errors.New("endpoint not found", errors.CategoryExternal).
				WithTextCode(CodeEndpointNotFound)
	ErrApplication = errors.New("backend rejected request", errors.CategoryExternal).
			WithTextCode(CodeApplication)
)

// ErrorKind is the coarse failure class used to build reports.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindValidation       ErrorKind = "validation"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindLockContention   ErrorKind = "lock_contention"
	KindTransport        ErrorKind = "transport"
	KindApplication      ErrorKind = "application"
	KindUnknown          ErrorKind = "unknown"
)

// NewError clones base and decorates it for one failure site.
func NewError(base *errors.Error, message string, source error, metadata map[string]any) *errors.Error {
	if base == nil {
		base = ErrApplication
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ValidationError builds a validation failure with an optional field hint.
func ValidationError(message string, field string) *errors.Error {
	var meta map[string]any
	if field != "" {
		meta = map[string]any{"field": field}
	}
	return NewError(ErrValidation, message, nil, meta)
}

// ErrorCode returns the text code carried by err, if any.
func ErrorCode(err error) string {
	var ge *errors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// KindOf classifies err into the failure taxonomy.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	switch ErrorCode(err) {
	case CodeValidation, CodeInvalidTransition, CodeActionGated, "INVALID_MESSAGE":
		return KindValidation
	case CodePermissionDenied:
		return KindPermissionDenied
	case CodeAlreadyRunning:
		return KindLockContention
	case CodeTransport:
		return KindTransport
	case CodeApplication, CodeEndpointNotFound:
		return KindApplication
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return KindTransport
	}

	var ge *errors.Error
	if stderrors.As(err, &ge) {
		switch ge.Category {
		case errors.CategoryValidation, errors.CategoryBadInput:
			return KindValidation
		case errors.CategoryAuthz:
			return KindPermissionDenied
		case errors.CategoryConflict:
			return KindLockContention
		case errors.CategoryExternal:
			return KindApplication
		}
	}
	return KindUnknown
}
