package orderops

import (
	"reflect"

	"github.com/goliatone/go-errors"
)

// Message is the interface action requests must implement
type Message interface {
	Type() string
	Validate() error
}

func IsNilMessage(msg any) bool {
	if msg == nil {
		return true
	}

	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Ptr {
		return false
	}

	return v.IsNil()
}

// MessageHandler provides base validation for any message type
type MessageHandler[T any] struct{}

// ValidateMessage rejects nil messages and runs Validate when available.
// Failures always carry the validation category so callers can report
// them before any network call is made.
func (h *MessageHandler[T]) ValidateMessage(msg T) error {
	if IsNilMessage(msg) {
		return errors.New("nil message pointer", errors.CategoryValidation).
			WithTextCode("INVALID_MESSAGE")
	}

	if m, ok := any(msg).(Message); ok {
		if err := m.Validate(); err != nil {
			if KindOf(err) == KindValidation {
				return err
			}
			return errors.Wrap(err, errors.CategoryValidation, "message validation failed").
				WithTextCode(CodeValidation)
		}
	}

	return nil
}
