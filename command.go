package orderops

import (
	"context"
	"reflect"
	"regexp"
	"strings"
)

// CommandFunc is an adapter that lets you use a function as a Commander[T]
type CommandFunc[T any] func(ctx context.Context, msg T) error

// Execute calls the underlying function
func (f CommandFunc[T]) Execute(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Commander is responsible for executing side effects
type Commander[T any] interface {
	Execute(ctx context.Context, msg T) error
}

// QueryFunc is an adapter that lets you use a function as a Querier[T, R]
type QueryFunc[T any, R any] func(ctx context.Context, msg T) (R, error)

// Query calls the underlying function
func (f QueryFunc[T, R]) Query(ctx context.Context, msg T) (R, error) {
	return f(ctx, msg)
}

// Querier handles a message and returns a result. Order actions are
// queriers: they mutate the backend and answer with an outcome.
type Querier[T any, R any] interface {
	Query(ctx context.Context, msg T) (R, error)
}

var snakeCasePattern = regexp.MustCompile("([a-z0-9])([A-Z])")

// GetMessageType returns the routing key for msg. Messages implementing
// Type() win, otherwise the name is derived from the Go type.
func GetMessageType(msg any) string {
	if msg == nil {
		return "unknown_type"
	}

	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return "unknown_type"
	}

	if msgTyper, ok := msg.(interface{ Type() string }); ok {
		return msgTyper.Type()
	}

	t := reflect.TypeOf(msg)
	typeName := t.String()

	if t.Kind() == reflect.Ptr {
		typeName = typeName[1:]
		t = t.Elem()
	}

	pkgPath := t.PkgPath()
	if pkgPath != "" {
		parts := strings.Split(pkgPath, "/")
		pkgPath = parts[len(parts)-1]
	}

	txName := toSnakeCase(typeName)

	if pkgPath == "" {
		return txName
	}
	return pkgPath + "::" + txName
}

func toSnakeCase(s string) string {
	return strings.ToLower(snakeCasePattern.ReplaceAllString(s, "${1}_${2}"))
}
