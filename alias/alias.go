// Package alias resolves logical fields out of inconsistently shaped
// backend payloads. Each field has an explicit, ordered list of spellings
// and the first present, non-null value wins.
package alias

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Envelopes are wrapper keys unwrapped by Unwrap before lookups.
var Envelopes = []string{"data", "order", "result"}

// Lookup walks a dotted path through nested maps.
func Lookup(payload map[string]any, path string) (any, bool) {
	if payload == nil || path == "" {
		return nil, false
	}
	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// Pick returns the first present value among paths.
func Pick(payload map[string]any, paths ...string) (any, bool) {
	for _, path := range paths {
		if v, ok := Lookup(payload, path); ok {
			return v, true
		}
	}
	return nil, false
}

// String picks the first path holding a non-empty scalar, rendered as text.
func String(payload map[string]any, paths ...string) string {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		if s, ok := asString(v); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// Bool picks the first path holding a boolean-like value.
func Bool(payload map[string]any, paths ...string) (bool, bool) {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		if b, ok := asBool(v); ok {
			return b, true
		}
	}
	return false, false
}

// Float picks the first path holding a number or numeric string.
func Float(payload map[string]any, paths ...string) (float64, bool) {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		if f, ok := asFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

// Map picks the first path holding an object.
func Map(payload map[string]any, paths ...string) map[string]any {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// Slice picks the first path holding an array.
func Slice(payload map[string]any, paths ...string) []any {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		switch s := v.(type) {
		case []any:
			return s
		case []string:
			out := make([]any, len(s))
			for i, item := range s {
				out[i] = item
			}
			return out
		}
	}
	return nil
}

// Strings picks the first path holding an array and keeps its scalar items.
func Strings(payload map[string]any, paths ...string) []string {
	items := Slice(payload, paths...)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := asString(item); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Time picks the first path holding an RFC3339 string or epoch number.
// Epoch values above 1e12 are read as milliseconds.
func Time(payload map[string]any, paths ...string) (time.Time, bool) {
	for _, path := range paths {
		v, ok := Lookup(payload, path)
		if !ok {
			continue
		}
		if t, ok := asTime(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Unwrap strips known envelope keys holding an object, so
// {"data":{"order":{...}}} yields the inner order.
func Unwrap(payload map[string]any, keys ...string) map[string]any {
	if len(keys) == 0 {
		keys = Envelopes
	}
	for depth := 0; payload != nil && depth < len(keys)+1; depth++ {
		unwrapped := false
		for _, key := range keys {
			if inner, ok := payload[key].(map[string]any); ok {
				payload = inner
				unwrapped = true
				break
			}
		}
		if !unwrapped {
			break
		}
	}
	return payload
}

// FailureFlag reports whether a 2xx body still signals failure, returning
// the backend message when one is present.
func FailureFlag(payload map[string]any) (bool, string) {
	if payload == nil {
		return false, ""
	}
	failed := false
	if ok, present := Bool(payload, "ok", "success", "succeeded"); present && !ok {
		failed = true
	}
	if v, present := Pick(payload, "error", "errors"); present && !empty(v) {
		failed = true
	}
	switch strings.ToLower(String(payload, "status", "result")) {
	case "error", "failed", "failure":
		failed = true
	}
	if !failed {
		return false, ""
	}
	return true, Message(payload)
}

// Message extracts a human readable message from an error-ish payload.
func Message(payload map[string]any) string {
	if msg := String(payload, "message", "error_description", "detail", "error.message", "error"); msg != "" {
		return msg
	}
	if errs := Slice(payload, "errors"); len(errs) > 0 {
		switch first := errs[0].(type) {
		case string:
			return first
		case map[string]any:
			return String(first, "message", "detail")
		}
	}
	return ""
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case bool:
		return !t
	}
	return false
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), true
		}
	default:
		if f, ok := asFloat(v); ok {
			return epoch(f), true
		}
	}
	return time.Time{}, false
}

func epoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
