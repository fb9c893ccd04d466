package alias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPicksFirstPresent(t *testing.T) {
	payload := map[string]any{
		"orderId":  "",
		"order_id": 42.0,
		"_id":      "mongo",
	}

	assert.Equal(t, "42", String(payload, "id", "orderId", "order_id", "_id"))
	assert.Equal(t, "", String(payload, "missing"))
}

func TestLookupNestedPath(t *testing.T) {
	payload := map[string]any{
		"overrides": map[string]any{"reject": true},
		"customer":  map[string]any{"id": "c-1", "name": nil},
	}

	v, ok := Lookup(payload, "overrides.reject")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = Lookup(payload, "customer.name")
	assert.False(t, ok, "null values count as absent")

	_, ok = Lookup(payload, "customer.id.deep")
	assert.False(t, ok)
}

func TestBoolAcceptsStringsAndNumbers(t *testing.T) {
	b, ok := Bool(map[string]any{"flag": "true"}, "flag")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = Bool(map[string]any{"flag": 0.0}, "flag")
	assert.True(t, ok)
	assert.False(t, b)

	_, ok = Bool(map[string]any{"flag": "maybe"}, "flag")
	assert.False(t, ok)
}

func TestTimeFormats(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value any
	}{
		{name: "rfc3339", value: "2024-05-01T10:30:00Z"},
		{name: "offset", value: "2024-05-01T12:30:00+02:00"},
		{name: "seconds", value: float64(want.Unix())},
		{name: "millis", value: float64(want.UnixMilli())},
		{name: "numeric string", value: "1714559400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Time(map[string]any{"createdAt": tt.value}, "created_at", "createdAt")
			require.True(t, ok)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestUnwrapEnvelopes(t *testing.T) {
	inner := map[string]any{"id": "o-1"}
	payload := map[string]any{"data": map[string]any{"order": inner}}

	assert.Equal(t, inner, Unwrap(payload))
	assert.Equal(t, inner, Unwrap(inner))
	assert.Nil(t, Unwrap(nil))
}

func TestStringsKeepsScalars(t *testing.T) {
	payload := map[string]any{"codes": []any{"R01", 2.0, map[string]any{}, ""}}
	assert.Equal(t, []string{"R01", "2"}, Strings(payload, "reasonCodes", "codes"))
}

func TestFailureFlag(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		failed  bool
		message string
	}{
		{name: "plain success", payload: map[string]any{"id": "o-1", "status": "CONFIRMED"}},
		{name: "ok true", payload: map[string]any{"ok": true}},
		{name: "empty errors", payload: map[string]any{"errors": []any{}}},
		{name: "error false", payload: map[string]any{"error": false}},
		{name: "ok false", payload: map[string]any{"ok": false, "message": "not allowed"}, failed: true, message: "not allowed"},
		{name: "success false", payload: map[string]any{"success": false}, failed: true},
		{name: "error string", payload: map[string]any{"error": "order locked"}, failed: true, message: "order locked"},
		{name: "errors list", payload: map[string]any{"errors": []any{map[string]any{"message": "bad code"}}}, failed: true, message: "bad code"},
		{name: "status failed", payload: map[string]any{"status": "FAILED", "detail": "courier down"}, failed: true, message: "courier down"},
		{name: "result error", payload: map[string]any{"result": "error"}, failed: true},
		{name: "nil", payload: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failed, message := FailureFlag(tt.payload)
			assert.Equal(t, tt.failed, failed)
			assert.Equal(t, tt.message, message)
		})
	}
}
