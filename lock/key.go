package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	orderops "github.com/goliatone/go-orderops"
)

// KeyPolicy decides which parts of a request make up a lock key.
type KeyPolicy string

const (
	// PolicyOrderAction keys on order id and action name only.
	PolicyOrderAction KeyPolicy = "order_action"
	// PolicyOrderActionPayload adds a hash of the mutation payload.
	PolicyOrderActionPayload KeyPolicy = "order_action_payload"
)

// ParseKeyPolicy resolves a configured policy name, defaulting to
// PolicyOrderAction for empty input.
func ParseKeyPolicy(raw string) (KeyPolicy, error) {
	switch KeyPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyOrderAction:
		return PolicyOrderAction, nil
	case PolicyOrderActionPayload:
		return PolicyOrderActionPayload, nil
	default:
		return "", orderops.ValidationError(fmt.Sprintf("unknown lock key policy %q", raw), "key_policy")
	}
}

// Key identifies one in-flight order action.
type Key struct {
	OrderID     string `json:"order_id"`
	Action      string `json:"action"`
	PayloadHash string `json:"payload_hash,omitempty"`
}

func (k Key) String() string {
	out := k.OrderID + ":" + k.Action
	if k.PayloadHash != "" {
		out += ":" + k.PayloadHash
	}
	return out
}

func (k Key) IsZero() bool {
	return k.OrderID == "" && k.Action == ""
}

// KeyFor builds the lock key for an action. The same policy is applied to
// every action so reject and confirm contend by the same rules.
func (p KeyPolicy) KeyFor(orderID, action string, payload any) Key {
	key := Key{
		OrderID: strings.TrimSpace(orderID),
		Action:  strings.ToLower(strings.TrimSpace(action)),
	}
	if p == PolicyOrderActionPayload && payload != nil {
		key.PayloadHash = PayloadHash(payload)
	}
	return key
}

// PayloadHash fingerprints payload. Map keys are sorted by encoding/json
// so equal payloads hash equally.
func PayloadHash(payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", payload))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
