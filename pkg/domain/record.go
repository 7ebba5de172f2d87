// Package domain defines the ledger records, their lifecycle rules, and the
// ledger access contracts consumed by bloodledger.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is implemented by every value stored in a record list.
type Record interface {
	// Class returns the type tag persisted alongside the record.
	Class() string
	// SplitKey returns the ordered key parts identifying the record within its list.
	SplitKey() []string
}

// Decoder turns a serialized record back into its concrete type.
type Decoder func(data []byte) (Record, error)

// Type tags and list names used by the blood tracking contract.
const (
	ClassBloodUnit = "org.blood"
	ClassProcess   = "org.process"

	ListBloodUnits = "org.bloodlist"
	ListProcesses  = "org.processlist"
)

// LogicalKeySeparator joins key parts in the human readable logical key.
const LogicalKeySeparator = ":"

// MakeLogicalKey joins key parts the way they are presented to callers.
func MakeLogicalKey(parts []string) string {
	return strings.Join(parts, LogicalKeySeparator)
}

// envelope carries the fields every persisted record shares.
type envelope struct {
	Class string `json:"class"`
	Key   string `json:"key"`
}

// Serialize encodes r as JSON. The concrete type is responsible for emitting
// its class and key fields; Serialize verifies them so the type tag can always
// be recovered on read.
func Serialize(r Record) ([]byte, error) {
	if r == nil {
		return nil, NewError(KindInvalidAttribute, "cannot serialize nil record")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Class(), err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Class(), err)
	}
	if env.Class != r.Class() {
		return nil, NewError(KindInvalidAttribute, fmt.Sprintf("record encodes class %q, want %q", env.Class, r.Class()))
	}
	return data, nil
}

// PeekClass reads the type tag of a serialized record without decoding the body.
func PeekClass(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("read class: %w", err)
	}
	if env.Class == "" {
		return "", fmt.Errorf("read class: missing class field")
	}
	return env.Class, nil
}

func decodeAs(data []byte, class string, target any) error {
	got, err := PeekClass(data)
	if err != nil {
		return err
	}
	if got != class {
		return NewError(KindUnknownType, fmt.Sprintf("payload class %q cannot decode as %q", got, class))
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", class, err)
	}
	return nil
}

// marshalWithEnvelope encodes body and prefixes the class and key fields of r.
// body must encode as a JSON object and must not define MarshalJSON itself.
func marshalWithEnvelope(r Record, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(envelope{Class: r.Class(), Key: MakeLogicalKey(r.SplitKey())})
	if err != nil {
		return nil, err
	}
	if len(raw) <= 2 {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(raw))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, raw[1:]...)
	return out, nil
}
