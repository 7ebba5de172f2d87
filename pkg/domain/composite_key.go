package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	compositeKeyNamespace = "\x00"
	minUnicodeRuneValue   = 0
	maxUnicodeRuneValue   = utf8.MaxRune
)

// CreateCompositeKey joins list and parts into a single ledger key. The layout
// matches the Fabric shim so keys are portable across ledger adapters.
func CreateCompositeKey(list string, parts []string) (string, error) {
	if err := validateKeyPart(list); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(compositeKeyNamespace)
	b.WriteString(list)
	b.WriteRune(minUnicodeRuneValue)
	for _, part := range parts {
		if err := validateKeyPart(part); err != nil {
			return "", err
		}
		b.WriteString(part)
		b.WriteRune(minUnicodeRuneValue)
	}
	return b.String(), nil
}

// SplitCompositeKey reverses CreateCompositeKey.
func SplitCompositeKey(key string) (string, []string, error) {
	if !strings.HasPrefix(key, compositeKeyNamespace) || !strings.HasSuffix(key, "\x00") || len(key) < 2 {
		return "", nil, NewError(KindInvalidAttribute, fmt.Sprintf("%q is not a composite key", key))
	}
	fields := strings.Split(key[1:len(key)-1], "\x00")
	return fields[0], fields[1:], nil
}

// CompositeKeyPrefix returns the prefix shared by every key of list.
func CompositeKeyPrefix(list string) string {
	return compositeKeyNamespace + list + "\x00"
}

func validateKeyPart(s string) error {
	if !utf8.ValidString(s) {
		return NewError(KindInvalidAttribute, fmt.Sprintf("key part %q is not valid utf-8", s))
	}
	for _, r := range s {
		if r == minUnicodeRuneValue || r == maxUnicodeRuneValue {
			return NewError(KindInvalidAttribute, fmt.Sprintf("key part %q contains reserved rune U+%04X", s, r))
		}
	}
	return nil
}

// BloodNumber builds the logical key of a blood unit.
func BloodNumber(donorID, din string) string {
	return donorID + LogicalKeySeparator + din
}

// ParseBloodNumber splits a blood number on its first separator. Donor IDs
// never contain the separator, so the DIN keeps any further colons.
func ParseBloodNumber(bloodNumber string) (donorID, din string, err error) {
	donorID, din, ok := strings.Cut(bloodNumber, LogicalKeySeparator)
	if !ok || donorID == "" || din == "" {
		return "", "", NewError(KindInvalidAttribute, fmt.Sprintf("blood number %q must look like <donorID>:<DIN>", bloodNumber))
	}
	return donorID, din, nil
}

// ProcessNumber builds the logical key of a process record.
func ProcessNumber(processID string, action ActionType) string {
	return processID + LogicalKeySeparator + string(action)
}

// ParseProcessNumber splits a process number on its last separator.
func ParseProcessNumber(processNumber string) (string, ActionType, error) {
	idx := strings.LastIndex(processNumber, LogicalKeySeparator)
	if idx <= 0 || idx == len(processNumber)-1 {
		return "", "", NewError(KindInvalidAttribute, fmt.Sprintf("process number %q must look like <processID>:<type>", processNumber))
	}
	action, err := ParseActionType(processNumber[idx+1:])
	if err != nil {
		return "", "", err
	}
	return processNumber[:idx], action, nil
}
