package domain

import (
	"fmt"
	"strings"
)

// ActionType enumerates the events a process record can log.
type ActionType string

// Process actions.
const (
	ActionDonate  ActionType = "donate"
	ActionReceive ActionType = "receive"
)

// legacyReceive is the spelling used by records written before the action was normalized.
const legacyReceive = "recieve"

// ParseActionType normalizes s into a known ActionType.
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ActionDonate):
		return ActionDonate, nil
	case string(ActionReceive), legacyReceive:
		return ActionReceive, nil
	default:
		return "", NewError(KindInvalidAttribute, fmt.Sprintf("unknown process type %q", s))
	}
}

// StoredSpellings returns the key parts a record of action a may be stored
// under, canonical spelling first.
func (a ActionType) StoredSpellings() []string {
	if a == ActionReceive {
		return []string{string(ActionReceive), legacyReceive}
	}
	return []string{string(a)}
}

// ProcessRecord logs a donation or a receipt of a blood unit.
type ProcessRecord struct {
	ProcessID   string     `json:"processID"`
	BloodNumber string     `json:"bloodNumber"`
	UserID      string     `json:"userID"`
	HospitalID  string     `json:"hospitalID"`
	BloodBankID string     `json:"bloodBankID"`
	Type        ActionType `json:"type"`
}

// ProcessInput carries the attributes supplied when a process is logged.
type ProcessInput struct {
	ProcessID   string
	BloodNumber string
	UserID      string
	HospitalID  string
	BloodBankID string
	Type        string
}

// NewProcessRecord validates in, including the user prefix / action pairing.
func NewProcessRecord(in ProcessInput) (ProcessRecord, error) {
	if strings.TrimSpace(in.ProcessID) == "" {
		return ProcessRecord{}, NewError(KindInvalidAttribute, "process ID is required")
	}
	action, err := ParseActionType(in.Type)
	if err != nil {
		return ProcessRecord{}, err
	}
	if err := CheckUserForAction(in.UserID, action); err != nil {
		return ProcessRecord{}, err
	}
	return ProcessRecord{
		ProcessID:   in.ProcessID,
		BloodNumber: in.BloodNumber,
		UserID:      in.UserID,
		HospitalID:  in.HospitalID,
		BloodBankID: in.BloodBankID,
		Type:        action,
	}, nil
}

// CheckUserForAction enforces that donors donate and recipients receive.
func CheckUserForAction(userID string, action ActionType) error {
	var prefix string
	switch action {
	case ActionDonate:
		prefix = DonorPrefix
	case ActionReceive:
		prefix = RecipientPrefix
	default:
		return NewError(KindInvalidAttribute, fmt.Sprintf("unknown process type %q", action))
	}
	if !strings.HasPrefix(userID, prefix) {
		return NewError(KindInvalidAttribute, fmt.Sprintf("user ID %q is not valid for %s", userID, action))
	}
	return nil
}

// Class implements Record.
func (ProcessRecord) Class() string { return ClassProcess }

// SplitKey implements Record.
func (p ProcessRecord) SplitKey() []string { return []string{p.ProcessID, string(p.Type)} }

// ProcessNumber returns the logical key of the record.
func (p ProcessRecord) ProcessNumber() string { return ProcessNumber(p.ProcessID, p.Type) }

// MarshalJSON adds the class and key envelope fields.
func (p ProcessRecord) MarshalJSON() ([]byte, error) {
	type plain ProcessRecord
	return marshalWithEnvelope(p, plain(p))
}

// DecodeProcessRecord is the Decoder registered for ClassProcess.
func DecodeProcessRecord(data []byte) (Record, error) {
	var p ProcessRecord
	if err := decodeAs(data, ClassProcess, &p); err != nil {
		return nil, err
	}
	return p, nil
}
