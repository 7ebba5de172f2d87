package domain

import (
	"fmt"
	"strings"
	"time"
)

// UnitState enumerates the custody states of a blood unit.
type UnitState string

// Canonical unit states. Units only ever move forward through this sequence.
const (
	StateReady               UnitState = "READY"
	StateUnderTransportation UnitState = "UNDER_TRANSPORTATION"
	StateDelivered           UnitState = "DELIVERED"
	StateUsed                UnitState = "USED"
)

// Location enumerates custody locations.
type Location string

// Known custody locations.
const (
	LocationBloodBank      Location = "Blood Bank"
	LocationTransportation Location = "Transportation"
	LocationHospital       Location = "Hospital"
	LocationPatient        Location = "Patient"
)

// Identifier prefixes separating donors from recipients.
const (
	DonorPrefix     = "d"
	RecipientPrefix = "r"
)

const (
	// TestResultSafe is the only safety-test result that allows dispatch.
	TestResultSafe = "SAFE"
	// NoPatient marks a unit that has not been bound to a recipient.
	NoPatient = "NONE"
	// DefaultOwner holds newly created units unless configured otherwise.
	DefaultOwner = "Cairo Central"
)

// BloodUnit is a single blood bag tracked through the custody chain.
type BloodUnit struct {
	DIN          string    `json:"DIN"`
	Volume       string    `json:"mm"`
	BloodType    string    `json:"type"`
	Date         string    `json:"date"`
	Expired      string    `json:"expired"`
	Test         string    `json:"test"`
	DonorID      string    `json:"donorID"`
	Temperature  string    `json:"temperature"`
	Timestamp    string    `json:"timeStamp"`
	CurrentOwner string    `json:"currentOwner"`
	Location     Location  `json:"location"`
	PatientID    string    `json:"patientID"`
	CurrentState UnitState `json:"currentState"`
}

// BloodUnitInput carries the attributes supplied when a unit is registered.
type BloodUnitInput struct {
	DIN         string
	Volume      string
	BloodType   string
	Date        string
	Expired     string
	Test        string
	DonorID     string
	Temperature string
}

// NewBloodUnit validates in and returns a READY unit held at the blood bank.
func NewBloodUnit(in BloodUnitInput, owner string, now time.Time) (BloodUnit, error) {
	if strings.TrimSpace(in.DIN) == "" {
		return BloodUnit{}, NewError(KindInvalidAttribute, "DIN is required")
	}
	if !strings.HasPrefix(in.DonorID, DonorPrefix) {
		return BloodUnit{}, NewError(KindInvalidAttribute, fmt.Sprintf("%q is not a donor ID", in.DonorID))
	}
	if strings.Contains(in.DonorID, LogicalKeySeparator) {
		return BloodUnit{}, NewError(KindInvalidAttribute, fmt.Sprintf("donor ID %q must not contain %q", in.DonorID, LogicalKeySeparator))
	}
	if owner == "" {
		owner = DefaultOwner
	}
	return BloodUnit{
		DIN:          in.DIN,
		Volume:       in.Volume,
		BloodType:    in.BloodType,
		Date:         in.Date,
		Expired:      in.Expired,
		Test:         in.Test,
		DonorID:      in.DonorID,
		Temperature:  in.Temperature,
		Timestamp:    now.UTC().Format(time.RFC3339),
		CurrentOwner: owner,
		Location:     LocationBloodBank,
		PatientID:    NoPatient,
		CurrentState: StateReady,
	}, nil
}

// Class implements Record.
func (BloodUnit) Class() string { return ClassBloodUnit }

// SplitKey implements Record.
func (b BloodUnit) SplitKey() []string { return []string{b.DonorID, b.DIN} }

// BloodNumber returns the logical key of the unit.
func (b BloodUnit) BloodNumber() string { return BloodNumber(b.DonorID, b.DIN) }

// MarshalJSON adds the class and key envelope fields.
func (b BloodUnit) MarshalJSON() ([]byte, error) {
	type plain BloodUnit
	return marshalWithEnvelope(b, plain(b))
}

// DecodeBloodUnit is the Decoder registered for ClassBloodUnit.
func DecodeBloodUnit(data []byte) (Record, error) {
	var b BloodUnit
	if err := decodeAs(data, ClassBloodUnit, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// Apply runs the guards of t against the unit and advances its state. On
// failure the unit is left untouched.
func (b *BloodUnit) Apply(t Transition, patientID string) error {
	if b.CurrentState != t.From {
		return NewError(KindInvalidTransition, fmt.Sprintf("cannot %s blood unit %s in state %s", t.Name, b.BloodNumber(), b.CurrentState))
	}
	if b.Location != t.Location {
		return NewError(KindInvalidAttribute, fmt.Sprintf("cannot %s blood unit %s at location %q, want %q", t.Name, b.BloodNumber(), b.Location, t.Location))
	}
	if t.Guard != nil {
		if err := t.Guard(*b, patientID); err != nil {
			return err
		}
	}
	if t.BindsPatient {
		b.PatientID = patientID
	}
	b.CurrentState = t.To
	return nil
}

// Relocate moves the unit to location under the relocation guard and hands it to owner.
func (b *BloodUnit) Relocate(location Location, owner string) error {
	required, ok := relocationGuards[location]
	if !ok {
		return NewError(KindInvalidAttribute, fmt.Sprintf("unknown location %q", location))
	}
	if b.CurrentState != required {
		return NewError(KindInvalidTransition, fmt.Sprintf("cannot move blood unit %s in state %s to %s", b.BloodNumber(), b.CurrentState, location))
	}
	b.Location = location
	b.CurrentOwner = owner
	return nil
}

// relocationGuards maps each location to the only state a unit may be in when it arrives there.
var relocationGuards = map[Location]UnitState{
	LocationBloodBank:      StateReady,
	LocationTransportation: StateUnderTransportation,
	LocationHospital:       StateDelivered,
	LocationPatient:        StateUsed,
}

// RequiredStateFor reports the state a unit must be in to move to location.
func RequiredStateFor(location Location) (UnitState, bool) {
	state, ok := relocationGuards[location]
	return state, ok
}
