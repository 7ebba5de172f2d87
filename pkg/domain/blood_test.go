package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newReadyUnit(t *testing.T) BloodUnit {
	t.Helper()
	unit, err := NewBloodUnit(BloodUnitInput{
		DIN:         "BD58911",
		Volume:      "100",
		BloodType:   "B+",
		Date:        "2021-02-19",
		Expired:     "2021-06-19",
		Test:        TestResultSafe,
		DonorID:     "d524",
		Temperature: "2C",
	}, "", time.Date(2021, 2, 19, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new blood unit: %v", err)
	}
	return unit
}

func TestNewBloodUnitDefaults(t *testing.T) {
	unit := newReadyUnit(t)
	if unit.CurrentState != StateReady {
		t.Fatalf("expected READY, got %s", unit.CurrentState)
	}
	if unit.Location != LocationBloodBank {
		t.Fatalf("expected blood bank location, got %q", unit.Location)
	}
	if unit.PatientID != NoPatient {
		t.Fatalf("expected no patient, got %q", unit.PatientID)
	}
	if unit.CurrentOwner != DefaultOwner {
		t.Fatalf("expected default owner, got %q", unit.CurrentOwner)
	}
	if unit.Timestamp != "2021-02-19T08:00:00Z" {
		t.Fatalf("unexpected timestamp %q", unit.Timestamp)
	}
	if unit.BloodNumber() != "d524:BD58911" {
		t.Fatalf("unexpected blood number %q", unit.BloodNumber())
	}
}

func TestNewBloodUnitValidation(t *testing.T) {
	cases := map[string]BloodUnitInput{
		"missing DIN":     {DonorID: "d1"},
		"recipient donor": {DIN: "BD1", DonorID: "r301"},
		"empty donor":     {DIN: "BD1"},
		"separator donor": {DIN: "BD1", DonorID: "d1:x"},
		"whitespace DIN":  {DIN: "  ", DonorID: "d1"},
	}
	for name, in := range cases {
		if _, err := NewBloodUnit(in, "", time.Now()); !errors.Is(err, ErrInvalidAttribute) {
			t.Fatalf("%s: expected invalid attribute, got %v", name, err)
		}
	}
}

func TestBloodUnitRoundTrip(t *testing.T) {
	units := []BloodUnit{
		newReadyUnit(t),
		{},
		{DIN: "BD:1", DonorID: "d:?", BloodType: "AB−", Temperature: "４°C", PatientID: "r\"301\"", Location: "Ünknown", CurrentState: StateUsed},
	}
	for _, unit := range units {
		data, err := Serialize(unit)
		if err != nil {
			t.Fatalf("serialize %+v: %v", unit, err)
		}
		class, err := PeekClass(data)
		if err != nil || class != ClassBloodUnit {
			t.Fatalf("expected class %q, got %q (%v)", ClassBloodUnit, class, err)
		}
		decoded, err := DecodeBloodUnit(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.(BloodUnit) != unit {
			t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", unit, decoded)
		}
	}
}

func TestBloodUnitEncodingCarriesEnvelope(t *testing.T) {
	data, err := Serialize(newReadyUnit(t))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fields["class"] != ClassBloodUnit || fields["key"] != "d524:BD58911" {
		t.Fatalf("unexpected envelope %v %v", fields["class"], fields["key"])
	}
	if fields["currentState"] != string(StateReady) || fields["mm"] != "100" {
		t.Fatalf("unexpected attributes %v", fields)
	}
}

func TestDecodeBloodUnitRejectsOtherClass(t *testing.T) {
	data, err := Serialize(ProcessRecord{ProcessID: "P1", Type: ActionDonate})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if _, err := DecodeBloodUnit(data); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	if _, err := DecodeBloodUnit([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}

// TestTransitionMatrix walks every (state, transition) pair and checks that
// only the table entries succeed.
func TestTransitionMatrix(t *testing.T) {
	for _, state := range UnitStates() {
		for name, tr := range Transitions {
			unit := newReadyUnit(t)
			unit.CurrentState = state
			unit.Location = tr.Location
			before := unit
			err := unit.Apply(tr, "r301")
			if state == tr.From {
				if err != nil {
					t.Fatalf("%s from %s: unexpected error %v", name, state, err)
				}
				if unit.CurrentState != tr.To {
					t.Fatalf("%s from %s: expected %s, got %s", name, state, tr.To, unit.CurrentState)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s from %s: expected invalid transition, got %v", name, state, err)
			}
			if unit != before {
				t.Fatalf("%s from %s: unit mutated on failure", name, state)
			}
		}
	}
}

func TestTransitionGuards(t *testing.T) {
	unit := newReadyUnit(t)
	unit.Test = "UNSAFE"
	if err := unit.Apply(Transitions[TransitionDispatch], ""); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected unsafe dispatch to fail, got %v", err)
	}

	unit = newReadyUnit(t)
	unit.Location = LocationHospital
	if err := unit.Apply(Transitions[TransitionDispatch], ""); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected location guard, got %v", err)
	}

	unit = newReadyUnit(t)
	unit.CurrentState = StateDelivered
	unit.Location = LocationHospital
	before := unit
	if err := unit.Apply(Transitions[TransitionConsume], "d999"); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected recipient guard, got %v", err)
	}
	if unit != before {
		t.Fatalf("unit mutated by failed consume")
	}
	if err := unit.Apply(Transitions[TransitionConsume], "r301"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if unit.PatientID != "r301" || unit.CurrentState != StateUsed {
		t.Fatalf("unexpected consumed unit %+v", unit)
	}
	if unit.Location != LocationHospital {
		t.Fatalf("state transitions must not move the unit")
	}
}

func TestRelocateGuards(t *testing.T) {
	unit := newReadyUnit(t)
	if err := unit.Relocate(LocationPatient, "r301"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected READY unit relocation to patient to fail, got %v", err)
	}
	if err := unit.Relocate("Moon", "x"); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected unknown location to fail, got %v", err)
	}
	for _, loc := range []Location{LocationBloodBank, LocationTransportation, LocationHospital, LocationPatient} {
		required, ok := RequiredStateFor(loc)
		if !ok {
			t.Fatalf("no guard for %q", loc)
		}
		unit.CurrentState = required
		if err := unit.Relocate(loc, "owner-"+string(loc)); err != nil {
			t.Fatalf("relocate to %q: %v", loc, err)
		}
		if unit.Location != loc || unit.CurrentOwner != "owner-"+string(loc) || unit.CurrentState != required {
			t.Fatalf("unexpected relocated unit %+v", unit)
		}
	}
}

func TestLookupTransition(t *testing.T) {
	if _, err := LookupTransition("reverse"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected unknown transition error, got %v", err)
	}
	tr, err := LookupTransition(TransitionDeliver)
	if err != nil || tr.Event != EventDelivered {
		t.Fatalf("unexpected deliver entry %+v (%v)", tr, err)
	}
}
