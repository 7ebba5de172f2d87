package domain

import (
	"fmt"
	"strings"
)

// TransitionName identifies a guarded state transition.
type TransitionName string

// Transitions supported by the blood unit state machine.
const (
	TransitionDispatch TransitionName = "dispatch"
	TransitionDeliver  TransitionName = "deliver"
	TransitionConsume  TransitionName = "consume"
)

// Event names emitted after each transition.
const (
	EventUnderTransportation = "DIN_UNDER_TRANSPORTATION"
	EventDelivered           = "DIN_DELIVERED"
	EventUsed                = "DIN_USED"
)

// Transition describes one edge of the state machine together with its guards.
type Transition struct {
	Name         TransitionName
	From         UnitState
	To           UnitState
	Location     Location
	Event        string
	BindsPatient bool
	Guard        func(unit BloodUnit, patientID string) error
}

// Transitions is the complete transition table. No other state change is legal.
var Transitions = map[TransitionName]Transition{
	TransitionDispatch: {
		Name:     TransitionDispatch,
		From:     StateReady,
		To:       StateUnderTransportation,
		Location: LocationBloodBank,
		Event:    EventUnderTransportation,
		Guard: func(unit BloodUnit, _ string) error {
			if unit.Test != TestResultSafe {
				return NewError(KindInvalidAttribute, fmt.Sprintf("blood unit %s has test result %q and is not safe to transport", unit.BloodNumber(), unit.Test))
			}
			return nil
		},
	},
	TransitionDeliver: {
		Name:     TransitionDeliver,
		From:     StateUnderTransportation,
		To:       StateDelivered,
		Location: LocationTransportation,
		Event:    EventDelivered,
	},
	TransitionConsume: {
		Name:         TransitionConsume,
		From:         StateDelivered,
		To:           StateUsed,
		Location:     LocationHospital,
		Event:        EventUsed,
		BindsPatient: true,
		Guard: func(_ BloodUnit, patientID string) error {
			if !strings.HasPrefix(patientID, RecipientPrefix) {
				return NewError(KindInvalidAttribute, fmt.Sprintf("%q is not a recipient ID", patientID))
			}
			return nil
		},
	},
}

// LookupTransition returns the table entry for name.
func LookupTransition(name TransitionName) (Transition, error) {
	t, ok := Transitions[name]
	if !ok {
		return Transition{}, NewError(KindInvalidTransition, fmt.Sprintf("unknown transition %q", name))
	}
	return t, nil
}

// UnitStates lists the states in lifecycle order.
func UnitStates() []UnitState {
	return []UnitState{StateReady, StateUnderTransportation, StateDelivered, StateUsed}
}
