package model

import "github.com/R3E-Network/testbed-kernel/internal/ids"

// UnitState is the handler-driven lifecycle of a physical binding (§3,
// §4.8).
type UnitState string

const (
	UnitDefault   UnitState = "Default"
	UnitPriming   UnitState = "Priming"
	UnitActive    UnitState = "Active"
	UnitModifying UnitState = "Modifying"
	UnitClosing   UnitState = "Closing"
	UnitClosed    UnitState = "Closed"
	UnitFailed    UnitState = "Failed"
)

// IsTerminal reports whether the unit state is absorbing.
func (s UnitState) IsTerminal() bool {
	switch s {
	case UnitClosed, UnitFailed:
		return true
	default:
		return false
	}
}

// Unit is an Authority-side record of one indivisible physical allocation
// (§3).
type Unit struct {
	UnitID        ids.Identifier
	ReservationID ids.Identifier
	SliceID       ids.Identifier
	ActorID       ids.Identifier

	ResourceType string
	Sliver       []byte

	State      UnitState
	Sequence   int64
	Properties map[string]string
}

// NextSequence allocates the next action sequence number, to be attached
// to the substrate Create/Modify/Delete call so the eventual completion
// can be checked against staleness (§4.8).
func (u *Unit) NextSequence() int64 {
	u.Sequence++
	return u.Sequence
}

// AcceptCompletion applies §4.8's completion-sequencing rule: a
// completion whose seq does not match the unit's current Sequence (the
// one handed out by the most recent NextSequence call) is stale and
// ignored. On success the unit advances to next; on failure it moves to
// UnitFailed.
func (u *Unit) AcceptCompletion(seq int64, success bool, next UnitState) bool {
	if seq != u.Sequence {
		return false
	}
	if success {
		u.State = next
	} else {
		u.State = UnitFailed
	}
	return true
}

// NewUnit constructs a unit in its initial Default state, ready to be
// primed by the substrate handler (§4.8).
func NewUnit(unitID, reservationID, sliceID, actorID ids.Identifier, resourceType string, sliver []byte) *Unit {
	return &Unit{
		UnitID:        unitID,
		ReservationID: reservationID,
		SliceID:       sliceID,
		ActorID:       actorID,
		ResourceType:  resourceType,
		Sliver:        append([]byte(nil), sliver...),
		State:         UnitDefault,
		Properties:    make(map[string]string),
	}
}
