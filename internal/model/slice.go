package model

import (
	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

// SliceType enumerates the three slice flavors (§3).
type SliceType string

const (
	SliceInventory    SliceType = "Inventory"
	SliceClient       SliceType = "Client"
	SliceBrokerClient SliceType = "BrokerClient"
)

// SliceState is the derived aggregate state of §4.5.
type SliceState string

const (
	SliceConfiguring    SliceState = "Configuring"
	SliceStableOK       SliceState = "StableOK"
	SliceStableError    SliceState = "StableError"
	SliceModifying      SliceState = "Modifying"
	SliceModifyOK       SliceState = "ModifyOK"
	SliceModifyError    SliceState = "ModifyError"
	SliceClosing        SliceState = "Closing"
	SliceDead           SliceState = "Dead"
	SliceAllocatedOK    SliceState = "AllocatedOK"
	SliceAllocatedError SliceState = "AllocatedError"
)

// Slice groups reservations and delegations under one owner and one lease
// window (§3, glossary).
type Slice struct {
	SliceID        ids.Identifier
	Name           string
	Type           SliceType
	Owner          ids.AuthToken
	ResourceGraphID string // optional; empty means none attached
	ProjectID      string // supplements original_source's resource_tracker.py project bookkeeping

	State SliceState

	LeaseStart int64
	LeaseEnd   int64

	Reservations map[ids.Identifier]struct{}
	Delegations  map[ids.Identifier]struct{}
}

// NewSlice constructs a Slice in its initial Configuring state.
func NewSlice(id ids.Identifier, name string, typ SliceType, owner ids.AuthToken) *Slice {
	return &Slice{
		SliceID:      id,
		Name:         name,
		Type:         typ,
		Owner:        owner,
		State:        SliceConfiguring,
		Reservations: make(map[ids.Identifier]struct{}),
		Delegations:  make(map[ids.Identifier]struct{}),
	}
}

// AddReservation records rid as belonging to this slice.
func (s *Slice) AddReservation(rid ids.Identifier) {
	s.Reservations[rid] = struct{}{}
}

// RemoveReservation forgets rid.
func (s *Slice) RemoveReservation(rid ids.Identifier) {
	delete(s.Reservations, rid)
}

// AddDelegation records did as belonging to this slice.
func (s *Slice) AddDelegation(did ids.Identifier) {
	s.Delegations[did] = struct{}{}
}

// RemoveDelegation forgets did.
func (s *Slice) RemoveDelegation(did ids.Identifier) {
	delete(s.Delegations, did)
}

// AllChildrenTerminal reports whether every reservation and delegation has
// reached a terminal state — the precondition for deleting a slice (§3).
func (s *Slice) AllChildrenTerminal(reservations map[ids.Identifier]*Reservation, delegations map[ids.Identifier]*Delegation) bool {
	for rid := range s.Reservations {
		r, ok := reservations[rid]
		if !ok || !r.State.IsTerminal() {
			return false
		}
	}
	for did := range s.Delegations {
		d, ok := delegations[did]
		if !ok || !d.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Recompute refreshes LeaseStart/LeaseEnd as the min/max over the terms of
// the slice's reservations, supplementing the base model so a slice's
// lease window can outlive any single reservation's term across a modify
// (original_source/fabric_cf/orchestrator/core/resource_tracker.py).
func (s *Slice) Recompute(reservations map[ids.Identifier]*Reservation) {
	var start, end int64
	first := true
	for rid := range s.Reservations {
		r, ok := reservations[rid]
		if !ok {
			continue
		}
		if first {
			start, end = r.Term.Start, r.Term.End
			first = false
			continue
		}
		if r.Term.Start < start {
			start = r.Term.Start
		}
		if r.Term.End > end {
			end = r.Term.End
		}
	}
	if !first {
		s.LeaseStart, s.LeaseEnd = start, end
	}
}
