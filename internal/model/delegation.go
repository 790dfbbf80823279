package model

import (
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

// DelegationState is the lifecycle of an exported resource pool (§4.4).
type DelegationState string

const (
	DelegationNascent   DelegationState = "Nascent"
	DelegationDelegated DelegationState = "Delegated"
	DelegationReclaimed DelegationState = "Reclaimed"
	DelegationClosed    DelegationState = "Closed"
	DelegationFailed    DelegationState = "Failed"
)

// IsTerminal reports whether the delegation state is absorbing.
func (s DelegationState) IsTerminal() bool {
	switch s {
	case DelegationClosed, DelegationFailed:
		return true
	default:
		return false
	}
}

// Delegation represents a chunk of resources advertised by one actor to
// another (§3, §4.4).
type Delegation struct {
	Did     ids.Identifier
	SliceID ids.Identifier

	State DelegationState
	Graph []byte // opaque fragment, per §6.4

	Issuer ids.AuthToken
	Holder ids.AuthToken

	SequenceIn      int64
	SequenceOut     int64
	SequenceInAcked bool

	UpdateData UpdateData
}

// NewDelegation constructs a delegation in its initial Nascent state.
func NewDelegation(did, sliceID ids.Identifier, issuer, holder ids.AuthToken, graph []byte) *Delegation {
	return &Delegation{
		Did:     did,
		SliceID: sliceID,
		State:   DelegationNascent,
		Graph:   append([]byte(nil), graph...),
		Issuer:  issuer,
		Holder:  holder,
	}
}

// AcceptSequence applies the same monotone-sequence-in rule as
// Reservation.AcceptSequence (§3, §4.3) to a delegation's inbound
// messages.
func (d *Delegation) AcceptSequence(seq int64) (accept, replay bool) {
	switch {
	case seq > d.SequenceIn:
		d.SequenceIn = seq
		d.SequenceInAcked = false
		return true, false
	case seq == d.SequenceIn && d.SequenceInAcked:
		return true, true
	default:
		return false, false
	}
}

// MarkSequenceInAcked records that a response has been sent for the
// current SequenceIn (see Reservation.MarkSequenceInAcked).
func (d *Delegation) MarkSequenceInAcked() {
	d.SequenceInAcked = true
}

// Fail moves the delegation to the terminal Failed state (§4.4: "Failures
// surface as a FailedRPC event that moves the delegation to Failed").
func (d *Delegation) Fail(message string) {
	if d.State.IsTerminal() {
		return
	}
	d.State = DelegationFailed
	d.UpdateData = UpdateData{Message: message, Success: false, LastUpdatedAt: time.Now().UTC()}
}
