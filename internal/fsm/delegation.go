package fsm

import (
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

func illegalDelegationTransition(state model.DelegationState, event string) error {
	return kernelerrors.New(kernelerrors.InvalidState,
		"delegation in state "+string(state)+" cannot accept "+event)
}

// DelegationClaim handles an incoming ClaimDelegation: a Broker claims a
// Nascent delegation, making it visible as an allocatable pool to its
// policy (§4.4).
func DelegationClaim(d *model.Delegation) error {
	if d.State != model.DelegationNascent {
		return illegalDelegationTransition(d.State, "Claim")
	}
	d.State = model.DelegationDelegated
	return nil
}

// DelegationReclaim handles an incoming ReclaimDelegation.
func DelegationReclaim(d *model.Delegation) error {
	if d.State != model.DelegationDelegated {
		return illegalDelegationTransition(d.State, "Reclaim")
	}
	d.State = model.DelegationReclaimed
	return nil
}

// DelegationClose moves a reclaimed delegation to its terminal state.
func DelegationClose(d *model.Delegation) error {
	if d.State != model.DelegationReclaimed && d.State != model.DelegationNascent {
		return illegalDelegationTransition(d.State, "Close")
	}
	d.State = model.DelegationClosed
	return nil
}

// DelegationFailedRPC applies a FailedRPC event, moving the delegation to
// Failed (§4.4: "Failures surface as a FailedRPC event that moves the
// delegation to Failed").
func DelegationFailedRPC(d *model.Delegation, message string) {
	d.Fail(message)
}
