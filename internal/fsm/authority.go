package fsm

import "github.com/R3E-Network/testbed-kernel/internal/model"

// AuthorityRedeemRequest handles an incoming Redeem landing on a fresh
// Authority-category reservation (§4.3: "Nascent on incoming Redeem").
func AuthorityRedeemRequest(r *model.Reservation) error {
	if r.State != model.Nascent || r.Pending != model.PendingNone {
		return illegalTransition(r.Category, r.State, r.Pending, "RedeemRequest")
	}
	r.Pending = model.PendingRedeeming
	return nil
}

// AuthorityAssignUnits applies a policy.bind() decision: units were
// assigned, so the reservation moves to Priming while the substrate
// handler's create() call is in flight (§4.3, §4.8).
func AuthorityAssignUnits(r *model.Reservation) (Action, error) {
	if r.Pending != model.PendingRedeeming {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "AssignUnits")
	}
	r.Pending = model.PendingPriming
	return ActionCreateUnit, nil
}

// AuthorityCreateComplete applies the substrate handler's
// configuration_complete callback for a create action (§4.8): success
// advances Priming -> Active and asks the caller to send UpdateLease;
// failure fails the reservation.
func AuthorityCreateComplete(r *model.Reservation, success bool, message string) (Action, error) {
	if r.Pending != model.PendingPriming {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "CreateComplete")
	}
	if !success {
		r.Fail(message)
		return ActionNone, nil
	}
	r.State = model.Active
	r.Pending = model.PendingNone
	r.UpdateData = model.UpdateData{Message: message, Success: true}
	return ActionSendUpdateLease, nil
}

// AuthorityExtend handles ExtendLease/ModifyLease requests, driving the
// substrate with modify semantics for either (§4.3: "drive the same
// substrate with modify semantics").
func AuthorityExtend(r *model.Reservation) (Action, error) {
	if r.State != model.Active || r.Pending != model.PendingNone {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Extend")
	}
	r.Pending = model.PendingExtendingLease
	return ActionModifyUnit, nil
}

// AuthorityModifyComplete applies a handler completion for a modify
// action.
func AuthorityModifyComplete(r *model.Reservation, success bool, message string) (Action, error) {
	if r.Pending != model.PendingExtendingLease {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "ModifyComplete")
	}
	if !success {
		r.Fail(message)
		return ActionNone, nil
	}
	r.State = model.Active
	r.Pending = model.PendingNone
	r.UpdateData = model.UpdateData{Message: message, Success: true}
	return ActionSendUpdateLease, nil
}

// AuthorityClose drives unit delete for a Close request.
func AuthorityClose(r *model.Reservation) (Action, error) {
	if r.State.IsTerminal() {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Close")
	}
	r.Pending = model.PendingClosing
	return ActionDeleteUnit, nil
}

// AuthorityDeleteComplete applies a handler completion for a delete
// action, closing the reservation on success.
func AuthorityDeleteComplete(r *model.Reservation, success bool, message string) (Action, error) {
	if r.Pending != model.PendingClosing {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "DeleteComplete")
	}
	if !success {
		r.State = model.CloseFail
		r.Pending = model.PendingNone
		r.UpdateData = model.UpdateData{Message: message, Success: false}
		return ActionNone, nil
	}
	r.State = model.Closed
	r.Pending = model.PendingNone
	r.UpdateData = model.UpdateData{Message: message, Success: true}
	return ActionSendUpdateLease, nil
}
