package fsm

import "github.com/R3E-Network/testbed-kernel/internal/model"

// Client implements the client-role reservation machine (§4.3): used by
// an Orchestrator holding a reservation against a Broker, and equally by
// a Broker holding a client-role reservation against an Authority (a
// Broker acts as "client" one hop further down the federation).

// Demand moves a Nascent reservation into Ticketing and asks the caller
// to send a Ticket request.
func ClientDemand(r *model.Reservation) (Action, error) {
	if r.State != model.Nascent || r.Pending != model.PendingNone {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Demand")
	}
	r.Pending = model.PendingTicketing
	return ActionSendTicket, nil
}

// TicketUpdate applies the result of an UpdateTicket arrival.
func ClientTicketUpdate(r *model.Reservation, success bool, message string) (Action, error) {
	if r.Pending != model.PendingTicketing && r.Pending != model.PendingExtendingTicket {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "UpdateTicket")
	}
	if !success {
		r.Fail(message)
		return ActionNone, nil
	}
	r.State = model.Ticketed
	r.Pending = model.PendingNone
	r.UpdateData = model.UpdateData{Message: message, Success: true}
	return ActionNone, nil
}

// RedeemDecision moves a Ticketed reservation to Redeeming, asking the
// caller to send a Redeem request to the Authority.
func ClientRedeemDecision(r *model.Reservation) (Action, error) {
	if r.State != model.Ticketed || r.Pending != model.PendingNone {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "RedeemDecision")
	}
	r.Pending = model.PendingRedeeming
	return ActionSendRedeem, nil
}

// LeaseUpdate applies the result of an UpdateLease arrival.
func ClientLeaseUpdate(r *model.Reservation, success bool, message string) (Action, error) {
	switch r.Pending {
	case model.PendingRedeeming, model.PendingExtendingLease:
	case model.PendingClosing:
		if success {
			r.State = model.Closed
			r.Pending = model.PendingNone
			r.UpdateData = model.UpdateData{Message: message, Success: true}
			return ActionNone, nil
		}
		r.State = model.CloseFail
		r.Pending = model.PendingNone
		r.UpdateData = model.UpdateData{Message: message, Success: false}
		return ActionNone, nil
	default:
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "UpdateLease")
	}
	if !success {
		r.Fail(message)
		return ActionNone, nil
	}
	r.State = model.Active
	r.Pending = model.PendingNone
	r.UpdateData = model.UpdateData{Message: message, Success: true}
	return ActionNone, nil
}

// RenewKind distinguishes an extend that only changes the term from one
// that also changes the sliver shape — the §9 open question on
// modify-vs-extend disambiguation.
type RenewKind int

const (
	RenewTicket RenewKind = iota // term/sliver changed before redemption
	RenewLeaseTermOnly
	RenewLeaseWithSliverChange
)

// RenewDecision moves an Active (or Ticketed, pre-redemption) reservation
// into the matching extend-pending state.
func ClientRenewDecision(r *model.Reservation, kind RenewKind) (Action, error) {
	if r.Pending != model.PendingNone {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "RenewDecision")
	}
	switch kind {
	case RenewTicket:
		if r.State != model.Ticketed {
			return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "ExtendTicket")
		}
		r.Pending = model.PendingExtendingTicket
		return ActionSendExtendTicket, nil
	case RenewLeaseTermOnly:
		if r.State != model.Active && r.State != model.ActiveTicketed {
			return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "ExtendLease")
		}
		r.Pending = model.PendingExtendingLease
		return ActionSendExtendLease, nil
	case RenewLeaseWithSliverChange:
		if r.State != model.Active && r.State != model.ActiveTicketed {
			return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "ModifyLease")
		}
		r.Pending = model.PendingExtendingLease
		return ActionSendModifyLease, nil
	default:
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "RenewDecision")
	}
}

// Close moves any non-terminal reservation toward Closing. A Nascent
// reservation with no outstanding authority interaction closes
// immediately without an outbound RPC (§8 boundary behavior).
func ClientClose(r *model.Reservation) (Action, error) {
	if r.State.IsTerminal() {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Close")
	}
	if r.State == model.Nascent {
		r.State = model.Closed
		r.Pending = model.PendingNone
		return ActionNone, nil
	}
	r.Pending = model.PendingClosing
	r.State = model.CloseWait
	return ActionSendClose, nil
}
