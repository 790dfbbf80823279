package fsm

import "github.com/R3E-Network/testbed-kernel/internal/model"

// BrokerTicketRequest handles an incoming Ticket request landing on a
// fresh Broker-category reservation (§4.3: "Nascent on incoming Ticket
// request").
func BrokerTicketRequest(r *model.Reservation) error {
	if r.State != model.Nascent || r.Pending != model.PendingNone {
		return illegalTransition(r.Category, r.State, r.Pending, "TicketRequest")
	}
	r.Pending = model.PendingTicketing
	return nil
}

// BrokerAllocate applies a policy.bind() decision: allocate moves the
// reservation to Ticketed and asks the caller to send UpdateTicket.
func BrokerAllocate(r *model.Reservation) (Action, error) {
	if r.Pending != model.PendingTicketing && r.Pending != model.PendingExtendingTicket {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Allocate")
	}
	r.State = model.Ticketed
	r.Pending = model.PendingNone
	return ActionSendUpdateTicket, nil
}

// BrokerDefer leaves the reservation's pending operation in place —
// policy declined to allocate this cycle (e.g. the "Nascent gate"
// scenario of §8.6) — and returns no action; the kernel's next tick will
// reconsider it.
func BrokerDefer(r *model.Reservation) (Action, error) {
	if r.Pending == model.PendingNone {
		return ActionNone, illegalTransition(r.Category, r.State, r.Pending, "Defer")
	}
	return ActionNone, nil
}

// BrokerExtendRequest handles an incoming ExtendTicket request against an
// already-Ticketed reservation, staging a pending extend against the
// delegation pool.
func BrokerExtendRequest(r *model.Reservation) error {
	if r.State != model.Ticketed || r.Pending != model.PendingNone {
		return illegalTransition(r.Category, r.State, r.Pending, "ExtendTicketRequest")
	}
	r.Pending = model.PendingExtendingTicket
	return nil
}

// BrokerRelinquish returns the reservation's allocation to the
// delegation pool and moves it to Closed (§4.3: "Relinquish transitions
// to Closed after returning capacity to the pool").
func BrokerRelinquish(r *model.Reservation) error {
	if r.State.IsTerminal() {
		return illegalTransition(r.Category, r.State, r.Pending, "Relinquish")
	}
	r.State = model.Closed
	r.Pending = model.PendingNone
	return nil
}
