// Package fsm implements the per-role reservation state machines, the
// delegation state machine, and the slice aggregate (§4.3–§4.5). Each
// role gets its own transition function — a state/event dispatch table,
// per the "tagged variant or state+event dispatch table" guidance of §9 —
// rather than one shared machine with per-role branches sprinkled through
// it.
package fsm

import (
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

// Action names the side effect a transition wants the caller (the kernel,
// via the RPC manager) to perform. The FSM itself never sends anything —
// it only decides what should happen next, matching §6.5's "policies
// never touch the kernel tables directly" separation applied to the state
// machines too.
type Action string

const (
	ActionNone              Action = "None"
	ActionSendTicket        Action = "SendTicket"
	ActionSendExtendTicket  Action = "SendExtendTicket"
	ActionSendRedeem        Action = "SendRedeem"
	ActionSendExtendLease   Action = "SendExtendLease"
	ActionSendModifyLease   Action = "SendModifyLease"
	ActionSendClose         Action = "SendClose"
	ActionSendRelinquish    Action = "SendRelinquish"
	ActionSendUpdateTicket  Action = "SendUpdateTicket"
	ActionSendUpdateLease   Action = "SendUpdateLease"
	ActionCreateUnit        Action = "CreateUnit"
	ActionModifyUnit        Action = "ModifyUnit"
	ActionDeleteUnit        Action = "DeleteUnit"
)

// illegalTransition is a helper constructor: every "can't get there from
// here" rejection uses the same error kind and message shape.
func illegalTransition(category model.Category, state model.ReservationState, pending model.PendingOp, event string) error {
	return kernelerrors.New(kernelerrors.InvalidState,
		string(category)+" reservation in state "+string(state)+"/"+string(pending)+" cannot accept "+event)
}
