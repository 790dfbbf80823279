package fsm

import "github.com/R3E-Network/testbed-kernel/internal/model"

// ReservationSnapshot is the minimal per-reservation input RecomputeSliceState
// needs: its state and whether it currently holds a pending operation.
type ReservationSnapshot struct {
	State   model.ReservationState
	Pending model.PendingOp
}

// RecomputeSliceState derives the slice's aggregate state from its child
// reservation states (§4.5). Rules are evaluated top-down; the first
// match wins. modifyTriggered distinguishes rule 5's Configuring/
// Modifying branch, set by the caller when the recompute was triggered by
// a modify operation rather than initial configuration.
func RecomputeSliceState(current model.SliceState, children []ReservationSnapshot, modifyTriggered bool) model.SliceState {
	if len(children) == 0 {
		return current
	}

	allClosedOrFailed := true
	anyClosing := false
	allActive := true
	anyFailed := false
	allTicketedOrActive := true
	anyNascentOrPending := false

	for _, c := range children {
		s := c.State
		if s != model.Closed && s != model.Failed {
			allClosedOrFailed = false
		}
		if s == model.CloseWait {
			anyClosing = true
		}
		if s != model.Active && s != model.ActiveTicketed {
			allActive = false
		}
		if s == model.Failed {
			anyFailed = true
		}
		if s != model.Ticketed && s != model.Active && s != model.ActiveTicketed && s != model.Failed {
			allTicketedOrActive = false
		}
		if s == model.Nascent || c.Pending != model.PendingNone {
			anyNascentOrPending = true
		}
	}

	switch {
	case allClosedOrFailed:
		return model.SliceDead
	case anyClosing:
		return model.SliceClosing
	case allActive && !anyFailed:
		return model.SliceStableOK
	case allTicketedOrActive && anyFailed:
		return model.SliceStableError
	case anyNascentOrPending:
		if modifyTriggered {
			return model.SliceModifying
		}
		return model.SliceConfiguring
	default:
		return current
	}
}
