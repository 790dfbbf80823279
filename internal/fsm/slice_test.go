package fsm

import (
	"testing"

	"github.com/R3E-Network/testbed-kernel/internal/model"
)

func TestRecomputeSliceStateAllDead(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.Closed},
		{State: model.Failed},
	}
	got := RecomputeSliceState(model.SliceStableOK, children, false)
	if got != model.SliceDead {
		t.Fatalf("expected Dead, got %v", got)
	}
}

func TestRecomputeSliceStateStableOK(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.Active},
		{State: model.ActiveTicketed},
	}
	got := RecomputeSliceState(model.SliceConfiguring, children, false)
	if got != model.SliceStableOK {
		t.Fatalf("expected StableOK, got %v", got)
	}
}

func TestRecomputeSliceStateStableError(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.Active},
		{State: model.Failed},
	}
	got := RecomputeSliceState(model.SliceStableOK, children, false)
	if got != model.SliceStableError {
		t.Fatalf("expected StableError, got %v", got)
	}
}

func TestRecomputeSliceStateConfiguringOnNascent(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.Ticketed},
		{State: model.Nascent},
		{State: model.Failed},
	}
	got := RecomputeSliceState(model.SliceConfiguring, children, false)
	if got != model.SliceConfiguring {
		t.Fatalf("expected Configuring, got %v", got)
	}
}

func TestRecomputeSliceStateModifyingWhenTriggered(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.Ticketed, Pending: model.PendingExtendingTicket},
	}
	got := RecomputeSliceState(model.SliceStableOK, children, true)
	if got != model.SliceModifying {
		t.Fatalf("expected Modifying, got %v", got)
	}
}

func TestRecomputeSliceStateClosingWins(t *testing.T) {
	children := []ReservationSnapshot{
		{State: model.CloseWait},
		{State: model.Active},
	}
	got := RecomputeSliceState(model.SliceStableOK, children, false)
	if got != model.SliceClosing {
		t.Fatalf("expected Closing, got %v", got)
	}
}
