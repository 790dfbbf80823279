package fsm

import (
	"testing"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

func newAuthorityReservation() *model.Reservation {
	return model.NewReservation(ids.New(), ids.New(), model.CategoryAuthority,
		model.ResourceSet{Units: 1}, model.NewTerm(5, 10))
}

func TestAuthorityHappyPath(t *testing.T) {
	r := newAuthorityReservation()
	if err := AuthorityRedeemRequest(r); err != nil {
		t.Fatal(err)
	}
	action, err := AuthorityAssignUnits(r)
	if err != nil || action != ActionCreateUnit {
		t.Fatalf("AssignUnits: action=%v err=%v", action, err)
	}
	if r.Pending != model.PendingPriming {
		t.Fatalf("expected Priming, got %v", r.Pending)
	}

	action, err = AuthorityCreateComplete(r, true, "created")
	if err != nil || action != ActionSendUpdateLease {
		t.Fatalf("CreateComplete: action=%v err=%v", action, err)
	}
	if r.State != model.Active {
		t.Fatalf("expected Active, got %v", r.State)
	}

	action, err = AuthorityClose(r)
	if err != nil || action != ActionDeleteUnit {
		t.Fatalf("Close: action=%v err=%v", action, err)
	}

	if _, err := AuthorityDeleteComplete(r, true, "deleted"); err != nil {
		t.Fatal(err)
	}
	if r.State != model.Closed {
		t.Fatalf("expected Closed, got %v", r.State)
	}
}

func TestAuthorityCreateFailureFailsReservation(t *testing.T) {
	r := newAuthorityReservation()
	if err := AuthorityRedeemRequest(r); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityAssignUnits(r); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityCreateComplete(r, false, "handler error"); err != nil {
		t.Fatal(err)
	}
	if r.State != model.Failed {
		t.Fatalf("expected Failed, got %v", r.State)
	}
}

func TestAuthorityDeleteFailureGoesToCloseFail(t *testing.T) {
	r := newAuthorityReservation()
	if err := AuthorityRedeemRequest(r); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityAssignUnits(r); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityCreateComplete(r, true, "ok"); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityClose(r); err != nil {
		t.Fatal(err)
	}
	if _, err := AuthorityDeleteComplete(r, false, "handler delete failed"); err != nil {
		t.Fatal(err)
	}
	if r.State != model.CloseFail {
		t.Fatalf("expected CloseFail, got %v", r.State)
	}
	if !r.State.IsTerminal() {
		t.Fatal("CloseFail must be terminal")
	}
}
