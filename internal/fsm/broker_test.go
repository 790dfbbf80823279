package fsm

import (
	"testing"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

func newBrokerReservation() *model.Reservation {
	return model.NewReservation(ids.New(), ids.New(), model.CategoryBroker,
		model.ResourceSet{Units: 3}, model.NewTerm(5, 10))
}

func TestBrokerAllocateHappyPath(t *testing.T) {
	r := newBrokerReservation()
	if err := BrokerTicketRequest(r); err != nil {
		t.Fatal(err)
	}
	action, err := BrokerAllocate(r)
	if err != nil || action != ActionSendUpdateTicket {
		t.Fatalf("Allocate: action=%v err=%v", action, err)
	}
	if r.State != model.Ticketed || r.Pending != model.PendingNone {
		t.Fatalf("expected Ticketed/None, got %v/%v", r.State, r.Pending)
	}
}

func TestBrokerDeferKeepsPending(t *testing.T) {
	r := newBrokerReservation()
	if err := BrokerTicketRequest(r); err != nil {
		t.Fatal(err)
	}
	action, err := BrokerDefer(r)
	if err != nil || action != ActionNone {
		t.Fatalf("Defer: action=%v err=%v", action, err)
	}
	if r.Pending != model.PendingTicketing {
		t.Fatalf("deferring must not clear pending, got %v", r.Pending)
	}
}

func TestBrokerRelinquish(t *testing.T) {
	r := newBrokerReservation()
	if err := BrokerTicketRequest(r); err != nil {
		t.Fatal(err)
	}
	if _, err := BrokerAllocate(r); err != nil {
		t.Fatal(err)
	}
	if err := BrokerRelinquish(r); err != nil {
		t.Fatal(err)
	}
	if r.State != model.Closed {
		t.Fatalf("expected Closed, got %v", r.State)
	}
}
