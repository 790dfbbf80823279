package model

import "testing"

func TestReservationAcceptSequenceMonotone(t *testing.T) {
	r := &Reservation{}

	if accept, replay := r.AcceptSequence(1); !accept || replay {
		t.Fatalf("first message should be accepted as fresh, got accept=%v replay=%v", accept, replay)
	}
	if accept, _ := r.AcceptSequence(1); accept {
		t.Fatal("repeat of an un-acked sequence should be dropped, not accepted")
	}

	r.MarkSequenceInAcked()
	if accept, replay := r.AcceptSequence(1); !accept || !replay {
		t.Fatalf("repeat after a response was sent should be an idempotent replay, got accept=%v replay=%v", accept, replay)
	}

	if accept, replay := r.AcceptSequence(1); !accept || !replay {
		t.Fatalf("a further repeat of the acked sequence should still be an idempotent replay, got accept=%v replay=%v", accept, replay)
	}
	if accept, replay := r.AcceptSequence(2); !accept || replay {
		t.Fatalf("higher sequence should be accepted as fresh, got accept=%v replay=%v", accept, replay)
	}
	if accept, _ := r.AcceptSequence(1); accept {
		t.Fatal("stale (lower) sequence must be dropped")
	}
}

func TestDelegationAcceptSequenceMonotone(t *testing.T) {
	d := &Delegation{}

	if accept, replay := d.AcceptSequence(5); !accept || replay {
		t.Fatalf("first message should be accepted as fresh, got accept=%v replay=%v", accept, replay)
	}
	if accept, _ := d.AcceptSequence(5); accept {
		t.Fatal("repeat of an un-acked sequence should be dropped")
	}
	d.MarkSequenceInAcked()
	if accept, replay := d.AcceptSequence(5); !accept || !replay {
		t.Fatalf("repeat after ack should be an idempotent replay, got accept=%v replay=%v", accept, replay)
	}
	if accept, _ := d.AcceptSequence(4); accept {
		t.Fatal("stale sequence must be dropped")
	}
}
