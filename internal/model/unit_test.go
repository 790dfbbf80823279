package model

import (
	"testing"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

func TestUnitAcceptCompletionAdvancesOnSuccess(t *testing.T) {
	u := NewUnit(ids.New(), ids.New(), ids.New(), ids.New(), "vm", nil)
	seq := u.NextSequence()

	if !u.AcceptCompletion(seq, true, UnitActive) {
		t.Fatal("completion matching the assigned sequence should be accepted")
	}
	if u.State != UnitActive {
		t.Fatalf("expected UnitActive, got %s", u.State)
	}
}

func TestUnitAcceptCompletionRejectsStaleSequence(t *testing.T) {
	u := NewUnit(ids.New(), ids.New(), ids.New(), ids.New(), "vm", nil)
	u.NextSequence()
	u.NextSequence() // a second Create/Modify call supersedes the first

	if u.AcceptCompletion(1, true, UnitActive) {
		t.Fatal("a completion for a superseded sequence must be rejected")
	}
	if u.State == UnitActive {
		t.Fatal("a rejected completion must not mutate state")
	}
}

func TestUnitAcceptCompletionFailureMarksFailed(t *testing.T) {
	u := NewUnit(ids.New(), ids.New(), ids.New(), ids.New(), "vm", nil)
	seq := u.NextSequence()

	if !u.AcceptCompletion(seq, false, UnitActive) {
		t.Fatal("a matching-sequence failure completion should still be accepted")
	}
	if u.State != UnitFailed {
		t.Fatalf("expected UnitFailed, got %s", u.State)
	}
}
