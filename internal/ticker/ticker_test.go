package ticker

import "testing"

type recordingTickable struct {
	cycles []int64
}

func (r *recordingTickable) ExternalTick(cycle int64) {
	r.cycles = append(r.cycles, cycle)
}

func TestManualTickAdvancesByOne(t *testing.T) {
	tk, err := New(0, 1000, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingTickable{}
	tk.AddTickable(rec)

	for i := 0; i < 3; i++ {
		if _, err := tk.Tick(); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.cycles) != 3 || rec.cycles[0] != 0 || rec.cycles[2] != 2 {
		t.Fatalf("unexpected cycle sequence: %v", rec.cycles)
	}
}

func TestAdvanceToReconcilesGap(t *testing.T) {
	tk, err := New(0, 1000, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingTickable{}
	tk.AddTickable(rec)

	if err := tk.AdvanceTo(4); err != nil {
		t.Fatal(err)
	}
	want := []int64{0, 1, 2, 3, 4}
	if len(rec.cycles) != len(want) {
		t.Fatalf("expected %d cycles, got %v", len(want), rec.cycles)
	}
	for i, c := range want {
		if rec.cycles[i] != c {
			t.Fatalf("cycle %d: expected %d, got %d", i, c, rec.cycles[i])
		}
	}
	if tk.CurrentCycle() != 4 {
		t.Fatalf("expected current cycle 4, got %d", tk.CurrentCycle())
	}
}

func TestRemoveTickableStopsDelivery(t *testing.T) {
	tk, err := New(0, 1000, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingTickable{}
	tk.AddTickable(rec)
	if _, err := tk.Tick(); err != nil {
		t.Fatal(err)
	}
	tk.RemoveTickable(rec)
	if _, err := tk.Tick(); err != nil {
		t.Fatal(err)
	}
	if len(rec.cycles) != 1 {
		t.Fatalf("expected delivery to stop after removal, got %v", rec.cycles)
	}
}

func TestAutomaticModeRejectsManualOps(t *testing.T) {
	tk, err := New(-1, 50, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tk.Tick(); err == nil {
		t.Fatal("expected Tick to be rejected in automatic mode")
	}
	if err := tk.AdvanceTo(5); err == nil {
		t.Fatal("expected AdvanceTo to be rejected in automatic mode")
	}
}

func TestCycleForTimeMatchesCycleMillis(t *testing.T) {
	tk, err := New(0, 1000, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	at := tk.beginningOfTime.Add(2500 * 1e6)
	if got := tk.CycleForTime(at); got != 2 {
		t.Fatalf("expected cycle 2, got %d", got)
	}
}
