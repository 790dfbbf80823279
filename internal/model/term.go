// Package model defines the kernel's data model (§3): terms, resource
// sets, slices, reservations, delegations, and units.
package model

import "fmt"

// Term is a half-open cycle interval [Start, End) plus the cycle at which
// the most recent extension begins (§3). Cycles are the ticker's integer
// unit of scheduling time (§4.6), not wall-clock values.
type Term struct {
	Start    int64
	End      int64
	NewStart int64 // 0 means "no extension has happened yet"
}

// NewTerm builds a fresh, unextended term.
func NewTerm(start, end int64) Term {
	return Term{Start: start, End: end}
}

// Contains reports whether cycle falls inside the half-open interval.
func (t Term) Contains(cycle int64) bool {
	return cycle >= t.Start && cycle < t.End
}

// Extend returns T' per §3: `T'.start = T.start`, `T'.new_start = T.end`,
// `T'.end = T.end + delta`. delta must be positive.
func (t Term) Extend(delta int64) (Term, error) {
	if delta <= 0 {
		return Term{}, fmt.Errorf("extend delta must be positive, got %d", delta)
	}
	return Term{
		Start:    t.Start,
		NewStart: t.End,
		End:      t.End + delta,
	}, nil
}

// ExtendTo returns T' with an explicit new end, validated against the
// boundary behavior in §8: "Extend with new_end <= current_end fails with
// InvalidArgument."
func (t Term) ExtendTo(newEnd int64) (Term, error) {
	if newEnd <= t.End {
		return Term{}, fmt.Errorf("new end %d must be greater than current end %d", newEnd, t.End)
	}
	return Term{
		Start:    t.Start,
		NewStart: t.End,
		End:      newEnd,
	}, nil
}

// Length returns the number of cycles spanned by the term.
func (t Term) Length() int64 {
	return t.End - t.Start
}

func (t Term) String() string {
	if t.NewStart != 0 {
		return fmt.Sprintf("[%d, %d) new_start=%d", t.Start, t.End, t.NewStart)
	}
	return fmt.Sprintf("[%d, %d)", t.Start, t.End)
}
