package model

import (
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

// Category is the role-specific flavor of a reservation (§3).
type Category string

const (
	CategoryClient    Category = "Client"
	CategoryBroker    Category = "Broker"
	CategoryAuthority Category = "Authority"
)

// ReservationState is the lifecycle state of §4.3.
type ReservationState string

const (
	Nascent         ReservationState = "Nascent"
	Ticketed        ReservationState = "Ticketed"
	Active          ReservationState = "Active"
	ActiveTicketed  ReservationState = "ActiveTicketed"
	Closed          ReservationState = "Closed"
	Failed          ReservationState = "Failed"
	CloseWait       ReservationState = "CloseWait"
	CloseFail       ReservationState = "CloseFail"
)

// IsTerminal reports whether the state is absorbing (§3, §8).
func (s ReservationState) IsTerminal() bool {
	switch s {
	case Closed, Failed, CloseFail:
		return true
	default:
		return false
	}
}

// PendingOp is the in-flight operation overlay on a reservation (§4.3).
// A reservation may hold at most one; it precludes starting another.
type PendingOp string

const (
	PendingNone           PendingOp = "None"
	PendingTicketing      PendingOp = "Ticketing"
	PendingExtendingTicket PendingOp = "ExtendingTicket"
	PendingRedeeming      PendingOp = "Redeeming"
	PendingExtendingLease PendingOp = "ExtendingLease"
	PendingClosing        PendingOp = "Closing"
	PendingPriming        PendingOp = "Priming"
)

// JoinState tracks whether a reservation is still waiting on a
// predecessor (used by the "Nascent gate" scenario of §8.6).
type JoinState string

const (
	JoinNone     JoinState = "None"
	JoinJoining  JoinState = "Joining"
	JoinJoined   JoinState = "Joined"
)

// UpdateData carries the user-visible failure/progress message surfaced
// on slice and reservation states (§7).
type UpdateData struct {
	Message       string
	Success       bool
	LastUpdatedAt time.Time
}

// Reservation is the core leased-resource record (§3).
type Reservation struct {
	Rid      ids.Identifier
	SliceID  ids.Identifier
	Category Category

	Resources Triad
	Term      Term

	State   ReservationState
	Pending PendingOp
	Join    JoinState

	SequenceIn      int64
	SequenceOut     int64
	SequenceInAcked bool

	Predecessors []ids.Identifier

	UpdateData UpdateData

	GraphNodeID string

	// OwnerSub/Email mirror the persistence schema's owner_sub/email
	// columns (§6.2) so recovery can rehydrate the owning principal
	// without re-parsing the whole blob.
	OwnerSub string
	Email    string
}

// NewReservation constructs a reservation in its initial Nascent state
// with no pending operation.
func NewReservation(rid, sliceID ids.Identifier, category Category, requested ResourceSet, term Term) *Reservation {
	return &Reservation{
		Rid:      rid,
		SliceID:  sliceID,
		Category: category,
		Resources: Triad{
			Requested: requested.Clone(),
		},
		Term:    term,
		State:   Nascent,
		Pending: PendingNone,
		Join:    JoinNone,
	}
}

// HasOutstandingRPC reports whether the reservation currently holds an
// outbound request awaiting a response — at most one is legal (§4.3, §8).
func (r *Reservation) HasOutstandingRPC() bool {
	return r.Pending != PendingNone
}

// AcceptSequence applies the monotone-sequence-in rule (§3, §4.3): an
// incoming message with sequence <= last seen is dropped with a warning,
// except that sequence == last seen is accepted as an idempotent replay
// if a response has already been sent for it. accept reports whether the
// caller may proceed at all; replay reports whether this is that
// idempotent resend, in which case the original transition must not be
// re-applied.
func (r *Reservation) AcceptSequence(seq int64) (accept, replay bool) {
	switch {
	case seq > r.SequenceIn:
		r.SequenceIn = seq
		r.SequenceInAcked = false
		return true, false
	case seq == r.SequenceIn && r.SequenceInAcked:
		return true, true
	default:
		return false, false
	}
}

// MarkSequenceInAcked records that a response has been sent for the
// current SequenceIn, so that a retried duplicate at the same sequence is
// recognized as an idempotent replay instead of dropped as stale.
func (r *Reservation) MarkSequenceInAcked() {
	r.SequenceInAcked = true
}

// NextSequenceOut allocates the next outbound sequence number.
func (r *Reservation) NextSequenceOut() int64 {
	r.SequenceOut++
	return r.SequenceOut
}

// Fail forces the reservation into the terminal Failed state and records a
// notice (§4.2 fail, §7).
func (r *Reservation) Fail(message string) {
	if r.State.IsTerminal() {
		return
	}
	r.State = Failed
	r.Pending = PendingNone
	r.UpdateData = UpdateData{Message: message, Success: false, LastUpdatedAt: time.Now().UTC()}
}
