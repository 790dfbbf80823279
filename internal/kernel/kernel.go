// Package kernel implements the §4.2 kernel: the three id-keyed indexes
// (slices, reservations, delegations) plus a secondary per-slice
// reservation index, and every operation that mutates them. Every
// exported method assumes it runs on the owning actor's single-writer
// loop (internal/actorloop) — the kernel itself holds a mutex only to
// protect read-only introspection (management/export paths, §5) from the
// loop goroutine, not to allow concurrent mutation.
package kernel

import (
	"context"
	"sync"

	"github.com/R3E-Network/testbed-kernel/internal/fsm"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
)

// Kernel owns the in-memory indexes and write-through persistence for one
// actor (§4.2).
type Kernel struct {
	store storage.Store
	pol   policy.Policy
	log   *logging.Logger

	mu sync.RWMutex

	slices       map[ids.Identifier]*model.Slice
	reservations map[ids.Identifier]*model.Reservation
	delegations  map[ids.Identifier]*model.Delegation

	// sliceReservations and sliceDelegations are the secondary indexes
	// named in §4.2, kept separate from model.Slice's own membership
	// sets so RemoveReservation/RemoveDelegation can assert "no kernel
	// index references rid" (§8) against a structure that isn't also the
	// persisted entity.
	sliceReservations map[ids.Identifier]map[ids.Identifier]struct{}
	sliceDelegations  map[ids.Identifier]map[ids.Identifier]struct{}

	// sliceOrder and sliceReservationOrder preserve registration order so
	// Tick can present the policy with reservations "in order of slice
	// creation, then reservation creation" (§4.3).
	sliceOrder            []ids.Identifier
	sliceReservationOrder map[ids.Identifier][]ids.Identifier

	// onAction, if set, is invoked whenever Tick's bind pass or a close
	// sweep produces an fsm.Action that needs an external side effect
	// (§4.7, §4.8). See SetActionHandler.
	onAction func(rid ids.Identifier, action fsm.Action)
}

// New builds an empty Kernel backed by store and pol.
func New(store storage.Store, pol policy.Policy, log *logging.Logger) *Kernel {
	if log == nil {
		log = logging.NewDefault("kernel")
	}
	return &Kernel{
		store:                 store,
		pol:                   pol,
		log:                   log,
		slices:                make(map[ids.Identifier]*model.Slice),
		reservations:          make(map[ids.Identifier]*model.Reservation),
		delegations:           make(map[ids.Identifier]*model.Delegation),
		sliceReservations:     make(map[ids.Identifier]map[ids.Identifier]struct{}),
		sliceDelegations:      make(map[ids.Identifier]map[ids.Identifier]struct{}),
		sliceReservationOrder: make(map[ids.Identifier][]ids.Identifier),
	}
}

// RegisterSlice adds s to the slice index and persists it. Fails if the id
// is already present or if the storage write fails (§4.2).
func (k *Kernel) RegisterSlice(ctx context.Context, s *model.Slice) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.slices[s.SliceID]; exists {
		return kernelerrors.New(kernelerrors.InvalidArgument, "slice already registered: "+s.SliceID.String())
	}
	if err := k.store.SaveSlice(ctx, s); err != nil {
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "save slice", err)
	}
	k.slices[s.SliceID] = s
	k.sliceReservations[s.SliceID] = make(map[ids.Identifier]struct{})
	k.sliceDelegations[s.SliceID] = make(map[ids.Identifier]struct{})
	k.sliceOrder = append(k.sliceOrder, s.SliceID)
	return nil
}

// ReRegisterSlice adds an already-persisted slice back into the index
// during recovery (§4.2, §4.9). Fails if no persisted record exists.
func (k *Kernel) ReRegisterSlice(ctx context.Context, s *model.Slice) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, err := k.store.GetSlice(ctx, s.SliceID); err != nil {
		return kernelerrors.Wrap(kernelerrors.NotFound, "re-register slice: no persisted record for "+s.SliceID.String(), err)
	}
	if _, already := k.slices[s.SliceID]; !already {
		k.sliceOrder = append(k.sliceOrder, s.SliceID)
	}
	k.slices[s.SliceID] = s
	if _, ok := k.sliceReservations[s.SliceID]; !ok {
		k.sliceReservations[s.SliceID] = make(map[ids.Identifier]struct{})
	}
	if _, ok := k.sliceDelegations[s.SliceID]; !ok {
		k.sliceDelegations[s.SliceID] = make(map[ids.Identifier]struct{})
	}
	return nil
}

// GetSlice returns the indexed slice, if any.
func (k *Kernel) GetSlice(sid ids.Identifier) (*model.Slice, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.slices[sid]
	return s, ok
}

// GetReservation returns the indexed reservation, if any.
func (k *Kernel) GetReservation(rid ids.Identifier) (*model.Reservation, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	r, ok := k.reservations[rid]
	return r, ok
}

// GetDelegation returns the indexed delegation, if any.
func (k *Kernel) GetDelegation(did ids.Identifier) (*model.Delegation, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	d, ok := k.delegations[did]
	return d, ok
}

// RegisterReservation requires the owning slice to already be indexed,
// persists r, and inserts it into both the reservation index and the
// per-slice secondary index (§4.2).
func (k *Kernel) RegisterReservation(ctx context.Context, r *model.Reservation) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.registerReservationLocked(ctx, r, true)
}

// ReRegisterReservation is the recovery-path equivalent: it requires the
// record to already be persisted rather than persisting it fresh (§4.9).
func (k *Kernel) ReRegisterReservation(ctx context.Context, r *model.Reservation) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.store.GetReservation(ctx, r.Rid); err != nil {
		return kernelerrors.Wrap(kernelerrors.NotFound, "re-register reservation: no persisted record for "+r.Rid.String(), err)
	}
	return k.registerReservationLocked(ctx, r, false)
}

func (k *Kernel) registerReservationLocked(ctx context.Context, r *model.Reservation, persist bool) error {
	slice, ok := k.slices[r.SliceID]
	if !ok {
		return kernelerrors.New(kernelerrors.InvalidArgument, "slice not indexed: "+r.SliceID.String())
	}
	if persist {
		if err := k.store.SaveReservation(ctx, r); err != nil {
			return kernelerrors.Wrap(kernelerrors.StorageFailure, "save reservation", err)
		}
	}
	k.reservations[r.Rid] = r
	if _, ok := k.sliceReservations[r.SliceID]; !ok {
		k.sliceReservations[r.SliceID] = make(map[ids.Identifier]struct{})
	}
	k.sliceReservations[r.SliceID][r.Rid] = struct{}{}
	k.sliceReservationOrder[r.SliceID] = append(k.sliceReservationOrder[r.SliceID], r.Rid)
	slice.AddReservation(r.Rid)
	return nil
}

// RegisterDelegation mirrors RegisterReservation for delegations.
func (k *Kernel) RegisterDelegation(ctx context.Context, d *model.Delegation) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.registerDelegationLocked(ctx, d, true)
}

// ReRegisterDelegation mirrors ReRegisterReservation for delegations.
func (k *Kernel) ReRegisterDelegation(ctx context.Context, d *model.Delegation) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.store.GetDelegation(ctx, d.Did); err != nil {
		return kernelerrors.Wrap(kernelerrors.NotFound, "re-register delegation: no persisted record for "+d.Did.String(), err)
	}
	return k.registerDelegationLocked(ctx, d, false)
}

func (k *Kernel) registerDelegationLocked(ctx context.Context, d *model.Delegation, persist bool) error {
	slice, ok := k.slices[d.SliceID]
	if !ok {
		return kernelerrors.New(kernelerrors.InvalidArgument, "slice not indexed: "+d.SliceID.String())
	}
	if persist {
		if err := k.store.SaveDelegation(ctx, d); err != nil {
			return kernelerrors.Wrap(kernelerrors.StorageFailure, "save delegation", err)
		}
	}
	k.delegations[d.Did] = d
	if _, ok := k.sliceDelegations[d.SliceID]; !ok {
		k.sliceDelegations[d.SliceID] = make(map[ids.Identifier]struct{})
	}
	k.sliceDelegations[d.SliceID][d.Did] = struct{}{}
	slice.AddDelegation(d.Did)
	return nil
}

// UnregisterReservation removes rid from every index without deleting its
// persisted record (§4.2).
func (k *Kernel) UnregisterReservation(rid ids.Identifier) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.reservations[rid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	k.unindexReservationLocked(r)
	return nil
}

func (k *Kernel) unindexReservationLocked(r *model.Reservation) {
	delete(k.reservations, r.Rid)
	if set, ok := k.sliceReservations[r.SliceID]; ok {
		delete(set, r.Rid)
	}
	if order, ok := k.sliceReservationOrder[r.SliceID]; ok {
		k.sliceReservationOrder[r.SliceID] = removeID(order, r.Rid)
	}
	if slice, ok := k.slices[r.SliceID]; ok {
		slice.RemoveReservation(r.Rid)
	}
}

func removeID(order []ids.Identifier, target ids.Identifier) []ids.Identifier {
	for i, id := range order {
		if id == target {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// UnregisterDelegation mirrors UnregisterReservation for delegations.
func (k *Kernel) UnregisterDelegation(did ids.Identifier) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.delegations[did]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "delegation not indexed: "+did.String())
	}
	k.unindexDelegationLocked(d)
	return nil
}

func (k *Kernel) unindexDelegationLocked(d *model.Delegation) {
	delete(k.delegations, d.Did)
	if set, ok := k.sliceDelegations[d.SliceID]; ok {
		delete(set, d.Did)
	}
	if slice, ok := k.slices[d.SliceID]; ok {
		slice.RemoveDelegation(d.Did)
	}
}

// RemoveReservation removes rid from every index and deletes its
// persisted record. The reservation must already be in a terminal state
// (§4.2, §8).
func (k *Kernel) RemoveReservation(ctx context.Context, rid ids.Identifier) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.reservations[rid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	if !r.State.IsTerminal() {
		return kernelerrors.New(kernelerrors.InvalidState, "reservation must be terminal to remove: "+string(r.State))
	}
	if err := k.store.DeleteReservation(ctx, rid); err != nil {
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "delete reservation", err)
	}
	k.unindexReservationLocked(r)
	return nil
}

// RemoveDelegation mirrors RemoveReservation for delegations.
func (k *Kernel) RemoveDelegation(ctx context.Context, did ids.Identifier) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	d, ok := k.delegations[did]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "delegation not indexed: "+did.String())
	}
	if !d.State.IsTerminal() {
		return kernelerrors.New(kernelerrors.InvalidState, "delegation must be terminal to remove: "+string(d.State))
	}
	if err := k.store.DeleteDelegation(ctx, did); err != nil {
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "delete delegation", err)
	}
	k.unindexDelegationLocked(d)
	return nil
}

// persistReservation write-through persists r, reverting snapshot into
// *r and returning a StorageFailure if the store rejects the write
// (§4.2: "if the store rejects the update, the in-memory mutation is
// reverted"). snapshot is a shallow copy of *r taken before mutate ran;
// reverting it is exact for the state-only field mutations every policy
// in this tree performs. A future policy that mutates Predecessors or
// Resources in place (rather than replacing them wholesale) would share
// backing storage with snapshot and not be fully rolled back by this
// revert — such a policy would need its own deep-copy snapshot.
func (k *Kernel) persistReservation(ctx context.Context, r *model.Reservation, snapshot model.Reservation) error {
	if err := k.store.SaveReservation(ctx, r); err != nil {
		*r = snapshot
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "save reservation", err)
	}
	return nil
}

func (k *Kernel) persistDelegation(ctx context.Context, d *model.Delegation, snapshot model.Delegation) error {
	if err := k.store.SaveDelegation(ctx, d); err != nil {
		*d = snapshot
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "save delegation", err)
	}
	return nil
}

// ApplyReservation runs mutate against the indexed reservation rid under
// the kernel lock and write-through persists the result, reverting the
// mutation if the store rejects it. It is the generic entry point the RPC
// dispatcher uses to drive fsm transitions the kernel has no named
// operation for (§4.2, §4.7).
func (k *Kernel) ApplyReservation(ctx context.Context, rid ids.Identifier, mutate func(*model.Reservation) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.reservations[rid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	snapshot := *r
	if err := mutate(r); err != nil {
		*r = snapshot
		return err
	}
	return k.persistReservation(ctx, r, snapshot)
}

// ApplyDelegation mirrors ApplyReservation for delegations.
func (k *Kernel) ApplyDelegation(ctx context.Context, did ids.Identifier, mutate func(*model.Delegation) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	d, ok := k.delegations[did]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "delegation not indexed: "+did.String())
	}
	snapshot := *d
	if err := mutate(d); err != nil {
		*d = snapshot
		return err
	}
	return k.persistDelegation(ctx, d, snapshot)
}

// Close moves rid toward Closing per its role's transition rule, asking
// the policy to return any approved capacity first, then persists the
// result (§4.2, §4.3). It returns the fsm.Action the caller (normally the
// RPC manager) should perform.
func (k *Kernel) Close(ctx context.Context, rid ids.Identifier) (fsm.Action, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.reservations[rid]
	if !ok {
		return fsm.ActionNone, kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	if r.State.IsTerminal() {
		return fsm.ActionNone, nil
	}
	snapshot := *r

	if k.pol != nil {
		if err := k.pol.Close(r); err != nil {
			return fsm.ActionNone, kernelerrors.Wrap(kernelerrors.PolicyReject, "policy rejected close", err)
		}
	}

	var action fsm.Action
	var err error
	switch r.Category {
	case model.CategoryClient:
		action, err = fsm.ClientClose(r)
	case model.CategoryBroker:
		err = fsm.BrokerRelinquish(r)
		action = fsm.ActionNone
	case model.CategoryAuthority:
		action, err = fsm.AuthorityClose(r)
	default:
		err = kernelerrors.New(kernelerrors.Internal, "unknown reservation category: "+string(r.Category))
	}
	if err != nil {
		*r = snapshot
		return fsm.ActionNone, err
	}
	if err := k.persistReservation(ctx, r, snapshot); err != nil {
		return fsm.ActionNone, err
	}
	return action, nil
}

// CloseSliceReservations calls Close on every reservation belonging to
// sid, continuing past individual failures and returning the last error
// encountered, if any (§4.2).
func (k *Kernel) CloseSliceReservations(ctx context.Context, sid ids.Identifier) error {
	k.mu.RLock()
	set, ok := k.sliceReservations[sid]
	rids := make([]ids.Identifier, 0, len(set))
	for rid := range set {
		rids = append(rids, rid)
	}
	k.mu.RUnlock()

	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "slice not indexed: "+sid.String())
	}

	var lastErr error
	for _, rid := range rids {
		action, err := k.Close(ctx, rid)
		if err != nil {
			k.log.Component("kernel").WithField("reservation_id", rid.String()).Warnf("close_slice_reservations: %v", err)
			lastErr = err
			continue
		}
		k.mu.RLock()
		onAction := k.onAction
		k.mu.RUnlock()
		if onAction != nil && action != fsm.ActionNone {
			onAction(rid, action)
		}
	}
	return lastErr
}

// ExtendReservation validates that newEnd extends rid's current term,
// stages the new requested resources and pending state, and persists the
// staged reservation (§4.2). It does not itself send any RPC — the
// caller inspects the resulting pending state and fires the appropriate
// request.
func (k *Kernel) ExtendReservation(ctx context.Context, rid ids.Identifier, resources model.ResourceSet, newEnd int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.reservations[rid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	if r.State.IsTerminal() {
		return kernelerrors.New(kernelerrors.InvalidState, "cannot extend a terminal reservation")
	}
	if r.HasOutstandingRPC() {
		return kernelerrors.New(kernelerrors.InvalidState, "reservation already has an outstanding operation: "+string(r.Pending))
	}
	if err := resources.Validate(); err != nil {
		return kernelerrors.Wrap(kernelerrors.InvalidArgument, "invalid resource set", err)
	}

	extended, err := r.Term.ExtendTo(newEnd)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.InvalidArgument, "extend term", err)
	}

	snapshot := *r
	r.Term = extended
	r.Resources.Requested = resources.Clone()
	r.Pending = model.PendingExtendingLease

	if k.pol != nil {
		if err := k.pol.Extend(r); err != nil {
			*r = snapshot
			return kernelerrors.Wrap(kernelerrors.PolicyReject, "policy rejected extend", err)
		}
	}
	return k.persistReservation(ctx, r, snapshot)
}

// Fail forces rid into the terminal Failed state with a notice (§4.2,
// §7). A no-op if rid is already terminal.
func (k *Kernel) Fail(ctx context.Context, rid ids.Identifier, message string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.reservations[rid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	snapshot := *r
	r.Fail(message)
	return k.persistReservation(ctx, r, snapshot)
}

// FailDelegation forces did into the terminal Failed state with a notice.
func (k *Kernel) FailDelegation(ctx context.Context, did ids.Identifier, message string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	d, ok := k.delegations[did]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "delegation not indexed: "+did.String())
	}
	snapshot := *d
	d.Fail(message)
	return k.persistDelegation(ctx, d, snapshot)
}

// ReservationsBySlice returns, in registration order, the reservations
// belonging to sid — used by Tick to present the policy's view "in order
// of slice creation, then reservation creation" (§4.3).
func (k *Kernel) ReservationsBySlice(sid ids.Identifier) []*model.Reservation {
	k.mu.RLock()
	defer k.mu.RUnlock()
	order, ok := k.sliceReservationOrder[sid]
	if !ok {
		return nil
	}
	out := make([]*model.Reservation, 0, len(order))
	for _, rid := range order {
		if r, ok := k.reservations[rid]; ok {
			out = append(out, r)
		}
	}
	return out
}

// RecomputeSlice re-derives sid's aggregate state from its current
// children and persists it (§4.5).
func (k *Kernel) RecomputeSlice(ctx context.Context, sid ids.Identifier) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	slice, ok := k.slices[sid]
	if !ok {
		return kernelerrors.New(kernelerrors.NotFound, "slice not indexed: "+sid.String())
	}

	snapshots := make([]fsm.ReservationSnapshot, 0, len(slice.Reservations))
	modifyTriggered := false
	for rid := range slice.Reservations {
		r, ok := k.reservations[rid]
		if !ok {
			continue
		}
		snapshots = append(snapshots, fsm.ReservationSnapshot{State: r.State, Pending: r.Pending})
		if r.Pending == model.PendingExtendingLease || r.Pending == model.PendingExtendingTicket {
			modifyTriggered = true
		}
	}

	before := *slice
	slice.State = fsm.RecomputeSliceState(slice.State, snapshots, modifyTriggered)
	slice.Recompute(k.reservations)

	if err := k.store.SaveSlice(ctx, slice); err != nil {
		*slice = before
		return kernelerrors.Wrap(kernelerrors.StorageFailure, "save slice", err)
	}
	return nil
}

// Tick performs one cycle advance: prepare the policy, run a service pass
// over every slice (in slice-creation order) and its reservations (in
// reservation-creation order), closing any reservation whose term has
// ended and has no operation already outstanding, recomputing each
// slice's aggregate state, then finishing the policy (§4.2).
func (k *Kernel) Tick(ctx context.Context, cycle int64) error {
	if k.pol != nil {
		if err := k.pol.Prepare(cycle); err != nil {
			return kernelerrors.Wrap(kernelerrors.PolicyReject, "policy prepare", err)
		}
	}

	k.mu.RLock()
	sliceIDs := append([]ids.Identifier(nil), k.sliceOrder...)
	k.mu.RUnlock()

	var firstErr error
	for _, sid := range sliceIDs {
		for _, r := range k.ReservationsBySlice(sid) {
			if dueForBind(r) {
				if err := k.bind(ctx, r.Rid); err != nil {
					k.log.Component("kernel").WithField("reservation_id", r.Rid.String()).Debugf("tick bind deferred: %v", err)
				}
			}
			if dueForClose(r, cycle) {
				action, err := k.Close(ctx, r.Rid)
				if err != nil {
					k.log.Component("kernel").WithField("reservation_id", r.Rid.String()).Warnf("tick close: %v", err)
					if firstErr == nil {
						firstErr = err
					}
				} else if action != fsm.ActionNone {
					k.mu.RLock()
					onAction := k.onAction
					k.mu.RUnlock()
					if onAction != nil {
						onAction(r.Rid, action)
					}
				}
			}
		}
		if err := k.RecomputeSlice(ctx, sid); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if k.pol != nil {
		if err := k.pol.Finish(cycle); err != nil && firstErr == nil {
			firstErr = kernelerrors.Wrap(kernelerrors.PolicyReject, "policy finish", err)
		}
	}
	return firstErr
}

// dueForClose reports whether r's term has ended and it isn't already
// terminal or mid-close.
func dueForClose(r *model.Reservation, cycle int64) bool {
	if r.State.IsTerminal() || r.State == model.CloseWait {
		return false
	}
	if r.Pending != model.PendingNone {
		return false
	}
	return cycle >= r.Term.End
}

// dueForBind reports whether r is sitting on a decision the policy's
// Bind hook makes (§4.3 "Nascent on incoming Ticket/Redeem request;
// policy is consulted to allocate or defer", §8 scenario 6's client-side
// redemption gate). A Bind error this cycle is treated as a defer, not a
// rejection — Tick will reconsider r on the next cycle.
func dueForBind(r *model.Reservation) bool {
	switch r.Category {
	case model.CategoryBroker:
		return (r.State == model.Nascent && r.Pending == model.PendingTicketing) ||
			(r.State == model.Ticketed && r.Pending == model.PendingExtendingTicket)
	case model.CategoryAuthority:
		return r.State == model.Nascent && r.Pending == model.PendingRedeeming
	case model.CategoryClient:
		return r.State == model.Ticketed && r.Pending == model.PendingNone
	default:
		return false
	}
}

// bind consults the policy for r and, on approval, drives the matching
// fsm transition and fires the resulting action through onAction (if
// set). A nil policy approves everything (no reference policy attached).
func (k *Kernel) bind(ctx context.Context, rid ids.Identifier) error {
	k.mu.Lock()
	r, ok := k.reservations[rid]
	if !ok {
		k.mu.Unlock()
		return kernelerrors.New(kernelerrors.NotFound, "reservation not indexed: "+rid.String())
	}
	snapshot := *r

	if k.pol != nil {
		if err := k.pol.Bind(r); err != nil {
			k.mu.Unlock()
			return err
		}
	}

	var action fsm.Action
	var err error
	switch r.Category {
	case model.CategoryBroker:
		action, err = fsm.BrokerAllocate(r)
	case model.CategoryAuthority:
		action, err = fsm.AuthorityAssignUnits(r)
	case model.CategoryClient:
		action, err = fsm.ClientRedeemDecision(r)
	default:
		err = kernelerrors.New(kernelerrors.Internal, "unknown reservation category: "+string(r.Category))
	}
	if err != nil {
		*r = snapshot
		k.mu.Unlock()
		return err
	}
	persistErr := k.persistReservation(ctx, r, snapshot)
	onAction := k.onAction
	k.mu.Unlock()
	if persistErr != nil {
		return persistErr
	}
	if onAction != nil && action != fsm.ActionNone {
		onAction(rid, action)
	}
	return nil
}

// SetActionHandler registers fn to be called whenever Tick's bind pass,
// Tick's term-end close, or CloseSliceReservations produces an fsm.Action
// that needs an external side effect (an
// outbound RPC, a substrate call) — the dispatcher is the usual caller
// (§4.7, §4.8). Must be called before Tick/Close run concurrently with
// this setter.
func (k *Kernel) SetActionHandler(fn func(rid ids.Identifier, action fsm.Action)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.onAction = fn
}
