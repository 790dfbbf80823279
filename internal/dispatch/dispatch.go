// Package dispatch routes inbound wire.Envelope traffic, by MessageType,
// to the matching fsm transition against an already-registered kernel
// record, and converts the fsm.Action a transition or a Kernel.Tick bind
// pass produces into the matching outbound side effect — an RPC send or
// a substrate handler call. Grounded on the teacher's event Dispatcher
// (a fixed table of named handlers keyed by event type, pkg/events), the
// same shape internal/actorloop and internal/rpc already generalize.
//
// Dispatch assumes an ingress layer has already registered a reservation
// or delegation stub via Kernel.RegisterReservation/RegisterDelegation
// (or recovery has re-registered one) before any inbound message for it
// arrives — it drives transitions on indexed records, it never creates
// the slice/reservation shell itself.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/R3E-Network/testbed-kernel/internal/fsm"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernel"
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/rpc"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
	"github.com/R3E-Network/testbed-kernel/internal/substrate"
	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// sendActionMessage maps the fsm.Action values that want an outbound RPC
// to the wire.MessageType that carries it (§4.3, §4.7).
var sendActionMessage = map[fsm.Action]wire.MessageType{
	fsm.ActionSendTicket:       wire.Ticket,
	fsm.ActionSendExtendTicket: wire.ExtendTicket,
	fsm.ActionSendRedeem:       wire.Redeem,
	fsm.ActionSendExtendLease:  wire.ExtendLease,
	fsm.ActionSendModifyLease:  wire.ModifyLease,
	fsm.ActionSendClose:        wire.Close,
	fsm.ActionSendRelinquish:   wire.Relinquish,
	fsm.ActionSendUpdateTicket: wire.UpdateTicket,
	fsm.ActionSendUpdateLease:  wire.UpdateLease,
}

// Dispatcher wires the kernel, the RPC manager, a substrate handler, and
// a policy together: it is the only package that knows how an fsm.Action
// becomes a real side effect.
type Dispatcher struct {
	self    string
	k       *kernel.Kernel
	store   storage.Store
	rpcMgr  *rpc.Manager
	handler substrate.Handler
	pol     policy.Policy
	log     *logging.Logger

	mu        sync.Mutex
	peerTopic map[ids.Identifier]string        // reservation/delegation id -> topic for its counterpart
	unitOwner map[ids.Identifier]ids.Identifier // unit id -> owning reservation id
}

// New builds a Dispatcher and registers it as k's action handler. handler
// may be nil for a non-Authority actor (it never drives unit actions).
func New(self string, k *kernel.Kernel, store storage.Store, rpcMgr *rpc.Manager, handler substrate.Handler, pol policy.Policy, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewDefault("dispatch")
	}
	d := &Dispatcher{
		self:      self,
		k:         k,
		store:     store,
		rpcMgr:    rpcMgr,
		handler:   handler,
		pol:       pol,
		log:       log,
		peerTopic: make(map[ids.Identifier]string),
		unitOwner: make(map[ids.Identifier]ids.Identifier),
	}
	k.SetActionHandler(d.dispatchAction)
	return d
}

// RegisterPeer records the bus topic that reaches id's counterpart actor.
// Whatever creates the local reservation/delegation record (an API
// handler, recovery) calls this before traffic for id can flow; the
// dispatcher never guesses a peer.
func (d *Dispatcher) RegisterPeer(id ids.Identifier, topic string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerTopic[id] = topic
}

func (d *Dispatcher) topicFor(id ids.Identifier) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.peerTopic[id]
	return t, ok
}

// HandleInbound is the rpc.Manager's InboundHandler target: every
// envelope that didn't correlate to one of our own outstanding requests
// lands here (§4.7).
func (d *Dispatcher) HandleInbound(ctx context.Context, env wire.Envelope) {
	if env.ReservationID != nil {
		d.RegisterPeer(*env.ReservationID, env.From)
	}
	if env.DelegationID != nil {
		d.RegisterPeer(*env.DelegationID, env.From)
	}

	switch env.Name {
	case wire.Ticket:
		d.applyReservation(ctx, env, fsm.BrokerTicketRequest)
	case wire.ExtendTicket:
		d.applyReservation(ctx, env, fsm.BrokerExtendRequest)
	case wire.Redeem:
		d.applyReservation(ctx, env, fsm.AuthorityRedeemRequest)
	case wire.ExtendLease, wire.ModifyLease:
		d.applyReservationAction(ctx, env, fsm.AuthorityExtend)
	case wire.Relinquish, wire.Close:
		d.closeReservation(ctx, env)
	case wire.UpdateTicket:
		d.applyReservationOutcome(ctx, env, fsm.ClientTicketUpdate)
	case wire.UpdateLease:
		d.applyReservationOutcome(ctx, env, fsm.ClientLeaseUpdate)
	case wire.ClaimDelegation:
		d.applyDelegation(ctx, env, fsm.DelegationClaim)
	case wire.ReclaimDelegation:
		d.applyDelegation(ctx, env, fsm.DelegationReclaim)
	case wire.UpdateDelegation:
		// Acknowledgement of a Claim/Reclaim we issued; the delegation
		// already moved locally when we sent the request.
	case wire.Query:
		d.answerQuery(ctx, env)
	case wire.FailedRPC:
		d.applyFailedRPC(ctx, env)
	default:
		d.log.Component("dispatch").WithField("message", string(env.Name)).Warn("no route for message type")
	}
}

// OnFailedRPC is the rpc.Manager's FailedRPCHandler target: a local send
// or claim/query timeout translates into the same Fail path a peer's own
// FailedRPC message would (§4.7).
func (d *Dispatcher) OnFailedRPC(ctx context.Context, messageID ids.Identifier, rid, did *ids.Identifier, reason string) {
	switch {
	case rid != nil:
		if err := d.k.Fail(ctx, *rid, reason); err != nil {
			d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("fail after RPC failure: %v", err)
		}
	case did != nil:
		if err := d.k.FailDelegation(ctx, *did, reason); err != nil {
			d.log.Component("dispatch").WithField("delegation_id", did.String()).Warnf("fail after RPC failure: %v", err)
		}
	}
}

// ConfigurationComplete is the substrate.ActorCallback target: it
// disambiguates which handler call just completed from the reservation's
// current Pending op (Priming/ExtendingLease/Closing map 1:1 to
// Create/Modify/Delete, §4.8), applies the matching fsm completion, and
// plumbs the outcome to the policy before firing any resulting action.
func (d *Dispatcher) ConfigurationComplete(ctx context.Context, unitID string, props substrate.CompletionProperties) {
	entry := d.log.Component("dispatch")
	uid, err := ids.Parse(unitID)
	if err != nil {
		entry.WithField("unit_id", unitID).Warnf("configuration_complete: bad unit id: %v", err)
		return
	}
	d.mu.Lock()
	rid, ok := d.unitOwner[uid]
	d.mu.Unlock()
	if !ok {
		entry.WithField("unit_id", unitID).Warn("configuration_complete for unknown unit")
		return
	}

	unit, err := d.store.GetUnit(ctx, uid)
	if err != nil {
		entry.WithField("unit_id", unitID).Warnf("configuration_complete: load unit: %v", err)
		return
	}
	r, ok := d.k.GetReservation(rid)
	if !ok {
		entry.WithField("reservation_id", rid.String()).Warn("configuration_complete for unknown reservation")
		return
	}
	nextState, ok := completionNextState(r.Pending)
	if !ok {
		entry.WithField("reservation_id", rid.String()).Warnf("configuration_complete with no matching pending operation: %s", r.Pending)
		return
	}

	// §4.8: a completion whose action_sequence_number doesn't match the
	// one handed out for the in-flight Create/Modify/Delete is stale (a
	// retried or duplicated callback for an action that already
	// completed) and must not re-apply the transition below.
	success := props.ResultCode == substrate.ResultCodeSuccess
	if !unit.AcceptCompletion(props.ActionSequenceNumber, success, nextState) {
		entry.WithField("unit_id", unitID).WithField("sequence", props.ActionSequenceNumber).Warn("stale configuration_complete dropped")
		return
	}
	if err := d.store.SaveUnit(ctx, unit); err != nil {
		entry.WithField("unit_id", unitID).Warnf("save unit after configuration_complete: %v", err)
	}

	var action fsm.Action
	var which substrate.Action
	err = d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		var completeErr error
		switch r.Pending {
		case model.PendingPriming:
			which = substrate.ActionCreate
			action, completeErr = fsm.AuthorityCreateComplete(r, success, props.ExceptionMessage)
		case model.PendingExtendingLease:
			which = substrate.ActionModify
			action, completeErr = fsm.AuthorityModifyComplete(r, success, props.ExceptionMessage)
		case model.PendingClosing:
			which = substrate.ActionDelete
			action, completeErr = fsm.AuthorityDeleteComplete(r, success, props.ExceptionMessage)
		default:
			completeErr = kernelerrors.New(kernelerrors.InvalidState, "configuration_complete with no matching pending operation: "+string(r.Pending))
		}
		return completeErr
	})
	if err != nil {
		entry.WithField("reservation_id", rid.String()).Warnf("configuration_complete rejected: %v", err)
		return
	}

	if d.pol != nil {
		if perr := d.pol.ConfigurationComplete(which, unit, props); perr != nil {
			entry.WithField("reservation_id", rid.String()).Warnf("policy configuration_complete: %v", perr)
		}
	}
	if action != fsm.ActionNone {
		d.dispatchAction(rid, action)
	}
}

// completionNextState maps the reservation's in-flight pending operation
// to the unit state a successful completion advances to (§4.8: Priming ->
// Active, Modifying -> Active, Closing -> Closed).
func completionNextState(pending model.PendingOp) (model.UnitState, bool) {
	switch pending {
	case model.PendingPriming:
		return model.UnitActive, true
	case model.PendingExtendingLease:
		return model.UnitActive, true
	case model.PendingClosing:
		return model.UnitClosed, true
	default:
		return "", false
	}
}

// staleSequenceErr builds the rejection kernelerrors.New reports when an
// inbound envelope's sequence fails Reservation/Delegation.AcceptSequence
// (§3, §4.3: "sequence_in ≤ last_seen is dropped with a warning").
func staleSequenceErr(seq, lastSeen int64) error {
	return kernelerrors.New(kernelerrors.InvalidArgument, fmt.Sprintf("stale sequence_in %d (last seen %d)", seq, lastSeen))
}

func (d *Dispatcher) applyReservation(ctx context.Context, env wire.Envelope, fn func(*model.Reservation) error) {
	if env.ReservationID == nil {
		return
	}
	rid := *env.ReservationID
	if err := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		accept, replay := r.AcceptSequence(env.Sequence)
		if !accept {
			return staleSequenceErr(env.Sequence, r.SequenceIn)
		}
		if replay {
			return nil
		}
		return fn(r)
	}); err != nil {
		d.logReject(rid, env.Name, err)
	}
}

func (d *Dispatcher) applyReservationAction(ctx context.Context, env wire.Envelope, fn func(*model.Reservation) (fsm.Action, error)) {
	if env.ReservationID == nil {
		return
	}
	rid := *env.ReservationID
	var action fsm.Action
	err := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		accept, replay := r.AcceptSequence(env.Sequence)
		if !accept {
			return staleSequenceErr(env.Sequence, r.SequenceIn)
		}
		if replay {
			return nil
		}
		a, err := fn(r)
		action = a
		return err
	})
	if err != nil {
		d.logReject(rid, env.Name, err)
		return
	}
	if action != fsm.ActionNone {
		d.dispatchAction(rid, action)
	}
}

func (d *Dispatcher) applyReservationOutcome(ctx context.Context, env wire.Envelope, fn func(*model.Reservation, bool, string) (fsm.Action, error)) {
	if env.ReservationID == nil {
		return
	}
	rid := *env.ReservationID
	success := env.UpdateData["success"] == "true"
	message := env.UpdateData["message"]

	var action fsm.Action
	err := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		accept, replay := r.AcceptSequence(env.Sequence)
		if !accept {
			return staleSequenceErr(env.Sequence, r.SequenceIn)
		}
		if replay {
			return nil
		}
		a, err := fn(r, success, message)
		action = a
		return err
	})
	if err != nil {
		d.logReject(rid, env.Name, err)
		return
	}
	if action != fsm.ActionNone {
		d.dispatchAction(rid, action)
	}
}

// checkReservationSequence applies the monotone-sequence-in rule ahead of
// a handler, such as Close, that doesn't run through ApplyReservation's
// mutate closure on its own. proceed is false either because the
// envelope was stale (err is set) or because it's an idempotent replay of
// an already-answered request (err is nil, nothing left to do).
func (d *Dispatcher) checkReservationSequence(ctx context.Context, rid ids.Identifier, env wire.Envelope) (proceed bool, err error) {
	applyErr := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		accept, replay := r.AcceptSequence(env.Sequence)
		if !accept {
			return staleSequenceErr(env.Sequence, r.SequenceIn)
		}
		proceed = !replay
		return nil
	})
	return proceed, applyErr
}

func (d *Dispatcher) closeReservation(ctx context.Context, env wire.Envelope) {
	if env.ReservationID == nil {
		return
	}
	rid := *env.ReservationID
	proceed, err := d.checkReservationSequence(ctx, rid, env)
	if err != nil {
		d.logReject(rid, env.Name, err)
		return
	}
	if !proceed {
		return
	}
	action, err := d.k.Close(ctx, rid)
	if err != nil {
		d.logReject(rid, env.Name, err)
		return
	}
	if action != fsm.ActionNone {
		d.dispatchAction(rid, action)
	}
}

func (d *Dispatcher) applyDelegation(ctx context.Context, env wire.Envelope, fn func(*model.Delegation) error) {
	if env.DelegationID == nil {
		return
	}
	did := *env.DelegationID
	if err := d.k.ApplyDelegation(ctx, did, func(dl *model.Delegation) error {
		accept, replay := dl.AcceptSequence(env.Sequence)
		if !accept {
			return staleSequenceErr(env.Sequence, dl.SequenceIn)
		}
		if replay {
			return nil
		}
		return fn(dl)
	}); err != nil {
		d.logRejectDelegation(did, env.Name, err)
		return
	}
	d.reply(ctx, env, wire.UpdateDelegation, nil)
}

func (d *Dispatcher) applyFailedRPC(ctx context.Context, env wire.Envelope) {
	reason := env.UpdateData["reason"]
	switch {
	case env.ReservationID != nil:
		if err := d.k.Fail(ctx, *env.ReservationID, reason); err != nil {
			d.logReject(*env.ReservationID, env.Name, err)
		}
	case env.DelegationID != nil:
		if err := d.k.FailDelegation(ctx, *env.DelegationID, reason); err != nil {
			d.logRejectDelegation(*env.DelegationID, env.Name, err)
		}
	}
}

func (d *Dispatcher) answerQuery(ctx context.Context, env wire.Envelope) {
	if d.pol == nil {
		return
	}
	result, err := d.pol.Query(env.QueryProps)
	if err != nil {
		d.log.Component("dispatch").Warnf("policy query failed: %v", err)
		return
	}
	d.reply(ctx, env, wire.QueryResult, result)
}

// reply sends a correlated response to orig: same reservation/delegation
// id, RequestID pointing back to orig's message id so the peer's own
// rpc.Manager resolves its pending entry (§4.7).
func (d *Dispatcher) reply(ctx context.Context, orig wire.Envelope, name wire.MessageType, updateData map[string]string) {
	reqID := orig.MessageID
	resp := wire.Envelope{
		Name:          name,
		From:          d.self,
		ReservationID: orig.ReservationID,
		DelegationID:  orig.DelegationID,
		RequestID:     &reqID,
		UpdateData:    updateData,
	}
	if _, err := d.rpcMgr.Send(ctx, orig.From, resp, nil); err != nil {
		d.log.Component("dispatch").Warnf("reply %s to %s failed: %v", name, orig.From, err)
		return
	}
	d.markSequenceAcked(ctx, orig)
}

// markSequenceAcked records that a response for orig's sequence has been
// handed to the rpc manager (delivery is asynchronous), so a retried duplicate at the same sequence_in is
// recognized as an idempotent replay (§3, §4.3) instead of dropped.
func (d *Dispatcher) markSequenceAcked(ctx context.Context, orig wire.Envelope) {
	if orig.ReservationID != nil {
		rid := *orig.ReservationID
		if err := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
			r.MarkSequenceInAcked()
			return nil
		}); err != nil {
			d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("mark sequence acked: %v", err)
		}
	}
	if orig.DelegationID != nil {
		did := *orig.DelegationID
		if err := d.k.ApplyDelegation(ctx, did, func(dl *model.Delegation) error {
			dl.MarkSequenceInAcked()
			return nil
		}); err != nil {
			d.log.Component("dispatch").WithField("delegation_id", did.String()).Warnf("mark sequence acked: %v", err)
		}
	}
}

// dispatchAction is registered with Kernel.SetActionHandler: it converts
// the fsm.Action a bind pass or Close produced into the matching outbound
// side effect.
func (d *Dispatcher) dispatchAction(rid ids.Identifier, action fsm.Action) {
	ctx := context.Background()
	switch action {
	case fsm.ActionNone:
	case fsm.ActionCreateUnit:
		d.driveSubstrate(ctx, rid, substrate.ActionCreate)
	case fsm.ActionModifyUnit:
		d.driveSubstrate(ctx, rid, substrate.ActionModify)
	case fsm.ActionDeleteUnit:
		d.driveSubstrate(ctx, rid, substrate.ActionDelete)
	default:
		d.sendForAction(ctx, rid, action)
	}
}

func (d *Dispatcher) sendForAction(ctx context.Context, rid ids.Identifier, action fsm.Action) {
	name, ok := sendActionMessage[action]
	if !ok {
		return
	}
	topic, ok := d.topicFor(rid)
	if !ok {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warn("no peer topic registered; dropping outbound send")
		return
	}

	var seq int64
	if err := d.k.ApplyReservation(ctx, rid, func(r *model.Reservation) error {
		seq = r.NextSequenceOut()
		return nil
	}); err != nil {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("stamp sequence for %s: %v", name, err)
		return
	}

	env := wire.Envelope{Name: name, From: d.self, ReservationID: &rid, Sequence: seq}
	if _, err := d.rpcMgr.Send(ctx, topic, env, nil); err != nil {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("send %s failed: %v", name, err)
	}
}

func (d *Dispatcher) driveSubstrate(ctx context.Context, rid ids.Identifier, action substrate.Action) {
	if d.handler == nil {
		return
	}
	r, ok := d.k.GetReservation(rid)
	if !ok {
		return
	}
	unit, err := d.unitForAction(ctx, rid, r, action)
	if err != nil {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("unit lookup for %s failed: %v", action, err)
		return
	}

	d.mu.Lock()
	d.unitOwner[unit.UnitID] = rid
	d.mu.Unlock()

	// Stamp the unit's own state/sequence before handing it to the
	// handler (§4.8): the sequence guards the eventual completion
	// callback against staleness, and the state records that a
	// Create/Modify/Delete is now in flight.
	switch action {
	case substrate.ActionCreate:
		unit.State = model.UnitPriming
	case substrate.ActionModify:
		unit.State = model.UnitModifying
	case substrate.ActionDelete:
		unit.State = model.UnitClosing
	}
	unit.NextSequence()
	if err := d.store.SaveUnit(ctx, unit); err != nil {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("save unit before %s: %v", action, err)
		return
	}

	var callErr error
	switch action {
	case substrate.ActionCreate:
		callErr = d.handler.Create(ctx, unit)
	case substrate.ActionModify:
		callErr = d.handler.Modify(ctx, unit)
	case substrate.ActionDelete:
		callErr = d.handler.Delete(ctx, unit)
	}
	if callErr != nil {
		d.log.Component("dispatch").WithField("reservation_id", rid.String()).Warnf("substrate %s call failed: %v", action, callErr)
	}
}

func (d *Dispatcher) unitForAction(ctx context.Context, rid ids.Identifier, r *model.Reservation, action substrate.Action) (*model.Unit, error) {
	if action == substrate.ActionCreate {
		unit := model.NewUnit(ids.New(), rid, r.SliceID, ids.Identifier{}, r.Resources.Approved.ResourceType, nil)
		if err := d.store.SaveUnit(ctx, unit); err != nil {
			return nil, err
		}
		return unit, nil
	}
	units, err := d.store.ListUnitsByReservation(ctx, rid)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, kernelerrors.New(kernelerrors.NotFound, "no unit found for reservation "+rid.String())
	}
	return units[0], nil
}

func (d *Dispatcher) logReject(rid ids.Identifier, name wire.MessageType, err error) {
	d.log.Component("dispatch").WithField("reservation_id", rid.String()).WithField("message", string(name)).Warnf("rejected: %v", err)
}

func (d *Dispatcher) logRejectDelegation(did ids.Identifier, name wire.MessageType, err error) {
	d.log.Component("dispatch").WithField("delegation_id", did.String()).WithField("message", string(name)).Warnf("rejected: %v", err)
}
