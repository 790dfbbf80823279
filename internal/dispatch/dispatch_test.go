package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernel"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/rpc"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
	"github.com/R3E-Network/testbed-kernel/internal/substrate"
	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// fakeBus is a transport.Bus that records every envelope sent, keyed by
// destination topic.
type fakeBus struct {
	mu   sync.Mutex
	sent []struct {
		topic string
		env   wire.Envelope
	}
}

func (b *fakeBus) Send(ctx context.Context, topic string, env wire.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, struct {
		topic string
		env   wire.Envelope
	}{topic, env})
	return nil
}
func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler func(wire.Envelope)) error {
	return nil
}
func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) waitForSend(t *testing.T, name wire.MessageType) wire.Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		b.mu.Lock()
		for _, s := range b.sent {
			if s.env.Name == name {
				b.mu.Unlock()
				return s.env
			}
		}
		b.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for a %s send", name)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// memStore is a minimal in-memory storage.Store, mirroring the kernel
// package's own test double.
type memStore struct {
	mu           sync.Mutex
	slices       map[ids.Identifier]*model.Slice
	reservations map[ids.Identifier]*model.Reservation
	delegations  map[ids.Identifier]*model.Delegation
	units        map[ids.Identifier]*model.Unit
	misc         map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		slices:       make(map[ids.Identifier]*model.Slice),
		reservations: make(map[ids.Identifier]*model.Reservation),
		delegations:  make(map[ids.Identifier]*model.Delegation),
		units:        make(map[ids.Identifier]*model.Unit),
		misc:         make(map[string][]byte),
	}
}

func (m *memStore) SaveSlice(ctx context.Context, s *model.Slice) error {
	cp := *s
	m.slices[s.SliceID] = &cp
	return nil
}
func (m *memStore) GetSlice(ctx context.Context, id ids.Identifier) (*model.Slice, error) {
	s, ok := m.slices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}
func (m *memStore) DeleteSlice(ctx context.Context, id ids.Identifier) error {
	delete(m.slices, id)
	return nil
}
func (m *memStore) ListSlices(ctx context.Context, typeFilter model.SliceType) ([]*model.Slice, error) {
	return nil, nil
}
func (m *memStore) SaveReservation(ctx context.Context, r *model.Reservation) error {
	cp := *r
	m.reservations[r.Rid] = &cp
	return nil
}
func (m *memStore) GetReservation(ctx context.Context, id ids.Identifier) (*model.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}
func (m *memStore) DeleteReservation(ctx context.Context, id ids.Identifier) error {
	delete(m.reservations, id)
	return nil
}
func (m *memStore) ListReservationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Reservation, error) {
	return nil, nil
}
func (m *memStore) ListReservationsByState(ctx context.Context, state model.ReservationState) ([]*model.Reservation, error) {
	return nil, nil
}
func (m *memStore) ListReservationsByGraphNode(ctx context.Context, graphNodeID string) ([]*model.Reservation, error) {
	return nil, nil
}
func (m *memStore) SaveDelegation(ctx context.Context, d *model.Delegation) error {
	cp := *d
	m.delegations[d.Did] = &cp
	return nil
}
func (m *memStore) GetDelegation(ctx context.Context, id ids.Identifier) (*model.Delegation, error) {
	d, ok := m.delegations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}
func (m *memStore) DeleteDelegation(ctx context.Context, id ids.Identifier) error {
	delete(m.delegations, id)
	return nil
}
func (m *memStore) ListDelegationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Delegation, error) {
	return nil, nil
}
func (m *memStore) SaveUnit(ctx context.Context, u *model.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.units[u.UnitID] = &cp
	return nil
}
func (m *memStore) GetUnit(ctx context.Context, id ids.Identifier) (*model.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}
func (m *memStore) DeleteUnit(ctx context.Context, id ids.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.units, id)
	return nil
}
func (m *memStore) ListUnitsByReservation(ctx context.Context, reservationID ids.Identifier) ([]*model.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Unit
	for _, u := range m.units {
		if u.ReservationID == reservationID {
			out = append(out, u)
		}
	}
	return out, nil
}
func (m *memStore) PutMisc(ctx context.Context, name string, value []byte) error {
	m.misc[name] = value
	return nil
}
func (m *memStore) GetMisc(ctx context.Context, name string) ([]byte, bool, error) {
	v, ok := m.misc[name]
	return v, ok, nil
}

var _ storage.Store = (*memStore)(nil)

// fakeHandler is a substrate.Handler that completes every call
// immediately through the ActorCallback plumbed in at construction.
type fakeHandler struct {
	cb substrate.ActorCallback
}

func (h *fakeHandler) Create(ctx context.Context, unit *model.Unit) error {
	h.cb(ctx, unit.UnitID.String(), substrate.CompletionProperties{ResultCode: substrate.ResultCodeSuccess, ActionSequenceNumber: unit.Sequence})
	return nil
}
func (h *fakeHandler) Modify(ctx context.Context, unit *model.Unit) error {
	h.cb(ctx, unit.UnitID.String(), substrate.CompletionProperties{ResultCode: substrate.ResultCodeSuccess, ActionSequenceNumber: unit.Sequence})
	return nil
}
func (h *fakeHandler) Delete(ctx context.Context, unit *model.Unit) error {
	h.cb(ctx, unit.UnitID.String(), substrate.CompletionProperties{ResultCode: substrate.ResultCodeSuccess, ActionSequenceNumber: unit.Sequence})
	return nil
}

// setup wires a Kernel, an RPC Manager, and a Dispatcher the way
// cmd/actorproc does: the manager needs the dispatcher's handler
// functions at construction, and the dispatcher needs the manager, so a
// forward-reference closure breaks the cycle.
func setup(t *testing.T, handler substrate.Handler) (*kernel.Kernel, *Dispatcher, *fakeBus, func()) {
	t.Helper()
	store := newMemStore()
	pol := policy.NewPassThrough()
	k := kernel.New(store, pol, nil)

	loop := actorloop.New("test", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	bus := &fakeBus{}
	var d *Dispatcher
	mgr := rpc.New(rpc.Config{
		Bus:  bus,
		Loop: loop,
		OnInbound: func(ctx context.Context, env wire.Envelope) {
			d.HandleInbound(ctx, env)
		},
		OnFailedRPC: func(ctx context.Context, messageID ids.Identifier, rid, did *ids.Identifier, reason string) {
			d.OnFailedRPC(ctx, messageID, rid, did, reason)
		},
	})
	d = New("under-test", k, store, mgr, handler, pol, nil)

	return k, d, bus, func() {
		cancel()
		loop.Stop()
	}
}

func TestInboundTicketBindsAndSendsUpdateTicket(t *testing.T) {
	ctx := context.Background()
	k, d, bus, stop := setup(t, nil)
	defer stop()

	sid := ids.New()
	slice := model.NewSlice(sid, "inventory-a", model.SliceInventory, ids.AuthToken{})
	if err := k.RegisterSlice(ctx, slice); err != nil {
		t.Fatal(err)
	}
	rid := ids.New()
	r := model.NewReservation(rid, sid, model.CategoryBroker, model.ResourceSet{Units: 1, ResourceType: "vm"}, model.NewTerm(0, 100))
	if err := k.RegisterReservation(ctx, r); err != nil {
		t.Fatal(err)
	}
	d.RegisterPeer(rid, "orchestrator")

	d.HandleInbound(ctx, wire.Envelope{
		Name:          wire.Ticket,
		From:          "orchestrator",
		ReservationID: &rid,
		MessageID:     ids.New(),
		Sequence:      1,
	})

	got, _ := k.GetReservation(rid)
	if got.Pending != model.PendingTicketing || got.State != model.Nascent {
		t.Fatalf("expected the inbound Ticket to stage Ticketing, got %v/%v", got.State, got.Pending)
	}

	if err := k.Tick(ctx, 0); err != nil {
		t.Fatal(err)
	}
	got, _ = k.GetReservation(rid)
	if got.State != model.Ticketed || got.Pending != model.PendingNone {
		t.Fatalf("expected the bind pass to allocate, got %v/%v", got.State, got.Pending)
	}

	env := bus.waitForSend(t, wire.UpdateTicket)
	if env.ReservationID == nil || *env.ReservationID != rid {
		t.Fatalf("expected UpdateTicket for %s, got %+v", rid, env)
	}
}

func TestAuthorityCreateUnitDrivesHandlerAndCompletesReservation(t *testing.T) {
	ctx := context.Background()

	var d *Dispatcher
	handler := &fakeHandler{}
	k, dispatcher, _, stop := setup(t, handler)
	defer stop()
	d = dispatcher
	handler.cb = d.ConfigurationComplete

	sid := ids.New()
	slice := model.NewSlice(sid, "inventory-a", model.SliceInventory, ids.AuthToken{})
	if err := k.RegisterSlice(ctx, slice); err != nil {
		t.Fatal(err)
	}
	rid := ids.New()
	r := model.NewReservation(rid, sid, model.CategoryAuthority, model.ResourceSet{Units: 1, ResourceType: "vm"}, model.NewTerm(0, 100))
	r.Pending = model.PendingRedeeming
	if err := k.RegisterReservation(ctx, r); err != nil {
		t.Fatal(err)
	}
	d.RegisterPeer(rid, "broker")

	if err := k.Tick(ctx, 0); err != nil {
		t.Fatal(err)
	}

	got, _ := k.GetReservation(rid)
	if got.State != model.Active || got.Pending != model.PendingNone {
		t.Fatalf("expected the create-unit round trip to complete synchronously and reach Active, got %v/%v", got.State, got.Pending)
	}
}
