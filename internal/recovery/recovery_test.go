package recovery

import (
	"context"
	"testing"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernel"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
)

type fakeStore struct {
	slices       map[ids.Identifier]*model.Slice
	reservations map[ids.Identifier]*model.Reservation
	delegations  map[ids.Identifier]*model.Delegation
	misc         map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slices:       make(map[ids.Identifier]*model.Slice),
		reservations: make(map[ids.Identifier]*model.Reservation),
		delegations:  make(map[ids.Identifier]*model.Delegation),
		misc:         make(map[string][]byte),
	}
}

func (s *fakeStore) SaveSlice(ctx context.Context, sl *model.Slice) error {
	cp := *sl
	s.slices[sl.SliceID] = &cp
	return nil
}
func (s *fakeStore) GetSlice(ctx context.Context, id ids.Identifier) (*model.Slice, error) {
	sl, ok := s.slices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sl, nil
}
func (s *fakeStore) DeleteSlice(ctx context.Context, id ids.Identifier) error {
	delete(s.slices, id)
	return nil
}
func (s *fakeStore) ListSlices(ctx context.Context, typeFilter model.SliceType) ([]*model.Slice, error) {
	var out []*model.Slice
	for _, sl := range s.slices {
		if typeFilter == "" || sl.Type == typeFilter {
			out = append(out, sl)
		}
	}
	return out, nil
}
func (s *fakeStore) SaveReservation(ctx context.Context, r *model.Reservation) error {
	cp := *r
	s.reservations[r.Rid] = &cp
	return nil
}
func (s *fakeStore) GetReservation(ctx context.Context, id ids.Identifier) (*model.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}
func (s *fakeStore) DeleteReservation(ctx context.Context, id ids.Identifier) error {
	delete(s.reservations, id)
	return nil
}
func (s *fakeStore) ListReservationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Reservation, error) {
	var out []*model.Reservation
	for _, r := range s.reservations {
		if r.SliceID == sliceID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *fakeStore) ListReservationsByState(ctx context.Context, state model.ReservationState) ([]*model.Reservation, error) {
	return nil, nil
}
func (s *fakeStore) ListReservationsByGraphNode(ctx context.Context, graphNodeID string) ([]*model.Reservation, error) {
	return nil, nil
}
func (s *fakeStore) SaveDelegation(ctx context.Context, d *model.Delegation) error {
	cp := *d
	s.delegations[d.Did] = &cp
	return nil
}
func (s *fakeStore) GetDelegation(ctx context.Context, id ids.Identifier) (*model.Delegation, error) {
	d, ok := s.delegations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}
func (s *fakeStore) DeleteDelegation(ctx context.Context, id ids.Identifier) error {
	delete(s.delegations, id)
	return nil
}
func (s *fakeStore) ListDelegationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Delegation, error) {
	var out []*model.Delegation
	for _, d := range s.delegations {
		if d.SliceID == sliceID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (s *fakeStore) SaveUnit(ctx context.Context, u *model.Unit) error             { return nil }
func (s *fakeStore) GetUnit(ctx context.Context, id ids.Identifier) (*model.Unit, error) {
	return nil, storage.ErrNotFound
}
func (s *fakeStore) DeleteUnit(ctx context.Context, id ids.Identifier) error { return nil }
func (s *fakeStore) ListUnitsByReservation(ctx context.Context, reservationID ids.Identifier) ([]*model.Unit, error) {
	return nil, nil
}
func (s *fakeStore) PutMisc(ctx context.Context, name string, value []byte) error {
	s.misc[name] = append([]byte(nil), value...)
	return nil
}
func (s *fakeStore) GetMisc(ctx context.Context, name string) ([]byte, bool, error) {
	v, ok := s.misc[name]
	return v, ok, nil
}

func owner(name string) ids.AuthToken {
	return ids.AuthToken{Name: name, Guid: ids.New()}
}

func TestFirstBootWritesSuperblockAndSkipsReplay(t *testing.T) {
	store := newFakeStore()
	k := kernel.New(store, policy.NewPassThrough(), nil)
	r := New(store, k, policy.NewPassThrough(), nil)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Ran {
		t.Fatal("expected Ran=false on first boot")
	}
	if _, ok, _ := store.GetMisc(context.Background(), superblockKey); !ok {
		t.Fatal("expected superblock marker to be written")
	}
}

func TestReplayRehydratesSliceAndReservation(t *testing.T) {
	store := newFakeStore()
	store.misc[superblockKey] = []byte("1")

	sid := ids.New()
	slice := model.NewSlice(sid, "test-slice", model.SliceClient, owner("alice"))
	slice.State = model.SliceStableOK
	store.slices[sid] = slice

	rid := ids.New()
	r := model.NewReservation(rid, sid, model.CategoryClient,
		model.ResourceSet{Units: 4, ResourceType: "vm"}, model.NewTerm(0, 100))
	r.State = model.Active
	store.reservations[rid] = r

	k := kernel.New(store, policy.NewPassThrough(), nil)
	rec := New(store, k, policy.NewPassThrough(), nil)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Ran {
		t.Fatal("expected Ran=true when superblock marker is present")
	}
	if report.Slices != 1 || report.Reservations != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}

	got, ok := k.GetReservation(rid)
	if !ok {
		t.Fatal("expected reservation to be rehydrated into the kernel")
	}
	if got.State != model.Active {
		t.Fatalf("expected rehydrated state Active, got %s", got.State)
	}

	if _, ok := k.GetSlice(sid); !ok {
		t.Fatal("expected slice to be rehydrated into the kernel")
	}
}

func TestReplaySurfacesNonTerminalPendingReservations(t *testing.T) {
	store := newFakeStore()
	store.misc[superblockKey] = []byte("1")

	sid := ids.New()
	slice := model.NewSlice(sid, "test-slice", model.SliceClient, owner("alice"))
	store.slices[sid] = slice

	rid := ids.New()
	r := model.NewReservation(rid, sid, model.CategoryClient,
		model.ResourceSet{Units: 1, ResourceType: "vm"}, model.NewTerm(0, 100))
	r.State = model.Ticketed
	r.Pending = model.PendingRedeeming
	store.reservations[rid] = r

	doneRid := ids.New()
	done := model.NewReservation(doneRid, sid, model.CategoryClient,
		model.ResourceSet{Units: 1, ResourceType: "vm"}, model.NewTerm(0, 100))
	done.State = model.Closed
	store.reservations[doneRid] = done

	k := kernel.New(store, policy.NewPassThrough(), nil)
	rec := New(store, k, policy.NewPassThrough(), nil)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Pending) != 1 {
		t.Fatalf("expected exactly one pending reservation surfaced, got %d", len(report.Pending))
	}
	if report.Pending[0].Reservation.Rid != rid {
		t.Fatalf("unexpected pending reservation id: %s", report.Pending[0].Reservation.Rid)
	}
	if report.Pending[0].Op != model.PendingRedeeming {
		t.Fatalf("unexpected pending op: %s", report.Pending[0].Op)
	}

	pendingIDs := StillPendingReservationIDs(report)
	if len(pendingIDs) != 1 || pendingIDs[0] != rid {
		t.Fatalf("unexpected StillPendingReservationIDs result: %+v", pendingIDs)
	}
}

func TestReplayRehydratesDelegations(t *testing.T) {
	store := newFakeStore()
	store.misc[superblockKey] = []byte("1")

	sid := ids.New()
	slice := model.NewSlice(sid, "inventory-slice", model.SliceInventory, owner("broker"))
	store.slices[sid] = slice

	did := ids.New()
	d := model.NewDelegation(did, sid, owner("broker"), owner("authority"), []byte("graph"))
	d.State = model.DelegationDelegated
	store.delegations[did] = d

	k := kernel.New(store, policy.NewPassThrough(), nil)
	rec := New(store, k, policy.NewPassThrough(), nil)

	report, err := rec.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Delegations != 1 {
		t.Fatalf("expected one delegation replayed, got %d", report.Delegations)
	}
	if _, ok := k.GetDelegation(did); !ok {
		t.Fatal("expected delegation to be rehydrated into the kernel")
	}
}
