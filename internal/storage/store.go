// Package storage defines the persistence boundary (§6.2): the kernel
// requires logical tables for actors, slices, reservations, delegations,
// and units, each carrying a versioned serialized blob for recovery. The
// backend itself (§1 Non-goals) is an external collaborator; this package
// only fixes the interface plus a reference Postgres implementation.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

// ErrNotFound is returned by Store getters when no row matches the id.
var ErrNotFound = errors.New("record not found")

// Store is the persistence boundary the kernel writes through (§4.2:
// "write-through: if the store rejects the update, the in-memory mutation
// is reverted"). All methods must be safe to call concurrently with
// read-only queries from management/export paths (§5).
type Store interface {
	SaveSlice(ctx context.Context, s *model.Slice) error
	GetSlice(ctx context.Context, id ids.Identifier) (*model.Slice, error)
	DeleteSlice(ctx context.Context, id ids.Identifier) error
	ListSlices(ctx context.Context, typeFilter model.SliceType) ([]*model.Slice, error)

	SaveReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id ids.Identifier) (*model.Reservation, error)
	DeleteReservation(ctx context.Context, id ids.Identifier) error
	ListReservationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Reservation, error)
	ListReservationsByState(ctx context.Context, state model.ReservationState) ([]*model.Reservation, error)
	ListReservationsByGraphNode(ctx context.Context, graphNodeID string) ([]*model.Reservation, error)

	SaveDelegation(ctx context.Context, d *model.Delegation) error
	GetDelegation(ctx context.Context, id ids.Identifier) (*model.Delegation, error)
	DeleteDelegation(ctx context.Context, id ids.Identifier) error
	ListDelegationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Delegation, error)

	SaveUnit(ctx context.Context, u *model.Unit) error
	GetUnit(ctx context.Context, id ids.Identifier) (*model.Unit, error)
	DeleteUnit(ctx context.Context, id ids.Identifier) error
	ListUnitsByReservation(ctx context.Context, reservationID ids.Identifier) ([]*model.Unit, error)

	// PutMisc/GetMisc back the `miscellaneous` table (§6.2), used for the
	// superblock marker consulted by recovery (§4.9).
	PutMisc(ctx context.Context, name string, value []byte) error
	GetMisc(ctx context.Context, name string) ([]byte, bool, error)
}

// blobVersion is the explicit version tag the design notes (§9) call for,
// so the on-disk format never binds to a language runtime's own
// serialization.
const blobVersion = 1

type sliceBlob struct {
	Version int         `json:"version"`
	Slice   *model.Slice `json:"slice"`
}

// EncodeSlice serializes a Slice to its versioned blob form.
func EncodeSlice(s *model.Slice) ([]byte, error) {
	b, err := json.Marshal(sliceBlob{Version: blobVersion, Slice: s})
	if err != nil {
		return nil, fmt.Errorf("encode slice %s: %w", s.SliceID, err)
	}
	return b, nil
}

// DecodeSlice deserializes a blob produced by EncodeSlice.
func DecodeSlice(blob []byte) (*model.Slice, error) {
	var sb sliceBlob
	if err := json.Unmarshal(blob, &sb); err != nil {
		return nil, fmt.Errorf("decode slice blob: %w", err)
	}
	if sb.Version != blobVersion {
		return nil, fmt.Errorf("unsupported slice blob version %d", sb.Version)
	}
	return sb.Slice, nil
}

type reservationBlob struct {
	Version     int                `json:"version"`
	Reservation *model.Reservation `json:"reservation"`
}

// EncodeReservation serializes a Reservation to its versioned blob form.
func EncodeReservation(r *model.Reservation) ([]byte, error) {
	b, err := json.Marshal(reservationBlob{Version: blobVersion, Reservation: r})
	if err != nil {
		return nil, fmt.Errorf("encode reservation %s: %w", r.Rid, err)
	}
	return b, nil
}

// DecodeReservation deserializes a blob produced by EncodeReservation.
func DecodeReservation(blob []byte) (*model.Reservation, error) {
	var rb reservationBlob
	if err := json.Unmarshal(blob, &rb); err != nil {
		return nil, fmt.Errorf("decode reservation blob: %w", err)
	}
	if rb.Version != blobVersion {
		return nil, fmt.Errorf("unsupported reservation blob version %d", rb.Version)
	}
	return rb.Reservation, nil
}

type delegationBlob struct {
	Version    int               `json:"version"`
	Delegation *model.Delegation `json:"delegation"`
}

// EncodeDelegation serializes a Delegation to its versioned blob form.
func EncodeDelegation(d *model.Delegation) ([]byte, error) {
	b, err := json.Marshal(delegationBlob{Version: blobVersion, Delegation: d})
	if err != nil {
		return nil, fmt.Errorf("encode delegation %s: %w", d.Did, err)
	}
	return b, nil
}

// DecodeDelegation deserializes a blob produced by EncodeDelegation.
func DecodeDelegation(blob []byte) (*model.Delegation, error) {
	var db delegationBlob
	if err := json.Unmarshal(blob, &db); err != nil {
		return nil, fmt.Errorf("decode delegation blob: %w", err)
	}
	if db.Version != blobVersion {
		return nil, fmt.Errorf("unsupported delegation blob version %d", db.Version)
	}
	return db.Delegation, nil
}

type unitBlob struct {
	Version int         `json:"version"`
	Unit    *model.Unit `json:"unit"`
}

// EncodeUnit serializes a Unit to its versioned blob form.
func EncodeUnit(u *model.Unit) ([]byte, error) {
	b, err := json.Marshal(unitBlob{Version: blobVersion, Unit: u})
	if err != nil {
		return nil, fmt.Errorf("encode unit %s: %w", u.UnitID, err)
	}
	return b, nil
}

// DecodeUnit deserializes a blob produced by EncodeUnit.
func DecodeUnit(blob []byte) (*model.Unit, error) {
	var ub unitBlob
	if err := json.Unmarshal(blob, &ub); err != nil {
		return nil, fmt.Errorf("decode unit blob: %w", err)
	}
	if ub.Version != blobVersion {
		return nil, fmt.Errorf("unsupported unit blob version %d", ub.Version)
	}
	return ub.Unit, nil
}
