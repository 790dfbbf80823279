// Package postgres is the reference implementation of storage.Store
// (§6.2) over PostgreSQL, grounded the way the teacher's
// internal/platform/database package opens a connection
// (database/sql + lib/pq) but using sqlx for the query layer, since the
// teacher's go.mod lists jmoiron/sqlx as a dependency without ever wiring
// it to a concrete query site.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
)

// Store is a storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, verifies connectivity, and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sqlx.DB, used by tests with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ storage.Store = (*Store)(nil)

func (s *Store) SaveSlice(ctx context.Context, sl *model.Slice) error {
	blob, err := storage.EncodeSlice(sl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO slices (slice_guid, name, type, state, graph_id, owner_sub, email, lease_start, lease_end, project_id, blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (slice_guid) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, state = EXCLUDED.state,
			graph_id = EXCLUDED.graph_id, owner_sub = EXCLUDED.owner_sub, email = EXCLUDED.email,
			lease_start = EXCLUDED.lease_start, lease_end = EXCLUDED.lease_end,
			project_id = EXCLUDED.project_id, blob = EXCLUDED.blob
	`, sl.SliceID.String(), sl.Name, sl.Type, sl.State, sl.ResourceGraphID,
		sl.Owner.OidcSub, sl.Owner.Email, sl.LeaseStart, sl.LeaseEnd, sl.ProjectID, blob)
	if err != nil {
		return fmt.Errorf("save slice %s: %w", sl.SliceID, err)
	}
	return nil
}

func (s *Store) GetSlice(ctx context.Context, id ids.Identifier) (*model.Slice, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM slices WHERE slice_guid = $1`, id.String())
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slice %s: %w", id, err)
	}
	return storage.DecodeSlice(blob)
}

func (s *Store) DeleteSlice(ctx context.Context, id ids.Identifier) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM slices WHERE slice_guid = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete slice %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListSlices(ctx context.Context, typeFilter model.SliceType) ([]*model.Slice, error) {
	var rows [][]byte
	query := `SELECT blob FROM slices`
	args := []interface{}{}
	if typeFilter != "" {
		query += ` WHERE type = $1`
		args = append(args, typeFilter)
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list slices: %w", err)
	}
	out := make([]*model.Slice, 0, len(rows))
	for _, blob := range rows {
		sl, err := storage.DecodeSlice(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, nil
}

func (s *Store) SaveReservation(ctx context.Context, r *model.Reservation) error {
	blob, err := storage.EncodeReservation(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reservations (rid, slice_guid, category, state, pending, joining, graph_node_id, owner_sub, email, blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (rid) DO UPDATE SET
			category = EXCLUDED.category, state = EXCLUDED.state, pending = EXCLUDED.pending,
			joining = EXCLUDED.joining, graph_node_id = EXCLUDED.graph_node_id,
			owner_sub = EXCLUDED.owner_sub, email = EXCLUDED.email, blob = EXCLUDED.blob
	`, r.Rid.String(), r.SliceID.String(), r.Category, r.State, r.Pending, r.Join,
		r.GraphNodeID, r.OwnerSub, r.Email, blob)
	if err != nil {
		return fmt.Errorf("save reservation %s: %w", r.Rid, err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id ids.Identifier) (*model.Reservation, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM reservations WHERE rid = $1`, id.String())
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return storage.DecodeReservation(blob)
}

func (s *Store) DeleteReservation(ctx context.Context, id ids.Identifier) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE rid = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListReservationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Reservation, error) {
	return s.queryReservations(ctx, `SELECT blob FROM reservations WHERE slice_guid = $1`, sliceID.String())
}

func (s *Store) ListReservationsByState(ctx context.Context, state model.ReservationState) ([]*model.Reservation, error) {
	return s.queryReservations(ctx, `SELECT blob FROM reservations WHERE state = $1`, state)
}

func (s *Store) ListReservationsByGraphNode(ctx context.Context, graphNodeID string) ([]*model.Reservation, error) {
	return s.queryReservations(ctx, `SELECT blob FROM reservations WHERE graph_node_id = $1`, graphNodeID)
}

func (s *Store) queryReservations(ctx context.Context, query string, arg interface{}) ([]*model.Reservation, error) {
	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	out := make([]*model.Reservation, 0, len(rows))
	for _, blob := range rows {
		r, err := storage.DecodeReservation(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) SaveDelegation(ctx context.Context, d *model.Delegation) error {
	blob, err := storage.EncodeDelegation(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delegations (did, slice_guid, state, blob)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (did) DO UPDATE SET state = EXCLUDED.state, blob = EXCLUDED.blob
	`, d.Did.String(), d.SliceID.String(), d.State, blob)
	if err != nil {
		return fmt.Errorf("save delegation %s: %w", d.Did, err)
	}
	return nil
}

func (s *Store) GetDelegation(ctx context.Context, id ids.Identifier) (*model.Delegation, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM delegations WHERE did = $1`, id.String())
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delegation %s: %w", id, err)
	}
	return storage.DecodeDelegation(blob)
}

func (s *Store) DeleteDelegation(ctx context.Context, id ids.Identifier) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delegations WHERE did = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete delegation %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListDelegationsBySlice(ctx context.Context, sliceID ids.Identifier) ([]*model.Delegation, error) {
	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, `SELECT blob FROM delegations WHERE slice_guid = $1`, sliceID.String()); err != nil {
		return nil, fmt.Errorf("list delegations: %w", err)
	}
	out := make([]*model.Delegation, 0, len(rows))
	for _, blob := range rows {
		d, err := storage.DecodeDelegation(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) SaveUnit(ctx context.Context, u *model.Unit) error {
	blob, err := storage.EncodeUnit(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO units (unit_id, reservation_id, parent_id, state, blob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (unit_id) DO UPDATE SET state = EXCLUDED.state, blob = EXCLUDED.blob
	`, u.UnitID.String(), u.ReservationID.String(), nil, u.State, blob)
	if err != nil {
		return fmt.Errorf("save unit %s: %w", u.UnitID, err)
	}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, id ids.Identifier) (*model.Unit, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM units WHERE unit_id = $1`, id.String())
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %s: %w", id, err)
	}
	return storage.DecodeUnit(blob)
}

func (s *Store) DeleteUnit(ctx context.Context, id ids.Identifier) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE unit_id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete unit %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListUnitsByReservation(ctx context.Context, reservationID ids.Identifier) ([]*model.Unit, error) {
	var rows [][]byte
	if err := s.db.SelectContext(ctx, &rows, `SELECT blob FROM units WHERE reservation_id = $1`, reservationID.String()); err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out := make([]*model.Unit, 0, len(rows))
	for _, blob := range rows {
		u, err := storage.DecodeUnit(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) PutMisc(ctx context.Context, name string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO miscellaneous (name, blob) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET blob = EXCLUDED.blob
	`, name, value)
	if err != nil {
		return fmt.Errorf("put misc %s: %w", name, err)
	}
	return nil
}

func (s *Store) GetMisc(ctx context.Context, name string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT blob FROM miscellaneous WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get misc %s: %w", name, err)
	}
	return blob, true, nil
}
