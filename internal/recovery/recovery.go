// Package recovery implements the startup replay of §4.9: rehydrate every
// persisted slice, reservation, and delegation into a fresh Kernel without
// re-persisting any of it, let the policy rebuild its own derived state via
// Revisit/RevisitDelegation, and hand back whichever reservations still
// held an in-flight operation so the caller can resume or let them time
// out. Grounded on the teacher's container-boot replay (actors loaded from
// their persisted blob before the event loop starts taking new work).
package recovery

import (
	"context"
	"fmt"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernel"
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/storage"
)

// superblockKey names the miscellaneous-table row that marks a store as
// already booted once: Run writes it on first boot and replays state
// whenever it is present (§4.9).
const superblockKey = "superblock"

// Pending describes a reservation that was caught mid-operation by the
// last shutdown, for the caller to resume or abandon.
type Pending struct {
	Reservation *model.Reservation
	Op          model.PendingOp
}

// Report summarizes one recovery pass.
type Report struct {
	Ran          bool // false when no superblock marker was found (first boot)
	Slices       int
	Reservations int
	Delegations  int
	Pending      []Pending
}

// Recoverer replays persisted state into a Kernel on actor startup.
type Recoverer struct {
	store storage.Store
	k     *kernel.Kernel
	pol   policy.Policy
	log   *logging.Logger
}

// New builds a Recoverer over an already-constructed Kernel. The Kernel
// must not yet have been handed any live traffic.
func New(store storage.Store, k *kernel.Kernel, pol policy.Policy, log *logging.Logger) *Recoverer {
	if log == nil {
		log = logging.NewDefault("recovery")
	}
	return &Recoverer{store: store, k: k, pol: pol, log: log}
}

// Run performs the replay described in §4.9. If no superblock marker is
// present (first boot of a fresh container), it writes one and returns
// immediately with Report.Ran == false.
func (r *Recoverer) Run(ctx context.Context) (Report, error) {
	entry := r.log.Component("recovery")

	_, found, err := r.store.GetMisc(ctx, superblockKey)
	if err != nil {
		return Report{}, kernelerrors.Wrap(kernelerrors.StorageFailure, "read superblock marker", err)
	}
	if !found {
		entry.Info("no superblock marker found; treating as first boot")
		if err := r.store.PutMisc(ctx, superblockKey, []byte("1")); err != nil {
			return Report{}, kernelerrors.Wrap(kernelerrors.StorageFailure, "write superblock marker", err)
		}
		return Report{Ran: false}, nil
	}

	entry.Info("superblock marker found; replaying persisted state")
	report := Report{Ran: true}

	// Inventory slices first, then client, then broker-client — the order
	// a broker/authority's own allocation state must exist before any
	// client-facing reservation that references it is revisited.
	for _, typ := range []model.SliceType{model.SliceInventory, model.SliceClient, model.SliceBrokerClient} {
		slices, err := r.store.ListSlices(ctx, typ)
		if err != nil {
			return report, kernelerrors.Wrap(kernelerrors.StorageFailure, fmt.Sprintf("list %s slices", typ), err)
		}
		for _, s := range slices {
			if err := r.replaySlice(ctx, s, &report); err != nil {
				return report, err
			}
		}
	}

	entry.WithField("slices", report.Slices).
		WithField("reservations", report.Reservations).
		WithField("delegations", report.Delegations).
		WithField("pending", len(report.Pending)).
		Info("recovery ended")
	return report, nil
}

func (r *Recoverer) replaySlice(ctx context.Context, s *model.Slice, report *Report) error {
	if err := r.k.ReRegisterSlice(ctx, s); err != nil {
		return kernelerrors.Wrap(kernelerrors.Internal, fmt.Sprintf("re-register slice %s", s.SliceID), err)
	}
	report.Slices++

	reservations, err := r.store.ListReservationsBySlice(ctx, s.SliceID)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.StorageFailure, fmt.Sprintf("list reservations for slice %s", s.SliceID), err)
	}
	for _, res := range reservations {
		if err := r.k.ReRegisterReservation(ctx, res); err != nil {
			return kernelerrors.Wrap(kernelerrors.Internal, fmt.Sprintf("re-register reservation %s", res.Rid), err)
		}
		report.Reservations++

		if err := r.pol.Revisit(res); err != nil {
			return kernelerrors.Wrap(kernelerrors.PolicyReject, fmt.Sprintf("policy revisit of reservation %s", res.Rid), err)
		}

		if res.Pending != model.PendingNone && !res.State.IsTerminal() {
			report.Pending = append(report.Pending, Pending{Reservation: res, Op: res.Pending})
		}
	}

	delegations, err := r.store.ListDelegationsBySlice(ctx, s.SliceID)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.StorageFailure, fmt.Sprintf("list delegations for slice %s", s.SliceID), err)
	}
	for _, d := range delegations {
		if err := r.k.ReRegisterDelegation(ctx, d); err != nil {
			return kernelerrors.Wrap(kernelerrors.Internal, fmt.Sprintf("re-register delegation %s", d.Did), err)
		}
		report.Delegations++

		if err := r.pol.RevisitDelegation(d); err != nil {
			return kernelerrors.Wrap(kernelerrors.PolicyReject, fmt.Sprintf("policy revisit of delegation %s", d.Did), err)
		}
	}
	return nil
}

// StillPendingReservationIDs is a convenience accessor for callers that
// only want the ids, e.g. to re-arm RPC timers.
func StillPendingReservationIDs(report Report) []ids.Identifier {
	out := make([]ids.Identifier, 0, len(report.Pending))
	for _, p := range report.Pending {
		out = append(out, p.Reservation.Rid)
	}
	return out
}
