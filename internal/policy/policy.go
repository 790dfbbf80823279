// Package policy defines the per-actor decision plug-in boundary of §6.5.
// Policies never touch kernel tables directly — they are consulted for
// bind/extend/close/revisit/query decisions and communicate outcomes
// through return values and through reservation mutations the kernel
// applies on their behalf, the same separation the teacher draws between
// its automation rule evaluators (pkg/automation) and the execution
// engine that actually runs the resulting jobs.
package policy

import (
	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/substrate"
)

// Policy is the per-actor pluggable decision module (§6.5).
type Policy interface {
	// Prepare and Finish bracket one tick cycle.
	Prepare(cycle int64) error
	Finish(cycle int64) error

	// Bind decides whether to approve a reservation's requested
	// resources, filling in Resources.Approved. Returning
	// kernelerrors.PolicyReject defers or denies the request.
	Bind(r *model.Reservation) error

	// Extend decides an in-flight extend the same way Bind decides a
	// fresh request.
	Extend(r *model.Reservation) error

	// Close is consulted before a reservation is driven toward Closing,
	// giving the policy a chance to return capacity to a pool first.
	Close(r *model.Reservation) error

	// Revisit and RevisitDelegation are the recovery hooks (§4.9):
	// called once per replayed reservation/delegation so the policy can
	// rebuild any pool bookkeeping it keeps outside the kernel tables.
	Revisit(r *model.Reservation) error
	RevisitDelegation(d *model.Delegation) error

	// ConfigurationComplete plumbs a substrate handler completion back
	// to the policy (§4.8), e.g. so a capacity pool can be adjusted once
	// a unit's real size is known.
	ConfigurationComplete(action substrate.Action, unit *model.Unit, props substrate.CompletionProperties) error

	// Query answers an introspection request (e.g. a broker-query-model
	// export) with policy-specific properties.
	Query(properties map[string]string) (map[string]string, error)
}
