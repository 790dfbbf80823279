package policy

import (
	"strconv"
	"sync"

	"github.com/R3E-Network/testbed-kernel/internal/model"
	"github.com/R3E-Network/testbed-kernel/internal/substrate"
)

// PassThrough is the reference policy of §6.5's "policy decision logic
// beyond a reference pass-through policy" Non-goal: it approves every
// request as requested, approves every extend as requested, and never
// defers. It tracks a simple per-delegation unit pool so scenario 1 of §8
// ("broker pool=10") and scenario 6 ("nascent gate") have somewhere to
// record claimed/returned capacity without touching kernel tables.
type PassThrough struct {
	mu    sync.Mutex
	pools map[string]int // pool key (matched against a reservation's resource type) -> units remaining
}

// NewPassThrough builds an empty PassThrough policy.
func NewPassThrough() *PassThrough {
	return &PassThrough{pools: make(map[string]int)}
}

// SeedPool records the initial capacity of a delegation-backed pool, e.g.
// after a ClaimDelegation completes. Bind and Close find a reservation's
// pool by its resource type, so the key passed here is the resource type
// the pool serves.
func (p *PassThrough) SeedPool(delegationID string, units int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[delegationID] = units
}

// PoolRemaining reports the remaining capacity of a pool, for tests and
// introspection.
func (p *PassThrough) PoolRemaining(delegationID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pools[delegationID]
}

func (p *PassThrough) Prepare(cycle int64) error { return nil }
func (p *PassThrough) Finish(cycle int64) error  { return nil }

// Bind approves the reservation's full request, decrementing the pool
// named by the reservation's resource type if one has been seeded.
func (p *PassThrough) Bind(r *model.Reservation) error {
	r.Resources.Approved = r.Resources.Requested.Clone()
	p.drawFromPool(r.Resources.Requested.ResourceType, r.Resources.Requested.Units)
	return nil
}

// Extend approves the extend as requested; it does not draw from or
// return to any pool.
func (p *PassThrough) Extend(r *model.Reservation) error {
	r.Resources.Approved = r.Resources.Requested.Clone()
	return nil
}

// Close returns the reservation's approved units to its pool.
func (p *PassThrough) Close(r *model.Reservation) error {
	p.returnToPool(r.Resources.Approved.ResourceType, r.Resources.Approved.Units)
	return nil
}

func (p *PassThrough) Revisit(r *model.Reservation) error           { return nil }
func (p *PassThrough) RevisitDelegation(d *model.Delegation) error { return nil }

func (p *PassThrough) ConfigurationComplete(action substrate.Action, unit *model.Unit, props substrate.CompletionProperties) error {
	return nil
}

func (p *PassThrough) Query(properties map[string]string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.pools))
	for k, v := range p.pools {
		out[k] = strconv.Itoa(v)
	}
	return out, nil
}

func (p *PassThrough) drawFromPool(key string, units int) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining, ok := p.pools[key]; ok {
		p.pools[key] = remaining - units
	}
}

func (p *PassThrough) returnToPool(key string, units int) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining, ok := p.pools[key]; ok {
		p.pools[key] = remaining + units
	}
}
