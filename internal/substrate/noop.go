package substrate

import (
	"context"
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

// NoopHandler is the default Authority-side substrate plugin (§4.8, §6.5
// Non-goal "a real substrate/handler plugin"): it logs every Create/
// Modify/Delete call and reports immediate success back onto the owning
// actor loop, the way a real handler would after its own async work
// completes. Used when no concrete substrate plugin is configured.
type NoopHandler struct {
	loop     *actorloop.Loop
	log      *logging.Logger
	callback ActorCallback
	delay    time.Duration
}

// NewNoopHandler builds a NoopHandler that schedules cb on loop after
// delay (0 for "next loop tick"), simulating the asynchronous completion
// every real handler implementation has.
func NewNoopHandler(loop *actorloop.Loop, log *logging.Logger, cb ActorCallback, delay time.Duration) *NoopHandler {
	if log == nil {
		log = logging.NewDefault("substrate.noop")
	}
	return &NoopHandler{loop: loop, log: log, callback: cb, delay: delay}
}

func (h *NoopHandler) complete(ctx context.Context, action Action, unitID string, seq int64) {
	props := CompletionProperties{Target: unitID, ResultCode: ResultCodeSuccess, ActionSequenceNumber: seq}
	fire := func() {
		if h.callback != nil {
			h.callback(ctx, unitID, props)
		}
	}
	if h.delay <= 0 {
		h.loop.QueueEvent(actorloop.EventFunc(fire))
		return
	}
	h.loop.QueueTimer(time.Now().Add(h.delay), actorloop.EventFunc(fire))
}

// Create logs the request and reports success, echoing back the
// dispatcher-assigned unit.Sequence so the completion can be matched
// against a stale retry (§4.8).
func (h *NoopHandler) Create(ctx context.Context, unit *model.Unit) error {
	h.log.Component("substrate").WithField("unit_id", unit.UnitID.String()).Debug("noop create")
	h.complete(ctx, ActionCreate, unit.UnitID.String(), unit.Sequence)
	return nil
}

// Modify logs the request and reports success.
func (h *NoopHandler) Modify(ctx context.Context, unit *model.Unit) error {
	h.log.Component("substrate").WithField("unit_id", unit.UnitID.String()).Debug("noop modify")
	h.complete(ctx, ActionModify, unit.UnitID.String(), unit.Sequence)
	return nil
}

// Delete logs the request and reports success.
func (h *NoopHandler) Delete(ctx context.Context, unit *model.Unit) error {
	h.log.Component("substrate").WithField("unit_id", unit.UnitID.String()).Debug("noop delete")
	h.complete(ctx, ActionDelete, unit.UnitID.String(), unit.Sequence)
	return nil
}

var _ Handler = (*NoopHandler)(nil)
