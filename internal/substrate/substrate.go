// Package substrate defines the Authority-side handler plugin contract
// (§4.8). The kernel calls Create/Modify/Delete; the handler later calls
// back into the actor loop via ConfigurationComplete.
package substrate

import (
	"context"

	"github.com/R3E-Network/testbed-kernel/internal/model"
)

// CompletionProperties mirrors the properties a handler attaches to a
// completion callback (§4.8).
type CompletionProperties struct {
	Target              string
	ResultCode          int
	ActionSequenceNumber int64
	ExceptionMessage    string
}

// Action distinguishes which of the three handler calls a completion is
// reporting on, so a policy's ConfigurationComplete hook (§6.5) doesn't
// have to infer it from the unit's state transition.
type Action string

const (
	ActionCreate Action = "Create"
	ActionModify Action = "Modify"
	ActionDelete Action = "Delete"
)

// Handler is the substrate/handler plugin boundary. Implementations are
// asynchronous: Create/Modify/Delete return promptly and report
// completion later by invoking the ActorCallback below (NoopHandler
// receives it at construction).
type Handler interface {
	Create(ctx context.Context, unit *model.Unit) error
	Modify(ctx context.Context, unit *model.Unit) error
	Delete(ctx context.Context, unit *model.Unit) error
}

// ActorCallback is how a Handler reports a completion back onto the actor
// loop (§4.8, §5: "never mutate kernel state directly from handler
// threads"). Callers must enqueue this as an event rather than invoking
// kernel mutations inline.
type ActorCallback func(ctx context.Context, unitID string, props CompletionProperties)

// ResultCodeSuccess is the completion result_code mapped to "advance unit
// state" by the kernel (§4.8).
const ResultCodeSuccess = 0
