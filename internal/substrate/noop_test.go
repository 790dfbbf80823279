package substrate

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/model"
)

func TestNoopHandlerReportsSuccessForEachAction(t *testing.T) {
	loop := actorloop.New("test", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	received := make(chan struct {
		action Action
		unitID string
		props  CompletionProperties
	}, 3)

	unit := model.NewUnit(ids.New(), ids.New(), ids.New(), ids.New(), "vm", nil)

	var lastAction Action
	h := NewNoopHandler(loop, nil, func(ctx context.Context, unitID string, props CompletionProperties) {
		received <- struct {
			action Action
			unitID string
			props  CompletionProperties
		}{lastAction, unitID, props}
	}, 0)

	lastAction = ActionCreate
	if err := h.Create(ctx, unit); err != nil {
		t.Fatal(err)
	}
	lastAction = ActionModify
	if err := h.Modify(ctx, unit); err != nil {
		t.Fatal(err)
	}
	lastAction = ActionDelete
	if err := h.Delete(ctx, unit); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		select {
		case got := <-received:
			if got.unitID != unit.UnitID.String() {
				t.Fatalf("unexpected unit id: %s", got.unitID)
			}
			if got.props.ResultCode != ResultCodeSuccess {
				t.Fatalf("expected success result code, got %d", got.props.ResultCode)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for completion callback")
		}
	}
}
