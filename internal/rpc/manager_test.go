package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

type fakeBus struct {
	mu       sync.Mutex
	sent     []wire.Envelope
	failNext bool
}

func (b *fakeBus) Send(ctx context.Context, topic string, env wire.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errors.New("simulated transport failure")
	}
	b.sent = append(b.sent, env)
	return nil
}
func (b *fakeBus) Subscribe(ctx context.Context, topic string, handler func(wire.Envelope)) error {
	return nil
}
func (b *fakeBus) Close() error { return nil }

func startLoop(t *testing.T) (*actorloop.Loop, func()) {
	t.Helper()
	loop := actorloop.New("test", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	return loop, func() {
		cancel()
		loop.Stop()
	}
}

func TestSendDeliversThroughBus(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop})

	req := wire.Envelope{Name: wire.Ticket, From: "orchestrator"}
	msgID, err := m.Send(context.Background(), "broker", req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msgID.IsNil() {
		t.Fatal("expected a stamped message id")
	}

	deadline := time.After(time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.sent)
		bus.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestResponseCorrelatesToHandler(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop})

	received := make(chan wire.Envelope, 1)
	msgID, err := m.Send(context.Background(), "broker", wire.Envelope{Name: wire.Ticket, From: "orchestrator"},
		func(ctx context.Context, resp wire.Envelope) { received <- resp })
	if err != nil {
		t.Fatal(err)
	}

	m.HandleInbound(context.Background(), wire.Envelope{
		Name:      wire.UpdateTicket,
		From:      "broker",
		RequestID: &msgID,
		MessageID: ids.New(),
	})

	select {
	case resp := <-received:
		if resp.Name != wire.UpdateTicket {
			t.Fatalf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
	if m.PendingCount() != 0 {
		t.Fatal("expected pending entry to be cleared after response")
	}
}

func TestUnsolicitedInboundGoesToOnInbound(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	received := make(chan wire.Envelope, 1)
	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop, OnInbound: func(ctx context.Context, req wire.Envelope) {
		received <- req
	}})

	m.HandleInbound(context.Background(), wire.Envelope{Name: wire.Ticket, From: "orchestrator", MessageID: ids.New()})

	select {
	case req := <-received:
		if req.Name != wire.Ticket {
			t.Fatalf("unexpected request: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("onInbound never invoked")
	}
}

func TestDuplicateInboundIsDropped(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	var count int
	var mu sync.Mutex
	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop, OnInbound: func(ctx context.Context, req wire.Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	}})

	env := wire.Envelope{Name: wire.Ticket, From: "orchestrator", MessageID: ids.New()}
	m.HandleInbound(context.Background(), env)
	m.HandleInbound(context.Background(), env)

	loop.ExecuteAndWait(actorloop.EventFunc(func() {}))
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one dispatch for the duplicate pair, got %d", count)
	}
}

func TestDuplicateInboundWithDifferentPayloadFailsLoudly(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	var count int
	var mu sync.Mutex
	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop, OnInbound: func(ctx context.Context, req wire.Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	}})

	msgID := ids.New()
	first := wire.Envelope{Name: wire.Ticket, From: "orchestrator", MessageID: msgID, UpdateData: map[string]string{"message": "a"}}
	second := wire.Envelope{Name: wire.Ticket, From: "orchestrator", MessageID: msgID, UpdateData: map[string]string{"message": "b"}}

	if err := m.HandleInbound(context.Background(), first); err != nil {
		t.Fatalf("first delivery should not fail: %v", err)
	}
	if err := m.HandleInbound(context.Background(), second); err == nil {
		t.Fatal("expected an error for a reused message_id with a different payload")
	}

	loop.ExecuteAndWait(actorloop.EventFunc(func() {}))
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", count)
	}
}

func TestTransportFailureFiresFailedRPC(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	bus := &fakeBus{failNext: true}
	failed := make(chan string, 1)
	m := New(Config{Bus: bus, Loop: loop, OnFailedRPC: func(ctx context.Context, messageID ids.Identifier, rid, did *ids.Identifier, reason string) {
		failed <- reason
	}})

	_, err := m.Send(context.Background(), "broker", wire.Envelope{Name: wire.Ticket}, func(ctx context.Context, resp wire.Envelope) {})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("expected FailedRPC to fire after transport failure")
	}
}

func TestClaimTimeoutFiresFailedRPC(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	bus := &fakeBus{}
	failed := make(chan string, 1)
	m := New(Config{
		Bus: bus, Loop: loop, ClaimTimeout: 30 * time.Millisecond,
		OnFailedRPC: func(ctx context.Context, messageID ids.Identifier, rid, did *ids.Identifier, reason string) {
			failed <- reason
		},
	})

	_, err := m.Send(context.Background(), "authority", wire.Envelope{Name: wire.Redeem}, func(ctx context.Context, resp wire.Envelope) {
		t.Fatal("handler must not run; request was never answered")
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case reason := <-failed:
		if reason == "" {
			t.Fatal("expected a timeout reason")
		}
	case <-time.After(time.Second):
		t.Fatal("expected claim timeout to fire")
	}
}

func TestStopClearsPendingWithoutNotifying(t *testing.T) {
	loop, stop := startLoop(t)
	defer stop()

	bus := &fakeBus{}
	m := New(Config{Bus: bus, Loop: loop})

	_, err := m.Send(context.Background(), "broker", wire.Envelope{Name: wire.Ticket}, func(ctx context.Context, resp wire.Envelope) {
		t.Fatal("handler must never run after Stop")
	})
	if err != nil {
		t.Fatal(err)
	}

	m.Stop()
	if m.PendingCount() != 0 {
		t.Fatal("expected pending table cleared after Stop")
	}
}
