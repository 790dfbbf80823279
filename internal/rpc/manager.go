// Package rpc implements the at-most-once RPC manager of §4.7: outbound
// requests are stamped with a fresh message id, handed to a bounded
// worker pool, and tracked in a pending-response table with per-type
// timeouts; inbound arrivals are filtered for duplicates and dispatched
// back onto the owning actor's single-writer loop. Grounded on the
// teacher's events.Dispatcher worker/queue shape generalized to
// request/response correlation, with golang.org/x/time/rate bounding the
// outbound submission rate the way the teacher's oracle/blockchain
// clients bound RPC calls to external nodes.
package rpc

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernelerrors"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/transport"
	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// Default per-type timeouts (§4.7).
const (
	DefaultClaimTimeout = 120 * time.Second
	DefaultQueryTimeout = 120 * time.Second
)

// ResponseHandler processes the response envelope matched to a pending
// outbound request. Invoked on the owning actor loop.
type ResponseHandler func(ctx context.Context, resp wire.Envelope)

// InboundHandler processes an envelope that didn't correlate to any
// pending request — i.e. a fresh request arriving from a peer. Invoked on
// the owning actor loop.
type InboundHandler func(ctx context.Context, req wire.Envelope)

// FailedRPCHandler is invoked (on the owning actor loop) whenever an
// outbound request could not be delivered or timed out waiting for a
// response — the manager's only way of reporting delivery failure back
// into the kernel (§4.7: "translate transport error into a FailedRPC
// event").
type FailedRPCHandler func(ctx context.Context, messageID ids.Identifier, reservationID, delegationID *ids.Identifier, reason string)

type pendingEntry struct {
	env          wire.Envelope
	handler      ResponseHandler
	cancelTimer  func()
}

// Config configures a Manager.
type Config struct {
	Bus           transport.Bus
	Loop          *actorloop.Loop
	Dedup         Deduper
	OnInbound     InboundHandler
	OnFailedRPC   FailedRPCHandler
	Log           *logging.Logger
	WorkerCount   int
	RateLimit     rate.Limit // requests/sec; 0 means unlimited
	RateBurst     int
	ClaimTimeout  time.Duration
	QueryTimeout  time.Duration
}

// Manager is the RPC manager of §4.7.
type Manager struct {
	bus         transport.Bus
	loop        *actorloop.Loop
	dedup       Deduper
	onInbound   InboundHandler
	onFailedRPC FailedRPCHandler
	log         *logging.Logger

	limiter *rate.Limiter
	workers chan struct{}
	wg      sync.WaitGroup

	claimTimeout time.Duration
	queryTimeout time.Duration

	mu      sync.Mutex
	pending map[ids.Identifier]*pendingEntry
}

// New builds a Manager from cfg, filling in defaults for zero-valued
// fields.
func New(cfg Config) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = cfg.WorkerCount
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewDefault("rpc")
	}
	if cfg.Dedup == nil {
		cfg.Dedup = NewMemoryDeduper()
	}

	return &Manager{
		bus:          cfg.Bus,
		loop:         cfg.Loop,
		dedup:        cfg.Dedup,
		onInbound:    cfg.OnInbound,
		onFailedRPC:  cfg.OnFailedRPC,
		log:          cfg.Log,
		limiter:      rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		workers:      make(chan struct{}, cfg.WorkerCount),
		claimTimeout: cfg.ClaimTimeout,
		queryTimeout: cfg.QueryTimeout,
		pending:      make(map[ids.Identifier]*pendingEntry),
	}
}

// timeoutFor returns the per-type timeout for req, or 0 for message types
// that have no automatic timeout. Redeem and ClaimDelegation share the
// claim timeout; Query uses the query timeout.
func (m *Manager) timeoutFor(name wire.MessageType) time.Duration {
	switch name {
	case wire.Redeem, wire.ClaimDelegation:
		return m.claimTimeout
	case wire.Query:
		return m.queryTimeout
	default:
		return 0
	}
}

// Send stamps req with a fresh message id, registers handler (if non-nil)
// in the pending table with a per-type timeout, and submits the send to
// the bounded worker pool. It returns the stamped message id immediately;
// delivery happens asynchronously.
func (m *Manager) Send(ctx context.Context, topic string, req wire.Envelope, handler ResponseHandler) (ids.Identifier, error) {
	req.MessageID = ids.New()
	return req.MessageID, m.submit(ctx, topic, req, handler, true)
}

// Retry re-submits req unchanged, including its message id, per §4.7:
// "a retry(request) entry point re-enqueues with unchanged message_id."
// The caller is responsible for having left (or re-created) a pending
// entry if it still wants a response correlated.
func (m *Manager) Retry(ctx context.Context, topic string, req wire.Envelope) error {
	return m.submit(ctx, topic, req, nil, false)
}

func (m *Manager) submit(ctx context.Context, topic string, req wire.Envelope, handler ResponseHandler, registerPending bool) error {
	if registerPending && handler != nil {
		entry := &pendingEntry{env: req, handler: handler}
		m.mu.Lock()
		m.pending[req.MessageID] = entry
		m.mu.Unlock()

		if d := m.timeoutFor(req.Name); d > 0 {
			messageID := req.MessageID
			entry.cancelTimer = m.loop.QueueTimer(time.Now().Add(d), actorloop.EventFunc(func() {
				m.expirePending(ctx, messageID, "Timeout during "+string(req.Name))
			}))
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case m.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.workers }()
		if err := m.bus.Send(ctx, topic, req); err != nil {
			m.mu.Lock()
			_, tracked := m.pending[req.MessageID]
			m.mu.Unlock()
			if tracked {
				m.expirePending(ctx, req.MessageID, err.Error())
			} else if m.onFailedRPC != nil && (req.ReservationID != nil || req.DelegationID != nil) {
				reason := err.Error()
				m.loop.QueueEvent(actorloop.EventFunc(func() {
					m.onFailedRPC(ctx, req.MessageID, req.ReservationID, req.DelegationID, reason)
				}))
			}
		}
	}()
	return nil
}

// expirePending removes messageID from the pending table (if still
// present) and, if it was still pending, fires onFailedRPC on the actor
// loop.
func (m *Manager) expirePending(ctx context.Context, messageID ids.Identifier, reason string) {
	m.mu.Lock()
	entry, ok := m.pending[messageID]
	delete(m.pending, messageID)
	m.mu.Unlock()

	if !ok {
		return
	}
	if m.onFailedRPC == nil {
		return
	}
	env := entry.env
	m.loop.QueueEvent(actorloop.EventFunc(func() {
		m.onFailedRPC(ctx, messageID, env.ReservationID, env.DelegationID, reason)
	}))
}

// HandleInbound is the Bus subscription callback: it filters duplicate
// (message_id, from) pairs, correlates responses against the pending
// table, and dispatches everything else to onInbound — always on the
// owning actor's loop, never inline on the transport's own goroutine
// (§4.1, §4.7). A benign duplicate (identical payload, most likely a
// peer's at-most-once retry) is dropped silently at Debug. A message_id
// reused for a different payload is a protocol violation: it fails
// loudly, logging at Error and returning a kernelerrors.Internal, since
// silently picking one payload over the other would hide the bug (§8).
func (m *Manager) HandleInbound(ctx context.Context, env wire.Envelope) error {
	dup, mismatch, err := m.dedup.SeenBefore(ctx, env.MessageID, env.From, env.Fingerprint())
	if err != nil {
		m.log.Component("rpc").Warnf("dedup check failed for %s: %v; processing anyway", env.MessageID, err)
	} else if dup {
		if mismatch {
			kerr := kernelerrors.New(kernelerrors.Internal, "duplicate message_id "+env.MessageID.String()+" from "+env.From+" with a different payload")
			m.log.Component("rpc").WithField("message_id", env.MessageID.String()).WithField("from", env.From).Errorf("%v", kerr)
			return kerr
		}
		m.log.Component("rpc").WithField("message_id", env.MessageID.String()).Debug("dropped duplicate inbound message")
		return nil
	}

	var entry *pendingEntry
	if env.RequestID != nil {
		m.mu.Lock()
		entry = m.pending[*env.RequestID]
		if entry != nil {
			delete(m.pending, *env.RequestID)
		}
		m.mu.Unlock()
	}

	if entry != nil {
		if entry.cancelTimer != nil {
			entry.cancelTimer()
		}
		handler := entry.handler
		m.loop.QueueEvent(actorloop.EventFunc(func() {
			handler(ctx, env)
		}))
		return nil
	}

	if m.onInbound != nil {
		m.loop.QueueEvent(actorloop.EventFunc(func() {
			m.onInbound(ctx, env)
		}))
	}
	return nil
}

// Stop drains the worker pool and clears the pending table without
// notifying any caller still waiting — recovery resolves state on
// restart instead (§4.7).
func (m *Manager) Stop() {
	m.wg.Wait()
	m.mu.Lock()
	m.pending = make(map[ids.Identifier]*pendingEntry)
	m.mu.Unlock()
}

// PendingCount reports the number of outstanding requests, for tests and
// introspection.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
