// Package main is the actor process entry point (§0, §5): it loads the
// declarative configuration, wires storage/transport/policy/substrate
// behind their interfaces, and runs one actor's kernel + ticker + RPC
// manager + dispatcher until a termination signal arrives. It never
// exposes a CLI/REST surface of its own — that remains a Non-goal (§5) —
// it is the container process a deployment's orchestration starts per
// actor, the way the teacher's cmd/indexer is the process a deployment
// starts per chain indexer.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/testbed-kernel/internal/actorloop"
	"github.com/R3E-Network/testbed-kernel/internal/config"
	"github.com/R3E-Network/testbed-kernel/internal/dispatch"
	"github.com/R3E-Network/testbed-kernel/internal/ids"
	"github.com/R3E-Network/testbed-kernel/internal/kernel"
	"github.com/R3E-Network/testbed-kernel/internal/logging"
	"github.com/R3E-Network/testbed-kernel/internal/policy"
	"github.com/R3E-Network/testbed-kernel/internal/recovery"
	"github.com/R3E-Network/testbed-kernel/internal/rpc"
	"github.com/R3E-Network/testbed-kernel/internal/storage/postgres"
	"github.com/R3E-Network/testbed-kernel/internal/substrate"
	"github.com/R3E-Network/testbed-kernel/internal/ticker"
	"github.com/R3E-Network/testbed-kernel/internal/transport/wsbus"
	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// kernelTicker adapts a *kernel.Kernel onto ticker.Tickable: the cycle
// fan-out must land on the actor's own loop rather than the ticker's
// goroutine, the same single-writer rule the dispatcher's inbound path
// follows (§4.1, §4.6).
type kernelTicker struct {
	loop *actorloop.Loop
	k    *kernel.Kernel
	log  *logging.Logger
}

func (kt *kernelTicker) ExternalTick(cycle int64) {
	kt.loop.QueueEvent(actorloop.EventFunc(func() {
		if err := kt.k.Tick(context.Background(), cycle); err != nil {
			kt.log.Component("actorproc").WithError(err).WithField("cycle", cycle).Error("tick failed")
		}
	}))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the actor's configuration document")
	flag.Parse()

	bootLog := logging.NewDefault("actorproc")

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.WithError(err).Fatal("load config")
	}

	if cfg.Logging.Name == "" {
		cfg.Logging.Name = cfg.Actor.Name
	}
	log := logging.New(cfg.Logging)
	entry := log.Component("actorproc")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.Open(ctx, cfg.Database.DSN())
	if err != nil {
		entry.WithError(err).Fatal("open storage")
	}
	defer store.Close()

	pol := policy.NewPassThrough()
	k := kernel.New(store, pol, log)

	loop := actorloop.New(cfg.Actor.Name, 0, log)
	go loop.Run(ctx)
	defer loop.Stop()

	// This process's own websocket loopback broker (§6.3 Non-goal: the
	// production bus is an external collaborator supplied by the
	// deployment, not built here). Every actor in a single-process
	// deployment shares one Hub; cross-process federation needs a real
	// broker, which this dependency set does not carry (DESIGN.md).
	hub := wsbus.NewHub()
	defer hub.Close()
	bus := wsbus.New(hub)
	defer bus.Close()

	// The RPC manager needs the dispatcher's handler functions at
	// construction, and the dispatcher needs the manager to send replies
	// and forwarded actions — broken with a forward-reference closure
	// (also used by internal/dispatch's own test setup).
	var d *dispatch.Dispatcher
	mgr := rpc.New(rpc.Config{
		Bus:          bus,
		Loop:         loop,
		Dedup:        rpc.NewMemoryDeduper(),
		Log:          log,
		RateLimit:    rate.Limit(50),
		RateBurst:    50,
		ClaimTimeout: durationFromSeconds(cfg.Runtime.RPCRequestTimeoutS),
		QueryTimeout: durationFromSeconds(cfg.Runtime.RPCRequestTimeoutS),
		OnInbound: func(ctx context.Context, env wire.Envelope) {
			d.HandleInbound(ctx, env)
		},
		OnFailedRPC: func(ctx context.Context, messageID ids.Identifier, rid, did *ids.Identifier, reason string) {
			d.OnFailedRPC(ctx, messageID, rid, did, reason)
		},
	})
	defer mgr.Stop()

	handler := substrateHandlerFor(cfg, loop, log, &d)
	d = dispatch.New(cfg.Actor.Name, k, store, mgr, handler, pol, log)

	for _, p := range cfg.Peers {
		entry.WithField("peer", p.Name).WithField("topic", p.KafkaTopic).Debug("known peer")
	}

	// Replay persisted state before subscribing to the bus: dispatch
	// assumes a reservation/delegation is already registered in the
	// kernel before any inbound message for it arrives (§4.9).
	rec := recovery.New(store, k, pol, log)
	report, err := rec.Run(ctx)
	if err != nil {
		entry.WithError(err).Fatal("recovery replay")
	}
	entry.WithField("ran", report.Ran).
		WithField("slices", report.Slices).
		WithField("reservations", report.Reservations).
		WithField("delegations", report.Delegations).
		WithField("pending", len(report.Pending)).
		Info("recovery complete")

	selfTopic := cfg.Actor.KafkaTopic
	if selfTopic == "" {
		selfTopic = cfg.Actor.Name
	}
	if err := bus.Subscribe(ctx, selfTopic, func(env wire.Envelope) {
		mgr.HandleInbound(ctx, env)
	}); err != nil {
		entry.WithError(err).Fatal("subscribe to own topic")
	}

	clk, err := ticker.New(cfg.Time.StartTimeMs, cfg.Time.CycleMillis, cfg.Time.Manual, log)
	if err != nil {
		entry.WithError(err).Fatal("build ticker")
	}
	clk.AddTickable(&kernelTicker{loop: loop, k: k, log: log})
	go clk.Run(ctx)

	entry.WithField("actor", cfg.Actor.Name).WithField("type", cfg.Actor.Type).Info("actor process started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	entry.Info("shutting down")
	clk.Stop()
	cancel()
	if err := store.PutMisc(context.Background(), "shutdown", []byte(cfg.Actor.Name)); err != nil {
		entry.WithError(err).Warn("persist shutdown marker")
	}
	// Remaining teardown (rpc manager drain, bus/hub close, loop stop,
	// storage close) runs via the defers above, in reverse wiring order.
}

// substrateHandlerFor builds the Authority-side substrate plugin (§4.8).
// Only an authority actor drives real units, so broker and orchestrator
// actors get a nil Handler; dispatch never calls it for them since their
// reservations never produce ActionCreateUnit/ModifyUnit/DeleteUnit.
func substrateHandlerFor(cfg *config.Config, loop *actorloop.Loop, log *logging.Logger, d **dispatch.Dispatcher) substrate.Handler {
	if cfg.Actor.Type != config.Authority {
		return nil
	}
	return substrate.NewNoopHandler(loop, log, func(ctx context.Context, unitID string, props substrate.CompletionProperties) {
		(*d).ConfigurationComplete(ctx, unitID, props)
	}, 0)
}

func durationFromSeconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
