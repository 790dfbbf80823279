// Package ticker implements the monotonic cycle clock of §4.6: a
// beginning-of-time epoch plus a fixed cycle length, fanning out
// externalTick(cycle) to every registered Tickable. Automatic-mode firing
// is driven from wall clock on each firing (so missed ticks are
// reconciled rather than silently dropped, per the "ticker drift" design
// note in §9) using a github.com/robfig/cron/v3 schedule built from
// cycle_millis — a dependency the teacher's go.mod lists but never
// imports from source.
package ticker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/testbed-kernel/internal/logging"
)

// Tickable receives cycle notifications. Implementations must return
// promptly (§4.6: "externalTick must return promptly; blocking the
// ticker delays all tickables") — callers typically just enqueue an
// event on their actor loop and return.
type Tickable interface {
	ExternalTick(cycle int64)
}

// Ticker is the cycle clock. Safe for concurrent use; AddTickable and
// RemoveTickable may be called while the ticker is running.
type Ticker struct {
	beginningOfTime time.Time
	cycleMillis     int64
	manual          bool

	mu           sync.Mutex
	tickables    map[Tickable]struct{}
	currentCycle int64

	schedule cron.Schedule
	log      *logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Ticker. startTimeMs<0 means "now" (§6.1's `time.start-time
// = -1` convention).
func New(startTimeMs int64, cycleMillis int64, manual bool, log *logging.Logger) (*Ticker, error) {
	if cycleMillis <= 0 {
		return nil, fmt.Errorf("cycle_millis must be positive, got %d", cycleMillis)
	}

	var begin time.Time
	if startTimeMs < 0 {
		begin = time.Now().UTC()
	} else {
		begin = time.UnixMilli(startTimeMs).UTC()
	}

	var sched cron.Schedule
	if !manual {
		parser := cron.NewParser(cron.Descriptor)
		s, err := parser.Parse(fmt.Sprintf("@every %dms", cycleMillis))
		if err != nil {
			return nil, fmt.Errorf("build cycle schedule: %w", err)
		}
		sched = s
	}

	if log == nil {
		log = logging.NewDefault("ticker")
	}

	return &Ticker{
		beginningOfTime: begin,
		cycleMillis:     cycleMillis,
		manual:          manual,
		tickables:       make(map[Tickable]struct{}),
		currentCycle:    -1,
		schedule:        sched,
		log:             log,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}, nil
}

// CycleForTime computes the cycle number for an arbitrary wall-clock
// instant (§4.6: `cycle = (now - beginning_of_time) / cycle_millis`).
func (t *Ticker) CycleForTime(at time.Time) int64 {
	delta := at.Sub(t.beginningOfTime).Milliseconds()
	if delta < 0 {
		return 0
	}
	return delta / t.cycleMillis
}

// AddTickable registers a receiver for future cycle fires.
func (t *Ticker) AddTickable(tk Tickable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickables[tk] = struct{}{}
}

// RemoveTickable unregisters a receiver.
func (t *Ticker) RemoveTickable(tk Tickable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tickables, tk)
}

// CurrentCycle returns the most recently fired cycle, or -1 before the
// first tick.
func (t *Ticker) CurrentCycle() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentCycle
}

// Tick advances the clock by exactly one cycle in manual mode, firing
// every registered Tickable. It is an error to call Tick on an automatic
// ticker.
func (t *Ticker) Tick() (int64, error) {
	if !t.manual {
		return 0, fmt.Errorf("Tick is only valid in manual mode")
	}
	t.mu.Lock()
	t.currentCycle++
	cycle := t.currentCycle
	receivers := t.snapshotTickables()
	t.mu.Unlock()

	t.fire(cycle, receivers)
	return cycle, nil
}

// AdvanceTo fires every cycle from the current cycle (exclusive) up to
// target (inclusive), reconciling any gap — manual-mode equivalent of the
// wall-clock reconciliation automatic mode performs on every firing.
func (t *Ticker) AdvanceTo(target int64) error {
	if !t.manual {
		return fmt.Errorf("AdvanceTo is only valid in manual mode")
	}
	for {
		t.mu.Lock()
		if t.currentCycle >= target {
			t.mu.Unlock()
			return nil
		}
		t.currentCycle++
		cycle := t.currentCycle
		receivers := t.snapshotTickables()
		t.mu.Unlock()
		t.fire(cycle, receivers)
	}
}

func (t *Ticker) snapshotTickables() []Tickable {
	out := make([]Tickable, 0, len(t.tickables))
	for tk := range t.tickables {
		out = append(out, tk)
	}
	return out
}

func (t *Ticker) fire(cycle int64, receivers []Tickable) {
	for _, tk := range receivers {
		tk.ExternalTick(cycle)
	}
}

// Run starts the automatic-mode background loop. It blocks until ctx is
// cancelled or Stop is called; callers should invoke it with `go`.
func (t *Ticker) Run(ctx context.Context) {
	defer close(t.doneCh)
	if t.manual {
		return
	}

	for {
		now := time.Now().UTC()
		next := t.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.stopCh:
			timer.Stop()
			return
		case fired := <-timer.C:
			target := t.CycleForTime(fired)
			t.mu.Lock()
			receivers := t.snapshotTickables()
			start := t.currentCycle
			t.mu.Unlock()

			if start < 0 {
				start = target - 1
			}
			for c := start + 1; c <= target; c++ {
				t.mu.Lock()
				t.currentCycle = c
				t.mu.Unlock()
				t.fire(c, receivers)
			}
			if target-start > 1 {
				t.log.Component("ticker").Warnf("reconciled gap of %d cycles (%d -> %d)", target-start, start, target)
			}
		}
	}
}

// Stop halts the automatic-mode loop and waits for Run to return.
func (t *Ticker) Stop() {
	if t.manual {
		return
	}
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	<-t.doneCh
}
