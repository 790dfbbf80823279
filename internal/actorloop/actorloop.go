// Package actorloop implements the single-writer event loop of §4.1: one
// goroutine drains an event queue and a timer queue, so every state
// transition against a reservation, delegation, or slice happens on a
// single thread without locking. Grounded on the teacher's events.Dispatcher
// queue/stopCh/doneCh shape (pkg/events/dispatcher.go), generalized from a
// single typed channel of blockchain events to an arbitrary Event
// interface plus a min-heap timer queue.
package actorloop

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/testbed-kernel/internal/logging"
)

// Event is a unit of work executed on the loop goroutine.
type Event interface {
	// Execute runs the event's body. Panics are recovered by the loop and
	// logged; Execute must not block on anything outside the actor's own
	// state.
	Execute()
}

// EventFunc adapts a plain function to Event.
type EventFunc func()

// Execute implements Event.
func (f EventFunc) Execute() { f() }

type timerEntry struct {
	at    time.Time
	event Event
	index int
	seq   uint64
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Loop is a single-writer actor event loop. Zero value is not usable; use
// New.
type Loop struct {
	name string
	log  *logging.Logger

	mu      sync.Mutex
	events  []Event
	timers  timerHeap
	timerID uint64
	wake    chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}

	runningOnce sync.Once
}

// New builds a Loop. queueHint sizes the initial event-slice capacity; it
// is not a hard limit, unlike the teacher's bounded channel queue — the
// kernel's own backpressure (RPC worker pool, storage writes) governs
// throughput instead.
func New(name string, queueHint int, log *logging.Logger) *Loop {
	if queueHint <= 0 {
		queueHint = 64
	}
	if log == nil {
		log = logging.NewDefault("actorloop")
	}
	return &Loop{
		name:   name,
		log:    log,
		events: make([]Event, 0, queueHint),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// QueueEvent appends ev to the event queue and wakes the loop. Safe to
// call from any goroutine, including from within Execute itself
// (re-entrant).
func (l *Loop) QueueEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.signal()
}

// QueueTimer schedules ev to run at `at`. Returns a cancel function.
func (l *Loop) QueueTimer(at time.Time, ev Event) (cancel func()) {
	l.mu.Lock()
	l.timerID++
	entry := &timerEntry{at: at, event: ev, seq: l.timerID}
	heap.Push(&l.timers, entry)
	l.mu.Unlock()
	l.signal()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if entry.index >= 0 && entry.index < len(l.timers) && l.timers[entry.index] == entry {
			heap.Remove(&l.timers, entry.index)
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// ExecuteAndWait runs ev on the loop goroutine and blocks until it
// completes. Callers already running on the loop goroutine (i.e. from
// within another Event's Execute) must call ev.Execute() directly instead
// — routing back through ExecuteAndWait from there deadlocks, since the
// loop cannot drain the queued entry while it is blocked waiting for it.
func (l *Loop) ExecuteAndWait(ev Event) {
	done := make(chan struct{})
	l.QueueEvent(EventFunc(func() {
		l.runOne(ev)
		close(done)
	}))
	<-done
}

// Run starts the loop; it blocks until Stop is called or ctx is
// cancelled. Callers should invoke it with `go`.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)

	for {
		l.drain()

		wait := time.NewTimer(l.nextTimerDelay())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-l.stopCh:
			wait.Stop()
			return
		case <-l.wake:
			wait.Stop()
		case <-wait.C:
		}
	}
}

// drain executes every ready event and every due timer, repeating until
// both queues are empty of ready work.
func (l *Loop) drain() {
	for {
		ev, ok := l.popEvent()
		if !ok {
			break
		}
		l.runOne(ev)
	}
	for {
		ev, ok := l.popDueTimer()
		if !ok {
			break
		}
		l.runOne(ev)
	}
}

func (l *Loop) popEvent() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return nil, false
	}
	ev := l.events[0]
	l.events = l.events[1:]
	return ev, true
}

func (l *Loop) popDueTimer() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return nil, false
	}
	top := l.timers[0]
	if top.at.After(time.Now()) {
		return nil, false
	}
	heap.Pop(&l.timers)
	return top.event, true
}

func (l *Loop) nextTimerDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Minute
	}
	d := time.Until(l.timers[0].at)
	if d < 0 {
		return 0
	}
	return d
}

func (l *Loop) runOne(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Component(l.name).Errorf("recovered panic in actor event: %v", r)
		}
	}()
	ev.Execute()
}

// Stop halts the loop and waits for Run to return.
func (l *Loop) Stop() {
	l.runningOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}
