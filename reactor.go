package loom

import (
	"sync"
	"time"

	"github.com/sielicki/loom/internal/fi"
	"github.com/sielicki/loom/internal/logging"
	"github.com/sielicki/loom/internal/reactorio"
)

// ReactorOptions configures a registered CQ's polling cadence.
type ReactorOptions struct {
	PollInterval          time.Duration
	MaxCompletionsPerPoll int
	UseFDPolling          bool
}

// DefaultReactorOptions mirrors the teacher's DefaultParams pattern: a
// single constructor handing back sane defaults the caller can override.
func DefaultReactorOptions() ReactorOptions {
	return ReactorOptions{
		PollInterval:          time.Millisecond,
		MaxCompletionsPerPoll: 16,
		UseFDPolling:          false,
	}
}

type registeredCQ struct {
	cq      *CompletionQueue
	opts    ReactorOptions
	scratch []Event
}

// Reactor is the long-lived CQ-draining service: registers CQs, drains them
// on a schedule (timer by default, FD readiness when UseFDPolling and the
// CQ supports it), recovers each completion's submission context, and
// delivers its terminal call. This is the direct generalization of the
// teacher's per-queue ioLoop/processRequests pair to an arbitrary number of
// registered CQs instead of one fixed queue array.
type Reactor struct {
	mu       sync.Mutex
	cqs      map[*CompletionQueue]*registeredCQ
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *logging.Logger
	observer Observer
}

// NewReactor creates a stopped Reactor with no CQs registered.
func NewReactor(logger *logging.Logger, observer Observer) *Reactor {
	if logger == nil {
		logger = logging.Default()
	}
	if observer == nil {
		observer = NoOpObserver{}
	}
	return &Reactor{
		cqs:      make(map[*CompletionQueue]*registeredCQ),
		logger:   logger.With("component", "reactor"),
		observer: observer,
	}
}

// RegisterCQ adds cq to the drain set under opts. Safe to call while running.
func (r *Reactor) RegisterCQ(cq *CompletionQueue, opts ReactorOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.MaxCompletionsPerPoll <= 0 {
		opts.MaxCompletionsPerPoll = 16
	}
	r.cqs[cq] = &registeredCQ{cq: cq, opts: opts, scratch: make([]Event, opts.MaxCompletionsPerPoll)}
}

// DeregisterCQ removes cq from the drain set.
func (r *Reactor) DeregisterCQ(cq *CompletionQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cqs, cq)
}

// IsRunning reports whether the reactor's tick loop is active.
func (r *Reactor) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the tick loop on a background goroutine. Idempotent: a
// second Start on an already-running reactor is a no-op.
func (r *Reactor) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.loop(r.stopCh, r.doneCh)
}

// Stop halts the tick loop and waits for any in-flight dispatch tick to
// finish. Idempotent.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (r *Reactor) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	poller, perr := reactorio.NewPoller()
	if perr != nil {
		r.logger.Debug("FD polling unavailable, reactor runs timer-only", "error", perr)
		poller = nil
	} else {
		defer poller.Close()
	}

	registeredFDs := make(map[int]*CompletionQueue)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if poller != nil {
			r.syncFDPoller(poller, registeredFDs)
		}

		if poller != nil && len(registeredFDs) > 0 {
			timeoutMS := int(r.tickInterval() / time.Millisecond)
			if timeoutMS <= 0 {
				timeoutMS = 1
			}
			ready, werr := poller.Wait(timeoutMS)
			if werr != nil {
				r.logger.Warn("reactorio poller wait failed", "error", werr)
			}
			for _, rf := range ready {
				drainEventFD(rf.FD)
			}
			r.PollOnce()
			continue
		}

		select {
		case <-stopCh:
			return
		case <-time.After(r.tickInterval()):
			r.PollOnce()
		}
	}
}

// syncFDPoller reconciles poller's registrations with the set of currently
// registered CQs whose ReactorOptions.UseFDPolling is set and which expose
// a pollable wait-object fd (internal/reactorio), adding newly registered
// CQs and removing deregistered ones. PollOnce still does the actual
// draining; the poller only gives Wait something concrete to observe
// instead of sleeping blind for the full tick interval.
func (r *Reactor) syncFDPoller(poller reactorio.Poller, registered map[int]*CompletionQueue) {
	r.mu.Lock()
	want := make(map[int]*CompletionQueue)
	for cq, rc := range r.cqs {
		if !rc.opts.UseFDPolling {
			continue
		}
		if fd, ok := cq.pollableFD(); ok {
			want[fd] = cq
		}
	}
	r.mu.Unlock()

	for fd := range registered {
		if _, ok := want[fd]; !ok {
			_ = poller.Remove(fd)
			delete(registered, fd)
		}
	}
	for fd, cq := range want {
		if _, ok := registered[fd]; !ok {
			if err := poller.Add(fd, reactorio.EventReadable); err == nil {
				registered[fd] = cq
			}
		}
	}
}

func (r *Reactor) tickInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	shortest := DefaultReactorOptions().PollInterval
	first := true
	for _, rc := range r.cqs {
		if first || rc.opts.PollInterval < shortest {
			shortest = rc.opts.PollInterval
			first = false
		}
	}
	if shortest <= 0 {
		shortest = time.Millisecond
	}
	return shortest
}

// PollOnce runs a single drain-and-dispatch tick across every registered
// CQ, each bounded by its own MaxCompletionsPerPoll, and returns the total
// number of completions dispatched.
func (r *Reactor) PollOnce() int {
	r.mu.Lock()
	snapshot := make([]*registeredCQ, 0, len(r.cqs))
	for _, rc := range r.cqs {
		snapshot = append(snapshot, rc)
	}
	r.mu.Unlock()

	total := 0
	for _, rc := range snapshot {
		n := rc.cq.PollBatch(rc.scratch)
		if n == 0 {
			continue
		}
		r.observer.ObserveCQDepth(uint32(n))
		for i := 0; i < n; i++ {
			ev := rc.scratch[i]
			r.dispatch(ev)
		}
		total += n
	}
	return total
}

func (r *Reactor) dispatch(ev Event) {
	if ev.Header == nil {
		r.logger.Warn("completion with nil context header dropped")
		return
	}
	r.logger.With("token", contextToken(ev.Header)).Debug("dispatching completion", "bytes", ev.Bytes)
	Dispatch(ev.Header, ev)
}

// contextToken exposes a completion's recovery token for diagnostics/logging
// without leaking the fi package's Header type outside this file.
func contextToken(h *fi.Header) uint64 { return h.Token() }
