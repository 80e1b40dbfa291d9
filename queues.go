package loom

import (
	"context"
	"sync"

	"github.com/sielicki/loom/internal/fi"
)

// EventFlagImmediateData is the bit tested by Event.HasImmediateData, per
// the spec's documented (provider-header-dependent) convention.
const EventFlagImmediateData = uint64(1) << fi.ImmediateDataFlagBit

// Event is a single completion record drained from a CompletionQueue.
type Event struct {
	Header    *fi.Header
	Err       error // non-nil for an error completion
	Bytes     uint64
	Flags     uint64
	Tag       Tag
	Len       uint64
	ImmData   uint64
	ProvErrno int32
	ErrData   []byte
}

// HasProviderError reports whether the completion carries provider-specific
// error diagnostics.
func (e Event) HasProviderError() bool { return e.ProvErrno != 0 || len(e.ErrData) > 0 }

// HasImmediateData reports whether the completion carries 64-bit immediate
// data, per EventFlagImmediateData.
func (e Event) HasImmediateData() bool { return e.Flags&EventFlagImmediateData != 0 }

// CQConfig configures CompletionQueue creation.
type CQConfig struct {
	Capacity        QueueSize
	WaitObject      bool
	SignalingVector int
}

// CompletionQueue is an ordered FIFO of completion events. The configured
// capacity is reported by Capacity but not enforced: Push never rejects or
// drops an event, so the queue grows as needed.
type CompletionQueue struct {
	mu         sync.Mutex
	cfg        CQConfig
	buf        []Event
	waitFD     *waitHandle
	progress   ProgressMode
}

// NewCompletionQueue creates a CQ under cfg, with progress describing
// whether the owning domain requires the caller to drive progress manually.
func NewCompletionQueue(cfg CQConfig, progress ProgressMode) *CompletionQueue {
	cq := &CompletionQueue{cfg: cfg, progress: progress}
	if cfg.WaitObject {
		cq.waitFD = newWaitHandle()
	}
	return cq
}

// Push enqueues ev, to be drained by Poll/PollBatch/Wait/Read. Called by the
// simulated provider (or, in a real binding, by the libfabric completion
// callback) when an operation completes.
func (cq *CompletionQueue) Push(ev Event) {
	cq.mu.Lock()
	cq.buf = append(cq.buf, ev)
	cq.mu.Unlock()
	if cq.waitFD != nil {
		cq.waitFD.signal()
	}
}

// Poll performs a non-blocking dequeue, returning (event, true) or
// (zero, false) when the queue is empty.
func (cq *CompletionQueue) Poll() (Event, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if len(cq.buf) == 0 {
		return Event{}, false
	}
	ev := cq.buf[0]
	cq.buf = cq.buf[1:]
	return ev, true
}

// PollBatch dequeues up to len(out) events, returning the count actually
// dequeued.
func (cq *CompletionQueue) PollBatch(out []Event) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	n := len(out)
	if n > len(cq.buf) {
		n = len(cq.buf)
	}
	copy(out[:n], cq.buf[:n])
	cq.buf = cq.buf[n:]
	return n
}

// Read is Poll, surfacing ErrNotReady instead of a boolean when empty.
func (cq *CompletionQueue) Read() (Event, error) {
	ev, ok := cq.Poll()
	if !ok {
		return Event{}, ErrNotReady
	}
	return ev, nil
}

// Wait blocks until an event is available or ctx is done, returning
// ErrTimeout if ctx's deadline elapses first. Requires the CQ to have been
// created with WaitObject set; otherwise returns KindNotSupported.
func (cq *CompletionQueue) Wait(ctx context.Context) (Event, error) {
	if cq.waitFD == nil {
		return Event{}, NewError("CompletionQueue.Wait", KindNotSupported, "CQ has no wait object")
	}
	for {
		if ev, ok := cq.Poll(); ok {
			return ev, nil
		}
		select {
		case <-ctx.Done():
			return Event{}, ErrTimeout
		case <-cq.waitFD.ch:
		}
	}
}

// Ack completes credit accounting for events that require it (event-queue
// semantics; a no-op for completion queues in this binding's mock provider).
func (cq *CompletionQueue) Ack(ev Event) error { return nil }

// Capacity returns the CQ's configured capacity.
func (cq *CompletionQueue) Capacity() QueueSize { return cq.cfg.Capacity }

// Pending returns the number of undelivered events currently queued.
func (cq *CompletionQueue) Pending() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.buf)
}

// SupportsBlockingWait reports whether Wait is usable on this CQ.
func (cq *CompletionQueue) SupportsBlockingWait() bool { return cq.waitFD != nil }

// RequiresManualProgress reports whether the owning domain's data progress
// mode requires the caller to drive completions by polling.
func (cq *CompletionQueue) RequiresManualProgress() bool { return cq.progress == ProgressManual }

// waitSignal exposes the CQ's readiness signal for FD-style polling backends
// (internal/reactorio). Returns nil if the CQ has no wait object.
func (cq *CompletionQueue) waitSignal() *waitHandle { return cq.waitFD }

// pollableFD exposes the OS fd backing this CQ's wait object, for
// registration with an internal/reactorio.Poller. ok is false if the CQ has
// no wait object or the platform has no eventfd support to back one.
func (cq *CompletionQueue) pollableFD() (int, bool) { return cq.waitFD.pollableFD() }

// EQEventKind distinguishes event-queue record types.
type EQEventKind int

const (
	EQEventConnected EQEventKind = iota
	EQEventShutdown
	EQEventJoinComplete
	EQEventMRComplete
)

// EQEvent is a control-plane record delivered by an EventQueue.
type EQEvent struct {
	Kind EQEventKind
	Data []byte
}

// EventQueue delivers connection/shutdown/join-complete/MR-complete events.
type EventQueue struct {
	mu  sync.Mutex
	buf []EQEvent
}

// NewEventQueue creates an empty event queue, owned by a fabric rather than
// a domain.
func NewEventQueue() *EventQueue { return &EventQueue{} }

// Push enqueues an event queue record.
func (eq *EventQueue) Push(ev EQEvent) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	eq.buf = append(eq.buf, ev)
}

// Read dequeues the next event queue record.
func (eq *EventQueue) Read() (EQEvent, error) {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	if len(eq.buf) == 0 {
		return EQEvent{}, ErrNotReady
	}
	ev := eq.buf[0]
	eq.buf = eq.buf[1:]
	return ev, nil
}

// waitHandle is a minimal readiness signal: a buffered channel the reactor's
// timer loop can select on, standing in for a libfabric wait-object fd. On
// platforms with eventfd (linux), it also backs a real fd of its own so
// internal/reactorio's Poller can block on it directly instead of the
// reactor's channel, giving ReactorOptions.UseFDPolling something concrete
// to poll.
type waitHandle struct {
	ch   chan struct{}
	fd   int
	fdOK bool
}

func newWaitHandle() *waitHandle {
	w := &waitHandle{ch: make(chan struct{}, 1), fd: -1}
	w.fd, w.fdOK = newEventFD()
	return w
}

func (w *waitHandle) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
	if w.fdOK {
		signalEventFD(w.fd)
	}
}

// pollableFD returns the OS fd backing this wait handle and whether it's
// usable, for registration with an internal/reactorio.Poller.
func (w *waitHandle) pollableFD() (int, bool) {
	if w == nil || !w.fdOK {
		return -1, false
	}
	return w.fd, true
}

func (w *waitHandle) close() {
	if w.fdOK {
		closeEventFD(w.fd)
	}
}
