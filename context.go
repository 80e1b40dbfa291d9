package loom

import (
	"context"
	"sync"

	"github.com/sielicki/loom/internal/fi"
)

// globalRegistry recovers submission contexts from completion headers. A
// single process-wide registry (rather than one per domain/endpoint) keeps
// Dispatch a pure function of (header, event) regardless of which endpoint
// produced the completion, mirroring how a real fi_context2 back-pointer is
// meaningful independent of which CQ drained it.
var globalRegistry = fi.NewContextRegistry()

// RegistryLen reports the number of live, undelivered submission contexts.
// Exposed for tests asserting terminal exclusivity drains the registry to
// zero.
func RegistryLen() int { return globalRegistry.Len() }

// Receiver is the sink every submission context hands its one terminal
// call to. Exactly one of SetValue, SetError, SetStopped fires, exactly
// once, for a given submission.
type Receiver interface {
	SetValue(Event)
	SetError(error)
	SetStopped()
}

// SubmissionContext is the per-operation object pinned across a fabric call:
// allocated at submission, handed a provider header, recovered by the
// reactor from that header's back-pointer, and destroyed (made unreachable
// from the registry) immediately after its one terminal call.
type SubmissionContext struct {
	header   *fi.Header
	receiver Receiver
	mu       sync.Mutex
	done     bool
}

// NewSubmissionContext allocates a context wrapping receiver and registers
// it, returning the provider header to pass into the endpoint verb.
func NewSubmissionContext(receiver Receiver) *SubmissionContext {
	sc := &SubmissionContext{receiver: receiver}
	sc.header = globalRegistry.Register(sc)
	return sc
}

// Header returns the provider-compatible context header to pass to the
// fabric call that will eventually complete this context.
func (sc *SubmissionContext) Header() *fi.Header { return sc.header }

// Deliver satisfies the type-erased context interface internal/fi's
// ContextRegistry stores. Enforces terminal exclusivity: only the first call
// after registration does anything.
func (sc *SubmissionContext) Deliver(evAny any, errVal error) {
	sc.mu.Lock()
	if sc.done {
		sc.mu.Unlock()
		return
	}
	sc.done = true
	sc.mu.Unlock()

	globalRegistry.Deregister(sc.header)

	if errVal != nil {
		if IsKind(errVal, KindCanceled) {
			sc.receiver.SetStopped()
			return
		}
		sc.receiver.SetError(errVal)
		return
	}
	ev, _ := evAny.(Event)
	sc.receiver.SetValue(ev)
}

// Dispatch recovers the submission context registered under header and
// delivers ev (an error completion if ev.Err != nil, otherwise a value
// completion), exactly once. It is the reactor's sole point of contact with
// the receiver-variant type system.
func Dispatch(header *fi.Header, ev Event) {
	ctx := globalRegistry.Lookup(header)
	if ctx == nil {
		return // already delivered (e.g. duplicate cancel completion)
	}
	sc, ok := ctx.(*SubmissionContext)
	if !ok {
		return
	}
	sc.Deliver(ev, ev.Err)
}

// CallbackReceiver stores one function per terminal. Nil fields are
// skipped, so callers only supply the terminals they care about.
type CallbackReceiver struct {
	OnValue   func(Event)
	OnError   func(error)
	OnStopped func()
}

func (r CallbackReceiver) SetValue(ev Event) {
	if r.OnValue != nil {
		r.OnValue(ev)
	}
}

func (r CallbackReceiver) SetError(err error) {
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r CallbackReceiver) SetStopped() {
	if r.OnStopped != nil {
		r.OnStopped()
	}
}

// ChannelReceiver is loom's rendition of the coroutine receiver: Go has no
// stackful/stackless coroutine primitive, so the natural mapping is a
// goroutine parked on a buffered channel. Await blocks the calling
// goroutine (the suspend point) until the terminal fires or ctx is done.
type ChannelReceiver struct {
	result chan channelResult
}

type channelResult struct {
	ev  Event
	err error
}

// NewChannelReceiver creates a receiver ready to be awaited exactly once.
func NewChannelReceiver() *ChannelReceiver {
	return &ChannelReceiver{result: make(chan channelResult, 1)}
}

func (r *ChannelReceiver) SetValue(ev Event) {
	r.result <- channelResult{ev: ev}
}

func (r *ChannelReceiver) SetError(err error) {
	r.result <- channelResult{err: err}
}

func (r *ChannelReceiver) SetStopped() {
	r.result <- channelResult{err: ErrCanceled}
}

// Await suspends the caller until the submission completes or ctx is done.
func (r *ChannelReceiver) Await(ctx context.Context) (Event, error) {
	select {
	case res := <-r.result:
		return res.ev, res.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Future is the promise-receiver's read side: Get blocks until the
// operation resolves.
type Future struct {
	ch chan channelResult
}

// Get blocks until the future resolves, returning the event or error.
func (f Future) Get(ctx context.Context) (Event, error) {
	select {
	case res := <-f.ch:
		return res.ev, res.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// PromiseReceiver fulfills a Future. SetError surfaces the wrapped error;
// SetStopped resolves the future with ErrCanceled, per spec's
// operation_canceled mapping.
type PromiseReceiver struct {
	ch chan channelResult
}

// NewPromiseReceiver creates a linked (PromiseReceiver, Future) pair.
func NewPromiseReceiver() (*PromiseReceiver, Future) {
	ch := make(chan channelResult, 1)
	return &PromiseReceiver{ch: ch}, Future{ch: ch}
}

func (r *PromiseReceiver) SetValue(ev Event) { r.ch <- channelResult{ev: ev} }
func (r *PromiseReceiver) SetError(err error) { r.ch <- channelResult{err: err} }
func (r *PromiseReceiver) SetStopped()        { r.ch <- channelResult{err: ErrCanceled} }

// Executor is the Asio-style dispatch primitive an ExecutorReceiver
// delivers its handler onto. Any event loop (the Reactor itself, a worker
// pool, a GUI main-thread marshaller) can implement this.
type Executor interface {
	Dispatch(func())
}

// InlineExecutor runs the handler synchronously on the calling goroutine —
// the reactor's own dispatch loop, effectively. Useful as the default when
// no separate executor is wired in.
type InlineExecutor struct{}

func (InlineExecutor) Dispatch(fn func()) { fn() }

// Handler is the callback an ExecutorReceiver delivers (error, bytes) to,
// invoked only after the submission context has destroyed itself.
type Handler func(err error, bytes uint64)

// Cancelable is satisfied by anything an ExecutorReceiver can route
// cancellation through; *Endpoint implements it.
type Cancelable interface {
	Cancel(header *fi.Header) error
}

// ExecutorReceiver captures a handler and an executor. It holds no endpoint
// back-pointer; cancellation goes through a separate CancelSlot built for
// the submission. On terminal: the submission
// context is first unregistered (destroy-self), then the handler is
// dispatched — so re-entrancy inside the handler can never observe the
// context as still alive.
type ExecutorReceiver struct {
	handler  Handler
	executor Executor
}

// NewExecutorReceiver creates a receiver that runs handler on executor after
// this submission's context has already been torn down.
func NewExecutorReceiver(handler Handler, executor Executor) *ExecutorReceiver {
	if executor == nil {
		executor = InlineExecutor{}
	}
	return &ExecutorReceiver{handler: handler, executor: executor}
}

func (r *ExecutorReceiver) SetValue(ev Event) {
	r.executor.Dispatch(func() { r.handler(nil, ev.Bytes) })
}

func (r *ExecutorReceiver) SetError(err error) {
	r.executor.Dispatch(func() { r.handler(err, 0) })
}

func (r *ExecutorReceiver) SetStopped() {
	r.executor.Dispatch(func() { r.handler(ErrCanceled, 0) })
}

// CancelSlot is the non-owning cancellation hook an ExecutorReceiver-backed
// submission installs: it holds the endpoint back-pointer and the context's
// header, and fires endpoint.Cancel(header) when invoked. It never races
// destruction because firing it only ever produces a completion (normal or
// canceled), which drives Deliver() through its usual once-only path.
type CancelSlot struct {
	endpoint Cancelable
	header   *fi.Header
}

// NewCancelSlot builds a cancellation hook for sc against endpoint.
func NewCancelSlot(endpoint Cancelable, sc *SubmissionContext) CancelSlot {
	return CancelSlot{endpoint: endpoint, header: sc.header}
}

// Fire requests cancellation. Errors from the underlying Cancel are
// swallowed: the completion path delivers the canonical outcome regardless.
func (c CancelSlot) Fire() {
	if c.endpoint == nil {
		return
	}
	_ = c.endpoint.Cancel(c.header)
}
