package loom

import (
	"context"

	"github.com/sielicki/loom/internal/bufpool"
	"github.com/sielicki/loom/internal/fi"
)

// EndpointType mirrors the fi_ep_type an Endpoint was created against.
type EndpointType int

const (
	EndpointTypeMsg EndpointType = iota
	EndpointTypeRDM
	EndpointTypeDgram
)

// EndpointDirection selects which CQ a binding covers.
type EndpointDirection int

const (
	DirTransmit EndpointDirection = 1 << iota
	DirReceive
)

const DirBoth = DirTransmit | DirReceive

// AtomicOp describes one atomic or fetch/compare-atomic request.
type AtomicOp struct {
	Op       int // one of internal/fi's Op* constants
	Datatype int // one of internal/fi's Datatype* constants
	Operand  uint64
	Compare  uint64 // meaningful only for OpCompareSwap
}

// Transport is the provider verb surface an Endpoint drives. A real binding
// implements this against libfabric's fi_send/fi_recv/fi_read/... family;
// MockProvider (testing.go) implements it in-process for tests and
// examples.
type Transport interface {
	Send(buf []byte, dest FabricAddr, header *fi.Header) error
	Recv(buf []byte, header *fi.Header) error
	TaggedSend(buf []byte, dest FabricAddr, tag Tag, header *fi.Header) error
	TaggedRecv(buf []byte, tag Tag, ignore Tag, header *fi.Header) error
	Inject(buf []byte, dest FabricAddr) error
	Read(buf []byte, remote RemoteMemory, dest FabricAddr, header *fi.Header) error
	Write(buf []byte, remote RemoteMemory, dest FabricAddr, header *fi.Header) error
	NativeAtomic(remote RemoteMemory, dest FabricAddr, op AtomicOp, result []byte, header *fi.Header) error
	Cancel(header *fi.Header) error
	BindCQ(cq *CompletionQueue, dir EndpointDirection) error
	BindAV(av *AddressVector) error
	Enable() error
}

// Endpoint wraps a provider endpoint handle, parameterized by provider tag
// so generic code (the atomic router, inject-size checks) can consult
// P.Traits() without a runtime type switch.
type Endpoint[P ProviderTag] struct {
	transport Transport
	enabled   bool
	capset    CapabilitySet
	epType    EndpointType
	observer  Observer
	opts      optionsMixin
}

// NewEndpoint wraps transport as an Endpoint of the given capability set
// and type. Construction never fails in this binding (a real binding would
// surface fi_endpoint errors here).
func NewEndpoint[P ProviderTag](transport Transport, capset CapabilitySet, epType EndpointType) *Endpoint[P] {
	return &Endpoint[P]{transport: transport, capset: capset, epType: epType, observer: NoOpObserver{}}
}

// SetObserver installs an Observer for per-verb metrics. Pass NoOpObserver{}
// (the default) to disable.
func (e *Endpoint[P]) SetObserver(obs Observer) { e.observer = obs }

// BindCQ binds cq for the given direction(s). Must happen before Enable.
func (e *Endpoint[P]) BindCQ(cq *CompletionQueue, dir EndpointDirection) error {
	if e.enabled {
		return NewError("Endpoint.BindCQ", KindState, "cannot bind after enable")
	}
	return e.transport.BindCQ(cq, dir)
}

// BindAV binds av. Must happen before Enable.
func (e *Endpoint[P]) BindAV(av *AddressVector) error {
	if e.enabled {
		return NewError("Endpoint.BindAV", KindState, "cannot bind after enable")
	}
	return e.transport.BindAV(av)
}

// Enable transitions the endpoint into the operational state. Operations
// before Enable fail with KindState.
func (e *Endpoint[P]) Enable() error {
	if err := e.transport.Enable(); err != nil {
		return err
	}
	e.enabled = true
	return nil
}

func (e *Endpoint[P]) checkEnabled(op string) error {
	if !e.enabled {
		return NewError(op, KindState, "endpoint not enabled")
	}
	return nil
}

// Send posts an untagged send, completing asynchronously via the bound
// transmit CQ's registered receiver.
func (e *Endpoint[P]) Send(buf []byte, dest FabricAddr, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Send"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.Send(buf, dest, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.Send", err)
	}
	return sc, nil
}

// Recv posts an untagged receive buffer.
func (e *Endpoint[P]) Recv(buf []byte, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Recv"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.Recv(buf, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.Recv", err)
	}
	return sc, nil
}

// TaggedSend posts a send matched by tag on the receive side.
func (e *Endpoint[P]) TaggedSend(buf []byte, dest FabricAddr, tag Tag, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.TaggedSend"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.TaggedSend(buf, dest, tag, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.TaggedSend", err)
	}
	return sc, nil
}

// TaggedRecv posts a tagged receive buffer; bits set in ignore are wildcarded
// when matching against an incoming send's tag.
func (e *Endpoint[P]) TaggedRecv(buf []byte, tag Tag, ignore Tag, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.TaggedRecv"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.TaggedRecv(buf, tag, ignore, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.TaggedRecv", err)
	}
	return sc, nil
}

// SendV posts a scatter-gather send by flattening iovecs; loom's transports
// take a single contiguous buffer, so SendV/RecvV copy the iovec contents
// together rather than describing a true multi-segment wire operation.
func (e *Endpoint[P]) SendV(iovecs [][]byte, dest FabricAddr, receiver Receiver) (*SubmissionContext, error) {
	return e.Send(flatten(iovecs), dest, receiver)
}

// RecvV posts a scatter-gather receive; see SendV.
func (e *Endpoint[P]) RecvV(iovecs [][]byte, receiver Receiver) (*SubmissionContext, error) {
	return e.Recv(flatten(iovecs), receiver)
}

func flatten(iovecs [][]byte) []byte {
	n := 0
	for _, v := range iovecs {
		n += len(v)
	}
	out := make([]byte, 0, n)
	for _, v := range iovecs {
		out = append(out, v...)
	}
	return out
}

// Inject is the small-message fast path: it completes synchronously and
// generates no CQ event. Fails with KindMessageTooLong if buf exceeds the
// provider's MaxInjectSize, or KindNotSupported if the provider can't inject.
func (e *Endpoint[P]) Inject(buf []byte, dest FabricAddr) error {
	if err := e.checkEnabled("Endpoint.Inject"); err != nil {
		return err
	}
	var tag P
	traits := tag.Traits()
	if !traits.SupportsInject {
		return NewError("Endpoint.Inject", KindNotSupported, "provider does not support inject")
	}
	if len(buf) > traits.MaxInjectSize {
		return NewError("Endpoint.Inject", KindMessageTooLong, "buffer exceeds max inject size")
	}
	return WrapError("Endpoint.Inject", e.transport.Inject(buf, dest))
}

// CanInject reports whether buf is small enough to use Inject.
func (e *Endpoint[P]) CanInject(buf []byte) bool {
	var tag P
	traits := tag.Traits()
	return traits.SupportsInject && len(buf) <= traits.MaxInjectSize
}

// MaxInjectSize returns the provider's inject threshold.
func (e *Endpoint[P]) MaxInjectSize() int {
	var tag P
	return tag.Traits().MaxInjectSize
}

// SupportsNativeAtomics reports whether atomics route directly to the
// provider rather than through the staged RMA path.
func (e *Endpoint[P]) SupportsNativeAtomics() bool {
	var tag P
	return tag.Traits().SupportsNativeAtomics
}

// ProviderName returns the bound provider's stable short identifier.
func (e *Endpoint[P]) ProviderName() string {
	var tag P
	return tag.Traits().ProviderName()
}

// Read performs an RMA read of remote into buf.
func (e *Endpoint[P]) Read(buf []byte, remote RemoteMemory, dest FabricAddr, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Read"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.Read(buf, remote, dest, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.Read", err)
	}
	return sc, nil
}

// Write performs an RMA write of buf into remote.
func (e *Endpoint[P]) Write(buf []byte, remote RemoteMemory, dest FabricAddr, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Write"); err != nil {
		return nil, err
	}
	sc := NewSubmissionContext(receiver)
	if err := e.transport.Write(buf, remote, dest, sc.Header()); err != nil {
		globalRegistry.Deregister(sc.Header())
		return nil, WrapError("Endpoint.Write", err)
	}
	return sc, nil
}

// Atomic routes op against remote according to the provider's trait table:
// a native-atomic provider calls straight through; a staged provider reads
// the current remote value into a pooled scratch buffer, performs the
// operation locally, and writes the result back via the ordinary RMA path —
// correctness under concurrent staged writers is best-effort, documented as
// a single-writer assumption (see spec's staged-atomic open question).
func (e *Endpoint[P]) Atomic(remote RemoteMemory, dest FabricAddr, op AtomicOp, resultOut []byte, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Atomic"); err != nil {
		return nil, err
	}
	var tag P
	traits := tag.Traits()
	if traits.SupportsNativeAtomics {
		sc := NewSubmissionContext(receiver)
		if err := e.transport.NativeAtomic(remote, dest, op, resultOut, sc.Header()); err != nil {
			globalRegistry.Deregister(sc.Header())
			return nil, WrapError("Endpoint.Atomic", err)
		}
		return sc, nil
	}
	return e.stagedAtomic(remote, dest, op, resultOut, receiver)
}

// stagedAtomic implements the software-emulated atomic path: read-modify-write
// through the normal RMA channel, synchronously from the caller's point of
// view but still producing exactly one terminal receiver call, so callers
// can't tell it apart from a native-atomic completion.
func (e *Endpoint[P]) stagedAtomic(remote RemoteMemory, dest FabricAddr, op AtomicOp, resultOut []byte, receiver Receiver) (*SubmissionContext, error) {
	width := datatypeWidth(op.Datatype)
	scratch := bufpool.Get(width)
	defer bufpool.Put(scratch)

	readRecv := NewChannelReceiver()
	readCtx, err := e.Read(scratch[:width], remote, dest, readRecv)
	if err != nil {
		return nil, err
	}
	_ = readCtx

	// The mock transport posts the read's completion to the endpoint's bound
	// CQ before returning, but readRecv resolves only once something (a
	// running Reactor) drains that CQ and dispatches the event. We block on
	// the channel with no deadline, so this path requires such a drainer.
	ev, recvErr := readRecv.Await(context.Background())
	if recvErr != nil {
		sc := NewSubmissionContext(receiver)
		globalRegistry.Deregister(sc.Header())
		sc.receiver.SetError(recvErr)
		return sc, nil
	}
	_ = ev

	oldVal := cloneBytes(scratch[:width])
	newVal := applyAtomicOp(op, oldVal)

	writeRecv := NewChannelReceiver()
	_, err = e.Write(newVal, remote, dest, writeRecv)
	if err != nil {
		return nil, err
	}
	if _, err := writeRecv.Await(context.Background()); err != nil {
		sc := NewSubmissionContext(receiver)
		globalRegistry.Deregister(sc.Header())
		sc.receiver.SetError(err)
		return sc, nil
	}

	if resultOut != nil {
		copy(resultOut, oldVal)
	}

	sc := NewSubmissionContext(receiver)
	globalRegistry.Deregister(sc.Header())
	sc.receiver.SetValue(Event{Bytes: uint64(width)})
	return sc, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Cancel requests cancellation of the operation under header, or all
// outstanding operations on the endpoint if header is nil. Cancellation is
// advisory: the provider may complete the operation normally first.
func (e *Endpoint[P]) Cancel(header *fi.Header) error {
	return WrapError("Endpoint.Cancel", e.transport.Cancel(header))
}

// Close releases the endpoint's provider handle. It never frees outstanding
// submission contexts directly; the reactor is responsible for draining the
// bound CQ (delivering canceled completions for anything still pending)
// before this returns in a well-behaved caller's shutdown sequence.
func (e *Endpoint[P]) Close() error {
	e.enabled = false
	return nil
}
