package loom

import (
	"sync"

	"github.com/sielicki/loom/internal/fi"
)

// CounterHandle identifies a fabric counter a triggered operation conditions
// on.
type CounterHandle uint64

// Counter is a simple monotonically-increasing completion counter, the
// mock-provider stand-in for a real fi_cntr. Triggered work polls it (via
// Domain's trigger dispatcher) to decide when a threshold condition is met.
type Counter struct {
	mu    sync.Mutex
	value uint64
}

// NewCounter creates a zeroed counter.
func NewCounter() *Counter { return &Counter{} }

// Add increments the counter by delta.
func (c *Counter) Add(delta uint64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

// Set assigns the counter's value directly.
func (c *Counter) Set(v uint64) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
}

// Value reads the counter's current value.
func (c *Counter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// ThresholdCondition predicates a deferred operation on a counter reaching
// a value.
type ThresholdCondition struct {
	Counter   *Counter
	Threshold uint64
}

// Met reports whether the condition currently holds.
func (c ThresholdCondition) Met() bool {
	if c.Counter == nil {
		return true
	}
	return c.Counter.Value() >= c.Threshold
}

// OpDescriptor is the work a DeferredWork item performs once its condition
// is met: one of {send, recv, tagged send/recv, read, write, atomic,
// fetch_atomic, compare_atomic, counter set/add}. Only the fields relevant
// to Op are meaningful, mirroring the C union the original models this on.
type OpDescriptor struct {
	Op       int // internal/fi Op* constant
	Buf      []byte
	Dest     FabricAddr
	Tag      Tag
	Ignore   Tag
	Remote   RemoteMemory
	Atomic   AtomicOp
	Receiver Receiver
	Counter  *Counter // target for fi.OpCntrSet / fi.OpCntrAdd
	Value    uint64   // operand for fi.OpCntrSet / fi.OpCntrAdd
}

// DeferredWork bundles a threshold condition with the operation to run once
// it's satisfied. Remains valid until the condition is met (generating a
// normal completion through the owning endpoint's transport) or the caller
// drops it by never calling Domain.QueueTriggered.
type DeferredWork struct {
	Condition ThresholdCondition
	Op        OpDescriptor
}

// triggeredWork is the domain-side bookkeeping entry for one queued
// DeferredWork item, tracking the endpoint it fires against.
type triggeredWork struct {
	work     DeferredWork
	endpoint triggerable
}

// triggerable is satisfied by Endpoint[P] for any provider tag, letting
// Domain.QueueTriggered stay non-generic while still firing the right
// underlying verb.
type triggerable interface {
	fireTriggered(op OpDescriptor) error
}

// QueueTriggered enqueues work against ep, to run once work.Condition is
// met. Nothing fires queued work on its own: the caller invokes
// d.DrainTriggered, which checks pending conditions and fires ready
// operations.
func (d *Domain) QueueTriggered(ep triggerable, work DeferredWork) {
	d.mu.Lock()
	d.triggered = append(d.triggered, triggeredWork{work: work, endpoint: ep})
	d.mu.Unlock()
}

// DrainTriggered fires every queued triggered operation whose condition now
// holds, removing them from the pending set. Returns the number fired.
func (d *Domain) DrainTriggered() int {
	d.mu.Lock()
	remaining := d.triggered[:0]
	var ready []triggeredWork
	for _, tw := range d.triggered {
		if tw.work.Condition.Met() {
			ready = append(ready, tw)
		} else {
			remaining = append(remaining, tw)
		}
	}
	d.triggered = remaining
	d.mu.Unlock()

	for _, tw := range ready {
		_ = tw.endpoint.fireTriggered(tw.work.Op)
	}
	return len(ready)
}

// fireTriggered dispatches op against e through the normal verb surface, so
// a fired triggered operation completes exactly like any other submission.
func (e *Endpoint[P]) fireTriggered(op OpDescriptor) error {
	var err error
	switch op.Op {
	case fi.OpSend:
		_, err = e.Send(op.Buf, op.Dest, op.Receiver)
	case fi.OpRecv:
		_, err = e.Recv(op.Buf, op.Receiver)
	case fi.OpTSend:
		_, err = e.TaggedSend(op.Buf, op.Dest, op.Tag, op.Receiver)
	case fi.OpTRecv:
		_, err = e.TaggedRecv(op.Buf, op.Tag, op.Ignore, op.Receiver)
	case fi.OpRead:
		_, err = e.Read(op.Buf, op.Remote, op.Dest, op.Receiver)
	case fi.OpWrite:
		_, err = e.Write(op.Buf, op.Remote, op.Dest, op.Receiver)
	case fi.OpAtomic, fi.OpFetchAtomic, fi.OpCompareAtomic:
		_, err = e.Atomic(op.Remote, op.Dest, op.Atomic, op.Buf, op.Receiver)
	case fi.OpCntrSet:
		if op.Counter == nil {
			err = NewError("Endpoint.fireTriggered", KindInvalidArgument, "counter set requires a target counter")
		} else {
			op.Counter.Set(op.Value)
		}
	case fi.OpCntrAdd:
		if op.Counter == nil {
			err = NewError("Endpoint.fireTriggered", KindInvalidArgument, "counter add requires a target counter")
		} else {
			op.Counter.Add(op.Value)
		}
	default:
		err = NewError("Endpoint.fireTriggered", KindNotSupported, "unknown triggered op")
	}
	return err
}
