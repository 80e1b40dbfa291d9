package loom

import (
	"sync"

	"github.com/sielicki/loom/internal/fi"
)

// MockDomain simulates a single-domain loopback fabric: every MockProvider
// it creates can address every other by the FabricAddr MockDomain hands
// back, the way a real domain's endpoints all share one AV-addressable
// namespace. Useful for deterministic tests without a live provider.
type MockDomain struct {
	mu        sync.Mutex
	endpoints map[FabricAddr]*MockProvider
	next      uint64
}

// NewMockDomain creates an empty simulated domain.
func NewMockDomain() *MockDomain {
	return &MockDomain{endpoints: make(map[FabricAddr]*MockProvider)}
}

// NewEndpoint creates a MockProvider bound to this domain and assigns it a
// stable FabricAddr other endpoints can target.
func (d *MockDomain) NewEndpoint() *MockProvider {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	addr := FabricAddr(d.next)
	p := &MockProvider{domain: d, self: addr, outstanding: make(map[*fi.Header]*pendingEntry)}
	d.endpoints[addr] = p
	return p
}

func (d *MockDomain) lookup(addr FabricAddr) *MockProvider {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpoints[addr]
}

type pendingMessage struct {
	buf    []byte
	header *fi.Header // nil for an already-synchronously-completed inject
	tag    Tag
	tagged bool
	srcCQ  *CompletionQueue
}

type pendingRecv struct {
	buf    []byte
	header *fi.Header
	tag    Tag
	ignore Tag
	tagged bool
}

type pendingEntry struct {
	isRecv  bool
	recv    *pendingRecv
	send    *pendingMessage
	aborted bool
}

// MockProvider implements Transport as a simple in-process loopback: sends
// addressed at another MockProvider in the same MockDomain are matched
// against that peer's posted receives (FIFO for untagged, ignore-mask
// matching for tagged), generating completions on both sides' bound CQs.
// RMA and atomics operate directly on the target's registered
// MemoryRegion, recovered from RemoteMemory via a process-wide key
// directory. Call-count tracking mirrors the teacher's MockBackend so
// tests can assert exactly what was invoked.
type MockProvider struct {
	domain *MockDomain
	self   FabricAddr

	mu            sync.Mutex
	txCQ, rxCQ    *CompletionQueue
	av            *AddressVector
	enabled       bool
	pendingRecv        []*pendingEntry
	pendingTagged      []*pendingEntry
	pendingSends       []*pendingEntry
	pendingSendsTagged []*pendingEntry
	outstanding        map[*fi.Header]*pendingEntry

	SendCalls, RecvCalls, ReadCalls, WriteCalls, AtomicCalls, InjectCalls, CancelCalls int
}

// Address returns this provider's FabricAddr within its domain.
func (p *MockProvider) Address() FabricAddr { return p.self }

func (p *MockProvider) BindCQ(cq *CompletionQueue, dir EndpointDirection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dir&DirTransmit != 0 {
		p.txCQ = cq
	}
	if dir&DirReceive != 0 {
		p.rxCQ = cq
	}
	return nil
}

func (p *MockProvider) BindAV(av *AddressVector) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.av = av
	return nil
}

func (p *MockProvider) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
	return nil
}

func (p *MockProvider) Send(buf []byte, dest FabricAddr, header *fi.Header) error {
	p.mu.Lock()
	p.SendCalls++
	p.mu.Unlock()
	return p.send(buf, dest, 0, false, header)
}

func (p *MockProvider) TaggedSend(buf []byte, dest FabricAddr, tag Tag, header *fi.Header) error {
	p.mu.Lock()
	p.SendCalls++
	p.mu.Unlock()
	return p.send(buf, dest, tag, true, header)
}

func (p *MockProvider) Inject(buf []byte, dest FabricAddr) error {
	p.mu.Lock()
	p.InjectCalls++
	p.mu.Unlock()
	return p.send(buf, dest, 0, false, nil)
}

func (p *MockProvider) send(buf []byte, dest FabricAddr, tag Tag, tagged bool, header *fi.Header) error {
	peer := p.domain.lookup(dest)
	if peer == nil {
		return NewError("MockProvider.Send", KindAddressNotAvailable, "unknown destination address")
	}

	entry := &pendingEntry{send: &pendingMessage{buf: buf, header: header, tag: tag, tagged: tagged, srcCQ: p.txCQ}}
	if header != nil {
		p.mu.Lock()
		p.outstanding[header] = entry
		p.mu.Unlock()
	}

	matched := peer.matchSend(entry)
	if matched && header != nil {
		p.mu.Lock()
		delete(p.outstanding, header)
		p.mu.Unlock()
	}
	return nil
}

// matchSend tries to satisfy entry (a pending send) against peer's posted
// receives; if none match yet, it queues entry for a later Recv/TaggedRecv
// to consume.
func (peer *MockProvider) matchSend(entry *pendingEntry) bool {
	peer.mu.Lock()
	defer peer.mu.Unlock()

	msg := entry.send
	var queue *[]*pendingEntry
	if msg.tagged {
		queue = &peer.pendingTagged
	} else {
		queue = &peer.pendingRecv
	}

	for i, re := range *queue {
		if re.aborted {
			continue
		}
		if msg.tagged {
			if (re.recv.tag &^ re.recv.ignore) != (msg.tag &^ re.recv.ignore) {
				continue
			}
		}
		*queue = append((*queue)[:i], (*queue)[i+1:]...)
		n := copy(re.recv.buf, msg.buf)
		peer.completeRecv(re, uint64(n), msg.tag)
		peer.completeSend(msg, uint64(n))
		if re.recv.header != nil {
			delete(peer.outstanding, re.recv.header)
		}
		return true
	}

	// No matching receive posted yet: queue the send for a later Recv call.
	pendingSends := peer.pendingSendsFor(msg.tagged)
	*pendingSends = append(*pendingSends, entry)
	return false
}

func (peer *MockProvider) pendingSendsFor(tagged bool) *[]*pendingEntry {
	// Unmatched sends wait in their own queues on the receiving peer,
	// separate from its posted-receive queues, split by tagged vs untagged.
	if tagged {
		return &peer.pendingSendsTagged
	}
	return &peer.pendingSends
}

func (p *MockProvider) completeSend(msg *pendingMessage, n uint64) {
	if msg.srcCQ == nil || msg.header == nil {
		return
	}
	msg.srcCQ.Push(Event{Header: msg.header, Bytes: n, Tag: msg.tag})
}

func (p *MockProvider) completeRecv(re *pendingEntry, n uint64, tag Tag) {
	if p.rxCQ == nil || re.recv.header == nil {
		return
	}
	p.rxCQ.Push(Event{Header: re.recv.header, Bytes: n, Tag: tag})
}

func (p *MockProvider) Recv(buf []byte, header *fi.Header) error {
	p.mu.Lock()
	p.RecvCalls++
	p.mu.Unlock()
	return p.recv(buf, 0, 0, false, header)
}

func (p *MockProvider) TaggedRecv(buf []byte, tag Tag, ignore Tag, header *fi.Header) error {
	p.mu.Lock()
	p.RecvCalls++
	p.mu.Unlock()
	return p.recv(buf, tag, ignore, true, header)
}

func (p *MockProvider) recv(buf []byte, tag Tag, ignore Tag, tagged bool, header *fi.Header) error {
	p.mu.Lock()

	entry := &pendingEntry{isRecv: true, recv: &pendingRecv{buf: buf, header: header, tag: tag, ignore: ignore, tagged: tagged}}
	if header != nil {
		p.outstanding[header] = entry
	}

	sends := p.pendingSendsFor(tagged)
	for i, se := range *sends {
		if se.aborted {
			continue
		}
		if tagged && (tag&^ignore) != (se.send.tag&^ignore) {
			continue
		}
		*sends = append((*sends)[:i], (*sends)[i+1:]...)
		n := copy(buf, se.send.buf)
		p.mu.Unlock()
		p.completeRecv(entry, uint64(n), se.send.tag)
		p.completeSend(se.send, uint64(n))
		p.mu.Lock()
		if header != nil {
			delete(p.outstanding, header)
		}
		p.mu.Unlock()
		return nil
	}

	queue := &p.pendingRecv
	if tagged {
		queue = &p.pendingTagged
	}
	*queue = append(*queue, entry)
	p.mu.Unlock()
	return nil
}

func (p *MockProvider) Read(buf []byte, remote RemoteMemory, dest FabricAddr, header *fi.Header) error {
	p.mu.Lock()
	p.ReadCalls++
	p.mu.Unlock()
	mr, ok := remoteMRRegistry.lookup(remote.Key)
	if !ok {
		return NewError("MockProvider.Read", KindInvalidArgument, "unknown remote key")
	}
	n := copy(buf, mr.Bytes()[remote.Addr:])
	if p.rxCQ != nil && header != nil {
		p.rxCQ.Push(Event{Header: header, Bytes: uint64(n)})
	}
	return nil
}

func (p *MockProvider) Write(buf []byte, remote RemoteMemory, dest FabricAddr, header *fi.Header) error {
	p.mu.Lock()
	p.WriteCalls++
	p.mu.Unlock()
	mr, ok := remoteMRRegistry.lookup(remote.Key)
	if !ok {
		return NewError("MockProvider.Write", KindInvalidArgument, "unknown remote key")
	}
	n := copy(mr.Bytes()[remote.Addr:], buf)
	if p.txCQ != nil && header != nil {
		p.txCQ.Push(Event{Header: header, Bytes: uint64(n)})
	}
	return nil
}

func (p *MockProvider) NativeAtomic(remote RemoteMemory, dest FabricAddr, op AtomicOp, result []byte, header *fi.Header) error {
	p.mu.Lock()
	p.AtomicCalls++
	p.mu.Unlock()
	mr, ok := remoteMRRegistry.lookup(remote.Key)
	if !ok {
		return NewError("MockProvider.NativeAtomic", KindInvalidArgument, "unknown remote key")
	}
	width := datatypeWidth(op.Datatype)
	region := mr.Bytes()[remote.Addr : int(remote.Addr)+width]
	old := cloneBytes(region)
	newVal := applyAtomicOp(op, old)
	copy(region, newVal)
	if result != nil {
		copy(result, old)
	}
	if p.txCQ != nil && header != nil {
		p.txCQ.Push(Event{Header: header, Bytes: uint64(width)})
	}
	return nil
}

// Cancel marks the operation registered under header as aborted and
// delivers a canceled completion. A nil header cancels every outstanding
// operation on this endpoint. Cancellation is advisory: if the operation
// already matched (removed from outstanding) before Cancel runs, Cancel is
// a no-op and the normal completion wins the race.
func (p *MockProvider) Cancel(header *fi.Header) error {
	p.mu.Lock()
	p.CancelCalls++
	defer p.mu.Unlock()

	if header == nil {
		for h, e := range p.outstanding {
			p.cancelEntryLocked(e)
			delete(p.outstanding, h)
		}
		return nil
	}

	e, ok := p.outstanding[header]
	if !ok {
		return nil // already completed or already canceled
	}
	p.cancelEntryLocked(e)
	delete(p.outstanding, header)
	return nil
}

func (p *MockProvider) cancelEntryLocked(e *pendingEntry) {
	if e.aborted {
		return
	}
	e.aborted = true
	if e.recv != nil && e.recv.header != nil && p.rxCQ != nil {
		p.rxCQ.Push(Event{Header: e.recv.header, Err: ErrCanceled})
	}
	if e.send != nil && e.send.header != nil && p.txCQ != nil {
		p.txCQ.Push(Event{Header: e.send.header, Err: ErrCanceled})
	}
}

var _ Transport = (*MockProvider)(nil)

// remoteMRRegistry lets MockProvider.Read/Write/NativeAtomic resolve a
// RemoteMemory's Key back to the MemoryRegion it names without a real
// provider's hardware key table. Process-global, mirroring how the mock
// domain itself is a process-wide simulation stand-in.
var remoteMRRegistry = newMRKeyRegistry()

type mrKeyRegistry struct {
	mu   sync.Mutex
	byKey map[Key]*MemoryRegion
	next  uint64
}

func newMRKeyRegistry() *mrKeyRegistry {
	return &mrKeyRegistry{byKey: make(map[Key]*MemoryRegion)}
}

// RegisterMockMemory creates a MemoryRegion over buf under a freshly minted
// key, registers it for remote lookup and returns both,
// standing in for a real provider's fi_mr_reg allocating a remote key.
func RegisterMockMemory(buf []byte, access AccessFlags) (*MemoryRegion, Key, error) {
	remoteMRRegistry.mu.Lock()
	remoteMRRegistry.next++
	key := Key(remoteMRRegistry.next)
	remoteMRRegistry.mu.Unlock()

	mr, err := NewMemoryRegion(buf, access, key)
	if err != nil {
		return nil, 0, err
	}
	remoteMRRegistry.mu.Lock()
	remoteMRRegistry.byKey[key] = mr
	remoteMRRegistry.mu.Unlock()
	return mr, key, nil
}

func (r *mrKeyRegistry) lookup(key Key) (*MemoryRegion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mr, ok := r.byKey[key]
	return mr, ok
}
