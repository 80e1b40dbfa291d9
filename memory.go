package loom

import (
	"sync"
)

// DeviceInterface tags a device-memory registration's owning API.
type DeviceInterface int

const (
	DeviceInterfaceNone DeviceInterface = iota
	DeviceInterfaceCUDA
	DeviceInterfaceROCm
	DeviceInterfaceLevelZero
	DeviceInterfaceNeuron
	DeviceInterfaceSynapseAI
)

// DeviceDescriptor tags a MemoryRegion as backed by device rather than host
// memory. Present in the type surface for API completeness; the mock
// provider used in tests is host-memory only.
type DeviceDescriptor struct {
	Interface  DeviceInterface
	DeviceID   int
	DriverData []byte
	DMABufFD   int
	DMABufOff  int64
}

// MemoryRegion owns a pinned byte range registered with a domain and,
// optionally, additional endpoints for providers that require a
// per-endpoint local key.
type MemoryRegion struct {
	buf      []byte
	access   AccessFlags
	key      Key
	device   *DeviceDescriptor
	refcount int
	mu       sync.Mutex
}

// NewMemoryRegion registers buf under access. Fails if access is empty.
func NewMemoryRegion(buf []byte, access AccessFlags, key Key) (*MemoryRegion, error) {
	if access == 0 {
		return nil, NewError("MemoryRegion.Register", KindInvalidArgument, "access flag set is empty")
	}
	return &MemoryRegion{buf: buf, access: access, key: key}, nil
}

// NewDeviceMemoryRegion registers device-backed memory (GPU, dma-buf) under
// access, carrying desc for provider-specific re-pinning.
func NewDeviceMemoryRegion(buf []byte, access AccessFlags, key Key, desc DeviceDescriptor) (*MemoryRegion, error) {
	mr, err := NewMemoryRegion(buf, access, key)
	if err != nil {
		return nil, err
	}
	mr.device = &desc
	return mr, nil
}

// Descriptor returns an opaque provider descriptor. The mock provider
// type-asserts this back to *MemoryRegion; a real provider binding would
// return its own handle type.
func (mr *MemoryRegion) Descriptor() any { return mr }

// Key returns the remote-access key for this region.
func (mr *MemoryRegion) Key() Key { return mr.key }

// Access returns the region's access rights.
func (mr *MemoryRegion) Access() AccessFlags { return mr.access }

// Bytes returns the registered region's backing slice.
func (mr *MemoryRegion) Bytes() []byte { return mr.buf }

// Device returns the region's device descriptor, or nil for host memory.
func (mr *MemoryRegion) Device() *DeviceDescriptor { return mr.device }

// Refresh revalidates the region after a page-table change (e.g. after
// madvise or a device memory migration). The mock provider is a no-op here;
// real bindings would re-pin with the provider.
func (mr *MemoryRegion) Refresh() error { return nil }

func (mr *MemoryRegion) acquire() {
	mr.mu.Lock()
	mr.refcount++
	mr.mu.Unlock()
}

func (mr *MemoryRegion) release() {
	mr.mu.Lock()
	mr.refcount--
	mr.mu.Unlock()
}

func (mr *MemoryRegion) refs() int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.refcount
}

// RemoteMemory is the {addr, key, length} triple a peer uses to target RMA
// and remote-atomic operations.
type RemoteMemory struct {
	Addr   RemoteAddr
	Key    Key
	Length uint64
}

// FromMR builds a RemoteMemory descriptor for publishing mr to peers.
func FromMR(mr *MemoryRegion, addr RemoteAddr) RemoteMemory {
	return RemoteMemory{Addr: addr, Key: mr.Key(), Length: uint64(len(mr.Bytes()))}
}

// OffsetBy returns a RemoteMemory shifted by n bytes, shrinking Length.
func (r RemoteMemory) OffsetBy(n uint64) RemoteMemory {
	return RemoteMemory{Addr: r.Addr + RemoteAddr(n), Key: r.Key, Length: r.Length - n}
}

// Subregion returns the [off, off+length) window of r.
func (r RemoteMemory) Subregion(off, length uint64) RemoteMemory {
	return RemoteMemory{Addr: r.Addr + RemoteAddr(off), Key: r.Key, Length: length}
}

// Contains reports whether [off, off+length) lies within r.
func (r RemoteMemory) Contains(off, length uint64) bool {
	return off+length <= r.Length
}

// EffectiveAddrAt applies P's remote-addressing convention to offset,
// following the provider-aware addressing rule in ProviderTraits.
func EffectiveAddrAt[P ProviderTag](r RemoteMemory, offset uint64) RemoteAddr {
	var tag P
	return tag.Traits().ComputeRemoteAddr(r.Addr, offset)
}

// RegisteredBuffer is a stably-identified slice of a buffer-registration
// group, carrying a back-pointer to its owning MR.
type RegisteredBuffer struct {
	ID  uint64
	buf []byte
	MR  *MemoryRegion
}

// Bytes returns the buffer's contents.
func (b RegisteredBuffer) Bytes() []byte { return b.buf }

// Slice returns the [off, off+n) window of b, preserving ID and MR.
func (b RegisteredBuffer) Slice(off, n int) RegisteredBuffer {
	return RegisteredBuffer{ID: b.ID, buf: b.buf[off : off+n], MR: b.MR}
}

// Buffer truncates/extends b to n bytes from its start, preserving ID and MR.
func Buffer(b RegisteredBuffer, n int) RegisteredBuffer {
	return b.Slice(0, n)
}

// BufferRegistration groups a sequence of mutable buffers, registering each
// with a domain and handing back densely-numbered RegisteredBuffer views.
type BufferRegistration struct {
	buffers []RegisteredBuffer
}

// NewBufferRegistration registers each of bufs under access, assigning
// sequential IDs starting at 0.
func NewBufferRegistration(bufs [][]byte, access AccessFlags, keyFor func(i int) Key) (*BufferRegistration, error) {
	br := &BufferRegistration{buffers: make([]RegisteredBuffer, 0, len(bufs))}
	for i, buf := range bufs {
		mr, err := NewMemoryRegion(buf, access, keyFor(i))
		if err != nil {
			return nil, err
		}
		br.buffers = append(br.buffers, RegisteredBuffer{ID: uint64(i), buf: buf, MR: mr})
	}
	return br, nil
}

// Buffers returns the registered buffer views in registration order.
func (br *BufferRegistration) Buffers() []RegisteredBuffer { return br.buffers }

// mrCacheKey identifies a cached, page-aligned registration.
type mrCacheKey struct {
	base   uintptr
	length uintptr
	access AccessFlags
}

type mrCacheEntry struct {
	mr   *MemoryRegion
	prev *mrCacheEntry
	next *mrCacheEntry
}

// MRCache is an LRU-evictable cache of aligned memory registrations,
// parameterized by provider so alignment follows that provider's page size.
type MRCache[P ProviderTag] struct {
	mu          sync.Mutex
	entries     map[mrCacheKey]*mrCacheEntry
	head, tail  *mrCacheEntry // head = most-recently-used
	highWater   int
	registerFn  func(base uintptr, length uintptr, access AccessFlags) (*MemoryRegion, error)
}

// NewMRCache creates a cache with the given high-water mark (max resident
// entries before LRU eviction is attempted) and a registration callback
// (the mock provider supplies this in tests; a real binding would call
// into fi_mr_reg).
func NewMRCache[P ProviderTag](highWater int, registerFn func(base, length uintptr, access AccessFlags) (*MemoryRegion, error)) *MRCache[P] {
	return &MRCache[P]{
		entries:    make(map[mrCacheKey]*mrCacheEntry),
		highWater:  highWater,
		registerFn: registerFn,
	}
}

// Acquire returns the MR covering [base, base+length) under access,
// page-aligning the range to P's page size. A cache hit returns the shared
// MR with its refcount incremented; a miss registers a new one.
func (c *MRCache[P]) Acquire(base, length uintptr, access AccessFlags) (*MemoryRegion, error) {
	var tag P
	traits := tag.Traits()
	alignedBase := traits.AlignDown(base)
	alignedLen := traits.AlignedLength(base, length)
	key := mrCacheKey{base: alignedBase, length: alignedLen, access: access}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.mr.acquire()
		c.moveToFront(e)
		return e.mr, nil
	}

	mr, err := c.registerFn(alignedBase, alignedLen, access)
	if err != nil {
		return nil, err
	}
	mr.acquire()
	e := &mrCacheEntry{mr: mr}
	c.entries[key] = e
	c.pushFront(e)
	c.evictIfNeeded()
	return mr, nil
}

// Release drops one reference on the MR covering [base, base+length).
func (c *MRCache[P]) Release(base, length uintptr, access AccessFlags) {
	var tag P
	traits := tag.Traits()
	key := mrCacheKey{base: traits.AlignDown(base), length: traits.AlignedLength(base, length), access: access}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.mr.release()
	}
}

// EvictOne attempts to evict the least-recently-used entry with zero
// refcount. Returns false if no evictable entry exists (e.g. the LRU entry
// still has active references).
func (c *MRCache[P]) EvictOne() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.tail; e != nil; e = e.prev {
		if e.mr.refs() == 0 {
			c.unlink(e)
			for k, v := range c.entries {
				if v == e {
					delete(c.entries, k)
					break
				}
			}
			return true
		}
	}
	return false
}

// Len reports the number of resident cache entries.
func (c *MRCache[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MRCache[P]) evictIfNeeded() {
	for len(c.entries) > c.highWater {
		evicted := false
		for e := c.tail; e != nil; e = e.prev {
			if e.mr.refs() == 0 {
				c.unlink(e)
				for k, v := range c.entries {
					if v == e {
						delete(c.entries, k)
						break
					}
				}
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (c *MRCache[P]) pushFront(e *mrCacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MRCache[P]) unlink(e *mrCacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *MRCache[P]) moveToFront(e *mrCacheEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}
