package loom

import "fmt"

// FabricVersion is a brand wrapper over the libfabric ABI version (u32 major/minor pair).
type FabricVersion uint32

// MakeFabricVersion packs major.minor into a FabricVersion the way FI_VERSION does.
func MakeFabricVersion(major, minor uint16) FabricVersion {
	return FabricVersion(uint32(major)<<16 | uint32(minor))
}

func (v FabricVersion) Major() uint16 { return uint16(v >> 16) }
func (v FabricVersion) Minor() uint16 { return uint16(v) }

func (v FabricVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// CapabilitySet is a u64 bitflag set of fi_info capability bits.
type CapabilitySet uint64

const (
	CapMsg CapabilitySet = 1 << iota
	CapTagged
	CapRMA
	CapAtomic
	CapCollective
	CapRDM
	CapMsgEP
	CapDgram
	CapMultiRecv
	CapRemoteRead
	CapRemoteWrite
	CapTriggered
)

func (c CapabilitySet) Union(o CapabilitySet) CapabilitySet     { return c | o }
func (c CapabilitySet) Intersect(o CapabilitySet) CapabilitySet { return c & o }
func (c CapabilitySet) Difference(o CapabilitySet) CapabilitySet { return c &^ o }
func (c CapabilitySet) Has(o CapabilitySet) bool                { return c&o == o }
func (c CapabilitySet) HasAny(o CapabilitySet) bool             { return c&o != 0 }

// AccessFlags is a u64 bitflag set of local/remote MR access rights.
type AccessFlags uint64

const (
	AccessLocalRead AccessFlags = 1 << iota
	AccessLocalWrite
	AccessRemoteRead
	AccessRemoteWrite
	AccessRemoteAtomic
)

func (a AccessFlags) Union(o AccessFlags) AccessFlags      { return a | o }
func (a AccessFlags) Intersect(o AccessFlags) AccessFlags   { return a & o }
func (a AccessFlags) Difference(o AccessFlags) AccessFlags  { return a &^ o }
func (a AccessFlags) Has(o AccessFlags) bool                { return a&o == o }
func (a AccessFlags) HasAny(o AccessFlags) bool             { return a&o != 0 }

// ThreadingMode mirrors fi_threading.
type ThreadingMode int

const (
	ThreadingUnspec ThreadingMode = iota
	ThreadingDomain
	ThreadingCompletion
	ThreadingSafe
)

func (t ThreadingMode) String() string {
	switch t {
	case ThreadingDomain:
		return "domain"
	case ThreadingCompletion:
		return "completion"
	case ThreadingSafe:
		return "safe"
	default:
		return "unspec"
	}
}

// ProgressMode mirrors fi_progress.
type ProgressMode int

const (
	ProgressUnspec ProgressMode = iota
	ProgressAuto
	ProgressManual
)

func (p ProgressMode) String() string {
	switch p {
	case ProgressAuto:
		return "auto"
	case ProgressManual:
		return "manual"
	default:
		return "unspec"
	}
}

// FabricAddr is an opaque fi_addr_t. AddrUnspecified is the all-ones sentinel.
type FabricAddr uint64

const AddrUnspecified FabricAddr = ^FabricAddr(0)

func (a FabricAddr) IsUnspecified() bool { return a == AddrUnspecified }

// Tag is a message-matching tag for tagged send/recv.
type Tag uint64

// Key is a memory-region remote access key.
type Key uint64

// RemoteAddr is a remote virtual or offset-relative address, provider-dependent.
type RemoteAddr uint64

// QueueSize is a capacity hint for CQ/EQ/AV creation.
type QueueSize uint
