package loom

// ProviderTraits is the compile-time-shaped capability table for one
// provider (verbs, efa, slingshot/CXI, shm, tcp, ucx). Every field here
// mirrors a question a generic helper (the MR cache, the atomic router,
// the endpoint's inject fast path) must answer before it can pick a code
// path — see ProviderTag.Traits().
type ProviderTraits struct {
	Name                   string
	SupportsNativeAtomics  bool
	UsesStagedAtomics      bool
	SupportsInject         bool
	MaxInjectSize          int
	DefaultControlProgress ProgressMode
	DefaultDataProgress    ProgressMode
	RequiresLocalKey       bool
	PageSizeBytes          int
}

// AlignDown rounds x down to the provider's page size.
func (t ProviderTraits) AlignDown(x uintptr) uintptr {
	p := uintptr(t.PageSizeBytes)
	return x &^ (p - 1)
}

// AlignUp rounds x up to the provider's page size.
func (t ProviderTraits) AlignUp(x uintptr) uintptr {
	p := uintptr(t.PageSizeBytes)
	return (x + p - 1) &^ (p - 1)
}

// AlignedLength returns the page-aligned length covering [base, base+length).
func (t ProviderTraits) AlignedLength(base uintptr, length uintptr) uintptr {
	end := t.AlignUp(base + length)
	start := t.AlignDown(base)
	return end - start
}

// ComputeRemoteAddr applies the provider's remote-addressing convention.
// Providers that require a local key (verbs, cxi) address absolutely and
// add offset to base; the rest (e.g. efa, shm) are offset-keyed and return
// the raw offset.
func (t ProviderTraits) ComputeRemoteAddr(base RemoteAddr, offset uint64) RemoteAddr {
	if t.RequiresLocalKey {
		// verbs-family: remote addressing is absolute virtual address.
		return base + RemoteAddr(offset)
	}
	// offset-keyed providers (efa, shm): address is relative to the MR key.
	return RemoteAddr(offset)
}

// ProviderName returns the trait table's stable short identifier.
func (t ProviderTraits) ProviderName() string { return t.Name }

// ProviderTag is the type-parameter marker every generic, provider-aware
// component (Endpoint[P], the MR cache, the atomic router) takes, mirroring
// the C++ original's template<provider_tag Provider> dispatch with Go's
// generic instantiation instead of compile-time template specialization.
type ProviderTag interface {
	Traits() ProviderTraits
}

// VerbsTag identifies the InfiniBand/RoCE verbs provider.
type VerbsTag struct{}

func (VerbsTag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "verbs",
		SupportsNativeAtomics:  true,
		UsesStagedAtomics:      false,
		SupportsInject:         true,
		MaxInjectSize:          236,
		DefaultControlProgress: ProgressAuto,
		DefaultDataProgress:    ProgressAuto,
		RequiresLocalKey:       true,
		PageSizeBytes:          4096,
	}
}

// EFATag identifies AWS Elastic Fabric Adapter.
type EFATag struct{}

func (EFATag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "efa",
		SupportsNativeAtomics:  false,
		UsesStagedAtomics:      true,
		SupportsInject:         true,
		MaxInjectSize:          968,
		DefaultControlProgress: ProgressManual,
		DefaultDataProgress:    ProgressManual,
		RequiresLocalKey:       false,
		PageSizeBytes:          4096,
	}
}

// SlingshotTag identifies HPE Slingshot / Cray CXI.
type SlingshotTag struct{}

func (SlingshotTag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "cxi",
		SupportsNativeAtomics:  true,
		UsesStagedAtomics:      false,
		SupportsInject:         true,
		MaxInjectSize:          192,
		DefaultControlProgress: ProgressAuto,
		DefaultDataProgress:    ProgressAuto,
		RequiresLocalKey:       true,
		PageSizeBytes:          4096,
	}
}

// SHMTag identifies the intra-node shared-memory provider.
type SHMTag struct{}

func (SHMTag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "shm",
		SupportsNativeAtomics:  true,
		UsesStagedAtomics:      false,
		SupportsInject:         true,
		MaxInjectSize:          4096,
		DefaultControlProgress: ProgressManual,
		DefaultDataProgress:    ProgressManual,
		RequiresLocalKey:       false,
		PageSizeBytes:          4096,
	}
}

// TCPTag identifies the TCP/sockets provider.
type TCPTag struct{}

func (TCPTag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "tcp",
		SupportsNativeAtomics:  false,
		UsesStagedAtomics:      true,
		SupportsInject:         false,
		MaxInjectSize:          0,
		DefaultControlProgress: ProgressManual,
		DefaultDataProgress:    ProgressManual,
		RequiresLocalKey:       false,
		PageSizeBytes:          4096,
	}
}

// UCXTag identifies the UCX provider.
type UCXTag struct{}

func (UCXTag) Traits() ProviderTraits {
	return ProviderTraits{
		Name:                   "ucx",
		SupportsNativeAtomics:  true,
		UsesStagedAtomics:      false,
		SupportsInject:         true,
		MaxInjectSize:          2048,
		DefaultControlProgress: ProgressAuto,
		DefaultDataProgress:    ProgressAuto,
		RequiresLocalKey:       false,
		PageSizeBytes:          4096,
	}
}
