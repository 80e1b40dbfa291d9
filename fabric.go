package loom

import "sync"

// FabricInfo captures a provider-selected configuration: capabilities,
// endpoint type, addresses, protocol limits. Built via Hints and resolved
// by QueryFabric.
type FabricInfo struct {
	Capabilities CapabilitySet
	EndpointType EndpointType
	SourceAddr   Address
	DestAddr     Address
	ProviderName string
}

// Hints composes a typed capability query: the bitwise union of required
// flags plus one endpoint type, the one set by the last WithEndpointType
// call (EndpointTypeMsg if none). Endpoint types are not ranked by
// specificity.
type Hints struct {
	caps   CapabilitySet
	epType EndpointType
	src    Address
	dst    Address
}

// NewHints starts an empty capability query.
func NewHints() *Hints {
	return &Hints{epType: EndpointTypeMsg}
}

// WithCapabilities unions caps into the query.
func (h *Hints) WithCapabilities(caps CapabilitySet) *Hints {
	h.caps = h.caps.Union(caps)
	return h
}

// WithEndpointType pins the endpoint type; the last call wins, whichever
// type it names.
func (h *Hints) WithEndpointType(t EndpointType) *Hints {
	h.epType = t
	return h
}

// WithSourceAddr sets the local address hint.
func (h *Hints) WithSourceAddr(a Address) *Hints {
	h.src = a
	return h
}

// WithDestAddr sets the remote address hint.
func (h *Hints) WithDestAddr(a Address) *Hints {
	h.dst = a
	return h
}

// QueryFabric enumerates compatible providers for hints. This binding's
// query always resolves against the in-process mock provider; a real
// binding would call fi_getinfo here.
func QueryFabric(hints *Hints, providerName string) (FabricInfo, error) {
	if hints == nil {
		return FabricInfo{}, NewError("QueryFabric", KindInvalidArgument, "nil hints")
	}
	return FabricInfo{
		Capabilities: hints.caps,
		EndpointType: hints.epType,
		SourceAddr:   hints.src,
		DestAddr:     hints.dst,
		ProviderName: providerName,
	}, nil
}

// Fabric owns the top-level provider handle. In this binding it is a thin
// owner of the simulated domain tree; a real binding would wrap fi_fabric.
type Fabric struct {
	info FabricInfo
	eq   *EventQueue
}

// CreateFabric instantiates a Fabric from a resolved FabricInfo.
func CreateFabric(info FabricInfo) (*Fabric, error) {
	return &Fabric{info: info}, nil
}

// Info returns the FabricInfo this fabric was created from.
func (f *Fabric) Info() FabricInfo { return f.info }

// BindEQ attaches eq to this fabric for connection/shutdown event delivery.
func (f *Fabric) BindEQ(eq *EventQueue) { f.eq = eq }

// ProgressPolicy describes the negotiated control/data progress modes for a
// Domain, computed from the bound provider's traits.
type ProgressPolicy struct {
	Control ProgressMode
	Data    ProgressMode
}

// Domain scopes resources (CQs, EQs, AVs, MRs) and is the registration
// boundary for all other fabric objects.
type Domain struct {
	fabric    *Fabric
	info      FabricInfo
	policy    ProgressPolicy
	threading ThreadingMode

	mu        sync.Mutex
	triggered []triggeredWork
}

// CreateDomain builds a Domain from fabric and info, computing its progress
// policy from the given provider tag's traits — the generic analogue of the
// original's per-provider domain negotiation.
func CreateDomain[P ProviderTag](fabric *Fabric, info FabricInfo) (*Domain, error) {
	var tag P
	traits := tag.Traits()
	return &Domain{
		fabric: fabric,
		info:   info,
		policy: ProgressPolicy{Control: traits.DefaultControlProgress, Data: traits.DefaultDataProgress},
		threading: ThreadingSafe,
	}, nil
}

// ProgressPolicy returns the domain's negotiated control/data progress modes.
func (d *Domain) ProgressPolicy() ProgressPolicy { return d.policy }

// Threading returns the domain's negotiated threading mode.
func (d *Domain) Threading() ThreadingMode { return d.threading }

// Fabric returns the owning fabric.
func (d *Domain) Fabric() *Fabric { return d.fabric }
