package loom

// OptionLevel mirrors fi_control's level argument; today only the endpoint
// level is exposed since that's the only one the spec names options for.
type OptionLevel int

const OptionLevelEndpoint OptionLevel = 0

// OptionName enumerates the recognized (level, name) option keys.
type OptionName int

const (
	OptionMinMultiRecv OptionName = iota
	OptionCMDataSize
	OptionBufferedMin
	OptionBufferedLimit
	OptionSharedMemoryPermitted
	OptionCUDAAPIPermitted
	OptionEFAEmulatedRead  // query-only
	OptionEFAEmulatedWrite // query-only
	OptionEFAWriteInOrderAligned128Bytes
)

var queryOnlyOptions = map[OptionName]bool{
	OptionEFAEmulatedRead:  true,
	OptionEFAEmulatedWrite: true,
}

// optionsMixin holds an endpoint's (level, name) -> value settings. Endpoint
// stores one in its opts field so Endpoint[P] doesn't need to duplicate the
// storage per provider instantiation.
type optionsMixin struct {
	values map[OptionName]any
}

func (m *optionsMixin) ensure() {
	if m.values == nil {
		m.values = make(map[OptionName]any)
	}
}

// SetOption sets name at level to value. Fails with KindNotSupported for
// query-only names (efa_emulated_read/write).
func (e *Endpoint[P]) SetOption(level OptionLevel, name OptionName, value any) error {
	if queryOnlyOptions[name] {
		return NewError("Endpoint.SetOption", KindNotSupported, "option is query-only")
	}
	e.opts.ensure()
	e.opts.values[name] = value
	return nil
}

// GetOption retrieves the current value for (level, name). EFA's
// query-only emulation flags are answered from the bound provider's traits
// rather than from stored state.
func (e *Endpoint[P]) GetOption(level OptionLevel, name OptionName) (any, error) {
	switch name {
	case OptionEFAEmulatedRead, OptionEFAEmulatedWrite:
		var tag P
		return !tag.Traits().SupportsNativeAtomics, nil
	}
	e.opts.ensure()
	v, ok := e.opts.values[name]
	if !ok {
		return nil, NewError("Endpoint.GetOption", KindInvalidArgument, "option not set")
	}
	return v, nil
}
