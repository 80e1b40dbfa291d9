// Package fi provides the libfabric ABI constants and the submission-context
// recovery registry that sits directly on that ABI boundary.
package fi

// Operation codes, consumed verbatim from the libfabric ABI.
const (
	OpSend = iota
	OpRecv
	OpTSend
	OpTRecv
	OpRead
	OpWrite
	OpAtomic
	OpFetchAtomic
	OpCompareAtomic
	OpCntrSet
	OpCntrAdd
)

// Trigger types.
const (
	TriggerThreshold = iota
	TriggerXPU
)

// Datatypes for atomics, mirroring fi_datatype.
const (
	DatatypeInt8 = iota
	DatatypeUint8
	DatatypeInt16
	DatatypeUint16
	DatatypeInt32
	DatatypeUint32
	DatatypeInt64
	DatatypeUint64
	DatatypeFloat
	DatatypeDouble
	DatatypeFloatComplex
	DatatypeDoubleComplex
	DatatypeInt128
	DatatypeUint128
)

// Reduction/atomic ops, mirroring fi_op.
const (
	OpMin = iota
	OpMax
	OpSum
	OpProd
	OpLand
	OpLor
	OpLxor
	OpBand
	OpBor
	OpBxor
	OpAtomicRead
	OpAtomicWrite
	OpCompareSwap
)

// Collective operations, mirroring fi_collective_op.
const (
	CollectiveBarrier = iota
	CollectiveBroadcast
	CollectiveAllToAll
	CollectiveAllReduce
	CollectiveAllGather
	CollectiveReduceScatter
	CollectiveReduce
	CollectiveScatter
	CollectiveGather
)

// ImmediateDataFlagBit is the bit position of the "has immediate data" flag
// within a completion event's flags word (see spec Open Questions: this is
// a convention, not guaranteed by every provider header).
const ImmediateDataFlagBit = 4

// HasImmediateData reports whether flags carries immediate data, per the
// ImmediateDataFlagBit convention.
func HasImmediateData(flags uint64) bool {
	return flags&(1<<ImmediateDataFlagBit) != 0
}
