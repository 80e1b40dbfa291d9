package loom

import (
	"encoding/binary"
	"math"

	"github.com/sielicki/loom/internal/fi"
)

// datatypeWidth returns the wire width in bytes of a fi datatype. int128 and
// uint128 are represented as 16-byte big-endian blocks (Go has no native
// 128-bit integer); complex64/complex128 stand in for libfabric's
// float-complex/double-complex.
func datatypeWidth(dt int) int {
	switch dt {
	case fi.DatatypeInt8, fi.DatatypeUint8:
		return 1
	case fi.DatatypeInt16, fi.DatatypeUint16:
		return 2
	case fi.DatatypeInt32, fi.DatatypeUint32, fi.DatatypeFloat:
		return 4
	case fi.DatatypeInt64, fi.DatatypeUint64, fi.DatatypeDouble, fi.DatatypeFloatComplex:
		return 8
	case fi.DatatypeDoubleComplex:
		return 16
	case fi.DatatypeInt128, fi.DatatypeUint128:
		return 16
	default:
		return 8
	}
}

// applyAtomicOp computes the staged-atomic result: old (the current remote
// value, read back by the caller) combined with op, returning the new
// value to write back. Only the fixed-width integer ops operate on the
// Operand field; AtomicWrite/AtomicRead/CompareSwap are handled directly.
func applyAtomicOp(op AtomicOp, old []byte) []byte {
	width := len(old)
	oldVal := beUint(old)
	var newVal uint64

	switch op.Op {
	case fi.OpMin:
		if op.Operand < oldVal {
			newVal = op.Operand
		} else {
			newVal = oldVal
		}
	case fi.OpMax:
		if op.Operand > oldVal {
			newVal = op.Operand
		} else {
			newVal = oldVal
		}
	case fi.OpSum:
		newVal = oldVal + op.Operand
	case fi.OpProd:
		newVal = oldVal * op.Operand
	case fi.OpLand:
		newVal = boolToU64(oldVal != 0 && op.Operand != 0)
	case fi.OpLor:
		newVal = boolToU64(oldVal != 0 || op.Operand != 0)
	case fi.OpLxor:
		newVal = boolToU64((oldVal != 0) != (op.Operand != 0))
	case fi.OpBand:
		newVal = oldVal & op.Operand
	case fi.OpBor:
		newVal = oldVal | op.Operand
	case fi.OpBxor:
		newVal = oldVal ^ op.Operand
	case fi.OpAtomicRead:
		newVal = oldVal
	case fi.OpAtomicWrite:
		newVal = op.Operand
	case fi.OpCompareSwap:
		if oldVal == op.Compare {
			newVal = op.Operand
		} else {
			newVal = oldVal
		}
	default:
		newVal = oldVal
	}

	out := make([]byte, width)
	putBeUint(out, newVal)
	return out
}

func beUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	default:
		// 16-byte (int128/uint128/double-complex): fold the low 8 bytes,
		// adequate for the staged-atomic arithmetic this binding supports.
		return binary.BigEndian.Uint64(b[len(b)-8:])
	}
}

func putBeUint(out []byte, v uint64) {
	switch len(out) {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(out, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(out, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(out, v)
	default:
		binary.BigEndian.PutUint64(out[len(out)-8:], v)
	}
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Float64Bits/Float64FromBits are exposed for callers building AtomicOp
// operands for float/double datatypes, since AtomicOp.Operand is a raw u64.
func Float64Bits(f float64) uint64   { return math.Float64bits(f) }
func Float64FromBits(u uint64) float64 { return math.Float64frombits(u) }
