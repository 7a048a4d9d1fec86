package abi

import "math"

// CallCode is the out-of-band outcome of a native call.
type CallCode int8

const (
	CallSuccess CallCode = 0
	CallError   CallCode = 1
	CallPanic   CallCode = 2
)

// String returns the code name
func (c CallCode) String() string {
	switch c {
	case CallSuccess:
		return "success"
	case CallError:
		return "error"
	case CallPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// CallStatus is the slot passed alongside every fallible call. ErrorBuf is
// set only for CallError and CallPanic.
type CallStatus struct {
	Code     CallCode
	ErrorBuf Buffer
}

// Callback return codes, distinct from CallCode.
const (
	CallbackSuccess         int32 = 0
	CallbackError           int32 = 1
	CallbackUnexpectedError int32 = 2
)

// ValueKind says which field of a Value is meaningful.
type ValueKind uint8

const (
	KindVoid ValueKind = iota
	KindScalar
	KindBuffer
)

// Value is a single argument or return value of a native function. Scalars
// (bools, integers, floats, handles) travel in Bits; structured data travels
// in Buf.
type Value struct {
	Kind ValueKind
	Bits uint64
	Buf  Buffer
}

// Void is the return value of functions without one.
var Void = Value{}

// Scalar wraps raw bits.
func Scalar(bits uint64) Value {
	return Value{Kind: KindScalar, Bits: bits}
}

// Int64 wraps a signed integer.
func Int64(v int64) Value {
	return Scalar(uint64(v))
}

// Float64 wraps a double.
func Float64(v float64) Value {
	return Scalar(math.Float64bits(v))
}

// Bool wraps a boolean as 0 or 1.
func Bool(v bool) Value {
	if v {
		return Scalar(1)
	}
	return Scalar(0)
}

// BufferValue wraps a buffer.
func BufferValue(b Buffer) Value {
	return Value{Kind: KindBuffer, Buf: b}
}

// Int64 returns Bits as a signed integer.
func (v Value) Int64() int64 {
	return int64(v.Bits)
}

// Float64 returns Bits as a double.
func (v Value) Float64() float64 {
	return math.Float64frombits(v.Bits)
}
