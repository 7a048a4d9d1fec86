package codec

import (
	"math"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

// IsScalar reports whether values of t are passed directly as call
// arguments and return values instead of through a buffer.
func IsScalar(t wit.Type) bool {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.U16, wit.U32, wit.U64,
		wit.S8, wit.S16, wit.S32, wit.S64, wit.F32, wit.F64, wit.Char:
		return true
	}
	return false
}

// LowerArgDynamic is the dynamic counterpart of LowerArg.
func LowerArgDynamic(alloc abi.Allocator, t wit.Type, v any) (abi.Value, error) {
	if !IsScalar(t) {
		buf, err := LowerDynamic(alloc, t, v)
		if err != nil {
			return abi.Value{}, err
		}
		return abi.BufferValue(buf), nil
	}

	var (
		bits uint64
		ok   bool
	)
	switch t.(type) {
	case wit.Bool:
		var b bool
		if b, ok = v.(bool); ok {
			return abi.Bool(b), nil
		}
	case wit.U8:
		bits, ok = coerceUint(v, math.MaxUint8)
	case wit.U16:
		bits, ok = coerceUint(v, math.MaxUint16)
	case wit.U32:
		bits, ok = coerceUint(v, math.MaxUint32)
	case wit.U64:
		bits, ok = coerceUint(v, math.MaxUint64)
	case wit.S8:
		var i int64
		i, ok = coerceInt(v, math.MinInt8, math.MaxInt8)
		bits = uint64(i)
	case wit.S16:
		var i int64
		i, ok = coerceInt(v, math.MinInt16, math.MaxInt16)
		bits = uint64(i)
	case wit.S32:
		var i int64
		i, ok = coerceInt(v, math.MinInt32, math.MaxInt32)
		bits = uint64(i)
	case wit.S64:
		var i int64
		i, ok = coerceInt(v, math.MinInt64, math.MaxInt64)
		bits = uint64(i)
	case wit.F32:
		var f float64
		if f, ok = coerceFloat(v); ok {
			if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
				return abi.Value{}, errors.Overflow(nil, v, "f32")
			}
			return Float32.LowerValue(float32(f))
		}
	case wit.F64:
		var f float64
		if f, ok = coerceFloat(v); ok {
			return abi.Float64(f), nil
		}
	case wit.Char:
		var i int64
		i, ok = coerceInt(v, 0, utf8.MaxRune)
		ok = ok && utf8.ValidRune(rune(i))
		bits = uint64(i)
	}
	if !ok {
		return abi.Value{}, mismatch(nil, v, t)
	}
	return abi.Scalar(bits), nil
}

// LiftReturnDynamic is the dynamic counterpart of LiftReturn. A nil t is a
// function without a result.
func LiftReturnDynamic(alloc abi.Allocator, t wit.Type, v abi.Value) (any, error) {
	if t == nil {
		return nil, nil
	}
	if !IsScalar(t) {
		if v.Kind != abi.KindBuffer {
			return nil, errors.TypeMismatch(errors.PhaseDecode, nil, "scalar", TypeName(t))
		}
		return LiftDynamic(alloc, t, v.Buf)
	}

	switch t.(type) {
	case wit.Bool:
		return Bool.LiftValue(v)
	case wit.U8:
		return Uint8.LiftValue(v)
	case wit.U16:
		return Uint16.LiftValue(v)
	case wit.U32:
		return Uint32.LiftValue(v)
	case wit.U64:
		return Uint64.LiftValue(v)
	case wit.S8:
		return Int8.LiftValue(v)
	case wit.S16:
		return Int16.LiftValue(v)
	case wit.S32:
		return Int32.LiftValue(v)
	case wit.S64:
		return Int64.LiftValue(v)
	case wit.F32:
		return Float32.LiftValue(v)
	case wit.F64:
		return Float64.LiftValue(v)
	default: // wit.Char
		r := rune(uint32(v.Bits))
		if !utf8.ValidRune(r) {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Detail("invalid Unicode scalar value: 0x%X", v.Bits).
				Build()
		}
		return r, nil
	}
}
