package codec

import (
	"fmt"
	"math"
	"unicode/utf8"
	"unsafe"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

// Primitive converters.
var (
	Bool    = BoolConverter{}
	Int8    = Int[int8]{}
	Int16   = Int[int16]{}
	Int32   = Int[int32]{}
	Int64   = Int[int64]{}
	Uint8   = Int[uint8]{}
	Uint16  = Int[uint16]{}
	Uint32  = Int[uint32]{}
	Uint64  = Int[uint64]{}
	Float32 = Float32Converter{}
	Float64 = Float64Converter{}
	String  = StringConverter{}
	Bytes   = BytesConverter{}
	Handle  = HandleConverter{}
)

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// BoolConverter encodes bool as one byte.
type BoolConverter struct{}

func (BoolConverter) Read(r *buffer.Reader) (bool, error) {
	b, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return liftBool(uint64(b))
}

func (BoolConverter) Write(w *buffer.Writer, v bool) error {
	if v {
		return w.WriteU8(1)
	}
	return w.WriteU8(0)
}

func (BoolConverter) LowerValue(v bool) (abi.Value, error) {
	return abi.Bool(v), nil
}

func (BoolConverter) LiftValue(v abi.Value) (bool, error) {
	return liftBool(v.Bits)
}

func liftBool(b uint64) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.New(errors.PhaseDecode, errors.KindInvalidBool).
			Value(b).
			Detail("bool byte %d", b).
			Build()
	}
}

// Integer is the set of fixed-width integer types.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Int encodes a fixed-width integer big-endian at its natural width.
type Int[T Integer] struct{}

func (Int[T]) width() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func (c Int[T]) Read(r *buffer.Reader) (T, error) {
	var (
		u   uint64
		err error
	)
	switch c.width() {
	case 1:
		var b uint8
		b, err = r.ReadU8()
		u = uint64(b)
	case 2:
		var b uint16
		b, err = r.ReadU16()
		u = uint64(b)
	case 4:
		var b uint32
		b, err = r.ReadU32()
		u = uint64(b)
	default:
		u, err = r.ReadU64()
	}
	if err != nil {
		return 0, err
	}
	return T(u), nil
}

func (c Int[T]) Write(w *buffer.Writer, v T) error {
	switch c.width() {
	case 1:
		return w.WriteU8(uint8(v))
	case 2:
		return w.WriteU16(uint16(v))
	case 4:
		return w.WriteU32(uint32(v))
	default:
		return w.WriteU64(uint64(v))
	}
}

func (Int[T]) LowerValue(v T) (abi.Value, error) {
	// sign-extends signed types
	return abi.Scalar(uint64(v)), nil
}

func (Int[T]) LiftValue(v abi.Value) (T, error) {
	return T(v.Bits), nil
}

// Float32Converter encodes float32 as IEEE-754.
type Float32Converter struct{}

func (Float32Converter) Read(r *buffer.Reader) (float32, error) { return r.ReadF32() }

func (Float32Converter) Write(w *buffer.Writer, v float32) error { return w.WriteF32(v) }

func (Float32Converter) LowerValue(v float32) (abi.Value, error) {
	return abi.Scalar(uint64(math.Float32bits(v))), nil
}

func (Float32Converter) LiftValue(v abi.Value) (float32, error) {
	return math.Float32frombits(uint32(v.Bits)), nil
}

// Float64Converter encodes float64 as IEEE-754.
type Float64Converter struct{}

func (Float64Converter) Read(r *buffer.Reader) (float64, error) { return r.ReadF64() }

func (Float64Converter) Write(w *buffer.Writer, v float64) error { return w.WriteF64(v) }

func (Float64Converter) LowerValue(v float64) (abi.Value, error) {
	return abi.Float64(v), nil
}

func (Float64Converter) LiftValue(v abi.Value) (float64, error) {
	return v.Float64(), nil
}

// StringConverter encodes UTF-8 strings with an i32 length prefix.
type StringConverter struct{}

func (StringConverter) Read(r *buffer.Reader) (string, error) {
	n, err := r.ReadLen(1)
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, nil, b)
	}
	return string(b), nil
}

func (StringConverter) Write(w *buffer.Writer, v string) error {
	if !utf8.ValidString(v) {
		return errors.InvalidUTF8(errors.PhaseValidate, nil, []byte(v))
	}
	if err := w.WriteLen(len(v)); err != nil {
		return err
	}
	return w.WriteBytes([]byte(v))
}

// BytesConverter encodes raw bytes with an i32 length prefix.
type BytesConverter struct{}

func (BytesConverter) Read(r *buffer.Reader) ([]byte, error) {
	n, err := r.ReadLen(1)
	if err != nil {
		return nil, err
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (BytesConverter) Write(w *buffer.Writer, v []byte) error {
	if err := w.WriteLen(len(v)); err != nil {
		return err
	}
	return w.WriteBytes(v)
}

// HandleConverter encodes an object or callback handle as 8 bytes. Handle 0
// is never valid on the wire.
type HandleConverter struct{}

func (HandleConverter) Read(r *buffer.Reader) (uint64, error) {
	h, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, errors.New(errors.PhaseDecode, errors.KindUnknownHandle).Detail("null handle").Build()
	}
	return h, nil
}

func (HandleConverter) Write(w *buffer.Writer, h uint64) error {
	if h == 0 {
		return errors.New(errors.PhaseEncode, errors.KindUnknownHandle).Detail("null handle").Build()
	}
	return w.WriteU64(h)
}

func (HandleConverter) LowerValue(h uint64) (abi.Value, error) {
	if h == 0 {
		return abi.Value{}, errors.New(errors.PhaseEncode, errors.KindUnknownHandle).Detail("null handle").Build()
	}
	return abi.Scalar(h), nil
}

func (HandleConverter) LiftValue(v abi.Value) (uint64, error) {
	if v.Bits == 0 {
		return 0, errors.New(errors.PhaseDecode, errors.KindUnknownHandle).Detail("null handle").Build()
	}
	return v.Bits, nil
}
