package codec

import (
	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/errors"
)

// Converter reads and writes one Go type on a shared cursor.
type Converter[T any] interface {
	Read(r *buffer.Reader) (T, error)
	Write(w *buffer.Writer, v T) error
}

// ValueConverter is implemented by primitive converters whose values can be
// passed directly as call arguments and return values.
type ValueConverter[T any] interface {
	Converter[T]
	LowerValue(v T) (abi.Value, error)
	LiftValue(v abi.Value) (T, error)
}

// Lift decodes a whole buffer, takes ownership of it and frees it. Leftover
// bytes are an internal error.
func Lift[T any](alloc abi.Allocator, c Converter[T], buf abi.Buffer) (T, error) {
	var zero T
	r, err := buffer.NewReader(alloc, buf)
	if err != nil {
		return zero, err
	}
	v, err := c.Read(r)
	relErr := r.Release()
	if err != nil {
		return zero, err
	}
	if relErr != nil {
		return zero, relErr
	}
	return v, nil
}

// Lower encodes v into a freshly allocated buffer owned by the caller.
func Lower[T any](alloc abi.Allocator, c Converter[T], v T) (abi.Buffer, error) {
	w := buffer.NewWriter(alloc)
	if err := c.Write(w, v); err != nil {
		w.Abort()
		return abi.Buffer{}, err
	}
	return w.Finish()
}

// LowerArg lowers v as a call argument: directly for primitive converters,
// through a buffer otherwise.
func LowerArg[T any](alloc abi.Allocator, c Converter[T], v T) (abi.Value, error) {
	if vc, ok := c.(ValueConverter[T]); ok {
		return vc.LowerValue(v)
	}
	buf, err := Lower(alloc, c, v)
	if err != nil {
		return abi.Value{}, err
	}
	return abi.BufferValue(buf), nil
}

// LiftReturn lifts a return value produced by a native call.
func LiftReturn[T any](alloc abi.Allocator, c Converter[T], v abi.Value) (T, error) {
	if vc, ok := c.(ValueConverter[T]); ok {
		return vc.LiftValue(v)
	}
	if v.Kind == abi.KindScalar {
		return *new(T), errors.TypeMismatch(errors.PhaseDecode, nil, typeName[T](), "buffer")
	}
	return Lift(alloc, c, v.Buf)
}
