package object

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec"
)

// Object is implemented by generated wrappers around a Proxy.
type Object interface {
	Proxy() *Proxy
}

// Converter lowers objects as 8-byte handles and lifts handles into new
// objects. Lowering clones a reference for the receiver; the Go object
// keeps its own.
type Converter[T Object] struct {
	Class *Class
	Wrap  func(*Proxy) T
}

func (c Converter[T]) Read(r *buffer.Reader) (T, error) {
	h, err := codec.Handle.Read(r)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Wrap(FromHandle(c.Class, h)), nil
}

func (c Converter[T]) Write(w *buffer.Writer, v T) error {
	h, err := v.Proxy().CloneHandle()
	if err != nil {
		return err
	}
	if err := codec.Handle.Write(w, h); err != nil {
		if ferr := c.Class.freeHandle(h); ferr != nil {
			Logger().Warn("free handle after failed write", zap.Error(ferr))
		}
		return err
	}
	return nil
}

func (c Converter[T]) LowerValue(v T) (abi.Value, error) {
	h, err := v.Proxy().CloneHandle()
	if err != nil {
		return abi.Value{}, err
	}
	return abi.Scalar(h), nil
}

func (c Converter[T]) LiftValue(v abi.Value) (T, error) {
	h, err := codec.Handle.LiftValue(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Wrap(FromHandle(c.Class, h)), nil
}

// ErrorConverter handles objects used as a declared error type. The error is
// always carried as a buffer holding a handle; ErrorConverter does not
// implement codec.ValueConverter.
type ErrorConverter[T interface {
	Object
	error
}] struct {
	Class *Class
	Wrap  func(*Proxy) T
}

func (c ErrorConverter[T]) objects() Converter[T] {
	return Converter[T]{Class: c.Class, Wrap: c.Wrap}
}

func (c ErrorConverter[T]) Read(r *buffer.Reader) (T, error) {
	return c.objects().Read(r)
}

func (c ErrorConverter[T]) Write(w *buffer.Writer, v T) error {
	return c.objects().Write(w, v)
}
