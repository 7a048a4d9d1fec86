package callback

import (
	"context"
	stderrors "errors"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// Invocation is a decoded method call bound to its arguments. It runs the
// implementation and writes the return value to w.
type Invocation[T any] func(ctx context.Context, impl T, w *buffer.Writer) error

// Method is one declared method of an interface.
type Method[T any] struct {
	Name string
	// Decode reads the arguments. It runs before the implementation is
	// looked up, so argument faults never reach user code.
	Decode func(r *buffer.Reader) (Invocation[T], error)
}

// Func declares a method taking one argument and returning one value.
// Several arguments are passed as a record.
func Func[T, A, R any](name string, arg codec.Converter[A], ret codec.Converter[R], fn func(ctx context.Context, impl T, a A) (R, error)) Method[T] {
	return Method[T]{
		Name: name,
		Decode: func(r *buffer.Reader) (Invocation[T], error) {
			a, err := arg.Read(r)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, impl T, w *buffer.Writer) error {
				res, err := fn(ctx, impl, a)
				if err != nil {
					return err
				}
				return ret.Write(w, res)
			}, nil
		},
	}
}

// Proc declares a method taking one argument and returning nothing.
func Proc[T, A any](name string, arg codec.Converter[A], fn func(ctx context.Context, impl T, a A) error) Method[T] {
	return Method[T]{
		Name: name,
		Decode: func(r *buffer.Reader) (Invocation[T], error) {
			a, err := arg.Read(r)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, impl T, _ *buffer.Writer) error {
				return fn(ctx, impl, a)
			}, nil
		},
	}
}

// WITMethod declares a method from WIT parameter and result types. Arguments
// and results use the dynamic representation of codec.DecodeValue. A nil
// result means the method returns nothing.
func WITMethod[T any](name string, params []wit.Type, result wit.Type, fn func(ctx context.Context, impl T, args []any) (any, error)) Method[T] {
	return Method[T]{
		Name: name,
		Decode: func(r *buffer.Reader) (Invocation[T], error) {
			args := make([]any, len(params))
			for i, p := range params {
				v, err := codec.DecodeValue(r, p)
				if err != nil {
					return nil, errors.AtPath(err, name)
				}
				args[i] = v
			}
			return func(ctx context.Context, impl T, w *buffer.Writer) error {
				res, err := fn(ctx, impl, args)
				if err != nil {
					return err
				}
				if result == nil {
					return nil
				}
				return codec.EncodeValue(w, result, res)
			}, nil
		},
	}
}

// ErrorEncoder writes a declared error. It reports false when err is not of
// the interface's declared error type.
type ErrorEncoder func(w *buffer.Writer, err error) (bool, error)

// DeclaredError returns an ErrorEncoder for the declared error type E.
func DeclaredError[E error](c codec.Converter[E]) ErrorEncoder {
	return func(w *buffer.Writer, err error) (bool, error) {
		var e E
		if !stderrors.As(err, &e) {
			return false, nil
		}
		return true, c.Write(w, e)
	}
}
