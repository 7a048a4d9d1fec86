package callback

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// Reserved method indices.
const (
	IndexFree  uint32 = 0
	IndexClone uint32 = 0xFFFFFFFF
)

// Scheduler runs dispatched invocations on a goroutine of its choosing.
type Scheduler interface {
	// Do runs fn and waits for it to return.
	Do(fn func()) error
}

// Options configures an Interface. The zero value means no declared error
// type and invocations on the calling goroutine.
type Options struct {
	Errors    ErrorEncoder
	Scheduler Scheduler
}

// Interface is the Go side of one native-declared callback interface.
type Interface[T any] struct {
	name    string
	methods []Method[T]
	errEnc  ErrorEncoder
	sched   Scheduler
	alloc   abi.Allocator
	impls   *handle.Registry[T]
	futures *handle.Registry[*pending]
}

type pending struct {
	cancel  context.CancelFunc
	claimed atomic.Bool
}

// claim reports whether the caller won the right to end the invocation.
func (p *pending) claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// New creates an interface. methods are numbered from 1 in order.
func New[T any](name string, alloc abi.Allocator, methods []Method[T], opts *Options) *Interface[T] {
	if opts == nil {
		opts = &Options{}
	}
	return &Interface[T]{
		name:    name,
		methods: methods,
		errEnc:  opts.Errors,
		sched:   opts.Scheduler,
		alloc:   alloc,
		impls:   handle.NewRegistry[T](name, handle.Foreign),
		futures: handle.NewRegistry[*pending](name+" futures", handle.Foreign),
	}
}

// Name returns the interface name.
func (i *Interface[T]) Name() string {
	return i.name
}

// Registry returns the table of implementations held by native code.
func (i *Interface[T]) Registry() *handle.Registry[T] {
	return i.impls
}

// Pending returns the number of async invocations not yet freed.
func (i *Interface[T]) Pending() int {
	return i.futures.Len()
}

// VTable returns the dispatch entry points.
func (i *Interface[T]) VTable() abi.CallbackVTable {
	return abi.CallbackVTable{
		Dispatch:      i.Dispatch,
		DispatchAsync: i.DispatchAsync,
	}
}

// Register installs the vtable in lib.
func (i *Interface[T]) Register(lib abi.Library) error {
	var status abi.CallStatus
	lib.InitCallbackVTable(i.name, i.VTable(), &status)
	return call.Check(lib.Allocator(), &status)
}

// Close cancels pending async invocations, drops every implementation and
// returns how many bindings were still live.
func (i *Interface[T]) Close() int {
	i.futures.Each(func(_ handle.Handle, p *pending) bool {
		p.claim()
		p.cancel()
		return true
	})
	return i.impls.Close() + i.futures.Close()
}

func (i *Interface[T]) Read(r *buffer.Reader) (T, error) {
	h, err := codec.Handle.Read(r)
	if err != nil {
		var zero T
		return zero, err
	}
	return i.impls.Get(handle.Handle(h))
}

// Write registers impl and writes its handle. The new binding belongs to
// the receiver.
func (i *Interface[T]) Write(w *buffer.Writer, impl T) error {
	h, err := i.impls.Insert(impl)
	if err != nil {
		return err
	}
	if err := codec.Handle.Write(w, uint64(h)); err != nil {
		_, _ = i.impls.Remove(h)
		return err
	}
	return nil
}

func (i *Interface[T]) LowerValue(impl T) (abi.Value, error) {
	h, err := i.impls.Insert(impl)
	if err != nil {
		return abi.Value{}, err
	}
	return abi.Scalar(uint64(h)), nil
}

func (i *Interface[T]) LiftValue(v abi.Value) (T, error) {
	h, err := codec.Handle.LiftValue(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return i.impls.Get(handle.Handle(h))
}

// Dispatch implements abi.DispatchFunc. It never panics.
func (i *Interface[T]) Dispatch(h uint64, method uint32, args abi.Buffer, out *abi.Buffer) int32 {
	switch method {
	case IndexFree:
		i.discard(args)
		if _, err := i.impls.Remove(handle.Handle(h)); err != nil {
			*out = i.unexpected(err)
			return abi.CallbackUnexpectedError
		}
		return abi.CallbackSuccess
	case IndexClone:
		i.discard(args)
		nh, err := i.impls.Clone(handle.Handle(h))
		if err != nil {
			*out = i.unexpected(err)
			return abi.CallbackUnexpectedError
		}
		buf, err := codec.Lower(i.alloc, codec.Handle, uint64(nh))
		if err != nil {
			_, _ = i.impls.Remove(nh)
			*out = i.unexpected(err)
			return abi.CallbackUnexpectedError
		}
		*out = buf
		return abi.CallbackSuccess
	}

	inv, impl, err := i.prepare(h, method, args)
	if err != nil {
		*out = i.unexpected(err)
		return abi.CallbackUnexpectedError
	}

	var code int32
	run := func() { *out, code = i.invoke(context.Background(), method, inv, impl) }
	if err := i.schedule(run); err != nil {
		*out = i.unexpected(err)
		return abi.CallbackUnexpectedError
	}
	return code
}

// DispatchAsync implements abi.AsyncDispatchFunc. complete is called at
// most once, always from another goroutine, and never after the returned
// future has been freed.
func (i *Interface[T]) DispatchAsync(h uint64, method uint32, args abi.Buffer, complete abi.ForeignFutureCompleteFunc, data uint64) abi.ForeignFuture {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pending{cancel: cancel}
	fh, err := i.futures.Insert(p)
	if err != nil {
		cancel()
		i.discard(args)
		go complete(data, result(i.unexpected(err), abi.CallbackUnexpectedError))
		return abi.ForeignFuture{Free: i.freeFuture}
	}
	fut := abi.ForeignFuture{Handle: uint64(fh), Free: i.freeFuture}

	inv, impl, err := i.prepare(h, method, args)
	if err != nil {
		go i.finish(p, complete, data, result(i.unexpected(err), abi.CallbackUnexpectedError))
		return fut
	}

	go func() {
		var buf abi.Buffer
		var code int32
		run := func() { buf, code = i.invoke(ctx, method, inv, impl) }
		if err := i.schedule(run); err != nil {
			buf, code = i.unexpected(err), abi.CallbackUnexpectedError
		}
		i.finish(p, complete, data, result(buf, code))
	}()
	return fut
}

func result(buf abi.Buffer, code int32) abi.ForeignFutureResult {
	switch code {
	case abi.CallbackSuccess:
		return abi.ForeignFutureResult{Return: buf}
	case abi.CallbackError:
		return abi.ForeignFutureResult{Status: abi.CallStatus{Code: abi.CallError, ErrorBuf: buf}}
	default:
		return abi.ForeignFutureResult{Status: abi.CallStatus{Code: abi.CallPanic, ErrorBuf: buf}}
	}
}

func (i *Interface[T]) finish(p *pending, complete abi.ForeignFutureCompleteFunc, data uint64, res abi.ForeignFutureResult) {
	defer p.cancel()
	if !p.claim() {
		i.discard(res.Return)
		i.discard(res.Status.ErrorBuf)
		return
	}
	complete(data, res)
}

func (i *Interface[T]) freeFuture(h uint64) {
	if h == 0 {
		return
	}
	p, err := i.futures.Remove(handle.Handle(h))
	if err != nil {
		Logger().Warn("free foreign future", zap.String("interface", i.name), zap.Error(err))
		return
	}
	p.claim()
	p.cancel()
}

func (i *Interface[T]) method(index uint32) (Method[T], error) {
	if index == IndexFree || int64(index) > int64(len(i.methods)) {
		return Method[T]{}, errors.New(errors.PhaseCallback, errors.KindUnknownMethod).
			Path(i.name).
			Detail("method index %d (interface has %d methods)", index, len(i.methods)).
			Build()
	}
	return i.methods[index-1], nil
}

// prepare decodes the arguments and resolves the implementation. args is
// always consumed.
func (i *Interface[T]) prepare(h uint64, index uint32, args abi.Buffer) (Invocation[T], T, error) {
	var zero T
	m, err := i.method(index)
	if err != nil {
		i.discard(args)
		return nil, zero, err
	}
	r, err := buffer.NewReader(i.alloc, args)
	if err != nil {
		return nil, zero, errors.AtPath(err, i.name, m.Name)
	}
	var inv Invocation[T]
	err = protect(func() error {
		var derr error
		inv, derr = m.Decode(r)
		return derr
	})
	relErr := r.Release()
	if err == nil {
		err = relErr
	}
	if err != nil {
		return nil, zero, errors.AtPath(err, i.name, m.Name)
	}
	impl, err := i.impls.Get(handle.Handle(h))
	if err != nil {
		return nil, zero, err
	}
	return inv, impl, nil
}

// invoke runs the implementation and encodes its outcome.
func (i *Interface[T]) invoke(ctx context.Context, index uint32, inv Invocation[T], impl T) (abi.Buffer, int32) {
	w := buffer.NewWriter(i.alloc)
	err := protect(func() error { return inv(ctx, impl, w) })
	if err == nil {
		buf, ferr := w.Finish()
		if ferr != nil {
			return i.unexpected(ferr), abi.CallbackUnexpectedError
		}
		return buf, abi.CallbackSuccess
	}
	w.Abort()

	if i.errEnc != nil {
		ew := buffer.NewWriter(i.alloc)
		declared, encErr := i.errEnc(ew, err)
		switch {
		case declared && encErr == nil:
			buf, ferr := ew.Finish()
			if ferr == nil {
				return buf, abi.CallbackError
			}
			err = ferr
		case encErr != nil:
			ew.Abort()
			err = encErr
		default:
			ew.Abort()
		}
	}

	name := fmt.Sprintf("method %d", index)
	if m, merr := i.method(index); merr == nil {
		name = m.Name
	}
	Logger().Warn("callback failed",
		zap.String("interface", i.name),
		zap.String("method", name),
		zap.Error(err))
	return i.message(err.Error()), abi.CallbackUnexpectedError
}

func (i *Interface[T]) schedule(fn func()) error {
	if i.sched == nil {
		fn()
		return nil
	}
	return i.sched.Do(fn)
}

func (i *Interface[T]) unexpected(err error) abi.Buffer {
	Logger().Warn("callback dispatch failed", zap.String("interface", i.name), zap.Error(err))
	return i.message(err.Error())
}

// message lowers a best-effort description. An unlowerable message yields
// an empty buffer.
func (i *Interface[T]) message(msg string) abi.Buffer {
	buf, err := codec.Lower(i.alloc, codec.String, msg)
	if err != nil {
		return abi.Buffer{}
	}
	return buf
}

func (i *Interface[T]) discard(buf abi.Buffer) {
	if buf.IsZero() {
		return
	}
	if err := i.alloc.Free(buf); err != nil {
		Logger().Warn("free callback buffer", zap.String("interface", i.name), zap.Error(err))
	}
}

// protect converts a panic in fn into an internal error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(errors.PhaseCallback, fmt.Sprint(r))
		}
	}()
	return fn()
}
