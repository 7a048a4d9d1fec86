package object

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/errors"
)

// Convention says how a method receives the object handle.
type Convention uint8

const (
	// BorrowHandle passes the proxy's own handle; the native side must not
	// keep it beyond the call.
	BorrowHandle Convention = iota
	// ConsumeHandle passes a freshly cloned handle that the native side
	// takes ownership of.
	ConsumeHandle
)

// Proxy owns one reference to a native object.
//
// calls counts in-flight calls. Destroy decrements it once; whichever
// decrement takes it below zero frees the native reference.
type Proxy struct {
	class     *Class
	handle    uint64
	calls     atomic.Int64
	destroyed atomic.Bool
}

// FromHandle wraps a handle the caller owns. The proxy takes ownership.
func FromHandle(class *Class, h uint64) *Proxy {
	return &Proxy{class: class, handle: h}
}

// New constructs a native object through ctor, which must return a handle.
// ctor has no declared error type.
func New(class *Class, ctor abi.Func, args ...abi.Value) (*Proxy, error) {
	return NewChecked(class, ctor, nil, args...)
}

// NewChecked is New for constructors whose status is interpreted by check.
func NewChecked(class *Class, ctor abi.Func, check call.Checker, args ...abi.Value) (*Proxy, error) {
	ret, err := call.InvokeChecked(class.Alloc, check, ctor, args...)
	if err != nil {
		return nil, err
	}
	if ret.Kind != abi.KindScalar || ret.Bits == 0 {
		return nil, errors.New(errors.PhaseObject, errors.KindInvalidData).
			GoType(class.Name).
			Detail("constructor returned no handle").
			Build()
	}
	return FromHandle(class, ret.Bits), nil
}

// Class returns the proxy's class, or nil for a zero-value proxy.
func (p *Proxy) Class() *Class {
	if p == nil {
		return nil
	}
	return p.class
}

// Handle returns the raw handle without transferring ownership.
func (p *Proxy) Handle() uint64 {
	if p == nil {
		return 0
	}
	return p.handle
}

// Destroyed reports whether Destroy has been called.
func (p *Proxy) Destroyed() bool {
	return p == nil || p.destroyed.Load()
}

func (p *Proxy) acquire() (uint64, error) {
	if p == nil || p.class == nil || p.handle == 0 {
		return 0, p.destroyedError()
	}
	for {
		n := p.calls.Load()
		if n < 0 {
			return 0, p.destroyedError()
		}
		if p.calls.CompareAndSwap(n, n+1) {
			return p.handle, nil
		}
	}
}

func (p *Proxy) release() {
	if p.calls.Add(-1) == -1 {
		p.free()
	}
}

func (p *Proxy) destroyedError() error {
	name := "object"
	if p != nil && p.class != nil {
		name = p.class.Name
	}
	return errors.New(errors.PhaseObject, errors.KindDestroyed).
		GoType(name).
		Detail("object used after Destroy").
		Build()
}

func (p *Proxy) free() {
	if err := p.class.freeHandle(p.handle); err != nil {
		Logger().Warn("free native object",
			zap.String("class", p.class.Name),
			zap.Uint64("handle", p.handle),
			zap.Error(err))
	}
}

// Call invokes a native method with the object handle as its first
// argument. A nil check means the method has no declared error type.
func (p *Proxy) Call(method abi.Func, conv Convention, check call.Checker, args ...abi.Value) (abi.Value, error) {
	h, err := p.acquire()
	if err != nil {
		return abi.Value{}, err
	}
	defer p.release()

	if conv == ConsumeHandle {
		if h, err = p.class.cloneHandle(h); err != nil {
			return abi.Value{}, err
		}
	}

	full := make([]abi.Value, 0, len(args)+1)
	full = append(full, abi.Scalar(h))
	full = append(full, args...)
	return call.InvokeChecked(p.class.Alloc, check, method, full...)
}

// CloneHandle returns a new reference owned by the caller.
func (p *Proxy) CloneHandle() (uint64, error) {
	h, err := p.acquire()
	if err != nil {
		return 0, err
	}
	defer p.release()
	return p.class.cloneHandle(h)
}

// Destroy gives up the proxy's reference. The native object is freed once
// in-flight calls finish. Destroy is idempotent and a no-op on a zero-value
// proxy.
func (p *Proxy) Destroy() {
	if p == nil || !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	if p.class == nil || p.handle == 0 {
		return
	}
	p.release()
}

// Close implements io.Closer. It always returns nil.
func (p *Proxy) Close() error {
	p.Destroy()
	return nil
}
