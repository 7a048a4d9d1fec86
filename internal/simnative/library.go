package simnative

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/contract"
	"github.com/wippyai/ffi-runtime/handle"
)

const (
	// Name is the library name used in symbol prefixes.
	Name = "calc"
	// Version is the contract version the library reports.
	Version uint32 = 1
	// CallbackInterface is the callback interface the library calls into.
	CallbackInterface = "binary-op"
	// CalculatorClass is the object class exported by the library.
	CalculatorClass = "calculator"
)

// Option configures a Library.
type Option func(*Library)

// WithAllocator makes the library allocate buffers from a.
func WithAllocator(a abi.Allocator) Option {
	return func(l *Library) { l.alloc = a }
}

// WithVersion overrides the reported contract version.
func WithVersion(v uint32) Option {
	return func(l *Library) { l.version = v }
}

// WithChecksum overrides the checksum reported for symbol, as a library
// built from a different interface would.
func WithChecksum(symbol string, sum uint16) Option {
	return func(l *Library) { l.checksums[symbol] = sum }
}

// WithoutSymbol removes symbol from the library.
func WithoutSymbol(symbol string) Option {
	return func(l *Library) {
		delete(l.funcs, symbol)
		delete(l.checksums, symbol)
	}
}

// Stats counts native-side resources.
type Stats struct {
	Calculators      int
	Futures          int
	FuturesFreed     int64
	FuturesCancelled int64
}

// Library implements abi.Library, abi.QueueLibrary and abi.MetadataLibrary.
type Library struct {
	alloc     abi.Allocator
	version   uint32
	catalog   []Function
	funcs     map[string]abi.Func
	checksums map[string]uint16

	mu       sync.RWMutex
	vtables  map[string]abi.CallbackVTable
	queueVT  abi.BlockingTaskQueueVTable
	hasQueue bool

	calculators *handle.Registry[*calculator]
	futures     *handle.Registry[*nativeFuture]
	freed       atomic.Int64
	cancelled   atomic.Int64
}

// New creates the library. Buffers come from a Go heap allocator unless
// WithAllocator is given.
func New(opts ...Option) *Library {
	l := &Library{
		alloc:       buffer.NewHeapAllocator(),
		version:     Version,
		funcs:       make(map[string]abi.Func),
		checksums:   make(map[string]uint16),
		vtables:     make(map[string]abi.CallbackVTable),
		calculators: handle.NewRegistry[*calculator]("calculators", handle.Native),
		futures:     handle.NewRegistry[*nativeFuture]("native futures", handle.Native),
	}
	for _, e := range l.exports() {
		l.catalog = append(l.catalog, e.fn)
		l.funcs[e.fn.Symbol] = l.guard(e.fn, e.impl)
		l.checksums[e.fn.Symbol] = contract.Checksum(e.fn.Signature())
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Library) Name() string { return Name }

func (l *Library) ContractVersion() uint32 { return l.version }

func (l *Library) Checksum(symbol string) (uint16, bool) {
	sum, ok := l.checksums[symbol]
	return sum, ok
}

func (l *Library) Allocator() abi.Allocator { return l.alloc }

func (l *Library) Lookup(symbol string) (abi.Func, bool) {
	fn, ok := l.funcs[symbol]
	return fn, ok
}

func (l *Library) Futures() abi.FutureABI {
	return abi.FutureABI{
		Poll:     l.pollFuture,
		Complete: l.completeFuture,
		Cancel:   l.cancelFuture,
		Free:     l.freeFuture,
	}
}

func (l *Library) InitCallbackVTable(iface string, vt abi.CallbackVTable, status *abi.CallStatus) {
	if iface != CallbackInterface {
		call.SetPanic(l.alloc, status, fmt.Sprintf("unknown callback interface %q", iface))
		return
	}
	if vt.Dispatch == nil {
		call.SetPanic(l.alloc, status, "callback vtable without dispatch function")
		return
	}
	l.mu.Lock()
	l.vtables[iface] = vt
	l.mu.Unlock()
}

func (l *Library) InitBlockingTaskQueueVTable(vt abi.BlockingTaskQueueVTable) {
	l.mu.Lock()
	l.queueVT = vt
	l.hasQueue = true
	l.mu.Unlock()
}

// Metadata returns the msgpack manifest of the library.
func (l *Library) Metadata() []byte {
	data, err := l.Manifest().Encode()
	if err != nil {
		return nil
	}
	return data
}

// Manifest describes every exported symbol.
func (l *Library) Manifest() *contract.Manifest {
	m := &contract.Manifest{
		Library:    Name,
		Version:    Version,
		Interfaces: []string{CallbackInterface},
		Docs:       make(map[string]string),
	}
	for _, fn := range l.catalog {
		m.Symbols = append(m.Symbols, contract.NewSymbol(fn.Symbol, fn.Signature()))
		m.Docs[fn.Symbol] = fn.Doc
	}
	return m
}

// Contract returns the contract bindings for this library are built
// against. Options that tamper with the library do not affect it.
func (l *Library) Contract() contract.Contract {
	return l.Manifest().Contract()
}

// Functions returns the catalog of exported functions.
func (l *Library) Functions() []Function {
	return append([]Function(nil), l.catalog...)
}

// Function returns the catalog entry of symbol.
func (l *Library) Function(symbol string) (Function, bool) {
	for _, fn := range l.catalog {
		if fn.Symbol == symbol {
			return fn, true
		}
	}
	return Function{}, false
}

// Stats returns native-side resource counts.
func (l *Library) Stats() Stats {
	return Stats{
		Calculators:      l.calculators.Len(),
		Futures:          l.futures.Len(),
		FuturesFreed:     l.freed.Load(),
		FuturesCancelled: l.cancelled.Load(),
	}
}

func (l *Library) vtable() (abi.CallbackVTable, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	vt, ok := l.vtables[CallbackInterface]
	return vt, ok
}

func (l *Library) queues() (abi.BlockingTaskQueueVTable, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.queueVT, l.hasQueue
}

// fault is a declared error raised by a native function.
type fault struct {
	typ   wit.Type
	value any
}

func (f *fault) Error() string {
	return fmt.Sprintf("%s %v", codec.TypeName(f.typ), f.value)
}

func mathFault(c uint32) *fault {
	return &fault{typ: MathError, value: c}
}

type impl func(args []abi.Value) (abi.Value, error)

type export struct {
	fn   Function
	impl impl
}

// guard turns impl into an abi.Func: arity is checked, declared errors
// become CallError and everything else, panics included, becomes CallPanic.
func (l *Library) guard(fn Function, body impl) abi.Func {
	arity := len(fn.Params)
	if fn.Queue {
		arity++
	}
	return func(in []abi.Value, status *abi.CallStatus) (ret abi.Value) {
		args := append([]abi.Value(nil), in...)
		defer func() {
			if r := recover(); r != nil {
				l.discardArgs(args)
				call.SetPanic(l.alloc, status, fmt.Sprint(r))
				ret = abi.Void
			}
		}()
		if len(args) != arity {
			l.discardArgs(args)
			call.SetPanic(l.alloc, status, fmt.Sprintf("%s: want %d arguments, got %d", fn.Symbol, arity, len(args)))
			return abi.Void
		}
		v, err := body(args)
		l.discardArgs(args)
		if err != nil {
			l.setFault(status, err)
			return abi.Void
		}
		return v
	}
}

func (l *Library) setFault(status *abi.CallStatus, err error) {
	if cerr, ok := err.(*callbackError); ok {
		status.Code = cerr.code
		status.ErrorBuf = cerr.buf
		return
	}
	f, ok := err.(*fault)
	if !ok {
		call.SetPanic(l.alloc, status, err.Error())
		return
	}
	buf, lerr := codec.LowerDynamic(l.alloc, f.typ, f.value)
	if lerr != nil {
		call.SetPanic(l.alloc, status, "lower declared error: "+lerr.Error())
		return
	}
	status.Code = abi.CallError
	status.ErrorBuf = buf
}

// discardArgs frees buffer arguments the call never consumed. Consumed
// buffers have been zeroed by liftArg.
func (l *Library) discardArgs(args []abi.Value) {
	for i := range args {
		if args[i].Kind == abi.KindBuffer {
			_ = l.alloc.Free(args[i].Buf)
			args[i] = abi.Void
		}
	}
}

// liftArg consumes buffer argument i.
func (l *Library) liftArg(args []abi.Value, i int, t wit.Type) (any, error) {
	v := args[i]
	args[i] = abi.Void
	return codec.LiftReturnDynamic(l.alloc, t, v)
}

func (l *Library) lowerResult(t wit.Type, v any) (abi.Value, error) {
	return codec.LowerArgDynamic(l.alloc, t, v)
}
