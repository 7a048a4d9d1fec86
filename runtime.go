package ffiruntime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/contract"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/object"
	"github.com/wippyai/ffi-runtime/wasmheap"
)

// Config holds configuration for runtime creation
type Config struct {
	// Logger is installed into every package. Nil keeps the current loggers.
	Logger *zap.Logger

	// Contract is what the bindings were built against. When nil and the
	// library embeds a manifest, the manifest is used, which only shows the
	// library is self-consistent and cannot catch a stale build.
	Contract *contract.Contract

	// SkipContractCheck disables the startup handshake.
	SkipContractCheck bool

	// BlockingWorkers sizes the default blocking task queue.
	// 0 means runtime.NumCPU().
	BlockingWorkers int

	// LoopQueueSize bounds the tasks pending on the event loop.
	// 0 means 4096.
	LoopQueueSize int
}

// Interface is a callback interface registered with the runtime.
type Interface interface {
	Name() string
	Register(lib abi.Library) error
	Close() int
}

// Leaks counts bindings that were still live when the runtime closed.
type Leaks struct {
	Tasks     int
	Callbacks map[string]int
}

// Total returns the number of leaked bindings.
func (l Leaks) Total() int {
	n := l.Tasks
	for _, c := range l.Callbacks {
		n += c
	}
	return n
}

// Runtime is the process-scoped state for one loaded library.
// Independent runtimes share nothing.
type Runtime struct {
	lib    abi.Library
	loop   *future.Loop
	bridge *future.Bridge

	mu      sync.Mutex
	classes map[string]*object.Class
	ifaces  []Interface
	closed  bool
	leaks   Leaks
}

// New verifies the library contract, then starts the event loop and the
// async bridge.
func New(ctx context.Context, lib abi.Library, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger != nil {
		installLogger(cfg.Logger)
	}

	if !cfg.SkipContractCheck {
		if err := handshake(lib, cfg.Contract); err != nil {
			Logger().Error("contract handshake failed",
				zap.String("library", lib.Name()),
				zap.Error(err))
			return nil, err
		}
	}

	fcfg := &future.Config{
		QueueSize:       cfg.LoopQueueSize,
		BlockingWorkers: cfg.BlockingWorkers,
	}
	loop := future.NewLoop(fcfg)
	rt := &Runtime{
		lib:     lib,
		loop:    loop,
		classes: make(map[string]*object.Class),
	}
	go func() {
		// fails only when Close won the race against the first run
		if err := loop.Run(context.WithoutCancel(ctx)); err != nil {
			Logger().Debug("event loop did not run", zap.Error(err))
		}
	}()
	rt.bridge = future.NewBridge(lib, loop, fcfg)

	Logger().Debug("runtime started",
		zap.String("library", lib.Name()),
		zap.Uint32("contract_version", lib.ContractVersion()))
	return rt, nil
}

func installLogger(l *zap.Logger) {
	SetLogger(l)
	call.SetLogger(l.Named("call"))
	object.SetLogger(l.Named("object"))
	callback.SetLogger(l.Named("callback"))
	future.SetLogger(l.Named("future"))
	wasmheap.SetLogger(l.Named("wasmheap"))
}

func handshake(lib abi.Library, want *contract.Contract) error {
	if want == nil {
		if _, ok := lib.(abi.MetadataLibrary); !ok {
			Logger().Warn("library has no manifest and no contract was given; skipping handshake",
				zap.String("library", lib.Name()))
			return nil
		}
		m, err := contract.ManifestOf(lib)
		if err != nil {
			return err
		}
		Logger().Warn("no contract given; checked the library against its own manifest only",
			zap.String("library", lib.Name()),
			zap.Uint32("manifest_version", m.Version))
		c := m.Contract()
		want = &c
	}
	return contract.Verify(lib, *want)
}

// Library returns the loaded library.
func (rt *Runtime) Library() abi.Library {
	return rt.lib
}

// Allocator returns the library's buffer allocator.
func (rt *Runtime) Allocator() abi.Allocator {
	return rt.lib.Allocator()
}

// Loop returns the event loop. It implements callback.Scheduler.
func (rt *Runtime) Loop() *future.Loop {
	return rt.loop
}

// Bridge returns the async bridge.
func (rt *Runtime) Bridge() *future.Bridge {
	return rt.bridge
}

// Queue returns the default blocking task queue handle for functions that
// take one.
func (rt *Runtime) Queue() uint64 {
	return rt.bridge.DefaultQueue()
}

func (rt *Runtime) checkOpen() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return errors.Closed(errors.PhaseRuntime, "runtime")
	}
	return nil
}

// Lookup resolves an exported symbol.
func (rt *Runtime) Lookup(symbol string) (abi.Func, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	return call.Lookup(rt.lib, symbol)
}

// Invoke calls symbol and returns its raw result. check interprets the call
// status; nil means the function has no declared error type.
func (rt *Runtime) Invoke(symbol string, check call.Checker, args ...abi.Value) (abi.Value, error) {
	fn, err := rt.Lookup(symbol)
	if err != nil {
		return abi.Value{}, err
	}
	return call.InvokeChecked(rt.Allocator(), check, fn, args...)
}

// Call invokes symbol and lifts its result with ret.
func Call[T any](rt *Runtime, symbol string, ret codec.Converter[T], check call.Checker, args ...abi.Value) (T, error) {
	v, err := rt.Invoke(symbol, check, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return codec.LiftReturn(rt.Allocator(), ret, v)
}

// CallAsync invokes an async symbol and starts driving the returned future.
func CallAsync[T any](rt *Runtime, symbol string, lift future.LiftFunc[T], check call.Checker, args ...abi.Value) (*future.Task[T], error) {
	fn, err := rt.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return future.Call(rt.bridge, fn, lift, check, args...)
}

// Class returns the object class name, resolving its entry points once.
func (rt *Runtime) Class(name string) (*object.Class, error) {
	if err := rt.checkOpen(); err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if c, ok := rt.classes[name]; ok {
		return c, nil
	}
	c, err := object.NewClass(rt.lib, name)
	if err != nil {
		return nil, err
	}
	rt.classes[name] = c
	return c, nil
}

// Register installs a callback interface in the library. The runtime
// closes it on Close.
func (rt *Runtime) Register(iface Interface) error {
	if err := rt.checkOpen(); err != nil {
		return err
	}
	if err := iface.Register(rt.lib); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.ifaces = append(rt.ifaces, iface)
	rt.mu.Unlock()
	return nil
}

// CallbackOptions returns options that run callback methods on the event
// loop.
func (rt *Runtime) CallbackOptions() *callback.Options {
	return &callback.Options{Scheduler: rt.loop}
}

// Close cancels pending tasks, closes registered callback interfaces and
// stops the event loop. Bindings still live are logged and reported by
// Leaks. Close is idempotent.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	ifaces := rt.ifaces
	rt.mu.Unlock()

	leaks := Leaks{Callbacks: make(map[string]int)}
	leaks.Tasks = rt.bridge.Close()
	for _, iface := range ifaces {
		if n := iface.Close(); n > 0 {
			leaks.Callbacks[iface.Name()] += n
		}
	}

	if leaks.Tasks > 0 {
		Logger().Warn("cancelled pending tasks at close", zap.Int("tasks", leaks.Tasks))
	}
	for name, n := range leaks.Callbacks {
		Logger().Warn("callback bindings still live at close",
			zap.String("interface", name),
			zap.Int("bindings", n))
	}

	rt.mu.Lock()
	rt.leaks = leaks
	rt.mu.Unlock()

	return rt.loop.Shutdown(ctx)
}

// Leaks returns what Close found still live.
func (rt *Runtime) Leaks() Leaks {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.leaks
}
