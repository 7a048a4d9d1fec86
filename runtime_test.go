package ffiruntime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/callback"
	"github.com/wippyai/ffi-runtime/codec"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/future"
	"github.com/wippyai/ffi-runtime/internal/simnative"
	"github.com/wippyai/ffi-runtime/object"
	"github.com/wippyai/ffi-runtime/wasmheap"
)

type mathError uint32

const (
	divisionByZero mathError = mathError(simnative.DivisionByZero)
	overflow       mathError = mathError(simnative.Overflow)
)

func (e mathError) Error() string {
	if e == divisionByZero {
		return "division by zero"
	}
	return "overflow"
}

var mathErrorConv = codec.CEnum[mathError]{
	Name:  "MathError",
	Cases: []mathError{divisionByZero, overflow},
}

var checkMath = call.Declared[mathError](mathErrorConv)

type operands struct {
	A, B int64
}

var operandsConv = codec.Record[operands]{
	Name: "Operands",
	Fields: []codec.Field[operands]{
		codec.FieldOf("a", codec.Int64, func(p *operands) *int64 { return &p.A }),
		codec.FieldOf("b", codec.Int64, func(p *operands) *int64 { return &p.B }),
	},
}

// BinaryOp is the Go side of the binary-op callback interface.
type BinaryOp interface {
	Apply(ctx context.Context, a, b int64) (int64, error)
}

type opFunc func(ctx context.Context, a, b int64) (int64, error)

func (f opFunc) Apply(ctx context.Context, a, b int64) (int64, error) { return f(ctx, a, b) }

func newBinaryOp(rt *Runtime) *callback.Interface[BinaryOp] {
	opts := rt.CallbackOptions()
	opts.Errors = callback.DeclaredError[mathError](mathErrorConv)
	return callback.New(simnative.CallbackInterface, rt.Allocator(), []callback.Method[BinaryOp]{
		callback.Func("apply", operandsConv, codec.Int64, func(ctx context.Context, impl BinaryOp, p operands) (int64, error) {
			return impl.Apply(ctx, p.A, p.B)
		}),
	}, opts)
}

var multiply = opFunc(func(_ context.Context, a, b int64) (int64, error) { return a * b, nil })

var safeDiv = opFunc(func(_ context.Context, a, b int64) (int64, error) {
	if b == 0 {
		return 0, divisionByZero
	}
	return a / b, nil
})

// Calculator wraps the native calculator object.
type Calculator struct {
	p  *object.Proxy
	rt *Runtime
}

func (c *Calculator) Proxy() *object.Proxy { return c.p }

func (c *Calculator) Push(v float64) error {
	fn, err := c.rt.Lookup(simnative.CalculatorPush)
	if err != nil {
		return err
	}
	_, err = c.p.Call(fn, object.BorrowHandle, nil, abi.Float64(v))
	return err
}

func (c *Calculator) Total() (float64, error) {
	fn, err := c.rt.Lookup(simnative.CalculatorTotal)
	if err != nil {
		return 0, err
	}
	v, err := c.p.Call(fn, object.BorrowHandle, nil)
	if err != nil {
		return 0, err
	}
	return codec.Float64.LiftValue(v)
}

func newCalculator(t *testing.T, rt *Runtime) *Calculator {
	t.Helper()
	class, err := rt.Class(simnative.CalculatorClass)
	if err != nil {
		t.Fatal(err)
	}
	ctor, err := rt.Lookup(simnative.CalculatorNew)
	if err != nil {
		t.Fatal(err)
	}
	p, err := object.New(class, ctor)
	if err != nil {
		t.Fatal(err)
	}
	return &Calculator{p: p, rt: rt}
}

func newRuntime(t *testing.T, lib abi.Library, cfg *Config) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), lib, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Close(ctx)
	})
	return rt
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func liveBuffers(lib *simnative.Library) int {
	if h, ok := lib.Allocator().(*buffer.HeapAllocator); ok {
		return h.Live()
	}
	return 0
}

func TestSyncCalls(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, nil)

	tests := []struct {
		name    string
		symbol  string
		a, b    int64
		want    int64
		wantErr error
	}{
		{name: "add", symbol: simnative.Symbol("add"), a: 2, b: 40, want: 42},
		{name: "add overflow", symbol: simnative.Symbol("add"), a: 1 << 62, b: 1 << 62, wantErr: overflow},
		{name: "div", symbol: simnative.Symbol("div"), a: 9, b: 2, want: 4},
		{name: "div by zero", symbol: simnative.Symbol("div"), a: 1, b: 0, wantErr: divisionByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Call(rt, tt.symbol, codec.Int64, checkMath, abi.Int64(tt.a), abi.Int64(tt.b))
			if tt.wantErr != nil {
				var me mathError
				if !errors.As(err, &me) || me != tt.wantErr {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if ffierrors.IsInternal(err) {
					t.Errorf("declared error reported as internal")
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("= %d, %v; want %d", got, err, tt.want)
			}
		})
	}

	name, err := codec.LowerArg(rt.Allocator(), codec.String, "runtime")
	if err != nil {
		t.Fatal(err)
	}
	greeting, err := Call(rt, simnative.Symbol("greet"), codec.String, nil, name)
	if err != nil || greeting != "Hello, runtime!" {
		t.Errorf("greet = %q, %v", greeting, err)
	}

	if n := liveBuffers(lib); n != 0 {
		t.Errorf("%d buffers leaked", n)
	}
}

func TestPanicIsInternal(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, nil)

	msg, _ := codec.LowerArg(rt.Allocator(), codec.String, "kaboom")
	_, err := rt.Invoke(simnative.Symbol("crash"), nil, msg)
	if !ffierrors.IsInternal(err) {
		t.Fatalf("err = %v, want internal", err)
	}
	if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindPanic}) {
		t.Errorf("err = %v, want call panic", err)
	}

	_, err = rt.Lookup("ffi_calc_fn_missing")
	if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseCall, Kind: ffierrors.KindNotFound}) {
		t.Errorf("missing symbol = %v", err)
	}
	if n := liveBuffers(lib); n != 0 {
		t.Errorf("%d buffers leaked", n)
	}
}

func TestContractMismatchIsFatal(t *testing.T) {
	good := simnative.New()
	tests := []struct {
		name string
		lib  *simnative.Library
		cfg  *Config
	}{
		{
			name: "version from manifest",
			lib:  simnative.New(simnative.WithVersion(7)),
		},
		{
			name: "checksum against bindings",
			lib:  simnative.New(simnative.WithChecksum(simnative.Symbol("add"), 1)),
			cfg:  &Config{Contract: ptr(good.Contract())},
		},
		{
			name: "missing symbol",
			lib:  simnative.New(simnative.WithoutSymbol(simnative.Symbol("greet"))),
			cfg:  &Config{Contract: ptr(good.Contract())},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := New(context.Background(), tt.lib, tt.cfg)
			if err == nil {
				_ = rt.Close(context.Background())
				t.Fatal("New succeeded against a mismatched library")
			}
			var me *ffierrors.MismatchError
			if !errors.As(err, &me) {
				t.Errorf("err = %v, want *MismatchError", err)
			}
		})
	}

	rt, err := New(context.Background(), simnative.New(simnative.WithVersion(7)), &Config{SkipContractCheck: true})
	if err != nil {
		t.Fatalf("skipped handshake: %v", err)
	}
	_ = rt.Close(context.Background())
}

func ptr[T any](v T) *T { return &v }

func TestCallbacks(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, nil)
	ops := newBinaryOp(rt)
	if err := rt.Register(ops); err != nil {
		t.Fatal(err)
	}

	lower := func(op BinaryOp) abi.Value {
		v, err := ops.LowerValue(op)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}

	got, err := Call(rt, simnative.Symbol("apply"), codec.Int64, checkMath, lower(multiply), abi.Int64(6), abi.Int64(7))
	if err != nil || got != 42 {
		t.Errorf("apply(multiply) = %d, %v", got, err)
	}

	_, err = Call(rt, simnative.Symbol("apply"), codec.Int64, checkMath, lower(safeDiv), abi.Int64(1), abi.Int64(0))
	var me mathError
	if !errors.As(err, &me) || me != divisionByZero {
		t.Errorf("apply(safeDiv, 1, 0) = %v", err)
	}

	task, err := CallAsync(rt, simnative.Symbol("apply_async"), future.Returning(rt.Allocator(), codec.Int64), checkMath,
		lower(multiply), abi.Int64(3), abi.Int64(5))
	if err != nil {
		t.Fatal(err)
	}
	if got, err := task.Await(awaitCtx(t)); err != nil || got != 15 {
		t.Errorf("apply_async(multiply) = %d, %v", got, err)
	}

	task, err = CallAsync(rt, simnative.Symbol("apply_async"), future.Returning(rt.Allocator(), codec.Int64), checkMath,
		lower(safeDiv), abi.Int64(3), abi.Int64(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := task.Await(awaitCtx(t)); !errors.As(err, &me) || me != divisionByZero {
		t.Errorf("apply_async(safeDiv, 3, 0) = %v", err)
	}

	eventually(t, "callback bindings to be released", func() bool {
		return ops.Registry().Len() == 0 && ops.Pending() == 0
	})
	eventually(t, "native futures to be freed", func() bool {
		return lib.Stats().Futures == 0
	})
}

func TestCallbacksRunOnLoop(t *testing.T) {
	rt := newRuntime(t, simnative.New(), nil)
	ops := newBinaryOp(rt)
	if err := rt.Register(ops); err != nil {
		t.Fatal(err)
	}
	var onLoop bool
	probe := opFunc(func(_ context.Context, a, b int64) (int64, error) {
		onLoop = rt.Loop().InLoop()
		return a - b, nil
	})
	op, _ := ops.LowerValue(probe)
	got, err := Call(rt, simnative.Symbol("apply"), codec.Int64, checkMath, op, abi.Int64(5), abi.Int64(3))
	if err != nil || got != 2 {
		t.Fatalf("apply = %d, %v", got, err)
	}
	if !onLoop {
		t.Error("callback did not run on the event loop")
	}
}

func TestObjects(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, nil)

	calc := newCalculator(t, rt)
	for _, v := range []float64{1.25, 2.5, 4} {
		if err := calc.Push(v); err != nil {
			t.Fatal(err)
		}
	}
	total, err := calc.Total()
	if err != nil || total != 7.75 {
		t.Errorf("total = %v, %v", total, err)
	}

	class, _ := rt.Class(simnative.CalculatorClass)
	conv := object.Converter[*Calculator]{
		Class: class,
		Wrap:  func(p *object.Proxy) *Calculator { return &Calculator{p: p, rt: rt} },
	}
	v, err := conv.LowerValue(calc)
	if err != nil {
		t.Fatal(err)
	}
	alias, err := conv.LiftValue(v)
	if err != nil {
		t.Fatal(err)
	}
	if lib.Stats().Calculators != 2 {
		t.Errorf("native references = %d, want 2", lib.Stats().Calculators)
	}

	calc.p.Destroy()
	if _, err := calc.Total(); !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseObject, Kind: ffierrors.KindDestroyed}) {
		t.Errorf("use after destroy = %v", err)
	}
	if total, err := alias.Total(); err != nil || total != 7.75 {
		t.Errorf("alias total = %v, %v", total, err)
	}
	alias.p.Destroy()
	if lib.Stats().Calculators != 0 {
		t.Errorf("native references = %d after destroy", lib.Stats().Calculators)
	}

	again, err := rt.Class(simnative.CalculatorClass)
	if err != nil || again != class {
		t.Errorf("Class is not cached: %p %p %v", again, class, err)
	}
}

func TestAsync(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, &Config{BlockingWorkers: 2})
	ints := future.Returning(rt.Allocator(), codec.Int64)

	task, err := CallAsync(rt, simnative.Symbol("sleep_add"), ints, nil, abi.Int64(20), abi.Int64(22), abi.Scalar(5))
	if err != nil {
		t.Fatal(err)
	}
	if got, err := task.Await(awaitCtx(t)); err != nil || got != 42 {
		t.Errorf("sleep_add = %d, %v", got, err)
	}

	task, err = CallAsync(rt, simnative.Symbol("div_async"), ints, checkMath, abi.Int64(1), abi.Int64(0))
	if err != nil {
		t.Fatal(err)
	}
	var me mathError
	if _, err := task.Await(awaitCtx(t)); !errors.As(err, &me) || me != divisionByZero {
		t.Errorf("div_async(1, 0) = %v", err)
	}

	data, err := codec.LowerArg(rt.Allocator(), codec.Bytes, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	hashTask, err := CallAsync(rt, simnative.Symbol("hash"), future.Returning(rt.Allocator(), codec.Uint64), nil,
		abi.Scalar(rt.Queue()), data)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := hashTask.Await(awaitCtx(t))
	if err != nil || sum == 0 {
		t.Errorf("hash = %#x, %v", sum, err)
	}

	eventually(t, "native futures to be freed", func() bool {
		s := lib.Stats()
		return s.Futures == 0 && s.FuturesFreed == 3
	})
	if n := liveBuffers(lib); n != 0 {
		t.Errorf("%d buffers leaked", n)
	}
}

func TestAsyncCancel(t *testing.T) {
	lib := simnative.New()
	rt := newRuntime(t, lib, nil)

	task, err := CallAsync(rt, simnative.Symbol("sleep_add"), future.Returning(rt.Allocator(), codec.Int64), nil,
		abi.Int64(1), abi.Int64(2), abi.Scalar(60_000))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := task.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("await = %v, want deadline", err)
	}
	if task.Cancel() {
		t.Error("second Cancel reported success")
	}
	eventually(t, "native future to be cancelled and freed", func() bool {
		s := lib.Stats()
		return s.FuturesCancelled == 1 && s.FuturesFreed == 1 && s.Futures == 0
	})
}

func TestHandshakeSourceIsLogged(t *testing.T) {
	const selfCheck = "no contract given; checked the library against its own manifest only"
	tests := []struct {
		name     string
		contract bool
		warns    int
	}{
		{name: "manifest only", warns: 1},
		{name: "compiled-in contract", contract: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			t.Cleanup(func() { installLogger(zap.NewNop()) })
			lib := simnative.New()
			cfg := &Config{Logger: zap.New(core)}
			if tt.contract {
				cfg.Contract = ptr(lib.Contract())
			}
			newRuntime(t, lib, cfg)
			if n := logs.FilterMessage(selfCheck).Len(); n != tt.warns {
				t.Errorf("self-check warnings = %d, want %d: %v", n, tt.warns, logs.All())
			}
		})
	}
}

func TestCloseReportsLeaks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	lib := simnative.New()
	rt, err := New(context.Background(), lib, &Config{Logger: zap.New(core)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { installLogger(zap.NewNop()) })

	ops := newBinaryOp(rt)
	if err := rt.Register(ops); err != nil {
		t.Fatal(err)
	}
	if _, err := ops.LowerValue(multiply); err != nil {
		t.Fatal(err)
	}
	if _, err := CallAsync(rt, simnative.Symbol("sleep_add"), future.Returning(rt.Allocator(), codec.Int64), nil,
		abi.Int64(1), abi.Int64(2), abi.Scalar(60_000)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	leaks := rt.Leaks()
	if leaks.Tasks != 1 || leaks.Callbacks[simnative.CallbackInterface] != 1 || leaks.Total() != 2 {
		t.Errorf("leaks = %+v", leaks)
	}
	if logs.FilterMessage("callback bindings still live at close").Len() != 1 {
		t.Errorf("leaked bindings were not logged: %v", logs.All())
	}
	if err := rt.Close(ctx); err != nil {
		t.Errorf("second Close = %v", err)
	}

	_, err = rt.Invoke(simnative.Symbol("add"), nil, abi.Int64(1), abi.Int64(2))
	if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseRuntime, Kind: ffierrors.KindClosed}) {
		t.Errorf("call after close = %v", err)
	}
	eventually(t, "cancelled native future to be freed", func() bool {
		return lib.Stats().Futures == 0
	})
}

func TestWasmHeapAllocator(t *testing.T) {
	ctx := context.Background()
	heap, err := wasmheap.NewBump(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = heap.Close(ctx) }()

	lib := simnative.New(simnative.WithAllocator(heap))
	rt := newRuntime(t, lib, nil)

	stats, ok := lib.Function(simnative.Symbol("stats"))
	if !ok {
		t.Fatal("stats not in catalog")
	}
	values, err := codec.LowerArgDynamic(rt.Allocator(), stats.Params[0].Type, []any{2.0, 4.0})
	if err != nil {
		t.Fatal(err)
	}
	summary, err := rt.Invoke(simnative.Symbol("stats"), checkMath, values)
	if err != nil {
		t.Fatal(err)
	}
	got, err := codec.LiftReturnDynamic(rt.Allocator(), simnative.Summary, summary)
	if err != nil {
		t.Fatal(err)
	}
	if m := got.(map[string]any); m["mean"] != 3.0 {
		t.Errorf("summary = %v", m)
	}

	name, _ := codec.LowerArg(rt.Allocator(), codec.String, "wasm")
	greeting, err := Call(rt, simnative.Symbol("greet"), codec.String, nil, name)
	if err != nil || greeting != "Hello, wasm!" {
		t.Errorf("greet = %q, %v", greeting, err)
	}
	if n := heap.Live(); n != 0 {
		t.Errorf("%d wasm buffers leaked", n)
	}
}

func TestIsolatedRuntimes(t *testing.T) {
	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lib := simnative.New()
			rt, err := New(context.Background(), lib, nil)
			if err != nil {
				errs <- err
				return
			}
			defer func() { _ = rt.Close(context.Background()) }()

			ops := newBinaryOp(rt)
			if err := rt.Register(ops); err != nil {
				errs <- err
				return
			}
			op, _ := ops.LowerValue(multiply)
			got, err := Call(rt, simnative.Symbol("apply"), codec.Int64, checkMath, op, abi.Int64(int64(i)), abi.Int64(10))
			if err != nil {
				errs <- err
				return
			}
			if got != int64(i)*10 {
				errs <- errors.New("wrong product")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
