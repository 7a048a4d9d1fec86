package simnative

import (
	"errors"
	"testing"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/contract"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
)

func invoke(t *testing.T, lib *Library, symbol string, args ...abi.Value) (abi.Value, abi.CallStatus) {
	t.Helper()
	fn, ok := lib.Lookup(symbol)
	if !ok {
		t.Fatalf("symbol %s not exported", symbol)
	}
	var status abi.CallStatus
	return fn(args, &status), status
}

func TestArithmetic(t *testing.T) {
	lib := New()
	tests := []struct {
		symbol string
		a, b   int64
		want   int64
		fault  uint32
		fails  bool
	}{
		{symbol: Symbol("add"), a: 2, b: 40, want: 42},
		{symbol: Symbol("add"), a: 1 << 62, b: 1 << 62, fails: true, fault: Overflow},
		{symbol: Symbol("div"), a: 7, b: -2, want: -3},
		{symbol: Symbol("div"), a: 1, b: 0, fails: true, fault: DivisionByZero},
	}
	for _, tt := range tests {
		ret, status := invoke(t, lib, tt.symbol, abi.Int64(tt.a), abi.Int64(tt.b))
		if !tt.fails {
			if status.Code != abi.CallSuccess || ret.Int64() != tt.want {
				t.Errorf("%s(%d, %d) = %d (%v)", tt.symbol, tt.a, tt.b, ret.Int64(), status.Code)
			}
			continue
		}
		if status.Code != abi.CallError {
			t.Fatalf("%s(%d, %d) status = %v", tt.symbol, tt.a, tt.b, status.Code)
		}
		got, err := codec.LiftDynamic(lib.Allocator(), MathError, status.ErrorBuf)
		if err != nil || got != tt.fault {
			t.Errorf("error = %v, %v; want case %d", got, err, tt.fault)
		}
	}
}

func TestBufferFunctions(t *testing.T) {
	lib := New()
	alloc := lib.Allocator()

	name, _ := codec.LowerArg(alloc, codec.String, "Go")
	ret, status := invoke(t, lib, Symbol("greet"), name)
	if status.Code != abi.CallSuccess {
		t.Fatalf("greet status = %v", status.Code)
	}
	if s, err := codec.LiftReturn(alloc, codec.String, ret); err != nil || s != "Hello, Go!" {
		t.Errorf("greet = %q, %v", s, err)
	}

	values, _ := codec.LowerArgDynamic(alloc, floatList, []any{1.0, 5.0, 3.0})
	ret, status = invoke(t, lib, Symbol("stats"), values)
	if status.Code != abi.CallSuccess {
		t.Fatalf("stats status = %v", status.Code)
	}
	got, err := codec.LiftReturnDynamic(alloc, Summary, ret)
	if err != nil {
		t.Fatal(err)
	}
	summary := got.(map[string]any)
	if summary["count"] != uint32(3) || summary["mean"] != 3.0 || summary["min"] != 1.0 || summary["max"] != 5.0 {
		t.Errorf("summary = %v", summary)
	}

	if live := alloc.(*buffer.HeapAllocator).Live(); live != 0 {
		t.Errorf("%d buffers leaked", live)
	}
}

func TestPanicAndArity(t *testing.T) {
	lib := New()
	alloc := lib.Allocator()

	msg, _ := codec.LowerArg(alloc, codec.String, "boom")
	_, status := invoke(t, lib, Symbol("crash"), msg)
	if status.Code != abi.CallPanic {
		t.Fatalf("crash status = %v", status.Code)
	}
	if got := call.PanicMessage(alloc, &status); got != "boom" {
		t.Errorf("panic message = %q", got)
	}

	extra, _ := codec.LowerArg(alloc, codec.String, "unused")
	_, status = invoke(t, lib, Symbol("add"), abi.Int64(1), extra)
	if err := call.Check(alloc, &status); err != nil {
		t.Errorf("add(1, buffer) should still run: %v", err)
	}
	_, status = invoke(t, lib, Symbol("add"), abi.Int64(1))
	if err := call.Check(alloc, &status); !ffierrors.IsInternal(err) {
		t.Errorf("wrong arity = %v", err)
	}
	if live := alloc.(*buffer.HeapAllocator).Live(); live != 0 {
		t.Errorf("%d buffers leaked", live)
	}
}

func TestCalculatorHandles(t *testing.T) {
	lib := New()
	h, status := invoke(t, lib, CalculatorNew)
	if status.Code != abi.CallSuccess || h.Bits == 0 {
		t.Fatalf("new = %v, %v", h, status.Code)
	}
	invoke(t, lib, CalculatorPush, h, abi.Float64(1.5))
	invoke(t, lib, CalculatorPush, h, abi.Float64(2))

	clone, _ := invoke(t, lib, "ffi_calc_clone_calculator", h)
	total, _ := invoke(t, lib, CalculatorTotal, clone)
	if total.Float64() != 3.5 {
		t.Errorf("total = %v", total.Float64())
	}
	if lib.Stats().Calculators != 2 {
		t.Errorf("handles = %d", lib.Stats().Calculators)
	}

	invoke(t, lib, "ffi_calc_free_calculator", h)
	invoke(t, lib, "ffi_calc_free_calculator", clone)
	_, status = invoke(t, lib, CalculatorTotal, h)
	if status.Code != abi.CallPanic {
		t.Errorf("use after free status = %v", status.Code)
	}
	_ = call.Check(lib.Allocator(), &status)
	if lib.Stats().Calculators != 0 {
		t.Errorf("handles = %d", lib.Stats().Calculators)
	}
}

func TestContract(t *testing.T) {
	lib := New()
	if err := contract.Verify(lib, lib.Contract()); err != nil {
		t.Fatalf("Verify = %v", err)
	}

	m, err := contract.ManifestOf(lib)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Symbols) != len(lib.Functions()) {
		t.Errorf("manifest has %d symbols, catalog %d", len(m.Symbols), len(lib.Functions()))
	}
	if s, ok := m.Lookup(Symbol("hash")); !ok || s.Signature != "async fn ffi_calc_fn_hash(queue: blocking-task-queue, data: list<u8>) -> u64" {
		t.Errorf("hash symbol = %+v", s)
	}

	stale := New(WithVersion(2), WithChecksum(Symbol("add"), 0), WithoutSymbol(Symbol("div")))
	err = contract.Verify(stale, lib.Contract())
	var me *ffierrors.MismatchError
	if !errors.As(err, &me) {
		t.Fatalf("stale library = %v", err)
	}
	if me.GotVersion != 2 || len(me.Symbols) != 2 {
		t.Errorf("mismatch = %+v", me)
	}
}

func TestFutureProtocol(t *testing.T) {
	lib := New()
	alloc := lib.Allocator()
	futures := lib.Futures()

	fut, status := invoke(t, lib, Symbol("div_async"), abi.Int64(9), abi.Int64(3))
	if status.Code != abi.CallSuccess {
		t.Fatalf("div_async status = %v", status.Code)
	}

	var codes []abi.PollCode
	cont := func(_ uint64, code abi.PollCode, _ uint64) { codes = append(codes, code) }
	futures.Poll(fut.Bits, cont, 1, 0)
	futures.Poll(fut.Bits, cont, 2, 0)
	if len(codes) != 2 || codes[0] != abi.PollMaybeReady || codes[1] != abi.PollReady {
		t.Fatalf("poll codes = %v", codes)
	}

	var st abi.CallStatus
	ret := futures.Complete(fut.Bits, &st)
	if st.Code != abi.CallSuccess || ret.Int64() != 3 {
		t.Errorf("complete = %d, %v", ret.Int64(), st.Code)
	}
	ret = futures.Complete(fut.Bits, &st)
	if err := call.Check(alloc, &st); !ffierrors.IsInternal(err) {
		t.Errorf("second complete = %v, %v", ret, err)
	}
	futures.Free(fut.Bits)

	if s := lib.Stats(); s.Futures != 0 || s.FuturesFreed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestFutureCancelWakesParkedPoll(t *testing.T) {
	lib := New()
	futures := lib.Futures()
	fut, _ := invoke(t, lib, Symbol("sleep_add"), abi.Int64(1), abi.Int64(2), abi.Scalar(60_000))

	woke := make(chan abi.PollCode, 1)
	futures.Poll(fut.Bits, func(_ uint64, code abi.PollCode, _ uint64) { woke <- code }, 7, 0)
	select {
	case <-woke:
		t.Fatal("sleeping future woke early")
	default:
	}

	futures.Cancel(fut.Bits)
	if code := <-woke; code != abi.PollReady {
		t.Errorf("cancel woke with %v", code)
	}
	var st abi.CallStatus
	futures.Complete(fut.Bits, &st)
	if st.Code != abi.CallPanic {
		t.Errorf("complete after cancel = %v", st.Code)
	}
	_ = call.Check(lib.Allocator(), &st)
	futures.Free(fut.Bits)

	if s := lib.Stats(); s.FuturesCancelled != 1 || s.FuturesFreed != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHashNeedsQueueVTable(t *testing.T) {
	lib := New()
	data, _ := codec.LowerArgDynamic(lib.Allocator(), byteList, []byte("abc"))
	_, status := invoke(t, lib, Symbol("hash"), abi.Scalar(1), data)
	if err := call.Check(lib.Allocator(), &status); !ffierrors.IsInternal(err) {
		t.Errorf("hash without queues = %v", err)
	}
}

func TestSignature(t *testing.T) {
	fn := Function{
		Symbol: "f",
		Params: []Param{{Name: "x", Type: wit.U32{}}},
		Result: Summary,
		Error:  MathError,
	}
	if got := fn.Signature(); got != "fn f(x: u32) -> summary throws math-error" {
		t.Errorf("Signature = %q", got)
	}
}
