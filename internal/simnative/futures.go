package simnative

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/buffer"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/handle"
)

// nativeFuture is a poll-based future. Exactly one continuation is owed per
// poll; a parked continuation is called when the future resolves or is
// cancelled.
type nativeFuture struct {
	lib *Library

	mu        sync.Mutex
	done      bool
	completed bool
	cancelled bool
	value     abi.Value
	status    abi.CallStatus

	parked     abi.ContinuationFunc
	parkedData uint64

	// yields is the number of polls answered with PollMaybeReady first.
	yields int

	// queue and work are set for futures that run on a blocking task queue.
	queue uint64
	work  func() (abi.Value, error)

	cleanup []func()
}

func (l *Library) startFuture(f *nativeFuture) (abi.Value, error) {
	f.lib = l
	h, err := l.futures.Insert(f)
	if err != nil {
		f.Drop()
		return abi.Void, err
	}
	return abi.Scalar(uint64(h)), nil
}

// resolve records the outcome once and wakes a parked poll.
func (f *nativeFuture) resolve(v abi.Value, err error) {
	var status abi.CallStatus
	if err != nil {
		f.lib.setFault(&status, err)
		v = abi.Void
	}
	f.settle(v, status)
}

func (f *nativeFuture) settle(v abi.Value, status abi.CallStatus) {
	f.mu.Lock()
	if f.done || f.cancelled {
		f.mu.Unlock()
		f.lib.discardValue(v)
		_ = f.lib.alloc.Free(status.ErrorBuf)
		return
	}
	f.done = true
	f.value = v
	f.status = status
	wake, data := f.parked, f.parkedData
	f.parked = nil
	f.mu.Unlock()

	if wake != nil {
		wake(data, abi.PollReady, 0)
	}
}

func (f *nativeFuture) poll(cont abi.ContinuationFunc, data, queue uint64) {
	f.mu.Lock()
	switch {
	case f.yields > 0 && !f.cancelled:
		f.yields--
		f.mu.Unlock()
		cont(data, abi.PollMaybeReady, 0)
	case f.done || f.cancelled:
		f.mu.Unlock()
		cont(data, abi.PollReady, 0)
	case f.work != nil && queue != f.queue:
		f.mu.Unlock()
		cont(data, abi.PollMaybeReady, f.queue)
	case f.work != nil:
		work := f.work
		f.work = nil
		f.mu.Unlock()
		f.resolve(work())
		cont(data, abi.PollReady, 0)
	default:
		f.parked, f.parkedData = cont, data
		f.mu.Unlock()
	}
}

func (f *nativeFuture) complete(status *abi.CallStatus) abi.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.cancelled:
		call.SetPanic(f.lib.alloc, status, "future was cancelled")
		return abi.Void
	case !f.done:
		call.SetPanic(f.lib.alloc, status, "future is not ready")
		return abi.Void
	case f.completed:
		call.SetPanic(f.lib.alloc, status, "future already completed")
		return abi.Void
	}
	f.completed = true
	*status = f.status
	v := f.value
	f.status, f.value = abi.CallStatus{}, abi.Void
	return v
}

func (f *nativeFuture) cancel() {
	f.mu.Lock()
	if f.cancelled || f.done {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	wake, data := f.parked, f.parkedData
	f.parked = nil
	f.mu.Unlock()

	f.lib.cancelled.Add(1)
	if wake != nil {
		wake(data, abi.PollReady, 0)
	}
}

// Drop implements handle.Dropper. It runs when the last handle is freed.
func (f *nativeFuture) Drop() {
	f.mu.Lock()
	v, status := f.value, f.status
	f.value, f.status = abi.Void, abi.CallStatus{}
	// late resolutions are discarded
	f.done = true
	cleanup := f.cleanup
	f.cleanup = nil
	f.mu.Unlock()

	if f.lib != nil {
		f.lib.discardValue(v)
		_ = f.lib.alloc.Free(status.ErrorBuf)
	}
	for _, fn := range cleanup {
		fn()
	}
}

func (l *Library) discardValue(v abi.Value) {
	if v.Kind == abi.KindBuffer {
		_ = l.alloc.Free(v.Buf)
	}
}

func (l *Library) future(fut uint64) (*nativeFuture, error) {
	return l.futures.Get(handle.Handle(fut))
}

func (l *Library) pollFuture(fut uint64, cont abi.ContinuationFunc, data, queue uint64) {
	f, err := l.future(fut)
	if err != nil {
		// Complete reports the problem
		cont(data, abi.PollReady, 0)
		return
	}
	f.poll(cont, data, queue)
}

func (l *Library) completeFuture(fut uint64, status *abi.CallStatus) abi.Value {
	f, err := l.future(fut)
	if err != nil {
		call.SetPanic(l.alloc, status, err.Error())
		return abi.Void
	}
	return f.complete(status)
}

func (l *Library) cancelFuture(fut uint64) {
	if f, err := l.future(fut); err == nil {
		f.cancel()
	}
}

func (l *Library) freeFuture(fut uint64) {
	if _, err := l.futures.Remove(handle.Handle(fut)); err == nil {
		l.freed.Add(1)
	}
}

func (l *Library) sleepAdd(args []abi.Value) (abi.Value, error) {
	a, b := args[0].Int64(), args[1].Int64()
	d := time.Duration(uint32(args[2].Bits)) * time.Millisecond

	f := &nativeFuture{}
	timer := time.AfterFunc(d, func() {
		v, err := addChecked(a, b)
		f.resolve(abi.Int64(v), err)
	})
	f.cleanup = append(f.cleanup, func() { timer.Stop() })
	return l.startFuture(f)
}

func (l *Library) divAsync(args []abi.Value) (abi.Value, error) {
	v, err := divChecked(args[0].Int64(), args[1].Int64())
	f := &nativeFuture{yields: 1}
	h, serr := l.startFuture(f)
	if serr != nil {
		return abi.Void, serr
	}
	f.resolve(abi.Int64(v), err)
	return h, nil
}

func (l *Library) hash(args []abi.Value) (abi.Value, error) {
	qvt, ok := l.queues()
	if !ok {
		return abi.Void, fmt.Errorf("no blocking task queue vtable installed")
	}
	if args[0].Bits == 0 {
		return abi.Void, fmt.Errorf("null blocking task queue")
	}
	raw, err := l.liftArg(args, 1, byteList)
	if err != nil {
		return abi.Void, err
	}
	items := raw.([]any)
	data := make([]byte, len(items))
	for i, v := range items {
		data[i] = v.(uint8)
	}

	queue := qvt.Clone(args[0].Bits)
	if queue == 0 {
		return abi.Void, fmt.Errorf("clone blocking task queue %#x", args[0].Bits)
	}
	f := &nativeFuture{
		queue: queue,
		work: func() (abi.Value, error) {
			return abi.Scalar(xxhash.Sum64(data)), nil
		},
	}
	f.cleanup = append(f.cleanup, func() { qvt.Free(queue) })
	return l.startFuture(f)
}

// apply calls method 1 of the binary-op interface and releases op.
func (l *Library) apply(args []abi.Value) (abi.Value, error) {
	vt, ok := l.vtable()
	if !ok {
		return abi.Void, fmt.Errorf("%s callback interface is not initialized", CallbackInterface)
	}
	op := args[0].Bits
	defer l.releaseCallback(vt, op)

	in, err := l.pairBuffer(args[1].Int64(), args[2].Int64())
	if err != nil {
		return abi.Void, err
	}
	var out abi.Buffer
	code := vt.Dispatch(op, 1, in, &out)
	return l.callbackResult(code, out)
}

func (l *Library) pairBuffer(a, b int64) (abi.Buffer, error) {
	w := buffer.NewWriter(l.alloc)
	_ = w.WriteI64(a)
	if err := w.WriteI64(b); err != nil {
		w.Abort()
		return abi.Buffer{}, err
	}
	return w.Finish()
}

// callbackError carries a callback failure whose buffer is reused as the
// status buffer of the native call.
type callbackError struct {
	code abi.CallCode
	buf  abi.Buffer
}

func (e *callbackError) Error() string {
	return fmt.Sprintf("callback failed with %s", e.code)
}

func (l *Library) callbackResult(code int32, out abi.Buffer) (abi.Value, error) {
	switch code {
	case abi.CallbackSuccess:
		v, err := codec.Lift(l.alloc, codec.Int64, out)
		return abi.Int64(v), err
	case abi.CallbackError:
		return abi.Void, &callbackError{code: abi.CallError, buf: out}
	default:
		return abi.Void, &callbackError{code: abi.CallPanic, buf: out}
	}
}

func (l *Library) releaseCallback(vt abi.CallbackVTable, op uint64) {
	var out abi.Buffer
	if vt.Dispatch(op, 0, abi.Buffer{}, &out) != abi.CallbackSuccess {
		_ = l.alloc.Free(out)
	}
}

func (l *Library) applyAsync(args []abi.Value) (abi.Value, error) {
	vt, ok := l.vtable()
	if !ok || vt.DispatchAsync == nil {
		return abi.Void, fmt.Errorf("%s callback interface has no async dispatch", CallbackInterface)
	}
	op := args[0].Bits
	in, err := l.pairBuffer(args[1].Int64(), args[2].Int64())
	if err != nil {
		l.releaseCallback(vt, op)
		return abi.Void, err
	}

	f := &nativeFuture{}
	h, err := l.startFuture(f)
	if err != nil {
		_ = l.alloc.Free(in)
		l.releaseCallback(vt, op)
		return abi.Void, err
	}

	var (
		once sync.Once
		ff   abi.ForeignFuture
		mu   sync.Mutex
	)
	freeForeign := func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			if ff.Free != nil {
				ff.Free(ff.Handle)
			}
			l.releaseCallback(vt, op)
		})
	}
	f.cleanup = append(f.cleanup, freeForeign)

	complete := func(_ uint64, res abi.ForeignFutureResult) {
		if res.Status.Code == abi.CallSuccess {
			f.resolve(l.callbackResult(abi.CallbackSuccess, res.Return))
		} else {
			_ = l.alloc.Free(res.Return)
			f.settle(abi.Void, res.Status)
		}
		freeForeign()
	}

	mu.Lock()
	ff = vt.DispatchAsync(op, 1, in, complete, h.Bits)
	mu.Unlock()
	return h, nil
}
