package future

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/call"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// State is the lifecycle state of a Task.
type State int32

const (
	StateCreated State = iota
	StatePolling
	StateReady
	StateFailed
	StateCancelled
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateFreed:
		return "freed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// settled reports whether the task has an outcome.
func (s State) settled() bool {
	return s >= StateReady
}

// LiftFunc converts the value returned by the native complete function.
type LiftFunc[T any] func(v abi.Value) (T, error)

// Returning lifts results with c.
func Returning[T any](alloc abi.Allocator, c codec.Converter[T]) LiftFunc[T] {
	return func(v abi.Value) (T, error) {
		return codec.LiftReturn(alloc, c, v)
	}
}

// Void is the LiftFunc of futures without a result.
func Void(abi.Value) (struct{}, error) {
	return struct{}{}, nil
}

// Task is the Go side of one native future.
type Task[T any] struct {
	bridge *Bridge
	fut    uint64
	lift   LiftFunc[T]
	check  call.Checker
	id     handle.Handle

	mu    sync.Mutex
	state State
	value T
	err   error
	done  chan struct{}
	once  sync.Once

	// native serializes every native call on fut.
	native  sync.Mutex
	freed   bool
	polling handle.Handle
}

// Call invokes a native function that starts an async operation and
// returns its future handle, then starts driving that future.
func Call[T any](b *Bridge, start abi.Func, lift LiftFunc[T], check call.Checker, args ...abi.Value) (*Task[T], error) {
	ret, err := call.Invoke(b.alloc, start, args...)
	if err != nil {
		return nil, err
	}
	if ret.Kind != abi.KindScalar || ret.Bits == 0 {
		return nil, errors.New(errors.PhaseAsync, errors.KindInvalidData).
			Detail("async function returned no future").
			Build()
	}
	return Start(b, ret.Bits, lift, check), nil
}

// Start takes ownership of the native future fut and schedules its first
// poll. A nil check means the future has no declared error type.
func Start[T any](b *Bridge, fut uint64, lift LiftFunc[T], check call.Checker) *Task[T] {
	if check == nil {
		check = call.Check
	}
	t := &Task[T]{
		bridge: b,
		fut:    fut,
		lift:   lift,
		check:  check,
		state:  StateCreated,
		done:   make(chan struct{}),
	}
	id, err := b.tasks.Insert(t)
	if err != nil {
		t.fail(err)
		return t
	}
	t.id = id
	b.submit(t, func() { t.poll(0) })
	return t
}

// State returns the current state.
func (t *Task[T]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the task has an outcome and its native future is
// freed.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Await waits for the outcome. If ctx ends first the task is cancelled and
// ctx's error is returned.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		if t.Cancel() {
			var zero T
			return zero, ctx.Err()
		}
		<-t.done
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.err
}

// Cancel resolves the task with context.Canceled, asks the native future to
// stop and frees it. It reports whether this call cancelled the task; a task
// that already has an outcome is left alone.
func (t *Task[T]) Cancel() bool {
	var zero T
	if !t.settle(zero, context.Canceled, StateCancelled) {
		return false
	}
	t.release(true)
	return true
}

func (t *Task[T]) fail(err error) {
	var zero T
	if t.settle(zero, err, StateFailed) {
		t.release(false)
	}
}

// settle records the outcome once.
func (t *Task[T]) settle(v T, err error, outcome State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.settled() {
		return false
	}
	t.state = outcome
	t.value = v
	t.err = err
	return true
}

func (t *Task[T]) setPolling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.settled() {
		return false
	}
	t.state = StatePolling
	return true
}

// poll runs on the loop, or on a blocking task queue when queue is set.
func (t *Task[T]) poll(queue uint64) {
	t.native.Lock()
	if t.freed || !t.setPolling() {
		t.native.Unlock()
		return
	}
	h, err := t.bridge.polls.Insert(&pollData{task: t})
	if err != nil {
		t.native.Unlock()
		t.fail(err)
		return
	}
	t.polling = h
	t.bridge.futures.Poll(t.fut, t.bridge.continuation, uint64(h), queue)
	t.native.Unlock()
}

// ready runs on the loop after a PollReady continuation.
func (t *Task[T]) ready() {
	t.native.Lock()
	if t.freed || t.State().settled() {
		t.native.Unlock()
		return
	}
	var status abi.CallStatus
	ret := t.bridge.futures.Complete(t.fut, &status)
	var v T
	err := t.check(t.bridge.alloc, &status)
	if err == nil {
		v, err = t.lift(ret)
	}
	t.native.Unlock()

	outcome := StateReady
	if err != nil {
		outcome = StateFailed
	}
	if t.settle(v, err, outcome) {
		t.release(false)
		return
	}
	// cancelled while the result was being lifted
	if err == nil {
		discard(v)
	}
}

// discard releases a lifted result that no caller will receive.
func discard(v any) {
	switch r := v.(type) {
	case io.Closer:
		if err := r.Close(); err != nil {
			Logger().Debug("close discarded result", zap.Error(err))
		}
	case handle.Dropper:
		r.Drop()
	}
}

// release frees the native future exactly once and wakes waiters.
func (t *Task[T]) release(cancel bool) {
	t.native.Lock()
	if !t.freed {
		if cancel && t.bridge.futures.Cancel != nil {
			t.bridge.futures.Cancel(t.fut)
		}
		t.bridge.futures.Free(t.fut)
		t.freed = true
		if t.polling != 0 {
			// a continuation still owed for this poll becomes a no-op
			_, _ = t.bridge.polls.Remove(t.polling)
			t.polling = 0
		}
	}
	t.native.Unlock()

	t.mu.Lock()
	t.state = StateFreed
	t.mu.Unlock()

	if t.id != 0 {
		_, _ = t.bridge.tasks.Remove(t.id)
	}
	t.once.Do(func() { close(t.done) })
}
