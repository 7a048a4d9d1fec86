package future

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/errors"
)

// Scheduler accepts work for later execution.
type Scheduler interface {
	Submit(fn func()) error
}

// LoopState is the lifecycle state of a Loop.
type LoopState int32

const (
	LoopAwake LoopState = iota
	LoopRunning
	LoopTerminating
	LoopTerminated
)

func (s LoopState) String() string {
	switch s {
	case LoopAwake:
		return "awake"
	case LoopRunning:
		return "running"
	case LoopTerminating:
		return "terminating"
	case LoopTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("LoopState(%d)", int32(s))
	}
}

// Loop runs submitted tasks one at a time on the goroutine that called Run.
// Tasks submitted before Shutdown are always run.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	limit   int
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	state   atomic.Int32
	gid     atomic.Uint64
	stopped sync.Once
}

// NewLoop creates a loop. It does nothing until Run is called.
func NewLoop(cfg *Config) *Loop {
	return &Loop{
		limit: cfg.queueSize(),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Done is closed once the loop has terminated.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run processes tasks until Shutdown is called or ctx is cancelled. On
// Shutdown it drains the queue first.
func (l *Loop) Run(ctx context.Context) error {
	if l.InLoop() {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidTransition).
			Detail("Run called from within the loop").
			Build()
	}
	if !l.state.CompareAndSwap(int32(LoopAwake), int32(LoopRunning)) {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidTransition).
			Detail("loop is %s", l.State()).
			Build()
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.gid.Store(goroutineID())
	defer l.gid.Store(0)
	defer close(l.done)

	for {
		select {
		case <-l.wake:
			l.runBatch()
		case <-l.stop:
			l.drain()
			return nil
		case <-ctx.Done():
			l.terminate()
			return ctx.Err()
		}
	}
}

func (l *Loop) runBatch() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		l.safeRun(fn)
	}
}

// drain runs queued tasks until the queue is empty, then terminates. Tasks
// submitted by drained tasks are run as well.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.state.Store(int32(LoopTerminated))
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		l.runBatch()
	}
}

func (l *Loop) terminate() {
	l.mu.Lock()
	dropped := len(l.queue)
	l.queue = nil
	l.state.Store(int32(LoopTerminated))
	l.mu.Unlock()
	if dropped > 0 {
		Logger().Warn("event loop cancelled with pending tasks", zap.Int("dropped", dropped))
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("event loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Submit queues fn. It fails once the loop has terminated or when the queue
// is full.
func (l *Loop) Submit(fn func()) error {
	l.mu.Lock()
	if LoopState(l.state.Load()) == LoopTerminated {
		l.mu.Unlock()
		return errors.Closed(errors.PhaseRuntime, "event loop")
	}
	if len(l.queue) >= l.limit {
		l.mu.Unlock()
		return errors.New(errors.PhaseRuntime, errors.KindAllocation).
			Detail("event loop overloaded (%d pending tasks)", l.limit).
			Build()
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and waits for it. Called from the loop itself it
// runs fn inline.
func (l *Loop) Do(fn func()) error {
	if l.InLoop() {
		fn()
		return nil
	}
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return errors.Closed(errors.PhaseRuntime, "event loop")
		}
	}
}

// InLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) InLoop() bool {
	id := l.gid.Load()
	return id != 0 && goroutineID() == id
}

// Shutdown stops the loop after the queued tasks have run and waits for it
// to terminate or for ctx to expire. A loop that was never run terminates
// immediately.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.stopped.Do(func() {
		if l.state.CompareAndSwap(int32(LoopAwake), int32(LoopTerminated)) {
			close(l.done)
			return
		}
		l.state.CompareAndSwap(int32(LoopRunning), int32(LoopTerminating))
		close(l.stop)
	})
	if l.InLoop() {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goroutineID parses the current goroutine id from the stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
