package future

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
	"github.com/wippyai/ffi-runtime/handle"
)

// runnable is the type-erased view of a Task used by the bridge.
type runnable interface {
	poll(queue uint64)
	ready()
	fail(err error)
	Cancel() bool
}

// pollData lives for exactly one poll cycle. Its handle is the token passed
// to the native poll function.
type pollData struct {
	task runnable
}

// Bridge connects native futures of one library to a scheduler.
type Bridge struct {
	futures abi.FutureABI
	alloc   abi.Allocator
	sched   Scheduler

	polls  *handle.Registry[*pollData]
	tasks  *handle.Registry[runnable]
	queues *handle.Registry[*BlockingTaskQueue]

	blocking       *BlockingTaskQueue
	blockingHandle uint64
}

// NewBridge creates a bridge for lib. When lib accepts blocking task queues,
// the bridge installs its queue vtable and registers a default queue.
func NewBridge(lib abi.Library, sched Scheduler, cfg *Config) *Bridge {
	b := &Bridge{
		futures: lib.Futures(),
		alloc:   lib.Allocator(),
		sched:   sched,
		polls:   handle.NewRegistry[*pollData]("poll data", handle.Foreign),
		tasks:   handle.NewRegistry[runnable]("tasks", handle.Foreign),
		queues:  handle.NewRegistry[*BlockingTaskQueue]("blocking task queues", handle.Foreign),
	}
	b.blocking = NewBlockingTaskQueue("default", cfg.blockingWorkers())
	if h, err := b.queues.Insert(b.blocking); err == nil {
		b.blockingHandle = uint64(h)
	}
	if ql, ok := lib.(abi.QueueLibrary); ok {
		ql.InitBlockingTaskQueueVTable(b.QueueVTable())
	}
	return b
}

// Allocator returns the library allocator used to lift results.
func (b *Bridge) Allocator() abi.Allocator {
	return b.alloc
}

// DefaultQueue returns the handle of the bridge's own blocking task queue.
// The bridge keeps ownership of it.
func (b *Bridge) DefaultQueue() uint64 {
	return b.blockingHandle
}

// RegisterQueue makes q reachable from native code. The returned handle is
// owned by the caller and released with ReleaseQueue.
func (b *Bridge) RegisterQueue(q *BlockingTaskQueue) (uint64, error) {
	h, err := b.queues.Insert(q)
	return uint64(h), err
}

// ReleaseQueue drops one reference to a registered queue.
func (b *Bridge) ReleaseQueue(h uint64) error {
	_, err := b.queues.Remove(handle.Handle(h))
	return err
}

// QueueVTable returns the entry points native code uses to keep queue
// references.
func (b *Bridge) QueueVTable() abi.BlockingTaskQueueVTable {
	return abi.BlockingTaskQueueVTable{
		Clone: func(h uint64) uint64 {
			nh, err := b.queues.Clone(handle.Handle(h))
			if err != nil {
				Logger().Warn("clone blocking task queue", zap.Error(err))
				return 0
			}
			return uint64(nh)
		},
		Free: func(h uint64) {
			if _, err := b.queues.Remove(handle.Handle(h)); err != nil {
				Logger().Warn("free blocking task queue", zap.Error(err))
			}
		},
	}
}

// Pending returns the number of tasks whose native future is not yet freed.
func (b *Bridge) Pending() int {
	return b.tasks.Len()
}

// Close cancels every pending task, stops the default queue and returns
// how many tasks were still pending.
func (b *Bridge) Close() int {
	var pending []runnable
	b.tasks.Each(func(_ handle.Handle, t runnable) bool {
		pending = append(pending, t)
		return true
	})
	for _, t := range pending {
		t.Cancel()
	}
	b.blocking.Close()
	b.polls.Close()
	b.queues.Close()
	b.tasks.Close()
	return len(pending)
}

// continuation is handed to native poll functions. It runs on any thread.
func (b *Bridge) continuation(data uint64, code abi.PollCode, queue uint64) {
	pd, err := b.polls.Remove(handle.Handle(data))
	if err != nil {
		Logger().Debug("ignoring continuation", zap.Uint64("data", data), zap.Error(err))
		return
	}
	t := pd.task

	switch code {
	case abi.PollReady:
		b.submit(t, t.ready)
	case abi.PollMaybeReady:
		if queue == 0 {
			b.submit(t, func() { t.poll(0) })
			return
		}
		q, err := b.queues.Get(handle.Handle(queue))
		if err != nil {
			go t.fail(err)
			return
		}
		if err := q.Submit(func() { t.poll(queue) }); err != nil {
			go t.fail(err)
		}
	default:
		go t.fail(errors.New(errors.PhaseAsync, errors.KindInvalidStatus).
			Detail("unknown poll code %d", code).
			Build())
	}
}

func (b *Bridge) submit(t runnable, fn func()) {
	if err := b.sched.Submit(fn); err != nil {
		go t.fail(err)
	}
}
