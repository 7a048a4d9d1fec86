package future

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/errors"
)

// BlockingTaskQueue is a fixed pool of workers for polls that may block.
// Pending tasks run in submission order.
type BlockingTaskQueue struct {
	name    string
	wg      sync.WaitGroup
	mu      sync.Mutex
	ready   *sync.Cond
	pending []func()
	closed  bool
}

// NewBlockingTaskQueue starts a queue with the given number of workers.
func NewBlockingTaskQueue(name string, workers int) *BlockingTaskQueue {
	if workers <= 0 {
		workers = 1
	}
	q := &BlockingTaskQueue{name: name}
	q.ready = sync.NewCond(&q.mu)
	q.wg.Add(workers)
	for range workers {
		go q.work()
	}
	return q
}

// Name returns the queue name.
func (q *BlockingTaskQueue) Name() string {
	return q.name
}

func (q *BlockingTaskQueue) work() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.ready.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *BlockingTaskQueue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("blocking task panicked", zap.String("queue", q.name), zap.Any("panic", r))
		}
	}()
	fn()
}

// Submit queues fn for the next free worker. It never blocks, so a task
// may submit to its own queue.
func (q *BlockingTaskQueue) Submit(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Closed(errors.PhaseAsync, "blocking task queue "+q.name)
	}
	q.pending = append(q.pending, fn)
	q.ready.Signal()
	return nil
}

// Close stops accepting tasks and waits for the queued ones to finish.
func (q *BlockingTaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.ready.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
