package future

import "runtime"

const (
	defaultQueueSize = 4096
)

// Config configures the loop and the bridge. The zero value is usable.
type Config struct {
	// QueueSize bounds the tasks pending on a Loop. Zero means 4096.
	QueueSize int
	// BlockingWorkers is the worker count of the bridge's default blocking
	// task queue. Zero means runtime.NumCPU().
	BlockingWorkers int
}

func (c *Config) queueSize() int {
	if c == nil || c.QueueSize <= 0 {
		return defaultQueueSize
	}
	return c.QueueSize
}

func (c *Config) blockingWorkers() int {
	if c == nil || c.BlockingWorkers <= 0 {
		return runtime.NumCPU()
	}
	return c.BlockingWorkers
}
