package abi

// Func is a native entry point. It fills status and returns its result; on a
// non-success status the return value is meaningless.
type Func func(args []Value, status *CallStatus) Value

// DispatchFunc is the single entry point native code uses to invoke a method
// of a Go-implemented callback interface. It consumes args, may fill out and
// returns one of the Callback* codes.
type DispatchFunc func(handle uint64, method uint32, args Buffer, out *Buffer) int32

// ForeignFutureResult is reported once when an async callback method ends.
type ForeignFutureResult struct {
	Return Buffer
	Status CallStatus
}

// ForeignFutureCompleteFunc is supplied by native code with every async
// callback invocation.
type ForeignFutureCompleteFunc func(callbackData uint64, result ForeignFutureResult)

// ForeignFuture is returned to native code for an async callback invocation.
// Native code calls Free exactly once; freeing before completion cancels the
// Go-side work and suppresses the completion callback.
type ForeignFuture struct {
	Handle uint64
	Free   func(handle uint64)
}

// AsyncDispatchFunc is the async variant of DispatchFunc. The outcome is
// always reported through complete, never through the return value.
type AsyncDispatchFunc func(handle uint64, method uint32, args Buffer, complete ForeignFutureCompleteFunc, callbackData uint64) ForeignFuture

// CallbackVTable is registered once per callback interface.
type CallbackVTable struct {
	Dispatch      DispatchFunc
	DispatchAsync AsyncDispatchFunc
}

// PollCode is the outcome passed to a continuation.
type PollCode int8

const (
	PollReady      PollCode = 0
	PollMaybeReady PollCode = 1
)

// ContinuationFunc is called by native code, on any thread, to wake a poll.
// A non-zero blockingQueue asks for the next poll to run on that queue.
type ContinuationFunc func(data uint64, code PollCode, blockingQueue uint64)

// FutureABI groups the entry points of the native poll-based future model.
type FutureABI struct {
	// Poll schedules the next wake-up of fut. It must call cont exactly once
	// for this poll. blockingQueue is non-zero when the poll runs on a
	// blocking task queue.
	Poll func(fut uint64, cont ContinuationFunc, data uint64, blockingQueue uint64)
	// Complete retrieves the result after PollReady.
	Complete func(fut uint64, status *CallStatus) Value
	// Cancel asks the native future to stop; it still must be freed.
	Cancel func(fut uint64)
	// Free releases the native future.
	Free func(fut uint64)
}

// BlockingTaskQueueVTable lets native code keep references to Go-side
// blocking task queues.
type BlockingTaskQueueVTable struct {
	Clone func(handle uint64) uint64
	Free  func(handle uint64)
}

// Library is a loaded native library as seen from Go.
type Library interface {
	Name() string
	// ContractVersion is compared against the version compiled into the
	// bindings at startup.
	ContractVersion() uint32
	// Checksum returns the checksum of an exported symbol's signature.
	Checksum(symbol string) (uint16, bool)
	Allocator() Allocator
	Lookup(symbol string) (Func, bool)
	Futures() FutureABI
	// InitCallbackVTable registers a callback interface's dispatch entry
	// points under its interface name.
	InitCallbackVTable(iface string, vt CallbackVTable, status *CallStatus)
}

// QueueLibrary is implemented by libraries that accept blocking task queues.
type QueueLibrary interface {
	Library
	InitBlockingTaskQueueVTable(vt BlockingTaskQueueVTable)
}

// MetadataLibrary is implemented by libraries that embed a contract manifest.
type MetadataLibrary interface {
	Library
	Metadata() []byte
}
