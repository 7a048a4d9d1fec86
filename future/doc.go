// Package future drives native poll-based futures from Go.
//
// A native async call returns a future handle immediately. The Bridge polls
// it on a Loop, a single-goroutine cooperative scheduler; native code wakes
// the bridge by calling a continuation from any thread. Each task moves
// through
//
//	Created -> Polling -> {Ready, Failed} -> Freed
//	Created|Polling -> Cancelled -> Freed
//
// and the native future is freed exactly once on every path. Continuations
// that arrive after a task ended are ignored.
//
// A continuation may name a BlockingTaskQueue, in which case the next poll
// runs on that queue's workers instead of the loop.
//
//	loop := future.NewLoop(nil)
//	go loop.Run(ctx)
//	bridge := future.NewBridge(lib, loop, nil)
//	task := future.Start(bridge, fut, future.Returning(alloc, codec.String), nil)
//	s, err := task.Await(ctx)
package future
