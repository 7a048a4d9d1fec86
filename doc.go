// Package ffiruntime is the foreign-side runtime for calling native
// libraries through a buffer-based ABI.
//
// Go code loads a library (anything implementing abi.Library), calls its
// exported functions, hands it callback implementations, holds references
// to its objects and drives its poll-based futures.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	ffiruntime/          Runtime: handshake, event loop, async bridge, leak report
//	├── abi/             Buffer, CallStatus, Value and native entry point types
//	├── buffer/          Read and write cursors, Go heap allocator
//	├── codec/           Typed converters and the WIT-typed dynamic codec
//	├── call/            Call status checking and panic messages
//	├── handle/          Tagged handle registries
//	├── object/          Reference-counted proxies for native objects
//	├── callback/        Go implementations of callback interfaces
//	├── future/          Event loop, blocking task queues, native futures
//	├── contract/        Contract version and checksum handshake, manifests
//	├── wasmheap/        Buffer allocator over WebAssembly linear memory
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
//	rt, err := ffiruntime.New(ctx, lib, &ffiruntime.Config{Logger: log})
//	if err != nil {
//	    log.Fatal(err) // includes contract mismatches
//	}
//	defer rt.Close(ctx)
//
//	sum, err := ffiruntime.Call(rt, "ffi_calc_fn_add", codec.Int64, nil,
//	    abi.Int64(2), abi.Int64(40))
//
//	task, err := ffiruntime.CallAsync(rt, "ffi_calc_fn_sleep_add",
//	    future.Returning(rt.Allocator(), codec.Int64), nil,
//	    abi.Int64(1), abi.Int64(2), abi.Scalar(10))
//	v, err := task.Await(ctx)
//
// # Errors
//
// Calls fail in one of three ways. A declared error is returned as the
// caller's own error type. A validation error (errors.IsValidation) means a
// value was rejected before anything crossed the boundary. Everything else
// is an internal error (errors.IsInternal): a native panic, a protocol
// violation or a broken binding.
package ffiruntime
