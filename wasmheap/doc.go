// Package wasmheap implements the buffer entry points over the linear memory
// of a WebAssembly module.
//
// The module exports a memory and two functions:
//
//	ffi_buffer_alloc(size i32) -> i32   ; 0 means allocation failed
//	ffi_buffer_free(ptr i32, size i32)
//
// Buffer data addresses are offsets into that memory. A Heap serializes every
// call into the module, so it can be shared by all goroutines of a runtime.
//
// BumpModule returns a small allocator module with this interface.
package wasmheap
