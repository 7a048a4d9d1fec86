// Package abi defines the types that cross the boundary between Go and a
// native library: buffers, call status slots, scalar values, dispatch and
// continuation function types, and the Library interface a native library
// presents to the runtime.
//
// Nothing in this package allocates or frees memory itself. Buffer storage
// belongs to the native side and is reached only through an Allocator.
package abi
