package abi

// Buffer is a length-prefixed, ownership-transferring byte buffer.
//
// Data is an opaque address owned by the Allocator that produced the buffer.
// Whoever receives a Buffer across the boundary frees it exactly once, either
// through Allocator.Free or by fully consuming it with a read cursor.
type Buffer struct {
	Capacity int32
	Len      int32
	Data     uint64
}

// IsZero reports whether the buffer refers to no storage.
func (b Buffer) IsZero() bool {
	return b.Data == 0
}

// Allocator is the set of buffer entry points exported by the native side.
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Alloc returns a buffer with at least capacity bytes and Len 0.
	Alloc(capacity int32) (Buffer, error)
	// Reserve returns a buffer holding the same Len bytes with room for at
	// least additional more. On success the input buffer must not be used
	// again; on error it is still owned by the caller.
	Reserve(buf Buffer, additional int32) (Buffer, error)
	// Free releases the buffer. Freeing a zero buffer is a no-op.
	Free(buf Buffer) error
	// Load returns the first buf.Len bytes. The slice may alias allocator
	// storage and is valid until the buffer is freed or reserved.
	Load(buf Buffer) ([]byte, error)
	// Store copies data into the buffer at offset. The write must fit within
	// Capacity; Len is not changed.
	Store(buf Buffer, offset int32, data []byte) error
}
