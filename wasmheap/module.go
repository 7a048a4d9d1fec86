package wasmheap

// bumpModule is a bump allocator: ffi_buffer_alloc hands out 8-byte aligned
// blocks, growing memory one page at a time, and ffi_buffer_free rewinds the
// heap once the last live block is released.
var bumpModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

	// type: (i32) -> i32, (i32 i32) -> ()
	0x01, 0x0b, 0x02,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x00,

	// function
	0x03, 0x03, 0x02, 0x00, 0x01,

	// memory: min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,

	// global: next = 8, live = 0
	0x06, 0x0b, 0x02,
	0x7f, 0x01, 0x41, 0x08, 0x0b,
	0x7f, 0x01, 0x41, 0x00, 0x0b,

	// export
	0x07, 0x2f, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x10, 'f', 'f', 'i', '_', 'b', 'u', 'f', 'f', 'e', 'r', '_', 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x0f, 'f', 'f', 'i', '_', 'b', 'u', 'f', 'f', 'e', 'r', '_', 'f', 'r', 'e', 'e', 0x00, 0x01,

	// code
	0x0a, 0x57, 0x02,

	// ffi_buffer_alloc
	0x41,
	0x01, 0x01, 0x7f, // local ptr i32
	0x23, 0x00, 0x21, 0x01, // ptr = next
	0x23, 0x00, 0x20, 0x00, 0x6a, // next + size
	0x41, 0x0f, 0x6a, // + 15
	0x41, 0x78, 0x71, // & -8
	0x24, 0x00, // next = ...
	0x02, 0x40, // block
	0x03, 0x40, // loop
	0x23, 0x00, 0x3f, 0x00, 0x41, 0x10, 0x74, 0x4d, // next <= memory.size << 16
	0x0d, 0x01, // br_if block
	0x41, 0x01, 0x40, 0x00, 0x41, 0x7f, 0x46, // memory.grow 1 == -1
	0x04, 0x40, 0x20, 0x01, 0x24, 0x00, 0x41, 0x00, 0x0f, 0x0b, // if: next = ptr; return 0
	0x0c, 0x00, // br loop
	0x0b, 0x0b,
	0x23, 0x01, 0x41, 0x01, 0x6a, 0x24, 0x01, // live++
	0x20, 0x01, // ptr
	0x0b,

	// ffi_buffer_free
	0x13,
	0x00,
	0x23, 0x01, 0x41, 0x01, 0x6b, 0x24, 0x01, // live--
	0x23, 0x01, 0x45, // live == 0
	0x04, 0x40, 0x41, 0x08, 0x24, 0x00, 0x0b, // if: next = 8
	0x0b,
}

// BumpModule returns the binary of a minimal allocator module. Each call
// returns a fresh copy.
func BumpModule() []byte {
	return append([]byte(nil), bumpModule...)
}
