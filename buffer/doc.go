// Package buffer implements read and write cursors over abi.Buffer plus a
// Go-heap Allocator.
//
// Integers and floats are big-endian and fixed width. A Reader must be fully
// consumed before Release; leftover bytes mean the two sides disagree about
// the encoding and are reported as an internal error. A Writer grows its
// buffer geometrically through Allocator.Reserve.
//
//	w := buffer.NewWriter(alloc)
//	_ = w.WriteI32(-1)
//	_ = w.WriteU32(1)
//	buf, err := w.Finish()
//
//	r, err := buffer.NewReader(alloc, buf)
//	a, _ := r.ReadI32()
//	b, _ := r.ReadU32()
//	err = r.Release() // frees buf
package buffer
