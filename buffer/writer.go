package buffer

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

const minGrowth = 64

// Writer is a write cursor that builds a buffer to hand to the other side.
type Writer struct {
	alloc   abi.Allocator
	buf     abi.Buffer
	len     int32
	err     error
	scratch [8]byte
}

var writerPool = sync.Pool{
	New: func() any { return new(Writer) },
}

// NewWriter starts an empty buffer. Storage is allocated on first write.
func NewWriter(alloc abi.Allocator) *Writer {
	w := writerPool.Get().(*Writer)
	w.alloc = alloc
	w.buf = abi.Buffer{}
	w.len = 0
	w.err = nil
	return w
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int32 {
	return w.len
}

// Err returns the first error encountered by the writer.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) grow(n int) error {
	if w.err != nil {
		return w.err
	}
	need := int64(w.len) + int64(n)
	if need > math.MaxInt32 {
		w.err = errors.New(errors.PhaseEncode, errors.KindOverflow).
			Detail("buffer would exceed %d bytes", math.MaxInt32).
			Build()
		return w.err
	}
	if need <= int64(w.buf.Capacity) {
		return nil
	}

	target := max(2*int64(w.buf.Capacity), need, minGrowth)
	target = min(target, math.MaxInt32)

	var (
		nb  abi.Buffer
		err error
	)
	if w.buf.IsZero() {
		nb, err = w.alloc.Alloc(int32(target))
	} else {
		w.buf.Len = w.len
		nb, err = w.alloc.Reserve(w.buf, int32(target)-w.len)
	}
	if err != nil {
		w.err = errors.AllocationFailed(int32(target), err)
		return w.err
	}
	w.buf = nb
	return nil
}

func (w *Writer) put(b []byte) error {
	if err := w.grow(len(b)); err != nil {
		return err
	}
	if err := w.alloc.Store(w.buf, w.len, b); err != nil {
		w.err = errors.Wrap(errors.PhaseEncode, errors.KindOutOfBounds, err, "store")
		return w.err
	}
	w.len += int32(len(b))
	return nil
}

// WriteU8 writes one byte.
func (w *Writer) WriteU8(v uint8) error {
	w.scratch[0] = v
	return w.put(w.scratch[:1])
}

// WriteU16 writes a big-endian uint16.
func (w *Writer) WriteU16(v uint16) error {
	binary.BigEndian.PutUint16(w.scratch[:2], v)
	return w.put(w.scratch[:2])
}

// WriteU32 writes a big-endian uint32.
func (w *Writer) WriteU32(v uint32) error {
	binary.BigEndian.PutUint32(w.scratch[:4], v)
	return w.put(w.scratch[:4])
}

// WriteU64 writes a big-endian uint64.
func (w *Writer) WriteU64(v uint64) error {
	binary.BigEndian.PutUint64(w.scratch[:8], v)
	return w.put(w.scratch[:8])
}

// WriteI32 writes a big-endian two's-complement int32.
func (w *Writer) WriteI32(v int32) error {
	return w.WriteU32(uint32(v))
}

// WriteI64 writes a big-endian two's-complement int64.
func (w *Writer) WriteI64(v int64) error {
	return w.WriteU64(uint64(v))
}

// WriteF32 writes an IEEE-754 single.
func (w *Writer) WriteF32(v float32) error {
	return w.WriteU32(math.Float32bits(v))
}

// WriteF64 writes an IEEE-754 double.
func (w *Writer) WriteF64(v float64) error {
	return w.WriteU64(math.Float64bits(v))
}

// WriteLen writes an i32 length or count prefix.
func (w *Writer) WriteLen(n int) error {
	if n > math.MaxInt32 {
		return errors.New(errors.PhaseValidate, errors.KindOverflow).
			Value(n).
			Detail("length %d exceeds i32", n).
			Build()
	}
	return w.WriteI32(int32(n))
}

// WriteBytes writes raw bytes without a prefix.
func (w *Writer) WriteBytes(b []byte) error {
	if len(b) == 0 {
		return w.err
	}
	return w.put(b)
}

// Finish returns the built buffer, whose ownership passes to the caller. On a
// sticky error the buffer is freed and the error returned. The Writer must
// not be used afterwards.
func (w *Writer) Finish() (abi.Buffer, error) {
	if w.err != nil {
		err := w.err
		w.Abort()
		return abi.Buffer{}, err
	}
	buf := w.buf
	buf.Len = w.len
	w.release()
	return buf, nil
}

// Abort frees whatever was built. Safe to call after a failed write.
func (w *Writer) Abort() {
	if !w.buf.IsZero() {
		_ = w.alloc.Free(w.buf)
	}
	w.release()
}

func (w *Writer) release() {
	w.alloc = nil
	w.buf = abi.Buffer{}
	w.len = 0
	w.err = nil
	writerPool.Put(w)
}

// FromBytes copies data into a freshly allocated buffer.
func FromBytes(alloc abi.Allocator, data []byte) (abi.Buffer, error) {
	if len(data) == 0 {
		return abi.Buffer{}, nil
	}
	w := NewWriter(alloc)
	if err := w.WriteBytes(data); err != nil {
		w.Abort()
		return abi.Buffer{}, err
	}
	return w.Finish()
}
