package buffer

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

// Reader is a read cursor over a buffer received from the other side.
type Reader struct {
	alloc abi.Allocator
	buf   abi.Buffer
	data  []byte
	pos   int
}

var readerPool = sync.Pool{
	New: func() any { return new(Reader) },
}

// NewReader takes ownership of buf. The caller must call Release.
func NewReader(alloc abi.Allocator, buf abi.Buffer) (*Reader, error) {
	if buf.Len < 0 || buf.Len > buf.Capacity {
		_ = alloc.Free(buf)
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("buffer length %d outside capacity %d", buf.Len, buf.Capacity).
			Build()
	}
	var data []byte
	if !buf.IsZero() {
		var err error
		data, err = alloc.Load(buf)
		if err != nil {
			_ = alloc.Free(buf)
			return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "load buffer")
		}
	}
	r := readerPool.Get().(*Reader)
	r.alloc = alloc
	r.buf = buf
	r.data = data
	r.pos = 0
	return r, nil
}

// NewBytesReader reads a plain byte slice. Release only checks consumption.
func NewBytesReader(data []byte) *Reader {
	r := readerPool.Get().(*Reader)
	r.alloc = nil
	r.buf = abi.Buffer{}
	r.data = data
	r.pos = 0
	return r
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Release frees the underlying buffer and reports leftover bytes. The buffer
// is freed even when an error is returned. The Reader must not be used
// afterwards.
func (r *Reader) Release() error {
	remaining := r.Remaining()
	var freeErr error
	if r.alloc != nil {
		freeErr = r.alloc.Free(r.buf)
	}
	r.alloc = nil
	r.data = nil
	r.buf = abi.Buffer{}
	readerPool.Put(r)

	if remaining != 0 {
		return errors.LeftoverBytes(remaining)
	}
	if freeErr != nil {
		return errors.Wrap(errors.PhaseAlloc, errors.KindAllocation, freeErr, "free buffer")
	}
	return nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, r.pos+n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a big-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadU64 reads a big-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadI32 reads a big-endian two's-complement int32.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

// ReadI64 reads a big-endian two's-complement int64.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// ReadF32 reads an IEEE-754 single.
func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

// ReadF64 reads an IEEE-754 double.
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadLen reads an i32 length or count prefix, rejecting negative values and
// counts that cannot fit in the remaining bytes at minElem bytes each. Element
// counts of types that may encode to zero bytes pass minElem 0, which checks
// only the sign.
func (r *Reader) ReadLen(minElem int) (int, error) {
	n, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.NegativeLength(nil, n)
	}
	if minElem > 0 && int(n) > r.Remaining()/minElem {
		return 0, errors.OutOfBounds(errors.PhaseDecode, nil, r.pos+int(n)*minElem, len(r.data))
	}
	return int(n), nil
}

// ReadBytes returns the next n bytes. The slice aliases the buffer and is
// valid until Release.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	return r.next(n)
}
