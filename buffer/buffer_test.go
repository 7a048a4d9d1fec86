package buffer

import (
	"errors"
	"math"
	"testing"

	"github.com/wippyai/ffi-runtime/abi"
	ffierrors "github.com/wippyai/ffi-runtime/errors"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	alloc := NewHeapAllocator()

	w := NewWriter(alloc)
	steps := []func() error{
		func() error { return w.WriteU8(0xAB) },
		func() error { return w.WriteU16(0xBEEF) },
		func() error { return w.WriteI32(-1) },
		func() error { return w.WriteU64(math.MaxUint64) },
		func() error { return w.WriteI64(math.MinInt64) },
		func() error { return w.WriteF32(1.25) },
		func() error { return w.WriteF64(-2.5) },
		func() error { return w.WriteLen(3) },
		func() error { return w.WriteBytes([]byte("abc")) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	buf, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if buf.Len != 1+2+4+8+8+4+8+4+3 {
		t.Fatalf("Len = %d", buf.Len)
	}

	r, err := NewReader(alloc, buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if v, _ := r.ReadU8(); v != 0xAB {
		t.Errorf("u8 = %#x", v)
	}
	if v, _ := r.ReadU16(); v != 0xBEEF {
		t.Errorf("u16 = %#x", v)
	}
	if v, _ := r.ReadI32(); v != -1 {
		t.Errorf("i32 = %d", v)
	}
	if v, _ := r.ReadU64(); v != math.MaxUint64 {
		t.Errorf("u64 = %d", v)
	}
	if v, _ := r.ReadI64(); v != math.MinInt64 {
		t.Errorf("i64 = %d", v)
	}
	if v, _ := r.ReadF32(); v != 1.25 {
		t.Errorf("f32 = %v", v)
	}
	if v, _ := r.ReadF64(); v != -2.5 {
		t.Errorf("f64 = %v", v)
	}
	n, err := r.ReadLen(1)
	if err != nil || n != 3 {
		t.Fatalf("len = %d, %v", n, err)
	}
	b, _ := r.ReadBytes(n)
	if string(b) != "abc" {
		t.Errorf("bytes = %q", b)
	}
	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if alloc.Live() != 0 {
		t.Errorf("leaked %d buffers", alloc.Live())
	}
}

func TestBigEndianLayout(t *testing.T) {
	alloc := NewHeapAllocator()
	w := NewWriter(alloc)
	_ = w.WriteI32(-2)
	_ = w.WriteU16(0x0102)
	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := alloc.Load(buf)
	want := []byte{0xFF, 0xFF, 0xFF, 0xFE, 0x01, 0x02}
	if string(data) != string(want) {
		t.Errorf("bytes = %x, want %x", data, want)
	}
	_ = alloc.Free(buf)
}

func TestReleaseLeftoverBytes(t *testing.T) {
	alloc := NewHeapAllocator()
	buf, err := FromBytes(alloc, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewReader(alloc, buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadU8(); err != nil {
		t.Fatal(err)
	}
	err = r.Release()
	if !errors.Is(err, &ffierrors.Error{Phase: ffierrors.PhaseDecode, Kind: ffierrors.KindLeftoverBytes}) {
		t.Fatalf("Release error = %v, want leftover bytes", err)
	}
	if !ffierrors.IsInternal(err) {
		t.Error("leftover bytes must be internal")
	}
	if alloc.Live() != 0 {
		t.Error("buffer must be freed even when leftover bytes remain")
	}
}

func TestReadPastEnd(t *testing.T) {
	r := NewBytesReader([]byte{0, 0})
	if _, err := r.ReadU32(); !ffierrors.IsInternal(err) {
		t.Fatalf("ReadU32 error = %v, want internal", err)
	}
	if _, err := r.ReadU16(); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestReadLen(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		minElem int
		want    int
		kind    ffierrors.Kind
	}{
		{"zero", []byte{0, 0, 0, 0}, 1, 0, ""},
		{"negative", []byte{0xFF, 0xFF, 0xFF, 0xFF}, 1, 0, ffierrors.KindNegativeLength},
		{"exceeds remaining", []byte{0, 0, 0, 9, 1}, 1, 0, ffierrors.KindOutOfBounds},
		{"fits", []byte{0, 0, 0, 2, 1, 2}, 1, 2, ""},
		{"zero-size elements", []byte{0, 0, 0, 9}, 0, 9, ""},
		{"zero-size negative", []byte{0x80, 0, 0, 0}, 0, 0, ffierrors.KindNegativeLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBytesReader(tt.data)
			n, err := r.ReadLen(tt.minElem)
			if tt.kind != "" {
				var e *ffierrors.Error
				if !errors.As(err, &e) || e.Kind != tt.kind {
					t.Fatalf("err = %v, want kind %s", err, tt.kind)
				}
				return
			}
			if err != nil || n != tt.want {
				t.Fatalf("ReadLen = %d, %v; want %d", n, err, tt.want)
			}
		})
	}
}

func TestWriterGrowsGeometrically(t *testing.T) {
	alloc := NewHeapAllocator()
	w := NewWriter(alloc)

	var caps []int32
	for i := 0; i < 1000; i++ {
		if err := w.WriteU32(uint32(i)); err != nil {
			t.Fatal(err)
		}
		if len(caps) == 0 || caps[len(caps)-1] != w.buf.Capacity {
			caps = append(caps, w.buf.Capacity)
		}
	}
	if caps[0] < minGrowth {
		t.Errorf("first capacity %d below minimum %d", caps[0], minGrowth)
	}
	for i := 1; i < len(caps); i++ {
		if caps[i] < 2*caps[i-1] {
			t.Errorf("capacity grew from %d to %d, want at least doubling", caps[i-1], caps[i])
		}
	}

	buf, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	r, _ := NewReader(alloc, buf)
	for i := 0; i < 1000; i++ {
		v, err := r.ReadU32()
		if err != nil || v != uint32(i) {
			t.Fatalf("element %d = %d, %v", i, v, err)
		}
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
	if alloc.Live() != 0 {
		t.Errorf("leaked %d buffers", alloc.Live())
	}
}

func TestWriterAbort(t *testing.T) {
	alloc := NewHeapAllocator()
	w := NewWriter(alloc)
	_ = w.WriteU64(1)
	w.Abort()
	if alloc.Live() != 0 {
		t.Errorf("Abort leaked %d buffers", alloc.Live())
	}
}

func TestEmptyWriter(t *testing.T) {
	alloc := NewHeapAllocator()
	buf, err := NewWriter(alloc).Finish()
	if err != nil {
		t.Fatal(err)
	}
	if !buf.IsZero() || buf.Len != 0 {
		t.Errorf("empty writer produced %+v", buf)
	}
	r, err := NewReader(alloc, buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestNewReaderRejectsBadLength(t *testing.T) {
	alloc := NewHeapAllocator()
	buf, _ := alloc.Alloc(4)
	buf.Len = 8
	if _, err := NewReader(alloc, buf); !ffierrors.IsInternal(err) {
		t.Fatalf("err = %v, want internal", err)
	}
	if alloc.Live() != 0 {
		t.Error("rejected buffer must still be freed")
	}
}

func TestHeapAllocatorDoubleFree(t *testing.T) {
	alloc := NewHeapAllocator()
	buf, _ := alloc.Alloc(8)
	if err := alloc.Free(buf); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Free(buf); err == nil {
		t.Error("double free must fail")
	}
	if err := alloc.Free(abi.Buffer{}); err != nil {
		t.Errorf("freeing zero buffer: %v", err)
	}
}

func TestHeapAllocatorReservePreservesData(t *testing.T) {
	alloc := NewHeapAllocator()
	buf, _ := FromBytes(alloc, []byte("hello"))
	grown, err := alloc.Reserve(buf, 100)
	if err != nil {
		t.Fatal(err)
	}
	if grown.Capacity < 105 {
		t.Errorf("Capacity = %d, want >= 105", grown.Capacity)
	}
	data, _ := alloc.Load(grown)
	if string(data) != "hello" {
		t.Errorf("data = %q", data)
	}
	if alloc.Live() != 1 {
		t.Errorf("Live = %d, want 1", alloc.Live())
	}
	_ = alloc.Free(grown)
}
