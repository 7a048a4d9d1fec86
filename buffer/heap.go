package buffer

import (
	"fmt"
	"sync"

	"github.com/wippyai/ffi-runtime/abi"
)

const heapBase uint64 = 0x1000

// HeapAllocator is an Allocator backed by Go slices. Addresses are synthetic
// and never reused, so a double free or use after free is always detected.
type HeapAllocator struct {
	mu     sync.Mutex
	blocks map[uint64][]byte
	next   uint64
	allocs uint64
	frees  uint64
}

// NewHeapAllocator creates an empty allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{
		blocks: make(map[uint64][]byte),
		next:   heapBase,
	}
}

// Alloc implements abi.Allocator.
func (h *HeapAllocator) Alloc(capacity int32) (abi.Buffer, error) {
	if capacity < 0 {
		return abi.Buffer{}, fmt.Errorf("negative capacity %d", capacity)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocLocked(capacity), nil
}

func (h *HeapAllocator) allocLocked(capacity int32) abi.Buffer {
	addr := h.next
	// keep addresses distinct even for zero-sized blocks
	h.next += uint64(capacity) + 16
	h.blocks[addr] = make([]byte, capacity)
	h.allocs++
	return abi.Buffer{Capacity: capacity, Data: addr}
}

// Reserve implements abi.Allocator.
func (h *HeapAllocator) Reserve(buf abi.Buffer, additional int32) (abi.Buffer, error) {
	if additional < 0 {
		return buf, fmt.Errorf("negative reservation %d", additional)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if buf.IsZero() {
		return h.allocLocked(additional), nil
	}
	block, ok := h.blocks[buf.Data]
	if !ok {
		return buf, fmt.Errorf("reserve on unknown buffer %#x", buf.Data)
	}
	need := int64(buf.Len) + int64(additional)
	if need <= int64(len(block)) {
		buf.Capacity = int32(len(block))
		return buf, nil
	}
	nb := h.allocLocked(int32(need))
	copy(h.blocks[nb.Data], block[:buf.Len])
	delete(h.blocks, buf.Data)
	h.frees++
	nb.Len = buf.Len
	return nb, nil
}

// Free implements abi.Allocator.
func (h *HeapAllocator) Free(buf abi.Buffer) error {
	if buf.IsZero() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocks[buf.Data]; !ok {
		return fmt.Errorf("free of unknown buffer %#x", buf.Data)
	}
	delete(h.blocks, buf.Data)
	h.frees++
	return nil
}

// Load implements abi.Allocator.
func (h *HeapAllocator) Load(buf abi.Buffer) ([]byte, error) {
	if buf.IsZero() {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	block, ok := h.blocks[buf.Data]
	if !ok {
		return nil, fmt.Errorf("load of unknown buffer %#x", buf.Data)
	}
	if buf.Len < 0 || int(buf.Len) > len(block) {
		return nil, fmt.Errorf("length %d exceeds block size %d", buf.Len, len(block))
	}
	return block[:buf.Len], nil
}

// Store implements abi.Allocator.
func (h *HeapAllocator) Store(buf abi.Buffer, offset int32, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	block, ok := h.blocks[buf.Data]
	if !ok {
		return fmt.Errorf("store to unknown buffer %#x", buf.Data)
	}
	if offset < 0 || int(offset)+len(data) > len(block) {
		return fmt.Errorf("store of %d bytes at %d exceeds block size %d", len(data), offset, len(block))
	}
	copy(block[offset:], data)
	return nil
}

// Live returns the number of buffers allocated and not yet freed.
func (h *HeapAllocator) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}

// Stats returns total allocation and free counts.
func (h *HeapAllocator) Stats() (allocs, frees uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs, h.frees
}
