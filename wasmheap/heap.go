package wasmheap

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

// Export names looked up when Config leaves them empty.
const (
	DefaultAllocExport = "ffi_buffer_alloc"
	DefaultFreeExport  = "ffi_buffer_free"
)

// Config holds configuration for heap creation
type Config struct {
	// MemoryLimitPages caps the module memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// AllocExport and FreeExport override the allocator export names.
	AllocExport string
	FreeExport  string
}

func (c *Config) allocExport() string {
	if c == nil || c.AllocExport == "" {
		return DefaultAllocExport
	}
	return c.AllocExport
}

func (c *Config) freeExport() string {
	if c == nil || c.FreeExport == "" {
		return DefaultFreeExport
	}
	return c.FreeExport
}

// Heap is an abi.Allocator over WebAssembly linear memory.
type Heap struct {
	ctx     context.Context
	runtime wazero.Runtime // nil when the module is not owned
	mod     api.Module
	mem     api.Memory
	alloc   api.Function
	free    api.Function

	mu     sync.Mutex
	live   map[uint32]int32
	allocs uint64
	frees  uint64
}

// New compiles and instantiates wasm in a private runtime. ctx is used for
// every call into the module and must outlive the heap.
func New(ctx context.Context, wasm []byte, cfg *Config) (*Heap, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	mod, err := r.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseAlloc, errors.KindInvalidData, err, "instantiate allocator module")
	}
	h, err := FromModule(ctx, mod, cfg)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	h.runtime = r
	return h, nil
}

// NewBump creates a heap backed by BumpModule.
func NewBump(ctx context.Context, cfg *Config) (*Heap, error) {
	return New(ctx, bumpModule, cfg)
}

// FromModule wraps an instantiated module. The caller keeps ownership of mod.
func FromModule(ctx context.Context, mod api.Module, cfg *Config) (*Heap, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseAlloc, "memory of module", mod.Name())
	}

	allocFn, err := export(mod, cfg.allocExport(), 1, 1)
	if err != nil {
		return nil, err
	}
	freeFn, err := export(mod, cfg.freeExport(), 2, 0)
	if err != nil {
		return nil, err
	}

	return &Heap{
		ctx:   ctx,
		mod:   mod,
		mem:   mem,
		alloc: allocFn,
		free:  freeFn,
		live:  make(map[uint32]int32),
	}, nil
}

func export(mod api.Module, name string, params, results int) (api.Function, error) {
	def := mod.ExportedFunctionDefinitions()[name]
	if def == nil {
		return nil, errors.NotFound(errors.PhaseAlloc, "export", name)
	}
	if len(def.ParamTypes()) != params || len(def.ResultTypes()) != results {
		return nil, errors.New(errors.PhaseAlloc, errors.KindTypeMismatch).
			Path(name).
			Detail("want %d params and %d results, got %d and %d",
				params, results, len(def.ParamTypes()), len(def.ResultTypes())).
			Build()
	}
	return mod.ExportedFunction(name), nil
}

// Alloc implements abi.Allocator.
func (h *Heap) Alloc(capacity int32) (abi.Buffer, error) {
	if capacity < 0 {
		return abi.Buffer{}, errors.AllocationFailed(capacity, fmt.Errorf("negative capacity"))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, err := h.allocLocked(capacity)
	if err != nil {
		return abi.Buffer{}, err
	}
	return abi.Buffer{Capacity: capacity, Data: uint64(ptr)}, nil
}

func (h *Heap) allocLocked(capacity int32) (uint32, error) {
	res, err := h.alloc.Call(h.ctx, api.EncodeI32(capacity))
	if err != nil {
		return 0, errors.AllocationFailed(capacity, err)
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(capacity, fmt.Errorf("module out of memory"))
	}
	if uint64(ptr)+uint64(capacity) > uint64(h.mem.Size()) {
		h.freeLocked(ptr, capacity)
		return 0, errors.AllocationFailed(capacity, fmt.Errorf("block at %#x exceeds memory size %d", ptr, h.mem.Size()))
	}
	if _, dup := h.live[ptr]; dup {
		return 0, errors.New(errors.PhaseAlloc, errors.KindInvalidData).
			Detail("module returned live block %#x", ptr).
			Build()
	}
	h.live[ptr] = capacity
	h.allocs++
	return ptr, nil
}

func (h *Heap) freeLocked(ptr uint32, capacity int32) {
	if _, err := h.free.Call(h.ctx, api.EncodeU32(ptr), api.EncodeI32(capacity)); err != nil {
		Logger().Warn("free buffer",
			zap.Uint32("ptr", ptr),
			zap.Int32("capacity", capacity),
			zap.Error(err))
	}
}

// block validates buf against the live set.
func (h *Heap) block(op string, buf abi.Buffer) (uint32, int32, error) {
	if buf.Data > uint64(^uint32(0)) {
		return 0, 0, errors.InvalidData(errors.PhaseAlloc, nil, fmt.Sprintf("%s: address %#x outside 32-bit memory", op, buf.Data))
	}
	ptr := uint32(buf.Data)
	capacity, ok := h.live[ptr]
	if !ok {
		return 0, 0, errors.InvalidData(errors.PhaseAlloc, nil, fmt.Sprintf("%s of unknown buffer %#x", op, buf.Data))
	}
	return ptr, capacity, nil
}

// Reserve implements abi.Allocator.
func (h *Heap) Reserve(buf abi.Buffer, additional int32) (abi.Buffer, error) {
	if additional < 0 {
		return buf, errors.AllocationFailed(additional, fmt.Errorf("negative reservation"))
	}
	if buf.IsZero() {
		return h.Alloc(additional)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	ptr, capacity, err := h.block("reserve", buf)
	if err != nil {
		return buf, err
	}
	need := int64(buf.Len) + int64(additional)
	if need <= int64(capacity) {
		buf.Capacity = capacity
		return buf, nil
	}
	if need > int64(^uint32(0)>>1) {
		return buf, errors.AllocationFailed(additional, fmt.Errorf("buffer would exceed 2GiB"))
	}

	nptr, err := h.allocLocked(int32(need))
	if err != nil {
		return buf, err
	}
	data, ok := h.mem.Read(ptr, uint32(buf.Len))
	if !ok || !h.mem.Write(nptr, data) {
		h.releaseLocked(nptr)
		return buf, errors.OutOfBounds(errors.PhaseAlloc, nil, int(ptr)+int(buf.Len), int(h.mem.Size()))
	}
	h.releaseLocked(ptr)
	return abi.Buffer{Capacity: int32(need), Len: buf.Len, Data: uint64(nptr)}, nil
}

func (h *Heap) releaseLocked(ptr uint32) {
	capacity := h.live[ptr]
	delete(h.live, ptr)
	h.frees++
	h.freeLocked(ptr, capacity)
}

// Free implements abi.Allocator.
func (h *Heap) Free(buf abi.Buffer) error {
	if buf.IsZero() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, _, err := h.block("free", buf)
	if err != nil {
		return err
	}
	h.releaseLocked(ptr)
	return nil
}

// Load implements abi.Allocator. The returned slice is a copy; memory growth
// may move the module's backing array.
func (h *Heap) Load(buf abi.Buffer) ([]byte, error) {
	if buf.IsZero() {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, capacity, err := h.block("load", buf)
	if err != nil {
		return nil, err
	}
	if buf.Len < 0 || buf.Len > capacity {
		return nil, errors.OutOfBounds(errors.PhaseAlloc, nil, int(buf.Len), int(capacity))
	}
	data, ok := h.mem.Read(ptr, uint32(buf.Len))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseAlloc, nil, int(ptr)+int(buf.Len), int(h.mem.Size()))
	}
	return append([]byte(nil), data...), nil
}

// Store implements abi.Allocator.
func (h *Heap) Store(buf abi.Buffer, offset int32, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ptr, capacity, err := h.block("store", buf)
	if err != nil {
		return err
	}
	if offset < 0 || int64(offset)+int64(len(data)) > int64(capacity) {
		return errors.OutOfBounds(errors.PhaseAlloc, nil, int(offset)+len(data), int(capacity))
	}
	if !h.mem.Write(ptr+uint32(offset), data) {
		return errors.OutOfBounds(errors.PhaseAlloc, nil, int(ptr)+int(offset)+len(data), int(h.mem.Size()))
	}
	return nil
}

// Live returns the number of buffers allocated and not yet freed.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Stats returns total allocation and free counts.
func (h *Heap) Stats() (allocs, frees uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs, h.frees
}

// MemorySize returns the current size of the module memory in bytes.
func (h *Heap) MemorySize() uint32 {
	return h.mem.Size()
}

// Close closes the runtime when the heap owns it. Buffers still live are
// logged and dropped.
func (h *Heap) Close(ctx context.Context) error {
	h.mu.Lock()
	live := len(h.live)
	h.live = make(map[uint32]int32)
	h.mu.Unlock()
	if live > 0 {
		Logger().Warn("closing heap with live buffers", zap.Int("live", live))
	}
	if h.runtime == nil {
		return nil
	}
	return h.runtime.Close(ctx)
}

var _ abi.Allocator = (*Heap)(nil)
