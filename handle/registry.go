package handle

import (
	"slices"
	"sync"

	"github.com/wippyai/ffi-runtime/errors"
)

type cell[T any] struct {
	value T
	refs  int
}

// Registry maps handles to values of type T. It is safe for concurrent use.
// One mutex guards the table and is held only for the table mutation itself;
// observers and Drop run after it is released.
type Registry[T any] struct {
	name    string
	entries map[Handle]*cell[T]
	seq     uint64
	origin  Origin
	id      uint8
	noID    bool
	closed  bool
	mu      sync.Mutex

	observers []subscription[T]
	obsSeq    uint64
	obsMu     sync.RWMutex
}

type subscription[T any] struct {
	obs Observer[T]
	id  uint64
}

// NewRegistry creates a registry that issues handles of the given origin.
// The registry holds its id until Close. When every id of the origin is held
// by an open registry, the new registry issues no handles: Insert and Clone
// fail with KindExhausted.
func NewRegistry[T any](name string, origin Origin) *Registry[T] {
	id, ok := allocRegistryID(origin)
	return &Registry[T]{
		name:    name,
		origin:  origin,
		id:      id,
		noID:    !ok,
		entries: make(map[Handle]*cell[T]),
	}
}

func (r *Registry[T]) exhausted() error {
	return errors.New(errors.PhaseHandle, errors.KindExhausted).
		Detail("%s: all %d %s registry ids are in use", r.name, registryMask+1, r.origin).
		Build()
}

// Name returns the registry name used in messages.
func (r *Registry[T]) Name() string {
	return r.name
}

// ID returns the registry id embedded in every handle it issues.
func (r *Registry[T]) ID() uint8 {
	return r.id
}

// Owns reports whether h was issued by this registry. It does not check
// that the binding is still live.
func (r *Registry[T]) Owns(h Handle) bool {
	return !r.noID && h.Valid() && h.Origin() == r.origin && h.RegistryID() == r.id
}

func (r *Registry[T]) check(h Handle) error {
	if !h.Valid() {
		return errors.New(errors.PhaseHandle, errors.KindUnknownHandle).
			Value(uint64(h)).
			Detail("%s: invalid handle %#x", r.name, uint64(h)).
			Build()
	}
	if r.noID || h.Origin() != r.origin || h.RegistryID() != r.id {
		return errors.New(errors.PhaseHandle, errors.KindWrongRegistry).
			Value(uint64(h)).
			Detail("%s: handle %s belongs to %s registry %d", r.name, h, h.Origin(), h.RegistryID()).
			Build()
	}
	return nil
}

func (r *Registry[T]) unknown(h Handle) error {
	return errors.New(errors.PhaseHandle, errors.KindUnknownHandle).
		Value(uint64(h)).
		Detail("%s: handle %s is not live (use after free?)", r.name, h).
		Build()
}

// nextHandleLocked returns an unused handle. Sequence numbers wrap after
// 2^39 insertions; live handles are skipped.
func (r *Registry[T]) nextHandleLocked() Handle {
	for {
		r.seq = (r.seq + 1) & seqMask
		if r.seq == 0 && r.origin == Native && r.id == 0 {
			continue
		}
		h := makeHandle(r.origin, r.id, r.seq)
		if _, live := r.entries[h]; !live {
			return h
		}
	}
}

// Insert stores v and returns a fresh handle with one binding.
func (r *Registry[T]) Insert(v T) (Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errors.Closed(errors.PhaseHandle, r.name)
	}
	if r.noID {
		r.mu.Unlock()
		return 0, r.exhausted()
	}
	h := r.nextHandleLocked()
	r.entries[h] = &cell[T]{value: v, refs: 1}
	r.mu.Unlock()

	r.notify(Event[T]{Type: EventInserted, Handle: h, Value: v, Refs: 1})
	return h, nil
}

// Get returns the value bound to h without consuming the binding.
func (r *Registry[T]) Get(h Handle) (T, error) {
	var zero T
	if err := r.check(h); err != nil {
		return zero, err
	}
	r.mu.Lock()
	c, ok := r.entries[h]
	r.mu.Unlock()
	if !ok {
		return zero, r.unknown(h)
	}
	return c.value, nil
}

// Clone adds a binding to the value behind h and returns its new handle.
func (r *Registry[T]) Clone(h Handle) (Handle, error) {
	if err := r.check(h); err != nil {
		return 0, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, errors.Closed(errors.PhaseHandle, r.name)
	}
	c, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return 0, r.unknown(h)
	}
	nh := r.nextHandleLocked()
	c.refs++
	refs := c.refs
	r.entries[nh] = c
	r.mu.Unlock()

	r.notify(Event[T]{Type: EventCloned, Handle: nh, Value: c.value, Refs: refs})
	return nh, nil
}

// Remove detaches the binding h and returns the value. The value is
// destroyed when this was its last binding.
func (r *Registry[T]) Remove(h Handle) (T, error) {
	var zero T
	if err := r.check(h); err != nil {
		return zero, err
	}
	r.mu.Lock()
	c, ok := r.entries[h]
	if !ok {
		r.mu.Unlock()
		return zero, r.unknown(h)
	}
	delete(r.entries, h)
	c.refs--
	refs := c.refs
	r.mu.Unlock()

	r.notify(Event[T]{Type: EventRemoved, Handle: h, Value: c.value, Refs: refs})
	if refs == 0 {
		r.destroy(h, c.value)
	}
	return c.value, nil
}

func (r *Registry[T]) destroy(h Handle, v T) {
	if d, ok := any(v).(Dropper); ok {
		d.Drop()
	}
	r.notify(Event[T]{Type: EventDestroyed, Handle: h, Value: v})
}

// Len returns the number of live bindings.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Each calls fn for every live binding in handle order until fn returns
// false. fn runs without the lock held.
func (r *Registry[T]) Each(fn func(Handle, T) bool) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	values := make(map[Handle]T, len(r.entries))
	for h, c := range r.entries {
		handles = append(handles, h)
		values[h] = c.value
	}
	r.mu.Unlock()

	slices.Sort(handles)
	for _, h := range handles {
		if !fn(h, values[h]) {
			return
		}
	}
}

// Close removes every binding, destroying each value once, and returns the
// number of bindings that were still live. Further inserts fail.
func (r *Registry[T]) Close() int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[Handle]*cell[T])
	r.mu.Unlock()
	if !r.noID {
		releaseRegistryID(r.origin, r.id)
	}

	handles := make([]Handle, 0, len(entries))
	for h := range entries {
		handles = append(handles, h)
	}
	slices.Sort(handles)

	for _, h := range handles {
		c := entries[h]
		c.refs--
		r.notify(Event[T]{Type: EventRemoved, Handle: h, Value: c.value, Refs: c.refs})
		if c.refs == 0 {
			r.destroy(h, c.value)
		}
	}
	return len(handles)
}

// Subscribe registers an observer and returns a function that removes it.
func (r *Registry[T]) Subscribe(o Observer[T]) (unsubscribe func()) {
	r.obsMu.Lock()
	r.obsSeq++
	id := r.obsSeq
	r.observers = append(r.observers, subscription[T]{id: id, obs: o})
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()
		r.observers = slices.DeleteFunc(r.observers, func(s subscription[T]) bool { return s.id == id })
	}
}

func (r *Registry[T]) notify(e Event[T]) {
	r.obsMu.RLock()
	observers := slices.Clone(r.observers)
	r.obsMu.RUnlock()

	for _, s := range observers {
		s.obs.OnHandleEvent(e)
	}
}
