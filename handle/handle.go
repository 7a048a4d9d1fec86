package handle

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to a value held by one side of the boundary.
type Handle uint64

// Origin says which side allocated a handle.
type Origin uint8

const (
	Native  Origin = 0
	Foreign Origin = 1
)

func (o Origin) String() string {
	if o == Foreign {
		return "foreign"
	}
	return "native"
}

const (
	originMask    = 1
	seqShift      = 1
	seqBits       = 39
	seqMask       = (uint64(1) << seqBits) - 1
	registryShift = 40
	registryMask  = 0xFF

	// MaxHandle is the largest value a well-formed handle can take.
	MaxHandle = (uint64(1) << 48) - 1
)

// registryIDs tracks the ids held by open registries, per origin. Only 256
// registries of one origin can be open at a time.
var registryIDs struct {
	mu    sync.Mutex
	inUse [2][registryMask + 1]bool
	next  [2]int
}

// allocRegistryID reserves an id no open registry of the same origin holds.
// Ids are handed out round-robin so a released id is reused as late as
// possible.
func allocRegistryID(origin Origin) (uint8, bool) {
	o := origin & originMask
	registryIDs.mu.Lock()
	defer registryIDs.mu.Unlock()
	for i := range registryMask + 1 {
		id := (registryIDs.next[o] + i) & registryMask
		if !registryIDs.inUse[o][id] {
			registryIDs.inUse[o][id] = true
			registryIDs.next[o] = id + 1
			return uint8(id), true
		}
	}
	return 0, false
}

func releaseRegistryID(origin Origin, id uint8) {
	registryIDs.mu.Lock()
	registryIDs.inUse[origin&originMask][id] = false
	registryIDs.mu.Unlock()
}

func makeHandle(origin Origin, registry uint8, seq uint64) Handle {
	return Handle(uint64(registry)<<registryShift | (seq&seqMask)<<seqShift | uint64(origin)&originMask)
}

// Origin returns which side allocated the handle.
func (h Handle) Origin() Origin {
	return Origin(uint64(h) & originMask)
}

// RegistryID returns the id of the registry that issued the handle.
func (h Handle) RegistryID() uint8 {
	return uint8(uint64(h) >> registryShift & registryMask)
}

// Seq returns the sequence number.
func (h Handle) Seq() uint64 {
	return uint64(h) >> seqShift & seqMask
}

// Valid reports whether h is non-zero and fits in 48 bits.
func (h Handle) Valid() bool {
	return h != 0 && uint64(h) <= MaxHandle
}

func (h Handle) String() string {
	return fmt.Sprintf("%s:%d:%d", h.Origin(), h.RegistryID(), h.Seq())
}
