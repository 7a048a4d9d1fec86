package object

import (
	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/call"
)

// CloneSymbol returns the conventional clone entry point of a class.
func CloneSymbol(lib, class string) string {
	return "ffi_" + lib + "_clone_" + class
}

// FreeSymbol returns the conventional free entry point of a class.
func FreeSymbol(lib, class string) string {
	return "ffi_" + lib + "_free_" + class
}

// Class describes one native object type: how to clone and free a reference.
type Class struct {
	Name  string
	Alloc abi.Allocator
	// Clone takes a handle and returns a new handle to the same object.
	Clone abi.Func
	// Free releases one reference.
	Free abi.Func
}

// NewClass resolves the clone and free entry points of a class.
func NewClass(lib abi.Library, name string) (*Class, error) {
	clone, err := call.Lookup(lib, CloneSymbol(lib.Name(), name))
	if err != nil {
		return nil, err
	}
	free, err := call.Lookup(lib, FreeSymbol(lib.Name(), name))
	if err != nil {
		return nil, err
	}
	return &Class{
		Name:  name,
		Alloc: lib.Allocator(),
		Clone: clone,
		Free:  free,
	}, nil
}

func (c *Class) cloneHandle(h uint64) (uint64, error) {
	ret, err := call.Invoke(c.Alloc, c.Clone, abi.Scalar(h))
	if err != nil {
		return 0, err
	}
	return ret.Bits, nil
}

func (c *Class) freeHandle(h uint64) error {
	_, err := call.Invoke(c.Alloc, c.Free, abi.Scalar(h))
	return err
}
