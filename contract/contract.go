package contract

import (
	"sort"

	"github.com/cespare/xxhash"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/errors"
)

// Checksum derives the 16-bit checksum of a symbol signature.
func Checksum(signature string) uint16 {
	h := xxhash.Sum64([]byte(signature))
	return uint16(h ^ h>>16 ^ h>>32 ^ h>>48)
}

// Symbol is one exported entry point.
type Symbol struct {
	Name      string `msgpack:"name"`
	Signature string `msgpack:"signature"`
	Checksum  uint16 `msgpack:"checksum"`
}

// NewSymbol returns a symbol whose checksum is derived from signature.
func NewSymbol(name, signature string) Symbol {
	return Symbol{Name: name, Signature: signature, Checksum: Checksum(signature)}
}

// Contract is what the bindings expect from a library.
type Contract struct {
	Library string
	Version uint32
	Symbols []Symbol
}

// Verify checks lib against c. Every problem is reported in one
// *errors.MismatchError.
func Verify(lib abi.Library, c Contract) error {
	mismatch := errors.NewMismatchError(c.Library, c.Version, lib.ContractVersion())

	symbols := append([]Symbol(nil), c.Symbols...)
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Name < symbols[j].Name })

	for _, s := range symbols {
		got, ok := lib.Checksum(s.Name)
		if !ok {
			mismatch.AddMissing(s.Name)
			continue
		}
		if got != s.Checksum {
			mismatch.AddChecksum(s.Name, s.Checksum, got)
		}
	}

	if mismatch.Empty() {
		return nil
	}
	return mismatch
}
