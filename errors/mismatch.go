package errors

import (
	"fmt"
	"strings"
)

// SymbolMismatch describes one entry point that failed the startup handshake.
type SymbolMismatch struct {
	Symbol  string // e.g., "ffi_calc_fn_method_calculator_add"
	Want    uint16 // checksum compiled into the bindings
	Got     uint16 // checksum reported by the library
	Missing bool   // library does not export the symbol at all
}

// MismatchError is returned when the bindings and the loaded native library
// disagree about the contract. It is always fatal at startup.
type MismatchError struct {
	Library     string
	WantVersion uint32
	GotVersion  uint32
	Symbols     []SymbolMismatch
}

// NewMismatchError creates an empty mismatch report for a library.
func NewMismatchError(library string, want, got uint32) *MismatchError {
	return &MismatchError{
		Library:     library,
		WantVersion: want,
		GotVersion:  got,
	}
}

// AddMissing records a symbol the library does not export.
func (e *MismatchError) AddMissing(symbol string) {
	e.Symbols = append(e.Symbols, SymbolMismatch{Symbol: symbol, Want: 0, Missing: true})
}

// AddChecksum records a symbol whose checksum differs.
func (e *MismatchError) AddChecksum(symbol string, want, got uint16) {
	e.Symbols = append(e.Symbols, SymbolMismatch{Symbol: symbol, Want: want, Got: got})
}

// Empty reports whether the handshake found nothing wrong.
func (e *MismatchError) Empty() bool {
	return e.WantVersion == e.GotVersion && len(e.Symbols) == 0
}

// Error implements the error interface
func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: library %q", PhaseContract, KindContractMismatch, e.Library)

	if e.WantVersion != e.GotVersion {
		fmt.Fprintf(&b, "\n  contract version: bindings expect %d, library reports %d", e.WantVersion, e.GotVersion)
	}

	var missing, changed []SymbolMismatch
	for _, s := range e.Symbols {
		if s.Missing {
			missing = append(missing, s)
		} else {
			changed = append(changed, s)
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(&b, "\n  missing %d symbol(s):", len(missing))
		for _, s := range missing {
			b.WriteString("\n    - ")
			b.WriteString(s.Symbol)
		}
	}
	if len(changed) > 0 {
		fmt.Fprintf(&b, "\n  %d checksum mismatch(es):", len(changed))
		for _, s := range changed {
			fmt.Fprintf(&b, "\n    - %s (want %d, got %d)", s.Symbol, s.Want, s.Got)
		}
	}

	return b.String()
}

// Is reports whether target matches this error type. A plain *Error with
// PhaseContract and KindContractMismatch also matches.
func (e *MismatchError) Is(target error) bool {
	switch t := target.(type) {
	case *MismatchError:
		return true
	case *Error:
		return t.Phase == PhaseContract && t.Kind == KindContractMismatch
	}
	return false
}
