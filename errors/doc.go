// Package errors provides structured error types for the FFI runtime.
//
// Errors are categorized by Phase (where in a boundary crossing the error
// occurred) and Kind (error category). The Error type carries a field path,
// Go/FFI type names and a cause chain.
//
// Errors in PhaseValidate are validation errors: a Go caller supplied a value
// that cannot be lowered, and nothing crossed the boundary. Every other *Error
// is an internal error meaning the bindings and the native library disagree.
// Declared errors of an operation are never wrapped in *Error; they reach the
// caller as their own type.
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidVariant).
//		Path("shape", "kind").
//		FFIType("enum Shape").
//		Detail("tag %d", tag).
//		Build()
//
//	if errors.IsInternal(err) {
//		// bindings are broken
//	}
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
