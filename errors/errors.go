package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in a boundary crossing the error occurred
type Phase string

const (
	PhaseValidate Phase = "validate" // caller supplied value rejected before crossing
	PhaseEncode   Phase = "encode"   // Go to buffer
	PhaseDecode   Phase = "decode"   // buffer to Go
	PhaseAlloc    Phase = "alloc"    // buffer allocation entry points
	PhaseCall     Phase = "call"     // native call status handling
	PhaseCallback Phase = "callback" // native to Go dispatch
	PhaseHandle   Phase = "handle"   // handle registry
	PhaseObject   Phase = "object"   // object proxy lifetime
	PhaseAsync    Phase = "async"    // future polling
	PhaseContract Phase = "contract" // startup handshake
	PhaseRuntime  Phase = "runtime"  // runtime lifecycle
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindAllocation        Kind = "allocation"
	KindFieldMissing      Kind = "field_missing"
	KindInvalidUTF8       Kind = "invalid_utf8"
	KindOverflow          Kind = "overflow"
	KindNegativeLength    Kind = "negative_length"
	KindInvalidBool       Kind = "invalid_bool"
	KindInvalidVariant    Kind = "invalid_variant"
	KindLeftoverBytes     Kind = "leftover_bytes"
	KindUnknownHandle     Kind = "unknown_handle"
	KindWrongRegistry     Kind = "wrong_registry"
	KindUnknownMethod     Kind = "unknown_method"
	KindUnexpectedError   Kind = "unexpected_error"
	KindInvalidStatus     Kind = "invalid_status"
	KindPanic             Kind = "panic"
	KindDestroyed         Kind = "destroyed"
	KindContractMismatch  Kind = "contract_mismatch"
	KindChecksumMismatch  Kind = "checksum_mismatch"
	KindNotFound          Kind = "not_found"
	KindClosed            Kind = "closed"
	KindInvalidInput      Kind = "invalid_input"
	KindInvalidTransition Kind = "invalid_transition"
	KindExhausted         Kind = "exhausted"
)

// Error is the structured error type used throughout the runtime.
//
// Every *Error outside PhaseValidate is an internal error: it means the two
// sides of the boundary disagree about the protocol, never that an operation
// failed in the ordinary sense.
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	FFIType string
	Detail  string
	Path    []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.FFIType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.FFIType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", FFI type ")
			b.WriteString(e.FFIType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("FFI type ")
			b.WriteString(e.FFIType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.FFIType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Internal reports whether the error signals a broken binding rather than a
// rejected caller value.
func (e *Error) Internal() bool {
	return e.Phase != PhaseValidate
}

// IsInternal reports whether err (or anything it wraps) is an internal
// runtime error.
func IsInternal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Internal()
	}
	return false
}

// IsValidation reports whether err was raised while validating a caller
// supplied value, before anything crossed the boundary.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase == PhaseValidate
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// FFIType sets the wire type name
func (b *Builder) FFIType(t string) *Builder {
	b.err.FFIType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, ffiType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		FFIType: ffiType,
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size int32, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// InvalidDiscriminant creates an error for an unknown option discriminant or
// enum tag read off the wire.
func InvalidDiscriminant(path []string, disc int64, maxValid int64) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// NegativeLength creates an error for a negative length or count prefix
func NegativeLength(path []string, n int32) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindNegativeLength,
		Path:   path,
		Detail: fmt.Sprintf("negative length prefix %d", n),
		Value:  n,
	}
}

// LeftoverBytes creates an error for a buffer that was not fully consumed
func LeftoverBytes(remaining int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindLeftoverBytes,
		Detail: fmt.Sprintf("%d bytes remaining in buffer after lift", remaining),
		Value:  remaining,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Overflow creates a validation error for a value that does not fit the
// declared wire width
func Overflow(path []string, value any, targetType string) *Error {
	return &Error{
		Phase:   PhaseValidate,
		Kind:    KindOverflow,
		Path:    path,
		FFIType: targetType,
		Detail:  fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:   value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnknownHandle creates a use-after-free error
func UnknownHandle(handle uint64) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindUnknownHandle,
		Detail: fmt.Sprintf("handle %#x is not live (use after free?)", handle),
		Value:  handle,
	}
}

// Panic creates an internal error carrying a best-effort panic message
func Panic(phase Phase, msg string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Detail: msg,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for an operation on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", component),
	}
}

// AtPath prepends path segments to err's path when err is an *Error and
// returns err. Other errors are returned unchanged.
func AtPath(err error, path ...string) error {
	var e *Error
	if errors.As(err, &e) {
		e.Path = append(append(make([]string, 0, len(path)+len(e.Path)), path...), e.Path...)
	}
	return err
}
