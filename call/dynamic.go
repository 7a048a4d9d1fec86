package call

import (
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// ThrownError is a declared error lifted without a Go type.
type ThrownError struct {
	Type  wit.Type
	Value any
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("%s: %v", codec.TypeName(e.Type), e.Value)
}

// DeclaredDynamic returns a Checker for calls whose declared error type is
// only known as a WIT type. Declared errors are returned as *ThrownError.
// A nil t means the call has no declared error type.
func DeclaredDynamic(t wit.Type) Checker {
	if t == nil {
		return Check
	}
	return func(alloc abi.Allocator, status *abi.CallStatus) error {
		if status.Code != abi.CallError {
			return Check(alloc, status)
		}
		v, err := codec.LiftDynamic(alloc, t, status.ErrorBuf)
		status.ErrorBuf = abi.Buffer{}
		if err != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "lift declared error")
		}
		return &ThrownError{Type: t, Value: v}
	}
}
