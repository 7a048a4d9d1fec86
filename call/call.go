// Package call implements the call status protocol that accompanies every
// fallible native call.
//
// A native function reports success, a declared error serialized into the
// status buffer, or a panic with a best-effort message. Declared errors reach
// the caller as their own Go type. Panics, and error statuses on functions
// without a declared error type, are internal errors.
package call

import (
	"go.uber.org/zap"

	"github.com/wippyai/ffi-runtime/abi"
	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/errors"
)

// UnknownPanicMessage replaces a panic message the native side could not
// provide.
const UnknownPanicMessage = "native code panicked without a message"

// Lookup resolves a native entry point.
func Lookup(lib abi.Library, symbol string) (abi.Func, error) {
	fn, ok := lib.Lookup(symbol)
	if !ok || fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "symbol", symbol)
	}
	return fn, nil
}

// Invoke calls a native function that has no declared error type.
func Invoke(alloc abi.Allocator, fn abi.Func, args ...abi.Value) (abi.Value, error) {
	var status abi.CallStatus
	ret := fn(args, &status)
	if err := Check(alloc, &status); err != nil {
		return abi.Value{}, err
	}
	return ret, nil
}

// InvokeWithError calls a native function whose declared error type is E.
// A declared error is returned as an E.
func InvokeWithError[E error](alloc abi.Allocator, errConv codec.Converter[E], fn abi.Func, args ...abi.Value) (abi.Value, error) {
	var status abi.CallStatus
	ret := fn(args, &status)
	if err := CheckWithError(alloc, errConv, &status); err != nil {
		return abi.Value{}, err
	}
	return ret, nil
}

// Check interprets status for a call without a declared error type. An error
// status is a contract violation; its buffer is freed.
func Check(alloc abi.Allocator, status *abi.CallStatus) error {
	switch status.Code {
	case abi.CallSuccess:
		return nil
	case abi.CallError:
		freeStatus(alloc, status)
		return errors.New(errors.PhaseCall, errors.KindInvalidStatus).
			Detail("error status from a function without a declared error type").
			Build()
	default:
		return checkFault(alloc, status)
	}
}

// CheckWithError interprets status for a call whose declared error type is E.
func CheckWithError[E error](alloc abi.Allocator, errConv codec.Converter[E], status *abi.CallStatus) error {
	switch status.Code {
	case abi.CallSuccess:
		return nil
	case abi.CallError:
		declared, err := codec.Lift(alloc, errConv, status.ErrorBuf)
		status.ErrorBuf = abi.Buffer{}
		if err != nil {
			return errors.Wrap(errors.PhaseCall, errors.KindInvalidData, err, "lift declared error")
		}
		return declared
	default:
		return checkFault(alloc, status)
	}
}

func checkFault(alloc abi.Allocator, status *abi.CallStatus) error {
	if status.Code != abi.CallPanic {
		code := status.Code
		freeStatus(alloc, status)
		return errors.New(errors.PhaseCall, errors.KindInvalidStatus).
			Value(code).
			Detail("unknown call status code %d", code).
			Build()
	}
	return errors.Panic(errors.PhaseCall, PanicMessage(alloc, status))
}

// PanicMessage extracts the best-effort message of a panic status and frees
// its buffer.
func PanicMessage(alloc abi.Allocator, status *abi.CallStatus) string {
	buf := status.ErrorBuf
	status.ErrorBuf = abi.Buffer{}
	if buf.Len == 0 {
		if err := alloc.Free(buf); err != nil {
			Logger().Warn("free empty panic buffer", zap.Error(err))
		}
		return UnknownPanicMessage
	}
	msg, err := codec.Lift(alloc, codec.String, buf)
	if err != nil {
		Logger().Warn("panic message undecodable", zap.Error(err))
		return UnknownPanicMessage
	}
	if msg == "" {
		return UnknownPanicMessage
	}
	return msg
}

func freeStatus(alloc abi.Allocator, status *abi.CallStatus) {
	if err := alloc.Free(status.ErrorBuf); err != nil {
		Logger().Warn("free status buffer", zap.Error(err))
	}
	status.ErrorBuf = abi.Buffer{}
}

// SetError fills status with a declared error. It is the native-side half of
// the protocol and is used by libraries implemented in Go.
func SetError[E any](alloc abi.Allocator, errConv codec.Converter[E], status *abi.CallStatus, e E) {
	buf, err := codec.Lower(alloc, errConv, e)
	if err != nil {
		SetPanic(alloc, status, "lower declared error: "+err.Error())
		return
	}
	status.Code = abi.CallError
	status.ErrorBuf = buf
}

// SetPanic fills status with a panic. If even the message cannot be lowered
// the buffer is left empty.
func SetPanic(alloc abi.Allocator, status *abi.CallStatus, msg string) {
	status.Code = abi.CallPanic
	buf, err := codec.Lower(alloc, codec.String, msg)
	if err != nil {
		status.ErrorBuf = abi.Buffer{}
		return
	}
	status.ErrorBuf = buf
}

// Checker interprets a call status after a native call returns.
type Checker func(alloc abi.Allocator, status *abi.CallStatus) error

// Declared returns a Checker for calls whose declared error type is E.
func Declared[E error](errConv codec.Converter[E]) Checker {
	return func(alloc abi.Allocator, status *abi.CallStatus) error {
		return CheckWithError(alloc, errConv, status)
	}
}

// InvokeChecked calls fn and interprets its status with check. A nil check
// means the function has no declared error type.
func InvokeChecked(alloc abi.Allocator, check Checker, fn abi.Func, args ...abi.Value) (abi.Value, error) {
	if check == nil {
		check = Check
	}
	var status abi.CallStatus
	ret := fn(args, &status)
	if err := check(alloc, &status); err != nil {
		return abi.Value{}, err
	}
	return ret, nil
}
