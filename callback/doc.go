// Package callback lets native code call Go implementations of
// native-declared interfaces.
//
// An Interface is a vtable of methods in declaration order. Native code
// holds Go implementations by handle and invokes them through a single
// dispatch function per interface:
//
//	dispatch(handle, method, args, out) -> code
//
// Method index IndexFree releases a handle and IndexClone adds a reference;
// declared methods are numbered from 1. Faults in Go implementations never
// cross the boundary: panics are recovered and reported as unexpected errors
// with a best-effort message.
//
// Async methods are started by the async dispatch function. They report
// their outcome exactly once through the native completion callback, unless
// native code frees the returned foreign future first, which cancels them.
package callback
