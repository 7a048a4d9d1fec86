// Package contract implements the startup handshake between bindings and a
// loaded native library.
//
// Bindings are compiled against a Contract: a version number and one
// checksum per exported symbol, derived from the symbol's signature. Verify
// compares it with what the library reports and aggregates every mismatch
// into a single *errors.MismatchError. A library may also embed a Manifest,
// the msgpack-encoded description of its symbols.
package contract
