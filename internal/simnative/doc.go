// Package simnative is an in-process stand-in for a native library named
// "calc". It speaks the same ABI a shared library would: exported functions
// with call statuses, a Calculator object addressed by native handles, the
// "binary-op" callback interface, poll-based futures and blocking task
// queues. It also embeds its contract manifest.
//
// The runtime tests and cmd/ffidemo drive it; nothing in it is needed to
// talk to a real library.
package simnative
