// Package handle provides the concurrency-safe handle registry used for
// objects and callback implementations shared across the boundary.
//
// # Handle Layout
//
// A handle is a 48-bit value inside a uint64:
//
//	bit  0       origin: 1 = allocated by Go, 0 = allocated by native code
//	bits 1..39   sequence number, never reused while a binding is live
//	bits 40..47  registry id
//
// Handle 0 is never valid. The origin bit and the registry id let a handle be
// routed to the registry that issued it; resolving it anywhere else fails.
//
// # Reference Counting
//
// Clone adds a second binding to the same value and returns a fresh handle.
// Remove detaches one binding. The value is destroyed, and its Drop method
// called if it implements Dropper, exactly when its last binding is removed:
//
//	reg := handle.NewRegistry[*Conn]("conns", handle.Foreign)
//	h, _ := reg.Insert(conn)
//	h2, _ := reg.Clone(h)
//	reg.Remove(h)  // conn still alive through h2
//	reg.Remove(h2) // conn.Drop() runs
//
// # Observers
//
// Observers receive inserted, cloned, removed and destroyed events. They run
// after the registry lock is released and may call back into the registry.
package handle
