// Package codec lifts and lowers Go values to and from the buffer wire
// format shared with the native side.
//
// Every supported type has a Converter with four operations:
//
//	Lift(alloc, c, buf)  whole buffer to value; the buffer must be fully consumed
//	Lower(alloc, c, v)   value to a fresh buffer
//	c.Read(r)            value from a shared read cursor
//	c.Write(w, v)        value to a shared write cursor
//
// Wire format:
//
//	Type            Encoding
//	──────────────────────────────────────────────────────────────
//	bool            1 byte, 0 or 1
//	ints            big-endian, 1/2/4/8 bytes, two's complement
//	floats          IEEE-754 big-endian, 4 or 8 bytes
//	string/bytes    i32 length + raw bytes
//	optional<T>     1 byte (0 absent, 1 present) + T
//	sequence<T>     i32 count + elements
//	map<K,V>        i32 count + (K,V) pairs, keys sorted on write
//	enum            i32 tag (1-based) + variant fields
//	record          fields in declaration order, no tag
//	handle          8 bytes
//	timestamp       i64 seconds + u32 nanos, sign flipped before the epoch
//	duration        i64 seconds + u32 nanos
//
// Structural violations found while reading are internal errors. Go values
// that cannot be represented on the wire are validation errors and are
// reported before anything crosses the boundary.
//
// EncodeValue and DecodeValue provide the same wire format for dynamically
// typed values described by WIT types.
package codec
