// Package codec implements the binary record format used by the local state
// cache and the persisted transfer queue.
//
// All multi-byte integers are little-endian. Variable length fields carry a
// two byte length prefix, so strings longer than 65535 bytes are truncated on
// write rather than failing.
//
// # Writing
//
//	var buf []byte
//	w := codec.NewWriter(&buf)
//	w.Int64(size)
//	w.String(name)
//	w.ExpansionFlags(pending)
//
// # Reading
//
// Every read returns the decoded value and a boolean. A failed read consumes
// nothing, so callers can stop at the first false and inspect Reader.Err for
// the reason.
//
//	r := codec.NewReader(&buf)
//	size, ok := r.Int64()
//	if !ok {
//	    return r.Err()
//	}
//
// EraseUsed drops the consumed prefix from the backing buffer, which lets a
// stream of records be decoded one at a time out of a growing buffer.
package codec
