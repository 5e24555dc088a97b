package codec

import "sort"

// Writer appends encoded fields to a caller owned buffer.
type Writer struct {
	dst *[]byte
}

// NewWriter returns a Writer appending to *dst.
func NewWriter(dst *[]byte) *Writer {
	return &Writer{dst: dst}
}

// Bytes returns the buffer written so far.
func (w *Writer) Bytes() []byte {
	return *w.dst
}

// Len returns the number of bytes in the buffer.
func (w *Writer) Len() int {
	return len(*w.dst)
}

// Binary writes b verbatim, without a length prefix.
func (w *Writer) Binary(b []byte) {
	*w.dst = append(*w.dst, b...)
}

// CString writes a length-prefixed string. When terminated is set a trailing
// zero byte is stored and counted in the prefix.
func (w *Writer) CString(s string, terminated bool) {
	limit := MaxStringLen
	if terminated {
		limit--
	}
	if len(s) > limit {
		s = s[:limit]
	}
	n := len(s)
	if terminated {
		n++
	}
	w.Uint16(uint16(n))
	*w.dst = append(*w.dst, s...)
	if terminated {
		*w.dst = append(*w.dst, 0)
	}
}

// String writes a length-prefixed string with no terminator.
func (w *Writer) String(s string) {
	w.CString(s, false)
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	*w.dst = append(*w.dst, b)
}

// Bool writes a single byte, 1 for true.
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
		return
	}
	w.Byte(0)
}

func (w *Writer) Int8(v int8) {
	w.Byte(byte(v))
}

func (w *Writer) Uint16(v uint16) {
	*w.dst = le.AppendUint16(*w.dst, v)
}

func (w *Writer) Uint32(v uint32) {
	*w.dst = le.AppendUint32(*w.dst, v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

func (w *Writer) Uint64(v uint64) {
	*w.dst = le.AppendUint64(*w.dst, v)
}

func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

// Handle writes an 8 byte handle.
func (w *Writer) Handle(h Handle) {
	w.Uint64(uint64(h))
}

// Compressed64 writes v as a count byte followed by the minimal number of
// little-endian bytes. Zero is encoded as a single zero count byte.
func (w *Writer) Compressed64(v uint64) {
	var tmp [8]byte
	le.PutUint64(tmp[:], v)
	n := 8
	for n > 0 && tmp[n-1] == 0 {
		n--
	}
	w.Byte(byte(n))
	*w.dst = append(*w.dst, tmp[:n]...)
}

// ChunkMACs writes a count followed by every entry ordered by position.
func (w *Writer) ChunkMACs(m ChunkMACMap) {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > MaxStringLen {
		keys = keys[:MaxStringLen]
	}

	w.Uint16(uint16(len(keys)))
	for _, k := range keys {
		mac := m[k]
		w.Int64(k)
		w.Binary(mac.MAC[:])
		w.Int64(mac.Offset)
		w.Bool(mac.Finished)
	}
}

// ExpansionFlags writes the fixed size forward-compatibility area. Missing
// flags are written as false, flags beyond ExpansionFlagCount are dropped.
func (w *Writer) ExpansionFlags(flags ...bool) {
	for i := 0; i < ExpansionFlagCount; i++ {
		w.Bool(i < len(flags) && flags[i])
	}
}
