package codec

// Reader decodes fields from a caller owned buffer.
type Reader struct {
	src *[]byte
	pos int
	err error
}

// NewReader returns a Reader over *src starting at its first byte.
func NewReader(src *[]byte) *Reader {
	return &Reader{src: src}
}

// Err returns the reason of the last failed read, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(*r.src) - r.pos
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

// EraseUsed removes the consumed prefix from the backing buffer.
func (r *Reader) EraseUsed() {
	*r.src = (*r.src)[r.pos:]
	r.pos = 0
}

func (r *Reader) fail(err error) bool {
	r.err = err
	return false
}

// need checks that n bytes are available without consuming them.
func (r *Reader) need(n int) bool {
	if n < 0 || r.Remaining() < n {
		return r.fail(ErrShortBuffer)
	}
	return true
}

func (r *Reader) take(n int) []byte {
	b := (*r.src)[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Binary fills dst from the buffer.
func (r *Reader) Binary(dst []byte) bool {
	if !r.need(len(dst)) {
		return false
	}
	copy(dst, r.take(len(dst)))
	return true
}

// CString reads a length-prefixed string. When terminated is set the stored
// terminator is stripped.
func (r *Reader) CString(terminated bool) (string, bool) {
	if !r.need(2) {
		return "", false
	}
	n := int(le.Uint16((*r.src)[r.pos:]))
	if terminated && n == 0 {
		return "", r.fail(ErrMalformedLength)
	}
	if !r.need(2 + n) {
		return "", false
	}
	r.pos += 2
	b := r.take(n)
	if terminated {
		b = b[:n-1]
	}
	return string(b), true
}

// String reads a length-prefixed string with no terminator.
func (r *Reader) String() (string, bool) {
	return r.CString(false)
}

func (r *Reader) Byte() (byte, bool) {
	if !r.need(1) {
		return 0, false
	}
	return r.take(1)[0], true
}

func (r *Reader) Bool() (bool, bool) {
	b, ok := r.Byte()
	return b != 0, ok
}

func (r *Reader) Int8() (int8, bool) {
	b, ok := r.Byte()
	return int8(b), ok
}

func (r *Reader) Uint16() (uint16, bool) {
	if !r.need(2) {
		return 0, false
	}
	return le.Uint16(r.take(2)), true
}

func (r *Reader) Uint32() (uint32, bool) {
	if !r.need(4) {
		return 0, false
	}
	return le.Uint32(r.take(4)), true
}

func (r *Reader) Int32() (int32, bool) {
	v, ok := r.Uint32()
	return int32(v), ok
}

func (r *Reader) Uint64() (uint64, bool) {
	if !r.need(8) {
		return 0, false
	}
	return le.Uint64(r.take(8)), true
}

func (r *Reader) Int64() (int64, bool) {
	v, ok := r.Uint64()
	return int64(v), ok
}

func (r *Reader) Handle() (Handle, bool) {
	v, ok := r.Uint64()
	return Handle(v), ok
}

// Compressed64 reads a value written by Writer.Compressed64.
func (r *Reader) Compressed64() (uint64, bool) {
	if !r.need(1) {
		return 0, false
	}
	n := int((*r.src)[r.pos])
	if n > 8 {
		return 0, r.fail(ErrMalformedLength)
	}
	if !r.need(1 + n) {
		return 0, false
	}
	r.pos++
	var tmp [8]byte
	copy(tmp[:], r.take(n))
	return le.Uint64(tmp[:]), true
}

const chunkMACEntrySize = 8 + 16 + 8 + 1

// ChunkMACs reads a map written by Writer.ChunkMACs.
func (r *Reader) ChunkMACs() (ChunkMACMap, bool) {
	if !r.need(2) {
		return nil, false
	}
	count := int(le.Uint16((*r.src)[r.pos:]))
	if !r.need(2 + count*chunkMACEntrySize) {
		return nil, false
	}
	r.pos += 2

	m := make(ChunkMACMap, count)
	for i := 0; i < count; i++ {
		pos := int64(le.Uint64(r.take(8)))
		var mac ChunkMAC
		copy(mac.MAC[:], r.take(16))
		mac.Offset = int64(le.Uint64(r.take(8)))
		mac.Finished = r.take(1)[0] != 0
		m[pos] = mac
	}
	return m, true
}

// ExpansionFlags reads the forward-compatibility area. want must equal
// ExpansionFlagCount; any other count fails without consuming input.
func (r *Reader) ExpansionFlags(want int) ([]bool, bool) {
	if want != ExpansionFlagCount {
		return nil, r.fail(ErrFlagCountMismatch)
	}
	if !r.need(ExpansionFlagCount) {
		return nil, false
	}
	flags := make([]bool, ExpansionFlagCount)
	for i, b := range r.take(ExpansionFlagCount) {
		flags[i] = b != 0
	}
	return flags, true
}
