package codec

import (
	"encoding/binary"
	"errors"
)

// Handle is an opaque 64-bit identifier (filesystem identity or remote node).
type Handle uint64

// UndefHandle marks a handle that has not been assigned.
const UndefHandle Handle = ^Handle(0)

// ExpansionFlagCount is the fixed size of the forward-compatibility area.
const ExpansionFlagCount = 8

// MaxStringLen is the longest string or binary field a length prefix can carry.
const MaxStringLen = 0xFFFF

var (
	// ErrShortBuffer is reported when fewer bytes remain than a read requires.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrFlagCountMismatch is reported when expansion flags are read with a
	// count other than ExpansionFlagCount.
	ErrFlagCountMismatch = errors.New("codec: expansion flag count mismatch")
	// ErrMalformedLength is reported when a length or count field is invalid.
	ErrMalformedLength = errors.New("codec: malformed length")
)

var le = binary.LittleEndian

// Valid reports whether h carries an assigned value.
func (h Handle) Valid() bool {
	return h != UndefHandle
}
