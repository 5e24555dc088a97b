package transfer

import (
	"errors"

	"localsync/core/codec"
)

// ErrCorruptRecord is returned when a persisted transfer cannot be decoded.
var ErrCorruptRecord = errors.New("transfer: corrupt record")

// Serialize encodes the resumable state of it.
func (it *Item) Serialize() []byte {
	var buf []byte
	w := codec.NewWriter(&buf)
	w.Byte(byte(it.Direction))
	w.Uint64(it.Seq)
	w.Int64(it.Size)
	w.Int64(it.Progress)
	w.Uint32(it.NodeRow)
	w.String(it.Target)
	w.Handle(it.Remote)
	w.ChunkMACs(it.ChunkMACs)
	w.ExpansionFlags()
	return buf
}

// UnserializeItem decodes a record written by Serialize. The item comes back
// Queued and has to be enqueued again; its Node slot is unknown.
func UnserializeItem(data []byte) (*Item, error) {
	r := codec.NewReader(&data)
	it := &Item{State: Queued}

	dir, ok := r.Byte()
	if !ok || (Direction(dir) != Get && Direction(dir) != Put) {
		return nil, ErrCorruptRecord
	}
	it.Direction = Direction(dir)

	if it.Seq, ok = r.Uint64(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.Size, ok = r.Int64(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.Progress, ok = r.Int64(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.NodeRow, ok = r.Uint32(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.Target, ok = r.String(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.Remote, ok = r.Handle(); !ok {
		return nil, ErrCorruptRecord
	}
	if it.ChunkMACs, ok = r.ChunkMACs(); !ok {
		return nil, ErrCorruptRecord
	}
	if _, ok = r.ExpansionFlags(codec.ExpansionFlagCount); !ok {
		return nil, ErrCorruptRecord
	}
	return it, nil
}
