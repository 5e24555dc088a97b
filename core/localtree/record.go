package localtree

import "localsync/core/codec"

// FormatVersion identifies the record layout written by Serialize.
const FormatVersion uint8 = 1

// MinRecordSize is the size of a folder record with an empty name.
const MinRecordSize = 8 + 4 + 8 + 1 + 2 + codec.ExpansionFlagCount

const flagSyncable byte = 1 << 0

const expansionDirty = 0

// Serialize encodes n as a cache record.
func Serialize(n *Node) []byte {
	buf := make([]byte, 0, MinRecordSize+len(n.Name)+len(n.Fingerprint)+9)
	w := codec.NewWriter(&buf)

	if n.Kind == KindFile {
		size := n.Size
		if size < 0 {
			size = 0
		}
		w.Int64(size)
	} else {
		w.Int64(-int64(n.Kind))
	}
	w.Uint32(n.ParentRowID)
	w.Handle(n.FSID)

	var flags byte
	if n.Syncable {
		flags |= flagSyncable
	}
	w.Byte(flags)
	w.String(n.Name)

	if n.Kind == KindFile {
		w.Binary(n.Fingerprint[:])
		w.Compressed64(uint64(n.ModTime))
	}

	expansion := make([]bool, codec.ExpansionFlagCount)
	expansion[expansionDirty] = n.Dirty
	w.ExpansionFlags(expansion...)
	return buf
}

// Unserialize decodes a record written by Serialize. The returned node is
// detached: it has no slot and no parent until the tree adopts it.
func Unserialize(names NameContext, data []byte) (*Node, bool) {
	if len(data) < MinRecordSize {
		return nil, false
	}
	r := codec.NewReader(&data)

	kindSize, ok := r.Int64()
	if !ok {
		return nil, false
	}
	kind, size := KindFile, kindSize
	if kindSize < 0 {
		if kindSize != -int64(KindFolder) {
			return nil, false
		}
		kind, size = KindFolder, 0
	}

	parentRowID, ok := r.Uint32()
	if !ok {
		return nil, false
	}
	fsid, ok := r.Handle()
	if !ok {
		return nil, false
	}
	flags, ok := r.Byte()
	if !ok {
		return nil, false
	}
	name, ok := r.String()
	if !ok {
		return nil, false
	}

	n := newNode(kind, name)
	n.Size = size
	n.ParentRowID = parentRowID
	n.FSID = fsid
	n.Syncable = flags&flagSyncable != 0

	if kind == KindFile {
		if !r.Binary(n.Fingerprint[:]) {
			return nil, false
		}
		mtime, ok := r.Compressed64()
		if !ok {
			return nil, false
		}
		n.ModTime = int64(mtime)
	}

	expansion, ok := r.ExpansionFlags(codec.ExpansionFlagCount)
	if !ok {
		return nil, false
	}
	n.Dirty = expansion[expansionDirty]

	if names == nil {
		names = NFCNames{}
	}
	n.DisplayName = names.DisplayName(name)
	n.Checked = true
	n.Valid = true
	n.Created = false
	n.Reported = false
	n.AltName = ""
	return n, true
}
