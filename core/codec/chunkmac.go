package codec

// ChunkMAC is the integrity tag of one transferred chunk.
type ChunkMAC struct {
	MAC [16]byte
	// Offset is the number of bytes of the chunk already covered by MAC.
	Offset int64
	// Finished is set once the whole chunk has been tagged.
	Finished bool
}

// ChunkMACMap maps a chunk's starting position in the file to its tag.
type ChunkMACMap map[int64]ChunkMAC

// Add records the tag for the chunk at pos. A finished chunk is never
// overwritten; Add reports whether the map changed.
func (m ChunkMACMap) Add(pos int64, mac ChunkMAC) bool {
	if cur, ok := m[pos]; ok && cur.Finished {
		return false
	}
	m[pos] = mac
	return true
}

// Reset discards all tags.
func (m ChunkMACMap) Reset() {
	for k := range m {
		delete(m, k)
	}
}
