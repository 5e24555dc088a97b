package localtree

import "localsync/core/codec"

// NodeID is the arena slot of a node inside its Tree. Zero is never used.
type NodeID uint32

// NoNode is the zero NodeID.
const NoNode NodeID = 0

// Kind is the type of a node.
type Kind int8

const (
	KindFile   Kind = 0
	KindFolder Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// Fingerprint is a sparse checksum of a file's content.
type Fingerprint [16]byte

// Node is one file or folder of the mirrored directory.
type Node struct {
	ID   NodeID
	Kind Kind

	// Name is the name on the local filesystem.
	Name string
	// DisplayName is Name converted to the form used remotely.
	DisplayName string
	// AltName is an alternate local name (a DOS short name, for instance).
	AltName string

	Size        int64
	ModTime     int64
	Fingerprint Fingerprint
	// FingerprintedAt is the unix time Fingerprint was computed, zero if it
	// was loaded from the cache.
	FingerprintedAt int64

	FSID   codec.Handle
	Remote codec.Handle

	RowID       uint32
	ParentRowID uint32

	Syncable bool
	Created  bool
	Reported bool
	Checked  bool
	Valid    bool
	// Dirty marks a local change that has not been uploaded yet.
	Dirty bool

	parent   NodeID
	children map[string]NodeID
	seen     uint64
}

// Parent returns the slot id of the parent, NoNode for the root or a
// detached node.
func (n *Node) Parent() NodeID {
	return n.parent
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// SeenIn reports whether n was observed by the scan of generation gen.
func (n *Node) SeenIn(gen uint64) bool {
	return n.seen == gen
}

// Linked reports whether n corresponds to a remote node.
func (n *Node) Linked() bool {
	return n.Remote.Valid()
}

func newNode(kind Kind, name string) *Node {
	n := &Node{
		Kind:     kind,
		Name:     name,
		FSID:     codec.UndefHandle,
		Remote:   codec.UndefHandle,
		Syncable: true,
		Valid:    true,
	}
	if kind == KindFolder {
		n.children = make(map[string]NodeID)
	}
	return n
}
