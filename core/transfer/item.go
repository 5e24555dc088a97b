package transfer

import (
	"container/list"

	"localsync/core/codec"
	"localsync/core/localtree"
)

// Direction of a transfer.
type Direction int8

const (
	Get Direction = 0
	Put Direction = 1
)

func (d Direction) String() string {
	if d == Put {
		return "put"
	}
	return "get"
}

// State of a transfer.
type State int8

const (
	Queued State = iota
	Active
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Item is one upload or download.
type Item struct {
	// Seq orders items of one direction. It is assigned by Enqueue.
	Seq       uint64
	Direction Direction
	// Target is the remote object for a Get and the local relative path for
	// a Put.
	Target string
	State  State

	Size     int64
	Progress int64

	// Node is the tree node the transfer belongs to, NodeRow its cache row.
	Node    localtree.NodeID
	NodeRow uint32

	// Remote is the remote handle a Get fetches. Workers set it to the new
	// handle when a Put completes.
	Remote codec.Handle

	ChunkMACs codec.ChunkMACMap
	Err       error

	elem *list.Element
}

// NewItem returns a transfer item ready to be enqueued.
func NewItem(dir Direction, target string, node *localtree.Node) *Item {
	it := &Item{
		Direction: dir,
		Target:    target,
		Remote:    codec.UndefHandle,
		ChunkMACs: make(codec.ChunkMACMap),
	}
	if node != nil {
		it.Node = node.ID
		it.NodeRow = node.RowID
		it.Size = node.Size
	}
	return it
}

// Info is a copy of an item's public state.
type Info struct {
	Seq       uint64 `json:"seq"`
	Direction string `json:"direction"`
	Target    string `json:"target"`
	State     string `json:"state"`
	Size      int64  `json:"size"`
	Progress  int64  `json:"progress"`
}

func (it *Item) info() Info {
	return Info{
		Seq:       it.Seq,
		Direction: it.Direction.String(),
		Target:    it.Target,
		State:     it.State.String(),
		Size:      it.Size,
		Progress:  it.Progress,
	}
}
