package localtree

import (
	"localsync/core/codec"
	"localsync/core/thread"
)

// IdentityIndex maps filesystem identities to node slots. An identity maps to
// at most one node at a time.
type IdentityIndex struct {
	mu  *thread.Mutex
	ids map[codec.Handle]NodeID
}

// NewIdentityIndex returns an empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		mu:  thread.NewMutex(false),
		ids: make(map[codec.Handle]NodeID),
	}
}

// Set points fsid at id and returns the slot it pointed at before, NoNode if
// none.
func (x *IdentityIndex) Set(fsid codec.Handle, id NodeID) NodeID {
	x.mu.Lock()
	defer x.mu.Unlock()

	prev := x.ids[fsid]
	x.ids[fsid] = id
	return prev
}

// Lookup returns the slot fsid points at.
func (x *IdentityIndex) Lookup(fsid codec.Handle) (NodeID, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	id, ok := x.ids[fsid]
	return id, ok
}

// Delete removes fsid if it still points at id.
func (x *IdentityIndex) Delete(fsid codec.Handle, id NodeID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if cur, ok := x.ids[fsid]; ok && cur == id {
		delete(x.ids, fsid)
		return true
	}
	return false
}

// Len returns the number of registered identities.
func (x *IdentityIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.ids)
}
