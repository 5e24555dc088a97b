package localtree

import (
	"errors"
	"path"
	"sort"
	"strings"

	"localsync/core/codec"
	"localsync/core/thread"
)

var (
	ErrNotFound    = errors.New("localtree: node not found")
	ErrNameExists  = errors.New("localtree: name already exists in folder")
	ErrNotFolder   = errors.New("localtree: parent is not a folder")
	ErrCycle       = errors.New("localtree: folder cannot be moved below itself")
	ErrInvalidName = errors.New("localtree: invalid name")
	ErrRoot        = errors.New("localtree: operation not allowed on root")
)

// Option configures a Tree.
type Option func(*Tree)

// WithNames sets the conversion used to derive display names.
func WithNames(names NameContext) Option {
	return func(t *Tree) {
		t.names = names
	}
}

// Tree owns the nodes of one sync.
//
// Every exported method takes the tree lock, which is reentrant: a caller
// holding Lock may invoke any other method.
type Tree struct {
	mu    *thread.Mutex
	names NameContext
	index *IdentityIndex

	nodes map[NodeID]*Node
	next  NodeID
	root  NodeID
	// restoredAt is the unix time Restore adopted the cached nodes.
	restoredAt int64
}

// New returns a tree holding a single root folder.
func New(rootName string, opts ...Option) *Tree {
	t := &Tree{
		mu:    thread.NewMutex(true),
		names: NFCNames{},
		index: NewIdentityIndex(),
		nodes: make(map[NodeID]*Node),
	}
	for _, opt := range opts {
		opt(t)
	}

	root := newNode(KindFolder, rootName)
	root.DisplayName = t.names.DisplayName(rootName)
	t.root = t.insert(root)
	return t
}

// Lock acquires the tree lock.
func (t *Tree) Lock() { t.mu.Lock() }

// Unlock releases the tree lock.
func (t *Tree) Unlock() { t.mu.Unlock() }

// Names returns the display name conversion in use.
func (t *Tree) Names() NameContext {
	return t.names
}

// Index returns the identity index of the tree.
func (t *Tree) Index() *IdentityIndex {
	return t.index
}

func (t *Tree) insert(n *Node) NodeID {
	t.next++
	n.ID = t.next
	t.nodes[n.ID] = n
	return n.ID
}

// Root returns the root folder.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[t.root]
}

// Node returns the node in slot id.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	return n, ok
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}

// CreateNode adds a new node named name below parent.
func (t *Tree) CreateNode(kind Kind, name string, parent NodeID) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validName(name) {
		return nil, ErrInvalidName
	}
	p, ok := t.nodes[parent]
	if !ok {
		return nil, ErrNotFound
	}
	if !p.IsFolder() {
		return nil, ErrNotFolder
	}
	if _, exists := p.children[name]; exists {
		return nil, ErrNameExists
	}

	n := newNode(kind, name)
	n.DisplayName = t.names.DisplayName(name)
	n.Created = true
	t.insert(n)
	t.link(n, p)
	return n, nil
}

func (t *Tree) link(n, p *Node) {
	n.parent = p.ID
	n.ParentRowID = p.RowID
	p.children[n.Name] = n.ID
}

func (t *Tree) unlink(n *Node) {
	if p, ok := t.nodes[n.parent]; ok {
		if p.children[n.Name] == n.ID {
			delete(p.children, n.Name)
		}
	}
	n.parent = NoNode
}

// Child returns the child of parent named name.
func (t *Tree) Child(parent *Node, name string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if parent == nil || parent.children == nil {
		return nil, false
	}
	id, ok := parent.children[name]
	if !ok {
		return nil, false
	}
	n, ok := t.nodes[id]
	return n, ok
}

// Children returns the children of n ordered by name.
func (t *Tree) Children(n *Node) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		if c, ok := t.nodes[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RelPath returns the slash separated path of n relative to the root. The
// root itself has an empty path.
func (t *Tree) RelPath(n *Node) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var parts []string
	for cur := n; cur != nil && cur.ID != t.root; {
		parts = append(parts, cur.Name)
		p, ok := t.nodes[cur.parent]
		if !ok {
			break
		}
		cur = p
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return path.Join(parts...)
}

// Lookup resolves a slash separated relative path.
func (t *Tree) Lookup(rel string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.nodes[t.root]
	if rel == "" || rel == "." {
		return cur, true
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		id, ok := cur.children[part]
		if !ok {
			return nil, false
		}
		cur = t.nodes[id]
	}
	return cur, true
}

// SetIdentity assigns fsid to n. Whatever node held fsid before loses it.
func (t *Tree) SetIdentity(n *Node, fsid codec.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n.FSID == fsid {
		return
	}
	if n.FSID.Valid() {
		t.index.Delete(n.FSID, n.ID)
	}
	n.FSID = fsid
	if !fsid.Valid() {
		return
	}
	if prev := t.index.Set(fsid, n.ID); prev != NoNode && prev != n.ID {
		if old, ok := t.nodes[prev]; ok {
			old.FSID = codec.UndefHandle
		}
	}
}

// ByIdentity returns the live node holding fsid.
func (t *Tree) ByIdentity(fsid codec.Handle) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !fsid.Valid() {
		return nil, false
	}
	id, ok := t.index.Lookup(fsid)
	if !ok {
		return nil, false
	}
	n, ok := t.nodes[id]
	return n, ok
}

// Move renames n and/or re-parents it below newParent. The node keeps its
// slot, identity and remote link.
func (t *Tree) Move(n *Node, newParent *Node, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n.ID == t.root {
		return ErrRoot
	}
	if !validName(newName) {
		return ErrInvalidName
	}
	if _, ok := t.nodes[newParent.ID]; !ok {
		return ErrNotFound
	}
	if !newParent.IsFolder() {
		return ErrNotFolder
	}
	for cur := newParent; cur != nil; {
		if cur.ID == n.ID {
			return ErrCycle
		}
		p, ok := t.nodes[cur.parent]
		if !ok {
			break
		}
		cur = p
	}
	if id, exists := newParent.children[newName]; exists && id != n.ID {
		return ErrNameExists
	}

	t.unlink(n)
	if n.Name != newName {
		n.Name = newName
		n.DisplayName = t.names.DisplayName(newName)
		n.AltName = ""
	}
	t.link(n, newParent)
	return nil
}

// Remove deletes n and its subtree and returns the removed nodes, children
// before their parents.
func (t *Tree) Remove(n *Node) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n.ID == t.root {
		return nil
	}
	if _, ok := t.nodes[n.ID]; !ok {
		return nil
	}

	var removed []*Node
	var collect func(*Node)
	collect = func(cur *Node) {
		for _, id := range cur.children {
			if c, ok := t.nodes[id]; ok {
				collect(c)
			}
		}
		removed = append(removed, cur)
	}
	collect(n)

	t.unlink(n)
	for _, r := range removed {
		if r.FSID.Valid() {
			t.index.Delete(r.FSID, r.ID)
		}
		delete(t.nodes, r.ID)
	}
	return removed
}

// Walk visits every node depth first, parents before children and siblings
// ordered by name. Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(*Node) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var visit func(*Node)
	visit = func(n *Node) {
		if !fn(n) {
			return
		}
		for _, c := range t.Children(n) {
			visit(c)
		}
	}
	visit(t.nodes[t.root])
}

// Persisted records that n was stored under rowID and propagates the row id
// to the children's parent reference.
func (t *Tree) Persisted(n *Node, rowID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n.RowID = rowID
	for _, id := range n.children {
		if c, ok := t.nodes[id]; ok {
			c.ParentRowID = rowID
		}
	}
}

// SetFingerprint stores a freshly computed fingerprint and reports whether it
// differs from the previous one.
func (t *Tree) SetFingerprint(n *Node, fp Fingerprint, at int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := n.Fingerprint != fp
	n.Fingerprint = fp
	n.FingerprintedAt = at
	return changed
}
