package localtree

import "localsync/core/codec"

// RacyWindow is how close, in seconds, a fingerprint may have been taken to
// the file's modification time before size and mtime alone stop being
// trusted.
const RacyWindow = 2

// ChangeKind classifies a Change.
type ChangeKind int

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeMoved
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeMoved:
		return "moved"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one mutation of the tree caused by a scan.
type Change struct {
	Kind ChangeKind
	Node *Node
	// OldPath is the relative path before a move or removal.
	OldPath string
	// Subtree lists every node dropped by a removal, Node included.
	Subtree []*Node
}

// ApplyResult is the outcome of applying one directory listing.
type ApplyResult struct {
	Changes []Change
	// Probe holds files whose size and mtime match but whose fingerprint is
	// too close to the mtime to rule out a change.
	Probe []*Node
	// Failed holds entries that could not be examined.
	Failed []Entry
}

// racy reports whether n's fingerprint may predate a change that kept its
// size and mtime. A node restored from the cache does not know when it was
// fingerprinted; the restore time stands in for it.
func (t *Tree) racy(n *Node) bool {
	if n.FingerprintedAt != 0 {
		return n.FingerprintedAt-n.ModTime < RacyWindow
	}
	return n.RowID != 0 && t.restoredAt != 0 && t.restoredAt-n.ModTime < RacyWindow
}

// Apply folds the observed entries of dir into the tree. Every node matched
// by an entry is marked with gen; nodes left unmarked are removed later by
// Sweep.
func (t *Tree) Apply(dir *Node, entries []Entry, gen uint64) ApplyResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res ApplyResult
	dir.seen = gen

	// Last position of every identity in the listing, so that a name taken
	// over by a renamed sibling does not cost the sibling its node.
	last := make(map[codec.Handle]int, len(entries))
	for i, e := range entries {
		if e.Err == nil && e.FSID.Valid() {
			last[e.FSID] = i
		}
	}
	a := applier{tree: t, dir: dir, gen: gen, entries: entries, last: last, res: &res}

	for i, e := range entries {
		if e.Err != nil {
			if existing, ok := t.Child(dir, e.Name); ok {
				existing.seen = gen
			}
			res.Failed = append(res.Failed, e)
			continue
		}
		a.entry(i, e)
	}
	a.dropDetached()
	return res
}

// applier carries the state of one Apply call.
type applier struct {
	tree    *Tree
	dir     *Node
	gen     uint64
	entries []Entry
	last    map[codec.Handle]int
	res     *ApplyResult
	// detached holds nodes unlinked from dir because a later entry carries
	// their identity, with the path they had.
	detached map[NodeID]string
}

// reappears reports whether n's identity shows up after position i.
func (a *applier) reappears(n *Node, i int) bool {
	if !n.FSID.Valid() {
		return false
	}
	j, ok := a.last[n.FSID]
	return ok && j > i && a.entries[j].Kind == n.Kind
}

func (a *applier) detach(n *Node) {
	if a.detached == nil {
		a.detached = make(map[NodeID]string)
	}
	a.detached[n.ID] = a.tree.RelPath(n)
	a.tree.unlink(n)
}

// dropDetached removes the detached nodes no entry claimed.
func (a *applier) dropDetached() {
	for id, oldPath := range a.detached {
		n, ok := a.tree.nodes[id]
		if !ok || n.parent != NoNode {
			continue
		}
		a.res.Changes = append(a.res.Changes, Change{Kind: ChangeRemoved, Node: n, OldPath: oldPath, Subtree: a.tree.Remove(n)})
	}
}

func (a *applier) entry(i int, e Entry) {
	t, dir, res := a.tree, a.dir, a.res
	existing, _ := t.Child(dir, e.Name)
	if existing != nil && existing.FSID != e.FSID && a.reappears(existing, i) {
		a.detach(existing)
		existing = nil
	}

	var n *Node
	if m, ok := t.ByIdentity(e.FSID); ok && m.Kind == e.Kind && m.ID != t.root {
		n = m
		if n.parent != dir.ID || n.Name != e.Name {
			oldPath, wasDetached := a.detached[n.ID]
			if wasDetached {
				delete(a.detached, n.ID)
			} else {
				oldPath = t.RelPath(n)
			}
			if existing != nil && existing != n {
				res.Changes = append(res.Changes, t.removeChange(existing))
			}
			if err := t.Move(n, dir, e.Name); err != nil {
				n = nil
			} else {
				res.Changes = append(res.Changes, Change{Kind: ChangeMoved, Node: n, OldPath: oldPath})
			}
			existing, _ = t.Child(dir, e.Name)
		}
	}

	if n == nil && existing != nil && existing.Kind == e.Kind {
		n = existing
		if e.FSID.Valid() {
			t.SetIdentity(n, e.FSID)
		}
	}

	if n == nil {
		if existing != nil {
			res.Changes = append(res.Changes, t.removeChange(existing))
		}
		created, err := t.CreateNode(e.Kind, e.Name, dir.ID)
		if err != nil {
			res.Failed = append(res.Failed, Entry{Name: e.Name, Err: err})
			return
		}
		t.SetIdentity(created, e.FSID)
		created.Size = e.Size
		created.ModTime = e.ModTime
		created.Checked = true
		created.seen = a.gen
		res.Changes = append(res.Changes, Change{Kind: ChangeCreated, Node: created})
		return
	}

	n.seen = a.gen
	n.Checked = true
	n.Reported = false
	if n.Kind != KindFile {
		return
	}
	if n.Size != e.Size || n.ModTime != e.ModTime {
		n.Size = e.Size
		n.ModTime = e.ModTime
		res.Changes = append(res.Changes, Change{Kind: ChangeModified, Node: n})
		return
	}
	if t.racy(n) {
		res.Probe = append(res.Probe, n)
	}
}

func (t *Tree) removeChange(n *Node) Change {
	oldPath := t.RelPath(n)
	return Change{Kind: ChangeRemoved, Node: n, OldPath: oldPath, Subtree: t.Remove(n)}
}

// MarkSeen protects n from the next Sweep of generation gen.
func (t *Tree) MarkSeen(n *Node, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n.seen = gen
}

// Sweep removes the children of dirs that were not marked with gen.
func (t *Tree) Sweep(dirs []*Node, gen uint64) []Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []Change
	for _, d := range dirs {
		if cur, ok := t.nodes[d.ID]; !ok || cur != d {
			continue
		}
		for _, c := range t.Children(d) {
			if c.seen != gen {
				changes = append(changes, t.removeChange(c))
			}
		}
	}
	return changes
}
