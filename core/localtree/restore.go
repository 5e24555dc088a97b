package localtree

import (
	"sort"
	"time"

	"localsync/core/codec"
)

// Restore adopts nodes decoded from the cache. The folder record without a
// parent row id becomes the root; every other node is attached below the
// node whose RowID matches its ParentRowID. Nodes that cannot be reached from
// the root are returned and left out of the tree.
func (t *Tree) Restore(nodes []*Node) (orphans []*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].RowID < nodes[j].RowID })

	var rootRecord *Node
	byParent := make(map[uint32][]*Node)
	for _, n := range nodes {
		if n.ParentRowID == 0 && n.RowID != 0 && n.IsFolder() && rootRecord == nil {
			rootRecord = n
			continue
		}
		byParent[n.ParentRowID] = append(byParent[n.ParentRowID], n)
	}
	if rootRecord == nil {
		return nodes
	}

	t.restoredAt = time.Now().Unix()
	root := t.nodes[t.root]
	root.RowID = rootRecord.RowID
	root.Syncable = rootRecord.Syncable
	root.Checked = true
	t.SetIdentity(root, rootRecord.FSID)

	adopted := map[*Node]bool{rootRecord: true}
	queue := []*Node{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range byParent[p.RowID] {
			if c.RowID == 0 || !validName(c.Name) {
				continue
			}
			if _, dup := p.children[c.Name]; dup {
				continue
			}
			fsid := c.FSID
			c.FSID = codec.UndefHandle
			t.insert(c)
			t.link(c, p)
			t.SetIdentity(c, fsid)
			adopted[c] = true
			if c.IsFolder() {
				queue = append(queue, c)
			}
		}
	}

	for _, n := range nodes {
		if !adopted[n] {
			orphans = append(orphans, n)
		}
	}
	return orphans
}
