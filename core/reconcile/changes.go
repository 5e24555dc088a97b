package reconcile

import (
	"strings"
	"time"

	"localsync/core/localtree"
	"localsync/core/metrics"
	"localsync/core/transfer"

	"go.uber.org/zap"
)

// processChanges turns tree changes into cache mutations and uploads.
func (e *Engine) processChanges(changes []localtree.Change, probes []*localtree.Node) {
	for _, c := range changes {
		if c.Kind != localtree.ChangeRemoved && !e.live(c.Node) {
			continue
		}

		rel := c.OldPath
		if c.Kind != localtree.ChangeRemoved {
			rel = e.tree.RelPath(c.Node)
		}

		switch c.Kind {
		case localtree.ChangeCreated:
			e.markDirty(c.Node)
			if !c.Node.IsFolder() {
				e.fingerprint(c.Node, rel)
				e.schedulePut(c.Node, rel)
			}
		case localtree.ChangeModified:
			e.fingerprint(c.Node, rel)
			e.schedulePut(c.Node, rel)
		case localtree.ChangeMoved:
			e.markDirty(c.Node)
			e.retarget(c.OldPath, rel)
			e.buryMoved(c.Node, c.OldPath, rel)
		case localtree.ChangeRemoved:
			e.buryRemoved(c)
			for _, n := range c.Subtree {
				delete(e.dirty, n.ID)
				if n.RowID != 0 {
					e.deleted = append(e.deleted, n.RowID)
				}
			}
			e.cancelPuts(c.OldPath)
		}

		metrics.RecordChange(e.id, c.Kind.String())
		e.events.OnChange(c, rel)
	}

	for _, n := range probes {
		if !e.live(n) {
			continue
		}
		rel := e.tree.RelPath(n)
		if !e.fingerprint(n, rel) {
			continue
		}
		e.markDirty(n)
		e.schedulePut(n, rel)
		c := localtree.Change{Kind: localtree.ChangeModified, Node: n}
		metrics.RecordChange(e.id, c.Kind.String())
		e.events.OnChange(c, rel)
	}
}

func (e *Engine) live(n *localtree.Node) bool {
	cur, ok := e.tree.Node(n.ID)
	return ok && cur == n
}

func (e *Engine) markDirty(n *localtree.Node) {
	e.dirty[n.ID] = n
}

// fingerprint recomputes the fingerprint of a file and reports whether it
// changed.
func (e *Engine) fingerprint(n *localtree.Node, rel string) bool {
	if n.IsFolder() {
		return false
	}
	fp, err := localtree.ComputeFingerprint(e.fs, e.abs(rel), n.Size)
	if err != nil {
		e.logger.Debug("Failed to fingerprint file", zap.String("path", rel), zap.Error(err))
		return false
	}
	return e.tree.SetFingerprint(n, fp, time.Now().Unix())
}

// schedulePut flags n as holding unsent changes and queues its upload.
func (e *Engine) schedulePut(n *localtree.Node, rel string) {
	e.tree.Lock()
	n.Dirty = true
	syncable := n.Syncable
	e.tree.Unlock()
	e.markDirty(n)

	if !syncable {
		return
	}
	e.supersedeMove(rel)
	if it, ok := e.queue.Queued(transfer.Put, rel); ok {
		if it.State == transfer.Active {
			e.reput[rel] = true
		}
		return
	}

	it := transfer.NewItem(transfer.Put, rel, n)
	it.Remote = n.Remote
	if err := e.queue.Enqueue(it); err != nil {
		e.logger.Warn("Failed to queue upload", zap.String("path", rel), zap.Error(err))
		return
	}
	e.queueDirty = true
}

// retarget moves queued uploads below oldPath to newPath.
func (e *Engine) retarget(oldPath, newPath string) {
	for _, it := range e.queue.Items(transfer.Put) {
		target, ok := rebase(it.Target, oldPath, newPath)
		if !ok || it.State != transfer.Queued {
			continue
		}
		if err := e.queue.Remove(it); err != nil {
			continue
		}
		moved := transfer.NewItem(transfer.Put, target, nil)
		moved.Node = it.Node
		moved.NodeRow = it.NodeRow
		moved.Size = it.Size
		moved.Remote = it.Remote
		if err := e.queue.Enqueue(moved); err != nil {
			e.logger.Warn("Failed to retarget upload", zap.String("path", target), zap.Error(err))
		}
		e.queueDirty = true
	}
}

// cancelPuts drops queued uploads at or below p.
func (e *Engine) cancelPuts(p string) {
	for _, it := range e.queue.Items(transfer.Put) {
		if _, ok := rebase(it.Target, p, p); !ok || it.State != transfer.Queued {
			continue
		}
		if err := e.queue.Remove(it); err == nil {
			e.queueDirty = true
		}
	}
}

// rebase replaces the prefix from of p with to.
func rebase(p, from, to string) (string, bool) {
	if p == from {
		return to, true
	}
	if strings.HasPrefix(p, from+"/") {
		return to + p[len(from):], true
	}
	return "", false
}
