package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"localsync/core/codec"
	"localsync/core/database"
	"localsync/core/localtree"

	"go.uber.org/zap"
)

// buryMoved records the remote files that must follow a move of n from
// oldRel to newRel. A linked file with unsent changes is uploaded at its new
// path, so its old remote copy is only removed.
func (e *Engine) buryMoved(n *localtree.Node, oldRel, newRel string) {
	e.tree.Lock()
	defer e.tree.Unlock()

	e.eachFile(n, func(f *localtree.Node) {
		if !f.Linked() {
			return
		}
		to := e.tree.RelPath(f)
		from, ok := rebase(to, newRel, oldRel)
		if !ok {
			return
		}
		if f.Dirty {
			to = ""
		}
		e.bury(from, f.Remote, to)
	})
}

// buryRemoved records the remote files left behind by a removal.
func (e *Engine) buryRemoved(c localtree.Change) {
	for n, p := range removedPaths(c) {
		if !n.IsFolder() && n.Linked() {
			e.bury(p, n.Remote, "")
		}
	}
}

func (e *Engine) eachFile(n *localtree.Node, fn func(*localtree.Node)) {
	if !n.IsFolder() {
		fn(n)
		return
	}
	for _, c := range e.tree.Children(n) {
		e.eachFile(c, fn)
	}
}

// removedPaths returns the former path of every node dropped by c.
func removedPaths(c localtree.Change) map[*localtree.Node]string {
	byID := make(map[localtree.NodeID]*localtree.Node, len(c.Subtree))
	for _, n := range c.Subtree {
		byID[n.ID] = n
	}
	paths := make(map[*localtree.Node]string, len(c.Subtree))
	var pathOf func(n *localtree.Node) string
	pathOf = func(n *localtree.Node) string {
		if p, ok := paths[n]; ok {
			return p
		}
		p := c.OldPath
		if n != c.Node {
			parent, ok := byID[n.Parent()]
			if !ok {
				return ""
			}
			p = pathOf(parent) + "/" + n.Name
		}
		paths[n] = p
		return p
	}
	for _, n := range c.Subtree {
		pathOf(n)
	}
	return paths
}

// bury adds a tombstone for the remote file p, version h. A node moved again
// before the remote followed keeps its first remote path.
func (e *Engine) bury(p string, h codec.Handle, movedTo string) {
	if p == "" || !h.Valid() {
		return
	}
	for k, t := range e.tombstones {
		if t.MovedTo == "" || t.MovedTo != p || t.Remote != h {
			continue
		}
		if movedTo == t.Path {
			delete(e.tombstones, k)
		} else {
			t.MovedTo = movedTo
			e.tombstones[k] = t
		}
		e.tombDirty = true
		return
	}
	e.tombstones[p] = Tombstone{Path: p, Remote: h, MovedTo: movedTo}
	e.tombDirty = true
}

// supersedeMove turns a pending move onto rel into a removal. An upload to
// rel replaces the moved copy.
func (e *Engine) supersedeMove(rel string) {
	for k, t := range e.tombstones {
		if t.MovedTo == rel {
			t.MovedTo = ""
			e.tombstones[k] = t
			e.tombDirty = true
		}
	}
}

// processTombstones asks the remote to follow pending moves and removals.
func (e *Engine) processTombstones(ctx context.Context) bool {
	if len(e.tombstones) == 0 || e.remote == nil || !e.remote.Mutable() {
		return false
	}
	if time.Now().Before(e.tombRetry) {
		return false
	}

	paths := make([]string, 0, len(e.tombstones))
	for p := range e.tombstones {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if ctx.Err() != nil {
			return true
		}
		t := e.tombstones[p]
		err := e.followTombstone(ctx, t)
		if err != nil && !errors.Is(err, ErrRemoteChanged) && !errors.Is(err, ErrRemoteNotFound) {
			e.logger.Warn("Failed to update remote", zap.String("path", t.Path), zap.String("moved_to", t.MovedTo), zap.Error(err))
			e.tombRetry = time.Now().Add(e.cfg.RemoteRetry)
			return true
		}
		if err != nil && t.MovedTo != "" {
			// The remote copy went its own way; the local file is uploaded
			// at its new path instead.
			e.relink(t.MovedTo, t.Remote, codec.UndefHandle)
		}
		e.logger.Debug("Remote followed local change",
			zap.String("path", t.Path),
			zap.String("moved_to", t.MovedTo),
			zap.NamedError("outcome", err),
		)
		delete(e.tombstones, p)
		e.tombDirty = true
	}
	return true
}

func (e *Engine) followTombstone(ctx context.Context, t Tombstone) error {
	if t.MovedTo == "" {
		return e.remote.Delete(ctx, t.Path, t.Remote)
	}
	h, err := e.remote.Move(ctx, t.Path, t.MovedTo, t.Remote)
	if err != nil {
		return err
	}
	e.relink(t.MovedTo, t.Remote, h)
	return nil
}

// relink points the node at rel from remote version old to h. An undefined
// h leaves the node unlinked and queues its upload.
func (e *Engine) relink(rel string, old, h codec.Handle) {
	n, ok := e.tree.Lookup(rel)
	if !ok || n.IsFolder() {
		return
	}
	e.tree.Lock()
	if n.Remote != old {
		e.tree.Unlock()
		return
	}
	n.Remote = h
	e.tree.Unlock()
	e.markDirty(n)
	if !h.Valid() {
		e.schedulePut(n, rel)
	}
}

// remoteTombstone settles a remote change against a pending tombstone and
// reports whether the change is already accounted for.
func (e *Engine) remoteTombstone(rc RemoteChange) bool {
	t, ok := e.tombstones[rc.Path]
	if !ok {
		return false
	}
	if !rc.Deleted && rc.Handle == t.Remote {
		return true
	}
	delete(e.tombstones, rc.Path)
	e.tombDirty = true
	if t.MovedTo != "" {
		e.relink(t.MovedTo, t.Remote, codec.UndefHandle)
	}
	return rc.Deleted
}

// remoteView hides the remote files waiting to follow a local move or
// removal, and shows moved files at their new path. Tombstones whose remote
// file is gone or changed are dropped.
func (e *Engine) remoteView(index map[string]RemoteEntry) map[string]RemoteEntry {
	if len(e.tombstones) == 0 {
		return index
	}
	view := make(map[string]RemoteEntry, len(index))
	for p, r := range index {
		view[p] = r
	}
	var moved []RemoteEntry
	for p, t := range e.tombstones {
		r, ok := index[p]
		if !ok || r.Handle != t.Remote {
			delete(e.tombstones, p)
			e.tombDirty = true
			continue
		}
		delete(view, p)
		if t.MovedTo != "" {
			r.Path = t.MovedTo
			moved = append(moved, r)
		}
	}
	for _, r := range moved {
		if _, taken := view[r.Path]; !taken {
			view[r.Path] = r
		}
	}
	return view
}

func (e *Engine) restoreTombstones(ctx context.Context) error {
	records, err := e.store.LoadTombstones(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tombstones: %w", err)
	}
	for _, r := range records {
		e.tombstones[r.Path] = Tombstone{Path: r.Path, Remote: codec.Handle(r.Remote), MovedTo: r.MovedTo}
	}
	return nil
}

// persistTombstones replaces the stored tombstones when they changed.
func (e *Engine) persistTombstones(ctx context.Context) error {
	if !e.tombDirty {
		return nil
	}
	records := make([]database.TombstoneRecord, 0, len(e.tombstones))
	for _, t := range e.tombstones {
		records = append(records, database.TombstoneRecord{
			Path:    t.Path,
			Remote:  uint64(t.Remote),
			MovedTo: t.MovedTo,
		})
	}
	if err := e.store.ReplaceTombstones(ctx, records); err != nil {
		return err
	}
	e.tombDirty = false
	return nil
}
