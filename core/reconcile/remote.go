package reconcile

import (
	"context"
	"fmt"
	"path"

	"localsync/core/codec"
	"localsync/core/localtree"
	"localsync/core/metrics"
	"localsync/core/transfer"

	"go.uber.org/zap"
)

// queueObserver forwards finished transfers to the engine thread.
type queueObserver struct {
	transfer.NopListener
	e *Engine
}

func (o queueObserver) OnComplete(it *transfer.Item) { o.e.finish(it) }

func (o queueObserver) OnFail(it *transfer.Item, _ error) { o.e.finish(it) }

func (e *Engine) finish(it *transfer.Item) {
	e.mu.Lock()
	e.finished = append(e.finished, it)
	e.mu.Unlock()
	e.wake.Release()
}

// processFinished settles completed and failed transfers.
func (e *Engine) processFinished() bool {
	e.mu.Lock()
	done := e.finished
	e.finished = nil
	e.mu.Unlock()

	for _, it := range done {
		e.queueDirty = true
		metrics.RecordTransfer(it.Direction.String(), it.Size, it.State == transfer.Completed)

		if it.State != transfer.Completed {
			e.logger.Warn("Transfer failed",
				zap.String("direction", it.Direction.String()),
				zap.String("target", it.Target),
				zap.Error(it.Err),
			)
			if n, ok := e.tree.Node(it.Node); ok && it.Node != localtree.NoNode {
				e.tree.Lock()
				n.Reported = true
				e.tree.Unlock()
			}
			continue
		}

		switch it.Direction {
		case transfer.Put:
			n, ok := e.tree.Node(it.Node)
			if !ok {
				if it.Node != localtree.NoNode {
					// removed while uploading
					e.bury(it.Target, it.Remote, "")
				}
				continue
			}
			if rel := e.tree.RelPath(n); rel != it.Target {
				// moved while uploading
				e.bury(it.Target, it.Remote, "")
				delete(e.reput, it.Target)
				e.schedulePut(n, rel)
				continue
			}
			if e.reput[it.Target] {
				delete(e.reput, it.Target)
				e.schedulePut(n, it.Target)
				continue
			}
			e.tree.Lock()
			n.Dirty = false
			n.Remote = it.Remote
			e.tree.Unlock()
			e.markDirty(n)
			if e.remote != nil {
				e.remote.Invalidate()
			}
		case transfer.Get:
			e.links[it.Target] = it.Remote
			e.schedule(path.Dir(it.Target))
		}
	}
	return len(done) > 0
}

// resolveLinks attaches downloaded files to the remote node they came from
// once a scan has picked them up.
func (e *Engine) resolveLinks() {
	for p, h := range e.links {
		n, ok := e.tree.Lookup(p)
		if !ok {
			continue
		}
		e.link(n, h)
		delete(e.links, p)
	}
}

// processRemote applies the remote changes received since the last round.
func (e *Engine) processRemote(ctx context.Context) bool {
	e.mu.Lock()
	changes := e.remoteQ
	e.remoteQ = nil
	e.mu.Unlock()

	for _, rc := range changes {
		if ctx.Err() != nil {
			return true
		}
		e.applyRemote(rc)
	}
	return len(changes) > 0
}

func (e *Engine) applyRemote(rc RemoteChange) {
	if e.remoteTombstone(rc) {
		return
	}
	n, ok := e.tree.Lookup(rc.Path)
	if ok && n.IsFolder() {
		return
	}
	if ok && !rc.Deleted && n.Remote == rc.Handle {
		return
	}

	if rc.Deleted {
		if !ok {
			return
		}
		if n.Dirty {
			e.conflict(n, Conflict{
				Path:          rc.Path,
				LocalSize:     n.Size,
				LocalModTime:  n.ModTime,
				LocalPrint:    n.Fingerprint,
				Remote:        rc.RemoteEntry,
				RemoteDeleted: true,
			})
			return
		}
		if err := e.fs.Remove(e.abs(rc.Path)); err != nil {
			e.logger.Warn("Failed to remove local copy", zap.String("path", rc.Path), zap.Error(err))
		}
		e.schedule(path.Dir(rc.Path))
		return
	}

	if !ok {
		e.scheduleGet(rc.RemoteEntry)
		return
	}
	if sameContent(n, rc.RemoteEntry) {
		e.link(n, rc.Handle)
		return
	}
	if n.Dirty {
		e.conflict(n, Conflict{
			Path:         rc.Path,
			LocalSize:    n.Size,
			LocalModTime: n.ModTime,
			LocalPrint:   n.Fingerprint,
			Remote:       rc.RemoteEntry,
		})
		return
	}
	e.scheduleGet(rc.RemoteEntry)
}

// link records that n and the remote node h hold the same content. An upload
// that has not started yet is dropped.
func (e *Engine) link(n *localtree.Node, h codec.Handle) {
	e.tree.Lock()
	n.Remote = h
	n.Dirty = false
	e.tree.Unlock()
	e.markDirty(n)
	e.dropQueuedPut(e.tree.RelPath(n))
}

func (e *Engine) dropQueuedPut(rel string) {
	it, ok := e.queue.Queued(transfer.Put, rel)
	if !ok || it.State != transfer.Queued {
		return
	}
	if err := e.queue.Remove(it); err == nil {
		e.queueDirty = true
	}
}

func (e *Engine) scheduleGet(r RemoteEntry) {
	if _, ok := e.queue.Queued(transfer.Get, r.Path); ok {
		return
	}
	it := transfer.NewItem(transfer.Get, r.Path, nil)
	it.Remote = r.Handle
	it.Size = r.Size
	if n, ok := e.tree.Lookup(r.Path); ok {
		it.Node = n.ID
		it.NodeRow = n.RowID
	}
	if err := e.queue.Enqueue(it); err != nil {
		e.logger.Warn("Failed to queue download", zap.String("path", r.Path), zap.Error(err))
		return
	}
	e.queueDirty = true
}

// conflict asks the policy how to settle c and carries the decision out.
func (e *Engine) conflict(n *localtree.Node, c Conflict) {
	res := e.policy.Resolve(c)
	metrics.RecordConflict(e.id, res.String())
	e.logger.Info("Conflict detected", zap.String("path", c.Path), zap.String("resolution", res.String()))

	switch res {
	case ResolveKeepLocal:
		if c.RemoteDeleted {
			e.link(n, codec.UndefHandle)
		} else {
			e.link(n, c.Remote.Handle)
		}
		e.schedulePut(n, c.Path)
	case ResolveKeepRemote:
		if c.RemoteDeleted {
			e.tree.Lock()
			n.Dirty = false
			e.tree.Unlock()
			e.applyRemote(RemoteChange{RemoteEntry: c.Remote, Deleted: true})
			return
		}
		e.tree.Lock()
		n.Dirty = false
		e.tree.Unlock()
		e.markDirty(n)
		e.cancelPuts(c.Path)
		e.scheduleGet(c.Remote)
	case ResolveKeepBoth:
		if c.RemoteDeleted {
			e.schedulePut(n, c.Path)
			return
		}
		aside := conflictName(c.Path)
		if err := e.fs.Rename(e.abs(c.Path), e.abs(aside)); err != nil {
			e.logger.Warn("Failed to move conflicting copy aside", zap.String("path", c.Path), zap.Error(err))
			e.deferConflict(n, c)
			return
		}
		e.schedule(path.Dir(c.Path))
		e.cancelPuts(c.Path)
		e.scheduleGet(c.Remote)
	default:
		e.deferConflict(n, c)
	}
}

func (e *Engine) deferConflict(n *localtree.Node, c Conflict) {
	e.tree.Lock()
	n.Reported = true
	e.tree.Unlock()

	e.mu.Lock()
	e.conflicts++
	e.mu.Unlock()
	e.events.OnConflict(c)
}

// conflictName returns the path a conflicting local copy is renamed to.
func conflictName(p string) string {
	ext := path.Ext(p)
	base := p[:len(p)-len(ext)]
	return fmt.Sprintf("%s (conflicted copy)%s", base, ext)
}

// initialSync compares the first full scan with the remote listing.
func (e *Engine) initialSync(ctx context.Context) error {
	snap, err := e.remote.Get(ctx)
	if err != nil {
		return err
	}
	plan := BuildPlan(e.tree, e.remoteView(snap.Index))
	e.logger.Info("Initial comparison with remote",
		zap.Int("puts", plan.Summary.Puts),
		zap.Int("gets", plan.Summary.Gets),
		zap.Int("links", plan.Summary.Links),
		zap.Int("conflicts", plan.Summary.Conflicts),
	)

	for _, a := range plan.Actions {
		n, _ := e.tree.Node(a.Node)
		switch a.Type {
		case ActionPut:
			if n != nil {
				e.schedulePut(n, a.Path)
			}
		case ActionGet:
			e.scheduleGet(a.Remote)
		case ActionLink:
			if n != nil {
				e.link(n, a.Remote.Handle)
			}
		case ActionConflict:
			if n != nil {
				e.conflict(n, Conflict{
					Path:         a.Path,
					LocalSize:    n.Size,
					LocalModTime: n.ModTime,
					LocalPrint:   n.Fingerprint,
					Remote:       a.Remote,
				})
			}
		}
	}
	return nil
}
