package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"localsync/core/codec"
	"localsync/core/database"
	"localsync/core/localtree"
	"localsync/core/metrics"
	"localsync/core/transfer"

	"go.uber.org/zap"
)

// initialize restores the tree and the transfer queue from the store. Records
// that fail to decode are deleted together with every node below them.
func (e *Engine) initialize(ctx context.Context) error {
	records, err := e.store.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cache: %w", err)
	}

	var (
		nodes  []*localtree.Node
		drop   []uint32
		maxRow uint32
	)
	for _, r := range records {
		if r.ID > maxRow {
			maxRow = r.ID
		}
		var n *localtree.Node
		ok := r.Format == localtree.FormatVersion
		if ok {
			n, ok = localtree.Unserialize(e.tree.Names(), r.Data)
		}
		if !ok {
			e.logger.Warn("Dropping corrupt cache record", zap.Uint32("row", r.ID), zap.Error(ErrRecordCorrupt))
			drop = append(drop, r.ID)
			continue
		}
		n.RowID = r.ID
		n.Remote = codec.Handle(r.Remote)
		nodes = append(nodes, n)
	}
	e.nextRow = maxRow + 1

	e.tree.Lock()
	orphans := e.tree.Restore(nodes)
	e.tree.Unlock()
	for _, n := range orphans {
		drop = append(drop, n.RowID)
	}
	if len(drop) > 0 {
		if err := e.store.Commit(ctx, database.Batch{Delete: drop}); err != nil {
			return fmt.Errorf("failed to drop corrupt records: %w", err)
		}
	}

	if root := e.tree.Root(); root.RowID == 0 {
		e.markDirty(root)
	}

	if err := e.restoreTransfers(ctx); err != nil {
		return err
	}
	if err := e.restoreTombstones(ctx); err != nil {
		return err
	}

	// Uploads interrupted before they were queued persistently.
	e.tree.Walk(func(n *localtree.Node) bool {
		if n.Dirty && !n.IsFolder() {
			e.schedulePut(n, e.tree.RelPath(n))
		}
		return true
	})

	e.logger.Info("Cache restored",
		zap.Int("records", len(records)),
		zap.Int("nodes", e.tree.Len()),
		zap.Int("dropped", len(drop)),
	)
	metrics.SetTreeSize(e.id, e.tree.Len())
	return nil
}

func (e *Engine) restoreTransfers(ctx context.Context) error {
	records, err := e.store.LoadTransfers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load transfers: %w", err)
	}

	byRow := make(map[uint32]*localtree.Node)
	e.tree.Walk(func(n *localtree.Node) bool {
		if n.RowID != 0 {
			byRow[n.RowID] = n
		}
		return true
	})

	for _, r := range records {
		it, err := transfer.UnserializeItem(r.Data)
		if err != nil {
			e.logger.Warn("Dropping corrupt transfer record", zap.Uint64("seq", r.Seq), zap.Error(err))
			continue
		}
		if n, ok := byRow[it.NodeRow]; ok {
			it.Node = n.ID
		} else if it.Direction == transfer.Put {
			continue
		}
		if err := e.queue.Enqueue(it); err != nil {
			e.logger.Debug("Skipping restored transfer", zap.String("target", it.Target), zap.Error(err))
		}
	}
	return nil
}

// flush persists dirty nodes and deletions in batches. Parents get their row
// id before their children so that every record can name its parent.
func (e *Engine) flush(ctx context.Context) error {
	if len(e.dirty) == 0 && len(e.deleted) == 0 {
		return nil
	}

	e.tree.Lock()
	pending := make([]*localtree.Node, 0, len(e.dirty))
	seen := make(map[localtree.NodeID]bool, len(e.dirty))
	for _, n := range e.dirty {
		if e.live(n) && !seen[n.ID] {
			seen[n.ID] = true
			pending = append(pending, n)
		}
	}
	for i := 0; i < len(pending); i++ {
		p, ok := e.tree.Node(pending[i].Parent())
		if ok && p.RowID == 0 && !seen[p.ID] {
			seen[p.ID] = true
			pending = append(pending, p)
		}
	}

	depth := make(map[localtree.NodeID]int, len(pending))
	for _, n := range pending {
		d := 0
		for cur := n; cur.Parent() != localtree.NoNode; d++ {
			cur, _ = e.tree.Node(cur.Parent())
			if cur == nil {
				break
			}
		}
		depth[n.ID] = d
	}
	sort.SliceStable(pending, func(i, j int) bool { return depth[pending[i].ID] < depth[pending[j].ID] })

	for _, n := range pending {
		if n.RowID == 0 {
			e.tree.Persisted(n, e.nextRow)
			e.nextRow++
		}
	}
	saves := make([]database.NodeRecord, 0, len(pending))
	for _, n := range pending {
		saves = append(saves, database.NodeRecord{
			ID:       n.RowID,
			ParentID: n.ParentRowID,
			Remote:   uint64(n.Remote),
			Format:   localtree.FormatVersion,
			Data:     localtree.Serialize(n),
		})
	}
	e.tree.Unlock()

	deleted := e.deleted
	for len(saves) > 0 || len(deleted) > 0 {
		var b database.Batch
		b.Save, saves = split(saves, e.cfg.BatchSize)
		b.Delete, deleted = split(deleted, e.cfg.BatchSize-len(b.Save))

		started := time.Now()
		if err := e.store.Commit(ctx, b); err != nil {
			return fmt.Errorf("failed to persist cache: %w", err)
		}
		metrics.RecordCommit(time.Since(started))
	}

	e.dirty = make(map[localtree.NodeID]*localtree.Node)
	e.deleted = nil
	return nil
}

func split[T any](s []T, n int) ([]T, []T) {
	if n <= 0 {
		return nil, s
	}
	if len(s) <= n {
		return s, nil
	}
	return s[:n], s[n:]
}

// persistTransfers replaces the stored queue when it changed.
func (e *Engine) persistTransfers(ctx context.Context) error {
	if !e.queueDirty {
		return nil
	}
	var records []database.TransferRecord
	for _, dir := range []transfer.Direction{transfer.Get, transfer.Put} {
		for _, it := range e.queue.Items(dir) {
			records = append(records, database.TransferRecord{
				Seq:       it.Seq,
				Direction: int8(it.Direction),
				Target:    it.Target,
				Data:      e.queue.Serialize(it),
			})
		}
	}
	if err := e.store.ReplaceTransfers(ctx, records); err != nil {
		return err
	}
	e.queueDirty = false
	return nil
}
