package reconcile

import (
	"context"
	"fmt"

	"localsync/core/codec"
	"localsync/core/localtree"
	"localsync/core/transfer"
)

// CacheReport describes the persisted state of a sync.
type CacheReport struct {
	Records   int `json:"records"`
	Folders   int `json:"folders"`
	Files     int `json:"files"`
	Dirty     int `json:"dirty"`
	Linked    int `json:"linked"`
	Corrupt   int `json:"corrupt"`
	Orphans   int `json:"orphans"`
	Gets      int `json:"queued_gets"`
	Puts      int `json:"queued_puts"`
	BadQueued int `json:"corrupt_transfers"`
	// Tombstones counts remote files waiting to follow a local move or
	// removal.
	Tombstones int `json:"tombstones"`
	// Root is false when no record describes the sync root.
	Root bool `json:"root"`
}

// Inspect decodes everything store holds without changing it.
func Inspect(ctx context.Context, store Store) (*CacheReport, error) {
	records, err := store.LoadNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache: %w", err)
	}

	report := &CacheReport{Records: len(records)}
	tree := localtree.New("root")
	var nodes []*localtree.Node
	for _, r := range records {
		if r.Format != localtree.FormatVersion {
			report.Corrupt++
			continue
		}
		n, ok := localtree.Unserialize(tree.Names(), r.Data)
		if !ok {
			report.Corrupt++
			continue
		}
		n.RowID = r.ID
		n.Remote = codec.Handle(r.Remote)
		nodes = append(nodes, n)
	}

	tree.Lock()
	orphans := tree.Restore(nodes)
	tree.Unlock()
	report.Orphans = len(orphans)
	report.Root = len(nodes) > len(orphans)

	tree.Walk(func(n *localtree.Node) bool {
		if n.RowID == 0 {
			return true
		}
		if n.IsFolder() {
			report.Folders++
		} else {
			report.Files++
		}
		if n.Dirty {
			report.Dirty++
		}
		if n.Linked() {
			report.Linked++
		}
		return true
	})

	transfers, err := store.LoadTransfers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load transfers: %w", err)
	}
	for _, t := range transfers {
		it, err := transfer.UnserializeItem(t.Data)
		if err != nil {
			report.BadQueued++
			continue
		}
		if it.Direction == transfer.Put {
			report.Puts++
		} else {
			report.Gets++
		}
	}

	tombstones, err := store.LoadTombstones(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tombstones: %w", err)
	}
	report.Tombstones = len(tombstones)
	return report, nil
}
