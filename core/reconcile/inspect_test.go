package reconcile

import (
	"context"
	"errors"
	"testing"

	"localsync/core/database"
	"localsync/core/localtree"
	"localsync/core/transfer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInspect tests the cache report of a stored sync.
func TestInspect(t *testing.T) {
	tree := localtree.New("sync")
	root := tree.Root()
	tree.Persisted(root, 1)
	d, err := tree.CreateNode(localtree.KindFolder, "d", root.ID)
	require.NoError(t, err)
	tree.Persisted(d, 2)
	f, err := tree.CreateNode(localtree.KindFile, "f", d.ID)
	require.NoError(t, err)
	tree.Persisted(f, 3)
	g, err := tree.CreateNode(localtree.KindFile, "g", root.ID)
	require.NoError(t, err)
	g.Dirty = true
	tree.Persisted(g, 4)

	store := newMemStore()
	store.nodes[1] = database.NodeRecord{ID: 1, Format: localtree.FormatVersion, Data: localtree.Serialize(root)}
	store.nodes[2] = database.NodeRecord{ID: 2, ParentID: 1, Format: localtree.FormatVersion, Data: []byte{1, 2, 3}}
	store.nodes[3] = database.NodeRecord{ID: 3, ParentID: 2, Format: localtree.FormatVersion, Data: localtree.Serialize(f)}
	store.nodes[4] = database.NodeRecord{ID: 4, ParentID: 1, Remote: 5, Format: localtree.FormatVersion, Data: localtree.Serialize(g)}
	store.transfers = []database.TransferRecord{
		{Seq: 1, Direction: int8(transfer.Put), Target: "g", Data: transfer.NewItem(transfer.Put, "g", nil).Serialize()},
		{Seq: 2, Direction: int8(transfer.Get), Target: "x", Data: []byte{9}},
	}
	store.tombs = []database.TombstoneRecord{{Path: "old.txt", Remote: 3}}

	report, err := Inspect(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 1, report.Corrupt)
	assert.Equal(t, 1, report.Orphans)
	assert.True(t, report.Root)
	assert.Equal(t, 1, report.Folders)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Dirty)
	assert.Equal(t, 1, report.Linked)
	assert.Equal(t, 1, report.Puts)
	assert.Equal(t, 0, report.Gets)
	assert.Equal(t, 1, report.BadQueued)
	assert.Equal(t, 1, report.Tombstones)
	assert.Equal(t, 4, store.len(), "inspection changes nothing")
}

// TestInspect_Empty tests the report for an unknown sync.
func TestInspect_Empty(t *testing.T) {
	report, err := Inspect(context.Background(), newMemStore())
	require.NoError(t, err)
	assert.False(t, report.Root)
	assert.Zero(t, report.Records)

	store := newMemStore()
	store.loadErr = errors.New("locked")
	_, err = Inspect(context.Background(), store)
	assert.ErrorContains(t, err, "locked")
}
