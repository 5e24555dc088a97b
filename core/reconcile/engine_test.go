package reconcile

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"localsync/core/codec"
	"localsync/core/database"
	"localsync/core/localtree"
	"localsync/core/transfer"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanTransition tests the allowed state transitions.
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInitializing, StateScanning, true},
		{StateInitializing, StateMonitoring, false},
		{StateScanning, StateMonitoring, true},
		{StateMonitoring, StateScanning, true},
		{StateMonitoring, StateSuspended, true},
		{StateSuspended, StateScanning, true},
		{StateSuspended, StateMonitoring, false},
		{StateScanning, StateFailed, true},
		{StateFailed, StateScanning, false},
		{StateFailed, StateSuspended, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// TestNew_RequiresFsAndStore tests that missing dependencies are rejected.
func TestNew_RequiresFsAndStore(t *testing.T) {
	_, err := New("x", testConfig(), Deps{Fs: afero.NewMemMapFs()})
	assert.Error(t, err)
	_, err = New("x", testConfig(), Deps{Store: newMemStore()})
	assert.Error(t, err)
}

// TestEngine_InitialScan tests that the first scan persists the tree and queues uploads.
func TestEngine_InitialScan(t *testing.T) {
	store := newMemStore()
	rec := &recorder{}
	e := startEngine(t, testConfig(), Deps{
		Fs:       seedFs(t),
		Identity: newIdentities().of,
		Store:    store,
		Listener: rec,
	})
	waitState(t, e, StateMonitoring)
	e.Stop()

	assert.Equal(t, 4, e.Tree().Len())
	assert.Equal(t, 3, rec.count(localtree.ChangeCreated))
	assert.Equal(t, 4, store.len())

	for _, p := range []string{"a.txt", "dir/b.txt"} {
		it, ok := e.Queue().Queued(transfer.Put, p)
		require.True(t, ok, p)
		assert.Equal(t, transfer.Queued, it.State)
	}
	assert.Len(t, store.transfers, 2)

	n, ok := lookup(e, "dir/b.txt")
	require.True(t, ok)
	assert.True(t, n.Dirty)
	assert.Equal(t, int64(6), n.Size)
	assert.NotEqual(t, localtree.Fingerprint{}, n.Fingerprint)

	dir, _ := lookup(e, "dir")
	assert.NotZero(t, n.RowID)
	assert.Equal(t, dir.RowID, n.ParentRowID)
	assert.Equal(t, e.Tree().Root().RowID, dir.ParentRowID)

	stats := e.Stats()
	assert.Equal(t, "monitoring", stats.State)
	assert.Equal(t, 2, stats.QueuedPuts)
	assert.NotZero(t, stats.Generation)
}

// TestEngine_RestoresFromStore tests that a restart reuses the stored tree.
func TestEngine_RestoresFromStore(t *testing.T) {
	fs := seedFs(t)
	ids := newIdentities()
	store := newMemStore()

	first := startEngine(t, testConfig(), Deps{Fs: fs, Identity: ids.of, Store: store})
	waitState(t, first, StateMonitoring)
	first.Stop()
	a, _ := lookup(first, "a.txt")
	row := a.RowID

	rec := &recorder{}
	second := startEngine(t, testConfig(), Deps{Fs: fs, Identity: ids.of, Store: store, Listener: rec})
	waitState(t, second, StateMonitoring)
	second.Stop()

	assert.Equal(t, 4, second.Tree().Len())
	assert.Zero(t, rec.count(localtree.ChangeCreated))
	assert.Zero(t, rec.count(localtree.ChangeRemoved))

	restored, ok := lookup(second, "a.txt")
	require.True(t, ok)
	assert.Equal(t, row, restored.RowID)
	assert.True(t, restored.Dirty)
	assert.Equal(t, 2, second.Queue().Len(transfer.Put))
}

// TestEngine_DropsCorruptSubtree tests that records below an undecodable folder are dropped.
func TestEngine_DropsCorruptSubtree(t *testing.T) {
	tree := localtree.New("sync")
	root := tree.Root()
	tree.Persisted(root, 1)
	d, err := tree.CreateNode(localtree.KindFolder, "d", root.ID)
	require.NoError(t, err)
	tree.Persisted(d, 2)
	f, err := tree.CreateNode(localtree.KindFile, "f", d.ID)
	require.NoError(t, err)
	tree.Persisted(f, 3)

	store := newMemStore()
	store.nodes[1] = database.NodeRecord{ID: 1, Format: localtree.FormatVersion, Data: localtree.Serialize(root)}
	store.nodes[2] = database.NodeRecord{ID: 2, ParentID: 1, Format: localtree.FormatVersion, Data: []byte{1, 2, 3}}
	store.nodes[3] = database.NodeRecord{ID: 3, ParentID: 2, Format: localtree.FormatVersion, Data: localtree.Serialize(f)}

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sync", 0o755))

	e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: store})
	waitState(t, e, StateMonitoring)
	e.Stop()

	assert.Equal(t, 1, store.len())
	_, ok := store.node(1)
	assert.True(t, ok)
	assert.Equal(t, 1, e.Tree().Len())
}

// TestEngine_UnreadableRootFails tests that a missing root fails the engine.
func TestEngine_UnreadableRootFails(t *testing.T) {
	e := startEngine(t, testConfig(), Deps{Fs: afero.NewMemMapFs(), Store: newMemStore()})
	waitState(t, e, StateFailed)

	_, cause := e.State()
	var fsErr *FilesystemIOError
	require.ErrorAs(t, cause, &fsErr)
	assert.Equal(t, "/sync", fsErr.Path)
	assert.ErrorIs(t, cause, os.ErrNotExist)
	assert.ErrorIs(t, e.Suspend(), ErrInvalidTransition)
}

// TestEngine_StoreErrorFails tests that a store load error fails the engine.
func TestEngine_StoreErrorFails(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("disk full")
	e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Store: store})
	waitState(t, e, StateFailed)

	_, cause := e.State()
	assert.ErrorContains(t, cause, "disk full")
}

// TestEngine_SuspendResume tests that scanning pauses while suspended.
func TestEngine_SuspendResume(t *testing.T) {
	fs := seedFs(t)
	e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: newMemStore()})
	waitState(t, e, StateMonitoring)

	require.NoError(t, e.Suspend())
	waitState(t, e, StateSuspended)
	assert.NoError(t, e.Suspend())

	require.NoError(t, afero.WriteFile(fs, "/sync/late.txt", []byte("late"), 0o644))
	e.Rescan("")
	time.Sleep(50 * time.Millisecond)
	_, queued := e.Queue().Queued(transfer.Put, "late.txt")
	assert.False(t, queued)

	require.NoError(t, e.Resume())
	assert.Eventually(t, func() bool {
		_, ok := e.Queue().Queued(transfer.Put, "late.txt")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	waitState(t, e, StateMonitoring)
	assert.ErrorIs(t, e.Resume(), ErrInvalidTransition)
}

// TestEngine_WatcherSchedulesPartialScan tests that watcher events rescan only the changed directory.
func TestEngine_WatcherSchedulesPartialScan(t *testing.T) {
	fs := seedFs(t)
	w := newFakeWatcher()
	e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: newMemStore(), Watcher: w})
	waitState(t, e, StateMonitoring)

	assert.Eventually(t, func() bool {
		return w.watched("/sync") && w.watched("/sync/dir")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, fs.MkdirAll("/sync/dir/sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/sync/dir/sub/new.txt", []byte("new"), 0o644))
	w.dirs <- "/sync/dir"
	w.dirs <- "/elsewhere"

	assert.Eventually(t, func() bool {
		_, ok := e.Queue().Queued(transfer.Put, "dir/sub/new.txt")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return w.watched("/sync/dir/sub") }, time.Second, 5*time.Millisecond)
}

// TestEngine_DetectsMove tests that a rename is reported as a move.
func TestEngine_DetectsMove(t *testing.T) {
	fs := seedFs(t)
	ids := newIdentities()
	rec := &recorder{}
	e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: ids.of, Store: newMemStore(), Listener: rec})
	waitState(t, e, StateMonitoring)

	before, _ := lookup(e, "dir/b.txt")
	require.NoError(t, fs.Rename("/sync/dir/b.txt", "/sync/c.txt"))
	ids.rename("/sync/dir/b.txt", "/sync/c.txt")
	e.Rescan("")

	assert.Eventually(t, func() bool { return rec.count(localtree.ChangeMoved) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := e.Queue().Queued(transfer.Put, "c.txt")
		return ok
	}, time.Second, 5*time.Millisecond)

	after, ok := lookup(e, "c.txt")
	require.True(t, ok)
	assert.Same(t, before, after)
	assert.Zero(t, rec.count(localtree.ChangeRemoved))
	_, stale := e.Queue().Queued(transfer.Put, "dir/b.txt")
	assert.False(t, stale)
}

// TestEngine_DetectsRemoval tests that a deleted directory is removed from the store.
func TestEngine_DetectsRemoval(t *testing.T) {
	fs := seedFs(t)
	store := newMemStore()
	rec := &recorder{}
	e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: store, Listener: rec})
	waitState(t, e, StateMonitoring)

	require.NoError(t, fs.RemoveAll("/sync/dir"))
	e.Rescan("")

	assert.Eventually(t, func() bool { return rec.count(localtree.ChangeRemoved) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return store.len() == 2 }, time.Second, 5*time.Millisecond)
	_, ok := e.Queue().Queued(transfer.Put, "dir/b.txt")
	assert.False(t, ok)
}

// flakyFs fails Stat for one name.
type flakyFs struct {
	afero.Fs
	name  string
	fails int
}

func (f *flakyFs) Stat(p string) (os.FileInfo, error) {
	if f.fails != 0 && len(p) >= len(f.name) && p[len(p)-len(f.name):] == f.name {
		if f.fails > 0 {
			f.fails--
		}
		return nil, errors.New("device busy")
	}
	return f.Fs.Stat(p)
}

// TestEngine_EntryErrors tests retrying and reporting of per-entry errors.
func TestEngine_EntryErrors(t *testing.T) {
	t.Run("persistent failure is reported", func(t *testing.T) {
		fs := &flakyFs{Fs: seedFs(t), name: "a.txt", fails: -1}
		rec := &recorder{}
		e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: newMemStore(), Listener: rec})
		waitState(t, e, StateMonitoring)
		e.Stop()

		rec.mu.Lock()
		defer rec.mu.Unlock()
		require.Len(t, rec.entryErrs, 1)
		assert.Equal(t, "a.txt", rec.entryErrs[0].Path)
		assert.Equal(t, 3, rec.entryErrs[0].Attempts)
		assert.ErrorContains(t, rec.entryErrs[0], "device busy")
	})

	t.Run("transient failure recovers", func(t *testing.T) {
		fs := &flakyFs{Fs: seedFs(t), name: "a.txt", fails: 1}
		rec := &recorder{}
		e := startEngine(t, testConfig(), Deps{Fs: fs, Identity: newIdentities().of, Store: newMemStore(), Listener: rec})
		waitState(t, e, StateMonitoring)
		e.Stop()

		assert.Empty(t, rec.entryErrs)
		_, ok := e.Queue().Queued(transfer.Put, "a.txt")
		assert.True(t, ok)
	})
}

// TestEngine_TransferCompletion tests that a finished upload links the node.
func TestEngine_TransferCompletion(t *testing.T) {
	store := newMemStore()
	e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Identity: newIdentities().of, Store: store})
	waitState(t, e, StateMonitoring)

	it, ok := e.Queue().Queued(transfer.Put, "a.txt")
	require.True(t, ok)
	require.NoError(t, e.Queue().Start(it))
	it.Remote = codec.Handle(42)
	require.NoError(t, e.Queue().Completed(it))

	n, _ := lookup(e, "a.txt")
	assert.Eventually(t, func() bool {
		e.Tree().Lock()
		row := n.RowID
		e.Tree().Unlock()
		r, ok := store.node(row)
		return ok && r.Remote == 42
	}, 2*time.Second, 5*time.Millisecond)

	e.Stop()
	assert.False(t, n.Dirty)
	assert.Equal(t, codec.Handle(42), n.Remote)
	assert.Len(t, store.transfers, 1)
}

// TestEngine_RemoteChanges tests how remote changes are applied to local files.
func TestEngine_RemoteChanges(t *testing.T) {
	t.Run("unknown path is downloaded", func(t *testing.T) {
		e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Identity: newIdentities().of, Store: newMemStore()})
		waitState(t, e, StateMonitoring)

		e.NotifyRemote(RemoteChange{RemoteEntry: RemoteEntry{Handle: 9, Path: "remote/new.txt", Size: 3}})
		assert.Eventually(t, func() bool {
			it, ok := e.Queue().Queued(transfer.Get, "remote/new.txt")
			return ok && it.Remote == 9
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("dirty file conflicts", func(t *testing.T) {
		rec := &recorder{}
		e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Identity: newIdentities().of, Store: newMemStore(), Listener: rec})
		waitState(t, e, StateMonitoring)

		e.NotifyRemote(RemoteChange{RemoteEntry: RemoteEntry{Handle: 7, Path: "a.txt", Size: 999}})
		assert.Eventually(t, func() bool { return rec.conflictCount() == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, e.Stats().Conflicts)
		_, ok := e.Queue().Queued(transfer.Get, "a.txt")
		assert.False(t, ok)
	})

	t.Run("keep remote replaces upload with download", func(t *testing.T) {
		policy := PolicyFunc(func(Conflict) Resolution { return ResolveKeepRemote })
		e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Identity: newIdentities().of, Store: newMemStore(), Policy: policy})
		waitState(t, e, StateMonitoring)

		e.NotifyRemote(RemoteChange{RemoteEntry: RemoteEntry{Handle: 7, Path: "a.txt", Size: 999}})
		assert.Eventually(t, func() bool {
			_, ok := e.Queue().Queued(transfer.Get, "a.txt")
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		_, ok := e.Queue().Queued(transfer.Put, "a.txt")
		assert.False(t, ok)
	})

	t.Run("same content links without transfer", func(t *testing.T) {
		e := startEngine(t, testConfig(), Deps{Fs: seedFs(t), Identity: newIdentities().of, Store: newMemStore()})
		waitState(t, e, StateMonitoring)

		n, _ := lookup(e, "a.txt")
		e.Tree().Lock()
		entry := RemoteEntry{Handle: 5, Path: "a.txt", Size: n.Size, ModTime: n.ModTime}
		e.Tree().Unlock()

		e.NotifyRemote(RemoteChange{RemoteEntry: entry})
		assert.Eventually(t, func() bool {
			e.Tree().Lock()
			defer e.Tree().Unlock()
			return n.Remote == 5
		}, 2*time.Second, 5*time.Millisecond)
		_, ok := e.Queue().Queued(transfer.Get, "a.txt")
		assert.False(t, ok)
	})
}

// TestEngine_Run tests the blocking Run entry point.
func TestEngine_Run(t *testing.T) {
	t.Run("returns the failure cause", func(t *testing.T) {
		e, err := New("run", testConfig(), Deps{Fs: afero.NewMemMapFs(), Store: newMemStore()})
		require.NoError(t, err)
		err = e.Run(context.Background())
		var fsErr *FilesystemIOError
		assert.ErrorAs(t, err, &fsErr)
	})

	t.Run("stops with the context", func(t *testing.T) {
		e, err := New("run", testConfig(), Deps{Fs: seedFs(t), Store: newMemStore()})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.NoError(t, e.Run(ctx))
		assert.False(t, e.main.Running())
	})
}

// uploadedEngine starts an engine whose a.txt was uploaded as remote
// version 7.
func uploadedEngine(t *testing.T, fs afero.Fs, ids *identities, store *memStore, remote Remote) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := startEngine(t, testConfig(), Deps{
		Fs:       fs,
		Identity: ids.of,
		Store:    store,
		Listener: rec,
		Remote:   NewRemoteCache(remote, 0),
	})
	waitState(t, e, StateMonitoring)
	completePut(t, e, "a.txt", 7)
	return e, rec
}

// TestEngine_MovePropagates tests that a local rename of an uploaded file is
// followed by the remote, or remembered until it can be.
func TestEngine_MovePropagates(t *testing.T) {
	t.Run("read-only remote keeps the file after restart", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := newMemRemote()
		e, rec := uploadedEngine(t, fs, ids, store, remote)
		remote.put(RemoteEntry{Handle: 7, Path: "a.txt", Size: 5})

		require.NoError(t, fs.Rename("/sync/a.txt", "/sync/c.txt"))
		ids.rename("/sync/a.txt", "/sync/c.txt")
		e.Rescan("")
		require.Eventually(t, func() bool { return rec.count(localtree.ChangeMoved) == 1 }, 2*time.Second, 5*time.Millisecond)
		e.Stop()

		assert.Equal(t, []database.TombstoneRecord{{Path: "a.txt", Remote: 7, MovedTo: "c.txt"}}, store.tombstones())

		second := startEngine(t, testConfig(), Deps{Fs: fs, Identity: ids.of, Store: store, Remote: NewRemoteCache(remote, 0)})
		waitState(t, second, StateMonitoring)
		second.Stop()

		_, get := second.Queue().Queued(transfer.Get, "a.txt")
		assert.False(t, get)
		_, put := second.Queue().Queued(transfer.Put, "c.txt")
		assert.False(t, put)
		c, ok := lookup(second, "c.txt")
		require.True(t, ok)
		assert.Equal(t, codec.Handle(7), c.Remote)
		assert.False(t, c.Dirty)
	})

	t.Run("mutable remote renames the file", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := mutableRemote{newMemRemote()}
		e, _ := uploadedEngine(t, fs, ids, store, remote)
		remote.put(RemoteEntry{Handle: 7, Path: "a.txt", Size: 5})

		require.NoError(t, fs.Rename("/sync/a.txt", "/sync/c.txt"))
		ids.rename("/sync/a.txt", "/sync/c.txt")
		e.Rescan("")

		require.Eventually(t, func() bool {
			_, ok := remote.entry("c.txt")
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		_, old := remote.entry("a.txt")
		assert.False(t, old)

		moved, _ := remote.entry("c.txt")
		c, ok := lookup(e, "c.txt")
		require.True(t, ok)
		assert.Eventually(t, func() bool { return remoteHandle(e, c) == moved.Handle }, time.Second, 5*time.Millisecond)
		e.Stop()

		assert.Empty(t, store.tombstones())
		_, put := e.Queue().Queued(transfer.Put, "c.txt")
		assert.False(t, put)
	})

	t.Run("changed remote copy is uploaded again", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := mutableRemote{newMemRemote()}
		e, _ := uploadedEngine(t, fs, ids, store, remote)
		remote.put(RemoteEntry{Handle: 8, Path: "a.txt", Size: 5})

		require.NoError(t, fs.Rename("/sync/a.txt", "/sync/c.txt"))
		ids.rename("/sync/a.txt", "/sync/c.txt")
		e.Rescan("")

		assert.Eventually(t, func() bool {
			_, ok := e.Queue().Queued(transfer.Put, "c.txt")
			return ok
		}, 2*time.Second, 5*time.Millisecond)
		got, ok := remote.entry("a.txt")
		require.True(t, ok)
		assert.Equal(t, codec.Handle(8), got.Handle)
	})
}

// TestEngine_RemovalPropagates tests that deleting an uploaded file removes
// the remote copy instead of downloading it again.
func TestEngine_RemovalPropagates(t *testing.T) {
	t.Run("read-only remote", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := newMemRemote()
		e, rec := uploadedEngine(t, fs, ids, store, remote)
		remote.put(RemoteEntry{Handle: 7, Path: "a.txt", Size: 5})

		require.NoError(t, fs.Remove("/sync/a.txt"))
		e.Rescan("")
		require.Eventually(t, func() bool { return rec.count(localtree.ChangeRemoved) == 1 }, 2*time.Second, 5*time.Millisecond)
		e.Stop()

		assert.Equal(t, []database.TombstoneRecord{{Path: "a.txt", Remote: 7}}, store.tombstones())

		second := startEngine(t, testConfig(), Deps{Fs: fs, Identity: ids.of, Store: store, Remote: NewRemoteCache(remote, 0)})
		waitState(t, second, StateMonitoring)
		second.Stop()

		_, get := second.Queue().Queued(transfer.Get, "a.txt")
		assert.False(t, get)
		assert.Len(t, store.tombstones(), 1)
	})

	t.Run("mutable remote deletes the file", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := mutableRemote{newMemRemote()}
		e, _ := uploadedEngine(t, fs, ids, store, remote)
		remote.put(RemoteEntry{Handle: 7, Path: "a.txt", Size: 5})

		require.NoError(t, fs.Remove("/sync/a.txt"))
		e.Rescan("")

		assert.Eventually(t, func() bool {
			_, ok := remote.entry("a.txt")
			return !ok
		}, 2*time.Second, 5*time.Millisecond)
		e.Stop()
		assert.Empty(t, store.tombstones())
	})

	t.Run("remote deletion clears the pending removal", func(t *testing.T) {
		fs, ids, store := seedFs(t), newIdentities(), newMemStore()
		remote := newMemRemote()
		e, rec := uploadedEngine(t, fs, ids, store, remote)

		require.NoError(t, fs.Remove("/sync/a.txt"))
		e.Rescan("")
		require.Eventually(t, func() bool { return len(store.tombstones()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, rec.count(localtree.ChangeRemoved))

		e.NotifyRemote(RemoteChange{RemoteEntry: RemoteEntry{Handle: 7, Path: "a.txt"}, Deleted: true})
		assert.Eventually(t, func() bool { return len(store.tombstones()) == 0 }, 2*time.Second, 5*time.Millisecond)
	})
}

// TestEngine_InitialSyncLinksMatchingFiles tests that files already present
// on the remote are linked and not uploaded again.
func TestEngine_InitialSyncLinksMatchingFiles(t *testing.T) {
	fs := seedFs(t)
	entries := make([]RemoteEntry, 0, 2)
	for i, p := range []string{"a.txt", "dir/b.txt"} {
		fi, err := fs.Stat("/sync/" + p)
		require.NoError(t, err)
		fp, err := localtree.ComputeFingerprint(fs, "/sync/"+p, fi.Size())
		require.NoError(t, err)
		entries = append(entries, RemoteEntry{
			Handle:         codec.Handle(20 + i),
			Path:           p,
			Size:           fi.Size(),
			Fingerprint:    fp,
			HasFingerprint: true,
		})
	}

	rec := &recorder{}
	e := startEngine(t, testConfig(), Deps{
		Fs:       fs,
		Identity: newIdentities().of,
		Store:    newMemStore(),
		Listener: rec,
		Remote:   NewRemoteCache(newMemRemote(entries...), 0),
	})
	waitState(t, e, StateMonitoring)

	for _, r := range entries {
		n, ok := lookup(e, r.Path)
		require.True(t, ok, r.Path)
		assert.Equal(t, r.Handle, remoteHandle(e, n), r.Path)
		e.Tree().Lock()
		assert.False(t, n.Dirty, r.Path)
		e.Tree().Unlock()
	}
	assert.Zero(t, e.Queue().Len(transfer.Put))

	e.NotifyRemote(RemoteChange{RemoteEntry: RemoteEntry{Handle: 30, Path: "a.txt", Size: 999}})
	assert.Eventually(t, func() bool {
		it, ok := e.Queue().Queued(transfer.Get, "a.txt")
		return ok && it.Remote == 30
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.conflictCount())
}
