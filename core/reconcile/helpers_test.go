package reconcile

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"localsync/core/codec"
	"localsync/core/database"
	"localsync/core/localtree"
	"localsync/core/transfer"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	nodes     map[uint32]database.NodeRecord
	transfers []database.TransferRecord
	tombs     []database.TombstoneRecord
	commits   int
	loadErr   error
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[uint32]database.NodeRecord)}
}

func (s *memStore) LoadNodes(context.Context) ([]database.NodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]database.NodeRecord, 0, len(s.nodes))
	for _, r := range s.nodes {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) Commit(_ context.Context, b database.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	for _, r := range b.Save {
		s.nodes[r.ID] = r
	}
	for _, id := range b.Delete {
		delete(s.nodes, id)
	}
	return nil
}

func (s *memStore) LoadTransfers(context.Context) ([]database.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.TransferRecord(nil), s.transfers...), nil
}

func (s *memStore) ReplaceTransfers(_ context.Context, records []database.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append([]database.TransferRecord(nil), records...)
	return nil
}

func (s *memStore) LoadTombstones(context.Context) ([]database.TombstoneRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.TombstoneRecord(nil), s.tombs...), nil
}

func (s *memStore) ReplaceTombstones(_ context.Context, records []database.TombstoneRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombs = append([]database.TombstoneRecord(nil), records...)
	return nil
}

func (s *memStore) tombstones() []database.TombstoneRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.TombstoneRecord(nil), s.tombs...)
}

func (s *memStore) node(id uint32) (database.NodeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[id]
	return r, ok
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// identities hands out stable fake inode numbers per path.
type identities struct {
	mu   sync.Mutex
	next codec.Handle
	ids  map[string]codec.Handle
}

func newIdentities() *identities {
	return &identities{ids: make(map[string]codec.Handle)}
}

func (i *identities) of(p string, _ os.FileInfo) codec.Handle {
	i.mu.Lock()
	defer i.mu.Unlock()
	h, ok := i.ids[p]
	if !ok {
		i.next++
		h = i.next
		i.ids[p] = h
	}
	return h
}

func (i *identities) rename(from, to string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids[to] = i.ids[from]
	delete(i.ids, from)
}

type fakeWatcher struct {
	mu    sync.Mutex
	added map[string]bool
	dirs  chan string
	once  sync.Once
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{added: make(map[string]bool), dirs: make(chan string, 16)}
}

func (w *fakeWatcher) Add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added[dir] = true
	return nil
}

func (w *fakeWatcher) watched(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.added[dir]
}

func (w *fakeWatcher) Dirs() <-chan string { return w.dirs }

func (w *fakeWatcher) Close() error {
	w.once.Do(func() { close(w.dirs) })
	return nil
}

type recorder struct {
	NopListener
	mu        sync.Mutex
	changes   []localtree.Change
	paths     []string
	conflicts []Conflict
	entryErrs []*EntryIOError
}

func (r *recorder) OnChange(c localtree.Change, p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	r.paths = append(r.paths, p)
}

func (r *recorder) OnConflict(c Conflict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, c)
}

func (r *recorder) OnEntryError(err *EntryIOError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entryErrs = append(r.entryErrs, err)
}

func (r *recorder) count(kind localtree.ChangeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) conflictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conflicts)
}

func testConfig() Config {
	return Config{
		Root:         "/sync",
		ScanWorkers:  2,
		BatchSize:    2,
		EntryRetries: 2,
		RetryDelay:   time.Millisecond,
		IdleWait:     10 * time.Millisecond,
		Watch:        true,
	}
}

func seedFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sync/dir", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/sync/a.txt", []byte("alpha"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/sync/dir/b.txt", []byte("bravo!"), 0o644))
	return fs
}

func startEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	e, err := New("test", cfg, deps)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
	return e
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, _ := e.State()
		return s == want
	}, 2*time.Second, 5*time.Millisecond, "engine never reached %s", want)
}

func lookup(e *Engine, rel string) (*localtree.Node, bool) {
	return e.Tree().Lookup(rel)
}

// memRemote is an in-memory remote tree that can only be listed.
type memRemote struct {
	mu    sync.Mutex
	index map[string]RemoteEntry
	next  codec.Handle
}

func newMemRemote(entries ...RemoteEntry) *memRemote {
	r := &memRemote{index: make(map[string]RemoteEntry), next: 1000}
	for _, e := range entries {
		r.index[e.Path] = e
	}
	return r
}

func (r *memRemote) List(context.Context) (map[string]RemoteEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RemoteEntry, len(r.index))
	for p, e := range r.index {
		out[p] = e
	}
	return out, nil
}

func (r *memRemote) put(e RemoteEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[e.Path] = e
}

func (r *memRemote) entry(p string) (RemoteEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.index[p]
	return e, ok
}

// mutableRemote also follows moves and removals.
type mutableRemote struct {
	*memRemote
}

func (r mutableRemote) check(p string, h codec.Handle) (RemoteEntry, error) {
	e, ok := r.index[p]
	if !ok {
		return e, ErrRemoteNotFound
	}
	if e.Handle != h {
		return e, ErrRemoteChanged
	}
	return e, nil
}

func (r mutableRemote) Move(_ context.Context, from, to string, h codec.Handle) (codec.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.check(from, h)
	if err != nil {
		return codec.UndefHandle, err
	}
	delete(r.index, from)
	r.next++
	e.Path = to
	e.Handle = r.next
	r.index[to] = e
	return e.Handle, nil
}

func (r mutableRemote) Delete(_ context.Context, p string, h codec.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.check(p, h); err != nil {
		return err
	}
	delete(r.index, p)
	return nil
}

// completePut finishes the queued upload of rel as if it produced remote
// version h, and waits until the engine has linked the node.
func completePut(t *testing.T, e *Engine, rel string, h codec.Handle) *localtree.Node {
	t.Helper()
	it, ok := e.Queue().Queued(transfer.Put, rel)
	require.True(t, ok, rel)
	require.NoError(t, e.Queue().Start(it))
	it.Remote = h
	require.NoError(t, e.Queue().Completed(it))

	n, ok := lookup(e, rel)
	require.True(t, ok, rel)
	require.Eventually(t, func() bool {
		e.Tree().Lock()
		defer e.Tree().Unlock()
		return n.Remote == h && !n.Dirty
	}, 2*time.Second, 5*time.Millisecond)
	return n
}

func remoteHandle(e *Engine, n *localtree.Node) codec.Handle {
	e.Tree().Lock()
	defer e.Tree().Unlock()
	return n.Remote
}
