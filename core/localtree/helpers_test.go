package localtree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"localsync/core/codec"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testRoot = "/sync"

// fakeDisk is an in-memory filesystem whose entries carry stable identities
// that follow renames, the way inode numbers do.
type fakeDisk struct {
	t    *testing.T
	fs   afero.Fs
	ids  map[string]codec.Handle
	next codec.Handle
}

func newFakeDisk(t *testing.T) *fakeDisk {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testRoot, 0o755))
	return &fakeDisk{t: t, fs: fs, ids: make(map[string]codec.Handle)}
}

func (d *fakeDisk) identity(p string, _ os.FileInfo) codec.Handle {
	if id, ok := d.ids[p]; ok {
		return id
	}
	return codec.UndefHandle
}

func (d *fakeDisk) abs(rel string) string {
	return filepath.Join(testRoot, rel)
}

func (d *fakeDisk) assign(p string) {
	if _, ok := d.ids[p]; !ok {
		d.next++
		d.ids[p] = d.next
	}
}

func (d *fakeDisk) mkdir(rel string) {
	p := d.abs(rel)
	require.NoError(d.t, d.fs.MkdirAll(p, 0o755))
	d.assign(p)
}

func (d *fakeDisk) write(rel, content string, mtime int64) {
	p := d.abs(rel)
	require.NoError(d.t, afero.WriteFile(d.fs, p, []byte(content), 0o644))
	ts := time.Unix(mtime, 0)
	require.NoError(d.t, d.fs.Chtimes(p, ts, ts))
	d.assign(p)
}

func (d *fakeDisk) rename(oldRel, newRel string) {
	oldPath, newPath := d.abs(oldRel), d.abs(newRel)
	require.NoError(d.t, d.fs.Rename(oldPath, newPath))
	for p, id := range d.ids {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			delete(d.ids, p)
			d.ids[newPath+strings.TrimPrefix(p, oldPath)] = id
		}
	}
}

func (d *fakeDisk) remove(rel string) {
	p := d.abs(rel)
	require.NoError(d.t, d.fs.RemoveAll(p))
	delete(d.ids, p)
}

func (d *fakeDisk) scanner() *Scanner {
	return NewScanner(d.fs, d.identity)
}

// scanAll walks the whole tree the way the engine does: apply every
// directory, then sweep.
func scanAll(t *testing.T, tree *Tree, sc *Scanner, root string, gen uint64) ([]Change, []*Node) {
	var (
		changes []Change
		probes  []*Node
		dirs    []*Node
	)
	queue := []*Node{tree.Root()}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := sc.ReadDir(filepath.Join(root, filepath.FromSlash(tree.RelPath(dir))))
		require.NoError(t, err)
		res := tree.Apply(dir, entries, gen)
		changes = append(changes, res.Changes...)
		probes = append(probes, res.Probe...)
		dirs = append(dirs, dir)

		for _, c := range tree.Children(dir) {
			if c.IsFolder() && c.SeenIn(gen) {
				queue = append(queue, c)
			}
		}
	}
	changes = append(changes, tree.Sweep(dirs, gen)...)
	return changes, probes
}

func kinds(changes []Change) map[ChangeKind]int {
	out := make(map[ChangeKind]int)
	for _, c := range changes {
		out[c.Kind]++
	}
	return out
}
