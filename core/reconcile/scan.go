package reconcile

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"localsync/core/localtree"
	"localsync/core/metrics"
	"localsync/core/thread"

	"go.uber.org/zap"
)

type scanJob struct {
	node      *localtree.Node
	path      string
	recursive bool
}

type scanResult struct {
	job     scanJob
	entries []localtree.Entry
	err     error
}

type scanPool struct {
	jobs    chan scanJob
	results chan scanResult
	quit    chan struct{}
}

// batch accumulates what one scan did to the tree.
type batch struct {
	gen     uint64
	scanned []*localtree.Node
	changes []localtree.Change
	probes  []*localtree.Node
	queued  map[localtree.NodeID]bool
}

func (e *Engine) startPool() *scanPool {
	p := &scanPool{
		jobs:    make(chan scanJob),
		results: make(chan scanResult, e.cfg.ScanWorkers),
		quit:    make(chan struct{}),
	}
	threads := make([]*thread.Thread, e.cfg.ScanWorkers)
	for i := range threads {
		threads[i] = &thread.Thread{}
		threads[i].Start(e.scanWorker, p)
	}
	e.scanMu.Lock()
	e.scanPool = threads
	e.scanMu.Unlock()
	return p
}

func (e *Engine) stopPool(p *scanPool) {
	close(p.quit)
	close(p.jobs)

	e.scanMu.Lock()
	threads := e.scanPool
	e.scanPool = nil
	e.scanMu.Unlock()
	for _, t := range threads {
		t.Join()
	}
}

func (e *Engine) scanWorker(arg any) {
	p := arg.(*scanPool)
	for job := range p.jobs {
		entries, err := e.scanner.ReadDir(job.path)
		select {
		case p.results <- scanResult{job: job, entries: entries, err: err}:
		case <-p.quit:
			return
		}
	}
}

// scan reads the requested directories on the scanning threads and folds the
// listings into the tree. A full scan descends from the root; a partial scan
// only descends into folders it discovers.
func (e *Engine) scan(ctx context.Context, full bool, dirs []string) error {
	b := &batch{
		gen:    e.gen.Add(1),
		queued: make(map[localtree.NodeID]bool),
	}

	var jobs []scanJob
	if full {
		jobs = b.add(jobs, e.tree.Root(), e.root, true)
	} else {
		for _, d := range dirs {
			if n := e.nearestFolder(d); n != nil {
				jobs = b.add(jobs, n, e.abs(e.tree.RelPath(n)), false)
			}
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	err := e.drain(ctx, b, jobs)
	if err == nil {
		b.changes = append(b.changes, e.tree.Sweep(b.scanned, b.gen)...)
	}
	e.processChanges(b.changes, b.probes)
	e.resolveLinks()
	e.watchFolders(b.scanned)

	e.logger.Debug("Scan batch finished",
		zap.Bool("full", full),
		zap.Int("directories", len(b.scanned)),
		zap.Int("changes", len(b.changes)),
		zap.Error(err),
	)
	return err
}

func (b *batch) add(jobs []scanJob, n *localtree.Node, p string, recursive bool) []scanJob {
	if b.queued[n.ID] || !n.Syncable {
		return jobs
	}
	b.queued[n.ID] = true
	return append(jobs, scanJob{node: n, path: p, recursive: recursive})
}

func (e *Engine) drain(ctx context.Context, b *batch, jobs []scanJob) error {
	p := e.startPool()
	defer e.stopPool(p)

	outstanding := 0
	for len(jobs) > 0 || outstanding > 0 {
		if e.current() == StateSuspended {
			return errSuspended
		}

		var send chan scanJob
		var next scanJob
		if len(jobs) > 0 {
			send = p.jobs
			next = jobs[0]
		}

		select {
		case send <- next:
			jobs = jobs[1:]
			outstanding++
		case r := <-p.results:
			outstanding--
			more, err := e.absorb(b, r)
			if err != nil {
				return err
			}
			jobs = append(jobs, more...)
		case <-e.stop:
			return ErrStopped
		case <-ctx.Done():
			return ErrStopped
		}
	}
	return nil
}

// absorb applies one directory listing and returns the jobs it uncovers.
func (e *Engine) absorb(b *batch, r scanResult) ([]scanJob, error) {
	dir := r.job.node
	if cur, ok := e.tree.Node(dir.ID); !ok || cur != dir {
		return nil, nil
	}

	if r.err != nil {
		if errors.Is(r.err, fs.ErrNotExist) && dir != e.tree.Root() {
			// The directory vanished; its parent's listing removes it.
			if parent, ok := e.tree.Node(dir.Parent()); ok {
				return b.add(nil, parent, e.abs(e.tree.RelPath(parent)), false), nil
			}
			return nil, nil
		}
		return nil, &FilesystemIOError{Path: r.job.path, Err: r.err}
	}

	res := e.tree.Apply(dir, r.entries, b.gen)
	b.scanned = append(b.scanned, dir)
	b.changes = append(b.changes, res.Changes...)
	b.probes = append(b.probes, res.Probe...)
	if len(res.Failed) > 0 {
		e.retryEntries(b, dir, r.job.path, res.Failed)
	}

	var more []scanJob
	if r.job.recursive {
		for _, c := range e.tree.Children(dir) {
			if c.IsFolder() && c.SeenIn(b.gen) {
				more = b.add(more, c, filepath.Join(r.job.path, c.Name), true)
			}
		}
		return more, nil
	}
	for _, c := range res.Changes {
		if c.Kind == localtree.ChangeCreated && c.Node.IsFolder() {
			more = b.add(more, c.Node, filepath.Join(r.job.path, c.Node.Name), true)
		}
	}
	return more, nil
}

// retryEntries examines failed entries again with a growing delay. Entries
// that keep failing are flagged as reported.
func (e *Engine) retryEntries(b *batch, dir *localtree.Node, dirPath string, failed []localtree.Entry) {
	for _, f := range failed {
		if f.Name == "" {
			continue
		}
		p := filepath.Join(dirPath, f.Name)
		lastErr := f.Err
		resolved := false

		for attempt := 1; attempt <= e.cfg.EntryRetries && !resolved; attempt++ {
			if !e.sleep(time.Duration(attempt) * e.cfg.RetryDelay) {
				return
			}
			entry, err := e.scanner.Stat(p)
			switch {
			case errors.Is(err, fs.ErrNotExist), errors.Is(err, localtree.ErrNotSyncable):
				if n, ok := e.tree.Child(dir, f.Name); ok {
					b.changes = append(b.changes, e.removeNode(n))
				}
				resolved = true
			case err != nil:
				lastErr = err
			default:
				res := e.tree.Apply(dir, []localtree.Entry{entry}, b.gen)
				b.changes = append(b.changes, res.Changes...)
				b.probes = append(b.probes, res.Probe...)
				if len(res.Failed) > 0 {
					lastErr = res.Failed[0].Err
					attempt = e.cfg.EntryRetries
					continue
				}
				resolved = true
			}
		}
		if resolved {
			continue
		}

		if n, ok := e.tree.Child(dir, f.Name); ok {
			e.tree.Lock()
			n.Reported = true
			e.tree.Unlock()
		}
		ioErr := &EntryIOError{
			Path:     path.Join(e.tree.RelPath(dir), f.Name),
			Attempts: e.cfg.EntryRetries + 1,
			Err:      lastErr,
		}
		e.logger.Warn("Entry could not be examined", zap.String("path", ioErr.Path), zap.Error(lastErr))
		metrics.RecordEntryError(e.id)
		e.events.OnEntryError(ioErr)
	}
}

func (e *Engine) removeNode(n *localtree.Node) localtree.Change {
	old := e.tree.RelPath(n)
	return localtree.Change{Kind: localtree.ChangeRemoved, Node: n, OldPath: old, Subtree: e.tree.Remove(n)}
}

// sleep waits for d and reports false when the engine is stopping.
func (e *Engine) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stop:
		return false
	}
}

// nearestFolder resolves rel to the closest folder known to the tree.
func (e *Engine) nearestFolder(rel string) *localtree.Node {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	for {
		if n, ok := e.tree.Lookup(rel); ok {
			if n.IsFolder() {
				return n
			}
			p, _ := e.tree.Node(n.Parent())
			return p
		}
		if rel == "" || rel == "." {
			return e.tree.Root()
		}
		rel = path.Dir(rel)
		if rel == "." {
			rel = ""
		}
	}
}
