package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"localsync/core/codec"
	"localsync/core/localtree"
	"localsync/core/logger"
	"localsync/core/metrics"
	"localsync/core/thread"
	"localsync/core/transfer"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Deps are the collaborators of an Engine. Fs and Store are required.
type Deps struct {
	Fs       afero.Fs
	Identity localtree.IdentityFunc
	Store    Store
	// Queue receives the transfers the engine schedules. The engine installs
	// itself as the queue's listener.
	Queue *transfer.Queue
	// Remote is optional; without it the engine only tracks local changes.
	Remote   *RemoteCache
	Watcher  Watcher
	Policy   ConflictPolicy
	Listener Listener
	Logger   *zap.Logger
}

// Engine mirrors one local directory. A single engine thread owns the tree
// and drives scans; scanning threads only read directories.
type Engine struct {
	id      string
	cfg     Config
	root    string
	fs      afero.Fs
	scanner *localtree.Scanner
	tree    *localtree.Tree
	queue   *transfer.Queue
	store   Store
	remote  *RemoteCache
	watcher Watcher
	policy  ConflictPolicy
	events  Listener
	logger  *zap.Logger

	main     thread.Thread
	watchThr thread.Thread
	wake     *thread.Semaphore
	stop     chan struct{}
	stopOnce sync.Once
	scanMu   sync.Mutex
	scanPool []*thread.Thread
	gen      atomic.Uint64

	mu        sync.Mutex
	state     State
	cause     error
	full      bool
	pending   map[string]struct{}
	remoteQ   []RemoteChange
	finished  []*transfer.Item
	lastScan  time.Time
	conflicts int

	// Owned by the engine thread.
	nextRow    uint32
	dirty      map[localtree.NodeID]*localtree.Node
	deleted    []uint32
	queueDirty bool
	links      map[string]codec.Handle
	reput      map[string]bool
	synced     bool
	lastFull   time.Time
	tombstones map[string]Tombstone
	tombDirty  bool
	tombRetry  time.Time
}

// New builds an engine for syncID. Nothing runs until Start.
func New(syncID string, cfg Config, deps Deps) (*Engine, error) {
	if deps.Fs == nil || deps.Store == nil {
		return nil, errors.New("reconcile: filesystem and store are required")
	}
	root, err := homedir.Expand(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to expand sync root: %w", err)
	}
	root = filepath.Clean(root)

	if deps.Queue == nil {
		deps.Queue = transfer.NewQueue()
	}
	if deps.Policy == nil {
		deps.Policy = DeferPolicy{}
	}
	if deps.Listener == nil {
		deps.Listener = NopListener{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := &Engine{
		id:      syncID,
		cfg:     cfg.withDefaults(),
		root:    root,
		fs:      deps.Fs,
		scanner: localtree.NewScanner(deps.Fs, deps.Identity),
		tree:    localtree.New(filepath.Base(root)),
		queue:   deps.Queue,
		store:   deps.Store,
		remote:  deps.Remote,
		watcher: deps.Watcher,
		policy:  deps.Policy,
		events:  deps.Listener,
		logger:  logger.WithSync(deps.Logger, syncID, root),
		wake:    thread.NewSemaphore(),
		stop:    make(chan struct{}),
		state:   StateInitializing,
		pending: make(map[string]struct{}),
		nextRow: 1,
		dirty:   make(map[localtree.NodeID]*localtree.Node),
		links:   make(map[string]codec.Handle),
		reput:   make(map[string]bool),

		tombstones: make(map[string]Tombstone),
	}
	e.queue.SetListener(queueObserver{e: e})
	metrics.SetState(e.id, e.state.String())
	return e, nil
}

// ID returns the sync id.
func (e *Engine) ID() string { return e.id }

// Root returns the absolute local root.
func (e *Engine) Root() string { return e.root }

// Tree returns the local tree. Hold Tree().Lock while reading it.
func (e *Engine) Tree() *localtree.Tree { return e.tree }

// Queue returns the transfer queue.
func (e *Engine) Queue() *transfer.Queue { return e.queue }

// Start launches the engine thread.
func (e *Engine) Start(ctx context.Context) error {
	if !e.main.Start(func(arg any) { e.run(arg.(context.Context)) }, ctx) {
		return errors.New("reconcile: engine already started")
	}
	if e.watcher != nil && e.cfg.Watch {
		e.watchThr.Start(func(any) { e.watchLoop() }, nil)
	}
	return nil
}

// Run starts the engine and blocks until ctx is done or the sync fails. The
// engine is stopped on return; the error is the failure cause, if any.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		e.main.Join()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	e.Stop()

	if s, cause := e.State(); s == StateFailed {
		return cause
	}
	return nil
}

// Stop ends the engine and waits for every thread it started. Pending
// changes are flushed to the store.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		e.wake.Release()
		if e.watcher != nil {
			if err := e.watcher.Close(); err != nil {
				e.logger.Warn("Failed to close watcher", zap.Error(err))
			}
		}
	})
	e.main.Join()
	e.watchThr.Join()

	e.scanMu.Lock()
	pool := e.scanPool
	e.scanMu.Unlock()
	for _, t := range pool {
		t.Join()
	}
}

// State returns the current state and, when Failed, its cause.
func (e *Engine) State() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.cause
}

// Suspend pauses scanning. Changes observed meanwhile are kept and scanned
// after Resume.
func (e *Engine) Suspend() error {
	if err := e.enter(StateSuspended, nil); err != nil {
		return err
	}
	e.wake.Release()
	return nil
}

// Resume leaves Suspended and schedules a full scan.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StateSuspended {
		e.mu.Unlock()
		return ErrInvalidTransition
	}
	e.full = true
	e.mu.Unlock()

	if err := e.enter(StateScanning, nil); err != nil {
		return err
	}
	e.wake.Release()
	return nil
}

// NotifyRemote hands a remote change to the engine thread.
func (e *Engine) NotifyRemote(rc RemoteChange) {
	e.mu.Lock()
	e.remoteQ = append(e.remoteQ, rc)
	e.mu.Unlock()
	e.wake.Release()
}

// Rescan schedules a scan of rel, or a full scan when rel is empty.
func (e *Engine) Rescan(rel string) {
	if rel == "" {
		e.mu.Lock()
		e.full = true
		e.mu.Unlock()
		e.wake.Release()
		return
	}
	e.schedule(rel)
}

// schedule queues a partial scan of the folder holding rel.
func (e *Engine) schedule(rel string) {
	e.mu.Lock()
	e.pending[filepath.ToSlash(rel)] = struct{}{}
	e.mu.Unlock()
	e.wake.Release()
}

// Stats summarizes the engine.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		SyncID:    e.id,
		Root:      e.root,
		State:     e.state.String(),
		LastScan:  e.lastScan,
		Conflicts: e.conflicts,
	}
	if e.cause != nil {
		s.Cause = e.cause.Error()
	}
	e.mu.Unlock()

	s.Nodes = e.tree.Len()
	s.QueuedGets = e.queue.Len(transfer.Get)
	s.QueuedPuts = e.queue.Len(transfer.Put)
	s.Generation = e.gen.Load()
	return s
}

// enter validates and performs a state change. Entering the current state is
// a no-op.
func (e *Engine) enter(to State, cause error) error {
	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	e.state = to
	if to == StateFailed {
		e.cause = cause
	}
	e.mu.Unlock()

	metrics.SetState(e.id, to.String())
	e.logger.Info("Sync state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Error(cause),
	)
	e.events.OnStateChange(from, to, cause)
	return nil
}

func (e *Engine) fail(err error) {
	if ferr := e.enter(StateFailed, err); ferr != nil {
		e.logger.Error("Failed to enter failed state", zap.Error(ferr), zap.NamedError("cause", err))
	}
}

func (e *Engine) current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) stopped(ctx context.Context) bool {
	select {
	case <-e.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.shutdown()

	if err := e.initialize(ctx); err != nil {
		e.fail(err)
		return
	}
	e.Rescan("")

	for !e.stopped(ctx) {
		busy := e.step(ctx)
		if e.current() == StateFailed {
			return
		}
		if !busy {
			e.wake.TimedWait(e.cfg.IdleWait)
		}
	}
}

// step performs one round of work and reports whether it did anything.
func (e *Engine) step(ctx context.Context) bool {
	busy := e.processFinished()

	if e.current() != StateSuspended {
		if e.cfg.RescanInterval > 0 && !e.lastFull.IsZero() && time.Since(e.lastFull) >= e.cfg.RescanInterval {
			e.Rescan("")
		}
		full, dirs := e.takeScanWork()
		if full || len(dirs) > 0 {
			busy = true
			if err := e.runScan(ctx, full, dirs); err != nil {
				e.fail(err)
				return true
			}
		}
		if e.processRemote(ctx) {
			busy = true
		}
		if e.processTombstones(ctx) {
			busy = true
		}
	}

	if err := e.flush(ctx); err != nil {
		e.fail(err)
		return true
	}
	if err := e.persistTransfers(ctx); err != nil {
		e.logger.Warn("Failed to persist transfer queue", zap.Error(err))
	}
	if err := e.persistTombstones(ctx); err != nil {
		e.logger.Warn("Failed to persist tombstones", zap.Error(err))
	}
	metrics.SetTreeSize(e.id, e.tree.Len())
	metrics.SetQueueDepth(transfer.Get.String(), e.queue.Len(transfer.Get))
	metrics.SetQueueDepth(transfer.Put.String(), e.queue.Len(transfer.Put))
	return busy
}

func (e *Engine) takeScanWork() (bool, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	full := e.full
	e.full = false
	var dirs []string
	if !full {
		for d := range e.pending {
			dirs = append(dirs, d)
		}
	}
	e.pending = make(map[string]struct{})
	return full, dirs
}

func (e *Engine) requeueScanWork(full bool, dirs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if full {
		e.full = true
	}
	for _, d := range dirs {
		e.pending[d] = struct{}{}
	}
}

// runScan wraps a scan batch with the state transitions around it.
func (e *Engine) runScan(ctx context.Context, full bool, dirs []string) error {
	if !e.beginScan() {
		e.requeueScanWork(full, dirs)
		return nil
	}

	started := time.Now()
	err := e.scan(ctx, full, dirs)
	switch {
	case errors.Is(err, errSuspended):
		e.requeueScanWork(full, dirs)
		return nil
	case errors.Is(err, ErrStopped):
		return nil
	case err != nil:
		return err
	}
	metrics.RecordScan(e.id, full, time.Since(started))

	e.mu.Lock()
	e.lastScan = time.Now()
	e.mu.Unlock()
	if full {
		e.lastFull = time.Now()
	}

	if full && !e.synced && e.remote != nil {
		if err := e.initialSync(ctx); err != nil {
			e.logger.Warn("Failed to compare with remote", zap.Error(err))
		} else {
			e.synced = true
		}
	}
	e.endScan()
	return nil
}

// beginScan moves to Scanning unless the engine is suspended or failed.
func (e *Engine) beginScan() bool {
	switch e.current() {
	case StateSuspended, StateFailed:
		return false
	case StateScanning:
		return true
	}
	return e.enter(StateScanning, nil) == nil
}

func (e *Engine) endScan() {
	if e.current() == StateScanning {
		_ = e.enter(StateMonitoring, nil)
	}
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.flush(ctx); err != nil {
		e.logger.Error("Failed to flush cache on shutdown", zap.Error(err))
	}
	e.queueDirty = true
	if err := e.persistTransfers(ctx); err != nil {
		e.logger.Error("Failed to persist transfers on shutdown", zap.Error(err))
	}
	if err := e.persistTombstones(ctx); err != nil {
		e.logger.Error("Failed to persist tombstones on shutdown", zap.Error(err))
	}
}

func (e *Engine) abs(rel string) string {
	if rel == "" {
		return e.root
	}
	return filepath.Join(e.root, filepath.FromSlash(rel))
}
