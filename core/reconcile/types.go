package reconcile

import (
	"errors"
	"fmt"
	"time"

	"localsync/core/codec"
	"localsync/core/localtree"
)

// State is the lifecycle state of a sync engine.
type State int

const (
	StateInitializing State = iota
	StateScanning
	StateMonitoring
	StateSuspended
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateScanning:
		return "scanning"
	case StateMonitoring:
		return "monitoring"
	case StateSuspended:
		return "suspended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateInitializing: {StateScanning, StateSuspended, StateFailed},
	StateScanning:     {StateMonitoring, StateSuspended, StateFailed},
	StateMonitoring:   {StateScanning, StateSuspended, StateFailed},
	StateSuspended:    {StateScanning, StateFailed},
	StateFailed:       {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidTransition is returned for a state change the machine forbids.
	ErrInvalidTransition = errors.New("reconcile: invalid state transition")
	// ErrRecordCorrupt marks a cache record that could not be decoded.
	ErrRecordCorrupt = errors.New("reconcile: corrupt cache record")
	// ErrStopped is returned by operations interrupted by Stop.
	ErrStopped = errors.New("reconcile: engine stopped")
	// ErrRemoteReadOnly is returned when the remote cannot be modified.
	ErrRemoteReadOnly = errors.New("reconcile: remote is read-only")
	// ErrRemoteChanged is returned when a remote file is no longer the
	// version a move or removal was meant for.
	ErrRemoteChanged = errors.New("reconcile: remote file changed")
	// ErrRemoteNotFound is returned when a remote file no longer exists.
	ErrRemoteNotFound = errors.New("reconcile: remote file not found")

	errSuspended = errors.New("reconcile: engine suspended")
)

// FilesystemIOError is a scan-level failure that moves the sync to Failed.
type FilesystemIOError struct {
	Path string
	Err  error
}

func (e *FilesystemIOError) Error() string {
	return fmt.Sprintf("filesystem error on %s: %v", e.Path, e.Err)
}

func (e *FilesystemIOError) Unwrap() error { return e.Err }

// EntryIOError is a per-entry failure that persisted after retrying.
type EntryIOError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *EntryIOError) Error() string {
	return fmt.Sprintf("entry %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *EntryIOError) Unwrap() error { return e.Err }

// Config holds the tunables of a sync engine.
type Config struct {
	// Root is the local directory being synced.
	Root string `mapstructure:"root" default:"~/Sync"`
	// ScanWorkers is the number of scanning threads.
	ScanWorkers int `mapstructure:"scan_workers" default:"4"`
	// BatchSize is the number of node mutations persisted per transaction.
	BatchSize int `mapstructure:"batch_size" default:"200"`
	// EntryRetries bounds how often an unreadable entry is examined again.
	EntryRetries int `mapstructure:"entry_retries" default:"3"`
	// RetryDelay is the pause before the first retry; it grows linearly.
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"100ms"`
	// IdleWait is how long the engine sleeps when there is nothing to do.
	IdleWait time.Duration `mapstructure:"idle_wait" default:"2s"`
	// RescanInterval forces a periodic full scan; zero disables it.
	RescanInterval time.Duration `mapstructure:"rescan_interval" default:"0s"`
	// RemoteTTL is how long a remote listing is reused.
	RemoteTTL time.Duration `mapstructure:"remote_ttl" default:"1m"`
	// RemoteRetry is the pause before a failed remote move or removal is
	// tried again.
	RemoteRetry time.Duration `mapstructure:"remote_retry" default:"30s"`
	// Watch enables filesystem notifications.
	Watch bool `mapstructure:"watch" default:"true"`
	// ConflictPolicy names the resolution applied to every conflict.
	ConflictPolicy string `mapstructure:"conflict_policy" default:"defer"`
}

func (c Config) withDefaults() Config {
	if c.ScanWorkers <= 0 {
		c.ScanWorkers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.EntryRetries < 0 {
		c.EntryRetries = 0
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 2 * time.Second
	}
	if c.RemoteRetry <= 0 {
		c.RemoteRetry = 30 * time.Second
	}
	return c
}

// RemoteEntry describes one node of the remote tree.
type RemoteEntry struct {
	Handle  codec.Handle `json:"handle"`
	Path    string       `json:"path"`
	Size    int64        `json:"size"`
	ModTime int64        `json:"mtime"`
	// Fingerprint is only meaningful when HasFingerprint is set.
	Fingerprint    localtree.Fingerprint `json:"-"`
	HasFingerprint bool                  `json:"-"`
}

// RemoteChange notifies the engine of a change on the remote side.
type RemoteChange struct {
	RemoteEntry
	Deleted bool
}

// Tombstone is a remote file whose local node was moved or removed while
// the remote still holds it at Path.
type Tombstone struct {
	Path   string       `json:"path"`
	Remote codec.Handle `json:"remote"`
	// MovedTo is the local path after a move; empty after a removal.
	MovedTo string `json:"moved_to,omitempty"`
}

// Resolution is the outcome of a conflict policy.
type Resolution int

const (
	// ResolveDefer leaves both sides untouched and reports the conflict.
	ResolveDefer Resolution = iota
	// ResolveKeepLocal uploads the local version.
	ResolveKeepLocal
	// ResolveKeepRemote downloads the remote version over the local one.
	ResolveKeepRemote
	// ResolveKeepBoth renames the local copy aside and downloads the remote.
	ResolveKeepBoth
)

func (r Resolution) String() string {
	switch r {
	case ResolveKeepLocal:
		return "keep_local"
	case ResolveKeepRemote:
		return "keep_remote"
	case ResolveKeepBoth:
		return "keep_both"
	default:
		return "defer"
	}
}

// ParseResolution maps a resolution name to its value.
func ParseResolution(name string) (Resolution, error) {
	for _, r := range []Resolution{ResolveDefer, ResolveKeepLocal, ResolveKeepRemote, ResolveKeepBoth} {
		if r.String() == name {
			return r, nil
		}
	}
	return ResolveDefer, fmt.Errorf("unknown conflict policy %q", name)
}

// Conflict is raised when both sides changed since they last agreed.
type Conflict struct {
	Path          string                `json:"path"`
	LocalSize     int64                 `json:"local_size"`
	LocalModTime  int64                 `json:"local_mtime"`
	LocalPrint    localtree.Fingerprint `json:"-"`
	Remote        RemoteEntry           `json:"remote"`
	RemoteDeleted bool                  `json:"remote_deleted"`
}

// Stats is a point in time summary of an engine.
type Stats struct {
	SyncID     string    `json:"sync_id"`
	Root       string    `json:"root"`
	State      string    `json:"state"`
	Cause      string    `json:"cause,omitempty"`
	Nodes      int       `json:"nodes"`
	QueuedGets int       `json:"queued_gets"`
	QueuedPuts int       `json:"queued_puts"`
	Generation uint64    `json:"generation"`
	LastScan   time.Time `json:"last_scan"`
	Conflicts  int       `json:"conflicts"`
}
