package reconcile

import (
	"context"

	"localsync/core/codec"
	"localsync/core/database"
	"localsync/core/localtree"
)

// Store persists the tree and the transfer queue. database.StateStore is the
// production implementation.
type Store interface {
	LoadNodes(ctx context.Context) ([]database.NodeRecord, error)
	Commit(ctx context.Context, b database.Batch) error
	LoadTransfers(ctx context.Context) ([]database.TransferRecord, error)
	ReplaceTransfers(ctx context.Context, records []database.TransferRecord) error
	LoadTombstones(ctx context.Context) ([]database.TombstoneRecord, error)
	ReplaceTombstones(ctx context.Context, records []database.TombstoneRecord) error
}

// Remote lists the remote tree. Keys of the returned map are slash separated
// paths relative to the sync root.
type Remote interface {
	List(ctx context.Context) (map[string]RemoteEntry, error)
}

// RemoteMutator is implemented by remotes that can follow local moves and
// removals. Both calls act only while the remote file is still the version
// h; otherwise they return ErrRemoteChanged, or ErrRemoteNotFound when the
// file is gone.
type RemoteMutator interface {
	Move(ctx context.Context, from, to string, h codec.Handle) (codec.Handle, error)
	Delete(ctx context.Context, path string, h codec.Handle) error
}

// Watcher delivers directories whose content changed.
type Watcher interface {
	Add(dir string) error
	Dirs() <-chan string
	Close() error
}

// ConflictPolicy decides how a conflict is settled.
type ConflictPolicy interface {
	Resolve(c Conflict) Resolution
}

// DeferPolicy reports every conflict and resolves none.
type DeferPolicy struct{}

func (DeferPolicy) Resolve(Conflict) Resolution { return ResolveDefer }

// FixedPolicy settles every conflict the same way.
type FixedPolicy Resolution

func (p FixedPolicy) Resolve(Conflict) Resolution { return Resolution(p) }

// PolicyFor returns the policy named by Config.ConflictPolicy.
func PolicyFor(name string) (ConflictPolicy, error) {
	r, err := ParseResolution(name)
	if err != nil {
		return nil, err
	}
	if r == ResolveDefer {
		return DeferPolicy{}, nil
	}
	return FixedPolicy(r), nil
}

// PolicyFunc adapts a function to ConflictPolicy.
type PolicyFunc func(c Conflict) Resolution

func (f PolicyFunc) Resolve(c Conflict) Resolution { return f(c) }

// Listener observes the engine. Embed NopListener to implement only the
// callbacks you need. Callbacks run on the engine thread.
type Listener interface {
	OnStateChange(from, to State, cause error)
	OnChange(c localtree.Change, path string)
	OnConflict(c Conflict)
	OnEntryError(err *EntryIOError)
}

// NopListener ignores every callback.
type NopListener struct{}

func (NopListener) OnStateChange(State, State, error) {}
func (NopListener) OnChange(localtree.Change, string) {}
func (NopListener) OnConflict(Conflict)               {}
func (NopListener) OnEntryError(*EntryIOError)        {}
