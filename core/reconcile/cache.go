package reconcile

import (
	"context"
	"sync"
	"time"

	"localsync/core/codec"

	"golang.org/x/sync/singleflight"
)

// RemoteSnapshot is a listing of the remote tree taken at Built.
type RemoteSnapshot struct {
	// Index maps relative paths to remote entries.
	Index map[string]RemoteEntry
	Built time.Time
	TTL   time.Duration
}

// IsExpired returns true if the snapshot is older than its TTL.
func (s *RemoteSnapshot) IsExpired() bool {
	if s.TTL == 0 {
		return true
	}
	return time.Since(s.Built) > s.TTL
}

// RemoteCache shares remote listings between the engine and its observers.
type RemoteCache struct {
	remote Remote
	ttl    time.Duration

	mu   sync.RWMutex
	snap *RemoteSnapshot
	sf   singleflight.Group
}

// NewRemoteCache returns a cache over remote. A zero ttl lists on every call.
func NewRemoteCache(remote Remote, ttl time.Duration) *RemoteCache {
	return &RemoteCache{remote: remote, ttl: ttl}
}

// Get returns a fresh snapshot, listing the remote if needed. Concurrent
// callers share one listing.
func (c *RemoteCache) Get(ctx context.Context) (*RemoteSnapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && !snap.IsExpired() {
		return snap, nil
	}

	v, err, _ := c.sf.Do("remote", func() (any, error) {
		c.mu.RLock()
		snap := c.snap
		c.mu.RUnlock()
		if snap != nil && !snap.IsExpired() {
			return snap, nil
		}

		index, err := c.remote.List(ctx)
		if err != nil {
			return nil, err
		}
		snap = &RemoteSnapshot{Index: index, Built: time.Now(), TTL: c.ttl}

		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RemoteSnapshot), nil
}

// Invalidate drops the current snapshot.
func (c *RemoteCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// Mutable reports whether the remote can follow local moves and removals.
func (c *RemoteCache) Mutable() bool {
	_, ok := c.remote.(RemoteMutator)
	return ok
}

// Move renames the remote file from to to and returns the handle of the
// renamed file.
func (c *RemoteCache) Move(ctx context.Context, from, to string, h codec.Handle) (codec.Handle, error) {
	m, ok := c.remote.(RemoteMutator)
	if !ok {
		return codec.UndefHandle, ErrRemoteReadOnly
	}
	moved, err := m.Move(ctx, from, to, h)
	if err != nil {
		return codec.UndefHandle, err
	}
	c.Invalidate()
	return moved, nil
}

// Delete removes the remote file at p.
func (c *RemoteCache) Delete(ctx context.Context, p string, h codec.Handle) error {
	m, ok := c.remote.(RemoteMutator)
	if !ok {
		return ErrRemoteReadOnly
	}
	if err := m.Delete(ctx, p, h); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}
