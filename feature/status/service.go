package status

import (
	"context"
	"errors"
	"path"
	"strings"

	"localsync/core/localtree"
	"localsync/core/reconcile"
	"localsync/core/transfer"

	"go.uber.org/zap"
)

var (
	// ErrNoRemote is returned by Plan when the sync runs without a remote.
	ErrNoRemote = errors.New("status: no remote configured")
	// ErrBadPath is returned for rescan paths outside the sync root.
	ErrBadPath = errors.New("status: path escapes the sync root")
)

// Engine is the part of reconcile.Engine the status endpoints use.
type Engine interface {
	Stats() reconcile.Stats
	Tree() *localtree.Tree
	Queue() *transfer.Queue
	Suspend() error
	Resume() error
	Rescan(rel string)
}

// Service answers status queries about one sync.
type Service struct {
	engine Engine
	remote *reconcile.RemoteCache
	logger *zap.Logger
}

// NewService creates a new status service. remote may be nil.
func NewService(engine Engine, remote *reconcile.RemoteCache, logger *zap.Logger) *Service {
	return &Service{engine: engine, remote: remote, logger: logger}
}

// Stats returns the engine counters.
func (s *Service) Stats() reconcile.Stats {
	return s.engine.Stats()
}

// Transfers lists the queued and active transfers.
func (s *Service) Transfers() []transfer.Info {
	out := s.engine.Queue().Snapshot()
	if out == nil {
		out = []transfer.Info{}
	}
	return out
}

// Plan compares the local tree with a fresh remote listing.
func (s *Service) Plan(ctx context.Context) (*reconcile.Plan, error) {
	if s.remote == nil {
		return nil, ErrNoRemote
	}
	snap, err := s.remote.Get(ctx)
	if err != nil {
		return nil, err
	}
	return reconcile.BuildPlan(s.engine.Tree(), snap.Index), nil
}

// Suspend pauses the engine.
func (s *Service) Suspend() error {
	return s.engine.Suspend()
}

// Resume restarts a suspended engine.
func (s *Service) Resume() error {
	return s.engine.Resume()
}

// Rescan schedules a scan of rel, or of the whole tree when rel is empty.
func (s *Service) Rescan(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		s.engine.Rescan("")
		return "", nil
	}
	clean := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrBadPath
	}
	if clean == "." {
		s.engine.Rescan("")
		return "", nil
	}
	s.engine.Rescan(clean)
	return clean, nil
}
