package objectstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"localsync/core/reconcile"

	"go.uber.org/zap"
)

// Notifier receives remote changes. reconcile.Engine implements it.
type Notifier interface {
	NotifyRemote(rc reconcile.RemoteChange)
}

// Poller lists the remote periodically and reports what changed between two
// listings. The first listing only sets the baseline.
type Poller struct {
	remote   reconcile.Remote
	notifier Notifier
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]reconcile.RemoteEntry
}

// NewPoller returns a poller reporting to notifier every interval.
func NewPoller(remote reconcile.Remote, notifier Notifier, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{remote: remote, notifier: notifier, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled. A non-positive interval disables
// polling.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Remote poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll lists the remote once and forwards the differences to the previous
// listing. It returns the number of changes reported.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	index, err := p.remote.List(ctx)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	prev := p.last
	p.last = index
	p.mu.Unlock()
	if prev == nil {
		return 0, nil
	}

	changes := Diff(prev, index)
	for _, rc := range changes {
		p.notifier.NotifyRemote(rc)
	}
	if len(changes) > 0 {
		p.logger.Info("Remote changed", zap.Int("changes", len(changes)))
	}
	return len(changes), nil
}

// Diff returns the changes that turn prev into next, ordered by path.
func Diff(prev, next map[string]reconcile.RemoteEntry) []reconcile.RemoteChange {
	var out []reconcile.RemoteChange
	for p, e := range next {
		if old, ok := prev[p]; !ok || old.Handle != e.Handle {
			out = append(out, reconcile.RemoteChange{RemoteEntry: e})
		}
	}
	for p, e := range prev {
		if _, ok := next[p]; !ok {
			out = append(out, reconcile.RemoteChange{RemoteEntry: e, Deleted: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
