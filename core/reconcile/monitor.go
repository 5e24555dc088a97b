package reconcile

import (
	"path/filepath"
	"strings"

	"localsync/core/localtree"

	"go.uber.org/zap"
)

// watchLoop turns watcher notifications into pending partial scans.
func (e *Engine) watchLoop() {
	for dir := range e.watcher.Dirs() {
		rel, ok := e.relative(dir)
		if !ok {
			continue
		}
		e.schedule(rel)
	}
}

// relative converts an absolute path below the root to a slash separated
// relative path.
func (e *Engine) relative(p string) (string, bool) {
	rel, err := filepath.Rel(e.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		rel = ""
	}
	return filepath.ToSlash(rel), true
}

// watchFolders subscribes to every scanned folder.
func (e *Engine) watchFolders(dirs []*localtree.Node) {
	if e.watcher == nil || !e.cfg.Watch {
		return
	}
	for _, d := range dirs {
		if !e.live(d) {
			continue
		}
		p := e.abs(e.tree.RelPath(d))
		if err := e.watcher.Add(p); err != nil {
			e.logger.Debug("Failed to watch folder", zap.String("path", p), zap.Error(err))
		}
	}
}
