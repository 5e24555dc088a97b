package localtree

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports directories whose content changed.
type Watcher struct {
	w      *fsnotify.Watcher
	dirs   chan string
	logger *zap.Logger
	stop   chan struct{}
	done   chan struct{}
}

// NewWatcher starts an fsnotify watcher. Directories must be added with Add.
func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		w:      fw,
		dirs:   make(chan string, 256),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add watches dir. Adding a directory twice is harmless.
func (w *Watcher) Add(dir string) error {
	return w.w.Add(dir)
}

// Remove stops watching dir.
func (w *Watcher) Remove(dir string) {
	_ = w.w.Remove(dir)
}

// Dirs delivers the parent directory of every changed path. A created
// directory is delivered itself as well so it gets scanned and watched.
func (w *Watcher) Dirs() <-chan string {
	return w.dirs
}

// Close stops the watcher and closes the Dirs channel.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.w.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.dirs)

	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.send(filepath.Dir(ev.Name)) {
				return
			}
			if ev.Has(fsnotify.Create) && !w.send(ev.Name) {
				return
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) send(dir string) bool {
	select {
	case w.dirs <- dir:
		return true
	case <-w.stop:
		return false
	}
}
