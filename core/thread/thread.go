package thread

import "sync"

// Thread runs one function on its own goroutine and can be joined.
type Thread struct {
	mu      sync.Mutex
	done    chan struct{}
	started bool
}

// Start runs fn(arg) on a new goroutine. It reports false if the thread was
// already started.
func (t *Thread) Start(fn func(arg any), arg any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return false
	}
	t.started = true
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		fn(arg)
	}()
	return true
}

// Join blocks until the started function returns. Joining a thread that was
// never started returns immediately.
func (t *Thread) Join() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Running reports whether the thread was started and has not yet finished.
func (t *Thread) Running() bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}
