package thread

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore starting at zero.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

// NewSemaphore returns a semaphore with no pending releases.
func NewSemaphore() *Semaphore {
	return &Semaphore{}
}

// Release increments the count, waking the oldest waiter if there is one.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		ch := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ch)
		return
	}
	s.count++
}

// Wait blocks until a release is available and consumes it.
func (s *Semaphore) Wait() {
	ch, ok := s.acquire()
	if ok {
		return
	}
	<-ch
}

// TimedWait waits at most timeout for a release. It reports whether a
// release was consumed.
func (s *Semaphore) TimedWait(timeout time.Duration) bool {
	ch, ok := s.acquire()
	if ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return false
		}
	}
	// Released between the timeout and re-locking.
	return true
}

func (s *Semaphore) acquire() (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count > 0 {
		s.count--
		return nil, true
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	return ch, false
}
