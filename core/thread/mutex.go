package thread

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Mutex is a lock that may be taken recursively by its holder when created
// with recursive set. A plain Mutex behaves like sync.Mutex.
type Mutex struct {
	recursive bool

	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

// NewMutex returns an unlocked mutex.
func NewMutex(recursive bool) *Mutex {
	m := &Mutex{recursive: recursive}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the mutex. A recursive mutex already held by the calling
// goroutine is re-entered.
func (m *Mutex) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recursive {
		for m.depth > 0 {
			m.cond.Wait()
		}
		m.depth = 1
		return
	}

	id := goroutineID()
	for m.depth > 0 && m.owner != id {
		m.cond.Wait()
	}
	m.owner = id
	m.depth++
}

// Unlock releases one level of ownership.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.depth == 0 {
		panic("thread: unlock of unlocked mutex")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.cond.Signal()
	}
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the current goroutine id from the runtime stack header.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
