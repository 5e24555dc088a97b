package transfer

import (
	"container/list"
	"errors"
	"time"

	"localsync/core/codec"
	"localsync/core/thread"
)

var (
	// ErrAlreadyQueued is returned when the same direction and target is
	// already queued or active.
	ErrAlreadyQueued = errors.New("transfer: already queued")
	// ErrInvalidState is returned for a transition the item's state does not
	// allow.
	ErrInvalidState = errors.New("transfer: invalid state transition")
	// ErrNotQueued is returned for items that are not in this queue.
	ErrNotQueued = errors.New("transfer: item not in queue")
)

type itemKey struct {
	dir    Direction
	target string
}

// Option configures a Queue.
type Option func(*Queue)

// WithListener sets the listener notified of transitions.
func WithListener(l Listener) Option {
	return func(q *Queue) {
		q.listener = l
	}
}

// Queue holds the pending transfers of one sync.
type Queue struct {
	mu       *thread.Mutex
	seq      uint64
	lists    [2]*list.List
	items    map[itemKey]*Item
	ready    *thread.Semaphore
	listener Listener
}

// NewQueue returns an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		mu:       thread.NewMutex(false),
		lists:    [2]*list.List{list.New(), list.New()},
		items:    make(map[itemKey]*Item),
		ready:    thread.NewSemaphore(),
		listener: NopListener{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetListener replaces the listener.
func (q *Queue) SetListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l == nil {
		l = NopListener{}
	}
	q.listener = l
}

func keyOf(it *Item) itemKey {
	return itemKey{dir: it.Direction, target: it.Target}
}

// Enqueue appends it to its direction's FIFO. Items restored from the cache
// keep their sequence number and are placed by it.
func (q *Queue) Enqueue(it *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.Direction != Get && it.Direction != Put {
		return ErrInvalidState
	}
	k := keyOf(it)
	if _, exists := q.items[k]; exists || it.elem != nil {
		return ErrAlreadyQueued
	}

	l := q.lists[it.Direction]
	if it.Seq == 0 {
		q.seq++
		it.Seq = q.seq
		it.elem = l.PushBack(it)
	} else {
		if it.Seq > q.seq {
			q.seq = it.Seq
		}
		at := l.Back()
		for at != nil && at.Value.(*Item).Seq > it.Seq {
			at = at.Prev()
		}
		if at == nil {
			it.elem = l.PushFront(it)
		} else {
			it.elem = l.InsertAfter(it, at)
		}
	}
	it.State = Queued
	it.Err = nil
	q.items[k] = it
	q.ready.Release()
	return nil
}

// Queued reports whether a transfer for dir and target is queued or active.
func (q *Queue) Queued(dir Direction, target string) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[itemKey{dir: dir, target: target}]
	return it, ok
}

// Next returns the oldest Queued item of dir, nil if there is none.
func (q *Queue) Next(dir Direction) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.lists[dir].Front(); e != nil; e = e.Next() {
		if it := e.Value.(*Item); it.State == Queued {
			return it
		}
	}
	return nil
}

// Wait blocks until an item was enqueued or timeout elapsed.
func (q *Queue) Wait(timeout time.Duration) bool {
	return q.ready.TimedWait(timeout)
}

// Start moves a Queued item to Active.
func (q *Queue) Start(it *Item) error {
	if err := q.transition(it, Queued, Active, false); err != nil {
		return err
	}
	q.notify(func(l Listener) { l.OnStart(it) })
	return nil
}

// Requeue moves an Active item back to Queued in its original position.
func (q *Queue) Requeue(it *Item) error {
	if err := q.transition(it, Active, Queued, false); err != nil {
		return err
	}
	q.ready.Release()
	return nil
}

// Update records the progress of an Active item.
func (q *Queue) Update(it *Item, progress int64) error {
	q.mu.Lock()
	if it.elem == nil || it.State != Active {
		q.mu.Unlock()
		return ErrInvalidState
	}
	it.Progress = progress
	q.mu.Unlock()

	q.notify(func(l Listener) { l.OnUpdate(it) })
	return nil
}

// AddChunkMAC records the tag of the chunk at pos of an Active item.
func (q *Queue) AddChunkMAC(it *Item, pos int64, mac codec.ChunkMAC) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.elem == nil || it.State != Active {
		return ErrInvalidState
	}
	it.ChunkMACs.Add(pos, mac)
	return nil
}

// SetRemote records the remote handle of an Active item.
func (q *Queue) SetRemote(it *Item, h codec.Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.elem == nil || it.State != Active {
		return ErrInvalidState
	}
	it.Remote = h
	return nil
}

// Serialize encodes it while no worker can change it.
func (q *Queue) Serialize(it *Item) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return it.Serialize()
}

// Completed marks an Active item as done and removes it from the queue.
func (q *Queue) Completed(it *Item) error {
	if err := q.transition(it, Active, Completed, true); err != nil {
		return err
	}
	q.mu.Lock()
	it.ChunkMACs.Reset()
	q.mu.Unlock()
	q.notify(func(l Listener) { l.OnComplete(it) })
	return nil
}

// Failed marks a Queued or Active item as failed and removes it.
func (q *Queue) Failed(it *Item, err error) error {
	q.mu.Lock()
	if it.elem == nil || (it.State != Active && it.State != Queued) {
		q.mu.Unlock()
		return ErrInvalidState
	}
	it.State = Failed
	it.Err = err
	q.unlink(it)
	q.mu.Unlock()

	q.notify(func(l Listener) { l.OnFail(it, err) })
	return nil
}

// Remove drops it from the queue whatever its state.
func (q *Queue) Remove(it *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.elem == nil {
		return ErrNotQueued
	}
	q.unlink(it)
	return nil
}

func (q *Queue) transition(it *Item, from, to State, remove bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.elem == nil {
		return ErrNotQueued
	}
	if it.State != from {
		return ErrInvalidState
	}
	it.State = to
	if remove {
		q.unlink(it)
	}
	return nil
}

func (q *Queue) unlink(it *Item) {
	q.lists[it.Direction].Remove(it.elem)
	it.elem = nil
	if q.items[keyOf(it)] == it {
		delete(q.items, keyOf(it))
	}
}

func (q *Queue) notify(fn func(Listener)) {
	q.mu.Lock()
	l := q.listener
	q.mu.Unlock()
	fn(l)
}

// Len returns the number of queued and active items of dir.
func (q *Queue) Len(dir Direction) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lists[dir].Len()
}

// Items returns the items of dir in FIFO order.
func (q *Queue) Items(dir Direction) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Item, 0, q.lists[dir].Len())
	for e := q.lists[dir].Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Item))
	}
	return out
}

// Snapshot returns copies of every item, gets first.
func (q *Queue) Snapshot() []Info {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Info
	for _, l := range q.lists {
		for e := l.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*Item).info())
		}
	}
	return out
}
