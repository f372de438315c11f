package application

import (
	"sync"
	"time"
)

type queueEntry struct {
	id        string
	key       Key
	notBefore time.Time
}

// Queue is the FIFO submission queue. A pair is queued at most once and an
// entry is not handed out before its visibility time.
type Queue struct {
	mu    sync.Mutex
	items []queueEntry
	keys  map[Key]bool
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		keys:  make(map[Key]bool),
		ready: make(chan struct{}, 1),
	}
}

// Push appends an attempt to the back of the queue. It returns false when the
// pair is already queued.
func (q *Queue) Push(id string, key Key, notBefore time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.keys[key] {
		return false
	}
	q.keys[key] = true
	q.items = append(q.items, queueEntry{id: id, key: key, notBefore: notBefore})
	q.notify()
	return true
}

// Pop removes and returns the oldest entry visible at now.
func (q *Queue) Pop(now time.Time) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.notBefore.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		delete(q.keys, item.key)
		if len(q.items) > 0 {
			q.notify()
		}
		return item.id, true
	}
	return "", false
}

// Remove drops the entry of the pair if it is queued.
func (q *Queue) Remove(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.keys[key] {
		return false
	}
	for i, item := range q.items {
		if item.key == key {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.keys, key)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NextVisible returns the earliest visibility time among queued entries.
func (q *Queue) NextVisible() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		next  time.Time
		found bool
	)
	for _, item := range q.items {
		if !found || item.notBefore.Before(next) {
			next = item.notBefore
			found = true
		}
	}
	return next, found
}

// Ready is signalled whenever new work may be available.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
