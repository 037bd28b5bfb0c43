package tracker

import (
	"time"

	"github.com/aukilabs/sceneindex/handle"
)

type pendingEntry struct {
	handle handle.Handle
	moved  time.Time
}

// queue is a growable ring buffer of pending entries.
type queue struct {
	items []pendingEntry
	head  int
	size  int
}

func (q *queue) Len() int {
	return q.size
}

func (q *queue) push(e pendingEntry) {
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = e
	q.size++
}

func (q *queue) pop() pendingEntry {
	e := q.items[q.head]
	q.items[q.head] = pendingEntry{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return e
}

func (q *queue) grow() {
	capacity := len(q.items) * 2
	if capacity == 0 {
		capacity = 16
	}

	items := make([]pendingEntry, capacity)
	for i := 0; i < q.size; i++ {
		items[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = items
	q.head = 0
}

func (q *queue) clone() queue {
	c := queue{
		items: make([]pendingEntry, len(q.items)),
		size:  q.size,
	}
	for i := 0; i < q.size; i++ {
		c.items[i] = q.items[(q.head+i)%len(q.items)]
	}
	return c
}
