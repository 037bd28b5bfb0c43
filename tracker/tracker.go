// Package tracker keeps objects that move too often to be kept in the static
// tree, and folds them back once they settle.
//
// The lastMoved map is authoritative. The FIFO queue may hold stale entries
// for an object (older timestamps, or objects no longer tracked); those are
// resolved when popped rather than compacted eagerly.
package tracker

import (
	"time"

	"github.com/aukilabs/sceneindex/handle"
)

// Outcome is the result of handing a settled object back to the tree.
type Outcome int

const (
	// The object is in the tree and no longer tracked.
	Inserted Outcome = iota

	// The object could not be inserted, usually because it lies outside
	// the tree. It stays tracked, parked until it moves again.
	Rejected

	// The object does not exist anymore. It is forgotten.
	Gone
)

// InsertFunc hands a settled object to the tree.
type InsertFunc func(h handle.Handle) Outcome

// PassStats summarizes a ProcessBudget call.
type PassStats struct {
	// Settled objects handed to the tree, credited against the budget.
	Processed int `json:"processed"`

	// Objects that could not be inserted and were parked. Included in
	// Processed.
	Parked int `json:"parked"`

	// Queue entries popped during the pass.
	Popped int `json:"popped"`

	// Entries re-pushed because the object moved since they were queued or
	// has not settled yet.
	Requeued int `json:"requeued"`

	// Orphaned entries and vanished objects.
	Dropped int `json:"dropped"`
}

type trackedObject struct {
	moved  time.Time
	parked bool
}

type Tracker struct {
	// The time an object must stay still before being folded back.
	SettleDelay time.Duration

	lastMoved map[handle.Handle]trackedObject
	pending   queue
}

func New(settleDelay time.Duration) *Tracker {
	return &Tracker{
		SettleDelay: settleDelay,
		lastMoved:   make(map[handle.Handle]trackedObject),
	}
}

// NotifyMoved records that h moved at now. Only untracked (or parked)
// objects get a new queue entry; tracked ones just get a fresher timestamp.
func (t *Tracker) NotifyMoved(h handle.Handle, now time.Time) {
	if h.IsNil() {
		return
	}

	if o, ok := t.lastMoved[h]; ok && !o.parked {
		o.moved = now
		t.lastMoved[h] = o
		return
	}

	t.lastMoved[h] = trackedObject{moved: now}
	t.pending.push(pendingEntry{handle: h, moved: now})
}

// NotifyRemoved stops tracking h. Its queue entries are dropped when popped.
func (t *Tracker) NotifyRemoved(h handle.Handle) {
	delete(t.lastMoved, h)
}

// ProcessBudget folds back up to maxCount settled objects with insert.
//
// Each entry present in the queue when the pass starts is popped at most
// once, so entries re-pushed during the pass wait for the next one. Entries
// that are dropped or re-pushed do not consume the budget.
func (t *Tracker) ProcessBudget(now time.Time, maxCount int, insert InsertFunc) PassStats {
	var stats PassStats
	if maxCount <= 0 {
		return stats
	}

	for n := t.pending.Len(); n > 0 && stats.Processed < maxCount; n-- {
		p := t.pending.pop()
		stats.Popped++

		o, ok := t.lastMoved[p.handle]
		if !ok || o.parked {
			stats.Dropped++
			continue
		}

		if !o.moved.Equal(p.moved) {
			// moved again since this entry was queued:
			t.pending.push(pendingEntry{handle: p.handle, moved: o.moved})
			stats.Requeued++
			continue
		}

		if !now.After(o.moved.Add(t.SettleDelay)) {
			// moved during the current frame, or too recently:
			t.pending.push(p)
			stats.Requeued++
			continue
		}

		switch insert(p.handle) {
		case Inserted:
			delete(t.lastMoved, p.handle)
			stats.Processed++

		case Rejected:
			o.parked = true
			t.lastMoved[p.handle] = o
			stats.Processed++
			stats.Parked++

		case Gone:
			delete(t.lastMoved, p.handle)
			stats.Dropped++
		}
	}

	return stats
}

// Contains reports whether h is tracked.
func (t *Tracker) Contains(h handle.Handle) bool {
	_, ok := t.lastMoved[h]
	return ok
}

// LastMoved returns the last time h was reported moving.
func (t *Tracker) LastMoved(h handle.Handle) (time.Time, bool) {
	o, ok := t.lastMoved[h]
	return o.moved, ok
}

// All appends every tracked object to out, parked ones included.
func (t *Tracker) All(out []handle.Handle) []handle.Handle {
	for h := range t.lastMoved {
		out = append(out, h)
	}
	return out
}

// Len returns the number of tracked objects.
func (t *Tracker) Len() int {
	return len(t.lastMoved)
}

// Pending returns the number of queue entries, stale ones included.
func (t *Tracker) Pending() int {
	return t.pending.Len()
}

func (t *Tracker) Clone() *Tracker {
	c := &Tracker{
		SettleDelay: t.SettleDelay,
		lastMoved:   make(map[handle.Handle]trackedObject, len(t.lastMoved)),
		pending:     t.pending.clone(),
	}
	for h, o := range t.lastMoved {
		c.lastMoved[h] = o
	}
	return c
}
