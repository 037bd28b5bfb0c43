package tracker

import (
	"testing"
	"time"

	"github.com/aukilabs/sceneindex/handle"
	"github.com/stretchr/testify/require"
)

var registry handle.Registry

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return t0.Add(time.Duration(seconds * float64(time.Second)))
}

// recorder is an InsertFunc keeping track of inserted handles.
type recorder struct {
	inserted []handle.Handle
	outcome  map[handle.Handle]Outcome
}

func (r *recorder) insert(h handle.Handle) Outcome {
	if o, ok := r.outcome[h]; ok {
		return o
	}
	r.inserted = append(r.inserted, h)
	return Inserted
}

func TestTrackerNotifyMoved(t *testing.T) {
	tr := New(0)
	a := registry.New()

	tr.NotifyMoved(a, at(0))
	require.True(t, tr.Contains(a))
	require.Equal(t, 1, tr.Pending())

	t.Run("moving again only refreshes the timestamp", func(t *testing.T) {
		tr.NotifyMoved(a, at(0.5))
		require.Equal(t, 1, tr.Pending())

		moved, ok := tr.LastMoved(a)
		require.True(t, ok)
		require.Equal(t, at(0.5), moved)
	})

	t.Run("nil handle is ignored", func(t *testing.T) {
		tr.NotifyMoved(handle.Nil, at(0))
		require.Equal(t, 1, tr.Len())
	})
}

func TestTrackerSettle(t *testing.T) {
	tr := New(0)
	a := registry.New()
	var r recorder

	tr.NotifyMoved(a, at(0))
	stats := tr.ProcessBudget(at(1), 1, r.insert)

	require.Equal(t, 1, stats.Processed)
	require.Equal(t, []handle.Handle{a}, r.inserted)
	require.False(t, tr.Contains(a))
	require.Zero(t, tr.Pending())
}

func TestTrackerStaleEntryIsRequeued(t *testing.T) {
	tr := New(0)
	a := registry.New()
	var r recorder

	tr.NotifyMoved(a, at(0))
	tr.NotifyMoved(a, at(0.5))

	stats := tr.ProcessBudget(at(1), 1, r.insert)
	require.Zero(t, stats.Processed)
	require.Equal(t, 1, stats.Requeued)
	require.Empty(t, r.inserted)
	require.True(t, tr.Contains(a))
	require.Equal(t, 1, tr.Pending())

	t.Run("requeued entry settles on the next pass", func(t *testing.T) {
		stats := tr.ProcessBudget(at(2), 1, r.insert)
		require.Equal(t, 1, stats.Processed)
		require.Equal(t, []handle.Handle{a}, r.inserted)
		require.False(t, tr.Contains(a))
	})
}

func TestTrackerThrashTolerance(t *testing.T) {
	tr := New(0)
	a := registry.New()
	var r recorder

	for frame := 0; frame < 100; frame++ {
		now := at(float64(frame) / 60)
		tr.NotifyMoved(a, now)
		tr.ProcessBudget(now, 10, r.insert)

		require.Empty(t, r.inserted)
		require.Contains(t, tr.All(nil), a)
		require.Equal(t, 1, tr.Pending())
	}

	// stops moving:
	tr.ProcessBudget(at(2), 10, r.insert)
	require.Equal(t, []handle.Handle{a}, r.inserted)
	require.Zero(t, tr.Len())
}

func TestTrackerSettleDelay(t *testing.T) {
	tr := New(time.Second)
	a := registry.New()
	var r recorder

	tr.NotifyMoved(a, at(0))
	require.Zero(t, tr.ProcessBudget(at(0.5), 1, r.insert).Processed)
	require.Zero(t, tr.ProcessBudget(at(1), 1, r.insert).Processed)
	require.Equal(t, 1, tr.ProcessBudget(at(1.5), 1, r.insert).Processed)
}

func TestTrackerBudget(t *testing.T) {
	tr := New(0)
	var r recorder

	orphans := make([]handle.Handle, 5)
	for i := range orphans {
		orphans[i] = registry.New()
		tr.NotifyMoved(orphans[i], at(0))
	}
	for _, h := range orphans {
		tr.NotifyRemoved(h)
	}

	settled := make([]handle.Handle, 5)
	for i := range settled {
		settled[i] = registry.New()
		tr.NotifyMoved(settled[i], at(0))
	}

	stats := tr.ProcessBudget(at(1), 2, r.insert)
	require.Equal(t, 2, stats.Processed)
	require.Equal(t, 5, stats.Dropped)
	require.Equal(t, 7, stats.Popped)
	require.Equal(t, settled[:2], r.inserted)
	require.Equal(t, 3, tr.Len())

	stats = tr.ProcessBudget(at(1), 10, r.insert)
	require.Equal(t, 3, stats.Processed)
	require.Equal(t, settled, r.inserted)
	require.Zero(t, tr.Len())
	require.Zero(t, tr.Pending())

	t.Run("zero budget does nothing", func(t *testing.T) {
		h := registry.New()
		tr.NotifyMoved(h, at(0))
		require.Equal(t, PassStats{}, tr.ProcessBudget(at(1), 0, r.insert))
		require.True(t, tr.Contains(h))
	})
}

func TestTrackerRejectedObjectIsParked(t *testing.T) {
	tr := New(0)
	a := registry.New()
	r := recorder{outcome: map[handle.Handle]Outcome{a: Rejected}}

	tr.NotifyMoved(a, at(0))
	stats := tr.ProcessBudget(at(1), 1, r.insert)
	require.Equal(t, 1, stats.Processed)
	require.Equal(t, 1, stats.Parked)
	require.True(t, tr.Contains(a))
	require.Zero(t, tr.Pending())

	t.Run("parked object is not retried until it moves", func(t *testing.T) {
		require.Zero(t, tr.ProcessBudget(at(2), 1, r.insert).Popped)
	})

	t.Run("moving unparks", func(t *testing.T) {
		delete(r.outcome, a)
		tr.NotifyMoved(a, at(3))
		require.Equal(t, 1, tr.Pending())

		require.Equal(t, 1, tr.ProcessBudget(at(4), 1, r.insert).Processed)
		require.Equal(t, []handle.Handle{a}, r.inserted)
		require.False(t, tr.Contains(a))
	})
}

func TestTrackerGoneObjectIsDropped(t *testing.T) {
	tr := New(0)
	a := registry.New()
	r := recorder{outcome: map[handle.Handle]Outcome{a: Gone}}

	tr.NotifyMoved(a, at(0))
	stats := tr.ProcessBudget(at(1), 1, r.insert)
	require.Zero(t, stats.Processed)
	require.Equal(t, 1, stats.Dropped)
	require.False(t, tr.Contains(a))
}

func TestTrackerRemovedThenMovedAgain(t *testing.T) {
	tr := New(0)
	a := registry.New()
	var r recorder

	tr.NotifyMoved(a, at(0))
	tr.NotifyRemoved(a)
	tr.NotifyMoved(a, at(0.5))
	require.Equal(t, 2, tr.Pending())

	tr.ProcessBudget(at(1), 10, r.insert)
	tr.ProcessBudget(at(2), 10, r.insert)
	require.Equal(t, []handle.Handle{a}, r.inserted)
	require.Zero(t, tr.Pending())
}

func TestTrackerClone(t *testing.T) {
	tr := New(0)
	a := registry.New()
	tr.NotifyMoved(a, at(0))

	c := tr.Clone()
	var r recorder
	c.ProcessBudget(at(1), 1, r.insert)

	require.False(t, c.Contains(a))
	require.True(t, tr.Contains(a))
	require.Equal(t, 1, tr.Pending())
}

func TestQueueWraps(t *testing.T) {
	var q queue
	next := 0
	expected := 0

	for round := 0; round < 10; round++ {
		for i := 0; i < 13; i++ {
			q.push(pendingEntry{handle: handle.Handle{Index: uint32(next), Generation: 1}})
			next++
		}
		for i := 0; i < 7; i++ {
			require.Equal(t, uint32(expected), q.pop().handle.Index)
			expected++
		}
	}
	require.Equal(t, next-expected, q.Len())

	c := q.clone()
	for q.Len() != 0 {
		require.Equal(t, q.pop(), c.pop())
	}
}
