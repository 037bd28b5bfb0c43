package octree

import (
	"container/heap"

	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
)

// FindNearest returns approximately the maxCount objects nearest to point.
//
// Nodes are visited best first, ordered by the squared distance between point
// and the node center, not the node surface. Whole leaves are taken at once
// and objects within a node are not ranked, so the result can hold more than
// maxCount objects and is not sorted. Callers needing exact results must
// re-rank the returned candidates by true distance.
func (t *Tree) FindNearest(point geometry.Vector3f, maxCount int) []handle.Handle {
	if maxCount <= 0 {
		return nil
	}

	var res []handle.Handle
	queue := nodeQueue{}
	t.pushNode(&queue, rootIndex, point)

	for queue.Len() != 0 && len(res) < maxCount {
		item := heap.Pop(&queue).(queuedNode)
		n := &t.nodes[item.index]

		// Straddling objects of internal nodes are taken too, they would
		// be unreachable otherwise.
		for _, e := range n.objects {
			res = append(res, e.Handle)
		}

		if !n.isLeaf() {
			for c := n.children; c < n.children+8; c++ {
				t.pushNode(&queue, c, point)
			}
		}
	}

	return res
}

func (t *Tree) pushNode(q *nodeQueue, i int32, point geometry.Vector3f) {
	q.seq++
	heap.Push(q, queuedNode{
		index:    i,
		distance: geometry.Sub(t.nodes[i].bounds.Center(), point).LengthSquared(),
		seq:      q.seq,
	})
}

type queuedNode struct {
	index    int32
	distance float32
	seq      int
}

// nodeQueue is a min heap on distance. Ties are broken by push order to keep
// results deterministic.
type nodeQueue struct {
	items []queuedNode
	seq   int
}

func (q *nodeQueue) Len() int {
	return len(q.items)
}

func (q *nodeQueue) Less(i, j int) bool {
	if q.items[i].distance != q.items[j].distance {
		return q.items[i].distance < q.items[j].distance
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *nodeQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *nodeQueue) Push(x any) {
	q.items = append(q.items, x.(queuedNode))
}

func (q *nodeQueue) Pop() any {
	last := len(q.items) - 1
	item := q.items[last]
	q.items = q.items[:last]
	return item
}
