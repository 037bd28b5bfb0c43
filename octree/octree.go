// Package octree implements the static part of the scene index: a
// hierarchical partition of a fixed volume where every node is either a leaf
// or has exactly 8 children.
//
// Nodes live in an arena and reference their children by index. The 8
// children of a node are always allocated together as one contiguous block,
// so a node can never be observed with only some of its children.
//
// The tree stores handles and the bounds they were inserted with. It never
// owns the objects the handles refer to.
package octree

import (
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
)

const (
	// The number of objects a leaf holds before being subdivided.
	MaxObjectsPerLeaf = 16

	// The depth from which leaves are never subdivided again and may hold
	// any number of objects.
	MaxDepth = 8

	rootIndex  = 0
	noChildren = -1
)

// Entry is an object stored in the tree with the bounds it was inserted with.
type Entry struct {
	Handle handle.Handle
	Bounds geometry.AABB
}

type node struct {
	bounds geometry.AABB
	depth  int

	// Index of the first of the 8 children, noChildren for leaves.
	children int32

	// Objects owned by a leaf, or straddling objects of an internal node.
	objects []Entry
}

func (n *node) isLeaf() bool {
	return n.children == noChildren
}

// Tree is an octree over a fixed volume.
type Tree struct {
	nodes []node
	free  []int32
}

// New creates a tree covering the given bounds.
func New(bounds geometry.AABB) *Tree {
	return &Tree{
		nodes: []node{newLeaf(bounds, 0)},
	}
}

func newLeaf(bounds geometry.AABB, depth int) node {
	return node{
		bounds:   bounds,
		depth:    depth,
		children: noChildren,
	}
}

// Bounds returns the volume covered by the tree.
func (t *Tree) Bounds() geometry.AABB {
	return t.nodes[rootIndex].bounds
}

// Insert adds an object to the tree. It returns false when the handle is nil
// or when the bounds do not intersect the tree volume.
func (t *Tree) Insert(h handle.Handle, bounds geometry.AABB) bool {
	if h.IsNil() {
		return false
	}
	return t.insert(rootIndex, Entry{Handle: h, Bounds: bounds})
}

func (t *Tree) insert(i int32, e Entry) bool {
	n := &t.nodes[i]
	if !n.bounds.Intersects(e.Bounds) {
		return false
	}

	if n.isLeaf() {
		if len(n.objects) < MaxObjectsPerLeaf || n.depth >= MaxDepth {
			n.objects = append(n.objects, e)
			return true
		}

		t.subdivide(i, e)
		return true
	}

	for c := n.children; c < n.children+8; c++ {
		if t.nodes[c].bounds.Contains(e.Bounds) {
			return t.insert(c, e)
		}
	}

	// straddles a split plane:
	n.objects = append(n.objects, e)
	return true
}

// subdivide turns the leaf i into an internal node and redistributes its
// objects, plus e, between its new children and its own list.
func (t *Tree) subdivide(i int32, e Entry) {
	objects := t.nodes[i].objects
	t.nodes[i].objects = nil

	// allocChildren can grow the arena, node pointers must not be kept
	// across it.
	t.nodes[i].children = t.allocChildren(i)

	for _, o := range objects {
		t.insert(i, o)
	}
	t.insert(i, e)
}

func (t *Tree) allocChildren(parent int32) int32 {
	bounds := t.nodes[parent].bounds
	depth := t.nodes[parent].depth + 1

	var first int32
	if n := len(t.free); n != 0 {
		first = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		first = int32(len(t.nodes))
		t.nodes = append(t.nodes, make([]node, 8)...)
	}

	for o := 0; o < 8; o++ {
		t.nodes[first+int32(o)] = newLeaf(bounds.Octant(o), depth)
	}
	return first
}

// Remove removes an object from the tree. It returns false when the object
// is not in the tree.
func (t *Tree) Remove(h handle.Handle) bool {
	if h.IsNil() {
		return false
	}
	return t.remove(rootIndex, h)
}

func (t *Tree) remove(i int32, h handle.Handle) bool {
	n := &t.nodes[i]
	if removeEntry(&n.objects, h) {
		return true
	}

	if n.isLeaf() {
		return false
	}

	for c := n.children; c < n.children+8; c++ {
		if t.remove(c, h) {
			t.tryMerge(i)
			return true
		}
	}
	return false
}

// removeEntry swaps the matching entry with the last one and drops it.
func removeEntry(objects *[]Entry, h handle.Handle) bool {
	list := *objects
	for i := range list {
		if list[i].Handle == h {
			last := len(list) - 1
			list[i] = list[last]
			list[last] = Entry{}
			*objects = list[:last]
			return true
		}
	}
	return false
}

// tryMerge turns the internal node i back into a leaf when all its children
// are leaves and the objects of the node and its children fit in one leaf.
func (t *Tree) tryMerge(i int32) {
	n := &t.nodes[i]
	if n.isLeaf() {
		return
	}

	total := len(n.objects)
	for c := n.children; c < n.children+8; c++ {
		if !t.nodes[c].isLeaf() {
			return
		}
		total += len(t.nodes[c].objects)
	}

	if total > MaxObjectsPerLeaf {
		return
	}

	for c := n.children; c < n.children+8; c++ {
		n.objects = append(n.objects, t.nodes[c].objects...)
		t.nodes[c] = newLeaf(geometry.AABB{}, 0)
	}

	t.free = append(t.free, n.children)
	n.children = noChildren
}

// GetAll appends every object of the tree to out, in pre-order.
func (t *Tree) GetAll(out []handle.Handle) []handle.Handle {
	return t.getAll(rootIndex, out)
}

func (t *Tree) getAll(i int32, out []handle.Handle) []handle.Handle {
	n := &t.nodes[i]
	for _, e := range n.objects {
		out = append(out, e.Handle)
	}

	if !n.isLeaf() {
		for c := n.children; c < n.children+8; c++ {
			out = t.getAll(c, out)
		}
	}
	return out
}

// Query appends to out the objects of every node whose bounds intersect
// shape. The result is a candidate set: objects are not tested against shape.
func (t *Tree) Query(shape geometry.Shape, out []handle.Handle) []handle.Handle {
	return t.query(rootIndex, shape, out)
}

func (t *Tree) query(i int32, shape geometry.Shape, out []handle.Handle) []handle.Handle {
	n := &t.nodes[i]
	if !shape.IntersectsAABB(n.bounds) {
		return out
	}

	for _, e := range n.objects {
		out = append(out, e.Handle)
	}

	if !n.isLeaf() {
		for c := n.children; c < n.children+8; c++ {
			out = t.query(c, shape, out)
		}
	}
	return out
}

// Len returns the number of objects in the tree.
func (t *Tree) Len() int {
	count := 0
	for i := range t.nodes {
		count += len(t.nodes[i].objects)
	}
	return count
}

// DeepCopy rebuilds target as a structural copy of the tree. Both trees
// share the same handles but no nodes.
func (t *Tree) DeepCopy(target *Tree) {
	target.nodes = append(target.nodes[:0], node{})
	target.free = target.free[:0]
	t.copyNode(rootIndex, target, rootIndex)
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	var c Tree
	t.DeepCopy(&c)
	return &c
}

func (t *Tree) copyNode(src int32, target *Tree, dst int32) {
	n := &t.nodes[src]

	target.nodes[dst] = node{
		bounds:   n.bounds,
		depth:    n.depth,
		children: noChildren,
		objects:  append([]Entry(nil), n.objects...),
	}

	if n.isLeaf() {
		return
	}

	first := target.allocChildren(dst)
	target.nodes[dst].children = first
	for o := int32(0); o < 8; o++ {
		t.copyNode(n.children+o, target, first+o)
	}
}
