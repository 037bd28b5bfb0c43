package octree

import "github.com/aukilabs/sceneindex/geometry"

type DebugInfo struct {
	NodeCount   uint32        `json:"node_count"`
	LeafCount   uint32        `json:"leaf_count"`
	ObjectCount uint32        `json:"object_count"`
	MaxDepth    uint32        `json:"max_depth"`
	Bounds      geometry.AABB `json:"bounds"`

	// Number of objects stored at each depth.
	Occupancy []uint32 `json:"occupancy"`
}

func (t *Tree) GetDebugInfo() DebugInfo {
	result := DebugInfo{
		Bounds:    t.Bounds(),
		Occupancy: make([]uint32, MaxDepth+1),
	}
	t.collectDebugInfo(rootIndex, &result)
	return result
}

func (t *Tree) collectDebugInfo(i int32, info *DebugInfo) {
	n := &t.nodes[i]

	info.NodeCount++
	info.ObjectCount += (uint32)(len(n.objects))
	info.Occupancy[n.depth] += (uint32)(len(n.objects))
	if (uint32)(n.depth) > info.MaxDepth {
		info.MaxDepth = (uint32)(n.depth)
	}

	if n.isLeaf() {
		info.LeafCount++
		return
	}

	for c := n.children; c < n.children+8; c++ {
		t.collectDebugInfo(c, info)
	}
}
