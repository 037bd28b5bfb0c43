package models

import "sync"

// SequentialIDGenerator issues small sequential ids. Released ids are reused,
// lowest first, so that ids stay compact.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	currentID   uint32
	reusableIDs []uint32
}

// New returns a sequential id.
func (g *SequentialIDGenerator) New() uint32 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if len(g.reusableIDs) != 0 {
		lowest := 0
		for i, id := range g.reusableIDs {
			if id < g.reusableIDs[lowest] {
				lowest = i
			}
		}

		id := g.reusableIDs[lowest]
		last := len(g.reusableIDs) - 1
		g.reusableIDs[lowest] = g.reusableIDs[last]
		g.reusableIDs = g.reusableIDs[:last]
		return id
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Ids never issued or already reusable
// are ignored.
func (g *SequentialIDGenerator) Reuse(id uint32) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}
	for _, reusable := range g.reusableIDs {
		if reusable == id {
			return
		}
	}

	g.reusableIDs = append(g.reusableIDs, id)
}
