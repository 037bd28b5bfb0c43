// Package sceneindex composes the static octree and the dynamic object
// tracker behind the single contract used by the rest of the engine.
//
// An Index is not safe for concurrent use. Hosts calling it from several
// goroutines must serialize every call.
package sceneindex

import (
	"sort"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/octree"
	"github.com/aukilabs/sceneindex/tracker"
)

const (
	// The maximum number of settled objects folded back per frame.
	DefaultFrameBudget = 64

	ErrTypeNilHandle     = "nil_handle"
	ErrTypeStaleHandle   = "stale_handle"
	ErrTypeInvalidBounds = "invalid_bounds"
)

// Objects is the scene graph side of the index. The index only stores
// handles and asks for bounds when it needs them.
type Objects interface {
	// Returns the current bounds of the object referred by h, or false when
	// h does not refer to a live object anymore.
	Bounds(h handle.Handle) (geometry.AABB, bool)
}

type Option func(*Index)

func WithFrameBudget(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.frameBudget = n
		}
	}
}

// WithSettleDelay sets how long an object must stay still before being
// folded back into the tree.
func WithSettleDelay(d time.Duration) Option {
	return func(x *Index) {
		x.tracker.SettleDelay = d
	}
}

// WithImmediateReindex makes OnTransformChanged reinsert objects right away
// instead of deferring them to the frame maintenance pass.
func WithImmediateReindex(v bool) Option {
	return func(x *Index) {
		x.immediateReindex = v
	}
}

// WithName sets the name used in logs.
func WithName(name string) Option {
	return func(x *Index) {
		x.name = name
	}
}

type Index struct {
	objects Objects
	tree    *octree.Tree
	tracker *tracker.Tracker

	// Objects flagged as always dynamic. They never enter the tree.
	dynamic map[handle.Handle]struct{}

	frameBudget      int
	immediateReindex bool
	name             string
}

// New creates an index whose static tree covers bounds.
func New(bounds geometry.AABB, objects Objects, options ...Option) *Index {
	x := &Index{
		objects:     objects,
		tree:        octree.New(bounds),
		tracker:     tracker.New(0),
		dynamic:     make(map[handle.Handle]struct{}),
		frameBudget: DefaultFrameBudget,
	}

	for _, o := range options {
		o(x)
	}
	return x
}

func (x *Index) Bounds() geometry.AABB {
	return x.tree.Bounds()
}

func (x *Index) FrameBudget() int {
	return x.frameBudget
}

// Register adds an object to the index. Objects outside the static tree are
// tracked as moving objects so they stay queryable. Registering an object
// twice replaces its previous registration.
func (x *Index) Register(h handle.Handle, now time.Time) error {
	b, err := x.objectBounds(h)
	if err != nil {
		return err
	}
	x.Unregister(h)

	if x.tree.Insert(h, b) {
		return nil
	}

	logs.WithTag("index", x.name).
		WithTag("handle", h.String()).
		Debug("object registered outside of the static tree")
	instrumentOutOfBounds()

	x.tracker.NotifyMoved(h, now)
	return nil
}

// RegisterDynamic adds an object that is expected to move all the time. It
// never enters the tree and is always part of query candidates.
func (x *Index) RegisterDynamic(h handle.Handle) error {
	if _, err := x.objectBounds(h); err != nil {
		return err
	}
	x.Unregister(h)

	x.dynamic[h] = struct{}{}
	return nil
}

// Unregister removes an object from the index, whichever store holds it. It
// must be called before the object is destroyed. It returns false when the
// object was not indexed.
func (x *Index) Unregister(h handle.Handle) bool {
	removed := x.tree.Remove(h)

	if x.tracker.Contains(h) {
		removed = true
	}
	x.tracker.NotifyRemoved(h)

	if _, ok := x.dynamic[h]; ok {
		delete(x.dynamic, h)
		removed = true
	}
	return removed
}

// OnTransformChanged takes an object out of the tree and defers its
// reinsertion until it settles.
func (x *Index) OnTransformChanged(h handle.Handle, now time.Time) error {
	if h.IsNil() {
		return errors.New("nil handle").WithType(ErrTypeNilHandle)
	}

	if _, ok := x.dynamic[h]; ok {
		return nil
	}

	x.tree.Remove(h)

	if x.immediateReindex {
		if b, ok := x.objects.Bounds(h); ok && x.tree.Insert(h, b) {
			x.tracker.NotifyRemoved(h)
			return nil
		}
	}

	x.tracker.NotifyMoved(h, now)
	return nil
}

// PerFrameTick runs the bounded maintenance pass. It must be called once per
// frame, after the frame mutations and before the frame queries.
func (x *Index) PerFrameTick(now time.Time) tracker.PassStats {
	start := time.Now()

	stats := x.tracker.ProcessBudget(now, x.frameBudget, x.reinsert)
	instrumentPass(stats, time.Since(start))

	if stats.Popped != 0 {
		logs.WithTag("index", x.name).
			WithTag("processed", stats.Processed).
			WithTag("parked", stats.Parked).
			WithTag("requeued", stats.Requeued).
			WithTag("dropped", stats.Dropped).
			WithTag("tracked", x.tracker.Len()).
			Debug("frame maintenance pass")
	}
	return stats
}

func (x *Index) reinsert(h handle.Handle) tracker.Outcome {
	b, ok := x.objects.Bounds(h)
	if !ok {
		return tracker.Gone
	}

	if !x.tree.Insert(h, b) {
		return tracker.Rejected
	}
	return tracker.Inserted
}

// QueryCandidates returns the objects from tree nodes intersecting shape and
// every moving or dynamic object. Handles to objects that no longer exist are
// left out. Callers are responsible for the exact test against shape.
func (x *Index) QueryCandidates(shape geometry.Shape) []handle.Handle {
	res := x.tree.Query(shape, nil)
	res = x.tracker.All(res)
	for h := range x.dynamic {
		res = append(res, h)
	}
	return x.filterAlive(res)
}

// FindNearest returns approximately the maxCount objects of the tree nearest
// to point. See octree.Tree.FindNearest.
func (x *Index) FindNearest(point geometry.Vector3f, maxCount int) []handle.Handle {
	return x.filterAlive(x.tree.FindNearest(point, maxCount))
}

// NearestExact returns at most maxCount objects sorted by their distance to
// point. Candidates come from FindNearest plus moving and dynamic objects and
// are ranked by their true bounds.
func (x *Index) NearestExact(point geometry.Vector3f, maxCount int) []handle.Handle {
	if maxCount <= 0 {
		return nil
	}

	candidates := x.tree.FindNearest(point, maxCount)
	candidates = x.tracker.All(candidates)
	for h := range x.dynamic {
		candidates = append(candidates, h)
	}

	type ranked struct {
		handle   handle.Handle
		distance float32
	}

	rankedCandidates := make([]ranked, 0, len(candidates))
	for _, h := range candidates {
		b, ok := x.objects.Bounds(h)
		if !ok {
			instrumentStaleHandle()
			continue
		}
		rankedCandidates = append(rankedCandidates, ranked{
			handle:   h,
			distance: b.DistanceSquaredToPoint(point),
		})
	}

	sort.Slice(rankedCandidates, func(i, j int) bool {
		if rankedCandidates[i].distance != rankedCandidates[j].distance {
			return rankedCandidates[i].distance < rankedCandidates[j].distance
		}
		return rankedCandidates[i].handle.Uint64() < rankedCandidates[j].handle.Uint64()
	})

	if len(rankedCandidates) > maxCount {
		rankedCandidates = rankedCandidates[:maxCount]
	}

	res := make([]handle.Handle, len(rankedCandidates))
	for i, c := range rankedCandidates {
		res[i] = c.handle
	}
	return res
}

// Indexed returns every object held by the static tree.
func (x *Index) Indexed() []handle.Handle {
	return x.tree.GetAll(nil)
}

// Moving returns every object currently tracked as moving.
func (x *Index) Moving() []handle.Handle {
	return x.tracker.All(nil)
}

func (x *Index) IsMoving(h handle.Handle) bool {
	return x.tracker.Contains(h)
}

func (x *Index) IsDynamic(h handle.Handle) bool {
	_, ok := x.dynamic[h]
	return ok
}

// Clone returns an independent index holding the same handles, resolved
// with objects. It is used to fork a scene into an isolated session.
func (x *Index) Clone(objects Objects) *Index {
	c := &Index{
		objects:          objects,
		tree:             x.tree.Clone(),
		tracker:          x.tracker.Clone(),
		dynamic:          make(map[handle.Handle]struct{}, len(x.dynamic)),
		frameBudget:      x.frameBudget,
		immediateReindex: x.immediateReindex,
		name:             x.name,
	}
	for h := range x.dynamic {
		c.dynamic[h] = struct{}{}
	}
	return c
}

type DebugInfo struct {
	Tree    octree.DebugInfo `json:"tree"`
	Moving  int              `json:"moving"`
	Pending int              `json:"pending"`
	Dynamic int              `json:"dynamic"`
}

func (x *Index) GetDebugInfo() DebugInfo {
	return DebugInfo{
		Tree:    x.tree.GetDebugInfo(),
		Moving:  x.tracker.Len(),
		Pending: x.tracker.Pending(),
		Dynamic: len(x.dynamic),
	}
}

func (x *Index) objectBounds(h handle.Handle) (geometry.AABB, error) {
	if h.IsNil() {
		return geometry.AABB{}, errors.New("nil handle").WithType(ErrTypeNilHandle)
	}

	b, ok := x.objects.Bounds(h)
	if !ok {
		return geometry.AABB{}, errors.New("stale handle").
			WithType(ErrTypeStaleHandle).
			WithTag("handle", h.String())
	}

	if !b.Valid() {
		return geometry.AABB{}, errors.New("invalid object bounds").
			WithType(ErrTypeInvalidBounds).
			WithTag("handle", h.String()).
			WithTag("bounds", b)
	}
	return b, nil
}

func (x *Index) filterAlive(handles []handle.Handle) []handle.Handle {
	alive := handles[:0]
	for _, h := range handles {
		if _, ok := x.objects.Bounds(h); !ok {
			instrumentStaleHandle()
			continue
		}
		alive = append(alive, h)
	}
	return alive
}
