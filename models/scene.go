package models

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/sceneindex"
	"github.com/aukilabs/sceneindex/tracker"
	"github.com/google/uuid"
)

const (
	ErrTypeSceneNotFound  = "scene_not_found"
	ErrTypeEntityNotFound = "entity_not_found"
	ErrTypeInvalidPose    = "invalid_pose"
)

// SceneConfig holds the settings a scene and its index are created with.
type SceneConfig struct {
	// The extent of the static tree. Entities outside of it are tracked as
	// moving objects.
	Bounds geometry.AABB `json:"bounds"`

	// The duration of a scene frame.
	FrameDuration time.Duration `json:"frame_duration"`

	// The maximum number of settled entities folded back into the tree per
	// frame.
	FrameBudget int `json:"frame_budget"`

	// The time an entity must stay still before being folded back.
	SettleDelay time.Duration `json:"settle_delay"`

	// Reinserts moved entities right away instead of deferring them.
	ImmediateReindex bool `json:"immediate_reindex,omitempty"`

	// Skips the index maintenance pass on frames.
	DisableFrameMaintenance bool `json:"disable_frame_maintenance,omitempty"`
}

// Scene represents a set of entities indexed in space. Entities are added,
// moved and removed by clients while a frame loop keeps the index up to date.
type Scene struct {
	ID        uint32
	SceneUUID string

	// Where the scene was created from (http, websocket, clone).
	Origin string

	config SceneConfig
	clock  func() time.Time

	// Guards the entities and the index. The index is not safe for
	// concurrent use.
	mutex    sync.RWMutex
	handles  *handle.Registry
	entities map[handle.Handle]*Entity
	index    *sceneindex.Index
	lastPass tracker.PassStats

	// The time the current frame began at. Mutations of a frame are stamped
	// with it so the pass ending the frame sees them as fresh.
	frameTime time.Time

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

func NewScene(id uint32, conf SceneConfig) *Scene {
	s := newScene(id, conf)
	s.handles = &handle.Registry{}
	s.index = sceneindex.New(conf.Bounds, sceneObjects{scene: s}, s.indexOptions()...)
	return s
}

func newScene(id uint32, conf SceneConfig) *Scene {
	if conf.FrameDuration <= 0 {
		conf.FrameDuration = time.Millisecond * 15
	}

	return &Scene{
		ID:             id,
		SceneUUID:      uuid.New().String(),
		config:         conf,
		clock:          time.Now,
		entities:       make(map[handle.Handle]*Entity),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(conf.FrameDuration),
		frameHandlers:  make(map[uint32]func()),
	}
}

func (s *Scene) indexOptions() []sceneindex.Option {
	return []sceneindex.Option{
		sceneindex.WithFrameBudget(s.config.FrameBudget),
		sceneindex.WithSettleDelay(s.config.SettleDelay),
		sceneindex.WithImmediateReindex(s.config.ImmediateReindex),
		sceneindex.WithName(s.SceneUUID),
	}
}

func (s *Scene) Config() SceneConfig {
	return s.config
}

func (s *Scene) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
	})
}

// AddEntity creates an entity and registers it into the index.
func (s *Scene) AddEntity(pose Pose, extents geometry.Vector3f, dynamic bool) (*Entity, error) {
	if err := pose.validate(); err != nil {
		return nil, err
	}
	if err := validateExtents(extents); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e := &Entity{
		ID:      s.handles.New(),
		Dynamic: dynamic,
		pose:    pose,
		extents: extents,
	}
	s.entities[e.ID] = e

	var err error
	if dynamic {
		err = s.index.RegisterDynamic(e.ID)
	} else {
		err = s.index.Register(e.ID, s.frameNow())
	}
	if err != nil {
		delete(s.entities, e.ID)
		s.handles.Release(e.ID)
		return nil, errors.New("registering entity failed").
			WithTag("entity_id", e.ID).
			Wrap(err)
	}

	instrumentIncreaseEntityGauge(dynamic)
	return e, nil
}

// RemoveEntity unregisters an entity from the index and destroys it.
func (s *Scene) RemoveEntity(id handle.Handle) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return errors.New("entity not found").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", id)
	}

	s.index.Unregister(id)
	delete(s.entities, id)
	s.handles.Release(id)

	instrumentDecreaseEntityGauge(e.Dynamic)
	return nil
}

// MoveEntity sets the pose of an entity and notifies the index.
func (s *Scene) MoveEntity(id handle.Handle, pose Pose) error {
	if err := pose.validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return errors.New("entity not found").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", id)
	}

	e.SetPose(pose)
	return s.index.OnTransformChanged(id, s.frameNow())
}

func (s *Scene) EntityByID(id handle.Handle) (*Entity, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

// Entities returns the scene entities, ordered by id.
func (s *Scene) Entities() []*Entity {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	sortEntities(entities)
	return entities
}

func (s *Scene) EntityCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.entities)
}

// Query returns the entities whose bounds intersect shape, ordered by id.
func (s *Scene) Query(shape geometry.Shape) []*Entity {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	candidates := s.index.QueryCandidates(shape)

	entities := make([]*Entity, 0, len(candidates))
	for _, h := range candidates {
		e, ok := s.entities[h]
		if !ok || !shape.IntersectsAABB(e.Bounds()) {
			continue
		}
		entities = append(entities, e)
	}
	sortEntities(entities)
	return entities
}

// Nearest returns the entities close to point. When exact is false, the
// result is an approximation that can hold more than count entities.
func (s *Scene) Nearest(point geometry.Vector3f, count int, exact bool) []*Entity {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var handles []handle.Handle
	if exact {
		handles = s.index.NearestExact(point, count)
	} else {
		handles = s.index.FindNearest(point, count)
	}

	entities := make([]*Entity, 0, len(handles))
	for _, h := range handles {
		if e, ok := s.entities[h]; ok {
			entities = append(entities, e)
		}
	}
	return entities
}

// SceneInfo is the serializable summary of a scene.
type SceneInfo struct {
	ID          string               `json:"id"`
	SceneUUID   string               `json:"scene_uuid"`
	Origin      string               `json:"origin,omitempty"`
	EntityCount int                  `json:"entity_count"`
	Config      SceneConfig          `json:"config"`
	Index       sceneindex.DebugInfo `json:"index"`
	LastPass    tracker.PassStats    `json:"last_pass"`
}

// DebugInfo returns the scene summary. globalID is the id under which the
// scene is stored.
func (s *Scene) DebugInfo(globalID string) SceneInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return SceneInfo{
		ID:          globalID,
		SceneUUID:   s.SceneUUID,
		Origin:      s.Origin,
		EntityCount: len(s.entities),
		Config:      s.config,
		Index:       s.index.GetDebugInfo(),
		LastPass:    s.lastPass,
	}
}

// Clone returns an independent copy of the scene under the given id. Entity
// handles are preserved.
func (s *Scene) Clone(id uint32) *Scene {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	c := newScene(id, s.config)
	c.Origin = "clone"
	c.handles = s.handles.Clone()
	for h, e := range s.entities {
		c.entities[h] = &Entity{
			ID:      h,
			Dynamic: e.Dynamic,
			pose:    e.Pose(),
			extents: e.Extents(),
		}
		instrumentIncreaseEntityGauge(e.Dynamic)
	}
	c.index = s.index.Clone(sceneObjects{scene: c})

	logs.WithTag("scene_uuid", s.SceneUUID).
		WithTag("clone_uuid", c.SceneUUID).
		WithTag("entity_count", len(c.entities)).
		Debug("scene cloned")
	return c
}

// Tick runs the index maintenance pass for the frame at now.
func (s *Scene) Tick(now time.Time) tracker.PassStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.tick(now)
}

// EndFrame runs the index maintenance pass for the current frame, then
// begins the next one. Entities moved during the ending frame stay out of
// the tree until a frame passes without them moving.
func (s *Scene) EndFrame() tracker.PassStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.tick(s.frameNow())
	s.frameTime = s.clock()
	return stats
}

func (s *Scene) tick(now time.Time) tracker.PassStats {
	if s.config.DisableFrameMaintenance {
		return tracker.PassStats{}
	}

	s.lastPass = s.index.PerFrameTick(now)
	return s.lastPass
}

// frameNow returns the time the current frame began at. It must be called
// while the scene mutex is held.
func (s *Scene) frameNow() time.Time {
	if s.frameTime.IsZero() {
		s.frameTime = s.clock()
	}
	return s.frameTime
}

// HandleFrame registers a function called at each frame, after the index
// maintenance pass.
func (s *Scene) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Scene) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.EndFrame()

				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

func sortEntities(entities []*Entity) {
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID.Uint64() < entities[j].ID.Uint64()
	})
}

// sceneObjects resolves entity bounds for the index. It is only called while
// the scene mutex is held.
type sceneObjects struct {
	scene *Scene
}

func (o sceneObjects) Bounds(h handle.Handle) (geometry.AABB, bool) {
	e, ok := o.scene.entities[h]
	if !ok || !o.scene.handles.Valid(h) {
		return geometry.AABB{}, false
	}
	return e.Bounds(), true
}

type SceneStore struct {
	// The id prefixed to scene ids to make them unique across servers.
	ServerID string

	initOnce sync.Once
	mutex    sync.RWMutex
	scenes   map[string]*Scene
	ids      SequentialIDGenerator
}

func (s *SceneStore) init() {
	s.scenes = map[string]*Scene{}

	if s.ServerID == "" {
		s.ServerID = "0"
	}
}

func (s *SceneStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SceneStore) Add(ctx context.Context, scene *Scene) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	globalID := s.globalSceneID(scene.ID)
	if _, ok := s.scenes[globalID]; ok {
		return errors.New("scene already added").WithTag("scene_id", globalID)
	}
	s.scenes[globalID] = scene

	instrumentIncreaseSceneGauge(scene.Origin)
	instrumentCountScene(scene.Origin)

	logs.WithTag("scene_id", globalID).
		WithTag("scene_uuid", scene.SceneUUID).
		WithTag("origin", scene.Origin).
		Info("scene created")
	return nil
}

func (s *SceneStore) Remove(ctx context.Context, scene *Scene) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	globalID := s.globalSceneID(scene.ID)
	if _, ok := s.scenes[globalID]; !ok {
		return
	}

	delete(s.scenes, globalID)
	scene.Close()

	s.ids.Reuse(scene.ID)

	for _, e := range scene.Entities() {
		instrumentDecreaseEntityGauge(e.Dynamic)
	}
	instrumentDecreaseSceneGauge(scene.Origin)

	logs.WithTag("scene_id", globalID).
		WithTag("scene_uuid", scene.SceneUUID).
		Info("scene removed")
}

func (s *SceneStore) GetByGlobalID(v string) (*Scene, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scene, ok := s.scenes[v]
	return scene, ok
}

// Get is GetByGlobalID returning a typed error when the scene does not
// exist.
func (s *SceneStore) Get(v string) (*Scene, error) {
	scene, ok := s.GetByGlobalID(v)
	if !ok {
		return nil, errors.New("scene not found").
			WithType(ErrTypeSceneNotFound).
			WithTag("scene_id", v)
	}
	return scene, nil
}

// List returns the stored scenes, ordered by id.
func (s *SceneStore) List() []*Scene {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scenes := make([]*Scene, 0, len(s.scenes))
	for _, scene := range s.scenes {
		scenes = append(scenes, scene)
	}
	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].ID < scenes[j].ID
	})
	return scenes
}

func (s *SceneStore) GlobalSceneID(sceneID uint32) string {
	s.initOnce.Do(s.init)
	return s.globalSceneID(sceneID)
}

func (s *SceneStore) globalSceneID(sceneID uint32) string {
	return fmt.Sprintf("%sx%x", s.ServerID, sceneID)
}
