package models

import (
	"math"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
)

type Entity struct {
	ID handle.Handle

	// Reports whether the entity was registered as always moving.
	Dynamic bool

	mutex   sync.RWMutex
	pose    Pose
	extents geometry.Vector3f
}

func (e *Entity) SetPose(v Pose) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.pose = v
}

func (e *Entity) Pose() Pose {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.pose
}

// Extents returns the half size of the entity box.
func (e *Entity) Extents() geometry.Vector3f {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.extents
}

// Bounds returns the axis aligned box enclosing the rotated entity box.
func (e *Entity) Bounds() geometry.AABB {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return geometry.OrientedBounds(e.pose.Position(), e.extents, e.pose.Rotation())
}

func (e *Entity) Info() EntityInfo {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return EntityInfo{
		ID:      e.ID,
		Dynamic: e.Dynamic,
		Pose:    e.pose,
		Extents: e.extents,
		Bounds:  geometry.OrientedBounds(e.pose.Position(), e.extents, e.pose.Rotation()),
	}
}

// EntityInfo is the serializable state of an entity.
type EntityInfo struct {
	ID      handle.Handle     `json:"id"`
	Dynamic bool              `json:"dynamic,omitempty"`
	Pose    Pose              `json:"pose"`
	Extents geometry.Vector3f `json:"extents"`
	Bounds  geometry.AABB     `json:"bounds"`
}

func EntitiesToInfo(entities []*Entity) []EntityInfo {
	infos := make([]EntityInfo, len(entities))
	for i, e := range entities {
		infos[i] = e.Info()
	}
	return infos
}

type Pose struct {
	PX float32 `json:"px"`
	PY float32 `json:"py"`
	PZ float32 `json:"pz"`
	RX float32 `json:"rx"`
	RY float32 `json:"ry"`
	RZ float32 `json:"rz"`
	RW float32 `json:"rw"`
}

func (p Pose) Position() geometry.Vector3f {
	return geometry.NewVector3f(p.PX, p.PY, p.PZ)
}

func (p Pose) Rotation() geometry.Quaternion {
	return geometry.Quaternion{X: p.RX, Y: p.RY, Z: p.RZ, W: p.RW}
}

func (p Pose) validate() error {
	rw := float64(p.RW)
	if !p.Position().IsFinite() ||
		!geometry.NewVector3f(p.RX, p.RY, p.RZ).IsFinite() ||
		math.IsNaN(rw) || math.IsInf(rw, 0) {
		return errors.New("pose has non finite components").
			WithType(ErrTypeInvalidPose).
			WithTag("pose", p)
	}
	return nil
}

func validateExtents(v geometry.Vector3f) error {
	if !v.IsFinite() || v.X < 0 || v.Y < 0 || v.Z < 0 {
		return errors.New("extents must be finite and positive").
			WithType(ErrTypeInvalidPose).
			WithTag("extents", v)
	}
	return nil
}
