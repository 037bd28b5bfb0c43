package models

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/geometry"
)

const (
	ErrTypeInvalidShape = "invalid_shape"
)

// ShapeQuery is the serializable form of a query volume. Exactly one field
// must be set.
type ShapeQuery struct {
	AABB    *geometry.AABB    `json:"aabb,omitempty"`
	Sphere  *geometry.Sphere  `json:"sphere,omitempty"`
	Ray     *geometry.Ray     `json:"ray,omitempty"`
	Frustum *geometry.Frustum `json:"frustum,omitempty"`
}

func (q ShapeQuery) Shape() (geometry.Shape, error) {
	var shapes []geometry.Shape

	if q.AABB != nil {
		if !q.AABB.Valid() {
			return nil, errors.New("aabb min is greater than max").
				WithType(ErrTypeInvalidShape).
				WithTag("aabb", q.AABB)
		}
		shapes = append(shapes, *q.AABB)
	}

	if q.Sphere != nil {
		if q.Sphere.Radius < 0 || !q.Sphere.Center.IsFinite() {
			return nil, errors.New("invalid sphere").
				WithType(ErrTypeInvalidShape).
				WithTag("sphere", q.Sphere)
		}
		shapes = append(shapes, *q.Sphere)
	}

	if q.Ray != nil {
		shapes = append(shapes, *q.Ray)
	}

	if q.Frustum != nil {
		shapes = append(shapes, *q.Frustum)
	}

	if len(shapes) != 1 {
		return nil, errors.New("a query needs exactly one shape").
			WithType(ErrTypeInvalidShape).
			WithTag("shape_count", len(shapes))
	}
	return shapes[0], nil
}
