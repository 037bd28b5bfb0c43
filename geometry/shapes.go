package geometry

import "math"

// Shape is a query volume. Implementations only need a conservative test
// against boxes: queries narrow candidates, callers do the exact test.
type Shape interface {
	IntersectsAABB(b AABB) bool
}

type Sphere struct {
	Center Vector3f `json:"center"`
	Radius float32  `json:"radius"`
}

func (s Sphere) IntersectsAABB(b AABB) bool {
	return b.DistanceSquaredToPoint(s.Center) <= s.Radius*s.Radius
}

// Ray is a segment going from From to To.
type Ray struct {
	From Vector3f `json:"from"`
	To   Vector3f `json:"to"`
}

func (r Ray) IntersectsAABB(b AABB) bool {
	hit, _ := r.IntersectAABB(b)
	return hit
}

// IntersectAABB runs a slab test on the segment. It returns the parametric
// entry point in [0..1] alongside the hit flag.
func (r Ray) IntersectAABB(b AABB) (bool, float32) {
	rayDir := Sub(r.To, r.From)

	tMin := float32(0)
	tMax := float32(1)

	from := [3]float32{r.From.X, r.From.Y, r.From.Z}
	dir := [3]float32{rayDir.X, rayDir.Y, rayDir.Z}
	lo := [3]float32{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float32{b.Max.X, b.Max.Y, b.Max.Z}

	for axis := 0; axis < 3; axis++ {
		if dir[axis] == 0 {
			// parallel to the slab:
			if from[axis] < lo[axis] || from[axis] > hi[axis] {
				return false, -1
			}
			continue
		}

		t1 := (lo[axis] - from[axis]) / dir[axis]
		t2 := (hi[axis] - from[axis]) / dir[axis]
		if t1 > t2 {
			Swap(&t1, &t2)
		}

		tMin = max(tMin, t1)
		tMax = min(tMax, t2)
		if tMin > tMax {
			return false, -1
		}
	}

	return true, tMin
}

// Plane is the set of points p where Normal.Dot(p) + Distance == 0. Points
// with a positive value are on the inner side.
type Plane struct {
	Normal   Vector3f `json:"normal"`
	Distance float32  `json:"distance"`
}

// Frustum is a convex volume bounded by 6 inward facing planes.
type Frustum struct {
	Planes [6]Plane `json:"planes"`
}

func (f Frustum) IntersectsAABB(b AABB) bool {
	for _, plane := range f.Planes {
		// the vertex furthest along the plane normal:
		positiveVertex := b.Min
		if plane.Normal.X >= 0 {
			positiveVertex.X = b.Max.X
		}
		if plane.Normal.Y >= 0 {
			positiveVertex.Y = b.Max.Y
		}
		if plane.Normal.Z >= 0 {
			positiveVertex.Z = b.Max.Z
		}

		if plane.Normal.Dot(positiveVertex)+plane.Distance < 0 {
			return false
		}
	}
	return true
}

// Quaternion is a rotation. The zero value is treated as identity.
type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

func (q Quaternion) isZero() bool {
	return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0
}

func (q Quaternion) normalized() Quaternion {
	l := (float32)(math.Sqrt((float64)(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)))
	if l == 0 {
		return Quaternion{W: 1}
	}
	return Quaternion{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// OrientedBounds returns the AABB enclosing a box of the given half extents
// rotated by rotation around center.
func OrientedBounds(center, extents Vector3f, rotation Quaternion) AABB {
	if rotation.isZero() {
		return NewAABBFromCenter(center, extents)
	}

	q := rotation.normalized()
	xx, yy, zz := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z

	m := [3][3]float32{
		{1 - 2*(yy+zz), 2 * (xy - wz), 2 * (xz + wy)},
		{2 * (xy + wz), 1 - 2*(xx+zz), 2 * (yz - wx)},
		{2 * (xz - wy), 2 * (yz + wx), 1 - 2*(xx+yy)},
	}

	half := Vector3f{
		X: abs32(m[0][0])*extents.X + abs32(m[0][1])*extents.Y + abs32(m[0][2])*extents.Z,
		Y: abs32(m[1][0])*extents.X + abs32(m[1][1])*extents.Y + abs32(m[1][2])*extents.Z,
		Z: abs32(m[2][0])*extents.X + abs32(m[2][1])*extents.Y + abs32(m[2][2])*extents.Z,
	}
	return NewAABBFromCenter(center, half)
}
