package geometry

// AABB is an axis aligned bounding box. Bounds are closed: boxes that only
// touch on a face intersect, and a box contains itself.
type AABB struct {
	Min Vector3f `json:"min"`
	Max Vector3f `json:"max"`
}

func NewAABB(min, max Vector3f) AABB {
	return AABB{Min: min, Max: max}
}

// NewAABBFromCenter builds a box from its center and half extents.
func NewAABBFromCenter(center, extents Vector3f) AABB {
	return AABB{
		Min: Sub(center, extents),
		Max: Add(center, extents),
	}
}

// Valid reports whether the box is finite and not inverted. Degenerate boxes
// such as points are valid.
func (b AABB) Valid() bool {
	return b.Min.IsFinite() && b.Max.IsFinite() && b.Min.LesserOrEqualThan(b.Max)
}

func (b AABB) Center() Vector3f {
	return Mul(Add(b.Min, b.Max), 0.5)
}

// Extents returns the half size of the box.
func (b AABB) Extents() Vector3f {
	return Mul(Sub(b.Max, b.Min), 0.5)
}

func (b AABB) Intersects(o AABB) bool {
	return b.Min.X <= o.Max.X && b.Max.X >= o.Min.X &&
		b.Min.Y <= o.Max.Y && b.Max.Y >= o.Min.Y &&
		b.Min.Z <= o.Max.Z && b.Max.Z >= o.Min.Z
}

// Contains reports whether o lies entirely inside b.
func (b AABB) Contains(o AABB) bool {
	return o.Min.GreaterOrEqualThan(b.Min) && o.Max.LesserOrEqualThan(b.Max)
}

func (b AABB) ContainsPoint(p Vector3f) bool {
	return p.GreaterOrEqualThan(b.Min) && p.LesserOrEqualThan(b.Max)
}

// IntersectsAABB makes AABB usable as a query shape.
func (b AABB) IntersectsAABB(o AABB) bool {
	return b.Intersects(o)
}

// Octant returns the i-th of the 8 boxes produced by splitting b at its
// center. Bit 0 of i selects the upper half on x, bit 1 on y and bit 2 on z,
// so octant 7 is (+,+,+).
func (b AABB) Octant(i int) AABB {
	c := b.Center()
	o := AABB{Min: b.Min, Max: c}

	if i&1 != 0 {
		o.Min.X, o.Max.X = c.X, b.Max.X
	}
	if i&2 != 0 {
		o.Min.Y, o.Max.Y = c.Y, b.Max.Y
	}
	if i&4 != 0 {
		o.Min.Z, o.Max.Z = c.Z, b.Max.Z
	}
	return o
}

// DistanceSquaredToPoint returns the squared distance between p and the
// closest point of the box. It is 0 when p is inside.
func (b AABB) DistanceSquaredToPoint(p Vector3f) float32 {
	closest := Min(Max(p, b.Min), b.Max)
	return Sub(p, closest).LengthSquared()
}

// Union returns the smallest box containing both boxes.
func Union(a, b AABB) AABB {
	return AABB{
		Min: Min(a.Min, b.Min),
		Max: Max(a.Max, b.Max),
	}
}
