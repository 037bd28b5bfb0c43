package models

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/stretchr/testify/require"
)

func TestEntityPose(t *testing.T) {
	e := &Entity{}
	pose := Pose{PX: 1, PY: 2, PZ: 3, RW: 1}

	e.SetPose(pose)
	require.Equal(t, pose, e.Pose())
	require.Equal(t, geometry.NewVector3f(1, 2, 3), e.Pose().Position())
}

func TestEntityBounds(t *testing.T) {
	t.Run("identity rotation", func(t *testing.T) {
		e := &Entity{
			pose:    Pose{PX: 1, PY: 1, PZ: 1, RW: 1},
			extents: geometry.NewVector3f(1, 2, 3),
		}

		b := e.Bounds()
		require.Equal(t, geometry.NewVector3f(0, -1, -2), b.Min)
		require.Equal(t, geometry.NewVector3f(2, 3, 4), b.Max)
	})

	t.Run("rotated box grows", func(t *testing.T) {
		// 90 degrees around z:
		s := float32(math.Sqrt2 / 2)
		e := &Entity{
			pose:    Pose{RZ: s, RW: s},
			extents: geometry.NewVector3f(2, 1, 1),
		}

		b := e.Bounds()
		require.InDelta(t, -1, b.Min.X, 0.0001)
		require.InDelta(t, 1, b.Max.X, 0.0001)
		require.InDelta(t, -2, b.Min.Y, 0.0001)
		require.InDelta(t, 2, b.Max.Y, 0.0001)
	})
}

func TestEntityInfo(t *testing.T) {
	e := &Entity{
		Dynamic: true,
		pose:    Pose{PX: 4, RW: 1},
		extents: geometry.NewVector3f(1, 1, 1),
	}

	info := e.Info()
	require.True(t, info.Dynamic)
	require.Equal(t, e.Pose(), info.Pose)
	require.Equal(t, e.Bounds(), info.Bounds)
	require.Len(t, EntitiesToInfo([]*Entity{e, e}), 2)
}

func TestPoseValidate(t *testing.T) {
	require.NoError(t, Pose{RW: 1}.validate())

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for _, p := range []Pose{{PX: nan}, {PY: inf}, {RX: nan}, {RW: inf}} {
		err := p.validate()
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeInvalidPose))
	}
}

func TestValidateExtents(t *testing.T) {
	require.NoError(t, validateExtents(geometry.NewVector3f(1, 0, 2)))
	require.Error(t, validateExtents(geometry.NewVector3f(-1, 1, 1)))
	require.Error(t, validateExtents(geometry.NewVector3f(float32(math.Inf(1)), 1, 1)))
}
