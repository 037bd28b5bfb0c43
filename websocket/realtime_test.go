package websocket

import (
	"testing"

	"github.com/aukilabs/sceneindex/featureflag"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/models"
	"github.com/stretchr/testify/require"
)

var testExtents = geometry.NewVector3f(0.5, 0.5, 0.5)

func TestRealtimeHandlerConnect(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial("")

	var state SceneState
	receive(t, conn, MsgTypeSceneState, &state)
	require.NotEmpty(t, state.SceneID)
	require.NotEmpty(t, state.SceneUUID)
	require.Empty(t, state.Entities)

	scene, err := env.scenes.Get(state.SceneID)
	require.NoError(t, err)
	require.Equal(t, "websocket", scene.Origin)

	t.Run("join existing scene", func(t *testing.T) {
		send(t, conn, MsgTypeEntityAdd, 1, EntityAddRequest{
			Pose:    models.Pose{PX: 1, RW: 1},
			Extents: testExtents,
		})
		receive(t, conn, MsgTypeEntityAddResponse, nil)

		other := env.dial(state.SceneID)

		var otherState SceneState
		receive(t, other, MsgTypeSceneState, &otherState)
		require.Equal(t, state.SceneUUID, otherState.SceneUUID)
		require.Len(t, otherState.Entities, 1)
	})

	t.Run("join unknown scene", func(t *testing.T) {
		other := env.dial("0x42")

		var res ErrorResponse
		receive(t, other, MsgTypeError, &res)
		require.Equal(t, models.ErrTypeSceneNotFound, res.Code)
	})
}

func TestRealtimeHandlerEntities(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial("")
	receive(t, conn, MsgTypeSceneState, nil)

	send(t, conn, MsgTypeEntityAdd, 1, EntityAddRequest{
		Pose:    models.Pose{PX: 1, PY: 2, PZ: 3, RW: 1},
		Extents: testExtents,
	})

	var added EntityResponse
	msg := receive(t, conn, MsgTypeEntityAddResponse, &added)
	require.Equal(t, uint32(1), msg.RequestID)
	require.False(t, added.Entity.ID.IsNil())
	require.Equal(t, float32(2), added.Entity.Pose.PY)

	t.Run("add with invalid extents", func(t *testing.T) {
		send(t, conn, MsgTypeEntityAdd, 2, EntityAddRequest{
			Pose:    models.Pose{RW: 1},
			Extents: geometry.NewVector3f(-1, 1, 1),
		})

		var res ErrorResponse
		msg := receive(t, conn, MsgTypeError, &res)
		require.Equal(t, uint32(2), msg.RequestID)
		require.Equal(t, models.ErrTypeInvalidPose, res.Code)
	})

	t.Run("update pose", func(t *testing.T) {
		send(t, conn, MsgTypeEntityUpdatePose, 3, EntityUpdatePoseRequest{
			EntityID: added.Entity.ID,
			Pose:     models.Pose{PX: -5, PY: -5, PZ: -5, RW: 1},
		})

		send(t, conn, MsgTypeQuery, 4, QueryRequest{
			Shape: models.ShapeQuery{
				Sphere: &geometry.Sphere{
					Center: geometry.NewVector3f(-5, -5, -5),
					Radius: 1,
				},
			},
		})

		var res EntitiesResponse
		msg := receive(t, conn, MsgTypeQueryResponse, &res)
		require.Equal(t, uint32(4), msg.RequestID)
		require.Len(t, res.Entities, 1)
		require.Equal(t, added.Entity.ID, res.Entities[0].ID)
	})

	t.Run("update unknown entity", func(t *testing.T) {
		send(t, conn, MsgTypeEntityUpdatePose, 5, EntityUpdatePoseRequest{
			EntityID: handle.Handle{Index: 42, Generation: 1},
			Pose:     models.Pose{RW: 1},
		})

		var res ErrorResponse
		receive(t, conn, MsgTypeError, &res)
		require.Equal(t, models.ErrTypeEntityNotFound, res.Code)
	})

	t.Run("nearest", func(t *testing.T) {
		send(t, conn, MsgTypeNearest, 6, NearestRequest{
			Point: geometry.NewVector3f(-4, -4, -4),
			Count: 1,
			Exact: true,
		})

		var res EntitiesResponse
		receive(t, conn, MsgTypeNearestResponse, &res)
		require.Len(t, res.Entities, 1)
		require.Equal(t, added.Entity.ID, res.Entities[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		send(t, conn, MsgTypeEntityDelete, 7, EntityDeleteRequest{
			EntityID: added.Entity.ID,
		})

		var res EntityDeleteResponse
		receive(t, conn, MsgTypeEntityDeleteResponse, &res)
		require.Equal(t, added.Entity.ID, res.EntityID)

		send(t, conn, MsgTypeEntityDelete, 8, EntityDeleteRequest{
			EntityID: added.Entity.ID,
		})

		var errRes ErrorResponse
		receive(t, conn, MsgTypeError, &errRes)
		require.Equal(t, models.ErrTypeEntityNotFound, errRes.Code)
	})
}

func TestRealtimeHandlerSubscribe(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial("")
	receive(t, conn, MsgTypeSceneState, nil)

	send(t, conn, MsgTypeSubscribe, 1, SubscribeRequest{
		Shape: models.ShapeQuery{
			AABB: &geometry.AABB{
				Min: geometry.NewVector3f(0, 0, 0),
				Max: geometry.NewVector3f(4, 4, 4),
			},
		},
	})

	var sub SubscriptionResponse
	receive(t, conn, MsgTypeSubscribeResponse, &sub)
	require.NotZero(t, sub.SubscriptionID)

	var candidates Candidates
	receive(t, conn, MsgTypeCandidates, &candidates)
	require.Equal(t, sub.SubscriptionID, candidates.SubscriptionID)
	require.Empty(t, candidates.Entities)

	t.Run("candidates are pushed when they change", func(t *testing.T) {
		send(t, conn, MsgTypeEntityAdd, 2, EntityAddRequest{
			Pose:    models.Pose{PX: 2, PY: 2, PZ: 2, RW: 1},
			Extents: testExtents,
		})

		var added EntityResponse
		receive(t, conn, MsgTypeEntityAddResponse, &added)

		var candidates Candidates
		receive(t, conn, MsgTypeCandidates, &candidates)
		require.Len(t, candidates.Entities, 1)
		require.Equal(t, added.Entity.ID, candidates.Entities[0].ID)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		send(t, conn, MsgTypeUnsubscribe, 3, UnsubscribeRequest{
			SubscriptionID: sub.SubscriptionID,
		})

		var res SubscriptionResponse
		receive(t, conn, MsgTypeUnsubscribeResponse, &res)
		require.Equal(t, sub.SubscriptionID, res.SubscriptionID)
	})

	t.Run("invalid shape", func(t *testing.T) {
		send(t, conn, MsgTypeSubscribe, 4, SubscribeRequest{})

		var res ErrorResponse
		receive(t, conn, MsgTypeError, &res)
		require.Equal(t, models.ErrTypeInvalidShape, res.Code)
	})
}

func TestRealtimeHandlerSubscribeDisabled(t *testing.T) {
	env := newTestEnv(t, featureflag.FlagDisableCandidateStream)

	conn := env.dial("")
	receive(t, conn, MsgTypeSceneState, nil)

	send(t, conn, MsgTypeSubscribe, 1, SubscribeRequest{
		Shape: models.ShapeQuery{
			Sphere: &geometry.Sphere{Radius: 1},
		},
	})

	var res ErrorResponse
	receive(t, conn, MsgTypeError, &res)
	require.Equal(t, ErrTypeFeatureDisabled, res.Code)
}

func TestRealtimeHandlerPing(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial("")
	receive(t, conn, MsgTypeSceneState, nil)

	send(t, conn, MsgTypePing, 9, nil)
	msg := receive(t, conn, MsgTypePong, nil)
	require.Equal(t, uint32(9), msg.RequestID)

	t.Run("unknown message", func(t *testing.T) {
		send(t, conn, MsgType("teleport"), 10, nil)

		var res ErrorResponse
		msg := receive(t, conn, MsgTypeError, &res)
		require.Equal(t, uint32(10), msg.RequestID)
		require.Equal(t, ErrTypeUnknownMsg, res.Code)
	})
}
