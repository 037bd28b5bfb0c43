package websocket

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestNewMsg(t *testing.T) {
	id := handle.Handle{Index: 3, Generation: 2}

	msg, err := NewMsg(MsgTypeEntityDelete, 12, EntityDeleteRequest{EntityID: id})
	require.NoError(t, err)
	require.Equal(t, MsgTypeEntityDelete, msg.Type)
	require.Equal(t, "entity_delete", msg.TypeString())
	require.Equal(t, uint32(12), msg.RequestID)
	require.False(t, msg.Timestamp.IsZero())
	require.JSONEq(t, `{"entity_id":"3:2"}`, string(msg.Data))

	var req EntityDeleteRequest
	require.NoError(t, msg.DataTo(&req))
	require.Equal(t, id, req.EntityID)

	t.Run("without data", func(t *testing.T) {
		msg, err := NewMsg(MsgTypePong, 1, nil)
		require.NoError(t, err)
		require.Empty(t, msg.Data)
		require.NoError(t, msg.DataTo(&req))
	})

	t.Run("encoding error", func(t *testing.T) {
		_, err := NewMsg(MsgTypeQuery, 1, make(chan int))
		require.True(t, errors.IsType(err, ErrTypeMsgEncode))
	})
}

func TestMsgDataTo(t *testing.T) {
	msg := Msg{
		Type: MsgTypeEntityDelete,
		Data: json.RawMessage(`{"entity_id":"nope"}`),
	}

	var req EntityDeleteRequest
	err := msg.DataTo(&req)
	require.Error(t, err)
	require.True(t, errors.IsType(err, ErrTypeMsgDecode))
}
