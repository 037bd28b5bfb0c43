package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/models"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgDecode = "msg_decode"
	ErrTypeMsgEncode = "msg_encode"
)

type MsgType string

const (
	MsgTypePing                 MsgType = "ping"
	MsgTypePong                 MsgType = "pong"
	MsgTypeSyncClock            MsgType = "sync_clock"
	MsgTypeSceneState           MsgType = "scene_state"
	MsgTypeEntityAdd            MsgType = "entity_add"
	MsgTypeEntityAddResponse    MsgType = "entity_add_response"
	MsgTypeEntityDelete         MsgType = "entity_delete"
	MsgTypeEntityDeleteResponse MsgType = "entity_delete_response"
	MsgTypeEntityUpdatePose     MsgType = "entity_update_pose"
	MsgTypeQuery                MsgType = "query"
	MsgTypeQueryResponse        MsgType = "query_response"
	MsgTypeNearest              MsgType = "nearest"
	MsgTypeNearestResponse      MsgType = "nearest_response"
	MsgTypeSubscribe            MsgType = "subscribe"
	MsgTypeSubscribeResponse    MsgType = "subscribe_response"
	MsgTypeUnsubscribe          MsgType = "unsubscribe"
	MsgTypeUnsubscribeResponse  MsgType = "unsubscribe_response"
	MsgTypeCandidates           MsgType = "candidates"
	MsgTypeError                MsgType = "error"
)

// Msg is the envelope of every message exchanged on a scene connection.
type Msg struct {
	Type      MsgType         `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with data encoded as its payload.
func NewMsg(msgType MsgType, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now(),
	}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithType(ErrTypeMsgEncode).
				WithTag("msg_type", msgType).
				Wrap(err)
		}
		msg.Data = b
	}
	return msg, nil
}

// DataTo decodes the message payload into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return nil
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	return string(m.Type)
}

// Sender sends a message and returns the number of bytes written.
type Sender func(Msg) (int, error)

// Receiver receives a message and returns the number of bytes read.
type Receiver func() (Msg, int, error)

// ResponseSender queues messages to be sent to the connected client.
type ResponseSender interface {
	SendMsg(Msg)

	// Sends a response with the given type and payload. Encoding errors are
	// logged.
	Send(msgType MsgType, requestID uint32, data any)
}

// Send writes msg as a text frame.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithType(ErrTypeMsgEncode).
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}

	if err = websocket.Message.Send(conn, string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Receive reads a message from a text or binary frame.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, len(b), errors.New("decoding message failed").
			WithType(ErrTypeMsgDecode).
			Wrap(err)
	}
	return msg, len(b), nil
}

type SceneState struct {
	SceneID   string              `json:"scene_id"`
	SceneUUID string              `json:"scene_uuid"`
	Entities  []models.EntityInfo `json:"entities"`
	Config    models.SceneConfig  `json:"config"`
}

type EntityAddRequest struct {
	Pose    models.Pose       `json:"pose"`
	Extents geometry.Vector3f `json:"extents"`
	Dynamic bool              `json:"dynamic,omitempty"`
}

type EntityResponse struct {
	Entity models.EntityInfo `json:"entity"`
}

type EntityDeleteRequest struct {
	EntityID handle.Handle `json:"entity_id"`
}

type EntityDeleteResponse struct {
	EntityID handle.Handle `json:"entity_id"`
}

type EntityUpdatePoseRequest struct {
	EntityID handle.Handle `json:"entity_id"`
	Pose     models.Pose   `json:"pose"`
}

type QueryRequest struct {
	Shape models.ShapeQuery `json:"shape"`
}

type EntitiesResponse struct {
	Entities []models.EntityInfo `json:"entities"`
}

type NearestRequest struct {
	Point geometry.Vector3f `json:"point"`
	Count int               `json:"count"`
	Exact bool              `json:"exact,omitempty"`
}

type SubscribeRequest struct {
	Shape models.ShapeQuery `json:"shape"`
}

type SubscriptionResponse struct {
	SubscriptionID uint32 `json:"subscription_id"`
}

type UnsubscribeRequest struct {
	SubscriptionID uint32 `json:"subscription_id"`
}

// Candidates is pushed after a frame when the entities matching a
// subscription changed.
type Candidates struct {
	SubscriptionID uint32              `json:"subscription_id"`
	Entities       []models.EntityInfo `json:"entities"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
