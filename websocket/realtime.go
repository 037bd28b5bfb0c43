package websocket

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sceneindex/featureflag"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/models"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	// The header carrying the id a client identifies itself with.
	ClientIDHeader = "X-Client-Id"

	// The query parameter selecting the scene to connect to.
	SceneQueryParam = "scene"

	ErrTypeUnknownMsg         = "unknown_msg"
	ErrTypeTooManySubscribers = "too_many_subscriptions"
	ErrTypeFeatureDisabled    = "feature_disabled"
	ErrTypeInternal           = "internal"

	// The default maximum number of subscriptions per connection.
	DefaultMaxSubscriptions = 16
)

// RealtimeHandler binds a client connection to a scene. Clients edit the
// scene entities, query them and subscribe to the entities intersecting a
// shape, pushed after each frame.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains all the server scenes.
	Scenes *models.SceneStore

	// The configuration of scenes created by connections that do not
	// specify a scene.
	SceneConfig models.SceneConfig

	// The maximum number of subscriptions per connection.
	MaxSubscriptions int

	FeatureFlags featureflag.FeatureFlag

	conn            *websocket.Conn
	currentScene    *models.Scene
	currentSceneID  string
	ownsScene       bool
	subscriptionIDs models.SequentialIDGenerator
	subscriptions   map[uint32]*subscription

	stopFrameHandling func()

	clientID string
}

type subscription struct {
	requestID uint32
	query     models.ShapeQuery
	last      []handle.Handle
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn, handleFrame func(), respond ResponseSender) error {
	h.conn = conn
	h.subscriptions = make(map[uint32]*subscription)

	req := conn.Request()
	h.clientID = clientIDFromRequest(req)

	sceneID := req.URL.Query().Get(SceneQueryParam)
	if sceneID == "" {
		scene := models.NewScene(h.Scenes.NewID(), h.SceneConfig)
		scene.Origin = "websocket"
		if err := h.Scenes.Add(context.Background(), scene); err != nil {
			respond.Send(MsgTypeError, 0, ErrorResponse{
				Code:    ErrTypeInternal,
				Message: "creating scene failed",
			})
			return err
		}
		go scene.StartDispatchFrames()

		h.ownsScene = true
		sceneID = h.Scenes.GlobalSceneID(scene.ID)
	}

	scene, err := h.Scenes.Get(sceneID)
	if err != nil {
		respond.Send(MsgTypeError, 0, errorResponse(err))
		return err
	}

	h.currentScene = scene
	h.currentSceneID = sceneID
	h.stopFrameHandling = scene.HandleFrame(handleFrame)

	respond.Send(MsgTypeSceneState, 0, SceneState{
		SceneID:   sceneID,
		SceneUUID: scene.SceneUUID,
		Entities:  models.EntitiesToInfo(scene.Entities()),
		Config:    scene.Config(),
	})
	return nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	h.leaveScene()
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(MsgTypePong, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleEntityAdd(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req EntityAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	e, err := h.currentScene.AddEntity(req.Pose, req.Extents, req.Dynamic)
	if err != nil {
		respond.Send(MsgTypeError, msg.RequestID, errorResponse(err))
		return nil
	}

	respond.Send(MsgTypeEntityAddResponse, msg.RequestID, EntityResponse{
		Entity: e.Info(),
	})
	return nil
}

func (h *RealtimeHandler) HandleEntityDelete(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req EntityDeleteRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if err := h.currentScene.RemoveEntity(req.EntityID); err != nil {
		respond.Send(MsgTypeError, msg.RequestID, errorResponse(err))
		return nil
	}

	respond.Send(MsgTypeEntityDeleteResponse, msg.RequestID, EntityDeleteResponse{
		EntityID: req.EntityID,
	})
	return nil
}

// HandleEntityUpdatePose moves an entity. Successful updates are not
// acknowledged.
func (h *RealtimeHandler) HandleEntityUpdatePose(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req EntityUpdatePoseRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if err := h.currentScene.MoveEntity(req.EntityID, req.Pose); err != nil {
		respond.Send(MsgTypeError, msg.RequestID, errorResponse(err))
	}
	return nil
}

func (h *RealtimeHandler) HandleQuery(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req QueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	shape, err := req.Shape.Shape()
	if err != nil {
		respond.Send(MsgTypeError, msg.RequestID, errorResponse(err))
		return nil
	}

	respond.Send(MsgTypeQueryResponse, msg.RequestID, EntitiesResponse{
		Entities: models.EntitiesToInfo(h.currentScene.Query(shape)),
	})
	return nil
}

func (h *RealtimeHandler) HandleNearest(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req NearestRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if req.Count <= 0 {
		req.Count = 1
	}

	respond.Send(MsgTypeNearestResponse, msg.RequestID, EntitiesResponse{
		Entities: models.EntitiesToInfo(h.currentScene.Nearest(req.Point, req.Count, req.Exact)),
	})
	return nil
}

func (h *RealtimeHandler) HandleSubscribe(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req SubscribeRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.FeatureFlags.IsSet(featureflag.FlagDisableCandidateStream) {
		respond.Send(MsgTypeError, msg.RequestID, ErrorResponse{
			Code:    ErrTypeFeatureDisabled,
			Message: "candidate stream is disabled",
		})
		return nil
	}

	if _, err := req.Shape.Shape(); err != nil {
		respond.Send(MsgTypeError, msg.RequestID, errorResponse(err))
		return nil
	}

	maxSubscriptions := h.MaxSubscriptions
	if maxSubscriptions <= 0 {
		maxSubscriptions = DefaultMaxSubscriptions
	}
	if len(h.subscriptions) >= maxSubscriptions {
		respond.Send(MsgTypeError, msg.RequestID, ErrorResponse{
			Code:    ErrTypeTooManySubscribers,
			Message: "too many subscriptions",
		})
		return nil
	}

	id := h.subscriptionIDs.New()
	h.subscriptions[id] = &subscription{
		requestID: msg.RequestID,
		query:     req.Shape,
	}

	respond.Send(MsgTypeSubscribeResponse, msg.RequestID, SubscriptionResponse{
		SubscriptionID: id,
	})
	return nil
}

func (h *RealtimeHandler) HandleUnsubscribe(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req UnsubscribeRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if _, ok := h.subscriptions[req.SubscriptionID]; ok {
		delete(h.subscriptions, req.SubscriptionID)
		h.subscriptionIDs.Reuse(req.SubscriptionID)
	}

	respond.Send(MsgTypeUnsubscribeResponse, msg.RequestID, SubscriptionResponse{
		SubscriptionID: req.SubscriptionID,
	})
	return nil
}

// HandleFrame pushes the candidates of each subscription whose result
// changed since the last frame.
func (h *RealtimeHandler) HandleFrame(ctx context.Context, respond ResponseSender) error {
	for id, s := range h.subscriptions {
		shape, err := s.query.Shape()
		if err != nil {
			return err
		}

		entities := h.currentScene.Query(shape)
		ids := make([]handle.Handle, len(entities))
		for i, e := range entities {
			ids[i] = e.ID
		}

		if s.last != nil && slices.Equal(s.last, ids) {
			continue
		}
		s.last = ids

		respond.Send(MsgTypeCandidates, s.requestID, Candidates{
			SubscriptionID: id,
			Entities:       models.EntitiesToInfo(entities),
		})
	}
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond ResponseSender) error {
	respond.Send(MsgTypeSyncClock, 0, nil)
	return nil
}

func (h *RealtimeHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) CurrentScene() *models.Scene {
	return h.currentScene
}

func (h *RealtimeHandler) CurrentSceneID() string {
	return h.currentSceneID
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func (h *RealtimeHandler) leaveScene() {
	scene := h.currentScene
	if scene == nil {
		return
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
		h.stopFrameHandling = nil
	}

	if h.ownsScene {
		// Here we use a context.Background to ensure the scene to be removed
		// even when the connection context is canceled.
		h.Scenes.Remove(context.Background(), scene)
	}

	h.subscriptions = nil
	h.currentScene = nil
	h.currentSceneID = ""
}

func clientIDFromRequest(req *http.Request) string {
	if id := req.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func errorResponse(err error) ErrorResponse {
	code := errors.Type(err)
	if code == "" {
		code = ErrTypeInternal
	}

	return ErrorResponse{
		Code:    code,
		Message: err.Error(),
	}
}
