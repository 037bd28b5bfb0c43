package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/models"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Handler represents a scene connection handler.
type Handler interface {
	// Handles a client connection. handleFrame must be called after each
	// frame of the scene the connection is bound to.
	HandleConnect(conn *websocket.Conn, handleFrame func(), respond ResponseSender) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to create an entity.
	HandleEntityAdd(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to delete an entity.
	HandleEntityDelete(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles an entity pose update.
	HandleEntityUpdatePose(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request for the entities intersecting a shape.
	HandleQuery(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request for the entities near a point.
	HandleNearest(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to receive the entities intersecting a shape after
	// each frame.
	HandleSubscribe(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to cancel a subscription.
	HandleUnsubscribe(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a scene frame.
	HandleFrame(ctx context.Context, respond ResponseSender) error

	// Sends a sync clock message to the client.
	SendSyncClock(ctx context.Context, respond ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each sync clock message sent to the connected
	// client.
	SyncClockInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// The scene the connection is bound to.
	CurrentScene() *models.Scene

	// The id of the current scene in the scene store.
	CurrentSceneID() string

	// Get ClientID
	GetClientID() string
}

// Handle handles the given connection.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The scene handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	frameChan      chan struct{}
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	var responder = responseSender{
		sendMsg:  h.sendMsg,
		clientID: h.Handler.GetClientID,
	}

	h.frameChan = make(chan struct{}, 1)
	if err := h.Handler.HandleConnect(h.Conn, h.notifyFrame, responder); err != nil {
		// lets queued messages such as errors reach the client:
		h.flush()
		cancel()
		wg.Wait()
		h.handleDisconnect(errors.New("connecting client failed").Wrap(err))
		return
	}

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	syncClockTicker := time.NewTicker(h.Handler.SyncClockInterval())
	defer syncClockTicker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-syncClockTicker.C:
			if err := h.Handler.SendSyncClock(ctx, responder); err != nil {
				h.disconnect(errors.New("sending sync clock failed").Wrap(err))
			}

		case <-h.frameChan:
			if err := h.Handler.HandleFrame(ctx, responder); err != nil {
				h.disconnect(errors.New("handling frame failed").Wrap(err))
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

// notifyFrame is called from the scene frame loop. Frames are coalesced when
// the connection loop is late.
func (h *handler) notifyFrame() {
	select {
	case h.frameChan <- struct{}{}:
	default:
	}
}

func (h *handler) sendMsg(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		logs.WithClientID(h.Handler.GetClientID()).
			WithTag("msg_type", msg.Type).
			Error(errors.New("send queue is full, message dropped"))
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

// flush waits for the send queue to be drained.
func (h *handler) flush() {
	timeout := time.After(time.Second)

	for len(h.sendChan) != 0 {
		select {
		case <-timeout:
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			select {
			case <-ctx.Done():
				return
			case h.receiveChan <- msg:
			}
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeEntityAdd:
		return h.Handler.HandleEntityAdd(ctx, responder, msg)

	case MsgTypeEntityDelete:
		return h.Handler.HandleEntityDelete(ctx, responder, msg)

	case MsgTypeEntityUpdatePose:
		return h.Handler.HandleEntityUpdatePose(ctx, responder, msg)

	case MsgTypeQuery:
		return h.Handler.HandleQuery(ctx, responder, msg)

	case MsgTypeNearest:
		return h.Handler.HandleNearest(ctx, responder, msg)

	case MsgTypeSubscribe:
		return h.Handler.HandleSubscribe(ctx, responder, msg)

	case MsgTypeUnsubscribe:
		return h.Handler.HandleUnsubscribe(ctx, responder, msg)

	default:
		responder.Send(MsgTypeError, msg.RequestID, ErrorResponse{
			Code:    ErrTypeUnknownMsg,
			Message: "unknown message type: " + msg.TypeString(),
		})
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	sendMsg  func(Msg)
	clientID func() string
}

func (r responseSender) SendMsg(msg Msg) {
	r.sendMsg(msg)
}

func (r responseSender) Send(msgType MsgType, requestID uint32, data any) {
	msg, err := NewMsg(msgType, requestID, data)
	if err != nil {
		logs.WithClientID(r.clientID()).
			WithTag("msg_type", msgType).
			Error(err)
		return
	}
	r.sendMsg(msg)
}
