package smoketest

import (
	"context"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/models"
	swebsocket "github.com/aukilabs/sceneindex/websocket"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeSmokeTestFailed = "smoke_test_failed"

	defaultTimeout = time.Second * 10

	// The path where the realtime scene stream is served.
	WebsocketPath = "/ws"
)

type Options struct {
	// The endpoint of the server running the smoke test.
	Endpoint   string
	UserAgent  string
	SendResult func(context.Context, Results) error
}

// Request is the body of a smoke test request.
type Request struct {
	// The endpoint of the server to test.
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Results describes the outcome of a smoke test.
type Results struct {
	FromEndpoint    string    `json:"from_endpoint"`
	ToEndpoint      string    `json:"to_endpoint"`
	StartedAt       time.Time `json:"started_at"`
	Success         bool      `json:"success"`
	LatencyMilliSec float64   `json:"latency_ms"`
	Error           string    `json:"error,omitempty"`
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest starts a smoke test against the endpoint in the request
// body. Results are reported asynchronously with opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// Signals tests that the smoke test is over.
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := Run(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				UserAgent:    opts.UserAgent,
				Timeout:      req.Timeout,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.Warn(errors.New("sending smoke test result failed").
					WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

type RunOptions struct {
	FromEndpoint string
	ToEndpoint   string
	UserAgent    string
	Timeout      time.Duration
}

// Run connects to the realtime stream of the target server, then adds,
// queries and deletes an entity in a new scene. The latency is the mean
// round trip of those requests.
func Run(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		StartedAt:    time.Now(),
	}

	latency, err := run(ctx, opts)
	if err != nil {
		err = errors.New("smoke test failed").
			WithType(ErrTypeSmokeTestFailed).
			WithTag("from_endpoint", opts.FromEndpoint).
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
		res.Error = err.Error()
		return res, err
	}

	res.Success = true
	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
	return res, nil
}

func run(ctx context.Context, opts RunOptions) (time.Duration, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	origin := opts.FromEndpoint
	if origin == "" {
		origin = "http://localhost"
	}

	config, err := websocket.NewConfig(websocketURL(opts.ToEndpoint), origin)
	if err != nil {
		return 0, errors.New("creating websocket config failed").Wrap(err)
	}
	config.Dialer = &net.Dialer{Timeout: timeout}
	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return 0, errors.New("dialing websocket failed").Wrap(err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	c := client{conn: conn}

	var state swebsocket.SceneState
	if err := c.wait(swebsocket.MsgTypeSceneState, 0, &state); err != nil {
		return 0, err
	}

	var added swebsocket.EntityResponse
	if err := c.request(swebsocket.MsgTypeEntityAdd, swebsocket.EntityAddRequest{
		Pose:    models.Pose{PX: 1, PY: 1, PZ: 1, RW: 1},
		Extents: geometry.NewVector3f(0.5, 0.5, 0.5),
	}, swebsocket.MsgTypeEntityAddResponse, &added); err != nil {
		return 0, err
	}

	var found swebsocket.EntitiesResponse
	if err := c.request(swebsocket.MsgTypeQuery, swebsocket.QueryRequest{
		Shape: models.ShapeQuery{
			Sphere: &geometry.Sphere{
				Center: geometry.NewVector3f(1, 1, 1),
				Radius: 1,
			},
		},
	}, swebsocket.MsgTypeQueryResponse, &found); err != nil {
		return 0, err
	}

	if !slices.ContainsFunc(found.Entities, func(e models.EntityInfo) bool {
		return e.ID == added.Entity.ID
	}) {
		return 0, errors.New("added entity not found by query").
			WithTag("entity_id", added.Entity.ID)
	}

	var deleted swebsocket.EntityDeleteResponse
	if err := c.request(swebsocket.MsgTypeEntityDelete, swebsocket.EntityDeleteRequest{
		EntityID: added.Entity.ID,
	}, swebsocket.MsgTypeEntityDeleteResponse, &deleted); err != nil {
		return 0, err
	}

	return c.meanLatency(), nil
}

type client struct {
	conn      *websocket.Conn
	requestID uint32
	latencies []time.Duration
}

func (c *client) request(msgType swebsocket.MsgType, data any, responseType swebsocket.MsgType, v any) error {
	c.requestID++

	msg, err := swebsocket.NewMsg(msgType, c.requestID, data)
	if err != nil {
		return err
	}

	start := time.Now()
	if _, err := swebsocket.Send(c.conn, msg); err != nil {
		return errors.New("sending request failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	if err := c.wait(responseType, c.requestID, v); err != nil {
		return err
	}

	c.latencies = append(c.latencies, time.Since(start))
	return nil
}

// wait reads messages until one of the given type and request id is received.
// An error message with the request id fails the wait.
func (c *client) wait(msgType swebsocket.MsgType, requestID uint32, v any) error {
	for {
		msg, _, err := swebsocket.Receive(c.conn)
		if err != nil {
			return errors.New("receiving response failed").
				WithTag("msg_type", msgType).
				Wrap(err)
		}

		if msg.RequestID != requestID {
			continue
		}

		switch msg.Type {
		case msgType:
			return msg.DataTo(v)

		case swebsocket.MsgTypeError:
			var res swebsocket.ErrorResponse
			if err := msg.DataTo(&res); err != nil {
				return err
			}
			return errors.New(res.Message).
				WithType(res.Code).
				WithTag("request_id", requestID)
		}
	}
}

func (c *client) meanLatency() time.Duration {
	if len(c.latencies) == 0 {
		return 0
	}

	var sum time.Duration
	for _, l := range c.latencies {
		sum += l
	}
	return sum / time.Duration(len(c.latencies))
}

func websocketURL(endpoint string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")

	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + WebsocketPath
}
