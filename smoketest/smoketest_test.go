package smoketest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/models"
	swebsocket "github.com/aukilabs/sceneindex/websocket"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	scenes := &models.SceneStore{}

	var mux http.ServeMux
	mux.Handle(WebsocketPath, websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := &swebsocket.RealtimeHandler{
				ClientSyncClockInterval: time.Hour,
				ClientIdleTimeout:       time.Minute,
				Scenes:                  scenes,
				SceneConfig: models.SceneConfig{
					Bounds: geometry.NewAABB(
						geometry.NewVector3f(-8, -8, -8),
						geometry.NewVector3f(8, 8, 8),
					),
					FrameDuration: time.Millisecond * 5,
				},
			}
			defer h.Close()

			swebsocket.Handle(context.Background(), conn, h)
		},
	})

	server := httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return server
}

func TestSmokeTest(t *testing.T) {
	t.Run("smoke test success", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		server := newTestServer(t)

		ctx = context.WithValue(ctx, testCtxKeyValue, testContext{
			Context: ctx,
			Cancel:  cancel,
		})

		var gotResult bool
		smokeTest := HandleSmokeTest(ctx, Options{
			Endpoint: "http://localsceneindex",
			SendResult: func(_ context.Context, res Results) error {
				require.Equal(t, "http://localsceneindex", res.FromEndpoint)
				require.Equal(t, server.URL, res.ToEndpoint)
				require.True(t, res.Success, res.Error)
				require.Greater(t, res.LatencyMilliSec, float64(0))
				gotResult = true
				return nil
			},
		})

		body, err := json.Marshal(Request{
			Endpoint: server.URL,
			Timeout:  time.Second * 2,
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localsceneindex/smoke-test", bytes.NewBuffer(body))

		smokeTest.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		<-ctx.Done()
		require.True(t, gotResult)
	})

	t.Run("smoke test failed - offline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ctx = context.WithValue(ctx, testCtxKeyValue, testContext{
			Context: ctx,
			Cancel:  cancel,
		})

		var gotResult bool
		smokeTest := HandleSmokeTest(ctx, Options{
			Endpoint: "http://localsceneindex",
			SendResult: func(_ context.Context, res Results) error {
				require.Equal(t, "http://127.0.0.1:1", res.ToEndpoint)
				require.False(t, res.Success)
				require.NotEmpty(t, res.Error)
				require.Zero(t, res.LatencyMilliSec)
				gotResult = true
				return nil
			},
		})

		body, err := json.Marshal(Request{
			Endpoint: "http://127.0.0.1:1",
			Timeout:  time.Second,
		})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localsceneindex/smoke-test", bytes.NewBuffer(body))

		smokeTest.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		<-ctx.Done()
		require.True(t, gotResult)
	})

	t.Run("bad request", func(t *testing.T) {
		smokeTest := HandleSmokeTest(context.Background(), Options{})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "http://localsceneindex/smoke-test", bytes.NewBufferString("{}"))

		smokeTest.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebsocketURL(t *testing.T) {
	require.Equal(t, "ws://localhost:4000/ws", websocketURL("http://localhost:4000"))
	require.Equal(t, "wss://scenes.example.com/ws", websocketURL("https://scenes.example.com/"))
}
