package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/featureflag"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

const testReadTimeout = time.Second * 5

type testEnv struct {
	t      *testing.T
	url    string
	scenes *models.SceneStore
}

// newTestEnv starts a server handling scene connections. Logs are redirected
// to the test output until the test ends.
func newTestEnv(t *testing.T, flags ...featureflag.Flag) *testEnv {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}
	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})
	errors.Encoder = json.Marshal

	featureFlags := make([]string, len(flags))
	for i, f := range flags {
		featureFlags[i] = string(f)
	}

	scenes := &models.SceneStore{}
	sceneConfig := models.SceneConfig{
		Bounds: geometry.NewAABB(
			geometry.NewVector3f(-16, -16, -16),
			geometry.NewVector3f(16, 16, 16),
		),
		FrameDuration: time.Millisecond * 5,
	}

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h Handler = &RealtimeHandler{
				ClientSyncClockInterval: time.Hour,
				ClientIdleTimeout:       time.Minute,
				Scenes:                  scenes,
				SceneConfig:             sceneConfig,
				FeatureFlags:            featureflag.New(featureFlags),
			}
			h = HandlerWithLogs(h, time.Minute)
			h = HandlerWithMetrics(h, "http://test")
			defer h.Close()

			Handle(context.Background(), conn, h)
		},
	})

	t.Cleanup(func() {
		server.Close()
		for _, s := range scenes.List() {
			scenes.Remove(context.Background(), s)
		}

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	})

	return &testEnv{
		t:      t,
		url:    strings.ReplaceAll(server.URL, "http://", "ws://"),
		scenes: scenes,
	}
}

// dial opens a connection to the given scene. An empty scene id makes the
// server create a scene for the connection.
func (e *testEnv) dial(sceneID string) *websocket.Conn {
	url := e.url
	if sceneID != "" {
		url += "?" + SceneQueryParam + "=" + sceneID
	}

	config, err := websocket.NewConfig(url, "http://localhost")
	require.NoError(e.t, err)

	config.Header.Set("User-Agent", "ted")
	config.Header.Set("X-Forwarded-For", "192.0.0.0")
	config.Header.Set(ClientIDHeader, uuid.NewString())

	conn, err := websocket.DialConfig(config)
	require.NoError(e.t, err)

	e.t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType MsgType, requestID uint32, data any) {
	msg, err := NewMsg(msgType, requestID, data)
	require.NoError(t, err)

	_, err = Send(conn, msg)
	require.NoError(t, err)
}

// receive returns the next message of the given type. Messages of other
// types are skipped.
func receive(t *testing.T, conn *websocket.Conn, msgType MsgType, v any) Msg {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testReadTimeout)))

	for {
		msg, _, err := Receive(conn)
		require.NoError(t, err)

		if msg.Type != msgType {
			continue
		}

		if v != nil {
			require.NoError(t, msg.DataTo(v))
		}
		return msg
	}
}
