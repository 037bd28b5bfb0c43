package http

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleWithCORS(t *testing.T) {
	var called bool
	h := HandleWithCORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("preflight", func(t *testing.T) {
		called = false
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/scenes", nil))

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		require.False(t, called)
	})

	t.Run("request", func(t *testing.T) {
		called = false
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scenes", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		require.True(t, called)
	})
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestMetricsPathFormatter(t *testing.T) {
	tests := []struct {
		scenario   string
		statusCode int
		path       string
		expected   string
	}{
		{
			scenario:   "static route",
			statusCode: http.StatusOK,
			path:       "/health",
			expected:   "/health",
		},
		{
			scenario:   "scene list",
			statusCode: http.StatusOK,
			path:       "/scenes",
			expected:   "/scenes",
		},
		{
			scenario:   "scene id is replaced",
			statusCode: http.StatusOK,
			path:       "/scenes/0x1f",
			expected:   "/scenes/{scene}",
		},
		{
			scenario:   "scene sub route",
			statusCode: http.StatusCreated,
			path:       "/scenes/0x2/entities",
			expected:   "/scenes/{scene}/entities",
		},
		{
			scenario:   "entity id is replaced",
			statusCode: http.StatusOK,
			path:       "/scenes/0x2/entities/3:1",
			expected:   "/scenes/{scene}/entities/{entity}",
		},
		{
			scenario:   "query route",
			statusCode: http.StatusOK,
			path:       "/scenes/0x2/query",
			expected:   "/scenes/{scene}/query",
		},
		{
			scenario:   "not found",
			statusCode: http.StatusNotFound,
			path:       "/scenes/0x42",
		},
		{
			scenario:   "bad request",
			statusCode: http.StatusBadRequest,
			path:       "/scenes",
		},
		{
			scenario:   "method not allowed",
			statusCode: http.StatusMethodNotAllowed,
			path:       "/scenes/0x2/clone",
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			require.Equal(t, test.expected, MetricsPathFormatter(test.statusCode, test.path))
		})
	}
}

func TestListenAndServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(HandleHealthCheck),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(ctx, time.Second, s)
	}()

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, time.Second*2, time.Millisecond*10)

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("servers did not stop")
	}
}
