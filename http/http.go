package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DefaultShutdownTimeout is the time given to servers to finish in-flight
// requests once the context is done.
const DefaultShutdownTimeout = time.Second * 10

// ListenAndServe runs the given servers until ctx is done, then shuts them
// down. It returns once every server stopped.
func ListenAndServe(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()
			serve(s)
		}(s)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logs.Warn(errors.New("shutting down the server failed").
				WithTag("addr", s.Addr).
				WithTag("timeout", shutdownTimeout).
				Wrap(err))
		}
	}
	<-stopped
}

func serve(s *http.Server) {
	logs.WithTag("addr", s.Addr).Info("starting server")

	err := s.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		logs.WithTag("addr", s.Addr).Info("stopping server")
		return
	}

	logs.Warn(errors.New("server stopped").
		WithTag("addr", s.Addr).
		Wrap(err))
}

// MetricsPathFormatter returns the route a request path is served by, with
// scene and entity ids replaced by their parameter name. It returns an empty
// string on HTTP 301, 400, 404 or 405 status codes.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if segments[0] != "scenes" {
		return path
	}

	if len(segments) > 1 {
		segments[1] = "{scene}"
	}
	if len(segments) > 3 && segments[2] == "entities" {
		segments[3] = "{entity}"
	}
	return "/" + strings.Join(segments, "/")
}
