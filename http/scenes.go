package http

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sceneindex/geometry"
	"github.com/aukilabs/sceneindex/handle"
	"github.com/aukilabs/sceneindex/models"
	"github.com/aukilabs/sceneindex/sceneindex"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeBadRequest = "bad_request"

	// The maximum size of a request body.
	maxBodySize = 1 << 20

	defaultNearestCount = 1
)

// SceneAPI exposes the scenes of a store as a JSON API.
type SceneAPI struct {
	// The store that contains all the server scenes.
	Scenes *models.SceneStore

	// The configuration scenes are created with. Create requests may
	// override any of its fields.
	SceneConfig models.SceneConfig
}

// Register registers the API routes on the given mux.
func (a *SceneAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /scenes", a.handleCreateScene)
	mux.HandleFunc("GET /scenes", a.handleListScenes)
	mux.HandleFunc("GET /scenes/{scene}", a.handleGetScene)
	mux.HandleFunc("DELETE /scenes/{scene}", a.handleDeleteScene)
	mux.HandleFunc("POST /scenes/{scene}/clone", a.handleCloneScene)
	mux.HandleFunc("GET /scenes/{scene}/entities", a.handleListEntities)
	mux.HandleFunc("POST /scenes/{scene}/entities", a.handleAddEntity)
	mux.HandleFunc("PUT /scenes/{scene}/entities/{entity}", a.handleMoveEntity)
	mux.HandleFunc("DELETE /scenes/{scene}/entities/{entity}", a.handleDeleteEntity)
	mux.HandleFunc("POST /scenes/{scene}/query", a.handleQuery)
	mux.HandleFunc("GET /scenes/{scene}/nearest", a.handleNearest)
	mux.HandleFunc("GET /scenes/{scene}/debug", a.handleGetScene)
}

type AddEntityRequest struct {
	Pose    models.Pose       `json:"pose"`
	Extents geometry.Vector3f `json:"extents"`
	Dynamic bool              `json:"dynamic,omitempty"`
}

type MoveEntityRequest struct {
	Pose models.Pose `json:"pose"`
}

type ListScenesResponse struct {
	Scenes []models.SceneInfo `json:"scenes"`
}

type EntitiesResponse struct {
	Entities []models.EntityInfo `json:"entities"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *SceneAPI) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	conf := a.SceneConfig
	if err := decodeBody(r, &conf); err != nil {
		writeError(w, r, err)
		return
	}

	if !conf.Bounds.Valid() {
		writeError(w, r, errors.New("scene bounds min is greater than max").
			WithType(sceneindex.ErrTypeInvalidBounds).
			WithTag("bounds", conf.Bounds))
		return
	}

	scene := models.NewScene(a.Scenes.NewID(), conf)
	scene.Origin = "http"
	if err := a.Scenes.Add(r.Context(), scene); err != nil {
		writeError(w, r, err)
		return
	}
	go scene.StartDispatchFrames()

	writeJSON(w, http.StatusCreated, scene.DebugInfo(a.Scenes.GlobalSceneID(scene.ID)))
}

func (a *SceneAPI) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes := a.Scenes.List()

	res := ListScenesResponse{
		Scenes: make([]models.SceneInfo, len(scenes)),
	}
	for i, s := range scenes {
		res.Scenes[i] = s.DebugInfo(a.Scenes.GlobalSceneID(s.ID))
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *SceneAPI) handleGetScene(w http.ResponseWriter, r *http.Request) {
	scene, sceneID, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene.DebugInfo(sceneID))
}

func (a *SceneAPI) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a.Scenes.Remove(r.Context(), scene)
	w.WriteHeader(http.StatusNoContent)
}

func (a *SceneAPI) handleCloneScene(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	clone := scene.Clone(a.Scenes.NewID())
	if err := a.Scenes.Add(context.Background(), clone); err != nil {
		clone.Close()
		writeError(w, r, err)
		return
	}
	go clone.StartDispatchFrames()

	writeJSON(w, http.StatusCreated, clone.DebugInfo(a.Scenes.GlobalSceneID(clone.ID)))
}

func (a *SceneAPI) handleListEntities(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EntitiesResponse{
		Entities: models.EntitiesToInfo(scene.Entities()),
	})
}

func (a *SceneAPI) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req AddEntityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	e, err := scene.AddEntity(req.Pose, req.Extents, req.Dynamic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e.Info())
}

func (a *SceneAPI) handleMoveEntity(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := handle.Parse(r.PathValue("entity"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req MoveEntityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := scene.MoveEntity(id, req.Pose); err != nil {
		writeError(w, r, err)
		return
	}

	e, ok := scene.EntityByID(id)
	if !ok {
		// Removed concurrently.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, e.Info())
}

func (a *SceneAPI) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := handle.Parse(r.PathValue("entity"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := scene.RemoveEntity(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *SceneAPI) handleQuery(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.ShapeQuery
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	shape, err := req.Shape()
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EntitiesResponse{
		Entities: models.EntitiesToInfo(scene.Query(shape)),
	})
}

func (a *SceneAPI) handleNearest(w http.ResponseWriter, r *http.Request) {
	scene, _, err := a.scene(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()

	var point geometry.Vector3f
	for _, c := range []struct {
		name string
		v    *float32
	}{
		{name: "x", v: &point.X},
		{name: "y", v: &point.Y},
		{name: "z", v: &point.Z},
	} {
		if *c.v, err = parseFloat(q.Get(c.name)); err != nil {
			writeError(w, r, invalidParam(c.name, err))
			return
		}
	}

	count := defaultNearestCount
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count <= 0 {
			writeError(w, r, errors.New("count must be a positive integer").
				WithType(ErrTypeBadRequest).
				WithTag("count", v))
			return
		}
	}

	var exact bool
	if v := q.Get("exact"); v != "" {
		if exact, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, invalidParam("exact", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, EntitiesResponse{
		Entities: models.EntitiesToInfo(scene.Nearest(point, count, exact)),
	})
}

func (a *SceneAPI) scene(r *http.Request) (*models.Scene, string, error) {
	sceneID := r.PathValue("scene")

	scene, err := a.Scenes.Get(sceneID)
	if err != nil {
		return nil, "", err
	}
	return scene, sceneID, nil
}

func parseFloat(s string) (float32, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.New("reading request body failed").Wrap(err)
	}

	if len(b) == 0 {
		return nil
	}

	if err := json.Unmarshal(b, v); err != nil {
		return errors.New("decoding request body failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return nil
}

func invalidParam(name string, err error) error {
	return errors.New("invalid query parameter").
		WithType(ErrTypeBadRequest).
		WithTag("param", name).
		Wrap(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			Error(err)
	} else {
		logs.WithTag("method", r.Method).
			WithTag("path", r.URL.Path).
			WithTag("error_type", errors.Type(err)).
			Debug(err.Error())
	}

	code := errors.Type(err)
	if code == "" {
		code = "internal"
	}

	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func statusCode(err error) int {
	switch errors.Type(err) {
	case models.ErrTypeSceneNotFound,
		models.ErrTypeEntityNotFound:
		return http.StatusNotFound

	case ErrTypeBadRequest,
		handle.ErrTypeInvalidHandle,
		models.ErrTypeInvalidPose,
		models.ErrTypeInvalidShape,
		sceneindex.ErrTypeInvalidBounds:
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
