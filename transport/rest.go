package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/emberhq/ember"
	"github.com/emberhq/ember/asset"
	"github.com/emberhq/ember/internal/imgconv"
	"github.com/emberhq/ember/store"
)

// maxBodyBytes is the 20 MB request body cap spec.md's external interfaces
// section names for REST uploads.
const maxBodyBytes = 20 << 20

// modelLister is implemented by providers that can proxy an upstream model
// catalogue; providers that don't respond 501 to GET /models.
type modelLister interface {
	ListModels(ctx context.Context) (json.RawMessage, error)
}

// API wires the REST surface spec.md §6 names onto the shared orchestrator,
// tool registry, session store, and blob store.
type API struct {
	Orch     *ember.Orchestrator
	Tools    *ember.ToolRegistry
	Sessions store.SessionStore
	Blobs    store.BlobStore
	Provider ember.Provider
	Log      *slog.Logger
}

// Router builds the chi mux: CORS, request logging, panic recovery, a body
// size cap, then the route table.
func (a *API) Router() http.Handler {
	if a.Log == nil {
		a.Log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/tools", a.listTools)
	r.Post("/tools/{name}", a.invokeTool)
	r.Get("/models", a.listModels)
	r.Post("/chat/new", a.newChat)
	r.Get("/history", a.listHistory)
	r.Get("/history/{id}", a.getHistory)
	r.Delete("/history/{id}", a.deleteHistory)
	r.Get("/image/{id}", a.getImage)
	r.Post("/image", a.postImage)
	r.Get("/asset/{id}", a.getAsset)
	r.Post("/asset", a.postAsset)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tools.ModelVisible())
}

type invokeToolRequest struct {
	Args string `json:"args"`
}

func (a *API) invokeTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body invokeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	msg := a.Tools.Dispatch(r.Context(), ember.ToolUse{
		UseID:        ember.NewToolUseID(),
		FunctionName: name,
		Args:         body.Args,
	})
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) listModels(w http.ResponseWriter, r *http.Request) {
	lister, ok := a.Provider.(modelLister)
	if !ok {
		writeErr(w, http.StatusNotImplemented, fmt.Errorf("provider %q does not expose a model listing", a.Provider.Name()))
		return
	}
	raw, err := lister.ListModels(r.Context())
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (a *API) newChat(w http.ResponseWriter, r *http.Request) {
	entry := ember.ChatEntry{CreatedAt: ember.NowUnix()}
	meta := ember.ChatMeta{CreatedAt: entry.CreatedAt}
	id, err := a.Sessions.Append(r.Context(), meta, entry)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	entry.ID = id
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50)
	offset := intParam(r, "offset", 0)
	metas, err := a.Sessions.List(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func intParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) {
	id, err := ember.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.Sessions.GetData(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id, err := ember.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	entry, err := a.Sessions.Delete(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	for _, m := range entry.Messages {
		for _, c := range m.Content {
			if c.Kind == ember.ContentImageRef || c.Kind == ember.ContentAssetRef {
				_, _ = a.Blobs.Release(r.Context(), c.AssetID)
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) getImage(w http.ResponseWriter, r *http.Request) {
	id, err := asset.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	data, err := a.Blobs.Get(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	ct := http.DetectContentType(data)
	if ct == "application/octet-stream" {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(data)
}

type uploadResult struct {
	File string `json:"file"`
	UUID string `json:"uuid"`
}

func (a *API) postImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var results []uploadResult
	for name, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			if png, err := imgconv.ToPNG(data); err == nil {
				data = png
			}
			id, err := a.Blobs.Save(r.Context(), data)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			results = append(results, uploadResult{File: name, UUID: id.String()})
		}
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) getAsset(w http.ResponseWriter, r *http.Request) {
	id, err := asset.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	data, err := a.Blobs.Get(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (a *API) postAsset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var results []uploadResult
	for name, headers := range r.MultipartForm.File {
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			id, err := a.Blobs.Save(r.Context(), data)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
			results = append(results, uploadResult{File: name, UUID: id.String()})
		}
	}
	writeJSON(w, http.StatusOK, results)
}
