package transport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Server bundles the WebSocket control endpoint and the REST surface
// behind one listener: "/ws" for the chat protocol, everything else
// delegated to the REST router.
type Server struct {
	API *API
	Log *slog.Logger
}

// Handler builds the combined mux.
func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}
	r := chi.NewRouter()
	r.Get("/ws", ServeWS(s.API.Orch, s.Log).ServeHTTP)
	r.Mount("/", s.API.Router())
	return r
}
