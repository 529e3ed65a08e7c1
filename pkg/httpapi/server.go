// Package httpapi implements the HTTP surface of spec.md §6.1, routed with
// go-chi/chi/v5.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storyforge/engine/pkg/chat"
	"github.com/storyforge/engine/pkg/executor"
	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/session"
	"github.com/storyforge/engine/pkg/storyerr"
	"github.com/storyforge/engine/pkg/traffic"
)

// Server wires the engine's components into an http.Handler.
type Server struct {
	loader   *ir.Loader
	exec     *executor.Executor
	registry *nodes.Registry
	store    *session.Store
	pipeline *chat.Pipeline
	recorder *traffic.Recorder
	logger   *slog.Logger

	router chi.Router
}

// NewServer builds the router described in spec.md §6.1.
func NewServer(loader *ir.Loader, exec *executor.Executor, registry *nodes.Registry, store *session.Store, pipeline *chat.Pipeline, recorder *traffic.Recorder, logger *slog.Logger) *Server {
	s := &Server{loader: loader, exec: exec, registry: registry, store: store, pipeline: pipeline, recorder: recorder, logger: logger}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/flow", func(r chi.Router) {
		r.Post("/run", s.handleFlowRun)
		r.Post("/validate", s.handleFlowValidate)
		r.Post("/reload", s.handleFlowReload)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/session/start", s.handleSessionStart)
		r.Post("/send", s.handleSend)
		r.Get("/round/{session}/{branch}/{round}/status", s.handleRoundStatus)
		r.Post("/round/reroll", s.handleReroll)
		r.Post("/branch", s.handleBranch)
	})

	r.Route("/api/debug", func(r chi.Router) {
		r.Get("/traffic", s.handleTrafficList)
		r.Post("/traffic/clear", s.handleTrafficClear)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := storyerr.HTTPStatusFor(err)
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func nativeToRecord(m map[string]any) items.Record {
	if m == nil {
		return items.Record{}
	}
	v := items.FromNative(m)
	rec, _ := v.AsRecord()
	return rec
}
