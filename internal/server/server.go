package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wavetp/kgraph/internal/engine"
	"github.com/wavetp/kgraph/internal/event"
	"github.com/wavetp/kgraph/internal/store"
)

// Server is the kgraph HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over an open store and engine.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/kg", func(r chi.Router) {
		r.Get("/_health", s.handleHealth)

		r.Post("/events", s.handleIngest)
		r.Get("/query", s.handleQuery)
		r.Get("/thread", s.handleThread)

		r.Get("/view/thread", s.handleViewThread)
		r.Get("/view/visits", s.handleViewVisits)
		r.Get("/view/memory", s.handleViewMemory)

		r.Get("/search", s.handleSearch)
		r.Post("/upsert-entity", s.handleUpsertEntity)
		r.Post("/forget", s.handleForget)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": code})
}

// fail maps the error taxonomy onto the wire: validation errors are the
// caller's fault and carry their stable code; everything else is db_error.
func fail(w http.ResponseWriter, where string, err error) {
	var verr *event.ValidationError
	if errors.As(err, &verr) {
		writeErr(w, http.StatusBadRequest, verr.Code)
		return
	}
	log.Printf("[%s] %v", where, err)
	writeErr(w, http.StatusInternalServerError, "db_error")
}
