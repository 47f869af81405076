// Package api exposes the local HTTP control surface: listing chores,
// marking them complete or due, and a health probe. It binds to
// localhost by default and carries no auth of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"choretracker/internal/chore"
	"choretracker/internal/scheduler"
	logx "choretracker/pkg/logx"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Directory is the chore lookup surface the handlers operate on.
type Directory interface {
	Views() []chore.View
	Get(id string) (*chore.Chore, bool)
	Len() int
}

// Sched is the optional scheduler diagnostics source for /healthz.
type Sched interface {
	SnapshotState() scheduler.Snapshot
}

type Server struct {
	cfg   Config
	log   logx.Logger
	dir   Directory
	sched Sched

	srv *http.Server
}

func NewServer(cfg Config, dir Directory, sched Sched, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, dir: dir, sched: sched}

	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/chores", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/chores/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/chores/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	r.HandleFunc("/chores/{id}/due", s.handleDue).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() {
	go func() {
		s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("api shutdown", logx.Err(err))
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Chores int    `json:"chores"`
	Wakes  int    `json:"wakes,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Chores: s.dir.Len()}
	if s.sched != nil {
		resp.Wakes = len(s.sched.SnapshotState().Wakes)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Views())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.MarkComplete(r.Context())
	writeJSON(w, http.StatusOK, c.View())
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.MarkDue(r.Context())
	writeJSON(w, http.StatusOK, c.View())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*chore.Chore, bool) {
	id := mux.Vars(r)["id"]
	c, ok := s.dir.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown chore: " + id})
		return nil, false
	}
	return c, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
