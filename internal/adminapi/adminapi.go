// Package adminapi is the executor daemon's optional HTTP/WS surface:
// /healthz mirrors --health's JSON output, /queue and /schedule expose
// inspection counters, and /ws/health streams the same snapshot live.
// Strictly additive — never required for the daemon's core operation.
package adminapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/amuzetnoM/syndicate-sub000/internal/executor"
	"github.com/amuzetnoM/syndicate-sub000/internal/schedule"
)

type Server struct {
	daemon    *executor.Daemon
	schedules *schedule.Tracker
	logger    *slog.Logger
}

func New(daemon *executor.Daemon, schedules *schedule.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{daemon: daemon, schedules: schedules, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/queue", s.handleQueue)
	r.Get("/schedule", s.handleSchedule)
	r.Get("/ws/health", s.handleHealthStream)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h, err := s.daemon.Health(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	h, err := s.daemon.Health(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.QueueDepth)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	rows, err := s.schedules.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleHealthStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	ctx := r.Context()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h, err := s.daemon.Health(ctx)
			if err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = wsjson.Write(writeCtx, conn, h)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
