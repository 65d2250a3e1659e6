package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/metrics"
)

// sessionView is the control API representation of a session.
type sessionView struct {
	SessionID   int32 `json:"session_id"`
	Width       int   `json:"res_x"`
	Height      int   `json:"res_y"`
	Version     int32 `json:"version"`
	Initialized bool  `json:"initialized"`
	IdleMs      int64 `json:"idle_ms"`
}

// Router returns the control API: the scheduler opens sessions through
// POST /v1/sessions.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(metrics.RequestLogger("server"))
	if s.metrics != nil {
		r.Use(metrics.RequestMiddleware(s.metrics))
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler(func() {
			s.metrics.SetSessions(s.sessions.len())
		}))
	}
	r.Route(discovery.SessionsPath, func(r chi.Router) {
		r.Post("/", s.handleOpenSession)
		r.Get("/", s.handleListSessions)
		r.Delete("/{id}", s.handleStopSession)
	})
	return r
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req discovery.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.handleOpenSession",
		"res_x":    req.Width,
		"res_y":    req.Height,
		"version":  req.Version,
	}).Info("Received session request")

	id, err := s.StartSession(req.Width, req.Height, req.Version)
	if err != nil {
		writeJSON(w, http.StatusOK, discovery.SessionInfo{Status: discovery.StatusUnavailable})
		return
	}
	writeJSON(w, http.StatusOK, discovery.SessionInfo{Status: discovery.StatusOK, SessionID: id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	sessions := s.sessions.list()
	views := make([]sessionView, len(sessions))
	for i, sess := range sessions {
		views[i] = sessionView{
			SessionID:   sess.id,
			Width:       sess.res.Width,
			Height:      sess.res.Height,
			Version:     sess.version,
			Initialized: sess.initialized(),
			IdleMs:      sess.idle(now).Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.StopSession(int32(id)) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Warn("Failed to write response")
	}
}
