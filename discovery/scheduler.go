package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendercast/metrics"
)

// SessionsPath is the render server control route that opens sessions.
const SessionsPath = "/v1/sessions"

// DefaultOpenSessionTimeout bounds the call to a render server's control API.
const DefaultOpenSessionTimeout = 2 * time.Second

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	OpenSessionTimeout time.Duration
	HTTPClient         *http.Client
	Metrics            *metrics.Scheduler
}

// Scheduler assigns clients to render servers from a static list. It picks
// the first server the client has not excluded and opens a session on it.
type Scheduler struct {
	servers []ServerEntry
	timeout time.Duration
	client  *http.Client
	metrics *metrics.Scheduler
}

// NewScheduler creates a scheduler over servers.
func NewScheduler(servers []ServerEntry, cfg SchedulerConfig) *Scheduler {
	if cfg.OpenSessionTimeout <= 0 {
		cfg.OpenSessionTimeout = DefaultOpenSessionTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Scheduler{
		servers: append([]ServerEntry(nil), servers...),
		timeout: cfg.OpenSessionTimeout,
		client:  cfg.HTTPClient,
		metrics: cfg.Metrics,
	}
}

// Servers returns the configured server list.
func (s *Scheduler) Servers() []ServerEntry {
	return append([]ServerEntry(nil), s.servers...)
}

// Select returns the first server whose render endpoint is not in exclude.
func (s *Scheduler) Select(exclude []string) (ServerEntry, bool) {
	for _, server := range s.servers {
		excluded := false
		for _, addr := range exclude {
			if server.matches(addr) {
				excluded = true
				break
			}
		}
		if !excluded {
			return server, true
		}
	}
	return ServerEntry{}, false
}

// Assign selects a server for req and opens a session on it.
func (s *Scheduler) Assign(ctx context.Context, req Request) AssignReply {
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Scheduler.Assign",
		"client_id": req.ClientID.String(),
		"version":   req.Version,
		"res_x":     req.Width,
		"res_y":     req.Height,
	})
	logger.Info("Received assignment request")

	server, ok := s.Select(req.Exclude)
	if !ok {
		logger.Warn("No render server left after exclusions")
		s.metrics.IncAssignment("no_server")
		return AssignReply{Status: StatusUnavailable}
	}

	info, err := s.OpenSession(ctx, server, OpenSessionRequest{Version: req.Version, Width: req.Width, Height: req.Height})
	if err != nil {
		logger.WithFields(logrus.Fields{
			"server": server.RenderAddr(),
			"error":  err.Error(),
		}).Warn("Could not open session")
		s.metrics.IncAssignment("open_failed")
		return AssignReply{Status: StatusUnavailable}
	}
	if info.Status != StatusOK {
		logger.WithField("server", server.RenderAddr()).Warn("Server refused session")
		s.metrics.IncAssignment("refused")
		return AssignReply{Status: info.Status}
	}

	logger.WithFields(logrus.Fields{
		"server":     server.RenderAddr(),
		"session_id": info.SessionID,
	}).Info("Assigned client to server")
	s.metrics.IncAssignment("ok")
	return AssignReply{
		Status: StatusOK,
		Assignment: Assignment{
			Host:      server.Host,
			Port:      server.RenderPort,
			SessionID: info.SessionID,
		},
	}
}

// OpenSession calls the control API of server.
func (s *Scheduler) OpenSession(ctx context.Context, server ServerEntry, req OpenSessionRequest) (SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return SessionInfo{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, server.ControlURL()+SessionsPath, bytes.NewReader(body))
	if err != nil {
		return SessionInfo{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("open session on %s: %w", server.ControlURL(), err)
	}
	defer resp.Body.Close()

	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	return info, nil
}

// Router returns the scheduler's HTTP routes.
func (s *Scheduler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(metrics.RequestLogger("scheduler"))
	if s.metrics != nil {
		r.Use(metrics.RequestMiddleware(s.metrics))
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler(nil))
	}
	r.Post(AssignPath, s.handleAssign)
	r.Get("/v1/servers", s.handleServers)
	return r
}

func (s *Scheduler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Scheduler.handleAssign",
			"error":    err.Error(),
		}).Debug("Invalid assignment body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.Assign(r.Context(), req))
}

type serverView struct {
	Host        string `json:"host"`
	RenderPort  int    `json:"render_port"`
	ControlPort int    `json:"control_port"`
}

func (s *Scheduler) handleServers(w http.ResponseWriter, _ *http.Request) {
	views := make([]serverView, len(s.servers))
	for i, e := range s.servers {
		views[i] = serverView{Host: e.Host, RenderPort: e.RenderPort, ControlPort: e.ControlPort}
	}
	writeJSON(w, http.StatusOK, views)
}

// writeJSON encodes v as the response body.
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
