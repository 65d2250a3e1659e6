package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/metrics"
	"github.com/opd-ai/rendercast/render"
	"github.com/opd-ai/rendercast/transport"
)

// Option customizes a Server.
type Option func(*Server)

// WithMetrics exports server collectors and serves them on the control API.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTimeProvider replaces the system clock.
func WithTimeProvider(tp av.TimeProvider) Option {
	return func(s *Server) { s.clock = tp }
}

// Server renders frames for the sessions opened through its control API.
//
// A single dispatch goroutine validates requests, applies the session's
// scene and renders it; an encode goroutine compresses the rendered
// pictures and queues the responses on the listener.
type Server struct {
	config     Config
	renderer   render.Renderer
	newEncoder video.EncoderFactory
	metrics    *metrics.Server
	clock      av.TimeProvider

	sessions *sessionTable
	jobs     chan encodeJob
	stats    pipelineStats

	bindOnce sync.Once
	bindErr  error
	listener *transport.Listener
	control  net.Listener

	running atomic.Bool
}

// New creates a server. Sockets are bound by Listen or Run.
//
// Parameters:
//   - cfg: Runtime parameters (see DefaultConfig and FromFile)
//   - renderer: Draws a session's scene into a render target
//   - encoders: Creates one encoder per session
//   - opts: Optional overrides
//
// Returns:
//   - *Server: The server
//   - error: If the configuration is unusable
func New(cfg Config, renderer render.Renderer, encoders video.EncoderFactory, opts ...Option) (*Server, error) {
	if renderer == nil || encoders == nil {
		return nil, fmt.Errorf("%w: renderer and encoder factory are required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:     cfg,
		renderer:   renderer,
		newEncoder: encoders,
		sessions:   newSessionTable(),
		jobs:       make(chan encodeJob, cfg.EncodeQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = av.GetTimeProvider(s.clock)
	return s, nil
}

// Listen binds the render socket and, when configured, the control socket.
// Run calls it if needed; calling it first lets callers read the bound
// addresses.
func (s *Server) Listen(ctx context.Context) error {
	s.bindOnce.Do(func() {
		l, err := transport.Listen(ctx, s.config.ListenAddr, s.config.Listener)
		if err != nil {
			s.bindErr = err
			return
		}
		if s.config.ControlAddr != "" {
			var lc net.ListenConfig
			control, err := lc.Listen(ctx, "tcp", s.config.ControlAddr)
			if err != nil {
				_ = l.Close()
				s.bindErr = fmt.Errorf("listen control %s: %w", s.config.ControlAddr, err)
				return
			}
			s.control = control
		}
		s.listener = l

		logrus.WithFields(logrus.Fields{
			"function": "Server.Listen",
			"render":   l.LocalAddr().String(),
			"control":  s.config.ControlAddr,
		}).Info("Render server listening")
	})
	return s.bindErr
}

// LocalAddr returns the bound render address, or nil before Listen.
func (s *Server) LocalAddr() *net.UDPAddr {
	if s.listener == nil {
		return nil
	}
	return s.listener.LocalAddr()
}

// ControlAddr returns the bound control address, or nil when disabled.
func (s *Server) ControlAddr() net.Addr {
	if s.control == nil {
		return nil
	}
	return s.control.Addr()
}

// Run serves until ctx is cancelled, then stops every session.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := s.Listen(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listener.Run(gctx) })
	g.Go(func() error { return s.dispatchLoop(gctx) })
	g.Go(func() error { return s.encodeLoop(gctx) })
	if s.control != nil {
		srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(s.control); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	_ = s.listener.Close()
	for _, sess := range s.sessions.list() {
		s.StopSession(sess.id)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Run",
	}).Info("Render server stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StartSession opens a session for pictures of width x height. Render
// resources are allocated on the session's first frame request.
//
// Returns:
//   - int32: The new session id
//   - error: If the size is invalid or the encoder cannot be created
func (s *Server) StartSession(width, height, version int32) (int32, error) {
	res := video.Resolution{Width: int(width), Height: int(height)}
	if err := res.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.StartSession",
			"res":      res.String(),
			"error":    err.Error(),
		}).Warn("Rejecting session")
		return 0, err
	}

	encoder, err := s.newEncoder(res.Width, res.Height)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.StartSession",
			"res":      res.String(),
			"error":    err.Error(),
		}).Warn("Start session failed")
		return 0, fmt.Errorf("create encoder: %w", err)
	}

	now := s.clock.Now()
	sess := s.sessions.add(func(id int32) *session {
		return newSession(id, res, version, encoder, now)
	})
	s.metrics.SetSessions(s.sessions.len())

	logrus.WithFields(logrus.Fields{
		"function":   "Server.StartSession",
		"session_id": sess.id,
		"res":        res.String(),
		"version":    version,
	}).Info("Session started")
	return sess.id, nil
}

// StopSession closes session id and releases its encoder, scene and render
// targets. It reports whether the session existed.
func (s *Server) StopSession(id int32) bool {
	sess := s.sessions.remove(id)
	if sess == nil {
		return false
	}
	if err := sess.close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.StopSession",
			"session_id": id,
			"error":      err.Error(),
		}).Warn("Failed to close encoder")
	}
	s.metrics.SetSessions(s.sessions.len())

	logrus.WithFields(logrus.Fields{
		"function":   "Server.StopSession",
		"session_id": id,
	}).Info("Session stopped")
	return true
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}
