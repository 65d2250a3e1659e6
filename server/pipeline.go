package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendercast/render"
	"github.com/opd-ai/rendercast/transport"
)

// encodeJob is one rendered picture waiting for its session's encoder.
type encodeJob struct {
	remote  *net.UDPAddr
	session *session
	seq     int32
	target  *render.Target
}

// pipelineStats accumulates render and encode timings between log lines.
type pipelineStats struct {
	renderFrames atomic.Uint64
	renderNanos  atomic.Int64
	encodeFrames atomic.Uint64
	encodeNanos  atomic.Int64
}

func (p *pipelineStats) addRender(d time.Duration) {
	p.renderFrames.Add(1)
	p.renderNanos.Add(int64(d))
}

func (p *pipelineStats) addEncode(d time.Duration) {
	p.encodeFrames.Add(1)
	p.encodeNanos.Add(int64(d))
}

// line formats and resets the counters for a period of the given length.
func (p *pipelineStats) line(sessions int, period time.Duration) string {
	seconds := period.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	rf, rn := p.renderFrames.Swap(0), p.renderNanos.Swap(0)
	ef, en := p.encodeFrames.Swap(0), p.encodeNanos.Swap(0)
	return fmt.Sprintf("SessionCount %d | Render %.1fFPS %.2fms | Encode %.1fFPS %.2fms",
		sessions,
		float64(rf)/seconds, averageMillis(rn, rf),
		float64(ef)/seconds, averageMillis(en, ef))
}

func averageMillis(nanos int64, frames uint64) float64 {
	if frames == 0 {
		return 0
	}
	return float64(nanos) / float64(frames) / float64(time.Millisecond)
}

// dispatchLoop is the only goroutine that renders. It also ends idle
// sessions and logs pipeline statistics.
func (s *Server) dispatchLoop(ctx context.Context) error {
	idle := s.clock.NewTicker(s.config.tick())
	defer idle.Stop()
	logs := s.clock.NewTicker(s.config.LogPeriod)
	defer logs.Stop()

	lastLog := s.clock.Now()
	requests := s.listener.Requests()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			s.handleRequest(req)
		case <-idle.C():
			s.endIdleSessions(s.clock.Now())
		case <-logs.C():
			now := s.clock.Now()
			if n := s.sessions.len(); n > 0 {
				logrus.WithFields(logrus.Fields{
					"function": "Server.dispatchLoop",
				}).Info(s.stats.line(n, now.Sub(lastLog)))
			} else {
				s.stats.line(0, 0)
			}
			lastLog = now
		}
	}
}

// handleRequest validates one frame request, applies its scene, renders it
// and queues the picture for encoding. Invalid requests are dropped.
func (s *Server) handleRequest(req transport.Request) {
	frame, err := transport.ParseFrameRequest(req.Data)
	if err != nil {
		reason := "checksum"
		if errors.Is(err, transport.ErrPacketTooShort) {
			reason = "short"
		}
		s.metrics.IncInvalidRequest(reason)
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleRequest",
			"remote":   req.Remote.String(),
			"error":    err.Error(),
		}).Warn("Invalid frame request")
		return
	}

	sess := s.sessions.get(frame.SessionID)
	if sess == nil {
		s.metrics.IncInvalidRequest("unknown_session")
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleRequest",
			"remote":     req.Remote.String(),
			"session_id": frame.SessionID,
			"error":      ErrUnknownSession.Error(),
		}).Warn("Session not found")
		return
	}

	start := s.clock.Now()
	sc, target, err := sess.prepare(start, s.config.Registry, s.config.Database, s.config.targetBuffers())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleRequest",
			"session_id": sess.id,
			"error":      err.Error(),
		}).Error("Cannot prepare session")
		return
	}
	s.activate(sess)

	if err := sc.Apply(frame.Scene); err != nil {
		s.metrics.IncInvalidRequest("scene")
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleRequest",
			"session_id": sess.id,
			"sequence":   frame.FrameSeq,
			"error":      err.Error(),
		}).Warn("Malformed scene, frame ignored")
		return
	}

	if err := s.renderer.Render(sc, target); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleRequest",
			"session_id": sess.id,
			"error":      err.Error(),
		}).Error("Render failed")
		return
	}
	s.stats.addRender(s.clock.Now().Sub(start))
	s.metrics.IncFramesRendered()

	select {
	case s.jobs <- encodeJob{remote: req.Remote, session: sess, seq: frame.FrameSeq, target: target}:
	default:
		s.metrics.IncQueueDrop("encode")
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleRequest",
			"session_id": sess.id,
			"sequence":   frame.FrameSeq,
		}).Warn("Encode queue full, dropping frame")
	}
}

// activate marks sess as the scene being rendered and every other scene
// inactive.
func (s *Server) activate(sess *session) {
	for _, other := range s.sessions.list() {
		other.setActive(other == sess)
	}
}

func (s *Server) endIdleSessions(now time.Time) {
	for _, sess := range s.sessions.list() {
		if idle := sess.idle(now); idle >= s.config.TimeToEndSession {
			logrus.WithFields(logrus.Fields{
				"function":   "Server.endIdleSessions",
				"session_id": sess.id,
				"idle":       idle,
			}).Info("Ending idle session")
			s.StopSession(sess.id)
		}
	}
}

// encodeLoop encodes rendered pictures and queues the responses.
func (s *Server) encodeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-s.jobs:
			s.encode(job)
		}
	}
}

func (s *Server) encode(job encodeJob) {
	start := s.clock.Now()
	payload, err := job.session.encode(job.target.Pix)
	if err != nil {
		level := logrus.ErrorLevel
		if errors.Is(err, ErrSessionClosed) {
			level = logrus.DebugLevel
		}
		logrus.WithFields(logrus.Fields{
			"function":   "Server.encode",
			"session_id": job.session.id,
			"error":      err.Error(),
		}).Log(level, "Encode failed")
		return
	}
	if payload == nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.encode",
			"session_id": job.session.id,
			"sequence":   job.seq,
		}).Debug("Encoder buffering")
		return
	}
	s.stats.addEncode(s.clock.Now().Sub(start))
	s.metrics.IncFramesEncoded()

	resp := transport.FrameResponse{FrameSeq: job.seq, Payload: payload}
	data, err := resp.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.encode",
			"error":    err.Error(),
		}).Error("Cannot build frame response")
		return
	}
	if err := s.listener.Enqueue(transport.Response{Remote: job.remote, Data: data}); err != nil {
		s.metrics.IncQueueDrop("send")
		return
	}
	s.metrics.IncFramesSent()
}
