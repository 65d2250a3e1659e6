package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/transport"
)

// discoveryLoop asks the finder for another server every RequestPeriod while
// fewer than TargetServerCount sessions are open.
func (c *Client) discoveryLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.RequestPeriod)
	defer ticker.Stop()

	for {
		if c.sessions.len() < c.config.TargetServerCount {
			c.findServer(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// findServer runs one discovery attempt and hands a new session to the
// control loop. Failures are logged and retried on the next period.
func (c *Client) findServer(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	assignment, err := c.finder.FindServer(fctx, discovery.Request{
		ClientID: c.id,
		Version:  c.config.GameVersion,
		Width:    int32(c.config.Resolution.Width),
		Height:   int32(c.config.Resolution.Height),
	})
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.findServer",
				"error":    err.Error(),
			}).Debug("No render server assigned")
		}
		return
	}

	remote, err := net.ResolveUDPAddr("udp", assignment.Addr())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.findServer",
			"server":   assignment.Addr(),
			"error":    err.Error(),
		}).Warn("Cannot resolve render server")
		return
	}

	conn, err := c.dial(ctx, remote, c.config.Transport)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.findServer",
			"server":   remote.String(),
			"error":    err.Error(),
		}).Warn("Cannot connect to render server")
		return
	}

	decoder, err := c.newDecoder(c.config.Resolution.Width, c.config.Resolution.Height)
	if err != nil {
		_ = conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Client.findServer",
			"error":    err.Error(),
		}).Error("Cannot create decoder")
		return
	}

	s := newSession(assignment.SessionID, conn, decoder,
		newHealthTracker(c.config.TimeToKill, c.config.OnTimeRateRequirement))
	select {
	case c.added <- s:
	case <-ctx.Done():
		s.close(false)
	}
}

// sendLoop issues one frame request per tick.
func (c *Client) sendLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.Delay.TickInterval())
	defer ticker.Stop()

	cursor := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.issue(ctx, &cursor)
		}
	}
}

// issue allocates the next sequence number and, when a session and a scene
// are available, sends it to the next session in round-robin order and
// schedules its fold.
func (c *Client) issue(ctx context.Context, cursor *int) {
	seq := c.ring.Next()

	sessions := c.sessions.list()
	if len(sessions) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Client.issue",
			"sequence": seq,
		}).Debug("No active session, skipping frame")
		c.skip(seq)
		return
	}
	if !c.hasScene() {
		if c.sceneWarned.CompareAndSwap(false, true) {
			logrus.WithFields(logrus.Fields{
				"function": "Client.issue",
				"sequence": seq,
			}).Warn("Scene snapshot not yet produced, skipping frames")
		}
		c.skip(seq)
		return
	}
	c.sceneWarned.Store(false)

	*cursor = (*cursor + 1) % len(sessions)
	s := sessions[*cursor]
	if s.sending.Load() {
		logrus.WithFields(logrus.Fields{
			"function": "Client.issue",
			"server":   s.remote(),
			"sequence": seq,
		}).Warn("Send operation too slow, dropping frame request")
		c.skip(seq)
		return
	}

	data, err := c.buildRequest(s.id, seq)
	if err != nil || data == nil {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.issue",
				"error":    err.Error(),
			}).Warn("Cannot build frame request")
		}
		c.skip(seq)
		return
	}

	now := c.clock.Now()
	if err := c.ring.Begin(seq, s.handle, now); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.issue",
			"sequence": seq,
			"error":    err.Error(),
		}).Warn("Frame slot busy, dropping frame request")
		c.skipped()
		return
	}

	s.sending.Store(true)
	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		defer s.sending.Store(false)
		if err := s.conn.Send(ctx, data); err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.issue",
				"server":   s.remote(),
				"sequence": seq,
				"error":    err.Error(),
			}).Debug("Frame request send failed")
		}
	}()

	c.stats.AddUpload(len(data))
	c.metrics.AddUpload(len(data))
	c.metrics.IncFramesIssued()

	// The fold queue holds at most one entry per ring slot.
	select {
	case c.folds <- fold{seq: seq, due: now.Add(c.delay.Delay()), handle: s.handle}:
	case <-ctx.Done():
	}
}

// skip leaves seq without a request. An earlier frame still waiting in the
// slot keeps it until its fold.
func (c *Client) skip(seq int32) {
	if err := c.ring.Skip(seq); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.skip",
			"error":    err.Error(),
		}).Debug("Slot still held by an unfolded frame")
	}
	c.skipped()
}

func (c *Client) skipped() {
	c.stats.AddSkipped()
	c.metrics.IncFramesSkipped()
}

// foldLoop waits for each issued frame's deadline, in issue order.
func (c *Client) foldLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.folds:
			if wait := f.due.Sub(c.clock.Now()); wait > 0 {
				timer := c.clock.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C():
				}
			}
			c.foldFrame(f)
		}
	}
}

// foldFrame hands a Ready frame to the display and records whether the
// frame's response arrived in time.
func (c *Client) foldFrame(f fold) {
	state := c.ring.Consume(f.seq, c.display.Publish)

	switch state {
	case av.FrameIdle:
		logrus.WithFields(logrus.Fields{
			"function": "Client.foldFrame",
			"sequence": f.seq,
		}).Warn("Frame slot reissued before its deadline, delay may be too long")
	case av.FrameReady:
		c.stats.AddShown()
		c.metrics.IncFramesShown()
	}

	arrived := state.Arrived()
	c.delay.Record(arrived)
	c.metrics.SetOnTimeRate(c.delay.OnTimeRate())
	if owner := c.sessions.get(f.handle); owner != nil {
		owner.onTime.Record(arrived)
	}
}

// receiveLoop decodes the responses of one session until its transport is
// closed.
func (c *Client) receiveLoop(s *session) {
	defer c.receivers.Done()
	defer close(s.done)

	for message := range s.conn.Messages() {
		c.handleResponse(s, message)
	}
}

func (c *Client) handleResponse(s *session, message []byte) {
	c.stats.AddDownload(len(message))
	c.metrics.AddDownload(len(message))

	resp, err := transport.ParseFrameResponse(message)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleResponse",
			"server":   s.remote(),
			"error":    err.Error(),
		}).Debug("Invalid frame response")
		return
	}

	result, err := c.ring.Complete(resp.FrameSeq, func(pixels []byte) (bool, error) {
		start := c.clock.Now()
		ok, err := s.decoder.Decode(resp.Payload, pixels)
		c.stats.AddDecode(c.clock.Now().Sub(start))
		return ok, err
	})
	switch {
	case errors.Is(err, av.ErrOutOfWindow):
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleResponse",
			"server":   s.remote(),
			"sequence": resp.FrameSeq,
		}).Warn("Received frame out of window, dropping")
		return
	case errors.Is(err, av.ErrStaleFrame), errors.Is(err, av.ErrLateFrame), errors.Is(err, av.ErrDuplicateFrame):
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleResponse",
			"server":   s.remote(),
			"error":    err.Error(),
		}).Debug("Dropping frame response")
		return
	case err != nil:
		logrus.WithFields(logrus.Fields{
			"function": "Client.handleResponse",
			"server":   s.remote(),
			"error":    err.Error(),
		}).Error("Frame decode failed")
	}

	if owner := c.sessions.get(result.Handle); owner != nil {
		owner.success.Record(result.State == av.FrameReady)
		owner.latency.Add(c.clock.Now().Sub(result.IssuedAt))
	}
}

// controlLoop is the only writer of the session table. It registers new
// sessions and evicts those that stay below the on-time requirement for
// TimeToKill. All sessions are closed when ctx ends.
func (c *Client) controlLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.HealthCheckPeriod)
	defer ticker.Stop()
	defer c.closeAll()

	last := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-c.added:
			c.addSession(s)
		case <-ticker.C():
			now := c.clock.Now()
			c.checkHealth(now.Sub(last))
			last = now
		}
	}
}

func (c *Client) addSession(s *session) {
	handle := c.sessions.add(s)
	c.finder.Exclude(s.remote())

	c.receivers.Add(1)
	go c.receiveLoop(s)

	c.metrics.IncSessionsAdded()
	c.metrics.SetActiveSessions(c.sessions.len())

	logrus.WithFields(logrus.Fields{
		"function":   "Client.addSession",
		"server":     s.remote(),
		"session_id": s.id,
		"handle":     handle.String(),
		"sessions":   c.sessions.len(),
	}).Info("Render session added")
}

func (c *Client) checkHealth(elapsed time.Duration) {
	for _, s := range c.sessions.list() {
		rate := s.onTime.Rate(c.config.SessionHistoryLength)
		if !s.health.check(rate, elapsed) {
			continue
		}
		c.sessions.remove(s.handle)
		s.close(true)

		c.metrics.IncSessionsEvicted()
		c.metrics.SetActiveSessions(c.sessions.len())

		logrus.WithFields(logrus.Fields{
			"function":     "Client.checkHealth",
			"server":       s.remote(),
			"session_id":   s.id,
			"on_time_rate": rate,
		}).Warn("Render session evicted")
	}
}

func (c *Client) closeAll() {
	for _, s := range c.sessions.list() {
		c.sessions.remove(s.handle)
		s.close(true)
	}
	c.metrics.SetActiveSessions(0)
}

// statsLoop logs a frame report every StatsPeriod.
func (c *Client) statsLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.config.StatsPeriod)
	defer ticker.Stop()

	last := c.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			now := c.clock.Now()
			c.logStats(now.Sub(last))
			last = now
		}
	}
}

func (c *Client) logStats(period time.Duration) {
	report := c.stats.Report(period, c.delay)
	logrus.WithFields(logrus.Fields{
		"function": "Client.logStats",
		"skipped":  report.FramesSkipped,
		"sessions": c.sessions.len(),
	}).Info(formatReport(report))

	sessions := c.sessions.list()
	if len(sessions) == 0 {
		return
	}
	var sb strings.Builder
	for _, s := range sessions {
		sb.WriteString(c.formatSession(s))
	}
	logrus.WithFields(logrus.Fields{
		"function": "Client.logStats",
	}).Info(sb.String())
}

func formatReport(r av.StatsReport) string {
	return fmt.Sprintf("FPS %.1f | Delay %dms | Upload %.0fKB/s | Download %.0fKB/s | OnTime %.1f%% | Decode %.2fms",
		r.FPS,
		r.Delay.Milliseconds(),
		r.UploadKBps,
		r.DownloadKBps,
		r.OnTimeRate*100,
		float64(r.AverageDecode)/float64(time.Millisecond))
}

func (c *Client) formatSession(s *session) string {
	latency, _ := s.latency.AverageAndReset()
	return fmt.Sprintf(" <%s | Delay %dms | OnTime %.1f%% | Success %.1f%%>",
		s.remote(),
		latency.Milliseconds(),
		s.onTime.Rate(c.config.SessionHistoryLength)*100,
		s.success.Rate(c.config.SessionHistoryLength)*100)
}
