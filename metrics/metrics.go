// Package metrics holds the Prometheus collectors exported by the client,
// server and scheduler binaries. The Set, Inc and Add methods of Client,
// Server and Scheduler are no-ops on a nil receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rendercast"

// base carries the registry and the HTTP request counters shared by every
// binary.
type base struct {
	registry      *prometheus.Registry
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
}

func newBase(subsystem string) base {
	b := base{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}
	b.registry.MustRegister(b.requestsTotal, b.errorsTotal)
	return b
}

// IncRequests increments the HTTP request counter.
func (b *base) IncRequests() {
	b.requestsTotal.Inc()
}

// IncErrors increments the HTTP error counter.
func (b *base) IncErrors() {
	b.errorsTotal.Inc()
}

// Registry exposes the underlying registry.
func (b *base) Registry() *prometheus.Registry {
	return b.registry
}

// Handler serves the registry. updateGauges runs before each scrape.
func (b *base) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

// Client holds the display client's collectors.
type Client struct {
	base
	delay           prometheus.Gauge
	onTimeRate      prometheus.Gauge
	activeSessions  prometheus.Gauge
	framesIssued    prometheus.Counter
	framesShown     prometheus.Counter
	framesSkipped   prometheus.Counter
	bytesUp         prometheus.Counter
	bytesDown       prometheus.Counter
	sessionsAdded   prometheus.Counter
	sessionsEvicted prometheus.Counter
}

// NewClient creates and registers the client collectors.
func NewClient() *Client {
	c := &Client{
		base: newBase("client"),
		delay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "display_delay_milliseconds",
			Help:      "Current display delay budget",
		}),
		onTimeRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "on_time_rate",
			Help:      "Fraction of recent frames that arrived before their display deadline",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "active_sessions",
			Help:      "Number of render servers currently in use",
		}),
		framesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_issued_total",
			Help:      "Frame requests sent to render servers",
		}),
		framesShown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_displayed_total",
			Help:      "Frames handed to the display",
		}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_skipped_total",
			Help:      "Display ticks without a frame",
		}),
		bytesUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "upload_bytes_total",
			Help:      "Bytes of frame requests sent",
		}),
		bytesDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "download_bytes_total",
			Help:      "Bytes of frame responses received",
		}),
		sessionsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "sessions_added_total",
			Help:      "Render server sessions opened",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "sessions_evicted_total",
			Help:      "Render server sessions dropped for poor delivery",
		}),
	}
	c.registry.MustRegister(
		c.delay, c.onTimeRate, c.activeSessions,
		c.framesIssued, c.framesShown, c.framesSkipped,
		c.bytesUp, c.bytesDown, c.sessionsAdded, c.sessionsEvicted,
	)
	return c
}

// SetDelay records the display delay in milliseconds.
func (c *Client) SetDelay(ms float64) {
	if c != nil {
		c.delay.Set(ms)
	}
}

// SetOnTimeRate records the last evaluated on-time rate.
func (c *Client) SetOnTimeRate(rate float64) {
	if c != nil {
		c.onTimeRate.Set(rate)
	}
}

// SetActiveSessions records the number of active sessions.
func (c *Client) SetActiveSessions(n int) {
	if c != nil {
		c.activeSessions.Set(float64(n))
	}
}

// IncFramesIssued counts one frame request.
func (c *Client) IncFramesIssued() {
	if c != nil {
		c.framesIssued.Inc()
	}
}

// IncFramesShown counts one displayed frame.
func (c *Client) IncFramesShown() {
	if c != nil {
		c.framesShown.Inc()
	}
}

// IncFramesSkipped counts one display tick without a frame.
func (c *Client) IncFramesSkipped() {
	if c != nil {
		c.framesSkipped.Inc()
	}
}

// AddUpload counts sent bytes.
func (c *Client) AddUpload(n int) {
	if c != nil {
		c.bytesUp.Add(float64(n))
	}
}

// AddDownload counts received bytes.
func (c *Client) AddDownload(n int) {
	if c != nil {
		c.bytesDown.Add(float64(n))
	}
}

// IncSessionsAdded counts one opened session.
func (c *Client) IncSessionsAdded() {
	if c != nil {
		c.sessionsAdded.Inc()
	}
}

// IncSessionsEvicted counts one evicted session.
func (c *Client) IncSessionsEvicted() {
	if c != nil {
		c.sessionsEvicted.Inc()
	}
}

// Server holds the render server's collectors.
type Server struct {
	base
	sessions       prometheus.Gauge
	framesRendered prometheus.Counter
	framesEncoded  prometheus.Counter
	framesSent     prometheus.Counter
	invalidPackets *prometheus.CounterVec
	queueDrops     *prometheus.CounterVec
}

// NewServer creates and registers the server collectors.
func NewServer() *Server {
	s := &Server{
		base: newBase("server"),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Open render sessions",
		}),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_rendered_total",
			Help:      "Frames rendered",
		}),
		framesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_encoded_total",
			Help:      "Frames produced by encoders",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_sent_total",
			Help:      "Frame responses queued for sending",
		}),
		invalidPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "invalid_requests_total",
			Help:      "Frame requests dropped during validation",
		}, []string{"reason"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "queue_drops_total",
			Help:      "Items dropped because a bounded queue was full",
		}, []string{"queue"}),
	}
	s.registry.MustRegister(s.sessions, s.framesRendered, s.framesEncoded, s.framesSent, s.invalidPackets, s.queueDrops)
	return s
}

// SetSessions records the number of open sessions.
func (s *Server) SetSessions(n int) {
	if s != nil {
		s.sessions.Set(float64(n))
	}
}

// IncFramesRendered counts one rendered frame.
func (s *Server) IncFramesRendered() {
	if s != nil {
		s.framesRendered.Inc()
	}
}

// IncFramesEncoded counts one encoder output.
func (s *Server) IncFramesEncoded() {
	if s != nil {
		s.framesEncoded.Inc()
	}
}

// IncFramesSent counts one queued response.
func (s *Server) IncFramesSent() {
	if s != nil {
		s.framesSent.Inc()
	}
}

// IncInvalidRequest counts one dropped request by reason.
func (s *Server) IncInvalidRequest(reason string) {
	if s != nil {
		s.invalidPackets.WithLabelValues(reason).Inc()
	}
}

// IncQueueDrop counts one item dropped from queue.
func (s *Server) IncQueueDrop(queue string) {
	if s != nil {
		s.queueDrops.WithLabelValues(queue).Inc()
	}
}

// Scheduler holds the scheduler's collectors.
type Scheduler struct {
	base
	assignments *prometheus.CounterVec
}

// NewScheduler creates and registers the scheduler collectors.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		base: newBase("scheduler"),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "assignments_total",
			Help:      "Assignment requests by outcome",
		}, []string{"result"}),
	}
	s.registry.MustRegister(s.assignments)
	return s
}

// IncAssignment counts one assignment request by result.
func (s *Scheduler) IncAssignment(result string) {
	if s != nil {
		s.assignments.WithLabelValues(result).Inc()
	}
}
