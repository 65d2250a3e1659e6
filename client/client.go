package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/limits"
	"github.com/opd-ai/rendercast/metrics"
	"github.com/opd-ai/rendercast/scene"
	"github.com/opd-ai/rendercast/transport"
)

var (
	// ErrInvalidConfig indicates an unusable client configuration.
	ErrInvalidConfig = errors.New("invalid client configuration")

	// ErrAlreadyRunning indicates a second call to Run.
	ErrAlreadyRunning = errors.New("client already running")
)

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the UDP transport, mainly for tests.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithDecoderFactory replaces the default zlib decoder.
func WithDecoderFactory(factory video.DecoderFactory) Option {
	return func(c *Client) { c.newDecoder = factory }
}

// WithTimeProvider replaces the system clock.
func WithTimeProvider(tp av.TimeProvider) Option {
	return func(c *Client) { c.clock = tp }
}

// WithMetrics exports client collectors.
func WithMetrics(m *metrics.Client) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClientID sets the id sent to the scheduler. A random id is used otherwise.
func WithClientID(id uuid.UUID) Option {
	return func(c *Client) { c.id = id }
}

// fold is a display deadline for one issued frame.
type fold struct {
	seq    int32
	due    time.Time
	handle av.SessionHandle
}

// Client streams scene snapshots to render servers at a fixed rate and
// displays the frames that come back within the adaptive delay budget.
//
// Run starts five loops: discovery keeps TargetServerCount sessions open,
// send issues one frame request per tick round-robin over the sessions,
// fold hands each frame to the display at its deadline and feeds the delay
// controller, control adds and evicts sessions, and stats logs a report
// every StatsPeriod.
type Client struct {
	config  Config
	finder  discovery.Finder
	id      uuid.UUID
	clock   av.TimeProvider
	metrics *metrics.Client

	dial       DialFunc
	newDecoder video.DecoderFactory

	ring     *av.FrameRing
	delay    *av.DelayController
	display  *av.DisplayBuffer
	stats    av.FrameStats
	sessions sessionTable

	sceneMu     sync.Mutex
	sceneData   []byte
	sceneWriter *scene.Writer
	sceneWarned atomic.Bool

	added   chan *session
	folds   chan fold
	running atomic.Bool

	// receivers tracks per-session receive goroutines; sends tracks
	// in-flight asynchronous sends.
	receivers sync.WaitGroup
	sends     sync.WaitGroup
}

// New creates a client. It does not contact any server until Run.
//
// Parameters:
//   - cfg: Runtime parameters (see DefaultConfig and FromFile)
//   - finder: Source of render server assignments
//   - opts: Optional overrides
//
// Returns:
//   - *Client: The client, ready to Run
//   - error: If the configuration is unusable
func New(cfg Config, finder discovery.Finder, opts ...Option) (*Client, error) {
	if finder == nil {
		return nil, fmt.Errorf("%w: finder is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:      cfg,
		finder:      finder,
		id:          uuid.New(),
		clock:       av.DefaultTimeProvider{},
		dial:        dialTransport,
		newDecoder:  video.ZlibDecoderFactory(),
		sceneData:   make([]byte, 0, 4096),
		sceneWriter: scene.NewWriter(4096),
		added:       make(chan *session),
		folds:       make(chan fold, cfg.Delay.RingCapacity+1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = av.GetTimeProvider(c.clock)

	var err error
	c.ring, err = av.NewFrameRing(cfg.Delay.RingCapacity, cfg.Resolution.RGBBytes())
	if err != nil {
		return nil, err
	}
	c.delay, err = av.NewDelayController(cfg.Delay)
	if err != nil {
		return nil, err
	}
	c.delay.OnDelayChange(func(d time.Duration) {
		c.metrics.SetDelay(float64(d.Milliseconds()))
	})
	c.display = av.NewDisplayBuffer(cfg.Resolution.RGBBytes())
	c.metrics.SetDelay(float64(c.delay.Delay().Milliseconds()))

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"client_id":  c.id.String(),
		"resolution": cfg.Resolution.String(),
		"frame_rate": cfg.Delay.FrameRate,
		"buffer":     cfg.Delay.RingCapacity,
		"delay":      c.delay.Delay(),
	}).Info("Client created")

	return c, nil
}

// Run drives the client until ctx is cancelled, then closes every session.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.discoveryLoop(gctx) })
	g.Go(func() error { return c.sendLoop(gctx) })
	g.Go(func() error { return c.foldLoop(gctx) })
	g.Go(func() error { return c.controlLoop(gctx) })
	g.Go(func() error { return c.statsLoop(gctx) })

	err := g.Wait()
	c.sends.Wait()
	c.receivers.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Client.Run",
	}).Info("Client stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// SetScene stores a serialized snapshot to send with the following frame
// requests. An empty snapshot pauses requests.
func (c *Client) SetScene(data []byte) error {
	if len(data) > limits.MaxSceneSnapshot {
		return fmt.Errorf("%w: scene size %d exceeds limit %d", limits.ErrMessageTooLarge, len(data), limits.MaxSceneSnapshot)
	}
	c.sceneMu.Lock()
	c.sceneData = append(c.sceneData[:0], data...)
	c.sceneMu.Unlock()
	return nil
}

// CaptureScene serializes the current scene through s. When s reports
// nothing to send, or fails, requests pause until the next capture.
func (c *Client) CaptureScene(s scene.Serializer) bool {
	c.sceneMu.Lock()
	defer c.sceneMu.Unlock()

	c.sceneWriter.Reset()
	ok := s.SerializeScene(c.sceneWriter)
	if err := c.sceneWriter.Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.CaptureScene",
			"error":    err.Error(),
		}).Warn("Scene serialization failed")
		ok = false
	}
	if !ok {
		c.sceneData = c.sceneData[:0]
		return false
	}
	c.sceneData = append(c.sceneData[:0], c.sceneWriter.Bytes()...)
	return true
}

// buildRequest marshals a frame request carrying the current scene. It
// returns nil when there is no scene.
func (c *Client) buildRequest(sessionID, seq int32) ([]byte, error) {
	c.sceneMu.Lock()
	defer c.sceneMu.Unlock()

	if len(c.sceneData) == 0 {
		return nil, nil
	}
	req := transport.FrameRequest{SessionID: sessionID, FrameSeq: seq, Scene: c.sceneData}
	return req.Marshal()
}

func (c *Client) hasScene() bool {
	c.sceneMu.Lock()
	defer c.sceneMu.Unlock()
	return len(c.sceneData) > 0
}

// TakeFrame copies the newest displayed RGB24 picture into dst if a new one
// arrived since the last call.
func (c *Client) TakeFrame(dst []byte) bool {
	return c.display.Take(dst)
}

// FramesDisplayed returns the number of pictures handed to the display.
func (c *Client) FramesDisplayed() uint64 {
	return c.display.Published()
}

// FrameBytes returns the size of one displayed picture.
func (c *Client) FrameBytes() int {
	return c.config.Resolution.RGBBytes()
}

// Delay returns the current display delay.
func (c *Client) Delay() time.Duration {
	return c.delay.Delay()
}

// ActiveSessions returns the number of open sessions.
func (c *Client) ActiveSessions() int {
	return c.sessions.len()
}

// ID returns the client id sent to the scheduler.
func (c *Client) ID() uuid.UUID {
	return c.id
}
