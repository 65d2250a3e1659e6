package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/discovery"
	"github.com/opd-ai/rendercast/limits"
	"github.com/opd-ai/rendercast/scene"
	"github.com/opd-ai/rendercast/transport"
)

// stubFinder hands out the queued assignments and then reports no server.
type stubFinder struct {
	mu          sync.Mutex
	assignments []discovery.Assignment
	requests    []discovery.Request
	excluded    []string
}

func (f *stubFinder) FindServer(_ context.Context, req discovery.Request) (discovery.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.assignments) == 0 {
		return discovery.Assignment{}, discovery.ErrNoServer
	}
	a := f.assignments[0]
	f.assignments = f.assignments[1:]
	return a, nil
}

func (f *stubFinder) Exclude(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excluded = append(f.excluded, addr)
}

func (f *stubFinder) excludedAddrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.excluded...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Resolution = video.Resolution{Width: 8, Height: 4}
	cfg.RequestPeriod = 20 * time.Millisecond
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.StatsPeriod = 50 * time.Millisecond
	return cfg
}

func testScene(t *testing.T) []byte {
	t.Helper()
	snap := scene.Snapshot{Objects: []scene.Entry{
		{ID: 1, Object: &scene.Mesh{ConfigID: 2}},
	}}
	data, err := snap.Marshal()
	require.NoError(t, err)
	return data
}

func solidResponse(res video.Resolution, seq int32, r, g, b byte) ([]byte, error) {
	enc, err := video.NewZlibEncoder(res.Width, res.Height, 1, 1)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	rgba := make([]byte, res.RGBABytes())
	for i := 0; i < len(rgba); i += 4 {
		rgba[i], rgba[i+1], rgba[i+2], rgba[i+3] = r, g, b, 255
	}
	payload, err := enc.Encode(rgba)
	if err != nil {
		return nil, err
	}

	resp := transport.FrameResponse{FrameSeq: seq, Payload: payload}
	return resp.Marshal()
}

func encodeSolid(t *testing.T, res video.Resolution, seq int32, r, g, b byte) []byte {
	t.Helper()
	data, err := solidResponse(res, seq, r, g, b)
	require.NoError(t, err)
	return data
}

func TestNewValidation(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := testConfig()
	cfg.TargetServerCount = 0
	_, err = New(cfg, &stubFinder{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.SessionHistoryLength = 65
	_, err = New(cfg, &stubFinder{})
	assert.ErrorIs(t, err, av.ErrInvalidHistoryLength)

	cfg = testConfig()
	cfg.Delay.FrameRate = 0
	_, err = New(cfg, &stubFinder{})
	assert.Error(t, err)

	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)
	assert.Equal(t, c.config.Delay.TickInterval(), c.config.HealthCheckPeriod)
	assert.Equal(t, c.config.Delay.InitialDelay(), c.Delay())
	assert.Equal(t, 8*4*3, c.FrameBytes())
}

func TestSceneCapture(t *testing.T) {
	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)
	assert.False(t, c.hasScene())

	snap := &scene.Snapshot{}
	assert.True(t, c.CaptureScene(snap))
	assert.True(t, c.hasScene())

	assert.False(t, c.CaptureScene(scene.SerializerFunc(func(*scene.Writer) bool { return false })))
	assert.False(t, c.hasScene(), "a declined capture pauses requests")

	require.NoError(t, c.SetScene([]byte{1, 2, 3}))
	assert.True(t, c.hasScene())

	err = c.SetScene(make([]byte, limits.MaxSceneSnapshot+1))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

// TestIssueReceiveFold drives one frame through the send, receive and fold
// steps without the loops.
func TestIssueReceiveFold(t *testing.T) {
	cfg := testConfig()
	c, err := New(cfg, &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	conn := newFakeConn(9000)
	dec, err := video.NewZlibDecoder(cfg.Resolution.Width, cfg.Resolution.Height)
	require.NoError(t, err)
	s := newSession(42, conn, dec, newHealthTracker(cfg.TimeToKill, cfg.OnTimeRateRequirement))
	c.sessions.add(s)

	ctx := context.Background()
	cursor := -1
	c.issue(ctx, &cursor)
	c.sends.Wait()

	sent := conn.payloads()
	require.Len(t, sent, 1)
	req, err := transport.ParseFrameRequest(sent[0])
	require.NoError(t, err)
	assert.Equal(t, int32(42), req.SessionID)
	assert.Equal(t, int32(0), req.FrameSeq)
	assert.Equal(t, testScene(t), req.Scene)

	f := <-c.folds
	assert.Equal(t, s.handle, f.handle)
	assert.Equal(t, av.FramePending, c.ring.State(0))

	c.handleResponse(s, encodeSolid(t, cfg.Resolution, 0, 10, 20, 30))
	assert.Equal(t, av.FrameReady, c.ring.State(0))

	c.foldFrame(f)
	assert.Equal(t, uint64(1), c.FramesDisplayed())

	frame := make([]byte, c.FrameBytes())
	require.True(t, c.TakeFrame(frame))
	assert.Equal(t, []byte{10, 20, 30}, frame[:3])
	assert.False(t, c.TakeFrame(frame), "frame is taken once")

	latency, ok := s.latency.AverageAndReset()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
	assert.Equal(t, ^uint64(0), s.success.Bits())
}

func TestIssueSkipsWithoutSessionOrScene(t *testing.T) {
	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)

	cursor := -1
	c.issue(context.Background(), &cursor)
	assert.Equal(t, uint64(1), c.stats.Report(time.Second, nil).FramesSkipped)

	var logs bytes.Buffer
	logrus.SetOutput(&logs)
	defer logrus.SetOutput(os.Stderr)

	conn := newFakeConn(9000)
	c.sessions.add(newSession(1, conn, &nopDecoder{}, healthTracker{}))
	c.issue(context.Background(), &cursor)
	c.issue(context.Background(), &cursor)
	assert.Empty(t, conn.payloads(), "no scene, no request")
	assert.Len(t, c.folds, 0)
	assert.Equal(t, uint64(2), c.stats.Report(time.Second, nil).FramesSkipped)
	assert.Equal(t, 1, strings.Count(logs.String(), "Scene snapshot not yet produced"), "warned once")
}

func TestIssueDropsWhileSending(t *testing.T) {
	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	conn := newFakeConn(9000)
	s := newSession(1, conn, &nopDecoder{}, healthTracker{})
	c.sessions.add(s)
	s.sending.Store(true)

	cursor := -1
	c.issue(context.Background(), &cursor)
	c.sends.Wait()
	assert.Empty(t, conn.payloads())
	assert.Equal(t, av.FrameIdle, c.ring.State(0))
}

func TestIssueKeepsUnfoldedFrame(t *testing.T) {
	cfg := testConfig()
	c, err := New(cfg, &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	conn := newFakeConn(9000)
	dec, err := video.NewZlibDecoder(cfg.Resolution.Width, cfg.Resolution.Height)
	require.NoError(t, err)
	s := newSession(1, conn, dec, healthTracker{})
	c.sessions.add(s)

	cursor := -1
	c.issue(context.Background(), &cursor)
	c.sends.Wait()
	c.handleResponse(s, encodeSolid(t, cfg.Resolution, 0, 40, 50, 60))
	require.Equal(t, av.FrameReady, c.ring.State(0))

	// Fill the ring without folding; the next tick wraps onto slot 0.
	for i := 1; i <= c.ring.Capacity(); i++ {
		c.issue(context.Background(), &cursor)
		c.sends.Wait()
	}
	assert.Len(t, conn.payloads(), c.ring.Capacity(), "no request while the slot is held")
	assert.Len(t, c.folds, c.ring.Capacity())
	assert.Equal(t, av.FrameReady, c.ring.State(0))

	c.foldFrame(<-c.folds)
	assert.Equal(t, uint64(1), c.FramesDisplayed())
	frame := make([]byte, c.FrameBytes())
	require.True(t, c.TakeFrame(frame))
	assert.Equal(t, []byte{40, 50, 60}, frame[:3])
	assert.Equal(t, ^uint64(0), s.onTime.Bits())
}

func TestRoundRobin(t *testing.T) {
	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	a, b := newFakeConn(1), newFakeConn(2)
	c.sessions.add(newSession(1, a, &nopDecoder{}, healthTracker{}))
	c.sessions.add(newSession(2, b, &nopDecoder{}, healthTracker{}))

	cursor := -1
	for i := 0; i < 4; i++ {
		c.issue(context.Background(), &cursor)
		c.sends.Wait()
		<-c.folds
	}
	assert.Len(t, a.payloads(), 2)
	assert.Len(t, b.payloads(), 2)
}

func TestResponseClassification(t *testing.T) {
	cfg := testConfig()
	c, err := New(cfg, &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	conn := newFakeConn(9000)
	dec, err := video.NewZlibDecoder(cfg.Resolution.Width, cfg.Resolution.Height)
	require.NoError(t, err)
	s := newSession(1, conn, dec, healthTracker{})
	c.sessions.add(s)

	cursor := -1
	c.issue(context.Background(), &cursor)
	c.sends.Wait()
	f := <-c.folds

	c.handleResponse(s, encodeSolid(t, cfg.Resolution, 100, 1, 1, 1))
	assert.Equal(t, ^uint64(0), s.success.Bits(), "out of window is not recorded")

	c.handleResponse(s, []byte{0, 0})
	assert.Equal(t, av.FramePending, c.ring.State(0), "short response is ignored")

	c.handleResponse(s, []byte{0, 0, 0, 0, 0xFF})
	assert.Equal(t, av.FrameFailed, c.ring.State(0))
	assert.Equal(t, ^uint64(1), s.success.Bits(), "decode failure is recorded")

	c.foldFrame(f)
	assert.Equal(t, uint64(0), c.FramesDisplayed())
	assert.Equal(t, ^uint64(0), s.onTime.Bits(), "failed frames still arrived in time")

	c.handleResponse(s, encodeSolid(t, cfg.Resolution, 0, 1, 1, 1))
	assert.Equal(t, ^uint64(1), s.success.Bits(), "late response is not recorded")
}

func TestFoldPendingIsLate(t *testing.T) {
	c, err := New(testConfig(), &stubFinder{})
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	s := newSession(1, newFakeConn(1), &nopDecoder{}, healthTracker{})
	c.sessions.add(s)

	cursor := -1
	c.issue(context.Background(), &cursor)
	c.sends.Wait()
	c.foldFrame(<-c.folds)

	assert.Equal(t, ^uint64(1), s.onTime.Bits())
	assert.Equal(t, av.FrameIdle, c.ring.State(0))
}

func TestFormatReport(t *testing.T) {
	line := formatReport(av.StatsReport{
		FPS:           29.5,
		Delay:         83 * time.Millisecond,
		UploadKBps:    12,
		DownloadKBps:  340,
		OnTimeRate:    0.975,
		AverageDecode: 1500 * time.Microsecond,
	})
	assert.Equal(t, "FPS 29.5 | Delay 83ms | Upload 12KB/s | Download 340KB/s | OnTime 97.5% | Decode 1.50ms", line)
}

func TestRunEvictsSilentServer(t *testing.T) {
	cfg := testConfig()
	cfg.SessionHistoryLength = 8
	cfg.TimeToKill = 50 * time.Millisecond
	cfg.HealthCheckPeriod = 10 * time.Millisecond

	conn := newFakeConn(9100)
	finder := &stubFinder{assignments: []discovery.Assignment{{Host: "127.0.0.1", Port: 9100, SessionID: 5}}}
	dial := func(context.Context, *net.UDPAddr, transport.SessionConfig) (Conn, error) {
		return conn, nil
	}

	start := time.Unix(1000, 0)
	clock := av.NewMockTimeProvider(start)
	c, err := New(cfg, finder, WithDialer(dial), WithTimeProvider(clock), WithDecoderFactory(func(int, int) (video.Decoder, error) {
		return &nopDecoder{}, nil
	}))
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(finder.excludedAddrs()) == 1 && c.ActiveSessions() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"127.0.0.1:9100"}, finder.excludedAddrs())

	// Discovery, send, control and stats tickers.
	require.Eventually(t, func() bool { return clock.Waiters() >= 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, c.ActiveSessions(), "no time has passed")

	step := cfg.Delay.TickInterval()
	require.Eventually(t, func() bool {
		if conn.closed.Load() == 1 {
			return true
		}
		clock.Advance(step)
		return false
	}, 5*time.Second, 2*time.Millisecond, "server that never answers is evicted")
	assert.Equal(t, 0, c.ActiveSessions())
	assert.GreaterOrEqual(t, clock.Now().Sub(start), cfg.TimeToKill)
	assert.NotEmpty(t, conn.payloads())

	assert.ErrorIs(t, c.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, int32(1), conn.closed.Load())
}

func TestRunLoopback(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.MTU = 64

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lcfg := transport.DefaultListenerConfig()
	lcfg.MTU = 64
	l, err := transport.Listen(ctx, "127.0.0.1:0", lcfg)
	require.NoError(t, err)
	defer l.Close()
	go func() { _ = l.Run(ctx) }()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-l.Requests():
				frame, err := transport.ParseFrameRequest(req.Data)
				if err != nil || frame.SessionID != 3 {
					continue
				}
				data, err := solidResponse(cfg.Resolution, frame.FrameSeq, 200, 100, 50)
				if err != nil {
					return
				}
				if err := l.Enqueue(transport.Response{Remote: req.Remote, Data: data}); err != nil && !errors.Is(err, transport.ErrQueueFull) {
					return
				}
			}
		}
	}()

	finder := &stubFinder{assignments: []discovery.Assignment{
		{Host: "127.0.0.1", Port: l.LocalAddr().Port, SessionID: 3},
	}}
	c, err := New(cfg, finder)
	require.NoError(t, err)
	require.NoError(t, c.SetScene(testScene(t)))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.FramesDisplayed() >= 5
	}, 5*time.Second, 10*time.Millisecond)

	frame := make([]byte, c.FrameBytes())
	require.True(t, c.TakeFrame(frame))
	assert.Equal(t, []byte{200, 100, 50}, frame[:3])
	assert.Equal(t, 1, c.ActiveSessions())

	finder.mu.Lock()
	require.NotEmpty(t, finder.requests)
	assert.Equal(t, c.ID(), finder.requests[0].ClientID)
	assert.Equal(t, int32(8), finder.requests[0].Width)
	finder.mu.Unlock()

	line := c.formatSession(c.sessions.list()[0])
	assert.True(t, strings.HasPrefix(line, " <127.0.0.1:"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.Equal(t, 0, c.ActiveSessions())
}
