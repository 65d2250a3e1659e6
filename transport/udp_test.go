package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startListener(t *testing.T, cfg ListenerConfig) (*Listener, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	l, err := Listen(ctx, "127.0.0.1:0", cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, l.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		_ = l.Close()
		<-done
	})
	return l, cancel
}

func TestSessionListenerLoopback(t *testing.T) {
	lcfg := DefaultListenerConfig()
	lcfg.MTU = 64
	l, _ := startListener(t, lcfg)

	scfg := DefaultSessionConfig()
	scfg.MTU = 64
	sess, err := Dial(context.Background(), l.LocalAddr(), scfg)
	require.NoError(t, err)
	defer sess.Close()

	payload := patternPayload(1000)
	require.NoError(t, sess.Send(context.Background(), payload))

	var req Request
	select {
	case req = <-l.Requests():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not receive the message")
	}
	assert.Equal(t, payload, req.Data)

	reply := patternPayload(300)
	require.NoError(t, l.Enqueue(Response{Remote: req.Remote, Data: reply}))

	select {
	case msg := <-sess.Messages():
		assert.Equal(t, reply, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not receive the reply")
	}

	stats := sess.Stats()
	assert.Equal(t, uint64(1), stats.MessagesOut)
	assert.Equal(t, uint64(16), stats.DatagramsOut)
	assert.Equal(t, uint64(1), stats.MessagesIn)
}

func TestSessionDropsWhenInboundQueueFull(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	cfg := DefaultSessionConfig()
	cfg.InboundQueueSize = 1
	sess, err := Dial(context.Background(), server.LocalAddr().(*net.UDPAddr), cfg)
	require.NoError(t, err)
	defer sess.Close()

	clientAddr := sess.LocalAddr().(*net.UDPAddr)
	for i := 0; i < 3; i++ {
		_, err := server.WriteToUDP([]byte{0x03, byte(i)}, clientAddr)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return sess.Stats().DroppedMessages == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, uint64(3), sess.Stats().MessagesIn)
	assert.Equal(t, []byte{0}, <-sess.Messages())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer server.Close()

	sess, err := Dial(context.Background(), server.LocalAddr().(*net.UDPAddr), DefaultSessionConfig())
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	_ = sess.Close()

	_, open := <-sess.Messages()
	assert.False(t, open)
	assert.ErrorIs(t, sess.Send(context.Background(), []byte{1}), ErrSessionClosed)
}

func TestListenerEnqueueFull(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultListenerConfig()
	cfg.SendQueueSize = 1
	l, err := Listen(ctx, "127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer l.Close()

	// Run is not started, so nothing drains the queue.
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	require.NoError(t, l.Enqueue(Response{Remote: remote, Data: []byte{1}}))
	assert.ErrorIs(t, l.Enqueue(Response{Remote: remote, Data: []byte{2}}), ErrQueueFull)
	assert.Equal(t, uint64(1), l.Stats().DroppedMessages)
}

func TestListenerPrunesIdlePeers(t *testing.T) {
	cfg := DefaultListenerConfig()
	cfg.ReassemblyIdleTimeout = time.Second
	l, err := Listen(context.Background(), "127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer l.Close()

	now := time.Now()
	l.lastPrune = now
	l.peers["a"] = &peer{reassembler: NewReassembler(0), lastSeen: now}
	l.peers["b"] = &peer{reassembler: NewReassembler(0), lastSeen: now.Add(-2 * time.Second)}

	l.pruneIdle(now.Add(100 * time.Millisecond))
	assert.Len(t, l.peers, 2, "prune runs at most every half timeout")

	l.pruneIdle(now.Add(600 * time.Millisecond))
	assert.Len(t, l.peers, 1)
	assert.Contains(t, l.peers, "a")
}

func TestQoSEnabled(t *testing.T) {
	assert.False(t, QoS{}.Enabled())
	assert.True(t, QoS{DSCP: DSCPExpedited}.Enabled())
	assert.False(t, QoS{DSCP: 64}.Enabled())
}
