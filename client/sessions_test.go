package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rendercast/av"
)

// fakeConn records sent payloads and delivers whatever the test pushes.
type fakeConn struct {
	remote   *net.UDPAddr
	messages chan []byte

	mu     sync.Mutex
	sent   [][]byte
	closed atomic.Int32
	once   sync.Once
}

func newFakeConn(port int) *fakeConn {
	return &fakeConn{
		remote:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		messages: make(chan []byte, 8),
	}
}

func (f *fakeConn) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeConn) Messages() <-chan []byte { return f.messages }

func (f *fakeConn) RemoteAddr() *net.UDPAddr { return f.remote }

func (f *fakeConn) Close() error {
	f.closed.Add(1)
	f.once.Do(func() { close(f.messages) })
	return nil
}

func (f *fakeConn) payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

type nopDecoder struct {
	closed atomic.Int32
}

func (d *nopDecoder) Decode(_ []byte, out []byte) (bool, error) { return true, nil }

func (d *nopDecoder) Close() error {
	d.closed.Add(1)
	return nil
}

func TestSessionTableGenerations(t *testing.T) {
	var table sessionTable

	a := newSession(1, newFakeConn(1), &nopDecoder{}, healthTracker{})
	b := newSession(2, newFakeConn(2), &nopDecoder{}, healthTracker{})

	ha := table.add(a)
	hb := table.add(b)
	assert.True(t, ha.Valid())
	assert.NotEqual(t, ha, hb)
	assert.Equal(t, 2, table.len())
	assert.Same(t, a, table.get(ha))

	assert.Same(t, a, table.remove(ha))
	assert.Nil(t, table.get(ha), "removed handle no longer resolves")
	assert.Nil(t, table.remove(ha), "second remove is a no-op")
	assert.Equal(t, []*session{b}, table.list())

	c := newSession(3, newFakeConn(3), &nopDecoder{}, healthTracker{})
	hc := table.add(c)
	assert.Equal(t, ha.Index, hc.Index, "slot is reused")
	assert.NotEqual(t, ha.Generation, hc.Generation)
	assert.Nil(t, table.get(ha), "stale handle does not resolve to the new occupant")
	assert.Same(t, c, table.get(hc))

	assert.Nil(t, table.get(av.NoSession))
}

func TestSessionCloseOnce(t *testing.T) {
	conn := newFakeConn(1)
	dec := &nopDecoder{}
	s := newSession(1, conn, dec, healthTracker{})

	go func() {
		for range conn.Messages() {
		}
		close(s.done)
	}()

	s.close(true)
	s.close(true)
	assert.Equal(t, int32(1), conn.closed.Load())
	assert.Equal(t, int32(1), dec.closed.Load())
	assert.Equal(t, "127.0.0.1:1", s.remote())
}

func TestSessionCloseNotStarted(t *testing.T) {
	conn := newFakeConn(1)
	dec := &nopDecoder{}
	s := newSession(1, conn, dec, healthTracker{})

	s.close(false)
	require.Equal(t, int32(1), conn.closed.Load())
	assert.Equal(t, int32(1), dec.closed.Load())
}
