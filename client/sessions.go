package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendercast/av"
	"github.com/opd-ai/rendercast/av/video"
	"github.com/opd-ai/rendercast/transport"
)

// Conn is the datagram session to one render server. Close must close the
// channel returned by Messages.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Messages() <-chan []byte
	RemoteAddr() *net.UDPAddr
	Close() error
}

// DialFunc opens a Conn to remote.
type DialFunc func(ctx context.Context, remote *net.UDPAddr, cfg transport.SessionConfig) (Conn, error)

func dialTransport(ctx context.Context, remote *net.UDPAddr, cfg transport.SessionConfig) (Conn, error) {
	s, err := transport.Dial(ctx, remote, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// session is one open render server session.
type session struct {
	handle  av.SessionHandle
	id      int32
	conn    Conn
	decoder video.Decoder

	sending atomic.Bool
	onTime  *av.DeliveryHistory
	success *av.DeliveryHistory
	latency av.LatencyAverager

	// health is owned by the control loop.
	health healthTracker

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id int32, conn Conn, decoder video.Decoder, health healthTracker) *session {
	return &session{
		id:      id,
		conn:    conn,
		decoder: decoder,
		onTime:  av.NewDeliveryHistory(),
		success: av.NewDeliveryHistory(),
		health:  health,
		done:    make(chan struct{}),
	}
}

// remote returns the server endpoint for logs and exclusion.
func (s *session) remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// close releases the transport, waits for the receive goroutine and then
// releases the decoder. Safe to call more than once.
func (s *session) close(started bool) {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.close",
				"server":   s.remote(),
				"error":    err.Error(),
			}).Warn("Failed to close transport")
		}
		if started {
			<-s.done
		}
		if err := s.decoder.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "session.close",
				"server":   s.remote(),
				"error":    err.Error(),
			}).Warn("Failed to close decoder")
		}
	})
}

type arenaSlot struct {
	generation uint32
	session    *session
}

// sessionTable is a generational arena of sessions. Handles held by ring
// slots stay valid to compare but resolve to nil once their session is
// removed. The control loop is the only writer.
type sessionTable struct {
	mu     sync.RWMutex
	slots  []arenaSlot
	free   []uint32
	active []*session
}

// add stores s and assigns its handle.
func (t *sessionTable) add(s *session) av.SessionHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, arenaSlot{})
	}

	slot := &t.slots[index]
	slot.generation++
	slot.session = s
	s.handle = av.SessionHandle{Index: index, Generation: slot.generation}
	t.active = append(t.active, s)
	return s.handle
}

// remove drops the session for h and returns it, or nil if h is stale.
func (t *sessionTable) remove(h av.SessionHandle) *session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.lookup(h)
	if s == nil {
		return nil
	}
	t.slots[h.Index].session = nil
	t.free = append(t.free, h.Index)
	for i, a := range t.active {
		if a == s {
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
	return s
}

// get resolves h.
func (t *sessionTable) get(h av.SessionHandle) *session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(h)
}

func (t *sessionTable) lookup(h av.SessionHandle) *session {
	if !h.Valid() || int(h.Index) >= len(t.slots) {
		return nil
	}
	slot := t.slots[h.Index]
	if slot.generation != h.Generation {
		return nil
	}
	return slot.session
}

// list returns the active sessions in insertion order.
func (t *sessionTable) list() []*session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*session(nil), t.active...)
}

// len returns the number of active sessions.
func (t *sessionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}
