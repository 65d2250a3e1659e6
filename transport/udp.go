package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rendercast/limits"
	"github.com/sirupsen/logrus"
)

// Session is the client side of a render connection: a UDP socket connected to
// one render server. Outbound messages are fragmented onto the socket and
// inbound datagrams are reassembled by a background goroutine and delivered
// through Messages.
type Session struct {
	conn        *net.UDPConn
	remote      *net.UDPAddr
	mtu         int
	reassembler *Reassembler
	messages    chan []byte

	sendMu sync.Mutex
	stats  counters

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a connected UDP socket to remote and starts receiving.
//
// Parameters:
//   - ctx: Parent context; cancelling it stops the receive loop
//   - remote: Render server endpoint
//   - cfg: Session configuration (zero values take defaults)
//
// Returns:
//   - *Session: The running session
//   - error: If the MTU is invalid or the socket cannot be opened
func Dial(ctx context.Context, remote *net.UDPAddr, cfg SessionConfig) (*Session, error) {
	cfg.applyDefaults()
	if err := limits.ValidateMTU(cfg.MTU); err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("dial: nil remote address")
	}

	conn, err := net.DialUDP("udp", cfg.LocalAddr, remote)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", remote, err)
	}
	cfg.QoS.Apply(conn)

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:        conn,
		remote:      remote,
		mtu:         cfg.MTU,
		reassembler: NewReassembler(cfg.ReassemblyBuffer),
		messages:    make(chan []byte, cfg.InboundQueueSize),
		ctx:         sctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go s.receiveLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"remote":   remote.String(),
		"local":    conn.LocalAddr().String(),
		"mtu":      cfg.MTU,
	}).Info("Transport session opened")

	return s, nil
}

// Send fragments payload and writes every fragment to the remote endpoint.
// Concurrent calls are serialized so fragments of different messages never
// interleave on the wire.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	err := WriteFragments(payload, s.mtu, s.stats.countingWriter(s.conn.Write))
	if err != nil {
		s.stats.sendErrors.Add(1)
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return fmt.Errorf("send to %s: %w", s.remote, err)
	}
	s.stats.messagesOut.Add(1)
	return nil
}

// Messages returns the channel of completed inbound messages. It is closed
// once the session is closed.
func (s *Session) Messages() <-chan []byte {
	return s.messages
}

// RemoteAddr returns the render server endpoint.
func (s *Session) RemoteAddr() *net.UDPAddr {
	return s.remote
}

// LocalAddr returns the local socket address.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

// Close stops the receive loop, closes the socket and then the message
// channel. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.conn.Close()
		<-s.done
		close(s.messages)

		logrus.WithFields(logrus.Fields{
			"function": "Session.Close",
			"remote":   s.remote.String(),
		}).Info("Transport session closed")
	})
	return s.closeErr
}

// receiveLoop reads datagrams until the session is closed. The short read
// deadline lets the loop notice cancellation without closing the socket.
func (s *Session) receiveLoop() {
	defer close(s.done)
	buffer := make([]byte, limits.ReadBufferSize)

	for s.ctx.Err() == nil {
		_ = s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := s.conn.Read(buffer)
		if err != nil {
			if !s.handleReadError(err) {
				return
			}
			continue
		}
		s.processDatagram(buffer[:n])
	}
}

// handleReadError reports whether the loop should keep reading.
func (s *Session) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function": "Session.receiveLoop",
		"remote":   s.remote.String(),
		"error":    err.Error(),
	}).Debug("Transient receive error")

	// ICMP errors on a connected socket return immediately; avoid spinning.
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(10 * time.Millisecond):
		return true
	}
}

func (s *Session) processDatagram(datagram []byte) {
	s.stats.datagramsIn.Add(1)
	s.stats.bytesIn.Add(uint64(len(datagram)))

	message, err := s.reassembler.Push(datagram)
	if err != nil {
		s.stats.overflowResets.Add(1)
		return
	}
	if message == nil {
		return
	}
	s.stats.messagesIn.Add(1)

	select {
	case s.messages <- message:
	default:
		s.stats.droppedMessages.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Session.processDatagram",
			"remote":   s.remote.String(),
			"size":     len(message),
		}).Warn("Inbound queue full, dropping message")
	}
}
