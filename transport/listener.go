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
	"golang.org/x/sync/errgroup"
)

// peer is the per-endpoint reassembly state of a listener.
type peer struct {
	reassembler *Reassembler
	lastSeen    time.Time
}

// Listener is the server side of the render transport: an unconnected UDP
// socket that reassembles messages from any number of clients and writes
// queued responses back to them.
//
// Each remote endpoint gets exactly one Reassembler. The table is owned by the
// receive goroutine and needs no locking.
type Listener struct {
	conn *net.UDPConn
	cfg  ListenerConfig

	peers     map[string]*peer
	lastPrune time.Time

	requests  chan Request
	sendQueue chan Response
	stats     counters

	closeOnce sync.Once
	closeErr  error
}

// Listen binds a UDP socket on addr.
//
// Parameters:
//   - ctx: Context for the bind operation
//   - addr: Listen address such as ":19000"
//   - cfg: Listener configuration (zero values take defaults)
//
// Returns:
//   - *Listener: A bound listener; call Run to start processing
//   - error: If the MTU is invalid or the bind fails
func Listen(ctx context.Context, addr string, cfg ListenerConfig) (*Listener, error) {
	cfg.applyDefaults()
	if err := limits.ValidateMTU(cfg.MTU); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("listen %s: unexpected socket type %T", addr, pc)
	}
	cfg.QoS.Apply(conn)

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"addr":     conn.LocalAddr().String(),
		"mtu":      cfg.MTU,
	}).Info("Transport listener bound")

	return &Listener{
		conn:      conn,
		cfg:       cfg,
		peers:     make(map[string]*peer),
		requests:  make(chan Request, cfg.RequestQueueSize),
		sendQueue: make(chan Response, cfg.SendQueueSize),
	}, nil
}

// Run processes inbound datagrams and outbound responses until ctx is
// cancelled or the listener is closed. The Requests channel is closed when Run
// returns.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.requests)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.receiveLoop(gctx) })
	g.Go(func() error { return l.sendLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Requests returns the channel of completed inbound messages.
func (l *Listener) Requests() <-chan Request {
	return l.requests
}

// Enqueue hands a response to the send goroutine without blocking.
//
// Returns:
//   - error: ErrQueueFull when the send queue has no room (the response is dropped)
func (l *Listener) Enqueue(resp Response) error {
	select {
	case l.sendQueue <- resp:
		return nil
	default:
		l.stats.droppedMessages.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Listener.Enqueue",
			"remote":   resp.Remote.String(),
			"size":     len(resp.Data),
		}).Warn("Send queue full, dropping response")
		return ErrQueueFull
	}
}

// LocalAddr returns the bound address.
func (l *Listener) LocalAddr() *net.UDPAddr {
	addr, _ := l.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Stats returns a snapshot of listener counters.
func (l *Listener) Stats() Stats {
	return l.stats.snapshot()
}

// Close closes the socket, which also ends Run. Safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}

func (l *Listener) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, limits.ReadBufferSize)
	l.lastPrune = time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.pruneIdle(time.Now())

		_ = l.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, remote, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrSessionClosed
			}
			logrus.WithFields(logrus.Fields{
				"function": "Listener.receiveLoop",
				"error":    err.Error(),
			}).Debug("Transient receive error")
			continue
		}

		l.processDatagram(ctx, buffer[:n], remote)
	}
}

func (l *Listener) processDatagram(ctx context.Context, datagram []byte, remote *net.UDPAddr) {
	l.stats.datagramsIn.Add(1)
	l.stats.bytesIn.Add(uint64(len(datagram)))

	key := remote.String()
	p, ok := l.peers[key]
	if !ok {
		p = &peer{reassembler: NewReassembler(l.cfg.ReassemblyBuffer)}
		l.peers[key] = p
		logrus.WithFields(logrus.Fields{
			"function": "Listener.processDatagram",
			"remote":   key,
		}).Debug("New remote endpoint")
	}
	p.lastSeen = time.Now()

	message, err := p.reassembler.Push(datagram)
	if err != nil {
		l.stats.overflowResets.Add(1)
		return
	}
	if message == nil {
		return
	}
	l.stats.messagesIn.Add(1)

	select {
	case l.requests <- Request{Remote: remote, Data: message}:
	case <-ctx.Done():
	default:
		l.stats.droppedMessages.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Listener.processDatagram",
			"remote":   key,
			"size":     len(message),
		}).Warn("Request queue full, dropping message")
	}
}

// pruneIdle forgets reassemblers of endpoints that have been silent for the
// configured idle timeout. It runs at most twice per timeout period.
func (l *Listener) pruneIdle(now time.Time) {
	if now.Sub(l.lastPrune) < l.cfg.ReassemblyIdleTimeout/2 {
		return
	}
	l.lastPrune = now

	for key, p := range l.peers {
		if now.Sub(p.lastSeen) >= l.cfg.ReassemblyIdleTimeout {
			delete(l.peers, key)
			logrus.WithFields(logrus.Fields{
				"function": "Listener.pruneIdle",
				"remote":   key,
			}).Debug("Pruned idle reassembler")
		}
	}
}

func (l *Listener) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp := <-l.sendQueue:
			l.send(resp)
		}
	}
}

func (l *Listener) send(resp Response) {
	remote := resp.Remote
	write := l.stats.countingWriter(func(datagram []byte) (int, error) {
		return l.conn.WriteToUDP(datagram, remote)
	})

	if err := WriteFragments(resp.Data, l.cfg.MTU, write); err != nil {
		l.stats.sendErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Listener.send",
			"remote":   remote.String(),
			"size":     len(resp.Data),
			"error":    err.Error(),
		}).Warn("Failed to send response")
		return
	}
	l.stats.messagesOut.Add(1)
}
