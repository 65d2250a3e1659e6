package transport

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rendercast/limits"
)

// Default queue sizes and timings.
const (
	// DefaultInboundQueueSize bounds completed messages waiting on a client session.
	DefaultInboundQueueSize = 3
	// DefaultRequestQueueSize bounds completed requests waiting on a listener.
	DefaultRequestQueueSize = 16
	// DefaultSendQueueSize bounds responses waiting to be written by a listener.
	DefaultSendQueueSize = 16
	// DefaultReassemblyIdleTimeout is how long an idle per-peer reassembler is kept.
	DefaultReassemblyIdleTimeout = 30 * time.Second

	// readPollInterval is the receive deadline used so loops observe cancellation.
	readPollInterval = 100 * time.Millisecond
)

// SessionConfig configures a client-side transport session.
type SessionConfig struct {
	// MTU is the maximum fragment payload in bytes, excluding the header.
	MTU int
	// InboundQueueSize bounds completed messages awaiting the consumer.
	InboundQueueSize int
	// ReassemblyBuffer caps the size of a reassembled message.
	ReassemblyBuffer int
	// QoS optionally marks outbound datagrams.
	QoS QoS
	// LocalAddr binds the socket to a specific local address when set.
	LocalAddr *net.UDPAddr
}

// DefaultSessionConfig returns a SessionConfig with production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MTU:              limits.DefaultMTU,
		InboundQueueSize: DefaultInboundQueueSize,
		ReassemblyBuffer: limits.MaxReassemblyBuffer,
	}
}

func (c *SessionConfig) applyDefaults() {
	if c.MTU == 0 {
		c.MTU = limits.DefaultMTU
	}
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = DefaultInboundQueueSize
	}
	if c.ReassemblyBuffer <= 0 {
		c.ReassemblyBuffer = limits.MaxReassemblyBuffer
	}
}

// ListenerConfig configures a server-side listener.
type ListenerConfig struct {
	MTU                   int
	RequestQueueSize      int
	SendQueueSize         int
	ReassemblyBuffer      int
	ReassemblyIdleTimeout time.Duration
	QoS                   QoS
}

// DefaultListenerConfig returns a ListenerConfig with production defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		MTU:                   limits.DefaultMTU,
		RequestQueueSize:      DefaultRequestQueueSize,
		SendQueueSize:         DefaultSendQueueSize,
		ReassemblyBuffer:      limits.MaxReassemblyBuffer,
		ReassemblyIdleTimeout: DefaultReassemblyIdleTimeout,
	}
}

func (c *ListenerConfig) applyDefaults() {
	d := DefaultListenerConfig()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.RequestQueueSize <= 0 {
		c.RequestQueueSize = d.RequestQueueSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.ReassemblyBuffer <= 0 {
		c.ReassemblyBuffer = d.ReassemblyBuffer
	}
	if c.ReassemblyIdleTimeout <= 0 {
		c.ReassemblyIdleTimeout = d.ReassemblyIdleTimeout
	}
}

// Request is a complete message received by a listener.
type Request struct {
	Remote *net.UDPAddr
	Data   []byte
}

// Response is a message queued for transmission by a listener.
type Response struct {
	Remote *net.UDPAddr
	Data   []byte
}

// Stats is a point-in-time copy of transport counters.
type Stats struct {
	DatagramsIn     uint64
	DatagramsOut    uint64
	BytesIn         uint64
	BytesOut        uint64
	MessagesIn      uint64
	MessagesOut     uint64
	DroppedMessages uint64
	OverflowResets  uint64
	SendErrors      uint64
}

// counters holds live transport counters updated from several goroutines.
type counters struct {
	datagramsIn     atomic.Uint64
	datagramsOut    atomic.Uint64
	bytesIn         atomic.Uint64
	bytesOut        atomic.Uint64
	messagesIn      atomic.Uint64
	messagesOut     atomic.Uint64
	droppedMessages atomic.Uint64
	overflowResets  atomic.Uint64
	sendErrors      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		DatagramsIn:     c.datagramsIn.Load(),
		DatagramsOut:    c.datagramsOut.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		MessagesIn:      c.messagesIn.Load(),
		MessagesOut:     c.messagesOut.Load(),
		DroppedMessages: c.droppedMessages.Load(),
		OverflowResets:  c.overflowResets.Load(),
		SendErrors:      c.sendErrors.Load(),
	}
}

// countingWriter wraps a datagram write function so every successful write is counted.
func (c *counters) countingWriter(write func([]byte) (int, error)) func([]byte) (int, error) {
	return func(datagram []byte) (int, error) {
		n, err := write(datagram)
		if n > 0 {
			c.datagramsOut.Add(1)
			c.bytesOut.Add(uint64(n))
		}
		return n, err
	}
}
